// Package controller is the Autonomous Session Controller (component I):
// the top-level FSM that drains a work queue of stories, spawning one
// agentloop.Runner per item, routing its outcome through the Decision
// Engine, Stuck Detector, Recovery Selector, and Code-Review Coordinator,
// and persisting an AutonomousSession row after every transition so the
// whole run can be resumed after a process restart.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/sync/errgroup"

	"github.com/hanibalsk/orchestrate/pkg/agentloop"
	"github.com/hanibalsk/orchestrate/pkg/config"
	"github.com/hanibalsk/orchestrate/pkg/decision"
	"github.com/hanibalsk/orchestrate/pkg/errs"
	"github.com/hanibalsk/orchestrate/pkg/model"
	"github.com/hanibalsk/orchestrate/pkg/observability"
	"github.com/hanibalsk/orchestrate/pkg/recovery"
	"github.com/hanibalsk/orchestrate/pkg/review"
	"github.com/hanibalsk/orchestrate/pkg/store"
	"github.com/hanibalsk/orchestrate/pkg/stuck"
)

// SessionStateGraph is the fixed transition graph store.AutonomousSession.State
// must obey. Idle/Analyzing/Discovering/Planning/Executing/Reviewing/
// PrCreation/PrMonitoring/PrMerging/Completing form the main line;
// Paused and Blocked are reachable from every main-line state from Idle
// through PrMerging. Paused may return to any of those states; Blocked
// exits only to Idle or Done. Done is reachable from every non-terminal
// state.
var SessionStateGraph = map[store.SessionState][]store.SessionState{
	store.SessIdle:         {store.SessAnalyzing, store.SessDone, store.SessPaused, store.SessBlocked},
	store.SessAnalyzing:    {store.SessDiscovering, store.SessBlocked, store.SessPaused, store.SessDone},
	store.SessDiscovering:  {store.SessPlanning, store.SessBlocked, store.SessPaused, store.SessDone},
	store.SessPlanning:     {store.SessExecuting, store.SessBlocked, store.SessPaused, store.SessDone},
	store.SessExecuting:    {store.SessReviewing, store.SessPrCreation, store.SessPlanning, store.SessBlocked, store.SessPaused, store.SessDone},
	store.SessReviewing:    {store.SessPrCreation, store.SessPlanning, store.SessBlocked, store.SessPaused, store.SessDone},
	store.SessPrCreation:   {store.SessPrMonitoring, store.SessBlocked, store.SessPaused, store.SessDone},
	store.SessPrMonitoring: {store.SessPrMerging, store.SessBlocked, store.SessPaused, store.SessDone},
	store.SessPrMerging:    {store.SessCompleting, store.SessBlocked, store.SessPaused, store.SessDone},
	store.SessCompleting:   {store.SessIdle, store.SessDone},
	store.SessPaused:       {store.SessIdle, store.SessAnalyzing, store.SessDiscovering, store.SessPlanning, store.SessExecuting, store.SessReviewing, store.SessPrCreation, store.SessPrMonitoring, store.SessPrMerging, store.SessDone},
	store.SessBlocked:      {store.SessIdle, store.SessDone},
	store.SessDone:         {},
}

// CanTransition reports whether to is a legal next state from from.
func CanTransition(from, to store.SessionState) bool {
	for _, s := range SessionStateGraph[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Command is an operator instruction delivered to a running Controller.
// It is only acted on between iterations, never mid-agent-run.
type Command int

const (
	CmdPause Command = iota
	CmdResume
	CmdStop
)

// Controller drives one AutonomousSession's work queue from Idle to
// Done, spawning agents through a shared agentloop.Runner and recording
// every stuck/recovery/review decision to the Persistent Store.
type Controller struct {
	store    *store.Store
	runner   *agentloop.Runner
	stuckDet *stuck.Detector
	recover  *recovery.Selector
	review   *review.Coordinator
	decision *decision.Engine
	cfg      config.ControllerConfig
	logger   *slog.Logger
	tracer   observability.SpanRecorder
	events   observability.Recorder

	commands chan Command
	session  store.AutonomousSession
}

// New builds a Controller for a fresh or resumed AutonomousSession. If
// sessionID is non-empty and already exists in the store, its state is
// loaded and execution resumes from wherever it left off.
func New(st *store.Store, runner *agentloop.Runner, stuckDet *stuck.Detector, recoverSel *recovery.Selector, reviewCoord *review.Coordinator, decisionEngine *decision.Engine, cfg config.ControllerConfig, sessionID string) (*Controller, error) {
	c := &Controller{
		store:    st,
		runner:   runner,
		stuckDet: stuckDet,
		recover:  recoverSel,
		review:   reviewCoord,
		decision: decisionEngine,
		cfg:      cfg,
		logger:   slog.Default(),
		tracer:   observability.NoopTracer{},
		events:   observability.NoopRecorder{},
		commands: make(chan Command, max(cfg.CommandBufferSize, 1)),
	}

	if sessionID != "" {
		if sess, err := st.GetAutonomousSession(sessionID); err == nil {
			c.session = sess
			return c, nil
		}
	}

	c.session = store.AutonomousSession{
		ID:        uuid.NewString(),
		State:     store.SessIdle,
		StartedAt: time.Now(),
	}
	if err := st.SaveAutonomousSession(c.session); err != nil {
		return nil, fmt.Errorf("create autonomous session: %w", err)
	}
	return c, nil
}

// WithObservability attaches a span recorder and event recorder.
func (c *Controller) WithObservability(tracer observability.SpanRecorder, events observability.Recorder) *Controller {
	if tracer != nil {
		c.tracer = tracer
	}
	if events != nil {
		c.events = events
	}
	return c
}

// Session returns a snapshot of the controller's current session state.
func (c *Controller) Session() store.AutonomousSession {
	return c.session
}

// Enqueue appends a WorkItem to the session's work queue and persists it.
func (c *Controller) Enqueue(item store.WorkItem) error {
	c.session.WorkQueue = append(c.session.WorkQueue, item)
	return c.store.SaveAutonomousSession(c.session)
}

// Pause requests the controller suspend after its current iteration.
func (c *Controller) Pause() { c.send(CmdPause) }

// Resume requests a paused controller continue. The session returns to
// Idle and re-enters the pipeline for the head work item; the state it
// was paused in is not restored.
func (c *Controller) Resume() { c.send(CmdResume) }

// Stop requests the controller halt permanently (Done).
func (c *Controller) Stop() { c.send(CmdStop) }

func (c *Controller) send(cmd Command) {
	select {
	case c.commands <- cmd:
	default:
	}
}

// Run drives the session to Done (or Blocked), processing one command
// and, if not paused, one FSM step per iteration. It returns when the
// session reaches Done, Blocked, or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.commands:
			if err := c.applyCommand(cmd); err != nil {
				return err
			}
		default:
		}

		if c.session.State == store.SessDone {
			return nil
		}
		if c.session.State == store.SessPaused {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case cmd := <-c.commands:
				if err := c.applyCommand(cmd); err != nil {
					return err
				}
			}
			continue
		}
		if c.session.State == store.SessBlocked {
			return errs.New(errs.RecoveryExhaustion, "session blocked: needs human intervention")
		}

		if err := c.step(ctx); err != nil {
			return err
		}
	}
}

func (c *Controller) applyCommand(cmd Command) error {
	switch cmd {
	case CmdPause:
		if c.session.State == store.SessPaused || c.session.State == store.SessDone {
			return nil
		}
		return c.transition(c.session.State, store.SessPaused)
	case CmdResume:
		if c.session.State != store.SessPaused {
			return nil
		}
		return c.transition(store.SessPaused, store.SessIdle)
	case CmdStop:
		return c.transition(c.session.State, store.SessDone)
	default:
		return nil
	}
}

// step advances the FSM exactly one state, dispatching to the handler
// for the current state.
func (c *Controller) step(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, observability.SpanControllerIteration)
	defer span.End()

	switch c.session.State {
	case store.SessIdle:
		return c.stepIdle()
	case store.SessAnalyzing:
		return c.stepAnalyzing()
	case store.SessDiscovering:
		return c.transition(store.SessDiscovering, store.SessPlanning)
	case store.SessPlanning:
		return c.transition(store.SessPlanning, store.SessExecuting)
	case store.SessExecuting:
		return c.stepExecuting(ctx)
	case store.SessReviewing:
		return c.stepReviewing(ctx)
	case store.SessPrCreation:
		return c.transition(store.SessPrCreation, store.SessPrMonitoring)
	case store.SessPrMonitoring:
		return c.transition(store.SessPrMonitoring, store.SessPrMerging)
	case store.SessPrMerging:
		return c.transition(store.SessPrMerging, store.SessCompleting)
	case store.SessCompleting:
		return c.stepCompleting()
	default:
		c.tracer.RecordError(span, fmt.Errorf("no handler for session state %q", c.session.State))
		return errs.New(errs.InvariantViolation, fmt.Sprintf("no handler for session state %q", c.session.State))
	}
}

// stepIdle pops the next WorkItem, or finishes the session if the
// queue is empty.
func (c *Controller) stepIdle() error {
	if len(c.session.WorkQueue) == 0 {
		return c.transition(store.SessIdle, store.SessDone)
	}
	return c.transition(store.SessIdle, store.SessAnalyzing)
}

// stepAnalyzing validates the head WorkItem refers to a Story that
// actually exists. An unresolvable reference is recorded as a bypassed
// edge case and the item is dropped from the queue, returning to Idle,
// rather than crashing on a nil Story later in the pipeline.
func (c *Controller) stepAnalyzing() error {
	item := c.session.WorkQueue[0]
	if item.Kind == "story" {
		if _, err := c.store.GetStory(item.TargetID); err != nil {
			c.recordEdgeCase(item, "unknown_story_reference", store.ResolutionBypassed, "skipped: story not found")
			c.session.WorkQueue = c.session.WorkQueue[1:]
			return c.transition(store.SessAnalyzing, store.SessIdle)
		}
	}
	c.session.CurrentStoryID = item.TargetID
	return c.transition(store.SessAnalyzing, store.SessDiscovering)
}

// stepExecuting spawns an agent for the queue's head item and runs it
// to a terminal agent state, routing failure through stuck detection
// and recovery before deciding the session's next state.
func (c *Controller) stepExecuting(ctx context.Context) error {
	item := c.session.WorkQueue[0]
	tier := startTier(c.cfg.StartTier)

	agent := &store.Agent{
		ID:        uuid.NewString(),
		Kind:      kindForWorkItem(item),
		Task:      item.TargetID,
		State:     store.AgentPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := c.store.CreateAgent(*agent); err != nil {
		return fmt.Errorf("create agent for work item %s: %w", item.TargetID, err)
	}

	runStart := time.Now()
	runErr := c.runner.Run(ctx, agent, tier)
	c.session.Metrics.AgentsSpawned++
	c.session.Metrics.TotalIterations++
	c.events.RecordAgentRun(ctx, string(agent.Kind), time.Since(runStart), agent.State == store.AgentCompleted)

	if agent.State == store.AgentCompleted {
		c.session.Metrics.StoriesCompleted++
		if !c.needsReview(agent.ID) {
			return c.transition(store.SessExecuting, store.SessPrCreation)
		}
		return c.transition(store.SessExecuting, store.SessReviewing)
	}

	c.session.Metrics.StoriesFailed++
	return c.handleStuckAgent(ctx, item, agent, tier, runErr)
}

// handleStuckAgent asks the Stuck Detector and Recovery Selector what
// to do about a failed run, records the decision, and either requeues
// the item (bounded by MaxAttemptsPerItem) or blocks the session.
func (c *Controller) handleStuckAgent(ctx context.Context, item store.WorkItem, agent *store.Agent, tier model.Tier, runErr error) error {
	detection := c.detectStuck(agent, runErr)

	if err := c.store.RecordStuckDetection(store.StuckDetection{
		ID: uuid.NewString(), AgentID: agent.ID, SessionID: c.session.ID,
		Type: store.StuckType(detection.Type), Severity: store.StuckSeverity(detection.Severity.String()),
		Details: detection.Details, DetectedAt: detection.DetectedAt,
	}); err != nil {
		c.logger.Warn("failed to record stuck detection", "agent_id", agent.ID, "error", err)
	}

	var view stuckDetailView
	if err := mapstructure.Decode(detection.Details, &view); err != nil {
		c.logger.Debug("stuck detail view decode failed", "agent_id", agent.ID, "error", err)
	} else if view.Error != "" {
		c.logger.Warn("agent stuck", "agent_id", agent.ID, "type", detection.Type, "detail", view.Error)
	}

	attempts, err := c.store.CountRecoveryAttempts(agent.ID, string(recovery.Retry))
	if err != nil {
		c.logger.Warn("failed to count recovery attempts", "agent_id", agent.ID, "error", err)
	}
	actions := c.recover.SelectActions(detection, tier, map[recovery.ActionType]int{recovery.Retry: attempts})

	action := c.recover.NextAction(actions)
	if action == nil || item.AttemptNumber >= c.cfg.MaxAttemptsPerItem {
		c.recordEdgeCase(item, string(detection.Type), store.ResolutionManual, "exhausted recovery attempts")
		return c.transition(store.SessExecuting, store.SessBlocked)
	}

	if err := c.store.RecordRecoveryAttempt(store.RecoveryAttempt{
		ID: uuid.NewString(), AgentID: agent.ID, ActionType: string(action.ActionType),
		Outcome: store.OutcomeInProgress, AttemptNumber: item.AttemptNumber + 1, StartedAt: time.Now(),
	}); err != nil {
		c.logger.Warn("failed to record recovery attempt", "agent_id", agent.ID, "error", err)
	}

	switch action.ActionType {
	case recovery.PauseAndAlert, recovery.Abort, recovery.EscalateToParent:
		c.recordEdgeCase(item, string(detection.Type), store.ResolutionManual, string(action.ActionType))
		return c.transition(store.SessExecuting, store.SessBlocked)
	default:
		item.AttemptNumber++
		c.session.WorkQueue[0] = item
		return c.transition(store.SessExecuting, store.SessPlanning)
	}
}

// stepReviewing spawns a CodeReviewer agent, parses its verdict, and
// decides whether the item can proceed to PR creation, needs another
// planning pass, or must block for a human.
func (c *Controller) stepReviewing(ctx context.Context) error {
	item := c.session.WorkQueue[0]

	lastIteration, hadPrior, err := c.store.LastReviewIteration(item.TargetID)
	if err != nil {
		return fmt.Errorf("load last review iteration for %s: %w", item.TargetID, err)
	}
	iteration := 1
	if hadPrior {
		iteration = lastIteration.Iteration + 1
	}

	reviewer := &store.Agent{
		ID: uuid.NewString(), Kind: store.CodeReviewer, Task: item.TargetID,
		State: store.AgentPending, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := c.store.CreateAgent(*reviewer); err != nil {
		return fmt.Errorf("create reviewer agent: %w", err)
	}

	// Run the reviewer against the current item and a lightweight
	// explorer preview of the next queued item concurrently: the
	// reviewer's run time is otherwise idle time the planner for the
	// next item could be using.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_ = c.runner.Run(gctx, reviewer, startTier(c.cfg.StartTier))
		return nil
	})
	if next, ok := c.nextWorkItem(); ok {
		g.Go(func() error { return c.previewWorkItem(gctx, next) })
	}
	if err := g.Wait(); err != nil {
		c.logger.Warn("concurrent review/preview run returned an error", "error", err)
	}

	messages, err := c.store.ListMessages(reviewer.ID)
	if err != nil {
		return fmt.Errorf("load reviewer messages: %w", err)
	}
	result := review.ParseOutput(lastAssistantText(messages))

	escalation := c.review.ShouldEscalate(iteration, result)
	if err := c.store.RecordReviewIteration(store.ReviewIteration{
		ID: uuid.NewString(), StoryID: item.TargetID, Iteration: iteration,
		ReviewerType: store.ReviewerAutomated, Verdict: reviewVerdict(result),
		IssueCount: len(result.Issues), BlockingIssueCount: blockingIssueCount(result),
		EscalationLevel: store.EscalationLevel(escalation),
	}); err != nil {
		c.logger.Warn("failed to record review iteration", "story_id", item.TargetID, "error", err)
	}

	switch {
	case c.review.CanAutoApprove(result):
		c.session.Metrics.ReviewsPassed++
		return c.transition(store.SessReviewing, store.SessPrCreation)
	case escalation >= review.EscalationRequireHuman:
		c.session.Metrics.ReviewsFailed++
		c.recordEdgeCase(item, "review_escalation", store.ResolutionManual, "requires human reviewer")
		return c.transition(store.SessReviewing, store.SessBlocked)
	default:
		c.session.Metrics.ReviewsFailed++
		return c.transition(store.SessReviewing, store.SessPlanning)
	}
}

// stepCompleting records the item as done, pops it from the queue, and
// returns to Idle to pick up the next one.
func (c *Controller) stepCompleting() error {
	item := c.session.WorkQueue[0]
	c.session.WorkQueue = c.session.WorkQueue[1:]
	c.session.CompletedItems = append(c.session.CompletedItems, store.CompletedItem{
		ID: item.TargetID, Success: true,
	})
	if err := c.transition(store.SessCompleting, store.SessIdle); err != nil {
		return err
	}
	if len(c.session.WorkQueue) == 0 {
		return c.transition(store.SessIdle, store.SessDone)
	}
	return nil
}

// transition validates and persists a session state change.
func (c *Controller) transition(from, to store.SessionState) error {
	if !CanTransition(from, to) {
		return errs.New(errs.InvariantViolation, fmt.Sprintf("illegal session transition %s -> %s", from, to))
	}
	c.session.State = to
	if to == store.SessDone {
		now := time.Now()
		c.session.CompletedAt = &now
	}
	if err := c.store.SaveAutonomousSession(c.session); err != nil {
		return fmt.Errorf("persist session transition %s -> %s: %w", from, to, err)
	}
	return nil
}

func (c *Controller) recordEdgeCase(item store.WorkItem, kind string, resolution store.EdgeCaseResolution, action string) {
	if err := c.store.RecordEdgeCaseEvent(store.EdgeCaseEvent{
		ID: uuid.NewString(), SessionID: c.session.ID, StoryID: item.TargetID,
		Type: kind, Resolution: resolution, ActionTaken: action,
		RetryCount: item.AttemptNumber, DetectedAt: time.Now(),
	}); err != nil {
		c.logger.Warn("failed to record edge case event", "story_id", item.TargetID, "error", err)
	}
}

// stuckDetailView is a typed projection of a stuck.Detection's free-form
// Details map, decoded with mapstructure so callers that only care about
// the error string don't need to type-assert the map themselves.
type stuckDetailView struct {
	Error string `mapstructure:"error"`
}

// nextWorkItem returns the item after the one currently being reviewed,
// if the queue has one queued up.
func (c *Controller) nextWorkItem() (store.WorkItem, bool) {
	if len(c.session.WorkQueue) < 2 {
		return store.WorkItem{}, false
	}
	return c.session.WorkQueue[1], true
}

// previewWorkItem runs a cheap Explorer pass over the next item. Its
// messages are persisted under the explorer agent's own ID; the developer
// agent stepExecuting later spawns for that item starts from its own,
// empty message history.
func (c *Controller) previewWorkItem(ctx context.Context, item store.WorkItem) error {
	explorer := &store.Agent{
		ID: uuid.NewString(), Kind: store.Explorer, Task: item.TargetID,
		State: store.AgentPending, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := c.store.CreateAgent(*explorer); err != nil {
		return fmt.Errorf("create preview agent: %w", err)
	}
	return c.runner.Run(ctx, explorer, model.TierFast)
}

func kindForWorkItem(item store.WorkItem) store.AgentKind {
	switch item.Kind {
	case "fix":
		return store.IssueFixer
	case "explore":
		return store.Explorer
	default:
		return store.StoryDeveloper
	}
}

func startTier(configured string) model.Tier {
	switch model.Tier(configured) {
	case model.TierFast, model.TierBalanced, model.TierSmart, model.TierPremium:
		return model.Tier(configured)
	default:
		return model.TierBalanced
	}
}

// detectStuck builds a stuck.Progress snapshot from the agent's message
// history and the runner's configured budgets, and runs it through the
// Stuck Detector's eight rules. The highest-severity triggered detection
// wins; if none trigger (a plain transport error with no turn/token/CI/
// review signal behind it), classifyFailure supplies a fallback Type.
func (c *Controller) detectStuck(agent *store.Agent, runErr error) stuck.Detection {
	loopCfg, modelCfg := c.runner.Budgets()
	progress := stuck.Progress{MaxTurns: loopCfg.MaxTurns, MaxTokens: int64(modelCfg.ContextWindow)}

	messages, err := c.store.ListMessages(agent.ID)
	if err != nil {
		c.logger.Warn("failed to load agent messages for stuck detection", "agent_id", agent.ID, "error", err)
	}
	for _, m := range messages {
		if m.Role == store.RoleAssistant {
			progress.TurnCount++
			progress.LastMeaningfulOutput = m.CreatedAt
		}
		progress.TokenCount += int64(m.InputTokens + m.OutputTokens)
	}
	if runErr != nil {
		progress.RecentErrorCount++
	}

	detections := c.stuckDet.Check(agent.ID, progress)
	if len(detections) == 0 {
		return stuck.Detection{
			AgentID:    agent.ID,
			Type:       classifyFailure(runErr),
			Severity:   stuck.SeverityMedium,
			DetectedAt: time.Now(),
			Details:    map[string]any{"error": agent.ErrorMessage},
		}
	}

	worst := detections[0]
	for _, d := range detections[1:] {
		if d.Severity > worst.Severity {
			worst = d
		}
	}
	if worst.Details == nil {
		worst.Details = map[string]any{}
	}
	worst.Details["error"] = agent.ErrorMessage
	return worst
}

func classifyFailure(err error) stuck.Type {
	if kind, ok := errs.KindOf(err); ok {
		switch kind {
		case errs.TransientApi:
			return stuck.RateLimit
		case errs.BudgetExhaustion:
			return stuck.TurnLimit
		}
	}
	return stuck.ErrorLoop
}

// needsReview runs the completed agent's final turn through the
// Decision Engine's file-count / always-review-path / sensitive-keyword
// checks. A run that touched nothing review-worthy skips straight to PR
// creation instead of spawning a reviewer agent for no reason.
func (c *Controller) needsReview(agentID string) bool {
	messages, err := c.store.ListMessages(agentID)
	if err != nil {
		c.logger.Warn("failed to load agent messages for review check", "agent_id", agentID, "error", err)
		return true
	}
	text := lastAssistantText(messages)
	files := c.decision.DetectFilesChanged(text)
	return c.decision.CheckNeedsReview(text, files)
}

func lastAssistantText(messages []store.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == store.RoleAssistant {
			return messages[i].Content
		}
	}
	return ""
}

func reviewVerdict(result review.Result) store.ReviewVerdict {
	switch result.Verdict {
	case review.VerdictApproved:
		return store.VerdictApproved
	case review.VerdictChangesRequested:
		return store.VerdictChangesRequested
	case review.VerdictNeedsDiscussion:
		return store.VerdictNeedsDiscussion
	default:
		return store.VerdictPending
	}
}

func blockingIssueCount(result review.Result) int {
	n := 0
	for _, issue := range result.Issues {
		if issue.Severity.BlocksMerge() {
			n++
		}
	}
	return n
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
