// Package agentloop is the Agent Loop Runner (component D): it drives
// one Agent from Initializing to a terminal state (Completed, Failed,
// WaitingForExternal, Terminated) by repeatedly windowing its message
// history, calling the chat API, parsing the status-signal grammar out
// of the response, and dispatching any tool calls.
package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hanibalsk/orchestrate/pkg/config"
	"github.com/hanibalsk/orchestrate/pkg/contextwindow"
	"github.com/hanibalsk/orchestrate/pkg/errs"
	"github.com/hanibalsk/orchestrate/pkg/model"
	"github.com/hanibalsk/orchestrate/pkg/observability"
	"github.com/hanibalsk/orchestrate/pkg/ratelimit"
	"github.com/hanibalsk/orchestrate/pkg/store"
	"github.com/hanibalsk/orchestrate/pkg/tool"
)

// AgentStateGraph is the fixed transition graph store.Agent.State must
// obey. Keys are the "from" state; values are every legal "to" state.
var AgentStateGraph = map[store.AgentState][]store.AgentState{
	store.AgentPending:            {store.AgentInitializing, store.AgentTerminated},
	store.AgentInitializing:       {store.AgentRunning, store.AgentFailed, store.AgentTerminated},
	store.AgentRunning:            {store.AgentPaused, store.AgentWaitingForExternal, store.AgentCompleted, store.AgentFailed, store.AgentTerminated},
	store.AgentPaused:             {store.AgentRunning, store.AgentTerminated},
	store.AgentWaitingForExternal: {store.AgentRunning, store.AgentFailed, store.AgentTerminated},
	store.AgentCompleted:          {},
	store.AgentFailed:             {},
	store.AgentTerminated:         {},
}

// CanTransition reports whether to is a legal next state from from.
func CanTransition(from, to store.AgentState) bool {
	for _, s := range AgentStateGraph[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Learner receives outcome signals from completed agent runs. The
// Learning Engine is the production implementation; a nil Learner
// disables every learning hook.
type Learner interface {
	// RecordInstructionOutcomes updates effectiveness stats for every
	// instruction that was injected into this run.
	RecordInstructionOutcomes(instructionIDs []string, agentID string, success bool, completionTime float64) error
	// ApplyOutcomePenalties decays or boosts instruction confidence
	// based on whether the run succeeded and whether it was blocked.
	ApplyOutcomePenalties(instructionIDs []string, success, wasBlocked bool) error
	// AnalyzeAgentRun mines a failed run's messages for a recurring
	// failure pattern.
	AnalyzeAgentRun(agentID string, kind store.AgentKind, messages []store.Message, success bool) error
}

// identityByKind is the static identity line seeding each agent kind's
// cacheable system prompt base.
var identityByKind = map[store.AgentKind]string{
	store.StoryDeveloper:       "You are an autonomous story developer agent. You implement features end to end: write code, write tests, and keep the build green.",
	store.CodeReviewer:         "You are an autonomous code reviewer agent. You evaluate a diff for correctness, security, and style, and produce a structured verdict.",
	store.IssueFixer:           "You are an autonomous issue fixer agent. You diagnose and resolve a specific reported problem.",
	store.Explorer:             "You are an autonomous exploration agent. You investigate the codebase and report findings; you do not make changes.",
	store.BmadOrchestrator:     "You are the orchestrator agent coordinating a multi-agent development workflow.",
	store.BmadPlanner:          "You are a planning agent. You break epics into stories with clear acceptance criteria.",
	store.PrShepherd:           "You are a PR shepherd agent. You monitor a pull request through CI and review to merge.",
	store.PrController:         "You are a PR controller agent. You manage pull request lifecycle decisions.",
	store.ConflictResolver:     "You are a conflict resolver agent. You resolve merge conflicts between branches.",
	store.BackgroundController: "You are a background controller agent supervising long-running autonomous work.",
	store.Scheduler:            "You are a scheduler agent. You decide what work runs next and when.",
}

func identityFor(kind store.AgentKind) string {
	if s, ok := identityByKind[kind]; ok {
		return s
	}
	return fmt.Sprintf("You are an autonomous agent of kind %q.", kind)
}

// Runner drives one Agent's turn loop. It holds no per-run state itself
// so one Runner can be reused across concurrent agents.
type Runner struct {
	client  model.Client
	store   *store.Store
	tools   *tool.Registry
	ctxMgr  *contextwindow.Manager
	learner Learner
	cfg     config.LoopRunnerConfig
	models  config.ModelConfig
	logger  *slog.Logger
	limiter ratelimit.RateLimiter
	tracer  observability.SpanRecorder
	events  observability.Recorder
}

// NewRunner builds a Runner. learner may be nil to disable the
// instruction/pattern learning hooks regardless of cfg.EnableLearning.
func NewRunner(client model.Client, st *store.Store, tools *tool.Registry, ctxMgr *contextwindow.Manager, learner Learner, cfg config.LoopRunnerConfig, models config.ModelConfig) *Runner {
	return &Runner{
		client:  client,
		store:   st,
		tools:   tools,
		ctxMgr:  ctxMgr,
		learner: learner,
		cfg:     cfg,
		models:  models,
		logger:  slog.Default(),
		tracer:  observability.NoopTracer{},
		events:  observability.NoopRecorder{},
	}
}

// Budgets returns the turn/token budgets this Runner enforces, so a
// caller building a stuck.Progress snapshot can compute accurate
// percentages instead of guessing at the configured limits.
func (r *Runner) Budgets() (config.LoopRunnerConfig, config.ModelConfig) {
	return r.cfg, r.models
}

// WithRateLimiter attaches a chat-API token/request limiter scoped per
// agent kind. A nil limiter (the default) disables throttling.
func (r *Runner) WithRateLimiter(limiter ratelimit.RateLimiter) *Runner {
	r.limiter = limiter
	return r
}

// WithObservability attaches a span recorder and event recorder. A nil
// tracer/recorder leaves tracing/recording disabled (the default).
func (r *Runner) WithObservability(tracer observability.SpanRecorder, events observability.Recorder) *Runner {
	if tracer != nil {
		r.tracer = tracer
	}
	if events != nil {
		r.events = events
	}
	return r
}

func modelForTier(models config.ModelConfig, tier model.Tier) string {
	switch tier {
	case model.TierFast:
		return models.FastModel
	case model.TierSmart:
		return models.SmartModel
	case model.TierPremium:
		return models.PremiumModel
	default:
		return models.BalancedModel
	}
}

// Run drives agent from Initializing through its turn loop to a
// terminal state. It mutates agent in place and persists every
// transition. The caller is responsible for having already set
// agent.State to Pending or Initializing and for having created the
// Agent row via store.CreateAgent.
func (r *Runner) Run(ctx context.Context, agent *store.Agent, tier model.Tier) error {
	now := time.Now
	startTime := now()
	ctx, runSpan := r.tracer.StartAgentRun(ctx, agent.ID, string(agent.Kind), agent.Task)
	defer runSpan.End()

	if agent.State != store.AgentInitializing {
		if err := r.transition(agent, store.AgentInitializing, "", now()); err != nil {
			r.tracer.RecordError(runSpan, err)
			return err
		}
	}

	var instructionIDs []string
	var instructionTexts []string
	if r.cfg.EnableInstructions {
		instructions, err := r.store.ListEnabledInstructions(agent.Kind)
		if err != nil {
			return fmt.Errorf("load instructions: %w", err)
		}
		sort.Slice(instructions, func(i, j int) bool { return instructions[i].Priority > instructions[j].Priority })
		for _, ins := range instructions {
			instructionIDs = append(instructionIDs, ins.ID)
			instructionTexts = append(instructionTexts, ins.Content)
		}
	}

	messages, err := r.store.ListMessages(agent.ID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	if len(messages) == 0 {
		taskMsg := store.Message{ID: uuid.NewString(), AgentID: agent.ID, Role: store.RoleUser, Content: agent.Task, CreatedAt: now()}
		if err := r.store.AppendMessage(taskMsg); err != nil {
			return fmt.Errorf("append initial task message: %w", err)
		}
		messages = append(messages, taskMsg)
	}

	if err := r.transition(agent, store.AgentRunning, "", now()); err != nil {
		return err
	}

	var sessionID string
	if r.cfg.EnableSessions {
		sessionID = uuid.NewString()
		if err := r.store.CreateSession(store.Session{ID: sessionID, AgentID: agent.ID, StartedAt: now()}); err != nil {
			r.logger.Warn("failed to create session", "agent_id", agent.ID, "error", err)
			sessionID = ""
		} else {
			agent.SessionID = sessionID
			if err := r.store.SetAgentSession(agent.ID, sessionID, now()); err != nil {
				r.logger.Warn("failed to persist agent session id", "agent_id", agent.ID, "error", err)
			}
		}
	}

	var (
		turn              int
		idleTurns         int
		consecutiveErrors int
		lastToolError     string
		wasBlocked        bool
		totalInput        int
		totalOutput       int
		totalCacheRead    int
		totalCacheWrite   int
	)

	modelName := modelForTier(r.models, tier)
	toolNames := r.tools.NamesFor(agent.Kind)
	cacheableBase, _ := contextwindow.SplitPrompt(identityFor(agent.Kind), toolNames, contextwindow.StatusGrammar, agent.Task, nil)

	var runErr error

	for {
		turn++

		if turn > r.cfg.MaxTurns {
			runErr = r.fail(agent, "Max turns reached - agent may be stuck in a loop", now())
			break
		}
		if idleTurns >= r.cfg.MaxIdleTurns {
			runErr = r.fail(agent, fmt.Sprintf("Agent stuck: %d turns without progress. Last response had no tool calls or status signals.", idleTurns), now())
			break
		}
		if consecutiveErrors >= r.cfg.MaxConsecutiveErrors {
			errText := lastToolError
			if errText == "" {
				errText = "unknown"
			}
			runErr = r.fail(agent, fmt.Sprintf("Agent stuck: %d consecutive errors. Last error: %s", consecutiveErrors, errText), now())
			break
		}

		apiMessages := messages
		windowedInfo := contextwindow.WindowResult{OriginalCount: len(messages), Kept: messages}
		if r.cfg.TokenOptimization {
			windowedInfo = r.ctxMgr.Window(messages, r.models.ContextWindow)
			apiMessages = windowedInfo.Kept
			if windowedInfo.SummaryText != "" {
				summary := store.Message{Role: store.RoleUser, Content: windowedInfo.SummaryText}
				apiMessages = append([]store.Message{summary}, apiMessages...)
			}
		}

		estimatedContext := r.ctxMgr.Estimate(messages)
		maxTokens := r.models.MaxOutput
		if r.cfg.TokenOptimization {
			maxTokens = r.ctxMgr.CalculateOutputTokens(estimatedContext, r.models.ContextWindow, r.models.MaxOutput)
		}

		_, dynamicSuffix := contextwindow.SplitPrompt(identityFor(agent.Kind), toolNames, contextwindow.StatusGrammar, agent.Task, instructionTexts)

		req := model.Request{
			Model:     modelName,
			MaxTokens: maxTokens,
			Messages:  toAPIMessages(apiMessages),
			System:    model.SystemPrompt{CacheableBase: cacheableBase, DynamicSuffix: dynamicSuffix},
			Tools:     toolDefinitions(r.tools, agent.Kind),
			Tier:      tier,
		}

		if r.limiter != nil {
			checkResult, limitErr := r.limiter.Check(ctx, ratelimit.ScopeAgentKind, string(agent.Kind))
			if limitErr != nil {
				r.logger.Warn("rate limit check failed, allowing call", "agent_id", agent.ID, "error", limitErr)
			} else if !checkResult.Allowed {
				runErr = r.fail(agent, "Rate limited: "+checkResult.Reason, now())
				break
			}
		}

		llmCtx, llmSpan := r.tracer.StartLLMCall(ctx, modelName, estimatedContext)
		callStart := now()
		resp, callErr := r.client.CreateMessage(llmCtx, req)
		callDuration := now().Sub(callStart)
		if callErr != nil {
			consecutiveErrors++
			lastToolError = "API error: " + callErr.Error()
			r.logger.Error("chat api call failed", "agent_id", agent.ID, "turn", turn, "attempt", consecutiveErrors, "error", callErr)
			r.tracer.RecordError(llmSpan, callErr)
			llmSpan.End()
			r.events.RecordLLMCall(ctx, modelName, callDuration, 0, 0, callErr)
			continue
		}
		r.tracer.AddLLMUsage(llmSpan, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		llmSpan.End()
		r.events.RecordLLMCall(ctx, modelName, callDuration, resp.Usage.InputTokens, resp.Usage.OutputTokens, nil)
		consecutiveErrors = 0

		totalInput += resp.Usage.InputTokens
		totalOutput += resp.Usage.OutputTokens
		totalCacheRead += resp.Usage.CacheReadInputTokens
		totalCacheWrite += resp.Usage.CacheCreationInputTokens

		if r.limiter != nil {
			tokenCount := int64(resp.Usage.InputTokens + resp.Usage.OutputTokens)
			if err := r.limiter.Record(ctx, ratelimit.ScopeAgentKind, string(agent.Kind), tokenCount, 1); err != nil {
				r.logger.Warn("rate limit record failed", "agent_id", agent.ID, "error", err)
			}
		}

		if sessionID != "" {
			msgsIncluded, msgsSummarized := len(apiMessages), windowedInfo.SummarizedCount
			if err := r.store.RecordTurnTokens(store.TurnTokenRecord{
				SessionID: sessionID, AgentID: agent.ID, TurnNumber: turn,
				Input: resp.Usage.InputTokens, Output: resp.Usage.OutputTokens,
				CacheRead: resp.Usage.CacheReadInputTokens, CacheWrite: resp.Usage.CacheCreationInputTokens,
				EstimatedContext: estimatedContext, MessagesIncluded: msgsIncluded, MessagesSummarized: msgsSummarized,
			}); err != nil {
				r.logger.Warn("failed to record turn tokens", "agent_id", agent.ID, "error", err)
			}
		}
		if err := r.store.AddDailyTokenUsage(now().Format("2006-01-02"), agent.Kind, resp.Usage.InputTokens, resp.Usage.OutputTokens); err != nil {
			r.logger.Warn("failed to update daily token usage", "error", err)
		}

		text := resp.TextContent()
		toolUses := resp.ToolUses()

		assistantMsg := store.Message{
			ID: uuid.NewString(), AgentID: agent.ID, Role: store.RoleAssistant, Content: text,
			ToolCalls:    toToolCalls(toolUses),
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			CreatedAt:    now(),
		}
		if err := r.store.AppendMessage(assistantMsg); err != nil {
			return fmt.Errorf("append assistant message: %w", err)
		}
		messages = append(messages, assistantMsg)

		if reason, blocked := blockedReason(text); blocked {
			wasBlocked = true
			runErr = r.fail(agent, "Agent blocked: "+reason, now())
			break
		}

		if resp.StopReason == model.StopEndTurn && len(toolUses) == 0 {
			if isCompletionSignal(text) {
				runErr = r.transition(agent, store.AgentCompleted, "", now())
				break
			}
			idleTurns++
			continue
		}

		if len(toolUses) > 0 {
			idleTurns = 0
			hadError := false
			var results []store.ToolResult
			for _, tc := range toolUses {
				toolCtx, toolSpan := r.tracer.StartToolExecution(ctx, agent.ID, tc.Name)
				toolStart := now()
				result, execErr := r.tools.Execute(tool.Context{Ctx: toolCtx, AgentID: agent.ID, AgentKind: agent.Kind}, tc.Name, inputToJSON(tc.Input))
				if execErr != nil {
					result = "Error: " + execErr.Error()
				}
				isErr := tool.IsErrorResult(result)
				if isErr {
					hadError = true
					lastToolError = result
					r.tracer.RecordError(toolSpan, fmt.Errorf("%s", result))
				}
				toolSpan.End()
				var recordErr error
				if isErr {
					recordErr = fmt.Errorf("%s", result)
				}
				r.events.RecordToolExecution(ctx, tc.Name, now().Sub(toolStart), recordErr)
				results = append(results, store.ToolResult{ToolCallID: tc.ID, Content: result, IsError: isErr})
			}
			if hadError {
				consecutiveErrors++
			} else {
				consecutiveErrors = 0
			}

			toolMsg := store.Message{ID: uuid.NewString(), AgentID: agent.ID, Role: store.RoleTool, ToolResults: results, CreatedAt: now()}
			if err := r.store.AppendMessage(toolMsg); err != nil {
				return fmt.Errorf("append tool result message: %w", err)
			}
			messages = append(messages, toolMsg)
		}

		if needsExternalWait(text) {
			runErr = r.transition(agent, store.AgentWaitingForExternal, "", now())
			break
		}
	}

	if sessionID != "" {
		if err := r.store.CloseSession(sessionID, now(), totalInput+totalOutput); err != nil {
			r.logger.Warn("failed to close session", "agent_id", agent.ID, "error", err)
		}
	}

	cacheTotal := totalCacheRead + totalCacheWrite
	var cacheHitRate float64
	if cacheTotal > 0 {
		cacheHitRate = float64(totalCacheRead) / float64(cacheTotal)
	}
	r.logger.Debug("agent run finished", "agent_id", agent.ID, "turns", turn,
		"input_tokens", totalInput, "output_tokens", totalOutput, "cache_hit_rate", cacheHitRate)

	success := agent.State == store.AgentCompleted
	completionTime := now().Sub(startTime)
	r.events.RecordAgentRun(ctx, string(agent.Kind), completionTime, success)
	if runErr != nil {
		r.tracer.RecordError(runSpan, runErr)
	}
	completionTimeSeconds := completionTime.Seconds()

	if r.learner != nil && r.cfg.EnableInstructions && len(instructionIDs) > 0 {
		if err := r.learner.RecordInstructionOutcomes(instructionIDs, agent.ID, success, completionTimeSeconds); err != nil {
			r.logger.Warn("failed to record instruction outcomes", "agent_id", agent.ID, "error", err)
		}
		if err := r.learner.ApplyOutcomePenalties(instructionIDs, success, wasBlocked); err != nil {
			r.logger.Warn("failed to apply outcome penalties", "agent_id", agent.ID, "error", err)
		}
	}

	if r.learner != nil && r.cfg.EnableLearning && !success {
		allMessages, err := r.store.ListMessages(agent.ID)
		if err != nil {
			r.logger.Warn("failed to reload messages for learning analysis", "agent_id", agent.ID, "error", err)
		} else if err := r.learner.AnalyzeAgentRun(agent.ID, agent.Kind, allMessages, success); err != nil {
			r.logger.Warn("failed to analyze agent run", "agent_id", agent.ID, "error", err)
		}
	}

	return runErr
}

// transition validates and persists a state change, failing hard on an
// illegal transition since that is an invariant violation, not a
// recoverable condition.
func (r *Runner) transition(agent *store.Agent, to store.AgentState, errMsg string, at time.Time) error {
	if !CanTransition(agent.State, to) {
		return errs.New(errs.InvariantViolation, fmt.Sprintf("illegal agent state transition %s -> %s", agent.State, to))
	}
	agent.State = to
	agent.ErrorMessage = errMsg
	agent.UpdatedAt = at
	return r.store.UpdateAgentState(agent.ID, to, errMsg, at)
}

func (r *Runner) fail(agent *store.Agent, reason string, at time.Time) error {
	if err := r.transition(agent, store.AgentFailed, reason, at); err != nil {
		return err
	}
	return errs.New(errs.BudgetExhaustion, reason)
}

func isCompletionSignal(text string) bool {
	return strings.Contains(text, "STATUS: COMPLETE")
}

func needsExternalWait(text string) bool {
	return strings.Contains(text, "STATUS: WAITING")
}

// blockedReason reports whether text carries a BLOCKED status signal
// and, if so, the reason text trailing it on the same line.
func blockedReason(text string) (reason string, blocked bool) {
	const marker = "STATUS: BLOCKED"
	idx := strings.Index(text, marker)
	if idx < 0 {
		return "", false
	}
	after := text[idx+len(marker):]
	after = strings.TrimPrefix(after, ":")
	if nl := strings.IndexByte(after, '\n'); nl >= 0 {
		after = after[:nl]
	}
	reason = strings.TrimSpace(after)
	if reason == "" {
		reason = "Unknown reason"
	}
	return reason, true
}

func toAPIMessages(messages []store.Message) []model.Message {
	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == store.RoleAssistant {
			role = "assistant"
		}

		var blocks []model.ContentBlock
		switch {
		case len(m.ToolResults) > 0:
			for _, tr := range m.ToolResults {
				blocks = append(blocks, model.ContentBlock{
					Type:       model.BlockToolResult,
					ToolResult: &model.ToolResultBlock{ToolUseID: tr.ToolCallID, Content: tr.Content, IsError: tr.IsError},
				})
			}
		case len(m.ToolCalls) > 0:
			if m.Content != "" {
				blocks = append(blocks, model.ContentBlock{Type: model.BlockText, Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, model.ContentBlock{
					Type:    model.BlockToolUse,
					ToolUse: &model.ToolUseBlock{ID: tc.ID, Name: tc.Name, Input: jsonToMap(tc.Input)},
				})
			}
		default:
			blocks = append(blocks, model.ContentBlock{Type: model.BlockText, Text: m.Content})
		}

		out = append(out, model.Message{Role: role, Content: blocks})
	}
	return out
}

func toolDefinitions(reg *tool.Registry, kind store.AgentKind) []model.ToolDefinition {
	names := reg.NamesFor(kind)
	out := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		t, ok := reg.Get(name)
		if !ok {
			continue
		}
		out = append(out, model.ToolDefinition{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()})
	}
	return out
}

func toToolCalls(uses []model.ToolUseBlock) []store.ToolCall {
	if len(uses) == 0 {
		return nil
	}
	out := make([]store.ToolCall, 0, len(uses))
	for _, u := range uses {
		out = append(out, store.ToolCall{ID: u.ID, Name: u.Name, Input: inputToJSON(u.Input)})
	}
	return out
}
