// Package recovery implements the Recovery Selector: given a stuck
// detection, the agent's current model tier, and how many times each
// recovery action has already been tried, it returns a priority-ordered
// plan of actions to attempt.
package recovery

import (
	"fmt"

	"github.com/hanibalsk/orchestrate/pkg/config"
	"github.com/hanibalsk/orchestrate/pkg/model"
	"github.com/hanibalsk/orchestrate/pkg/stuck"
)

// ActionType identifies one recovery action.
type ActionType string

const (
	PauseAndAlert   ActionType = "pause_and_alert"
	ModelEscalation ActionType = "model_escalation"
	SpawnFixer      ActionType = "spawn_fixer"
	FreshRetry      ActionType = "fresh_retry"
	EscalateToParent ActionType = "escalate_to_parent"
	Retry           ActionType = "retry"
	Wait            ActionType = "wait"
	Abort           ActionType = "abort"
)

// Outcome records what happened when an Action was attempted.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeFailed     Outcome = "failed"
	OutcomeInProgress Outcome = "in_progress"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeSkipped    Outcome = "skipped"
)

// Attempt is one recorded attempt to recover a stuck agent.
type Attempt struct {
	AgentID         string
	SessionID       string
	StuckDetectionID int64
	ActionType      ActionType
	Outcome         Outcome
	AttemptNumber   int
	ErrorMessage    string
}

// Action is one planned step in a recovery plan, ranked by Priority
// (highest runs first).
type Action struct {
	ActionType ActionType
	Priority   uint8
	Reason     string
	Details    map[string]any
}

var defaultMaxRetries = map[ActionType]int{
	Retry:           3,
	ModelEscalation: 2,
	SpawnFixer:      1,
	FreshRetry:      1,
	Wait:            5,
}

// Selector chooses recovery actions for stuck detections, given a
// configured attempt-cap table and pause-for-human set.
type Selector struct {
	pauseForHuman map[stuck.Type]bool
	maxRetries    map[ActionType]int
}

// NewSelector builds a Selector from the Recovery Selector's configured
// caps (spec defaults: retry=3, model_escalation=2, spawn_fixer=1,
// fresh_retry=1, wait=5; pause_for_human={merge_conflict, context_limit}).
func NewSelector(cfg config.RecoveryConfig) *Selector {
	pause := make(map[stuck.Type]bool, len(cfg.PauseForHuman))
	for _, t := range cfg.PauseForHuman {
		pause[stuck.Type(t)] = true
	}

	maxRetries := make(map[ActionType]int, len(defaultMaxRetries))
	for k, v := range defaultMaxRetries {
		maxRetries[k] = v
	}
	for k, v := range cfg.MaxRetriesByType {
		maxRetries[ActionType(k)] = v
	}

	return &Selector{pauseForHuman: pause, maxRetries: maxRetries}
}

func (s *Selector) maxRetriesFor(action ActionType) int {
	if n, ok := s.maxRetries[action]; ok {
		return n
	}
	return 1
}

func (s *Selector) canTry(action ActionType, attempts map[ActionType]int) bool {
	return attempts[action] < s.maxRetriesFor(action)
}

// SelectActions returns a priority-sorted recovery plan for detection,
// given the agent's current model tier and how many times each action has
// already been attempted. An empty attempts map means nothing has been
// tried yet.
func (s *Selector) SelectActions(detection stuck.Detection, currentTier model.Tier, attempts map[ActionType]int) []Action {
	if attempts == nil {
		attempts = map[ActionType]int{}
	}

	if s.pauseForHuman[detection.Type] {
		return []Action{{
			ActionType: PauseAndAlert,
			Priority:   100,
			Reason:     fmt.Sprintf("%s requires human intervention", detection.Type),
		}}
	}

	var actions []Action
	canEscalate := func() bool {
		_, ok := currentTier.Escalate()
		return ok
	}

	switch detection.Type {
	case stuck.TurnLimit:
		if s.canTry(ModelEscalation, attempts) && canEscalate() {
			target, _ := currentTier.Escalate()
			actions = append(actions, Action{
				ActionType: ModelEscalation,
				Priority:   80,
				Reason:     "Escalate to more capable model to complete work faster",
				Details:    map[string]any{"current_tier": currentTier, "target_tier": target},
			})
		}
		if s.canTry(FreshRetry, attempts) {
			actions = append(actions, Action{
				ActionType: FreshRetry,
				Priority:   60,
				Reason:     "Start fresh session with summarized context",
			})
		}

	case stuck.NoProgress:
		if s.canTry(Retry, attempts) {
			actions = append(actions, Action{
				ActionType: Retry,
				Priority:   70,
				Reason:     "Retry current task with nudge to make progress",
			})
		}
		if s.canTry(ModelEscalation, attempts) && canEscalate() {
			actions = append(actions, Action{
				ActionType: ModelEscalation,
				Priority:   60,
				Reason:     "Escalate to smarter model",
			})
		}
		if s.canTry(SpawnFixer, attempts) {
			actions = append(actions, Action{
				ActionType: SpawnFixer,
				Priority:   40,
				Reason:     "Spawn fixer agent to help unblock",
			})
		}

	case stuck.CiTimeout:
		if s.canTry(Wait, attempts) {
			actions = append(actions, Action{
				ActionType: Wait,
				Priority:   80,
				Reason:     "Wait for CI to complete",
				Details:    map[string]any{"wait_minutes": 10},
			})
		}
		if s.canTry(Retry, attempts) {
			actions = append(actions, Action{
				ActionType: Retry,
				Priority:   50,
				Reason:     "Retry CI check",
			})
		}

	case stuck.ReviewDelay:
		if s.canTry(Wait, attempts) {
			actions = append(actions, Action{
				ActionType: Wait,
				Priority:   80,
				Reason:     "Wait for code review",
				Details:    map[string]any{"wait_minutes": 30},
			})
		}
		if s.canTry(EscalateToParent, attempts) {
			actions = append(actions, Action{
				ActionType: EscalateToParent,
				Priority:   60,
				Reason:     "Escalate to controller for review prioritization",
			})
		}

	case stuck.MergeConflict:
		actions = append(actions, Action{
			ActionType: PauseAndAlert,
			Priority:   100,
			Reason:     "Merge conflict requires human intervention to resolve",
		})

	case stuck.RateLimit:
		if s.canTry(Wait, attempts) {
			waitMinutes := 1 << uint(attempts[Wait]) // exponential backoff, capped at 60 minutes
			if waitMinutes > 60 {
				waitMinutes = 60
			}
			actions = append(actions, Action{
				ActionType: Wait,
				Priority:   90,
				Reason:     "Wait for rate limit to reset",
				Details:    map[string]any{"wait_minutes": waitMinutes},
			})
		}

	case stuck.ContextLimit:
		if s.canTry(FreshRetry, attempts) {
			actions = append(actions, Action{
				ActionType: FreshRetry,
				Priority:   90,
				Reason:     "Start fresh session with summarized context",
			})
		} else {
			actions = append(actions, Action{
				ActionType: PauseAndAlert,
				Priority:   100,
				Reason:     "Context limit exceeded after retry, needs human intervention",
			})
		}

	case stuck.ErrorLoop:
		if s.canTry(ModelEscalation, attempts) && canEscalate() {
			actions = append(actions, Action{
				ActionType: ModelEscalation,
				Priority:   80,
				Reason:     "Escalate to smarter model to break error loop",
			})
		}
		if s.canTry(SpawnFixer, attempts) {
			actions = append(actions, Action{
				ActionType: SpawnFixer,
				Priority:   60,
				Reason:     "Spawn specialized fixer agent",
			})
		}
		if !s.canTry(ModelEscalation, attempts) && !s.canTry(SpawnFixer, attempts) {
			actions = append(actions, Action{
				ActionType: Abort,
				Priority:   100,
				Reason:     "Error loop unrecoverable, aborting task",
			})
		}
	}

	if detection.Severity == stuck.SeverityCritical && len(actions) == 0 {
		actions = append(actions, Action{
			ActionType: EscalateToParent,
			Priority:   100,
			Reason:     "Critical issue with no automated recovery options",
		})
	}

	sortByPriorityDesc(actions)
	return actions
}

func sortByPriorityDesc(actions []Action) {
	for i := 1; i < len(actions); i++ {
		for j := i; j > 0 && actions[j-1].Priority < actions[j].Priority; j-- {
			actions[j-1], actions[j] = actions[j], actions[j-1]
		}
	}
}

// NextAction returns the highest-priority action in a plan, or nil if the
// plan is empty.
func (s *Selector) NextAction(actions []Action) *Action {
	if len(actions) == 0 {
		return nil
	}
	return &actions[0]
}

// FixerType identifies a specialized fixer agent kind.
type FixerType string

const (
	TestFixer     FixerType = "test_fixer"
	LintFixer     FixerType = "lint_fixer"
	BuildFixer    FixerType = "build_fixer"
	SecurityFixer FixerType = "security_fixer"
	Debugger      FixerType = "debugger"
)

// FixerRequest asks for a specialized fixer agent to be spawned to help
// unblock a stuck parent agent.
type FixerRequest struct {
	FixerType         FixerType
	ParentAgentID     string
	IssueDescription  string
	Context           map[string]any
	FilesInvolved     []string
}
