package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hanibalsk/orchestrate/pkg/config"
	"github.com/hanibalsk/orchestrate/pkg/model"
	"github.com/hanibalsk/orchestrate/pkg/stuck"
)

func defaultSelector() *Selector {
	return NewSelector(config.Default().Recovery)
}

func detection(t stuck.Type, sev stuck.Severity) stuck.Detection {
	return stuck.Detection{AgentID: "agent-1", Type: t, Severity: sev}
}

func TestTurnLimitRecoveryEscalatesFirst(t *testing.T) {
	s := defaultSelector()
	actions := s.SelectActions(detection(stuck.TurnLimit, stuck.SeverityHigh), model.TierBalanced, nil)

	assert.NotEmpty(t, actions)
	assert.Equal(t, ModelEscalation, actions[0].ActionType)
}

func TestNoProgressRecoveryHasMultipleOptions(t *testing.T) {
	s := defaultSelector()
	actions := s.SelectActions(detection(stuck.NoProgress, stuck.SeverityMedium), model.TierSmart, nil)

	assert.GreaterOrEqual(t, len(actions), 2)
}

func TestCiTimeoutRecoveryWaitsFirst(t *testing.T) {
	s := defaultSelector()
	actions := s.SelectActions(detection(stuck.CiTimeout, stuck.SeverityMedium), model.TierSmart, nil)

	assert.NotEmpty(t, actions)
	assert.Equal(t, Wait, actions[0].ActionType)
}

func TestMergeConflictAlwaysPauses(t *testing.T) {
	s := defaultSelector()
	actions := s.SelectActions(detection(stuck.MergeConflict, stuck.SeverityHigh), model.TierSmart, nil)

	assert.Len(t, actions, 1)
	assert.Equal(t, PauseAndAlert, actions[0].ActionType)
}

func TestRateLimitRecoveryWaits(t *testing.T) {
	s := defaultSelector()
	actions := s.SelectActions(detection(stuck.RateLimit, stuck.SeverityMedium), model.TierSmart, nil)

	assert.NotEmpty(t, actions)
	assert.Equal(t, Wait, actions[0].ActionType)
}

func TestContextLimitFreshRetryWhenNotPaused(t *testing.T) {
	cfg := config.RecoveryConfig{PauseForHuman: []string{"merge_conflict"}}
	s := NewSelector(cfg)

	actions := s.SelectActions(detection(stuck.ContextLimit, stuck.SeverityHigh), model.TierSmart, nil)
	assert.NotEmpty(t, actions)
	assert.Equal(t, FreshRetry, actions[0].ActionType)
}

func TestContextLimitPausesAfterFreshRetryExhausted(t *testing.T) {
	cfg := config.RecoveryConfig{PauseForHuman: []string{"merge_conflict"}}
	s := NewSelector(cfg)

	actions := s.SelectActions(detection(stuck.ContextLimit, stuck.SeverityHigh), model.TierSmart, map[ActionType]int{FreshRetry: 1})
	assert.NotEmpty(t, actions)
	assert.Equal(t, PauseAndAlert, actions[0].ActionType)
}

func TestErrorLoopEscalatesFirst(t *testing.T) {
	s := defaultSelector()
	actions := s.SelectActions(detection(stuck.ErrorLoop, stuck.SeverityHigh), model.TierBalanced, nil)

	assert.NotEmpty(t, actions)
	assert.Equal(t, ModelEscalation, actions[0].ActionType)
}

func TestErrorLoopAbortsWhenExhausted(t *testing.T) {
	s := defaultSelector()
	attempts := map[ActionType]int{ModelEscalation: 2, SpawnFixer: 1}

	actions := s.SelectActions(detection(stuck.ErrorLoop, stuck.SeverityHigh), model.TierPremium, attempts)
	assert.NotEmpty(t, actions)
	assert.Equal(t, Abort, actions[0].ActionType)
}

func TestNoEscalationAtPremiumTier(t *testing.T) {
	s := defaultSelector()
	actions := s.SelectActions(detection(stuck.TurnLimit, stuck.SeverityHigh), model.TierPremium, nil)

	for _, a := range actions {
		assert.NotEqual(t, ModelEscalation, a.ActionType)
	}
}

func TestRespectsMaxRetries(t *testing.T) {
	s := defaultSelector()
	attempts := map[ActionType]int{Retry: 3}

	actions := s.SelectActions(detection(stuck.NoProgress, stuck.SeverityMedium), model.TierSmart, attempts)
	for _, a := range actions {
		assert.NotEqual(t, Retry, a.ActionType)
	}
}

func TestActionsSortedByPriorityDescending(t *testing.T) {
	s := defaultSelector()
	actions := s.SelectActions(detection(stuck.NoProgress, stuck.SeverityMedium), model.TierBalanced, nil)

	for i := 0; i+1 < len(actions); i++ {
		assert.GreaterOrEqual(t, actions[i].Priority, actions[i+1].Priority)
	}
}

func TestCustomPauseForHumanIncludesErrorLoop(t *testing.T) {
	cfg := config.Default().Recovery
	cfg.PauseForHuman = append(cfg.PauseForHuman, "error_loop")
	s := NewSelector(cfg)

	actions := s.SelectActions(detection(stuck.ErrorLoop, stuck.SeverityHigh), model.TierSmart, nil)
	assert.Len(t, actions, 1)
	assert.Equal(t, PauseAndAlert, actions[0].ActionType)
}

func TestDisablingFixerBudgetExcludesSpawnFixer(t *testing.T) {
	cfg := config.Default().Recovery
	cfg.MaxRetriesByType = map[string]int{string(SpawnFixer): 0}
	s := NewSelector(cfg)

	actions := s.SelectActions(detection(stuck.NoProgress, stuck.SeverityMedium), model.TierSmart, nil)
	for _, a := range actions {
		assert.NotEqual(t, SpawnFixer, a.ActionType)
	}
}

func TestNextAction(t *testing.T) {
	s := defaultSelector()
	actions := s.SelectActions(detection(stuck.TurnLimit, stuck.SeverityHigh), model.TierBalanced, nil)

	next := s.NextAction(actions)
	assert.NotNil(t, next)
	assert.Equal(t, ModelEscalation, next.ActionType)
}

func TestNextActionEmpty(t *testing.T) {
	s := defaultSelector()
	assert.Nil(t, s.NextAction(nil))
}

func TestCriticalSeverityEscalatesWhenNoActions(t *testing.T) {
	// Premium tier with every retryable action exhausted except the type
	// itself has no branches (ReviewDelay with Wait and EscalateToParent
	// both exhausted) so the critical-severity fallback fires.
	cfg := config.RecoveryConfig{
		MaxRetriesByType: map[string]int{string(Wait): 0, string(EscalateToParent): 0},
	}
	s := NewSelector(cfg)

	actions := s.SelectActions(detection(stuck.ReviewDelay, stuck.SeverityCritical), model.TierPremium, nil)
	assert.Len(t, actions, 1)
	assert.Equal(t, EscalateToParent, actions[0].ActionType)
}
