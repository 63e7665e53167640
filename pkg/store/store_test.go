package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hanibalsk/orchestrate/pkg/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(config.DatabaseConfig{Dialect: "sqlite3", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAgentLifecycleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	agent := Agent{
		ID:        uuid.NewString(),
		Kind:      StoryDeveloper,
		Task:      "Add README",
		State:     AgentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAgent(agent))

	require.NoError(t, s.UpdateAgentState(agent.ID, AgentRunning, "", now.Add(time.Second)))
	got, err := s.GetAgent(agent.ID)
	require.NoError(t, err)
	require.Equal(t, AgentRunning, got.State)
	require.Empty(t, got.ErrorMessage)

	require.NoError(t, s.UpdateAgentState(agent.ID, AgentFailed, "budget exhausted", now.Add(2*time.Second)))
	got, err = s.GetAgent(agent.ID)
	require.NoError(t, err)
	require.Equal(t, AgentFailed, got.State)
	require.Equal(t, "budget exhausted", got.ErrorMessage)
}

func TestMessagesAppendOnlyOrdering(t *testing.T) {
	s := newTestStore(t)
	agentID := uuid.NewString()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		err := s.AppendMessage(Message{
			ID:        uuid.NewString(),
			AgentID:   agentID,
			Role:      RoleAssistant,
			Content:   "turn",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	msgs, err := s.ListMessages(agentID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt))
	require.True(t, msgs[1].CreatedAt.Before(msgs[2].CreatedAt))
}

func TestInstructionsOrderedByPriority(t *testing.T) {
	s := newTestStore(t)

	low := CustomInstruction{ID: uuid.NewString(), Name: "low", Content: "x", Scope: ScopeGlobal, Priority: 1, Enabled: true, Source: SourceManual}
	high := CustomInstruction{ID: uuid.NewString(), Name: "high", Content: "y", Scope: ScopeGlobal, Priority: 10, Enabled: true, Source: SourceManual}
	disabled := CustomInstruction{ID: uuid.NewString(), Name: "off", Content: "z", Scope: ScopeGlobal, Priority: 99, Enabled: false, Source: SourceManual}

	require.NoError(t, s.UpsertInstruction(low))
	require.NoError(t, s.UpsertInstruction(high))
	require.NoError(t, s.UpsertInstruction(disabled))

	out, err := s.ListEnabledInstructions(StoryDeveloper)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "high", out[0].Name)
	require.Equal(t, "low", out[1].Name)
}

func TestExperimentPromotionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	exp := Experiment{ID: uuid.NewString(), Name: "greeting-style", Status: ExperimentRunning, MinSamples: 10, Confidence: 0.95, CreatedAt: now}
	require.NoError(t, s.CreateExperiment(exp))

	variant := ExperimentVariant{ID: uuid.NewString(), ExperimentID: exp.ID, InstructionID: uuid.NewString()}
	require.NoError(t, s.AddExperimentVariant(variant))

	for i := 0; i < 8; i++ {
		require.NoError(t, s.RecordExperimentResult(variant.ID, true, now))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, s.RecordExperimentResult(variant.ID, false, now))
	}

	successes, total, err := s.VariantResults(variant.ID)
	require.NoError(t, err)
	require.Equal(t, 8, successes)
	require.Equal(t, 10, total)

	require.NoError(t, s.CompleteExperiment(exp.ID, variant.ID, now))
	running, err := s.ListRunningExperiments()
	require.NoError(t, err)
	require.Empty(t, running)
}

func TestGetInstructionRoundTripsDisabledCycles(t *testing.T) {
	s := newTestStore(t)

	ins := CustomInstruction{
		ID: uuid.NewString(), Name: "retry-guard", Content: "x", Scope: ScopeGlobal,
		Enabled: false, Source: SourceManual, DisabledCycles: 3,
	}
	require.NoError(t, s.UpsertInstruction(ins))

	got, found, err := s.GetInstruction(ins.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 3, got.DisabledCycles)

	got.DisabledCycles++
	require.NoError(t, s.UpsertInstruction(got))
	got, found, err = s.GetInstruction(ins.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 4, got.DisabledCycles)

	all, err := s.ListInstructions()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, 4, all[0].DisabledCycles)

	_, found, err = s.GetInstruction(uuid.NewString())
	require.NoError(t, err)
	require.False(t, found)
}

func TestAutomationActionsAuditTrail(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	first := AutomationAction{
		ID: uuid.NewString(), ActionType: ActionPatternCreated, TargetID: "pattern-1",
		TargetName: "pattern-1", Reason: "first observation", RecordedAt: now,
	}
	second := AutomationAction{
		ID: uuid.NewString(), ActionType: ActionInstructionDisabled, TargetID: "ins-1",
		TargetName: "ins-1", Reason: "ineffective", RecordedAt: now.Add(time.Second),
	}
	require.NoError(t, s.RecordAutomationAction(first))
	require.NoError(t, s.RecordAutomationAction(second))

	actions, err := s.ListAutomationActions()
	require.NoError(t, err)
	require.Len(t, actions, 2)
	require.Equal(t, second.ID, actions[0].ID, "newest action first")
	require.Equal(t, first.ID, actions[1].ID)
}
