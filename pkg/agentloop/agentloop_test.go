package agentloop

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanibalsk/orchestrate/pkg/config"
	"github.com/hanibalsk/orchestrate/pkg/contextwindow"
	"github.com/hanibalsk/orchestrate/pkg/model"
	"github.com/hanibalsk/orchestrate/pkg/store"
	"github.com/hanibalsk/orchestrate/pkg/tool"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(config.DatabaseConfig{Dialect: "sqlite3", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestAgent(t *testing.T, st *store.Store, kind store.AgentKind, task string) *store.Agent {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	a := &store.Agent{ID: uuid.NewString(), Kind: kind, Task: task, State: store.AgentPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateAgent(*a))
	return a
}

// scriptedClient replays a fixed sequence of responses, one per call,
// and errors past the end of the script.
type scriptedClient struct {
	responses []model.Response
	errs      []error
	calls     int
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) CreateMessage(ctx context.Context, req model.Request) (model.Response, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return model.Response{}, c.errs[i]
	}
	if i >= len(c.responses) {
		return model.Response{}, errors.New("scriptedClient: script exhausted")
	}
	return c.responses[i], nil
}

func (c *scriptedClient) Close() error { return nil }

func textResponse(text string) model.Response {
	return model.Response{
		Content:    []model.ContentBlock{{Type: model.BlockText, Text: text}},
		StopReason: model.StopEndTurn,
		Usage:      model.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func toolUseResponse(name string, input map[string]any) model.Response {
	return model.Response{
		Content: []model.ContentBlock{
			{Type: model.BlockToolUse, ToolUse: &model.ToolUseBlock{ID: "t1", Name: name, Input: input}},
		},
		StopReason: model.StopToolUse,
		Usage:      model.Usage{InputTokens: 20, OutputTokens: 8},
	}
}

type echoTool struct{}

func (echoTool) Name() string                               { return "echo" }
func (echoTool) Description() string                        { return "echoes input" }
func (echoTool) InputSchema() map[string]any                 { return nil }
func (echoTool) SafetyLevel() tool.SafetyLevel               { return tool.ReadOnly }
func (echoTool) AllowedAgentKinds() []store.AgentKind        { return nil }
func (echoTool) Execute(ctx tool.Context, inputJSON string) string {
	return "ok: " + inputJSON
}

type failingTool struct{}

func (failingTool) Name() string                        { return "boom" }
func (failingTool) Description() string                 { return "always fails" }
func (failingTool) InputSchema() map[string]any          { return nil }
func (failingTool) SafetyLevel() tool.SafetyLevel        { return tool.Mutating }
func (failingTool) AllowedAgentKinds() []store.AgentKind { return nil }
func (failingTool) Execute(ctx tool.Context, inputJSON string) string {
	return "Error: boom failed"
}

func newRunner(t *testing.T, st *store.Store, client model.Client, cfg config.LoopRunnerConfig) *Runner {
	t.Helper()
	reg := tool.NewRegistry()
	reg.Register(echoTool{})
	reg.Register(failingTool{})
	ctxMgr := contextwindow.NewManager(contextwindow.HeuristicEstimator{})
	models := config.Default().Model
	return NewRunner(client, st, reg, ctxMgr, nil, cfg, models)
}

func TestRunCompletesOnStatusComplete(t *testing.T) {
	st := newTestStore(t)
	agent := newTestAgent(t, st, store.StoryDeveloper, "Add a README")

	client := &scriptedClient{responses: []model.Response{textResponse("Done. STATUS: COMPLETE")}}
	cfg := config.Default().LoopRunner
	r := newRunner(t, st, client, cfg)

	err := r.Run(context.Background(), agent, model.TierBalanced)
	require.NoError(t, err)
	assert.Equal(t, store.AgentCompleted, agent.State)

	got, err := st.GetAgent(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AgentCompleted, got.State)
}

func TestRunExecutesToolCallsAndContinues(t *testing.T) {
	st := newTestStore(t)
	agent := newTestAgent(t, st, store.StoryDeveloper, "Use the echo tool")

	client := &scriptedClient{responses: []model.Response{
		toolUseResponse("echo", map[string]any{"x": "1"}),
		textResponse("All good now. STATUS: COMPLETE"),
	}}
	r := newRunner(t, st, client, config.Default().LoopRunner)

	err := r.Run(context.Background(), agent, model.TierBalanced)
	require.NoError(t, err)
	assert.Equal(t, store.AgentCompleted, agent.State)

	messages, err := st.ListMessages(agent.ID)
	require.NoError(t, err)

	var sawToolResult bool
	for _, m := range messages {
		if m.Role == store.RoleTool {
			sawToolResult = true
			require.Len(t, m.ToolResults, 1)
			assert.Contains(t, m.ToolResults[0].Content, "ok:")
		}
	}
	assert.True(t, sawToolResult)
}

func TestRunFailsOnBlockedSignal(t *testing.T) {
	st := newTestStore(t)
	agent := newTestAgent(t, st, store.IssueFixer, "Fix the bug")

	client := &scriptedClient{responses: []model.Response{textResponse("Cannot proceed. STATUS: BLOCKED: missing credentials")}}
	r := newRunner(t, st, client, config.Default().LoopRunner)

	err := r.Run(context.Background(), agent, model.TierBalanced)
	require.Error(t, err)
	assert.Equal(t, store.AgentFailed, agent.State)
	assert.Contains(t, agent.ErrorMessage, "missing credentials")
}

func TestRunFailsOnMaxTurns(t *testing.T) {
	st := newTestStore(t)
	agent := newTestAgent(t, st, store.StoryDeveloper, "Loop forever")

	responses := make([]model.Response, 5)
	for i := range responses {
		responses[i] = toolUseResponse("echo", map[string]any{"n": i})
	}
	client := &scriptedClient{responses: responses}

	cfg := config.Default().LoopRunner
	cfg.MaxTurns = 3
	cfg.MaxIdleTurns = 100
	r := newRunner(t, st, client, cfg)

	err := r.Run(context.Background(), agent, model.TierBalanced)
	require.Error(t, err)
	assert.Equal(t, store.AgentFailed, agent.State)
	assert.Contains(t, agent.ErrorMessage, "Max turns reached")
}

func TestRunFailsOnIdleTurns(t *testing.T) {
	st := newTestStore(t)
	agent := newTestAgent(t, st, store.StoryDeveloper, "Say nothing useful")

	client := &scriptedClient{responses: []model.Response{
		textResponse("thinking out loud"),
		textResponse("still thinking"),
	}}
	cfg := config.Default().LoopRunner
	cfg.MaxIdleTurns = 2
	cfg.MaxTurns = 50
	r := newRunner(t, st, client, cfg)

	err := r.Run(context.Background(), agent, model.TierBalanced)
	require.Error(t, err)
	assert.Equal(t, store.AgentFailed, agent.State)
	assert.Contains(t, agent.ErrorMessage, "without progress")
}

func TestRunFailsOnConsecutiveErrors(t *testing.T) {
	st := newTestStore(t)
	agent := newTestAgent(t, st, store.StoryDeveloper, "Trigger API errors")

	client := &scriptedClient{errs: []error{
		errors.New("503"), errors.New("503"), errors.New("503"),
	}}
	cfg := config.Default().LoopRunner
	cfg.MaxConsecutiveErrors = 3
	cfg.MaxTurns = 50
	r := newRunner(t, st, client, cfg)

	err := r.Run(context.Background(), agent, model.TierBalanced)
	require.Error(t, err)
	assert.Equal(t, store.AgentFailed, agent.State)
	assert.Contains(t, agent.ErrorMessage, "consecutive errors")
}

func TestRunTransitionsToWaitingForExternal(t *testing.T) {
	st := newTestStore(t)
	agent := newTestAgent(t, st, store.PrShepherd, "Watch the PR")

	waiting := model.Response{
		Content:    []model.ContentBlock{{Type: model.BlockText, Text: "Pausing. STATUS: WAITING for CI"}},
		StopReason: model.StopStopSequence,
		Usage:      model.Usage{InputTokens: 5, OutputTokens: 3},
	}
	client := &scriptedClient{responses: []model.Response{waiting}}
	r := newRunner(t, st, client, config.Default().LoopRunner)

	err := r.Run(context.Background(), agent, model.TierBalanced)
	require.NoError(t, err)
	assert.Equal(t, store.AgentWaitingForExternal, agent.State)
}

func TestToolErrorIncrementsConsecutiveErrorsButDoesNotFailImmediately(t *testing.T) {
	st := newTestStore(t)
	agent := newTestAgent(t, st, store.StoryDeveloper, "Use a failing tool then recover")

	client := &scriptedClient{responses: []model.Response{
		toolUseResponse("boom", map[string]any{}),
		textResponse("Recovered. STATUS: COMPLETE"),
	}}
	cfg := config.Default().LoopRunner
	cfg.MaxConsecutiveErrors = 5
	r := newRunner(t, st, client, cfg)

	err := r.Run(context.Background(), agent, model.TierBalanced)
	require.NoError(t, err)
	assert.Equal(t, store.AgentCompleted, agent.State)
}

func TestAgentStateGraphRejectsIllegalTransitions(t *testing.T) {
	assert.True(t, CanTransition(store.AgentPending, store.AgentInitializing))
	assert.True(t, CanTransition(store.AgentRunning, store.AgentCompleted))
	assert.False(t, CanTransition(store.AgentCompleted, store.AgentRunning))
	assert.False(t, CanTransition(store.AgentPending, store.AgentCompleted))
}

func TestIsCompletionAndWaitSignals(t *testing.T) {
	assert.True(t, isCompletionSignal("Work finished. STATUS: COMPLETE"))
	assert.False(t, isCompletionSignal("still going"))
	assert.True(t, needsExternalWait("STATUS: WAITING for CI"))
}
