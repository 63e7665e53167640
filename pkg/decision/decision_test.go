package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanibalsk/orchestrate/pkg/config"
)

func defaultEngine() *Engine {
	return NewEngine(config.Default().Decision)
}

func TestParseStatusComplete(t *testing.T) {
	e := defaultEngine()
	signal := e.ParseStatusSignal("I have completed the task.\n\nSTATUS: COMPLETE")
	require.NotNil(t, signal)
	assert.Equal(t, StatusComplete, signal.Status)
	assert.Empty(t, signal.Reason)
}

func TestParseStatusWithReason(t *testing.T) {
	e := defaultEngine()
	signal := e.ParseStatusSignal("STATUS: BLOCKED - Missing API credentials")
	require.NotNil(t, signal)
	assert.Equal(t, StatusBlocked, signal.Status)
	assert.Equal(t, "Missing API credentials", signal.Reason)
}

func TestParseStatusMarkdownFormat(t *testing.T) {
	e := defaultEngine()
	signal := e.ParseStatusSignal("Work done!\n\n**STATUS**: COMPLETE")
	require.NotNil(t, signal)
	assert.Equal(t, StatusComplete, signal.Status)
}

func TestParseStatusBracketFormat(t *testing.T) {
	e := defaultEngine()
	signal := e.ParseStatusSignal("[STATUS]: WAITING - CI pipeline running")
	require.NotNil(t, signal)
	assert.Equal(t, StatusWaiting, signal.Status)
}

func TestParseNoStatus(t *testing.T) {
	e := defaultEngine()
	assert.Nil(t, e.ParseStatusSignal("I made some changes to the code."))
}

func TestDetectFilesChanged(t *testing.T) {
	e := defaultEngine()
	output := "Created file `src/lib.go`\nModified `go.mod`\nUpdated src/main.go"

	files := e.DetectFilesChanged(output)
	assert.Contains(t, files, "src/lib.go")
	assert.Contains(t, files, "go.mod")
	assert.Contains(t, files, "src/main.go")
}

func TestDetectTestsAffected(t *testing.T) {
	e := defaultEngine()
	output := "--- PASS: TestCreateSession\n--- FAIL: TestUpdateSession\ntest TestLegacyRun ... ok"

	tests := e.DetectTestsAffected(output)
	assert.Contains(t, tests, "TestCreateSession")
	assert.Contains(t, tests, "TestUpdateSession")
	assert.Contains(t, tests, "TestLegacyRun")
}

func TestNeedsReviewFileThreshold(t *testing.T) {
	e := NewEngine(config.DecisionConfig{ReviewFileThreshold: 1})
	assert.True(t, e.CheckNeedsReview("Made changes to the code", []string{"src/lib.go"}))
}

func TestNeedsReviewSensitivePath(t *testing.T) {
	e := NewEngine(config.DecisionConfig{ReviewFileThreshold: 5, AlwaysReviewPaths: []string{"go.mod"}})
	assert.True(t, e.CheckNeedsReview("Updated dependencies", []string{"go.mod"}))
}

func TestNeedsReviewSecurityMention(t *testing.T) {
	e := NewEngine(config.DecisionConfig{ReviewFileThreshold: 5})
	assert.True(t, e.CheckNeedsReview("Fixed a security vulnerability in authentication", nil))
}

func TestNoReviewNeeded(t *testing.T) {
	e := NewEngine(config.DecisionConfig{ReviewFileThreshold: 5})
	assert.False(t, e.CheckNeedsReview("Minor documentation update", []string{"README.md"}))
}

func TestCheckAcceptanceCriteriaMet(t *testing.T) {
	e := defaultEngine()
	criteria := []string{"Create database migration", "Implement CRUD operations"}
	output := "I have created the database migration and implemented the CRUD operations. All tests pass."

	met, _ := e.CheckAcceptanceCriteria(criteria, output)
	assert.NotEmpty(t, met)
}

func TestCheckAcceptanceCriteriaIncomplete(t *testing.T) {
	e := defaultEngine()
	criteria := []string{"Implement authentication flow"}
	output := "Started working on the project structure."

	met, incomplete := e.CheckAcceptanceCriteria(criteria, output)
	assert.Empty(t, met)
	assert.NotEmpty(t, incomplete)
}

func TestDecisionOnBlockedStatus(t *testing.T) {
	e := defaultEngine()
	eval := e.EvaluateAgentOutput("Cannot proceed.\n\nSTATUS: BLOCKED - Missing dependencies")

	require.NotNil(t, eval.RecommendedDecision)
	assert.Equal(t, KindEscalate, eval.RecommendedDecision.Kind)
	assert.Equal(t, SeverityMedium, eval.RecommendedDecision.Severity)
}

func TestDecisionTriggersReview(t *testing.T) {
	e := NewEngine(config.DecisionConfig{ReviewFileThreshold: 1})
	eval := e.EvaluateAgentOutput("Created file `src/new_feature.go`\n\nSTATUS: COMPLETE")

	assert.True(t, eval.NeedsReview)
	require.NotNil(t, eval.RecommendedDecision)
	assert.Equal(t, KindTriggerReview, eval.RecommendedDecision.Kind)
	assert.Equal(t, ReviewFull, eval.RecommendedDecision.ReviewType)
}

func TestMakeDecisionMaxRetriesExceeded(t *testing.T) {
	e := defaultEngine()
	eval := e.EvaluateAgentOutput("Some output")

	d := e.MakeDecision(eval, "executing", 5)
	assert.Equal(t, KindEscalate, d.Kind)
	assert.Contains(t, d.Reason, "Maximum retries")
	assert.Equal(t, SeverityHigh, d.Severity)
}

func TestMakeDecisionStateTransition(t *testing.T) {
	e := defaultEngine()
	eval := e.EvaluateAgentOutput("Normal progress, no status signal")

	d := e.MakeDecision(eval, "planning", 0)
	assert.Equal(t, KindTransitionState, d.Kind)
	assert.Equal(t, "executing", d.NewState)
}

func TestMakeDecisionExecutingForksOnReviewNeed(t *testing.T) {
	e := NewEngine(config.DecisionConfig{ReviewFileThreshold: 1000})
	eval := e.EvaluateAgentOutput("Ongoing work, contains a security fix")

	d := e.MakeDecision(eval, "executing", 0)
	assert.Equal(t, KindTransitionState, d.Kind)
	assert.Equal(t, "reviewing", d.NewState)
}

func TestFullEvaluation(t *testing.T) {
	e := NewEngine(config.DecisionConfig{ReviewFileThreshold: 1})
	output := `
I have implemented the feature as requested:

1. Created the database migration in ` + "`migrations/001.sql`" + `
2. Added the new module in ` + "`src/feature.go`" + `
3. Updated ` + "`src/lib.go`" + ` to export the module

All tests pass:
--- PASS: TestFeatureCreation
--- PASS: TestFeatureUpdate

STATUS: COMPLETE - Feature fully implemented
`

	eval := e.EvaluateAgentOutput(output)

	require.NotNil(t, eval.StatusSignal)
	assert.Equal(t, StatusComplete, eval.StatusSignal.Status)
	assert.NotEmpty(t, eval.FilesChanged)
	assert.NotEmpty(t, eval.TestsAffected)
	assert.True(t, eval.NeedsReview)
}

func TestEvaluateErrorOutputAutoEscalates(t *testing.T) {
	e := defaultEngine()
	eval := e.EvaluateAgentOutput("Build failed with errors.\n\nSTATUS: ERROR - Compilation failed")

	require.NotNil(t, eval.RecommendedDecision)
	assert.Equal(t, KindEscalate, eval.RecommendedDecision.Kind)
	assert.Equal(t, SeverityHigh, eval.RecommendedDecision.Severity)
}

func TestEvaluateErrorOutputRetriesWhenAutoEscalateDisabled(t *testing.T) {
	e := NewEngine(config.DecisionConfig{ReviewFileThreshold: 5, AutoEscalateOnError: false})
	eval := e.EvaluateAgentOutput("STATUS: ERROR - Something went wrong")

	require.NotNil(t, eval.RecommendedDecision)
	assert.Equal(t, KindRetry, eval.RecommendedDecision.Kind)
}
