package review

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hanibalsk/orchestrate/pkg/config"
)

func defaultCoordinator() *Coordinator {
	return NewCoordinator(config.Default().Review)
}

func TestNeedsReview(t *testing.T) {
	c := defaultCoordinator()
	assert.True(t, c.NeedsReview(true, true))
	assert.False(t, c.NeedsReview(false, true))
	assert.False(t, c.NeedsReview(true, false))
	assert.False(t, c.NeedsReview(false, false))
}

func TestCanAutoApproveApprovedNoIssues(t *testing.T) {
	c := defaultCoordinator()
	assert.True(t, c.CanAutoApprove(Result{Verdict: VerdictApproved}))
}

func TestCanAutoApproveWithNitpicks(t *testing.T) {
	c := defaultCoordinator()
	result := Result{Verdict: VerdictApproved, Issues: []Issue{{Severity: SeverityNitpick, Description: "Minor formatting"}}}
	assert.True(t, c.CanAutoApprove(result))
}

func TestCannotAutoApproveWithHighIssues(t *testing.T) {
	c := defaultCoordinator()
	result := Result{Verdict: VerdictApproved, Issues: []Issue{{Severity: SeverityHigh, Description: "Security issue"}}}
	assert.False(t, c.CanAutoApprove(result))
}

func TestCannotAutoApproveChangesRequested(t *testing.T) {
	c := defaultCoordinator()
	assert.False(t, c.CanAutoApprove(Result{Verdict: VerdictChangesRequested}))
}

func TestShouldEscalateAfterMaxIterations(t *testing.T) {
	c := defaultCoordinator()
	result := Result{Verdict: VerdictChangesRequested}
	assert.Equal(t, EscalationBlock, c.ShouldEscalate(5, result))
}

func TestShouldEscalateCriticalIssues(t *testing.T) {
	c := defaultCoordinator()
	result := Result{Verdict: VerdictChangesRequested, Issues: []Issue{{Severity: SeverityCritical, Description: "Security vulnerability"}}}
	assert.Equal(t, EscalationRequireHuman, c.ShouldEscalate(1, result))
}

func TestNoEscalationNeeded(t *testing.T) {
	c := defaultCoordinator()
	result := Result{Verdict: VerdictChangesRequested, Issues: []Issue{{Severity: SeverityMedium, Description: "Consider refactoring"}}}
	assert.Equal(t, EscalationNone, c.ShouldEscalate(1, result))
}

func TestGenerateContinuationMessageApproved(t *testing.T) {
	c := defaultCoordinator()
	resp := Response{StoryID: "story-1", ReviewerType: Automated, Result: Result{Verdict: VerdictApproved}}

	msg := c.GenerateContinuationMessage(resp)
	assert.Contains(t, msg, "approved")
}

func TestGenerateContinuationMessageWithIssues(t *testing.T) {
	c := defaultCoordinator()
	result := Result{Verdict: VerdictChangesRequested, Issues: []Issue{
		{Severity: SeverityCritical, Description: "Security issue"},
		{Severity: SeverityHigh, Description: "Missing validation"},
		{Severity: SeverityMedium, Description: "Add tests"},
	}}
	resp := Response{StoryID: "story-1", ReviewerType: Automated, Result: result}

	msg := c.GenerateContinuationMessage(resp)
	assert.Contains(t, msg, "CRITICAL")
	assert.Contains(t, msg, "Security issue")
	assert.Contains(t, msg, "HIGH")
	assert.Contains(t, msg, "Missing validation")
	assert.Contains(t, msg, "MEDIUM")
	assert.Contains(t, msg, "Add tests")
}

func TestGenerateFeedback(t *testing.T) {
	c := defaultCoordinator()
	result := Result{Verdict: VerdictChangesRequested, Issues: []Issue{
		{Severity: SeverityCritical, Description: "Critical bug"},
		{Severity: SeverityLow, Description: "Minor improvement"},
	}}
	resp := Response{StoryID: "story-1", ReviewerType: Automated, Result: result}

	items := c.GenerateFeedback(resp)
	assert.Len(t, items, 2)
	assert.Equal(t, 100, items[0].Priority)
	assert.Contains(t, items[0].Description, "Critical bug")
}

func TestNextReviewerTypeFirstIteration(t *testing.T) {
	c := defaultCoordinator()
	assert.Equal(t, Automated, c.NextReviewerType(1, "", false))
}

func TestNextReviewerTypeAfterEscalation(t *testing.T) {
	c := defaultCoordinator()
	assert.Equal(t, Human, c.NextReviewerType(3, Automated, false))
}

func TestNextReviewerTypeCriticalIssues(t *testing.T) {
	c := defaultCoordinator()
	assert.Equal(t, Human, c.NextReviewerType(1, Automated, true))
}

func TestIterationStartAndComplete(t *testing.T) {
	it := StartIteration("story-1", 1, Automated)
	assert.Equal(t, "story-1", it.StoryID)
	assert.Equal(t, VerdictPending, it.Verdict)
	assert.False(t, it.Completed)

	result := Result{Verdict: VerdictApproved, Issues: []Issue{{Severity: SeverityLow, Description: "Minor issue"}}}
	resp := Response{StoryID: "story-1", ReviewerType: Automated, Reviewer: "code-reviewer", Result: result}
	it.Complete(resp, EscalationNone)

	assert.True(t, it.Completed)
	assert.True(t, it.WasApproved())
	assert.Equal(t, 1, it.IssueCount)
	assert.Equal(t, 0, it.BlockingIssueCount)
	assert.Equal(t, "code-reviewer", it.Reviewer)
}

func TestIterationNotApprovedWithBlocking(t *testing.T) {
	it := StartIteration("story-1", 1, Automated)

	result := Result{Verdict: VerdictChangesRequested, Issues: []Issue{{Severity: SeverityHigh, Description: "Blocking issue"}}}
	resp := Response{StoryID: "story-1", ReviewerType: Automated, Result: result}
	it.Complete(resp, EscalationNone)

	assert.True(t, it.Completed)
	assert.False(t, it.WasApproved())
	assert.Equal(t, 1, it.BlockingIssueCount)
}

func TestConfigCustomMaxIterations(t *testing.T) {
	cfg := config.ReviewConfig{MaxIterations: 3, EscalateAfterIterations: 2}
	c := NewCoordinator(cfg)

	result := Result{Verdict: VerdictChangesRequested}
	assert.Equal(t, EscalationBlock, c.ShouldEscalate(3, result))
	assert.Equal(t, EscalationSuggestHuman, c.ShouldEscalate(2, result))
}

func TestConfigDisableAutoApproveNitpicks(t *testing.T) {
	cfg := config.ReviewConfig{AutoApproveNitpicks: false}
	c := NewCoordinator(cfg)

	result := Result{Verdict: VerdictApproved, Issues: []Issue{{Severity: SeverityNitpick, Description: "Style suggestion"}}}
	assert.False(t, c.CanAutoApprove(result))
}

func TestParseOutputVerdictAndIssues(t *testing.T) {
	output := "VERDICT: CHANGES_REQUESTED\n\n- [CRITICAL] SQL injection risk (db/query.go:42)\n- [NITPICK] Inconsistent naming\n"

	result := ParseOutput(output)
	assert.Equal(t, VerdictChangesRequested, result.Verdict)
	assert.Len(t, result.Issues, 2)
	assert.Equal(t, SeverityCritical, result.Issues[0].Severity)
	assert.Equal(t, "db/query.go", result.Issues[0].File)
	assert.Equal(t, 42, result.Issues[0].Line)
}

func TestParseOutputNoIssuesApproved(t *testing.T) {
	result := ParseOutput("**VERDICT**: APPROVED\n\nLooks great, no issues found.")
	assert.Equal(t, VerdictApproved, result.Verdict)
	assert.Empty(t, result.Issues)
}
