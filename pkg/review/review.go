// Package review implements the Code-Review Coordinator: parsing a
// reviewer's free-form output into a structured verdict, deciding whether
// it can be auto-approved or must escalate, picking the next reviewer, and
// rendering continuation messages for the agent that wrote the code.
package review

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hanibalsk/orchestrate/pkg/config"
)

// IssueSeverity ranks a single review finding, lowest first.
type IssueSeverity int

const (
	SeverityNitpick IssueSeverity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s IssueSeverity) String() string {
	switch s {
	case SeverityNitpick:
		return "nitpick"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// BlocksMerge reports whether an issue of this severity must be resolved
// before the change can be merged (severity >= High).
func (s IssueSeverity) BlocksMerge() bool {
	return s >= SeverityHigh
}

// Issue is one finding raised by a reviewer.
type Issue struct {
	Severity   IssueSeverity
	Description string
	File       string
	Line       int
	Suggestion string
}

func (i Issue) location() string {
	if i.File == "" {
		return ""
	}
	if i.Line > 0 {
		return fmt.Sprintf(" (%s:%d)", i.File, i.Line)
	}
	return fmt.Sprintf(" (%s)", i.File)
}

// Verdict is the reviewer's overall disposition.
type Verdict int

const (
	VerdictPending Verdict = iota
	VerdictApproved
	VerdictChangesRequested
	VerdictNeedsDiscussion
)

// IsPassing reports whether the verdict is Approved.
func (v Verdict) IsPassing() bool {
	return v == VerdictApproved
}

// Result is the structured outcome of one review.
type Result struct {
	Verdict Verdict
	Issues  []Issue
}

// HasBlockingIssues reports whether any issue's severity blocks merge.
func (r Result) HasBlockingIssues() bool {
	for _, i := range r.Issues {
		if i.Severity.BlocksMerge() {
			return true
		}
	}
	return false
}

var (
	verdictPattern = regexp.MustCompile(`(?im)^\s*(?:\*\*)?VERDICT(?:\*\*)?\s*:\s*(APPROVED|CHANGES[_ ]REQUESTED|NEEDS[_ ]DISCUSSION)`)
	issuePattern   = regexp.MustCompile(`(?im)^\s*-\s*\[(NITPICK|LOW|MEDIUM|HIGH|CRITICAL)\]\s*(.+)$`)
	fileLinePattern = regexp.MustCompile(`\(([^():]+):(\d+)\)\s*$`)
)

func parseSeverity(s string) IssueSeverity {
	switch strings.ToUpper(s) {
	case "NITPICK":
		return SeverityNitpick
	case "LOW":
		return SeverityLow
	case "MEDIUM":
		return SeverityMedium
	case "HIGH":
		return SeverityHigh
	case "CRITICAL":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// ParseOutput extracts a Result from a reviewer's free-form output. It
// recognizes a "VERDICT: ..." line and "- [SEVERITY] description (file:line)"
// issue lines; output with neither is Pending with no issues.
func ParseOutput(output string) Result {
	result := Result{Verdict: VerdictPending}

	if m := verdictPattern.FindStringSubmatch(output); m != nil {
		switch strings.ToUpper(strings.ReplaceAll(m[1], " ", "_")) {
		case "APPROVED":
			result.Verdict = VerdictApproved
		case "CHANGES_REQUESTED":
			result.Verdict = VerdictChangesRequested
		case "NEEDS_DISCUSSION":
			result.Verdict = VerdictNeedsDiscussion
		}
	}

	for _, line := range strings.Split(output, "\n") {
		m := issuePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		issue := Issue{Severity: parseSeverity(m[1]), Description: strings.TrimSpace(m[2])}
		if fl := fileLinePattern.FindStringSubmatch(issue.Description); fl != nil {
			issue.File = fl[1]
			fmt.Sscanf(fl[2], "%d", &issue.Line)
			issue.Description = strings.TrimSpace(fileLinePattern.ReplaceAllString(issue.Description, ""))
		}
		result.Issues = append(result.Issues, issue)
	}

	return result
}

// ReviewerType identifies who performed a review.
type ReviewerType string

const (
	Automated ReviewerType = "automated"
	Human     ReviewerType = "human"
	Copilot   ReviewerType = "copilot"
	External  ReviewerType = "external"
)

// Response wraps a Result with who produced it and their raw output.
type Response struct {
	StoryID      string
	ReviewerType ReviewerType
	Reviewer     string
	Result       Result
	RawOutput    string
}

// EscalationLevel ranks how urgently a review outcome needs human
// attention, lowest first.
type EscalationLevel int

const (
	EscalationNone EscalationLevel = iota
	EscalationSuggestHuman
	EscalationRequireHuman
	EscalationSenior
	EscalationBlock
)

// Coordinator applies the Code-Review Coordinator's configured policy to
// parsed review results.
type Coordinator struct {
	cfg config.ReviewConfig
}

// NewCoordinator builds a Coordinator from the Code-Review Coordinator's
// configured policy (spec defaults: auto_approve_nitpicks=true,
// require_human_for_critical=true, max_iterations=5,
// escalate_after_iterations=3, preference=[automated, copilot, human]).
func NewCoordinator(cfg config.ReviewConfig) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// NeedsReview reports whether a completed story with code changes requires
// a review pass at all.
func (c *Coordinator) NeedsReview(storyComplete, hasCodeChanges bool) bool {
	return storyComplete && hasCodeChanges
}

// CanAutoApprove reports whether result can be merged without a human
// sign-off.
func (c *Coordinator) CanAutoApprove(result Result) bool {
	if !result.Verdict.IsPassing() {
		return false
	}
	if result.HasBlockingIssues() {
		return false
	}
	if c.cfg.AutoApproveNitpicks {
		onlyNitpicks := true
		for _, i := range result.Issues {
			if i.Severity != SeverityNitpick && i.Severity != SeverityLow {
				onlyNitpicks = false
				break
			}
		}
		return onlyNitpicks || len(result.Issues) == 0
	}
	return len(result.Issues) == 0
}

// ShouldEscalate decides whether iteration/result warrants escalating
// beyond the normal review-and-revise loop.
func (c *Coordinator) ShouldEscalate(iteration int, result Result) EscalationLevel {
	if c.cfg.RequireHumanForCritical {
		for _, i := range result.Issues {
			if i.Severity == SeverityCritical {
				return EscalationRequireHuman
			}
		}
	}

	if iteration >= c.cfg.MaxIterations {
		return EscalationBlock
	}

	if iteration >= c.cfg.EscalateAfterIterations {
		if result.HasBlockingIssues() {
			return EscalationRequireHuman
		}
		return EscalationSuggestHuman
	}

	return EscalationNone
}

// NextReviewerType chooses who should perform the next review iteration.
func (c *Coordinator) NextReviewerType(currentIteration int, lastReviewer ReviewerType, hasCriticalIssues bool) ReviewerType {
	if hasCriticalIssues && c.cfg.RequireHumanForCritical {
		return Human
	}
	if currentIteration >= c.cfg.EscalateAfterIterations {
		return Human
	}

	prefs := c.cfg.ReviewerPreference
	if lastReviewer != "" {
		for idx, pref := range prefs {
			if ReviewerType(pref) == lastReviewer && idx+1 < len(prefs) {
				return ReviewerType(prefs[idx+1])
			}
		}
	}
	if len(prefs) > 0 {
		return ReviewerType(prefs[0])
	}
	return Automated
}

// GenerateContinuationMessage renders a markdown block for the agent to act
// on, grouping issues by severity (Critical/High/Medium/Low/Nitpick);
// Critical and High issues carry their location and suggestion, the
// lower groups only their description. Action guidance is appended.
func (c *Coordinator) GenerateContinuationMessage(resp Response) string {
	switch resp.Result.Verdict {
	case VerdictApproved:
		if len(resp.Result.Issues) == 0 {
			return "Code review approved! No changes needed."
		}
	}

	var parts []string
	switch resp.Result.Verdict {
	case VerdictApproved:
		parts = append(parts, fmt.Sprintf("Code review approved with %d suggestions to consider:", len(resp.Result.Issues)))
	case VerdictChangesRequested:
		parts = append(parts, fmt.Sprintf("Code review requested changes. Please address %d issues:", len(resp.Result.Issues)))
	case VerdictNeedsDiscussion:
		parts = append(parts, "Code review needs clarification on some points:")
	case VerdictPending:
		parts = append(parts, "Review is still pending.")
	}

	byTier := map[IssueSeverity][]Issue{}
	for _, i := range resp.Result.Issues {
		byTier[i.Severity] = append(byTier[i.Severity], i)
	}

	appendTier := func(header string, sev IssueSeverity, withSuggestion bool) {
		issues := byTier[sev]
		if len(issues) == 0 {
			return
		}
		parts = append(parts, "\n"+header)
		for _, i := range issues {
			if withSuggestion {
				parts = append(parts, fmt.Sprintf("- %s%s", i.Description, i.location()))
				if i.Suggestion != "" {
					parts = append(parts, "  Suggestion: "+i.Suggestion)
				}
			} else {
				parts = append(parts, "- "+i.Description)
			}
		}
	}

	appendTier("## CRITICAL (must fix):", SeverityCritical, true)
	appendTier("## HIGH (should fix):", SeverityHigh, true)
	appendTier("## MEDIUM (recommended):", SeverityMedium, false)
	appendTier("## LOW (consider):", SeverityLow, false)
	appendTier("## NITPICK (optional):", SeverityNitpick, false)

	if resp.Result.HasBlockingIssues() {
		parts = append(parts, "\nPlease address CRITICAL and HIGH issues before requesting another review.")
	} else if len(resp.Result.Issues) > 0 && resp.Result.Verdict.IsPassing() {
		parts = append(parts, "\nThese are suggestions - the review is approved. Consider addressing for improved code quality.")
	}

	return strings.Join(parts, "\n")
}

// Feedback is one actionable item distilled from a review response, used to
// seed the continuation prompt handed back to the story agent.
type Feedback struct {
	Description string
	Priority    int
	Action      string
}

// GenerateFeedback distills resp's issues into priority-sorted Feedback
// items (Critical=100 .. Nitpick=30, descending).
func (c *Coordinator) GenerateFeedback(resp Response) []Feedback {
	priorityFor := map[IssueSeverity]int{
		SeverityCritical: 100,
		SeverityHigh:     90,
		SeverityMedium:   70,
		SeverityLow:      50,
		SeverityNitpick:  30,
	}

	items := make([]Feedback, 0, len(resp.Result.Issues))
	for _, i := range resp.Result.Issues {
		item := Feedback{Description: i.Description, Priority: priorityFor[i.Severity]}
		switch {
		case i.Suggestion != "":
			item.Action = i.Suggestion
		case i.File != "" && i.Line > 0:
			item.Action = fmt.Sprintf("Fix issue at %s:%d", i.File, i.Line)
		case i.File != "":
			item.Action = fmt.Sprintf("Fix issue in %s", i.File)
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(a, b int) bool { return items[a].Priority > items[b].Priority })
	return items
}

// Iteration tracks one round-trip through review: who reviewed, what they
// found, and whether it escalated.
type Iteration struct {
	StoryID            string
	IterationNumber    int
	ReviewerType       ReviewerType
	Reviewer           string
	Verdict            Verdict
	IssueCount         int
	BlockingIssueCount int
	Escalation         EscalationLevel
	Completed          bool
}

// StartIteration begins tracking a new review iteration.
func StartIteration(storyID string, iteration int, reviewerType ReviewerType) Iteration {
	return Iteration{StoryID: storyID, IterationNumber: iteration, ReviewerType: reviewerType, Verdict: VerdictPending}
}

// Complete records a review response against the iteration.
func (it *Iteration) Complete(resp Response, escalation EscalationLevel) {
	it.Verdict = resp.Result.Verdict
	it.IssueCount = len(resp.Result.Issues)
	blocking := 0
	for _, i := range resp.Result.Issues {
		if i.Severity.BlocksMerge() {
			blocking++
		}
	}
	it.BlockingIssueCount = blocking
	it.Escalation = escalation
	it.Reviewer = resp.Reviewer
	it.Completed = true
}

// WasApproved reports whether the completed iteration resulted in an
// approval with nothing blocking merge.
func (it Iteration) WasApproved() bool {
	return it.Verdict.IsPassing() && it.BlockingIssueCount == 0
}
