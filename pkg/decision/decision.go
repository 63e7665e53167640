// Package decision turns free-form agent output into a structured
// decision: a parsed status signal, detected file/test changes, a
// review-need verdict, and a recommended next action.
package decision

import (
	"regexp"
	"strings"

	"github.com/hanibalsk/orchestrate/pkg/config"
)

// AgentStatus is the closed set of status signals an agent can emit.
type AgentStatus string

const (
	StatusComplete   AgentStatus = "COMPLETE"
	StatusBlocked    AgentStatus = "BLOCKED"
	StatusWaiting    AgentStatus = "WAITING"
	StatusNeedsInput AgentStatus = "NEEDS_INPUT"
	StatusError      AgentStatus = "ERROR"
)

func statusFromString(s string) (AgentStatus, bool) {
	switch strings.ToUpper(s) {
	case "COMPLETE", "COMPLETED", "DONE":
		return StatusComplete, true
	case "BLOCKED", "STUCK":
		return StatusBlocked, true
	case "WAITING", "WAIT", "PENDING":
		return StatusWaiting, true
	case "NEEDS_INPUT", "NEEDSINPUT", "INPUT_NEEDED":
		return StatusNeedsInput, true
	case "ERROR", "FAILED", "FAILURE":
		return StatusError, true
	default:
		return "", false
	}
}

// StatusSignal is a parsed status marker from agent output.
type StatusSignal struct {
	Status  AgentStatus
	Reason  string
	Details map[string]any
}

// ReviewType names the kind of code review a decision can trigger.
type ReviewType string

const (
	ReviewFull     ReviewType = "full"
	ReviewQuick    ReviewType = "quick"
	ReviewSecurity ReviewType = "security"
	ReviewTargeted ReviewType = "targeted"
)

// EscalationSeverity ranks how urgently an Escalate decision needs
// human attention.
type EscalationSeverity string

const (
	SeverityLow      EscalationSeverity = "low"
	SeverityMedium   EscalationSeverity = "medium"
	SeverityHigh     EscalationSeverity = "high"
	SeverityCritical EscalationSeverity = "critical"
)

// WaitType names what a Wait decision is waiting on.
type WaitType string

const (
	WaitCiCompletion    WaitType = "ci_completion"
	WaitPrReview        WaitType = "pr_review"
	WaitApproval        WaitType = "approval"
	WaitExternalService WaitType = "external_service"
	WaitTimeout         WaitType = "timeout"
)

// Kind discriminates the Decision tagged union.
type Kind string

const (
	KindSpawnAgent      Kind = "spawn_agent"
	KindContinueAgent   Kind = "continue_agent"
	KindTriggerReview   Kind = "trigger_review"
	KindCompleteWork    Kind = "complete_work"
	KindEscalate        Kind = "escalate"
	KindWait            Kind = "wait"
	KindRetry           Kind = "retry"
	KindTransitionState Kind = "transition_state"
)

// Decision is the recommended next action. Only the fields relevant
// to Kind are populated.
type Decision struct {
	Kind Kind

	AgentType string
	Task      string
	AgentID   string
	Message   string
	Context   map[string]any

	FilesChanged []string
	ReviewType   ReviewType

	WorkItemID string
	Summary    string

	Reason   string
	Severity EscalationSeverity

	WaitType       WaitType
	TimeoutSeconds int

	NewState string
}

// EvaluationResult is the output of evaluating one turn of agent text.
type EvaluationResult struct {
	StatusSignal        *StatusSignal
	FilesChanged        []string
	TestsAffected       []string
	CriteriaMet         []string
	CriteriaIncomplete  []string
	NeedsReview         bool
	RecommendedDecision *Decision
	RawOutput           string
}

var statusPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)STATUS:\s*(\w+)(?:\s*[-:]\s*(.*))?`),
	regexp.MustCompile(`(?i)\*\*STATUS\*\*:\s*(\w+)(?:\s*[-:]\s*(.*))?`),
	regexp.MustCompile(`(?i)\[STATUS\]:\s*(\w+)(?:\s*[-:]\s*(.*))?`),
}

var jsonStatusPattern = regexp.MustCompile("```json\\s*\\{[^}]*\"status\"\\s*:\\s*\"(\\w+)\"[^}]*}\\s*```")

var fileChangePatterns = []*regexp.Regexp{
	regexp.MustCompile("(?:Created|Modified|Updated|Wrote|Edited|Changed)\\s+(?:file\\s+)?[`']?([^\\s`']+\\.\\w+)[`']?"),
	regexp.MustCompile("(?:Write|Edit)\\s+tool.*?[`']([^\\s`']+\\.\\w+)[`']"),
	regexp.MustCompile("git\\s+(?:add|diff)\\s+[`']?([^\\s`']+\\.\\w+)[`']?"),
	regexp.MustCompile("File:\\s+[`']?([^\\s`']+\\.\\w+)[`']?"),
}

var testPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:func\s+)?Test(\w+)\s*\(`),
	regexp.MustCompile(`test\s+(\w+)\s+\.\.\.\s+(?:ok|FAILED)`),
	regexp.MustCompile(`---\s+(?:PASS|FAIL):\s+(\w+)`),
}

var reviewIndicators = []string{
	"breaking change",
	"api change",
	"security",
	"authentication",
	"authorization",
	"database migration",
	"schema change",
}

var positiveCompletionIndicators = []string{"implemented", "completed", "added", "created", "test", "pass"}

// Engine evaluates agent output and recommends decisions.
type Engine struct {
	cfg config.DecisionConfig
}

// NewEngine creates a decision engine over the given thresholds.
func NewEngine(cfg config.DecisionConfig) *Engine {
	return &Engine{cfg: cfg}
}

// EvaluateAgentOutput runs the full evaluation pipeline over one
// turn's raw text output.
func (e *Engine) EvaluateAgentOutput(output string) EvaluationResult {
	signal := e.ParseStatusSignal(output)
	filesChanged := e.DetectFilesChanged(output)
	testsAffected := e.DetectTestsAffected(output)
	needsReview := e.CheckNeedsReview(output, filesChanged)

	recommended := e.determineDecision(signal, filesChanged, needsReview)

	return EvaluationResult{
		StatusSignal:        signal,
		FilesChanged:        filesChanged,
		TestsAffected:       testsAffected,
		NeedsReview:         needsReview,
		RecommendedDecision: recommended,
		RawOutput:           output,
	}
}

// ParseStatusSignal extracts a STATUS marker from agent output in any
// of the three accepted prefix forms, falling back to a fenced JSON
// status block.
func (e *Engine) ParseStatusSignal(output string) *StatusSignal {
	for _, pattern := range statusPatterns {
		match := pattern.FindStringSubmatch(output)
		if match == nil {
			continue
		}
		status, ok := statusFromString(match[1])
		if !ok {
			continue
		}
		reason := ""
		if len(match) > 2 {
			reason = strings.TrimSpace(match[2])
		}
		return &StatusSignal{Status: status, Reason: reason}
	}

	if match := jsonStatusPattern.FindStringSubmatch(output); match != nil {
		if status, ok := statusFromString(match[1]); ok {
			return &StatusSignal{Status: status}
		}
	}

	return nil
}

// DetectFilesChanged scans output text for file-change phrasing and
// returns the distinct, plausible file paths it names.
func (e *Engine) DetectFilesChanged(output string) []string {
	var files []string
	seen := map[string]bool{}

	for _, pattern := range fileChangePatterns {
		for _, match := range pattern.FindAllStringSubmatch(output, -1) {
			file := match[1]
			if seen[file] || !isValidFilePath(file) {
				continue
			}
			seen[file] = true
			files = append(files, file)
		}
	}

	return files
}

func isValidFilePath(path string) bool {
	if path == "" || len(path) > 500 {
		return false
	}
	if !strings.Contains(path, ".") {
		return false
	}
	return !strings.Contains(path, "```") && !strings.Contains(path, "  ")
}

// DetectTestsAffected scans output text for test names mentioned in
// test-run or test-definition phrasing.
func (e *Engine) DetectTestsAffected(output string) []string {
	var tests []string
	seen := map[string]bool{}

	for _, pattern := range testPatterns {
		for _, match := range pattern.FindAllStringSubmatch(output, -1) {
			name := match[1]
			if seen[name] || name == "" {
				continue
			}
			seen[name] = true
			tests = append(tests, name)
		}
	}

	return tests
}

// CheckNeedsReview decides whether a code review should be triggered:
// by file-count threshold, by an always-review path match, or by a
// sensitive-change keyword appearing in the output text.
func (e *Engine) CheckNeedsReview(output string, filesChanged []string) bool {
	threshold := e.cfg.ReviewFileThreshold
	if threshold <= 0 {
		threshold = 1
	}
	if len(filesChanged) >= threshold {
		return true
	}

	for _, file := range filesChanged {
		for _, pattern := range e.cfg.AlwaysReviewPaths {
			if strings.Contains(file, pattern) || strings.HasPrefix(file, pattern) {
				return true
			}
		}
	}

	lower := strings.ToLower(output)
	for _, indicator := range reviewIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}

	return false
}

// CheckAcceptanceCriteria heuristically splits a story's acceptance
// criteria into met vs. incomplete based on key-term overlap with the
// agent's output plus a positive-completion indicator.
func (e *Engine) CheckAcceptanceCriteria(criteria []string, output string) (met, incomplete []string) {
	lower := strings.ToLower(output)

	hasPositive := false
	for _, indicator := range positiveCompletionIndicators {
		if strings.Contains(lower, indicator) {
			hasPositive = true
			break
		}
	}

	for _, criterion := range criteria {
		terms := keyTerms(criterion)
		matched := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				matched++
			}
		}

		if len(terms) > 0 && float64(matched)/float64(len(terms)) >= 0.5 && hasPositive {
			met = append(met, criterion)
		} else {
			incomplete = append(incomplete, criterion)
		}
	}

	return met, incomplete
}

func keyTerms(criterion string) []string {
	var terms []string
	for _, word := range strings.Fields(strings.ToLower(criterion)) {
		if len(word) > 3 {
			terms = append(terms, word)
		}
	}
	return terms
}

func (e *Engine) determineDecision(signal *StatusSignal, filesChanged []string, needsReview bool) *Decision {
	if signal != nil {
		switch signal.Status {
		case StatusComplete:
			if needsReview && len(filesChanged) > 0 {
				return &Decision{Kind: KindTriggerReview, FilesChanged: filesChanged, ReviewType: ReviewFull}
			}
			return &Decision{Kind: KindCompleteWork, Summary: signal.Reason}
		case StatusBlocked:
			reason := signal.Reason
			if reason == "" {
				reason = "Agent blocked"
			}
			return &Decision{Kind: KindEscalate, Reason: reason, Severity: SeverityMedium}
		case StatusWaiting:
			return &Decision{Kind: KindWait, WaitType: WaitTimeout, TimeoutSeconds: 300}
		case StatusNeedsInput:
			reason := signal.Reason
			if reason == "" {
				reason = "Agent needs clarification"
			}
			return &Decision{Kind: KindEscalate, Reason: reason, Severity: SeverityLow}
		case StatusError:
			reason := signal.Reason
			if reason == "" {
				reason = "Agent encountered error"
			}
			if e.cfg.AutoEscalateOnError {
				return &Decision{Kind: KindEscalate, Reason: reason, Severity: SeverityHigh}
			}
			return &Decision{Kind: KindRetry, Reason: reason}
		}
	}

	if needsReview && len(filesChanged) > 0 {
		return &Decision{Kind: KindTriggerReview, FilesChanged: filesChanged, ReviewType: ReviewFull}
	}

	return nil
}

var stateTransitions = map[string]string{
	"idle":          "analyzing",
	"analyzing":     "discovering",
	"discovering":   "planning",
	"planning":      "executing",
	"reviewing":     "pr_creation",
	"pr_creation":   "pr_monitoring",
	"pr_monitoring": "pr_merging",
	"pr_merging":    "completing",
	"completing":    "done",
}

// MakeDecision layers the retry-exhaustion override and the
// executing-state review fork on top of EvaluateAgentOutput's
// recommendation, falling back to the FSM's default transition table
// when no recommendation was made.
func (e *Engine) MakeDecision(eval EvaluationResult, currentState string, retryCount int) Decision {
	maxRetries := e.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryCount >= maxRetries {
		return Decision{
			Kind:     KindEscalate,
			Reason:   "Maximum retries exceeded",
			Severity: SeverityHigh,
			Context:  map[string]any{"retry_count": retryCount},
		}
	}

	if eval.RecommendedDecision != nil {
		return *eval.RecommendedDecision
	}

	if currentState == "executing" {
		if eval.NeedsReview {
			return Decision{Kind: KindTransitionState, NewState: "reviewing"}
		}
		return Decision{Kind: KindTransitionState, NewState: "pr_creation"}
	}

	next, ok := stateTransitions[currentState]
	if !ok {
		next = "done"
	}
	return Decision{Kind: KindTransitionState, NewState: next}
}
