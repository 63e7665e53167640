// Package store is the Persistent Store adapter (component K):
// abstract CRUD and counter-update operations over every orchestrator
// entity, behind a pooled database/sql handle. SQLite is the default
// dialect, run single-writer with connection pooling and one writer at
// a time, database-enforced. The postgres and mysql drivers are linked
// and Open connects through them, but the statements are written for
// SQLite ('?' placeholders, ON CONFLICT ... excluded upserts, TEXT
// primary keys) and are not rewritten per dialect.
package store

import "time"

// AgentKind is the closed set of agent roles the orchestrator knows.
type AgentKind string

const (
	StoryDeveloper     AgentKind = "story_developer"
	CodeReviewer       AgentKind = "code_reviewer"
	IssueFixer         AgentKind = "issue_fixer"
	Explorer           AgentKind = "explorer"
	BmadOrchestrator   AgentKind = "bmad_orchestrator"
	BmadPlanner        AgentKind = "bmad_planner"
	PrShepherd         AgentKind = "pr_shepherd"
	PrController       AgentKind = "pr_controller"
	ConflictResolver   AgentKind = "conflict_resolver"
	BackgroundController AgentKind = "background_controller"
	Scheduler          AgentKind = "scheduler"
)

// AgentState is the closed set of agent lifecycle states. Transitions
// obey the fixed graph in AgentStateGraph (agentloop package).
type AgentState string

const (
	AgentPending            AgentState = "pending"
	AgentInitializing       AgentState = "initializing"
	AgentRunning            AgentState = "running"
	AgentPaused             AgentState = "paused"
	AgentWaitingForExternal AgentState = "waiting_for_external"
	AgentCompleted          AgentState = "completed"
	AgentFailed             AgentState = "failed"
	AgentTerminated         AgentState = "terminated"
)

// Agent is a single controller-spawned worker running a turn loop.
type Agent struct {
	ID           string
	Kind         AgentKind
	Task         string
	State        AgentState
	Worktree     string
	SessionID    string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role is the closed set of message roles.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation an Assistant message requested.
type ToolCall struct {
	ID    string
	Name  string
	Input string // JSON-encoded input
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Message is one append-only entry in an agent's conversation log.
type Message struct {
	ID           string
	AgentID      string
	Role         Role
	Content      string
	ToolCalls    []ToolCall
	ToolResults  []ToolResult
	InputTokens  int
	OutputTokens int
	CreatedAt    time.Time
}

// Session groups a sequence of turns for token accounting.
type Session struct {
	ID          string
	AgentID     string
	StartedAt   time.Time
	ClosedAt    *time.Time
	TotalTokens int
}

// TurnTokenRecord is one turn's token accounting snapshot.
type TurnTokenRecord struct {
	SessionID          string
	AgentID            string
	TurnNumber         int
	Input              int
	Output             int
	CacheRead          int
	CacheWrite         int
	EstimatedContext   int
	MessagesIncluded   int
	MessagesSummarized int
}

// InstructionScope is Global or AgentType.
type InstructionScope string

const (
	ScopeGlobal    InstructionScope = "global"
	ScopeAgentType InstructionScope = "agent_type"
)

// InstructionSource records how a CustomInstruction came to exist.
type InstructionSource string

const (
	SourceManual     InstructionSource = "manual"
	SourceLearned    InstructionSource = "learned"
	SourceExperiment InstructionSource = "experiment"
)

// CustomInstruction is a snippet injected into an agent's dynamic
// prompt suffix.
type CustomInstruction struct {
	ID                string
	Name              string
	Content           string
	Scope             InstructionScope
	AgentType         AgentKind
	Priority          int
	Enabled           bool
	Source            InstructionSource
	Confidence        float64
	Tags              []string
	PenaltyScore      float64
	UsageCount        int
	SuccessCount      int
	FailureCount      int
	AvgCompletionTime float64
	LastSuccessAt     *time.Time
	LastFailureAt     *time.Time
	// DisabledCycles counts how many automation cycles this instruction
	// has stayed disabled and still ineffective; it resets to 0 whenever
	// the instruction is re-enabled.
	DisabledCycles int
}

// PatternStatus tracks a LearningPattern's promotion lifecycle.
type PatternStatus string

const (
	PatternObserved PatternStatus = "observed"
	PatternPending  PatternStatus = "pending"
	PatternApproved PatternStatus = "approved"
	PatternRejected PatternStatus = "rejected"
)

// LearningPattern is a recurrent signature over failed runs.
type LearningPattern struct {
	ID                    string
	PatternType           string
	AgentType             AgentKind
	Signature             string
	OccurrenceCount       int
	Status                PatternStatus
	GeneratedInstructionID string
}

// AutomationActionType classifies one action the Learning Automation
// cycle took, for its audit trail.
type AutomationActionType string

const (
	ActionSuggestionCreated   AutomationActionType = "suggestion_created"
	ActionInstructionDisabled AutomationActionType = "instruction_disabled"
	ActionInstructionDeleted  AutomationActionType = "instruction_deleted"
	ActionExperimentPromoted  AutomationActionType = "experiment_promoted"
	ActionPatternCreated      AutomationActionType = "pattern_created"
)

// AutomationAction is one audited step of a Learning Automation cycle.
type AutomationAction struct {
	ID         string
	ActionType AutomationActionType
	TargetID   string
	TargetName string
	Reason     string
	RecordedAt time.Time
}

// Epic and Story seed the controller's work queue.
type Epic struct {
	ID     string
	Title  string
	Status string
}

type Story struct {
	ID                 string
	EpicID             string
	Title              string
	Status             string
	AcceptanceCriteria []string
}

// SessionState is the closed set of Autonomous Session Controller states.
type SessionState string

const (
	SessIdle        SessionState = "idle"
	SessAnalyzing   SessionState = "analyzing"
	SessDiscovering SessionState = "discovering"
	SessPlanning    SessionState = "planning"
	SessExecuting   SessionState = "executing"
	SessReviewing   SessionState = "reviewing"
	SessPrCreation  SessionState = "pr_creation"
	SessPrMonitoring SessionState = "pr_monitoring"
	SessPrMerging   SessionState = "pr_merging"
	SessCompleting  SessionState = "completing"
	SessBlocked     SessionState = "blocked"
	SessPaused      SessionState = "paused"
	SessDone        SessionState = "done"
)

// WorkItem is a unit the controller pops from its queue.
type WorkItem struct {
	Kind          string
	TargetID      string
	Priority      int
	AttemptNumber int
}

// CompletedItem records the outcome of one processed WorkItem.
type CompletedItem struct {
	ID         string
	Success    bool
	DurationMS int64
	Iterations int
}

// Metrics accumulates counters across an AutonomousSession's run.
type Metrics struct {
	StoriesCompleted int
	StoriesFailed    int
	ReviewsPassed    int
	ReviewsFailed    int
	TotalIterations  int
	AgentsSpawned    int
	TokensUsed       int64
}

// AutonomousSession is the controller's top-level FSM instance.
type AutonomousSession struct {
	ID             string
	State          SessionState
	CurrentEpicID  string
	CurrentStoryID string
	WorkQueue      []WorkItem
	CompletedItems []CompletedItem
	Metrics        Metrics
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// StuckType is the closed set of eight categorical stuck kinds.
type StuckType string

const (
	StuckTurnLimit     StuckType = "turn_limit"
	StuckNoProgress    StuckType = "no_progress"
	StuckCiTimeout     StuckType = "ci_timeout"
	StuckReviewDelay   StuckType = "review_delay"
	StuckMergeConflict StuckType = "merge_conflict"
	StuckRateLimit     StuckType = "rate_limit"
	StuckContextLimit  StuckType = "context_limit"
	StuckErrorLoop     StuckType = "error_loop"
)

// StuckSeverity ranks how urgently a StuckDetection needs handling.
type StuckSeverity string

const (
	SeverityLow      StuckSeverity = "low"
	SeverityMedium   StuckSeverity = "medium"
	SeverityHigh     StuckSeverity = "high"
	SeverityCritical StuckSeverity = "critical"
)

// StuckDetection is a structured finding that an agent has stalled.
type StuckDetection struct {
	ID               string
	AgentID          string
	SessionID        string
	Type             StuckType
	Severity         StuckSeverity
	Details          map[string]interface{}
	DetectedAt       time.Time
	Resolved         bool
	ResolutionAction string
	ResolvedAt       *time.Time
}

// RecoveryOutcome is the closed set of RecoveryAttempt results.
type RecoveryOutcome string

const (
	OutcomeSuccess    RecoveryOutcome = "success"
	OutcomeFailed     RecoveryOutcome = "failed"
	OutcomeInProgress RecoveryOutcome = "in_progress"
	OutcomeCancelled  RecoveryOutcome = "cancelled"
	OutcomeSkipped    RecoveryOutcome = "skipped"
)

// RecoveryAttempt records one executed recovery action.
type RecoveryAttempt struct {
	ID            string
	AgentID       string
	DetectionID   string
	ActionType    string
	Outcome       RecoveryOutcome
	AttemptNumber int
	StartedAt     time.Time
	CompletedAt   *time.Time
	ErrorMessage  string
}

// EdgeCaseResolution is the closed set of EdgeCaseEvent resolutions.
type EdgeCaseResolution string

const (
	ResolutionAuto     EdgeCaseResolution = "auto_resolved"
	ResolutionManual   EdgeCaseResolution = "manual_resolved"
	ResolutionBypassed EdgeCaseResolution = "bypassed"
)

// EdgeCaseEvent is an unexpected-condition ledger entry.
type EdgeCaseEvent struct {
	ID          string
	SessionID   string
	AgentID     string
	StoryID     string
	Type        string
	Resolution  EdgeCaseResolution
	ActionTaken string
	RetryCount  int
	DetectedAt  time.Time
	ResolvedAt  *time.Time
}

// ReviewerType is the closed set of review-performing actors.
type ReviewerType string

const (
	ReviewerAutomated ReviewerType = "automated"
	ReviewerHuman     ReviewerType = "human"
	ReviewerCopilot   ReviewerType = "copilot"
	ReviewerExternal  ReviewerType = "external"
)

// ReviewVerdict is the closed set of review outcomes.
type ReviewVerdict string

const (
	VerdictApproved         ReviewVerdict = "approved"
	VerdictChangesRequested ReviewVerdict = "changes_requested"
	VerdictNeedsDiscussion  ReviewVerdict = "needs_discussion"
	VerdictPending          ReviewVerdict = "pending"
)

// EscalationLevel is the closed lattice of review-escalation levels,
// ordered None < SuggestHuman < RequireHuman < Senior < Block.
type EscalationLevel int

const (
	EscalationNone EscalationLevel = iota
	EscalationSuggestHuman
	EscalationRequireHuman
	EscalationSenior
	EscalationBlock
)

// ReviewIteration is one round of code review on a Story.
type ReviewIteration struct {
	ID                string
	StoryID           string
	Iteration         int
	ReviewerType       ReviewerType
	Verdict            ReviewVerdict
	IssueCount         int
	BlockingIssueCount int
	EscalationLevel    EscalationLevel
}
