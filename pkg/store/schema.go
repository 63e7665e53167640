package store

// schemaStatements holds the orchestrator's semantic tables. The
// literal DDL is an implementation detail, not an external contract,
// but some concrete schema has to back the CRUD operations below.
// There is no per-dialect branching: the statements are written for
// SQLite, and MySQL rejects their TEXT primary keys, which carry no
// key length.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		task TEXT NOT NULL,
		state TEXT NOT NULL,
		worktree TEXT,
		session_id TEXT,
		error_message TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_results TEXT,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_agent ON messages(agent_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP,
		total_tokens INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS session_token_stats (
		session_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		turn_number INTEGER NOT NULL,
		input INTEGER NOT NULL DEFAULT 0,
		output INTEGER NOT NULL DEFAULT 0,
		cache_read INTEGER NOT NULL DEFAULT 0,
		cache_write INTEGER NOT NULL DEFAULT 0,
		estimated_context INTEGER NOT NULL DEFAULT 0,
		messages_included INTEGER NOT NULL DEFAULT 0,
		messages_summarized INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (session_id, turn_number)
	)`,
	`CREATE TABLE IF NOT EXISTS daily_token_usage (
		day TEXT NOT NULL,
		agent_kind TEXT NOT NULL,
		input INTEGER NOT NULL DEFAULT 0,
		output INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (day, agent_kind)
	)`,
	`CREATE TABLE IF NOT EXISTS instructions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL,
		scope TEXT NOT NULL,
		agent_type TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		source TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		tags TEXT,
		penalty_score REAL NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		avg_completion_time REAL NOT NULL DEFAULT 0,
		last_success_at TIMESTAMP,
		last_failure_at TIMESTAMP,
		disabled_cycles INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS instruction_effectiveness (
		instruction_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		success INTEGER NOT NULL,
		completion_time REAL NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS learning_patterns (
		id TEXT PRIMARY KEY,
		pattern_type TEXT NOT NULL,
		agent_type TEXT,
		signature TEXT NOT NULL,
		occurrence_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		generated_instruction_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_patterns_signature ON learning_patterns(signature)`,
	`CREATE TABLE IF NOT EXISTS experiments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		min_samples INTEGER NOT NULL,
		confidence REAL NOT NULL,
		winning_variant_id TEXT,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS experiment_variants (
		id TEXT PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		instruction_id TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS experiment_results (
		variant_id TEXT NOT NULL,
		success INTEGER NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS epics (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		status TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stories (
		id TEXT PRIMARY KEY,
		epic_id TEXT,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		acceptance_criteria TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS autonomous_sessions (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		current_epic_id TEXT,
		current_story_id TEXT,
		work_queue TEXT,
		completed_items TEXT,
		metrics TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS stuck_detections (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		session_id TEXT,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		details TEXT,
		detected_at TIMESTAMP NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		resolution_action TEXT,
		resolved_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS recovery_attempts (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		detection_id TEXT,
		action_type TEXT NOT NULL,
		outcome TEXT NOT NULL,
		attempt_number INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		error_message TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS edge_case_events (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		agent_id TEXT,
		story_id TEXT,
		type TEXT NOT NULL,
		resolution TEXT NOT NULL,
		action_taken TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		detected_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS review_iterations (
		id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		reviewer_type TEXT NOT NULL,
		verdict TEXT NOT NULL,
		issue_count INTEGER NOT NULL DEFAULT 0,
		blocking_issue_count INTEGER NOT NULL DEFAULT 0,
		escalation_level INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS automation_actions (
		id TEXT PRIMARY KEY,
		action_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		target_name TEXT NOT NULL,
		reason TEXT NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	)`,
}
