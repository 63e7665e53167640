package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// UpsertInstruction inserts or replaces a CustomInstruction by id.
func (s *Store) UpsertInstruction(ins CustomInstruction) error {
	tagsJSON, err := json.Marshal(ins.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO instructions
		 (id, name, content, scope, agent_type, priority, enabled, source, confidence, tags, penalty_score,
		  usage_count, success_count, failure_count, avg_completion_time, last_success_at, last_failure_at, disabled_cycles)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, content=excluded.content, scope=excluded.scope, agent_type=excluded.agent_type,
		   priority=excluded.priority, enabled=excluded.enabled, source=excluded.source, confidence=excluded.confidence,
		   tags=excluded.tags, penalty_score=excluded.penalty_score, usage_count=excluded.usage_count,
		   success_count=excluded.success_count, failure_count=excluded.failure_count,
		   avg_completion_time=excluded.avg_completion_time, last_success_at=excluded.last_success_at,
		   last_failure_at=excluded.last_failure_at, disabled_cycles=excluded.disabled_cycles`,
		ins.ID, ins.Name, ins.Content, ins.Scope, nullString(string(ins.AgentType)), ins.Priority, ins.Enabled,
		ins.Source, ins.Confidence, string(tagsJSON), ins.PenaltyScore,
		ins.UsageCount, ins.SuccessCount, ins.FailureCount, ins.AvgCompletionTime, ins.LastSuccessAt, ins.LastFailureAt,
		ins.DisabledCycles,
	)
	if err != nil {
		return fmt.Errorf("upsert instruction: %w", err)
	}
	return nil
}

// ListEnabledInstructions returns enabled instructions applicable to an
// agent kind (Global scope, or AgentType scope matching kind), ordered
// by descending priority: enabled instructions with higher priority are
// injected into the prompt first.
func (s *Store) ListEnabledInstructions(kind AgentKind) ([]CustomInstruction, error) {
	rows, err := s.db.Query(
		`SELECT id, name, content, scope, agent_type, priority, enabled, source, confidence, tags, penalty_score,
		        usage_count, success_count, failure_count, avg_completion_time, last_success_at, last_failure_at, disabled_cycles
		 FROM instructions
		 WHERE enabled = 1 AND (scope = ? OR (scope = ? AND agent_type = ?))
		 ORDER BY priority DESC`,
		ScopeGlobal, ScopeAgentType, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("list enabled instructions: %w", err)
	}
	defer rows.Close()
	return scanInstructions(rows)
}

// GetInstruction returns one instruction by id.
func (s *Store) GetInstruction(id string) (CustomInstruction, bool, error) {
	rows, err := s.db.Query(
		`SELECT id, name, content, scope, agent_type, priority, enabled, source, confidence, tags, penalty_score,
		        usage_count, success_count, failure_count, avg_completion_time, last_success_at, last_failure_at, disabled_cycles
		 FROM instructions WHERE id = ?`, id)
	if err != nil {
		return CustomInstruction{}, false, fmt.Errorf("get instruction: %w", err)
	}
	defer rows.Close()
	instructions, err := scanInstructions(rows)
	if err != nil {
		return CustomInstruction{}, false, err
	}
	if len(instructions) == 0 {
		return CustomInstruction{}, false, nil
	}
	return instructions[0], true, nil
}

// ListInstructions returns every instruction, for automation sweeps.
func (s *Store) ListInstructions() ([]CustomInstruction, error) {
	rows, err := s.db.Query(
		`SELECT id, name, content, scope, agent_type, priority, enabled, source, confidence, tags, penalty_score,
		        usage_count, success_count, failure_count, avg_completion_time, last_success_at, last_failure_at, disabled_cycles
		 FROM instructions`)
	if err != nil {
		return nil, fmt.Errorf("list instructions: %w", err)
	}
	defer rows.Close()
	return scanInstructions(rows)
}

func scanInstructions(rows *sql.Rows) ([]CustomInstruction, error) {
	var out []CustomInstruction
	for rows.Next() {
		var ins CustomInstruction
		var agentType sql.NullString
		var tagsJSON string
		var enabled bool
		var lastSuccess, lastFailure sql.NullTime
		if err := rows.Scan(&ins.ID, &ins.Name, &ins.Content, &ins.Scope, &agentType, &ins.Priority, &enabled,
			&ins.Source, &ins.Confidence, &tagsJSON, &ins.PenaltyScore, &ins.UsageCount, &ins.SuccessCount,
			&ins.FailureCount, &ins.AvgCompletionTime, &lastSuccess, &lastFailure, &ins.DisabledCycles); err != nil {
			return nil, fmt.Errorf("scan instruction: %w", err)
		}
		ins.AgentType = AgentKind(stringOrEmpty(agentType))
		ins.Enabled = enabled
		if err := json.Unmarshal([]byte(tagsJSON), &ins.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		if lastSuccess.Valid {
			t := lastSuccess.Time
			ins.LastSuccessAt = &t
		}
		if lastFailure.Valid {
			t := lastFailure.Time
			ins.LastFailureAt = &t
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

// DeleteInstruction permanently removes an instruction, used by the
// automation cycle's deletion-eligibility sweep.
func (s *Store) DeleteInstruction(id string) error {
	_, err := s.db.Exec(`DELETE FROM instructions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete instruction: %w", err)
	}
	return nil
}

// RecordInstructionEffectiveness logs one outcome observation so the
// Learning Engine's audit trail is replayable from committed data;
// background learning only ever reads committed rows, never in-flight
// agent state.
func (s *Store) RecordInstructionEffectiveness(instructionID, agentID string, success bool, completionTime float64, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO instruction_effectiveness (instruction_id, agent_id, success, completion_time, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		instructionID, agentID, success, completionTime, at,
	)
	if err != nil {
		return fmt.Errorf("record instruction effectiveness: %w", err)
	}
	return nil
}

// UpsertPattern inserts p or, when a row with p.ID already exists,
// overwrites its occurrence count, status and generated instruction id
// with p's values; callers compute the new count themselves.
func (s *Store) UpsertPattern(p LearningPattern) error {
	_, err := s.db.Exec(
		`INSERT INTO learning_patterns (id, pattern_type, agent_type, signature, occurrence_count, status, generated_instruction_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET occurrence_count=excluded.occurrence_count, status=excluded.status,
		   generated_instruction_id=excluded.generated_instruction_id`,
		p.ID, p.PatternType, nullString(string(p.AgentType)), p.Signature, p.OccurrenceCount, p.Status,
		nullString(p.GeneratedInstructionID),
	)
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}

// FindPatternBySignature looks up a pattern by its mining signature,
// for incrementing occurrence_count on repeat observations.
func (s *Store) FindPatternBySignature(signature string) (LearningPattern, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, pattern_type, agent_type, signature, occurrence_count, status, generated_instruction_id
		 FROM learning_patterns WHERE signature = ?`, signature)
	var p LearningPattern
	var agentType, generatedID sql.NullString
	if err := row.Scan(&p.ID, &p.PatternType, &agentType, &p.Signature, &p.OccurrenceCount, &p.Status, &generatedID); err != nil {
		if err == sql.ErrNoRows {
			return LearningPattern{}, false, nil
		}
		return LearningPattern{}, false, fmt.Errorf("find pattern: %w", err)
	}
	p.AgentType = AgentKind(stringOrEmpty(agentType))
	p.GeneratedInstructionID = stringOrEmpty(generatedID)
	return p, true, nil
}

// RecordAutomationAction appends one audited automation step.
func (s *Store) RecordAutomationAction(a AutomationAction) error {
	_, err := s.db.Exec(
		`INSERT INTO automation_actions (id, action_type, target_id, target_name, reason, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.ActionType, a.TargetID, a.TargetName, a.Reason, a.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("record automation action: %w", err)
	}
	return nil
}

// ListAutomationActions returns every recorded automation action,
// newest first, for the operational audit surface.
func (s *Store) ListAutomationActions() ([]AutomationAction, error) {
	rows, err := s.db.Query(
		`SELECT id, action_type, target_id, target_name, reason, recorded_at
		 FROM automation_actions ORDER BY recorded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list automation actions: %w", err)
	}
	defer rows.Close()

	var out []AutomationAction
	for rows.Next() {
		var a AutomationAction
		if err := rows.Scan(&a.ID, &a.ActionType, &a.TargetID, &a.TargetName, &a.Reason, &a.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan automation action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListPatternsByStatus returns every pattern in a given status, for the
// automation cycle's promotion sweep.
func (s *Store) ListPatternsByStatus(status PatternStatus) ([]LearningPattern, error) {
	rows, err := s.db.Query(
		`SELECT id, pattern_type, agent_type, signature, occurrence_count, status, generated_instruction_id
		 FROM learning_patterns WHERE status = ?`, status)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []LearningPattern
	for rows.Next() {
		var p LearningPattern
		var agentType, generatedID sql.NullString
		if err := rows.Scan(&p.ID, &p.PatternType, &agentType, &p.Signature, &p.OccurrenceCount, &p.Status, &generatedID); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.AgentType = AgentKind(stringOrEmpty(agentType))
		p.GeneratedInstructionID = stringOrEmpty(generatedID)
		out = append(out, p)
	}
	return out, rows.Err()
}
