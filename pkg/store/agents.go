package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateAgent inserts a new Agent row.
func (s *Store) CreateAgent(a Agent) error {
	_, err := s.db.Exec(
		`INSERT INTO agents (id, kind, task, state, worktree, session_id, error_message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Kind, a.Task, a.State, nullString(a.Worktree), nullString(a.SessionID),
		nullString(a.ErrorMessage), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// UpdateAgentState persists a new Agent state. Callers are responsible
// for having already validated the transition is legal (see
// pkg/agentloop's state graph) — invariant "error_message is set iff
// state = Failed" is enforced here.
func (s *Store) UpdateAgentState(agentID string, newState AgentState, errorMessage string, at time.Time) error {
	if newState != AgentFailed {
		errorMessage = ""
	}
	_, err := s.db.Exec(
		`UPDATE agents SET state = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		newState, nullString(errorMessage), at, agentID,
	)
	if err != nil {
		return fmt.Errorf("update agent state: %w", err)
	}
	return nil
}

// SetAgentSession records the Session an agent is currently using.
func (s *Store) SetAgentSession(agentID, sessionID string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE agents SET session_id = ?, updated_at = ? WHERE id = ?`, sessionID, at, agentID)
	if err != nil {
		return fmt.Errorf("set agent session: %w", err)
	}
	return nil
}

// GetAgent loads one Agent by id.
func (s *Store) GetAgent(agentID string) (Agent, error) {
	row := s.db.QueryRow(
		`SELECT id, kind, task, state, worktree, session_id, error_message, created_at, updated_at
		 FROM agents WHERE id = ?`, agentID)
	var a Agent
	var worktree, sessionID, errMsg sql.NullString
	if err := row.Scan(&a.ID, &a.Kind, &a.Task, &a.State, &worktree, &sessionID, &errMsg, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Agent{}, fmt.Errorf("get agent: %w", err)
	}
	a.Worktree, a.SessionID, a.ErrorMessage = stringOrEmpty(worktree), stringOrEmpty(sessionID), stringOrEmpty(errMsg)
	return a, nil
}

// AppendMessage inserts one append-only Message row. Invariant:
// callers append in created_at order; the store never reorders.
func (s *Store) AppendMessage(m Message) error {
	toolCallsJSON, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool_calls: %w", err)
	}
	toolResultsJSON, err := json.Marshal(m.ToolResults)
	if err != nil {
		return fmt.Errorf("marshal tool_results: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO messages (id, agent_id, role, content, tool_calls, tool_results, input_tokens, output_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AgentID, m.Role, m.Content, string(toolCallsJSON), string(toolResultsJSON),
		m.InputTokens, m.OutputTokens, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns every Message for an agent, ordered by
// created_at — the order a reader is guaranteed to observe.
func (s *Store) ListMessages(agentID string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, agent_id, role, content, tool_calls, tool_results, input_tokens, output_tokens, created_at
		 FROM messages WHERE agent_id = ? ORDER BY created_at ASC, id ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var toolCallsJSON, toolResultsJSON string
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Role, &m.Content, &toolCallsJSON, &toolResultsJSON,
			&m.InputTokens, &m.OutputTokens, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(toolCallsJSON), &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal tool_calls: %w", err)
		}
		if err := json.Unmarshal([]byte(toolResultsJSON), &m.ToolResults); err != nil {
			return nil, fmt.Errorf("unmarshal tool_results: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateSession opens a new token-accounting Session.
func (s *Store) CreateSession(sess Session) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, agent_id, started_at, closed_at, total_tokens) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.AgentID, sess.StartedAt, sess.ClosedAt, sess.TotalTokens,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// CloseSession marks a Session closed and records its final token total.
// Token counters are monotone-nondecreasing; callers must pass a
// totalTokens ≥ the session's running total.
func (s *Store) CloseSession(sessionID string, closedAt time.Time, totalTokens int) error {
	_, err := s.db.Exec(`UPDATE sessions SET closed_at = ?, total_tokens = ? WHERE id = ?`, closedAt, totalTokens, sessionID)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// RecordTurnTokens appends one TurnTokenRecord.
func (s *Store) RecordTurnTokens(r TurnTokenRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO session_token_stats
		 (session_id, agent_id, turn_number, input, output, cache_read, cache_write, estimated_context, messages_included, messages_summarized)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.AgentID, r.TurnNumber, r.Input, r.Output, r.CacheRead, r.CacheWrite,
		r.EstimatedContext, r.MessagesIncluded, r.MessagesSummarized,
	)
	if err != nil {
		return fmt.Errorf("record turn tokens: %w", err)
	}
	return nil
}

// AddDailyTokenUsage accumulates today's token usage for an agent kind.
func (s *Store) AddDailyTokenUsage(day string, kind AgentKind, input, output int) error {
	_, err := s.db.Exec(
		`INSERT INTO daily_token_usage (day, agent_kind, input, output) VALUES (?, ?, ?, ?)
		 ON CONFLICT(day, agent_kind) DO UPDATE SET input = input + excluded.input, output = output + excluded.output`,
		day, kind, input, output,
	)
	if err != nil {
		return fmt.Errorf("add daily token usage: %w", err)
	}
	return nil
}
