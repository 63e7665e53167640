package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RecordStuckDetection inserts a new StuckDetection.
func (s *Store) RecordStuckDetection(d StuckDetection) error {
	detailsJSON, err := json.Marshal(d.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO stuck_detections (id, agent_id, session_id, type, severity, details, detected_at, resolved, resolution_action, resolved_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.AgentID, nullString(d.SessionID), d.Type, d.Severity, string(detailsJSON), d.DetectedAt,
		d.Resolved, nullString(d.ResolutionAction), d.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("record stuck detection: %w", err)
	}
	return nil
}

// ResolveStuckDetection marks a detection resolved with the action
// that resolved it.
func (s *Store) ResolveStuckDetection(id, resolutionAction string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE stuck_detections SET resolved = 1, resolution_action = ?, resolved_at = ? WHERE id = ?`,
		resolutionAction, at, id,
	)
	if err != nil {
		return fmt.Errorf("resolve stuck detection: %w", err)
	}
	return nil
}

// RecordRecoveryAttempt inserts a new RecoveryAttempt.
func (s *Store) RecordRecoveryAttempt(r RecoveryAttempt) error {
	_, err := s.db.Exec(
		`INSERT INTO recovery_attempts (id, agent_id, detection_id, action_type, outcome, attempt_number, started_at, completed_at, error_message)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		r.ID, r.AgentID, nullString(r.DetectionID), r.ActionType, r.Outcome, r.AttemptNumber, r.StartedAt,
		r.CompletedAt, nullString(r.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("record recovery attempt: %w", err)
	}
	return nil
}

// CountRecoveryAttempts returns how many attempts of a given action
// type have already been made for an agent — the `attempts_so_far` map
// the Recovery Selector needs.
func (s *Store) CountRecoveryAttempts(agentID, actionType string) (int, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*) FROM recovery_attempts WHERE agent_id = ? AND action_type = ?`, agentID, actionType)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count recovery attempts: %w", err)
	}
	return n, nil
}

// RecordEdgeCaseEvent inserts a new EdgeCaseEvent.
func (s *Store) RecordEdgeCaseEvent(e EdgeCaseEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO edge_case_events (id, session_id, agent_id, story_id, type, resolution, action_taken, retry_count, detected_at, resolved_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, nullString(e.SessionID), nullString(e.AgentID), nullString(e.StoryID), e.Type, e.Resolution,
		nullString(e.ActionTaken), e.RetryCount, e.DetectedAt, e.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("record edge case event: %w", err)
	}
	return nil
}

// ListEdgeCaseEvents returns every EdgeCaseEvent for a session, for the
// operational interface's audit/listing surface.
func (s *Store) ListEdgeCaseEvents(sessionID string) ([]EdgeCaseEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, agent_id, story_id, type, resolution, action_taken, retry_count, detected_at, resolved_at
		 FROM edge_case_events WHERE session_id = ? ORDER BY detected_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list edge case events: %w", err)
	}
	defer rows.Close()

	var out []EdgeCaseEvent
	for rows.Next() {
		var e EdgeCaseEvent
		var sessionIDv, agentID, storyID, actionTaken sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&e.ID, &sessionIDv, &agentID, &storyID, &e.Type, &e.Resolution, &actionTaken,
			&e.RetryCount, &e.DetectedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan edge case event: %w", err)
		}
		e.SessionID, e.AgentID, e.StoryID, e.ActionTaken = stringOrEmpty(sessionIDv), stringOrEmpty(agentID), stringOrEmpty(storyID), stringOrEmpty(actionTaken)
		if resolvedAt.Valid {
			t := resolvedAt.Time
			e.ResolvedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordReviewIteration inserts a new ReviewIteration.
func (s *Store) RecordReviewIteration(r ReviewIteration) error {
	_, err := s.db.Exec(
		`INSERT INTO review_iterations (id, story_id, iteration, reviewer_type, verdict, issue_count, blocking_issue_count, escalation_level)
		 VALUES (?,?,?,?,?,?,?,?)`,
		r.ID, r.StoryID, r.Iteration, r.ReviewerType, r.Verdict, r.IssueCount, r.BlockingIssueCount, r.EscalationLevel,
	)
	if err != nil {
		return fmt.Errorf("record review iteration: %w", err)
	}
	return nil
}

// LastReviewIteration returns the most recent ReviewIteration for a
// story, if any.
func (s *Store) LastReviewIteration(storyID string) (ReviewIteration, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, story_id, iteration, reviewer_type, verdict, issue_count, blocking_issue_count, escalation_level
		 FROM review_iterations WHERE story_id = ? ORDER BY iteration DESC LIMIT 1`, storyID)
	var r ReviewIteration
	if err := row.Scan(&r.ID, &r.StoryID, &r.Iteration, &r.ReviewerType, &r.Verdict, &r.IssueCount, &r.BlockingIssueCount, &r.EscalationLevel); err != nil {
		if err == sql.ErrNoRows {
			return ReviewIteration{}, false, nil
		}
		return ReviewIteration{}, false, fmt.Errorf("last review iteration: %w", err)
	}
	return r, true, nil
}
