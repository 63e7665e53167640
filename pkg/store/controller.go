package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// CreateEpic inserts a new Epic.
func (s *Store) CreateEpic(e Epic) error {
	_, err := s.db.Exec(`INSERT INTO epics (id, title, status) VALUES (?, ?, ?)`, e.ID, e.Title, e.Status)
	if err != nil {
		return fmt.Errorf("create epic: %w", err)
	}
	return nil
}

// CreateStory inserts a new Story.
func (s *Store) CreateStory(st Story) error {
	criteriaJSON, err := json.Marshal(st.AcceptanceCriteria)
	if err != nil {
		return fmt.Errorf("marshal acceptance criteria: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO stories (id, epic_id, title, status, acceptance_criteria) VALUES (?, ?, ?, ?, ?)`,
		st.ID, nullString(st.EpicID), st.Title, st.Status, string(criteriaJSON),
	)
	if err != nil {
		return fmt.Errorf("create story: %w", err)
	}
	return nil
}

// UpdateStoryStatus persists a Story's new status.
func (s *Store) UpdateStoryStatus(storyID, status string) error {
	_, err := s.db.Exec(`UPDATE stories SET status = ? WHERE id = ?`, status, storyID)
	if err != nil {
		return fmt.Errorf("update story status: %w", err)
	}
	return nil
}

// GetStory loads one Story by id.
func (s *Store) GetStory(storyID string) (Story, error) {
	row := s.db.QueryRow(
		`SELECT id, epic_id, title, status, acceptance_criteria FROM stories WHERE id = ?`, storyID)
	var st Story
	var epicID sql.NullString
	var criteriaJSON string
	if err := row.Scan(&st.ID, &epicID, &st.Title, &st.Status, &criteriaJSON); err != nil {
		return Story{}, fmt.Errorf("get story: %w", err)
	}
	st.EpicID = stringOrEmpty(epicID)
	if err := json.Unmarshal([]byte(criteriaJSON), &st.AcceptanceCriteria); err != nil {
		return Story{}, fmt.Errorf("unmarshal acceptance criteria: %w", err)
	}
	return st, nil
}

// SaveAutonomousSession upserts the single controller session row.
// Invariant: exactly one session per controller process is
// non-terminal; the controller is responsible for only ever having one
// active id.
func (s *Store) SaveAutonomousSession(sess AutonomousSession) error {
	queueJSON, err := json.Marshal(sess.WorkQueue)
	if err != nil {
		return fmt.Errorf("marshal work queue: %w", err)
	}
	completedJSON, err := json.Marshal(sess.CompletedItems)
	if err != nil {
		return fmt.Errorf("marshal completed items: %w", err)
	}
	metricsJSON, err := json.Marshal(sess.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO autonomous_sessions (id, state, current_epic_id, current_story_id, work_queue, completed_items, metrics, started_at, completed_at)
		 VALUES (?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET state=excluded.state, current_epic_id=excluded.current_epic_id,
		   current_story_id=excluded.current_story_id, work_queue=excluded.work_queue,
		   completed_items=excluded.completed_items, metrics=excluded.metrics, completed_at=excluded.completed_at`,
		sess.ID, sess.State, nullString(sess.CurrentEpicID), nullString(sess.CurrentStoryID),
		string(queueJSON), string(completedJSON), string(metricsJSON), sess.StartedAt, sess.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save autonomous session: %w", err)
	}
	return nil
}

// GetAutonomousSession loads the controller session by id.
func (s *Store) GetAutonomousSession(id string) (AutonomousSession, error) {
	row := s.db.QueryRow(
		`SELECT id, state, current_epic_id, current_story_id, work_queue, completed_items, metrics, started_at, completed_at
		 FROM autonomous_sessions WHERE id = ?`, id)
	var sess AutonomousSession
	var epicID, storyID sql.NullString
	var queueJSON, completedJSON, metricsJSON string
	if err := row.Scan(&sess.ID, &sess.State, &epicID, &storyID, &queueJSON, &completedJSON, &metricsJSON,
		&sess.StartedAt, &sess.CompletedAt); err != nil {
		return AutonomousSession{}, fmt.Errorf("get autonomous session: %w", err)
	}
	sess.CurrentEpicID, sess.CurrentStoryID = stringOrEmpty(epicID), stringOrEmpty(storyID)
	if err := json.Unmarshal([]byte(queueJSON), &sess.WorkQueue); err != nil {
		return AutonomousSession{}, fmt.Errorf("unmarshal work queue: %w", err)
	}
	if err := json.Unmarshal([]byte(completedJSON), &sess.CompletedItems); err != nil {
		return AutonomousSession{}, fmt.Errorf("unmarshal completed items: %w", err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &sess.Metrics); err != nil {
		return AutonomousSession{}, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return sess, nil
}
