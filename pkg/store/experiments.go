package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ExperimentStatus is the closed set of A/B experiment lifecycle states.
type ExperimentStatus string

const (
	ExperimentRunning   ExperimentStatus = "running"
	ExperimentCompleted ExperimentStatus = "completed"
)

// Experiment is an A/B test over two or more instruction variants.
type Experiment struct {
	ID               string
	Name             string
	Status           ExperimentStatus
	MinSamples       int
	Confidence       float64
	WinningVariantID string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// ExperimentVariant is one instruction variant under test.
type ExperimentVariant struct {
	ID            string
	ExperimentID  string
	InstructionID string
}

// CreateExperiment inserts a new running Experiment.
func (s *Store) CreateExperiment(e Experiment) error {
	_, err := s.db.Exec(
		`INSERT INTO experiments (id, name, status, min_samples, confidence, winning_variant_id, created_at, completed_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.Name, e.Status, e.MinSamples, e.Confidence, nullString(e.WinningVariantID), e.CreatedAt, e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("create experiment: %w", err)
	}
	return nil
}

// AddExperimentVariant registers one variant under an experiment.
func (s *Store) AddExperimentVariant(v ExperimentVariant) error {
	_, err := s.db.Exec(
		`INSERT INTO experiment_variants (id, experiment_id, instruction_id) VALUES (?, ?, ?)`,
		v.ID, v.ExperimentID, v.InstructionID,
	)
	if err != nil {
		return fmt.Errorf("add experiment variant: %w", err)
	}
	return nil
}

// RecordExperimentResult logs one variant trial outcome.
func (s *Store) RecordExperimentResult(variantID string, success bool, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO experiment_results (variant_id, success, recorded_at) VALUES (?, ?, ?)`,
		variantID, success, at,
	)
	if err != nil {
		return fmt.Errorf("record experiment result: %w", err)
	}
	return nil
}

// ListRunningExperiments returns every Experiment still in progress.
func (s *Store) ListRunningExperiments() ([]Experiment, error) {
	rows, err := s.db.Query(
		`SELECT id, name, status, min_samples, confidence, winning_variant_id, created_at, completed_at
		 FROM experiments WHERE status = ?`, ExperimentRunning)
	if err != nil {
		return nil, fmt.Errorf("list running experiments: %w", err)
	}
	defer rows.Close()

	var out []Experiment
	for rows.Next() {
		var e Experiment
		var winningVariant sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.Status, &e.MinSamples, &e.Confidence, &winningVariant, &e.CreatedAt, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		e.WinningVariantID = stringOrEmpty(winningVariant)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListVariants returns every variant of an experiment.
func (s *Store) ListVariants(experimentID string) ([]ExperimentVariant, error) {
	rows, err := s.db.Query(
		`SELECT id, experiment_id, instruction_id FROM experiment_variants WHERE experiment_id = ?`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	var out []ExperimentVariant
	for rows.Next() {
		var v ExperimentVariant
		if err := rows.Scan(&v.ID, &v.ExperimentID, &v.InstructionID); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// VariantResults returns (successes, total) trials recorded for a variant.
func (s *Store) VariantResults(variantID string) (successes, total int, err error) {
	row := s.db.QueryRow(
		`SELECT COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0), COUNT(*) FROM experiment_results WHERE variant_id = ?`,
		variantID,
	)
	if err := row.Scan(&successes, &total); err != nil {
		return 0, 0, fmt.Errorf("variant results: %w", err)
	}
	return successes, total, nil
}

// CompleteExperiment marks an experiment Completed with its winner.
func (s *Store) CompleteExperiment(id, winningVariantID string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE experiments SET status = ?, winning_variant_id = ?, completed_at = ? WHERE id = ?`,
		ExperimentCompleted, winningVariantID, at, id,
	)
	if err != nil {
		return fmt.Errorf("complete experiment: %w", err)
	}
	return nil
}
