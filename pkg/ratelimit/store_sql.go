// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const createRateLimitTableSQL = `
CREATE TABLE IF NOT EXISTS rate_limits (
    scope VARCHAR(50) NOT NULL,
    identifier VARCHAR(255) NOT NULL,
    limit_type VARCHAR(50) NOT NULL,
    window VARCHAR(50) NOT NULL,
    amount BIGINT NOT NULL DEFAULT 0,
    window_end TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (scope, identifier, limit_type, window)
);

CREATE INDEX IF NOT EXISTS idx_rate_limits_window_end ON rate_limits(window_end);
CREATE INDEX IF NOT EXISTS idx_rate_limits_identifier ON rate_limits(identifier);
`

// SQLStore persists rate-limit windows in the same database the rest
// of the orchestrator uses (sqlite3 by default, postgres/mysql also
// supported), so a daily token ceiling survives process restarts.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore wraps an existing *sql.DB. dialect must match
// config.DatabaseConfig.Dialect ("sqlite3", "postgres", or "mysql").
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite3", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite3, postgres, mysql)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("init rate_limits schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, createRateLimitTableSQL); err != nil {
		return fmt.Errorf("create rate_limits table: %w", err)
	}
	return nil
}

func (s *SQLStore) placeholderQuery(sqliteOrMySQL, postgres string) string {
	if s.dialect == "postgres" {
		return postgres
	}
	return sqliteOrMySQL
}

// GetUsage gets current usage for a specific limit.
func (s *SQLStore) GetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, error) {
	query := s.placeholderQuery(
		`SELECT amount, window_end FROM rate_limits WHERE scope = ? AND identifier = ? AND limit_type = ? AND window = ?`,
		`SELECT amount, window_end FROM rate_limits WHERE scope = $1 AND identifier = $2 AND limit_type = $3 AND window = $4`,
	)

	var amount int64
	var windowEnd time.Time
	err := s.db.QueryRowContext(ctx, query, string(scope), identifier, string(limitType), string(window)).Scan(&amount, &windowEnd)
	if err == sql.ErrNoRows {
		return 0, time.Now().Add(window.Duration()), nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("query usage: %w", err)
	}

	now := time.Now()
	if windowEnd.Before(now) {
		return 0, now.Add(window.Duration()), nil
	}
	return amount, windowEnd, nil
}

// IncrementUsage increments usage for a specific limit, resetting the
// window if it has expired.
func (s *SQLStore) IncrementUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, incrementAmount int64) (int64, time.Time, error) {
	now := time.Now()

	if s.dialect == "postgres" {
		updateQuery := `
			UPDATE rate_limits
			SET amount = amount + $1, updated_at = $2
			WHERE scope = $3 AND identifier = $4 AND limit_type = $5 AND window = $6 AND window_end > $7
			RETURNING amount, window_end
		`
		var amount int64
		var windowEnd time.Time
		err := s.db.QueryRowContext(ctx, updateQuery, incrementAmount, now, string(scope), identifier, string(limitType), string(window), now).Scan(&amount, &windowEnd)
		if err == nil {
			return amount, windowEnd, nil
		}
		if err != sql.ErrNoRows {
			return 0, time.Time{}, fmt.Errorf("update usage: %w", err)
		}
	} else {
		updateQuery := `
			UPDATE rate_limits
			SET amount = amount + ?, updated_at = ?
			WHERE scope = ? AND identifier = ? AND limit_type = ? AND window = ? AND window_end > ?
		`
		result, err := s.db.ExecContext(ctx, updateQuery, incrementAmount, now, string(scope), identifier, string(limitType), string(window), now)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("update usage: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("rows affected: %w", err)
		}
		if rowsAffected > 0 {
			return s.GetUsage(ctx, scope, identifier, limitType, window)
		}
	}

	newWindowEnd := now.Add(window.Duration())
	insertQuery := s.placeholderQuery(
		`INSERT INTO rate_limits (scope, identifier, limit_type, window, amount, window_end, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		`INSERT INTO rate_limits (scope, identifier, limit_type, window, amount, window_end, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (scope, identifier, limit_type, window)
		 DO UPDATE SET amount = EXCLUDED.amount, window_end = EXCLUDED.window_end, updated_at = EXCLUDED.updated_at`,
	)
	if _, err := s.db.ExecContext(ctx, insertQuery, string(scope), identifier, string(limitType), string(window), incrementAmount, newWindowEnd, now, now); err != nil {
		if s.dialect == "sqlite3" || s.dialect == "mysql" {
			return s.IncrementUsage(ctx, scope, identifier, limitType, window, incrementAmount)
		}
		return 0, time.Time{}, fmt.Errorf("insert usage: %w", err)
	}
	return incrementAmount, newWindowEnd, nil
}

// SetUsage sets usage for a specific limit.
func (s *SQLStore) SetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time) error {
	now := time.Now()

	var query string
	switch s.dialect {
	case "postgres":
		query = `
			INSERT INTO rate_limits (scope, identifier, limit_type, window, amount, window_end, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (scope, identifier, limit_type, window)
			DO UPDATE SET amount = EXCLUDED.amount, window_end = EXCLUDED.window_end, updated_at = EXCLUDED.updated_at
		`
	case "mysql":
		query = `
			INSERT INTO rate_limits (scope, identifier, limit_type, window, amount, window_end, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE amount = VALUES(amount), window_end = VALUES(window_end), updated_at = VALUES(updated_at)
		`
	default: // sqlite3
		query = `
			INSERT OR REPLACE INTO rate_limits (scope, identifier, limit_type, window, amount, window_end, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
	}

	if _, err := s.db.ExecContext(ctx, query, string(scope), identifier, string(limitType), string(window), amount, windowEnd, now, now); err != nil {
		return fmt.Errorf("set usage: %w", err)
	}
	return nil
}

// DeleteUsage deletes usage records for an identifier.
func (s *SQLStore) DeleteUsage(ctx context.Context, scope Scope, identifier string) error {
	query := s.placeholderQuery(
		`DELETE FROM rate_limits WHERE scope = ? AND identifier = ?`,
		`DELETE FROM rate_limits WHERE scope = $1 AND identifier = $2`,
	)
	if _, err := s.db.ExecContext(ctx, query, string(scope), identifier); err != nil {
		return fmt.Errorf("delete usage: %w", err)
	}
	return nil
}

// DeleteExpired deletes expired usage records.
func (s *SQLStore) DeleteExpired(ctx context.Context, before time.Time) error {
	query := s.placeholderQuery(
		`DELETE FROM rate_limits WHERE window_end < ?`,
		`DELETE FROM rate_limits WHERE window_end < $1`,
	)
	if _, err := s.db.ExecContext(ctx, query, before); err != nil {
		return fmt.Errorf("delete expired records: %w", err)
	}
	return nil
}

// Close is a no-op: the underlying *sql.DB is owned by store.Store and
// may be shared with it.
func (s *SQLStore) Close() error {
	return nil
}

// Dialect returns the SQL dialect in use.
func (s *SQLStore) Dialect() string {
	return s.dialect
}
