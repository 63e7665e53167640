package store

import (
	"database/sql"
	"fmt"

	"github.com/hanibalsk/orchestrate/pkg/config"
)

// Store is the Persistent Store adapter: every component routes its
// mutations through one Store instance backed by one database/sql
// handle, the single source of truth for agent and run state.
type Store struct {
	db      *sql.DB
	dialect string
}

// Open creates (or connects to) the backing database and ensures the
// schema exists.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	db, err := openPool(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, dialect: cfg.DriverName()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an already-opened *sql.DB, primarily for tests that
// want to control pool construction directly.
func NewWithDB(db *sql.DB, dialect string) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for components (e.g. migrations,
// ad-hoc diagnostics) that need it directly.
func (s *Store) DB() *sql.DB {
	return s.db
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func stringOrEmpty(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}
