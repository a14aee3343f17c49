// Package store provides the SQLite-backed relational store shared by the
// engine: OAuth credentials, distributed lock rows, employee folder
// metadata, and the non-eligible employee register. It is the only
// cross-worker coordination surface — workers never share memory.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Store wraps the shared database handle. Repositories (CredentialStore,
// FolderStore, NonEligibleStore) and the lock service all share it.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens the SQLite database at dbPath, applies pragmas, and runs all
// pending migrations. The database uses WAL mode with synchronous=FULL for
// crash-safe durability.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time. This keeps
	// the conditional-insert lock acquisition serializable.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("store initialized", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// DB exposes the underlying handle for collaborators that issue their own
// SQL against the shared store (the lock service).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Credentials returns the credential repository.
func (s *Store) Credentials() *CredentialStore {
	return &CredentialStore{db: s.db, nowFunc: s.nowFunc}
}

// Folders returns the employee folder repository.
func (s *Store) Folders() *FolderStore {
	return &FolderStore{db: s.db, nowFunc: s.nowFunc}
}

// NonEligible returns the non-eligible employee register.
func (s *Store) NonEligible() *NonEligibleStore {
	return &NonEligibleStore{db: s.db, nowFunc: s.nowFunc}
}

// SetNowFunc overrides the clock for tests. Propagates to repositories
// created afterwards.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.nowFunc = now
}
