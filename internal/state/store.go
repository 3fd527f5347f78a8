// Package state implements the State & History Store (C4): a SQLite-backed
// persistent key-value and relational store tracking per-session context,
// execution history, and per-problem contest progress.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"cph-engine/internal/errs"
	"cph-engine/internal/logging"
)

// Store wraps the single connection a run holds open for its duration.
// All writes are transactional; a single process holds one connection,
// matching the concurrency model in spec §5.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if necessary) the SQLite database at path, applies
// pending migrations, and returns a ready Store. Open fails with
// STATE_DATABASE_BUSY if another process already holds the exclusive
// first-writer slot within the configured wait window, and with
// STATE_MIGRATION_FAILED if any migration's transaction fails.
func Open(path string, busyTimeoutMS int) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryState, "Open")
	defer timer.Stop()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	// _txlock=immediate makes every BEGIN on this connection behave like
	// BEGIN IMMEDIATE: the write lock is acquired at Begin() time instead
	// of deferred until the first write statement, so a concurrent
	// invocation's Begin() genuinely contends for the lock and can
	// surface SQLITE_BUSY once busy_timeout elapses.
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS)); err != nil {
		logging.StateError("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StateError("failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StateError("failed to enable foreign_keys: %v", err)
	}

	s := &Store{db: db, path: path}
	if err := s.acquireExclusiveSlot(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.CodeStateMigrationFailed, "applying schema migrations", err)
	}
	logging.State("state store opened at %s", path)
	return s, nil
}

// acquireExclusiveSlot checks at open time that no other connection holds
// the database's write lock: it begins an immediate transaction and
// commits it at once, failing with STATE_DATABASE_BUSY if the lock is
// still held elsewhere when busy_timeout elapses. The lock is not kept for
// the rest of the run, so two invocations that open the store one after
// the other both proceed.
func (s *Store) acquireExclusiveSlot() error {
	tx, err := s.db.Begin()
	if err != nil {
		if isBusyErr(err) {
			return errs.Wrap(errs.CodeStateDatabaseBusy, "database locked by another invocation", err)
		}
		return fmt.Errorf("begin exclusive slot: %w", err)
	}
	return tx.Commit()
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "busy") || strings.Contains(strings.ToLower(err.Error()), "locked")
}

// Close releases the connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a single transaction, translating SQLITE_BUSY into
// STATE_DATABASE_BUSY and any other failure into STATE_INTEGRITY.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		if isBusyErr(err) {
			return errs.Wrap(errs.CodeStateDatabaseBusy, "begin transaction", err)
		}
		return errs.Wrap(errs.CodeStateIntegrity, "begin transaction", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logging.StateError("rollback after failed write also failed: %v", rbErr)
		}
		if isBusyErr(err) {
			return errs.Wrap(errs.CodeStateDatabaseBusy, "transaction", err)
		}
		return errs.Wrap(errs.CodeStateIntegrity, "transaction", err)
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.CodeStateIntegrity, "commit transaction", err)
	}
	return nil
}
