package state

import (
	"database/sql"
	"fmt"

	"cph-engine/internal/logging"
)

// CurrentSchemaVersion is the latest schema this binary understands.
// Schema history:
//
//	v1: context, operations, sessions, contest_progress tables.
const CurrentSchemaVersion = 1

// migration is one versioned schema step, applied in its own transaction.
// Migrations run in order; failure of any one aborts Open with
// STATE_MIGRATION_FAILED (see Store.Open).
type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS schema_version (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				version INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS context (
				field TEXT PRIMARY KEY,
				value TEXT,
				user_specified INTEGER NOT NULL,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS operations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				command TEXT NOT NULL,
				language TEXT NOT NULL,
				contest_name TEXT NOT NULL,
				problem_name TEXT NOT NULL,
				env_type TEXT NOT NULL,
				result TEXT NOT NULL,
				duration_ms INTEGER NOT NULL,
				stdout TEXT,
				stderr TEXT,
				return_code INTEGER NOT NULL,
				details_json TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_start TIMESTAMP NOT NULL,
				session_end TIMESTAMP,
				language TEXT,
				contest_name TEXT,
				problem_name TEXT,
				total_ops INTEGER NOT NULL DEFAULT 0,
				successful_ops INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS contest_progress (
				contest_name TEXT NOT NULL,
				problem_name TEXT NOT NULL,
				language TEXT NOT NULL,
				status TEXT NOT NULL,
				first_attempt TIMESTAMP,
				last_attempt TIMESTAMP,
				total_attempts INTEGER NOT NULL DEFAULT 0,
				successful_submissions INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (contest_name, problem_name, language)
			)`,
		},
	},
}

// runMigrations applies every migration with version greater than the
// database's recorded schema_version, each in its own transaction.
func (s *Store) runMigrations() error {
	timer := logging.StartTimer(logging.CategoryState, "runMigrations")
	defer timer.Stop()

	current, err := s.schemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("migration v%d: %w", m.version, err)
		}
		logging.State("applied schema migration v%d", m.version)
	}
	return nil
}

func (s *Store) schemaVersion() (int, error) {
	var version int
	row := s.db.QueryRow(`SELECT version FROM schema_version WHERE id = 1`)
	err := row.Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		// schema_version table itself may not exist yet on a brand new
		// database; treat any query failure here as "no version recorded".
		return 0, nil
	}
	return version, nil
}

func (s *Store) applyMigration(m migration) error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("executing migration statement: %w", err)
			}
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (id, version) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET version = excluded.version`, m.version); err != nil {
			return fmt.Errorf("recording schema_version: %w", err)
		}
		return nil
	})
}
