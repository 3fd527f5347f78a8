package state

import (
	"database/sql"
	"time"

	"cph-engine/internal/logging"
)

// OperationRecord is one row appended to the operations table after a
// workflow run completes (successfully or not).
type OperationRecord struct {
	Command     string
	Language    string
	ContestName string
	ProblemName string
	EnvType     string
	Result      string // "success" | "failure"
	DurationMS  int64
	Stdout      string
	Stderr      string
	ReturnCode  int
	DetailsJSON string
}

// AppendOperation inserts one operations row and, in the same transaction,
// increments contest_progress counters for (contest, problem, language).
func (s *Store) AppendOperation(rec OperationRecord) error {
	timer := logging.StartTimer(logging.CategoryState, "AppendOperation")
	defer timer.Stop()

	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO operations
				(command, language, contest_name, problem_name, env_type, result, duration_ms, stdout, stderr, return_code, details_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.Command, rec.Language, rec.ContestName, rec.ProblemName, rec.EnvType, rec.Result,
			rec.DurationMS, rec.Stdout, rec.Stderr, rec.ReturnCode, rec.DetailsJSON)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		successInc := 0
		if rec.Result == "success" && rec.Command == "submit" {
			successInc = 1
		}
		_, err = tx.Exec(`
			INSERT INTO contest_progress
				(contest_name, problem_name, language, status, first_attempt, last_attempt, total_attempts, successful_submissions)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT(contest_name, problem_name, language) DO UPDATE SET
				status = excluded.status,
				last_attempt = excluded.last_attempt,
				total_attempts = contest_progress.total_attempts + 1,
				successful_submissions = contest_progress.successful_submissions + ?
		`, rec.ContestName, rec.ProblemName, rec.Language, rec.Result, now, now, successInc, successInc)
		return err
	})
}

// StartSession records a new session row and returns its id.
func (s *Store) StartSession(language, contest, problem string) (int64, error) {
	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO sessions (session_start, language, contest_name, problem_name)
			VALUES (CURRENT_TIMESTAMP, ?, ?, ?)
		`, language, contest, problem)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// EndSession closes out a session row with final op counters.
func (s *Store) EndSession(id int64, totalOps, successfulOps int) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE sessions SET session_end = CURRENT_TIMESTAMP, total_ops = ?, successful_ops = ?
			WHERE id = ?
		`, totalOps, successfulOps, id)
		return err
	})
}

// OperationRow is one operations row read back for display purposes.
type OperationRow struct {
	Timestamp   string
	Command     string
	ContestName string
	ProblemName string
	Result      string
	DurationMS  int64
	ReturnCode  int
}

// RecentOperations returns the most recent operations, newest first,
// bounded by limit.
func (s *Store) RecentOperations(limit int) ([]OperationRow, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, command, contest_name, problem_name, result, duration_ms, return_code
		FROM operations ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OperationRow
	for rows.Next() {
		var r OperationRow
		if err := rows.Scan(&r.Timestamp, &r.Command, &r.ContestName, &r.ProblemName, &r.Result, &r.DurationMS, &r.ReturnCode); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ContestProgress reads the counters for one (contest, problem, language).
func (s *Store) ContestProgress(contest, problem, language string) (totalAttempts, successfulSubmissions int, err error) {
	row := s.db.QueryRow(`
		SELECT total_attempts, successful_submissions FROM contest_progress
		WHERE contest_name = ? AND problem_name = ? AND language = ?
	`, contest, problem, language)
	err = row.Scan(&totalAttempts, &successfulSubmissions)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	return totalAttempts, successfulSubmissions, err
}
