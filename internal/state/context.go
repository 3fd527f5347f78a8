package state

import (
	"database/sql"

	execctx "cph-engine/internal/context"
	"cph-engine/internal/logging"
)

// LoadContext reads every context row into a Snapshot.
func (s *Store) LoadContext() (*execctx.Snapshot, error) {
	snap := execctx.NewSnapshot()

	rows, err := s.db.Query(`SELECT field, value, user_specified FROM context`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var field string
		var value sql.NullString
		var userSpecified bool
		if err := rows.Scan(&field, &value, &userSpecified); err != nil {
			return nil, err
		}
		sv := execctx.SnapshotValue{UserSpecified: userSpecified}
		if value.Valid {
			v := value.String
			sv.Value = &v
		}
		snap.Values[execctx.Field(field)] = sv
	}
	return snap, rows.Err()
}

// UpdateContext idempotently upserts one field. value == nil represents an
// explicitly cleared field, distinct from the field never having been set
// at all (absence).
func (s *Store) UpdateContext(field execctx.Field, value *string, userSpecified bool) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO context (field, value, user_specified, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(field) DO UPDATE SET
				value = excluded.value,
				user_specified = excluded.user_specified,
				updated_at = CURRENT_TIMESTAMP
		`, string(field), value, userSpecified)
		if err != nil {
			return err
		}
		logging.StateDebug("context.%s updated (user_specified=%v)", field, userSpecified)
		return nil
	})
}

// SaveContext persists every field of ctx via UpdateContext.
func (s *Store) SaveContext(ctx *execctx.ExecutionContext) error {
	for _, f := range execctx.AllFields {
		v := ctx.Get(f)
		var ptr *string
		if v != "" {
			ptr = &v
		}
		if err := s.UpdateContext(f, ptr, ctx.UserSpecified[f]); err != nil {
			return err
		}
	}
	return nil
}
