package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/store"
)

// deleteBatch bounds how many rows a single housekeeping DELETE may
// touch so sweeps never hold the write lock for long.
const deleteBatch = 256

type sessionsRepo struct {
	db *sql.DB
}

// dbtx is the slice of database/sql shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *sessionsRepo) Create(ctx context.Context, s store.Session) error {
	return createSession(ctx, r.db, s)
}

func createSession(ctx context.Context, q dbtx, s store.Session) error {
	// The only constraint on the table is the primary key, so an
	// ignored insert can only mean a duplicate id.
	res, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (id, identity_id, device_id, ip, user_agent, created_at, last_activity, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.IdentityID, s.DeviceID, s.IP, s.UserAgent,
		s.CreatedAt.UTC(), s.LastActivity.UTC(), s.Active,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (r *sessionsRepo) CreateAndEnforceLimit(ctx context.Context, s store.Session, maxActive int) ([]string, error) {
	var evicted []string
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := createSession(ctx, tx, s); err != nil {
			return err
		}
		if maxActive <= 0 {
			return nil
		}
		var err error
		evicted, err = evictOverLimit(ctx, tx, s.IdentityID, maxActive)
		return err
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

func (r *sessionsRepo) Get(ctx context.Context, sessionID string) (store.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, identity_id, device_id, ip, user_agent, created_at, last_activity, active
		FROM sessions WHERE id = ?`, sessionID)

	var s store.Session
	err := row.Scan(&s.ID, &s.IdentityID, &s.DeviceID, &s.IP, &s.UserAgent, &s.CreatedAt, &s.LastActivity, &s.Active)
	if err != nil {
		return store.Session{}, mapNotFound(err)
	}
	return s, nil
}

func (r *sessionsRepo) Touch(ctx context.Context, sessionID string, at time.Time) error {
	// Concurrent touches land in any order; only ever move forward.
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity = ? WHERE id = ? AND last_activity < ?`,
		at.UTC(), sessionID, at.UTC(),
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	// Nothing updated: either the session is gone or the stamp was stale.
	var exists bool
	err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = ?)`, sessionID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return nil
}

func (r *sessionsRepo) IsActive(ctx context.Context, sessionID string) (bool, error) {
	var active bool
	err := r.db.QueryRowContext(ctx, `SELECT active FROM sessions WHERE id = ?`, sessionID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return active, nil
}

func (r *sessionsRepo) ListActive(ctx context.Context, identityID string) ([]store.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, identity_id, device_id, ip, user_agent, created_at, last_activity, active
		FROM sessions WHERE identity_id = ? AND active = TRUE
		ORDER BY created_at, id`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		var s store.Session
		if err := rows.Scan(&s.ID, &s.IdentityID, &s.DeviceID, &s.IP, &s.UserAgent, &s.CreatedAt, &s.LastActivity, &s.Active); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sessionsRepo) CountActive(ctx context.Context, identityID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE identity_id = ? AND active = TRUE`, identityID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *sessionsRepo) Deactivate(ctx context.Context, sessionID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET active = FALSE WHERE id = ?`, sessionID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *sessionsRepo) DeactivateAll(ctx context.Context, identityID string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET active = FALSE WHERE identity_id = ? AND active = TRUE`, identityID)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func (r *sessionsRepo) EvictOldestIfOverLimit(ctx context.Context, identityID string, maxActive int) ([]string, error) {
	if maxActive <= 0 {
		return nil, nil
	}

	var evicted []string
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		evicted, err = evictOverLimit(ctx, tx, identityID, maxActive)
		return err
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

// evictOverLimit flips the oldest active sessions inactive until the
// identity fits under maxActive again. Ties on created_at fall back to
// id order, so eviction is deterministic.
func evictOverLimit(ctx context.Context, tx *sql.Tx, identityID string, maxActive int) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM sessions WHERE identity_id = ? AND active = TRUE
		ORDER BY created_at, id`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var active []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		active = append(active, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(active) <= maxActive {
		return nil, nil
	}

	victims := active[:len(active)-maxActive]
	placeholders := strings.Repeat("?, ", len(victims)-1) + "?"
	args := make([]any, len(victims))
	for i, id := range victims {
		args[i] = id
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET active = FALSE WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	return victims, nil
}

func (r *sessionsRepo) DeleteIdle(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		res, err := r.db.ExecContext(ctx, `
			DELETE FROM sessions WHERE id IN (
				SELECT id FROM sessions WHERE last_activity < ? LIMIT ?
			)`, cutoff.UTC(), deleteBatch)
		if err != nil {
			return total, err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(rows)
		if rows < deleteBatch {
			return total, nil
		}
	}
}
