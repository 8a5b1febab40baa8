package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type revocationsRepo struct {
	db  *sql.DB
	now func() time.Time
}

func (r *revocationsRepo) Revoke(ctx context.Context, fingerprint string, ttl time.Duration, reason string) error {
	if ttl <= 0 {
		return nil // token is already past its lifetime
	}
	expiresAt := r.now().Add(ttl).UTC()

	// Re-revoking must never shorten an existing deny window, so the
	// upsert only wins when it pushes expiry further out.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO revocations (fingerprint, expires_at, reason)
		VALUES (?, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE
		SET expires_at = excluded.expires_at, reason = excluded.reason
		WHERE excluded.expires_at > revocations.expires_at`,
		fingerprint, expiresAt, reason,
	)
	return err
}

func (r *revocationsRepo) IsRevoked(ctx context.Context, fingerprint string) (bool, error) {
	var expiresAt time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT expires_at FROM revocations WHERE fingerprint = ?`, fingerprint).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// Expired rows stay until the sweeper collects them, but they no
	// longer count as revoked.
	return expiresAt.After(r.now()), nil
}

func (r *revocationsRepo) DeleteExpired(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		res, err := r.db.ExecContext(ctx, `
			DELETE FROM revocations WHERE fingerprint IN (
				SELECT fingerprint FROM revocations WHERE expires_at <= ? LIMIT ?
			)`, r.now().UTC(), deleteBatch)
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
