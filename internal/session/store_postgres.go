package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rolodex/pkg/domain"
	txcontext "rolodex/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			service_id   TEXT PRIMARY KEY,
			e164         TEXT,
			identity_key BYTEA NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_e164 ON sessions (e164)`)
	if err != nil {
		return fmt.Errorf("migrate sessions: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, sess Session) error {
	exec := txcontext.ExecutorFor(ctx, s.db)

	_, err := exec.ExecContext(ctx, `
		INSERT INTO sessions (service_id, e164, identity_key) VALUES ($1, $2, $3)
		ON CONFLICT (service_id) DO UPDATE SET e164 = EXCLUDED.e164, identity_key = EXCLUDED.identity_key`,
		sess.ServiceID.String(), nullableE164(sess.E164), sess.IdentityKey)
	if err != nil {
		return fmt.Errorf("put session %s: %w", sess.ServiceID, err)
	}
	return nil
}

func (s *PostgresStore) HasActiveSession(ctx context.Context, sid domain.ServiceID) (bool, error) {
	exec := txcontext.ExecutorFor(ctx, s.db)

	var exists bool
	err := exec.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE service_id = $1)`,
		sid.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check session %s: %w", sid, err)
	}
	return exists, nil
}

func (s *PostgresStore) IdentityKey(ctx context.Context, sid domain.ServiceID) ([]byte, error) {
	exec := txcontext.ExecutorFor(ctx, s.db)

	var key []byte
	err := exec.QueryRowContext(ctx,
		`SELECT identity_key FROM sessions WHERE service_id = $1`,
		sid.String()).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load identity key %s: %w", sid, err)
	}
	return key, nil
}

func (s *PostgresStore) DeleteByServiceID(ctx context.Context, sid domain.ServiceID) error {
	exec := txcontext.ExecutorFor(ctx, s.db)

	if _, err := exec.ExecContext(ctx,
		`DELETE FROM sessions WHERE service_id = $1`, sid.String()); err != nil {
		return fmt.Errorf("delete session %s: %w", sid, err)
	}
	return nil
}

func (s *PostgresStore) DeleteByE164(ctx context.Context, e164 domain.E164) (int64, error) {
	if e164.IsNil() {
		return 0, nil
	}
	exec := txcontext.ExecutorFor(ctx, s.db)

	res, err := exec.ExecContext(ctx, `DELETE FROM sessions WHERE e164 = $1`, string(e164))
	if err != nil {
		return 0, fmt.Errorf("delete sessions for %s: %w", e164, err)
	}
	dropped, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete sessions for %s: %w", e164, err)
	}
	return dropped, nil
}

func (s *PostgresStore) ActiveSessionCount(ctx context.Context) (int64, error) {
	exec := txcontext.ExecutorFor(ctx, s.db)

	var count int64
	if err := exec.QueryRowContext(ctx, `SELECT count(*) FROM sessions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

func nullableE164(e domain.E164) any {
	if e.IsNil() {
		return nil
	}
	return string(e)
}
