package thread

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
		CREATE TABLE IF NOT EXISTS threads (
			id           BIGSERIAL PRIMARY KEY,
			recipient_id BIGINT NOT NULL UNIQUE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("migrate threads: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, id domain.RecipientID) (ThreadID, error) {
	exec := txcontext.ExecutorFor(ctx, s.db)

	var tid int64
	err := exec.QueryRowContext(ctx, `
		INSERT INTO threads (recipient_id) VALUES ($1)
		ON CONFLICT (recipient_id) DO UPDATE SET recipient_id = EXCLUDED.recipient_id
		RETURNING id`, int64(id)).Scan(&tid)
	if err != nil {
		return 0, fmt.Errorf("get or create thread for %d: %w", id, err)
	}
	return ThreadID(tid), nil
}

func (s *PostgresStore) Find(ctx context.Context, id domain.RecipientID) (ThreadID, bool, error) {
	exec := txcontext.ExecutorFor(ctx, s.db)

	var tid int64
	err := exec.QueryRowContext(ctx,
		`SELECT id FROM threads WHERE recipient_id = $1`, int64(id)).Scan(&tid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find thread for %d: %w", id, err)
	}
	return ThreadID(tid), true, nil
}

func (s *PostgresStore) Merge(ctx context.Context, primary, secondary domain.RecipientID) (MergeResult, error) {
	exec := txcontext.ExecutorFor(ctx, s.db)

	priThread, priOK, err := s.Find(ctx, primary)
	if err != nil {
		return MergeResult{}, err
	}
	secThread, secOK, err := s.Find(ctx, secondary)
	if err != nil {
		return MergeResult{}, err
	}

	switch {
	case !priOK && !secOK:
		return MergeResult{}, nil
	case !priOK:
		if _, err := exec.ExecContext(ctx,
			`UPDATE threads SET recipient_id = $1 WHERE id = $2`,
			int64(primary), int64(secThread)); err != nil {
			return MergeResult{}, fmt.Errorf("adopt thread %d: %w", secThread, err)
		}
		return MergeResult{ThreadID: secThread}, nil
	case !secOK:
		return MergeResult{ThreadID: priThread}, nil
	default:
		if _, err := exec.ExecContext(ctx,
			`DELETE FROM threads WHERE id = $1`, int64(secThread)); err != nil {
			return MergeResult{}, fmt.Errorf("drop merged thread %d: %w", secThread, err)
		}
		return MergeResult{ThreadID: priThread, NeededMerge: priThread != secThread}, nil
	}
}
