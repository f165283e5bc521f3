package remap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rolodex/pkg/domain"
	"rolodex/pkg/platform/sentinel"
	txcontext "rolodex/pkg/platform/tx"
)

// PostgresLedger persists merge outcomes in the recipient_remaps table.
// Writes participate in the caller's transaction when one is in the context.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS recipient_remaps (
			retired_id  BIGINT PRIMARY KEY,
			survivor_id BIGINT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_recipient_remaps_survivor
			ON recipient_remaps (survivor_id)`)
	if err != nil {
		return fmt.Errorf("migrate recipient_remaps: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Record(ctx context.Context, retired, survivor domain.RecipientID) error {
	exec := txcontext.ExecutorFor(ctx, l.db)

	// Entries pointing at the id being retired are retargeted first, so the
	// ledger never holds a chain and Resolve stays a single lookup.
	if _, err := exec.ExecContext(ctx,
		`UPDATE recipient_remaps SET survivor_id = $1 WHERE survivor_id = $2`,
		int64(survivor), int64(retired)); err != nil {
		return fmt.Errorf("retarget remap entries: %w", err)
	}

	if _, err := exec.ExecContext(ctx,
		`INSERT INTO recipient_remaps (retired_id, survivor_id) VALUES ($1, $2)
		 ON CONFLICT (retired_id) DO UPDATE SET survivor_id = EXCLUDED.survivor_id`,
		int64(retired), int64(survivor)); err != nil {
		return fmt.Errorf("record remap %d -> %d: %w", retired, survivor, err)
	}
	return nil
}

func (l *PostgresLedger) Resolve(ctx context.Context, id domain.RecipientID) (domain.RecipientID, error) {
	exec := txcontext.ExecutorFor(ctx, l.db)

	var survivor int64
	err := exec.QueryRowContext(ctx,
		`SELECT survivor_id FROM recipient_remaps WHERE retired_id = $1`,
		int64(id)).Scan(&survivor)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UnknownRecipient, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.UnknownRecipient, fmt.Errorf("resolve remap for %d: %w", id, err)
	}
	return domain.RecipientID(survivor), nil
}

func (l *PostgresLedger) All(ctx context.Context) (map[domain.RecipientID]domain.RecipientID, error) {
	exec := txcontext.ExecutorFor(ctx, l.db)

	rows, err := exec.QueryContext(ctx, `SELECT retired_id, survivor_id FROM recipient_remaps`)
	if err != nil {
		return nil, fmt.Errorf("load remap ledger: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.RecipientID]domain.RecipientID)
	for rows.Next() {
		var retired, survivor int64
		if err := rows.Scan(&retired, &survivor); err != nil {
			return nil, fmt.Errorf("scan remap entry: %w", err)
		}
		out[domain.RecipientID(retired)] = domain.RecipientID(survivor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate remap ledger: %w", err)
	}
	return out, nil
}
