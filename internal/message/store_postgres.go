package message

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"rolodex/internal/thread"
	"rolodex/pkg/domain"
	txcontext "rolodex/pkg/platform/tx"
	"rolodex/pkg/requestcontext"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id           UUID PRIMARY KEY,
			thread_id    BIGINT NOT NULL,
			recipient_id BIGINT NOT NULL,
			kind         TEXT NOT NULL,
			body         TEXT NOT NULL DEFAULT '',
			old_e164     TEXT,
			new_e164     TEXT,
			created_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (thread_id);
		CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages (recipient_id)`)
	if err != nil {
		return fmt.Errorf("migrate messages: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, msg Message) error {
	exec := txcontext.ExecutorFor(ctx, s.db)

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = requestcontext.Now(ctx)
	}
	_, err := exec.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, recipient_id, kind, body, old_e164, new_e164, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, int64(msg.ThreadID), int64(msg.RecipientID), string(msg.Kind), msg.Body,
		nullableE164(msg.OldE164), nullableE164(msg.NewE164), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) RewriteRecipient(ctx context.Context, from, to domain.RecipientID) (int64, error) {
	exec := txcontext.ExecutorFor(ctx, s.db)

	res, err := exec.ExecContext(ctx,
		`UPDATE messages SET recipient_id = $1 WHERE recipient_id = $2`,
		int64(to), int64(from))
	if err != nil {
		return 0, fmt.Errorf("rewrite messages %d -> %d: %w", from, to, err)
	}
	moved, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rewrite messages %d -> %d: %w", from, to, err)
	}
	return moved, nil
}

func (s *PostgresStore) InsertThreadMergeNotice(ctx context.Context, tid thread.ThreadID, rid domain.RecipientID, previousE164 domain.E164) error {
	return s.Insert(ctx, Message{ThreadID: tid, RecipientID: rid, Kind: KindThreadMerge, OldE164: previousE164})
}

func (s *PostgresStore) InsertSessionSwitchoverNotice(ctx context.Context, tid thread.ThreadID, rid domain.RecipientID, e164 domain.E164) error {
	return s.Insert(ctx, Message{ThreadID: tid, RecipientID: rid, Kind: KindSessionSwitch, OldE164: e164})
}

func (s *PostgresStore) InsertNumberChangedNotice(ctx context.Context, tid thread.ThreadID, rid domain.RecipientID, oldE164, newE164 domain.E164) error {
	return s.Insert(ctx, Message{ThreadID: tid, RecipientID: rid, Kind: KindNumberChanged, OldE164: oldE164, NewE164: newE164})
}

func (s *PostgresStore) ByThread(ctx context.Context, tid thread.ThreadID) ([]Message, error) {
	exec := txcontext.ExecutorFor(ctx, s.db)

	rows, err := exec.QueryContext(ctx, `
		SELECT id, thread_id, recipient_id, kind, body, old_e164, new_e164, created_at
		FROM messages WHERE thread_id = $1 ORDER BY created_at, id`, int64(tid))
	if err != nil {
		return nil, fmt.Errorf("load thread %d: %w", tid, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			msg              Message
			tidRaw, ridRaw   int64
			kind             string
			oldE164, newE164 sql.NullString
		)
		if err := rows.Scan(&msg.ID, &tidRaw, &ridRaw, &kind, &msg.Body, &oldE164, &newE164, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ThreadID = thread.ThreadID(tidRaw)
		msg.RecipientID = domain.RecipientID(ridRaw)
		msg.Kind = Kind(kind)
		msg.OldE164 = domain.E164(oldE164.String)
		msg.NewE164 = domain.E164(newE164.String)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread %d: %w", tid, err)
	}
	return out, nil
}

func nullableE164(e domain.E164) any {
	if e.IsNil() {
		return nil
	}
	return string(e)
}
