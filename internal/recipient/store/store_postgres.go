package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"rolodex/internal/recipient/models"
	"rolodex/pkg/domain"
	"rolodex/pkg/platform/sentinel"
	txcontext "rolodex/pkg/platform/tx"
)

// uniqueViolation is the Postgres error code for a rejected unique constraint.
const uniqueViolation = "23505"

// PostgresStore persists recipients in PostgreSQL. It participates in a
// surrounding transaction via pkg/platform/tx.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the recipients table. Identifier columns are nullable and
// uniquely constrained: the store, not the service, enforces at-most-one
// owner per identifier value.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS recipients (
			id                  BIGSERIAL PRIMARY KEY,
			aci                 UUID UNIQUE,
			pni                 UUID UNIQUE,
			e164                TEXT UNIQUE,
			registered          BOOLEAN NOT NULL DEFAULT FALSE,
			blocked             BOOLEAN NOT NULL DEFAULT FALSE,
			profile_sharing     BOOLEAN NOT NULL DEFAULT FALSE,
			mute_until          TIMESTAMPTZ,
			chat_color_id       INTEGER NOT NULL DEFAULT 0,
			notify_channel      TEXT NOT NULL DEFAULT '',
			profile_key         BYTEA,
			profile_given_name  TEXT NOT NULL DEFAULT '',
			profile_family_name TEXT NOT NULL DEFAULT '',
			capabilities        BIGINT NOT NULL DEFAULT 0,
			storage_sync_id     UUID NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate recipients: %w", err)
	}
	return nil
}

const recordColumns = `
	id, aci, pni, e164, registered, blocked, profile_sharing, mute_until,
	chat_color_id, notify_channel, profile_key, profile_given_name,
	profile_family_name, capabilities, storage_sync_id
`

func (s *PostgresStore) Get(ctx context.Context, id domain.RecipientID) (models.Record, error) {
	row := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM recipients WHERE id = $1`, int64(id))
	return scanRecord(row)
}

func (s *PostgresStore) ByE164(ctx context.Context, e164 domain.E164) (models.Record, error) {
	if e164.IsNil() {
		return models.Record{}, sentinel.ErrNotFound
	}
	row := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM recipients WHERE e164 = $1`, e164.String())
	return scanRecord(row)
}

func (s *PostgresStore) ByPNI(ctx context.Context, pni domain.PNI) (models.Record, error) {
	if pni.IsNil() {
		return models.Record{}, sentinel.ErrNotFound
	}
	row := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM recipients WHERE pni = $1`, uuid.UUID(pni))
	return scanRecord(row)
}

func (s *PostgresStore) ByACI(ctx context.Context, aci domain.ACI) (models.Record, error) {
	if aci.IsNil() {
		return models.Record{}, sentinel.ErrNotFound
	}
	row := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM recipients WHERE aci = $1`, uuid.UUID(aci))
	return scanRecord(row)
}

func (s *PostgresStore) FindMatching(ctx context.Context, tuple models.Tuple) (domain.RecipientID, error) {
	query := `SELECT id FROM recipients WHERE TRUE`
	args := []any{}
	if !tuple.E164.IsNil() {
		args = append(args, tuple.E164.String())
		query += fmt.Sprintf(" AND e164 = $%d", len(args))
	}
	if !tuple.PNI.IsNil() {
		args = append(args, uuid.UUID(tuple.PNI))
		query += fmt.Sprintf(" AND pni = $%d", len(args))
	}
	if !tuple.ACI.IsNil() {
		args = append(args, uuid.UUID(tuple.ACI))
		query += fmt.Sprintf(" AND aci = $%d", len(args))
	}
	query += " LIMIT 1"

	var id int64
	err := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UnknownRecipient, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.UnknownRecipient, fmt.Errorf("find matching recipient: %w", err)
	}
	return domain.RecipientID(id), nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec models.Record) (domain.RecipientID, error) {
	var id int64
	err := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO recipients (
			aci, pni, e164, registered, blocked, profile_sharing, mute_until,
			chat_color_id, notify_channel, profile_key, profile_given_name,
			profile_family_name, capabilities, storage_sync_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`,
		nullableACI(rec.ACI),
		nullablePNI(rec.PNI),
		nullableE164(rec.E164),
		rec.Registered,
		rec.Blocked,
		rec.ProfileSharing,
		nullableTime(rec),
		rec.ChatColorID,
		rec.NotifyChannel,
		rec.ProfileKey,
		rec.ProfileGivenName,
		rec.ProfileFamilyName,
		rec.Capabilities.Bits(),
		rec.StorageSyncID,
	).Scan(&id)
	if err != nil {
		return domain.UnknownRecipient, mapConstraintError("insert recipient", err)
	}
	return domain.RecipientID(id), nil
}

func (s *PostgresStore) Update(ctx context.Context, rec models.Record) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, `
		UPDATE recipients SET
			aci = $2, pni = $3, e164 = $4, registered = $5, blocked = $6,
			profile_sharing = $7, mute_until = $8, chat_color_id = $9,
			notify_channel = $10, profile_key = $11, profile_given_name = $12,
			profile_family_name = $13, capabilities = $14, storage_sync_id = $15
		WHERE id = $1
	`,
		int64(rec.ID),
		nullableACI(rec.ACI),
		nullablePNI(rec.PNI),
		nullableE164(rec.E164),
		rec.Registered,
		rec.Blocked,
		rec.ProfileSharing,
		nullableTime(rec),
		rec.ChatColorID,
		rec.NotifyChannel,
		rec.ProfileKey,
		rec.ProfileGivenName,
		rec.ProfileFamilyName,
		rec.Capabilities.Bits(),
		rec.StorageSyncID,
	)
	if err != nil {
		return mapConstraintError("update recipient", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) Delete(ctx context.Context, id domain.RecipientID) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM recipients WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("delete recipient: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SetACI(ctx context.Context, id domain.RecipientID, aci domain.ACI) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`UPDATE recipients SET aci = $2, registered = TRUE WHERE id = $1`,
		int64(id), uuid.UUID(aci))
	if err != nil {
		return mapConstraintError("set aci", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SetPNI(ctx context.Context, id domain.RecipientID, pni domain.PNI) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`UPDATE recipients SET pni = $2, registered = TRUE WHERE id = $1`,
		int64(id), uuid.UUID(pni))
	if err != nil {
		return mapConstraintError("set pni", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SetE164(ctx context.Context, id domain.RecipientID, e164 domain.E164) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`UPDATE recipients SET e164 = $2 WHERE id = $1`,
		int64(id), e164.String())
	if err != nil {
		return mapConstraintError("set e164", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) RemoveE164(ctx context.Context, id domain.RecipientID) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`UPDATE recipients SET e164 = NULL WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("remove e164: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) RemovePNI(ctx context.Context, id domain.RecipientID) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`UPDATE recipients SET pni = NULL WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("remove pni: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) MarkUnregistered(ctx context.Context, id domain.RecipientID) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`UPDATE recipients SET registered = FALSE WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("mark unregistered: %w", err)
	}
	return requireRow(res)
}

func scanRecord(row *sql.Row) (models.Record, error) {
	var (
		rec       models.Record
		id        int64
		aci, pni  uuid.NullUUID
		e164      sql.NullString
		muteUntil sql.NullTime
		bits      int64
	)
	err := row.Scan(
		&id, &aci, &pni, &e164, &rec.Registered, &rec.Blocked,
		&rec.ProfileSharing, &muteUntil, &rec.ChatColorID, &rec.NotifyChannel,
		&rec.ProfileKey, &rec.ProfileGivenName, &rec.ProfileFamilyName,
		&bits, &rec.StorageSyncID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("scan recipient: %w", err)
	}

	rec.ID = domain.RecipientID(id)
	if aci.Valid {
		rec.ACI = domain.ACI(aci.UUID)
	}
	if pni.Valid {
		rec.PNI = domain.PNI(pni.UUID)
	}
	if e164.Valid {
		rec.E164 = domain.E164(e164.String)
	}
	if muteUntil.Valid {
		rec.MuteUntil = muteUntil.Time
	}
	rec.Capabilities = models.CapabilitiesFromBits(bits)
	return rec, nil
}

// mapConstraintError translates a unique violation into the sentinel the
// orchestrator recovers from; anything else is wrapped as-is.
func mapConstraintError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullableACI(aci domain.ACI) any {
	if aci.IsNil() {
		return nil
	}
	return uuid.UUID(aci)
}

func nullablePNI(pni domain.PNI) any {
	if pni.IsNil() {
		return nil
	}
	return uuid.UUID(pni)
}

func nullableE164(e164 domain.E164) any {
	if e164.IsNil() {
		return nil
	}
	return e164.String()
}

func nullableTime(rec models.Record) any {
	if rec.MuteUntil.IsZero() {
		return nil
	}
	return rec.MuteUntil
}
