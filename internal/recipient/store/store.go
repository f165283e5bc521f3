package store

import (
	"context"

	"rolodex/internal/recipient/models"
	"rolodex/pkg/domain"
)

// Store is keyed persistent storage of one row per recipient, with
// unique-constrained identifier columns. Implementations return
// sentinel.ErrNotFound for missing rows and sentinel.ErrConflict when a
// unique constraint rejects a write.
//
// Interface-driven to keep resolution logic testable and to allow swapping
// the in-memory and Postgres implementations without rewiring business code.
type Store interface {
	Get(ctx context.Context, id domain.RecipientID) (models.Record, error)
	ByE164(ctx context.Context, e164 domain.E164) (models.Record, error)
	ByPNI(ctx context.Context, pni domain.PNI) (models.Record, error)
	ByACI(ctx context.Context, aci domain.ACI) (models.Record, error)

	// FindMatching returns the id of a record that already carries every
	// present field of the tuple, for the orchestrator's fast path.
	FindMatching(ctx context.Context, tuple models.Tuple) (domain.RecipientID, error)

	Insert(ctx context.Context, rec models.Record) (domain.RecipientID, error)
	Update(ctx context.Context, rec models.Record) error
	Delete(ctx context.Context, id domain.RecipientID) error

	// SetACI and SetPNI also mark the record known-registered.
	SetACI(ctx context.Context, id domain.RecipientID, aci domain.ACI) error
	SetPNI(ctx context.Context, id domain.RecipientID, pni domain.PNI) error
	SetE164(ctx context.Context, id domain.RecipientID, e164 domain.E164) error
	RemoveE164(ctx context.Context, id domain.RecipientID) error
	RemovePNI(ctx context.Context, id domain.RecipientID) error

	MarkUnregistered(ctx context.Context, id domain.RecipientID) error
}
