// Package profiles refreshes recipient profile state from the service in the
// background. Resolution only establishes identity; names, profile keys and
// capabilities arrive asynchronously through this worker.
package profiles

import (
	"context"
	"errors"
	"log/slog"

	"rolodex/internal/recipient/models"
	"rolodex/internal/recipient/store"
	"rolodex/pkg/domain"
	"rolodex/pkg/platform/sentinel"
)

// ErrUnregistered reports that the account behind a service id no longer
// exists on the service.
var ErrUnregistered = errors.New("profiles: account unregistered")

// Profile is what the service returns for a service id.
type Profile struct {
	GivenName    string
	FamilyName   string
	Key          []byte
	Capabilities models.Capabilities
}

// Source fetches the current profile for a service id.
type Source interface {
	Fetch(ctx context.Context, sid domain.ServiceID) (Profile, error)
}

// Worker consumes refresh requests from a channel and writes the fetched
// profile back onto the record.
type Worker struct {
	recipients store.Store
	source     Source
	logger     *slog.Logger
	queue      chan domain.RecipientID
}

func NewWorker(recipients store.Store, source Source, logger *slog.Logger) *Worker {
	return &Worker{
		recipients: recipients,
		source:     source,
		logger:     logger,
		queue:      make(chan domain.RecipientID, 128),
	}
}

// Enqueue requests a refresh. Never blocks; a full queue drops the request,
// and the next resolution of the recipient will re-enqueue it.
func (w *Worker) Enqueue(id domain.RecipientID) {
	select {
	case w.queue <- id:
	default:
		w.logger.Warn("profile refresh dropped, queue full", slog.Int64("recipient_id", int64(id)))
	}
}

// Run processes refreshes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-w.queue:
			if err := w.refresh(ctx, id); err != nil {
				w.logger.Warn("profile refresh failed",
					slog.Int64("recipient_id", int64(id)),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (w *Worker) refresh(ctx context.Context, id domain.RecipientID) error {
	rec, err := w.recipients.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		// Merged away between enqueue and refresh; the survivor has its own
		// refresh scheduled.
		return nil
	}
	if err != nil {
		return err
	}

	sid := rec.ServiceID()
	if sid.IsNil() {
		// Phone-only records have nothing to fetch a profile with.
		return nil
	}

	profile, err := w.source.Fetch(ctx, sid)
	if errors.Is(err, ErrUnregistered) {
		return w.recipients.MarkUnregistered(ctx, id)
	}
	if err != nil {
		return err
	}

	rec.ProfileGivenName = profile.GivenName
	rec.ProfileFamilyName = profile.FamilyName
	if len(profile.Key) > 0 {
		rec.ProfileKey = profile.Key
	}
	rec.Capabilities = rec.Capabilities.Max(profile.Capabilities)
	return w.recipients.Update(ctx, rec)
}
