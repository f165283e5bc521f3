package storagesync

import (
	"context"
	"log/slog"
	"time"

	"rolodex/pkg/domain"
)

// Scheduler coalesces per-recipient sync triggers: a burst of resolutions
// against the same records produces one published event per debounce window
// instead of one per write.
type Scheduler struct {
	publisher Publisher
	debounce  time.Duration
	logger    *slog.Logger
	incoming  chan domain.RecipientID
}

func NewScheduler(publisher Publisher, debounce time.Duration, logger *slog.Logger) *Scheduler {
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	return &Scheduler{
		publisher: publisher,
		debounce:  debounce,
		logger:    logger,
		incoming:  make(chan domain.RecipientID, 256),
	}
}

// Schedule queues a recipient for the next sync flush. Never blocks; under
// backpressure the trigger is dropped and the next change will re-trigger.
func (s *Scheduler) Schedule(id domain.RecipientID) {
	select {
	case s.incoming <- id:
	default:
		s.logger.Warn("sync trigger dropped, queue full", slog.Int64("recipient_id", int64(id)))
	}
}

// Run consumes triggers until ctx is cancelled, flushing the accumulated set
// once per debounce window. A final flush runs on shutdown so committed
// changes are not lost.
func (s *Scheduler) Run(ctx context.Context) error {
	pending := make(map[domain.RecipientID]struct{})
	ticker := time.NewTicker(s.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(context.WithoutCancel(ctx), pending)
			return ctx.Err()
		case id := <-s.incoming:
			pending[id] = struct{}{}
		case <-ticker.C:
			s.flush(ctx, pending)
			pending = make(map[domain.RecipientID]struct{})
		}
	}
}

func (s *Scheduler) flush(ctx context.Context, pending map[domain.RecipientID]struct{}) {
	if len(pending) == 0 {
		return
	}
	ids := make([]domain.RecipientID, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	if err := s.publisher.Publish(ctx, ids); err != nil {
		s.logger.Error("sync publish failed",
			slog.Int("recipients", len(ids)),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("published sync event", slog.Int("recipients", len(ids)))
}
