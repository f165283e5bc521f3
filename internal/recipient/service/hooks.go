package service

import (
	"context"
	"log/slog"

	"rolodex/internal/recipient/cache"
	"rolodex/internal/recipient/remap"
	"rolodex/pkg/domain"
)

// Event describes one committed resolution for post-commit consumers.
type Event struct {
	Result   Result
	Affected []domain.RecipientID
}

// Hook runs after a resolution commits. Hooks must not write to the
// recipient table; they exist to propagate the committed outcome to derived
// state such as caches, the in-process remap map and background schedulers.
type Hook func(ctx context.Context, ev Event)

func (o *Orchestrator) runHooks(ctx context.Context, ev Event) {
	for _, hook := range o.hooks {
		hook(ctx, ev)
	}
}

// CacheInvalidationHook drops every touched id from the recipient cache,
// locally and across processes.
func CacheInvalidationHook(c *cache.Cache) Hook {
	return func(ctx context.Context, ev Event) {
		if len(ev.Affected) == 0 {
			return
		}
		c.Invalidate(ctx, ev.Affected...)
	}
}

// RemapMapHook mirrors committed merges into the process-lifetime remap map
// so lookups can follow retired ids without a database round trip.
func RemapMapHook(m *remap.InMemoryLedger, logger *slog.Logger) Hook {
	return func(ctx context.Context, ev Event) {
		for _, retired := range ev.Result.Retired {
			if err := m.Record(ctx, retired, ev.Result.ID); err != nil {
				logger.Warn("remap map update failed",
					slog.Int64("retired", int64(retired)),
					slog.Int64("survivor", int64(ev.Result.ID)),
					slog.String("error", err.Error()))
			}
		}
	}
}

// SyncScheduler is the debounced storage-sync trigger.
type SyncScheduler interface {
	Schedule(id domain.RecipientID)
}

// StorageSyncHook schedules a sync for every resolution that wrote something.
func StorageSyncHook(s SyncScheduler) Hook {
	return func(_ context.Context, ev Event) {
		if ev.Result.Outcome == OutcomeMatched {
			return
		}
		s.Schedule(ev.Result.ID)
	}
}

// ProfileFetcher requests a profile refresh for a recipient.
type ProfileFetcher interface {
	Enqueue(id domain.RecipientID)
}

// ProfileRefreshHook requests a profile fetch for newly inserted records,
// which carry no profile state yet.
func ProfileRefreshHook(f ProfileFetcher) Hook {
	return func(_ context.Context, ev Event) {
		if ev.Result.Outcome != OutcomeInserted {
			return
		}
		f.Enqueue(ev.Result.ID)
	}
}
