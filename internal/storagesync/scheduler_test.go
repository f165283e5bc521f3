package storagesync

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolodex/pkg/domain"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]domain.RecipientID
}

func (f *fakePublisher) Publish(_ context.Context, ids []domain.RecipientID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]domain.RecipientID, len(ids))
	copy(batch, ids)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakePublisher) Close() {}

func (f *fakePublisher) all() [][]domain.RecipientID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]domain.RecipientID, len(f.batches))
	copy(out, f.batches)
	return out
}

func TestSchedulerDebouncesTriggers(t *testing.T) {
	pub := &fakePublisher{}
	s := NewScheduler(pub, 20*time.Millisecond, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	s.Schedule(1)
	s.Schedule(2)
	s.Schedule(1)
	s.Schedule(1)

	require.Eventually(t, func() bool {
		return len(pub.all()) >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	batches := pub.all()
	require.NotEmpty(t, batches)
	assert.ElementsMatch(t, []domain.RecipientID{1, 2}, batches[0],
		"repeated triggers within the window collapse into one batch")
}

func TestSchedulerFlushesOnShutdown(t *testing.T) {
	pub := &fakePublisher{}
	// A long debounce so only the shutdown flush can publish.
	s := NewScheduler(pub, time.Hour, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	s.Schedule(7)
	// Give Run a moment to drain the channel into the pending set.
	require.Eventually(t, func() bool { return len(s.incoming) == 0 }, time.Second, time.Millisecond)

	cancel()
	<-done

	batches := pub.all()
	require.Len(t, batches, 1)
	assert.Equal(t, []domain.RecipientID{7}, batches[0])
}
