package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolodex/internal/recipient/models"
	"rolodex/pkg/domain"
	"rolodex/pkg/platform/sentinel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestCacheReadThrough(t *testing.T) {
	var loads atomic.Int64
	loader := func(_ context.Context, id domain.RecipientID) (models.Record, error) {
		loads.Add(1)
		return models.Record{ID: id, E164: "+15551230100", StorageSyncID: uuid.New()}, nil
	}

	var hits, misses atomic.Int64
	c := New(loader, testLogger(), WithCounters(
		func() { hits.Add(1) },
		func() { misses.Add(1) },
	))
	ctx := context.Background()

	rec, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientID(1), rec.ID)

	_, err = c.Get(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), loads.Load(), "second read is served from cache")
	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, int64(1), misses.Load())
}

func TestCacheLoadErrorsAreNotCached(t *testing.T) {
	var loads atomic.Int64
	loader := func(_ context.Context, id domain.RecipientID) (models.Record, error) {
		if loads.Add(1) == 1 {
			return models.Record{}, sentinel.ErrNotFound
		}
		return models.Record{ID: id}, nil
	}

	c := New(loader, testLogger())
	ctx := context.Background()

	_, err := c.Get(ctx, 1)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	rec, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientID(1), rec.ID)
}

func TestCacheSingleflightConcurrentMisses(t *testing.T) {
	var loads atomic.Int64
	release := make(chan struct{})
	loader := func(_ context.Context, id domain.RecipientID) (models.Record, error) {
		loads.Add(1)
		<-release
		return models.Record{ID: id}, nil
	}

	c := New(loader, testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(ctx, 1)
			assert.NoError(t, err)
		}()
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), loads.Load(), "concurrent misses collapse into one load")
}

func TestCacheInvalidate(t *testing.T) {
	var loads atomic.Int64
	loader := func(_ context.Context, id domain.RecipientID) (models.Record, error) {
		loads.Add(1)
		return models.Record{ID: id}, nil
	}

	c := New(loader, testLogger())
	ctx := context.Background()

	_, err := c.Get(ctx, 1)
	require.NoError(t, err)
	_, err = c.Get(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	c.Invalidate(ctx, 1)
	assert.Equal(t, 1, c.Len())

	_, err = c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), loads.Load(), "invalidated id reloads from the store")
}
