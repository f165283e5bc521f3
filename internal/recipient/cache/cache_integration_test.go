//go:build integration

package cache

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rolodex/internal/platform/redis"
	"rolodex/internal/recipient/models"
	"rolodex/pkg/domain"
	"rolodex/pkg/testutil/containers"
)

func TestCacheInvalidationFansOutOverRedis(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	client, err := redis.New(rc.URL)
	require.NoError(t, err)
	defer client.Close()

	loader := func(_ context.Context, id domain.RecipientID) (models.Record, error) {
		return models.Record{ID: id}, nil
	}
	logger := slog.New(slog.DiscardHandler)

	// Two caches as two processes sharing one Redis.
	a := New(loader, logger, WithRedis(client))
	b := New(loader, logger, WithRedis(client))

	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = b.Listen(listenCtx) }()

	// Warm both, then give the subscriber a moment to attach.
	_, err = a.Get(ctx, 1)
	require.NoError(t, err)
	_, err = b.Get(ctx, 1)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	a.Invalidate(ctx, 1)

	require.Eventually(t, func() bool { return b.Len() == 0 }, 5*time.Second, 10*time.Millisecond,
		"the other process drops the entry announced over pub/sub")
	require.Zero(t, a.Len())
}
