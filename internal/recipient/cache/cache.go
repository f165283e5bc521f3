// Package cache is a read-through, in-process cache over the recipient store.
// Loads are deduplicated with singleflight so a cold id costs one store read
// regardless of concurrent callers. When Redis is configured, invalidations
// fan out to every process over pub/sub so replicas drop stale entries too.
package cache

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"rolodex/internal/platform/redis"
	"rolodex/internal/recipient/models"
	"rolodex/pkg/domain"
)

const invalidationChannel = "rolodex:recipient:invalidate"

// Loader fetches the authoritative record for an id.
type Loader func(ctx context.Context, id domain.RecipientID) (models.Record, error)

type Cache struct {
	loader Loader
	redis  *redis.Client
	logger *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	entries map[domain.RecipientID]models.Record

	hits   func()
	misses func()
}

// Option customizes a Cache.
type Option func(*Cache)

// WithRedis enables cross-process invalidation. A nil client is allowed and
// leaves the cache purely local.
func WithRedis(client *redis.Client) Option {
	return func(c *Cache) { c.redis = client }
}

// WithCounters installs hit and miss callbacks for metrics.
func WithCounters(hit, miss func()) Option {
	return func(c *Cache) {
		c.hits = hit
		c.misses = miss
	}
}

func New(loader Loader, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		loader:  loader,
		logger:  logger,
		entries: make(map[domain.RecipientID]models.Record),
		hits:    func() {},
		misses:  func() {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached record for id, loading it on a miss. Concurrent
// misses for the same id share one load.
func (c *Cache) Get(ctx context.Context, id domain.RecipientID) (models.Record, error) {
	c.mu.RLock()
	rec, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		c.hits()
		return rec, nil
	}
	c.misses()

	v, err, _ := c.group.Do(strconv.FormatInt(int64(id), 10), func() (any, error) {
		loaded, err := c.loader(ctx, id)
		if err != nil {
			return models.Record{}, err
		}
		c.mu.Lock()
		c.entries[id] = loaded
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return models.Record{}, err
	}
	return v.(models.Record), nil
}

// Invalidate drops ids locally and, when Redis is configured, broadcasts the
// drop to other processes. Meant to be called from post-commit hooks only.
func (c *Cache) Invalidate(ctx context.Context, ids ...domain.RecipientID) {
	c.dropLocal(ids...)

	if c.redis == nil {
		return
	}
	for _, id := range ids {
		payload := strconv.FormatInt(int64(id), 10)
		if err := c.redis.Publish(ctx, invalidationChannel, payload).Err(); err != nil {
			c.logger.Warn("cache invalidation publish failed",
				slog.Int64("recipient_id", int64(id)),
				slog.String("error", err.Error()))
		}
	}
}

// Listen subscribes to the invalidation channel and drops entries announced
// by other processes. Blocks until ctx is cancelled; a no-op without Redis.
func (c *Cache) Listen(ctx context.Context) error {
	if c.redis == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	sub := c.redis.Subscribe(ctx, invalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			id, err := strconv.ParseInt(msg.Payload, 10, 64)
			if err != nil {
				c.logger.Warn("malformed invalidation payload", slog.String("payload", msg.Payload))
				continue
			}
			c.dropLocal(domain.RecipientID(id))
		}
	}
}

func (c *Cache) dropLocal(ids ...domain.RecipientID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.entries, id)
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
