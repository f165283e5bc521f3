// Command server runs the identity-resolution service: the authenticated
// HTTP API, the recipient cache listener, the storage-sync scheduler and the
// profile refresh worker, all against one Postgres database.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"rolodex/internal/message"
	"rolodex/internal/platform/config"
	"rolodex/internal/platform/httpserver"
	"rolodex/internal/platform/logger"
	"rolodex/internal/platform/redis"
	"rolodex/internal/profiles"
	"rolodex/internal/recipient/cache"
	"rolodex/internal/recipient/metrics"
	"rolodex/internal/recipient/models"
	"rolodex/internal/recipient/remap"
	"rolodex/internal/recipient/resolve"
	"rolodex/internal/recipient/service"
	"rolodex/internal/recipient/store"
	"rolodex/internal/session"
	"rolodex/internal/storagesync"
	"rolodex/internal/thread"
	httptransport "rolodex/internal/transport/http"
	"rolodex/pkg/domain"
	txpkg "rolodex/pkg/platform/tx"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	recipients := store.NewPostgresStore(db)
	threads := thread.NewPostgresStore(db)
	messages := message.NewPostgresStore(db)
	sessions := session.NewPostgresStore(db)
	ledger := remap.NewPostgresLedger(db)
	for _, migrate := range []func(context.Context) error{
		recipients.Migrate, threads.Migrate, messages.Migrate, sessions.Migrate, ledger.Migrate,
	} {
		if err := migrate(ctx); err != nil {
			return err
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// The process-lifetime remap map is seeded from the persisted ledger and
	// then kept current by the post-commit hook.
	remapMap := remap.NewInMemoryLedger()
	persisted, err := ledger.All(ctx)
	if err != nil {
		return err
	}
	for retired, survivor := range persisted {
		_ = remapMap.Record(ctx, retired, survivor)
	}

	writer := service.NewWriter(recipients, threads, messages, sessions, ledger, log, m)

	self := resolve.Self{ACI: cfg.Self.ACI, PNI: cfg.Self.PNI, E164: cfg.Self.E164}
	hooks := []service.Hook{service.RemapMapHook(remapMap, log)}

	group, ctx := errgroup.WithContext(ctx)

	var scheduler *storagesync.Scheduler
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := storagesync.NewKafkaPublisher(cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		defer publisher.Close()
		if err := publisher.EnsureTopic(ctx, 3); err != nil {
			return err
		}
		scheduler = storagesync.NewScheduler(publisher, cfg.SyncDebounce, log)
		hooks = append(hooks, service.StorageSyncHook(scheduler))
		group.Go(func() error { return scheduler.Run(ctx) })
	}

	if cfg.ProfileDirectoryURL != "" {
		worker := profiles.NewWorker(recipients, profiles.NewHTTPSource(cfg.ProfileDirectoryURL), log)
		hooks = append(hooks, service.ProfileRefreshHook(worker))
		group.Go(func() error { return worker.Run(ctx) })
	}

	// The orchestrator is built in two steps: the cache's post-commit
	// invalidation hook needs the orchestrator's lookup as its loader.
	var orch *service.Orchestrator
	recordCache := cache.New(
		func(ctx context.Context, id domain.RecipientID) (models.Record, error) {
			return orch.Lookup(ctx, id)
		},
		log,
		cache.WithRedis(redisClient),
		cache.WithCounters(m.IncCacheHit, m.IncCacheMiss),
	)
	hooks = append(hooks, service.CacheInvalidationHook(recordCache))
	group.Go(func() error { return recordCache.Listen(ctx) })

	orch = service.NewOrchestrator(recipients, sessions, writer, remapMap,
		txpkg.SQLRunner{DB: db}, self, log, m, hooks...)

	tokens := httptransport.NewTokenService(cfg.JWTSigningKey, "rolodex")
	handler := httptransport.NewHandler(cachedResolver{orch: orch, cache: recordCache}, tokens, log)
	srv := httpserver.New(cfg.Addr, handler.Router())

	group.Go(func() error {
		log.Info("listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// cachedResolver serves record lookups from the recipient cache while
// delegating resolution to the orchestrator.
type cachedResolver struct {
	orch  *service.Orchestrator
	cache *cache.Cache
}

func (r cachedResolver) Resolve(ctx context.Context, req service.Request) (service.Result, error) {
	return r.orch.Resolve(ctx, req)
}

func (r cachedResolver) Lookup(ctx context.Context, id domain.RecipientID) (models.Record, error) {
	return r.cache.Get(ctx, id)
}
