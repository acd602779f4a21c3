package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"locker-status-backend/config"
	"locker-status-backend/internal/api"
	"locker-status-backend/internal/audit"
	"locker-status-backend/internal/board"
	"locker-status-backend/internal/locker"
	"locker-status-backend/internal/metrics"
	"locker-status-backend/internal/mirror"
	"locker-status-backend/internal/mw"
	"locker-status-backend/internal/notification"
	"locker-status-backend/internal/supabase"
)

const auditMaxLen = 10000

func serve(ctx context.Context, configPath string) error {
	cfg, log, err := setup(configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openLockers(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)

	m := mirror.New(log)
	syncer := mirror.NewSyncer(be.table, m, log, met)

	var pub audit.Publisher = audit.Nop{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		rp := audit.NewRedisPublisher(rdb, cfg.Redis.AuditStream, auditMaxLen)
		if err := rp.Ping(ctx); err != nil {
			log.Warn("audit stream unreachable, entries will be dropped until it recovers", zap.Error(err))
		}
		pub = rp
		log.Info("audit stream enabled", zap.String("stream", cfg.Redis.AuditStream))
	}

	grouper := locker.NewGrouper(cfg.Board.PreferredGroups)
	gateway := board.NewGateway(be.table, m, pub, met, log)
	registry := board.NewRegistry(board.Deps{
		Mirror:  m,
		Sync:    syncer,
		Gateway: gateway,
		Grouper: grouper,
	}, cfg.Board.SearchDebounce, cfg.Board.ViewTTL, log)

	subsDB, closeSubs, err := openSubscriptions(cfg, be, log)
	if err != nil {
		return err
	}
	defer closeSubs()

	var (
		webpushOptions *webpush.Options
		pool           *notification.WorkerPool
	)
	if cfg.Push.Enabled() && subsDB != nil {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool = notification.NewWorkerPool(cfg.WorkerPool.Size, subsDB, webpushOptions, log, met)
		defer pool.Watch(m)()
	} else {
		log.Info("push notifications disabled")
	}

	storage, bucket := evidenceStorage(cfg, log)

	cache := mw.NewResponseCache(time.Duration(cfg.Server.CacheTTLSeconds) * time.Second)
	defer m.OnChange(func(mirror.Change) { cache.Flush() })()

	h := api.NewHandler(api.Deps{
		Table:         be.table,
		Syncer:        syncer,
		Gateway:       gateway,
		Registry:      registry,
		Grouper:       grouper,
		Storage:       storage,
		Bucket:        bucket,
		Subscriptions: subsDB,
		WebPush:       webpushOptions,
		Log:           log,
	})
	router := api.NewRouter(h, api.RouterConfig{
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		Cache:           cache,
		JWTSecret:       cfg.Auth.JWTSecret,
		MutationRoles:   cfg.Auth.MutationRoles,
		Gatherer:        reg,
		Log:             log,
	})
	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret is empty, mutating routes are open")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return syncer.Run(gctx) })
	g.Go(func() error { return registry.Run(gctx) })
	if pool != nil {
		g.Go(func() error { return pool.Run(gctx) })
	}
	g.Go(func() error {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, stopping services")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server gracefully stopped")
	return nil
}

// evidenceStorage returns the storage client of the penalties module when it
// lives on a rest backend.
func evidenceStorage(cfg *config.Config, log *zap.Logger) (api.Storage, string) {
	name, b, err := cfg.BackendFor(config.ModulePenalties)
	if err != nil {
		log.Info("evidence uploads disabled", zap.Error(err))
		return nil, ""
	}
	if b.Kind != config.KindREST {
		log.Info("evidence uploads disabled, penalties backend has no object storage",
			zap.String("backend", name), zap.String("kind", b.Kind))
		return nil, ""
	}
	return supabase.New(b, log.Named("storage")), b.EvidenceBucket
}
