package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"locker-status-backend/config"
	"locker-status-backend/internal/db"
	"locker-status-backend/internal/logger"
	"locker-status-backend/internal/source"
	"locker-status-backend/internal/store"
	"locker-status-backend/internal/supabase"
)

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "lockerd")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	log.Info("configuration loaded", zap.String("path", configPath))
	return cfg, log, nil
}

// lockerBackend is the opened backend of the lockers module.
type lockerBackend struct {
	name  string
	table source.Table
	// db is set for database backends.
	db *gorm.DB
}

func (b *lockerBackend) Close() {
	if b.db == nil {
		return
	}
	if sqlDB, err := b.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func readyConfig(cfg *config.Config) source.ReadyConfig {
	rc := source.DefaultReadyConfig()
	rc.Timeout = time.Duration(cfg.Ready.TimeoutSeconds) * time.Second
	rc.MaxAttempts = cfg.Ready.MaxAttempts
	return rc
}

// openLockers connects the lockers module's backend and waits until it
// answers.
func openLockers(ctx context.Context, cfg *config.Config, log *zap.Logger) (*lockerBackend, error) {
	name, b, err := cfg.BackendFor(config.ModuleLockers)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("backend", name), zap.String("kind", b.Kind))

	be := &lockerBackend{name: name}
	var probe func(context.Context) error
	switch b.Kind {
	case config.KindREST:
		client := supabase.New(b, log.Named("supabase"))
		be.table = client
		probe = client.Ping
	default:
		gormDB, err := db.Init(&b, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		var opts []store.Option
		if b.Kind == config.KindPostgres && b.Realtime {
			opts = append(opts, store.WithListener(b.URL, b.NotifyChannel, log.Named("listener")))
		}
		st := store.NewGormStore(gormDB, opts...)
		be.table, be.db = st, gormDB
		probe = st.Ping
	}

	if err := source.WaitReady(ctx, readyConfig(cfg), probe); err != nil {
		be.Close()
		return nil, fmt.Errorf("lockers backend %q: %w", name, err)
	}
	log.Info("lockers backend ready")
	return be, nil
}

// openSubscriptions returns the push subscription database. It reuses the
// lockers connection when both live on the same backend.
func openSubscriptions(cfg *config.Config, be *lockerBackend, log *zap.Logger) (*gorm.DB, func(), error) {
	noop := func() {}
	if cfg.Push.Backend == "" {
		return nil, noop, nil
	}
	if cfg.Push.Backend == be.name && be.db != nil {
		return be.db, noop, nil
	}
	b := cfg.Backends[cfg.Push.Backend]
	gormDB, err := db.Init(&b, log.With(zap.String("backend", cfg.Push.Backend)))
	if err != nil {
		return nil, noop, fmt.Errorf("failed to initialize push database: %w", err)
	}
	return gormDB, func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	}, nil
}
