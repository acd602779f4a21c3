package db

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"locker-status-backend/config"
	"locker-status-backend/internal/model"
)

// Init opens the backend database and runs migrations. For postgres backends
// with realtime enabled it also installs the change notification trigger.
func Init(cfg *config.BackendConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Kind {
	case config.KindPostgres:
		dialector = postgres.Open(cfg.URL)
	case config.KindSQLite:
		dialector = sqlite.Open(cfg.URL)
	default:
		return nil, fmt.Errorf("backend kind %q is not a database", cfg.Kind)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if cfg.Kind == config.KindPostgres && cfg.Realtime {
		log.Info("installing change notification trigger", zap.String("channel", cfg.NotifyChannel))
		if err := applyRealtimeDDL(db, cfg.NotifyChannel); err != nil {
			// The board still works without push, with manual refreshes only.
			log.Warn("failed to install change notification trigger", zap.Error(err))
		}
	}

	log.Info("database initialization complete", zap.String("kind", cfg.Kind))
	return db, nil
}

// Migrate creates or updates the tables this service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.LockerRow{},
		&model.PushSubscription{},
		&model.SubscriptionLocker{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

// RealtimeDDL returns the statements that make every change to the lockers
// table emit a NOTIFY on channel. The payload carries the change type, id and
// version only; NOTIFY rejects payloads of 8000 bytes or more and the error
// would abort the write.
func RealtimeDDL(channel string) []string {
	return []string{
		`CREATE OR REPLACE FUNCTION notify_lockers_change() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		PERFORM pg_notify('` + channel + `', json_build_object(
			'eventType', TG_OP, 'id', OLD.id, 'version', OLD.version)::text);
	ELSE
		PERFORM pg_notify('` + channel + `', json_build_object(
			'eventType', TG_OP, 'id', NEW.id, 'version', NEW.version)::text);
	END IF;
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;`,
		"DROP TRIGGER IF EXISTS lockers_notify ON lockers;",
		"CREATE TRIGGER lockers_notify AFTER INSERT OR UPDATE OR DELETE ON lockers " +
			"FOR EACH ROW EXECUTE FUNCTION notify_lockers_change();",
	}
}

func applyRealtimeDDL(db *gorm.DB, channel string) error {
	for _, ddl := range RealtimeDDL(channel) {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
