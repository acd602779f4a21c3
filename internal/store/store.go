package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"locker-status-backend/internal/model"
	"locker-status-backend/internal/source"
)

// ErrNoFeed is returned by Subscribe when no change feed is configured.
var ErrNoFeed = errors.New("change feed not configured")

// Columns that may appear in queries and patches.
var knownColumns = map[string]bool{
	model.ColID: true, model.ColCodigo: true, model.ColEstado: true, model.ColGrupo: true,
	model.ColColaboradorNombre: true, model.ColColaboradorDocumento: true,
	model.ColFechaAsignacion: true, model.ColNotas: true, model.ColColor: true,
	model.ColIcono: true, model.ColActivo: true, model.ColVersion: true, model.ColUpdatedAt: true,
}

// Store is the database-backed locker table.
type Store interface {
	source.Table
	source.Pinger
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db   *gorm.DB
	feed *listenerFeed
}

// Option configures a gormStore.
type Option func(*gormStore)

// WithListener enables the LISTEN/NOTIFY change feed on channel.
func WithListener(dsn, channel string, log *zap.Logger) Option {
	return func(s *gormStore) {
		s.feed = &listenerFeed{dsn: dsn, channel: channel, log: log}
	}
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB, opts ...Option) Store {
	s := &gormStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.feed != nil {
		s.feed.list = s.List
	}
	return s
}

// DB exposes the underlying handle for the tables that are not locker rows.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// Ping checks that the database answers.
func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// List returns the rows matching q.
func (s *gormStore) List(ctx context.Context, q source.Query) ([]model.LockerRow, error) {
	tx, err := applyQuery(s.db.WithContext(ctx).Model(&model.LockerRow{}), q)
	if err != nil {
		return nil, err
	}
	var rows []model.LockerRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list lockers: %w", err)
	}
	return rows, nil
}

// Count returns how many rows match q, ignoring its order.
func (s *gormStore) Count(ctx context.Context, q source.Query) (int64, error) {
	q.OrderBy = ""
	tx, err := applyQuery(s.db.WithContext(ctx).Model(&model.LockerRow{}), q)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count lockers: %w", err)
	}
	return n, nil
}

// Update applies patch to one row, bumps its version and returns the stored row.
func (s *gormStore) Update(ctx context.Context, id int64, patch source.Patch) (model.LockerRow, error) {
	updates := make(map[string]any, len(patch)+1)
	for col, v := range patch {
		if !knownColumns[col] || col == model.ColID || col == model.ColVersion {
			return model.LockerRow{}, fmt.Errorf("column %q cannot be updated", col)
		}
		updates[col] = v
	}
	updates[model.ColVersion] = gorm.Expr("version + 1")

	var row model.LockerRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.LockerRow{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update locker %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("locker %d: %w", id, source.ErrNotFound)
		}
		if err := tx.First(&row, id).Error; err != nil {
			return fmt.Errorf("failed to read back locker %d: %w", id, err)
		}
		return nil
	})
	return row, err
}

// Insert creates a row and returns it as stored.
func (s *gormStore) Insert(ctx context.Context, row model.LockerRow) (model.LockerRow, error) {
	row.ID = 0
	if row.Version <= 0 {
		row.Version = 1
	}
	var created model.LockerRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert locker %q: %w", row.Codigo, err)
		}
		return tx.First(&created, row.ID).Error
	})
	return created, err
}

// Subscribe opens a change feed.
func (s *gormStore) Subscribe(ctx context.Context) (source.Subscription, error) {
	if s.feed == nil {
		return nil, ErrNoFeed
	}
	return s.feed.subscribe(ctx)
}

func applyQuery(tx *gorm.DB, q source.Query) (*gorm.DB, error) {
	cols := make([]string, 0, len(q.Eq))
	for col := range q.Eq {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		if !knownColumns[col] {
			return nil, fmt.Errorf("unknown column %q", col)
		}
		tx = tx.Where(clause.Eq{Column: clause.Column{Name: col}, Value: q.Eq[col]})
	}
	if q.OrderBy != "" {
		if !knownColumns[q.OrderBy] {
			return nil, fmt.Errorf("unknown column %q", q.OrderBy)
		}
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: q.OrderBy}})
	}
	return tx, nil
}
