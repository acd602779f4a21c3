// Package source defines the contract of the remote table that owns the
// canonical locker rows, and the change feed it pushes.
package source

import (
	"context"
	"errors"

	"locker-status-backend/internal/model"
)

// ErrNotFound is returned when an update targets a missing row.
var ErrNotFound = errors.New("locker not found")

// EventType is the kind of change delivered by a change feed.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	// EventResync asks the consumer to re-read the table, e.g. after the
	// feed lost notifications while reconnecting.
	EventResync EventType = "RESYNC"
)

// ChangeEvent is one notification from the change feed.
type ChangeEvent struct {
	Type EventType        `json:"eventType"`
	New  *model.LockerRow `json:"new"`
	Old  *model.LockerRow `json:"old"`
}

// Query selects rows with equality predicates and an optional order.
type Query struct {
	Eq      map[string]any
	OrderBy string
}

// ByCode is the query used for bulk reads.
func ByCode() Query {
	return Query{OrderBy: model.ColCodigo}
}

// Patch is a partial update keyed by column name. A nil value clears the column.
type Patch map[string]any

// Subscription is a live change feed. Events is closed when the feed ends.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// Table is the remote locker table.
type Table interface {
	List(ctx context.Context, q Query) ([]model.LockerRow, error)
	Count(ctx context.Context, q Query) (int64, error)
	Update(ctx context.Context, id int64, patch Patch) (model.LockerRow, error)
	Insert(ctx context.Context, row model.LockerRow) (model.LockerRow, error)
	Subscribe(ctx context.Context) (Subscription, error)
}

// SnapshotSubscriber is implemented by tables whose change feed diffs
// snapshots. SubscribeFrom starts the feed from rows, the bulk read the caller
// just applied, so that changes made after that read are delivered.
type SnapshotSubscriber interface {
	SubscribeFrom(ctx context.Context, rows []model.LockerRow) (Subscription, error)
}

// Pinger is implemented by tables that can check connectivity cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}
