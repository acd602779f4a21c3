// Package mirror keeps an in-memory copy of the locker table in sync with
// the remote source.
package mirror

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"locker-status-backend/internal/locker"
	"locker-status-backend/internal/model"
	"locker-status-backend/internal/source"
)

// ChangeKind describes how the mirror changed.
type ChangeKind string

const (
	ChangeInsert  ChangeKind = "insert"
	ChangeUpdate  ChangeKind = "update"
	ChangeDelete  ChangeKind = "delete"
	ChangeReplace ChangeKind = "replace"
)

// Change is delivered to listeners after the mirror changed. Old and New are
// nil where they do not apply; both are nil for ChangeReplace.
type Change struct {
	Kind ChangeKind     `json:"kind"`
	ID   locker.ID      `json:"id,omitempty"`
	Old  *locker.Record `json:"old,omitempty"`
	New  *locker.Record `json:"new,omitempty"`
}

// Mirror is an ordered, identity-indexed collection of locker records.
type Mirror struct {
	mu      sync.RWMutex
	records []locker.Record
	index   map[locker.ID]int

	lmu       sync.RWMutex
	listeners map[int]func(Change)
	nextID    int

	log *zap.Logger
}

// New creates an empty mirror.
func New(log *zap.Logger) *Mirror {
	return &Mirror{
		index:     make(map[locker.ID]int),
		listeners: make(map[int]func(Change)),
		log:       log,
	}
}

// OnChange registers fn to run after every change. Listeners run on the
// goroutine that made the change, without the mirror lock held.
func (m *Mirror) OnChange(fn func(Change)) (unregister func()) {
	m.lmu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.lmu.Unlock()
	return func() {
		m.lmu.Lock()
		delete(m.listeners, id)
		m.lmu.Unlock()
	}
}

func (m *Mirror) notify(c Change) {
	m.lmu.RLock()
	fns := make([]func(Change), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.lmu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}

// Replace swaps the whole content for rows, keeping their order. Rows that
// fail validation are skipped. It returns the number of records kept.
func (m *Mirror) Replace(rows []model.LockerRow) int {
	records := make([]locker.Record, 0, len(rows))
	index := make(map[locker.ID]int, len(rows))
	for _, row := range rows {
		rec, err := locker.FromRow(row)
		if err != nil {
			m.log.Warn("skipping locker row", zap.Error(err))
			continue
		}
		if i, dup := index[rec.ID]; dup {
			records[i] = rec
			continue
		}
		index[rec.ID] = len(records)
		records = append(records, rec)
	}

	m.mu.Lock()
	m.records = records
	m.index = index
	m.mu.Unlock()

	m.notify(Change{Kind: ChangeReplace})
	return len(records)
}

// Apply merges a change feed event. It reports whether the mirror changed;
// events carrying an older copy than the one held are ignored.
func (m *Mirror) Apply(ev source.ChangeEvent) (Change, bool, error) {
	switch ev.Type {
	case source.EventInsert, source.EventUpdate:
		if ev.New == nil {
			return Change{}, false, fmt.Errorf("%s event without new row", ev.Type)
		}
		rec, err := locker.FromRow(*ev.New)
		if err != nil {
			return Change{}, false, err
		}
		c, ok := m.Upsert(rec)
		return c, ok, nil
	case source.EventDelete:
		row := ev.Old
		if row == nil {
			row = ev.New
		}
		if row == nil || row.ID <= 0 {
			return Change{}, false, fmt.Errorf("DELETE event without identity")
		}
		c, ok := m.Remove(locker.ID(row.ID))
		return c, ok, nil
	default:
		return Change{}, false, fmt.Errorf("unsupported event type %q", ev.Type)
	}
}

// Upsert replaces the record with the same identity in place, or appends it.
func (m *Mirror) Upsert(rec locker.Record) (Change, bool) {
	m.mu.Lock()
	var c Change
	if i, ok := m.index[rec.ID]; ok {
		old := m.records[i]
		if rec.OlderThan(old) {
			m.mu.Unlock()
			return Change{}, false
		}
		m.records[i] = rec
		c = Change{Kind: ChangeUpdate, ID: rec.ID, Old: &old, New: &rec}
	} else {
		m.index[rec.ID] = len(m.records)
		m.records = append(m.records, rec)
		c = Change{Kind: ChangeInsert, ID: rec.ID, New: &rec}
	}
	m.mu.Unlock()

	m.notify(c)
	return c, true
}

// Remove deletes the record with the given identity.
func (m *Mirror) Remove(id locker.ID) (Change, bool) {
	m.mu.Lock()
	i, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return Change{}, false
	}
	old := m.records[i]
	m.records = append(m.records[:i], m.records[i+1:]...)
	delete(m.index, id)
	for j := i; j < len(m.records); j++ {
		m.index[m.records[j].ID] = j
	}
	m.mu.Unlock()

	c := Change{Kind: ChangeDelete, ID: id, Old: &old}
	m.notify(c)
	return c, true
}

// Get returns the record with the given identity.
func (m *Mirror) Get(id locker.ID) (locker.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[id]
	if !ok {
		return locker.Record{}, false
	}
	return m.records[i], true
}

// Snapshot returns a copy of all records in mirror order.
func (m *Mirror) Snapshot() []locker.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]locker.Record, len(m.records))
	copy(out, m.records)
	return out
}

// Len returns the number of records held.
func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
