// Package sourcetest provides an in-memory source.Table for tests.
package sourcetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"locker-status-backend/internal/model"
	"locker-status-backend/internal/source"
)

// Table is an in-memory locker table. Updates bump the row version and
// do not emit feed events; tests push events explicitly with Push.
type Table struct {
	mu      sync.Mutex
	rows    map[int64]model.LockerRow
	nextID  int64
	subs    []*Subscription
	patches []source.Patch

	ListErr      error
	UpdateErr    error
	SubscribeErr error
	Subscribes   int
}

// NewTable creates a table holding rows.
func NewTable(rows ...model.LockerRow) *Table {
	t := &Table{rows: make(map[int64]model.LockerRow)}
	for _, r := range rows {
		t.rows[r.ID] = r
		if r.ID > t.nextID {
			t.nextID = r.ID
		}
	}
	return t
}

func (t *Table) List(_ context.Context, q source.Query) ([]model.LockerRow, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ListErr != nil {
		return nil, t.ListErr
	}
	out := make([]model.LockerRow, 0, len(t.rows))
	for _, r := range t.rows {
		if matches(r, q.Eq) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Codigo < out[j].Codigo })
	return out, nil
}

func (t *Table) Count(ctx context.Context, q source.Query) (int64, error) {
	rows, err := t.List(ctx, q)
	return int64(len(rows)), err
}

func (t *Table) Update(_ context.Context, id int64, patch source.Patch) (model.LockerRow, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.patches = append(t.patches, patch)
	if t.UpdateErr != nil {
		return model.LockerRow{}, t.UpdateErr
	}
	row, ok := t.rows[id]
	if !ok {
		return model.LockerRow{}, fmt.Errorf("locker %d: %w", id, source.ErrNotFound)
	}
	for col, v := range patch {
		if err := setColumn(&row, col, v); err != nil {
			return model.LockerRow{}, err
		}
	}
	row.Version++
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	t.rows[id] = row
	return row, nil
}

func (t *Table) Insert(_ context.Context, row model.LockerRow) (model.LockerRow, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	row.ID = t.nextID
	if row.Version == 0 {
		row.Version = 1
	}
	if row.Estado == "" {
		row.Estado = "LIBRE"
	}
	now := time.Now().UTC()
	row.CreatedAt, row.UpdatedAt = now, now
	t.rows[row.ID] = row
	return row, nil
}

func (t *Table) Subscribe(_ context.Context) (source.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Subscribes++
	if t.SubscribeErr != nil {
		return nil, t.SubscribeErr
	}
	s := &Subscription{events: make(chan source.ChangeEvent, 16)}
	t.subs = append(t.subs, s)
	return s, nil
}

// Row returns the stored row with id.
func (t *Table) Row(id int64) (model.LockerRow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rows[id]
	return r, ok
}

// Patches returns every patch passed to Update, in order.
func (t *Table) Patches() []source.Patch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]source.Patch(nil), t.patches...)
}

// Current returns the latest subscription.
func (t *Table) Current() *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subs) == 0 {
		return nil
	}
	return t.subs[len(t.subs)-1]
}

// Subscription is a manually driven change feed.
type Subscription struct {
	mu     sync.Mutex
	events chan source.ChangeEvent
	closed bool
	// CloseErr is returned by Close, after the feed is closed anyway.
	CloseErr error
}

func (s *Subscription) Events() <-chan source.ChangeEvent { return s.events }

func (s *Subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return s.CloseErr
}

// Closed reports whether Close was called.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Push delivers ev to the consumer.
func (s *Subscription) Push(ev source.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("subscription closed")
	}
	s.events <- ev
	return nil
}

func matches(r model.LockerRow, eq map[string]any) bool {
	for col, v := range eq {
		switch col {
		case model.ColEstado:
			if r.Estado != v {
				return false
			}
		case model.ColGrupo:
			if r.Grupo == nil || *r.Grupo != v {
				return false
			}
		case model.ColActivo:
			active := r.Activo == nil || *r.Activo
			if active != v {
				return false
			}
		case model.ColCodigo:
			if r.Codigo != v {
				return false
			}
		}
	}
	return true
}

func setColumn(r *model.LockerRow, col string, v any) error {
	str := func() *string {
		if v == nil {
			return nil
		}
		s := fmt.Sprint(v)
		return &s
	}
	switch col {
	case model.ColEstado:
		r.Estado = fmt.Sprint(v)
	case model.ColGrupo:
		r.Grupo = str()
	case model.ColColaboradorNombre:
		r.ColaboradorNombre = str()
	case model.ColColaboradorDocumento:
		r.ColaboradorDocumento = str()
	case model.ColFechaAsignacion:
		r.FechaAsignacion = str()
	case model.ColNotas:
		r.Notas = str()
	case model.ColColor:
		r.Color = str()
	case model.ColIcono:
		r.Icono = str()
	case model.ColActivo:
		b, _ := v.(bool)
		r.Activo = &b
	case model.ColUpdatedAt:
		if ts, ok := v.(time.Time); ok {
			r.UpdatedAt = ts
		}
	default:
		return fmt.Errorf("column %q cannot be updated", col)
	}
	return nil
}
