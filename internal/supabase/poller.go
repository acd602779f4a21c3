package supabase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"locker-status-backend/internal/model"
	"locker-status-backend/internal/source"
)

// poller turns periodic bulk reads into a change feed by diffing
// consecutive snapshots.
type poller struct {
	table    source.Table
	interval time.Duration
	log      *zap.Logger

	events chan source.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func startPoller(ctx context.Context, table source.Table, interval time.Duration, baseline []model.LockerRow, log *zap.Logger) *poller {
	pctx, cancel := context.WithCancel(ctx)
	p := &poller{
		table:    table,
		interval: interval,
		log:      log,
		events:   make(chan source.ChangeEvent, 64),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go p.run(pctx, index(baseline))
	return p
}

func (p *poller) Events() <-chan source.ChangeEvent { return p.events }

// Close stops polling and waits for the loop to exit.
func (p *poller) Close() error {
	p.once.Do(p.cancel)
	<-p.done
	return nil
}

func (p *poller) run(ctx context.Context, prev map[int64]model.LockerRow) {
	defer close(p.done)
	defer close(p.events)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			rows, err := p.table.List(ctx, source.ByCode())
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.log.Warn("poll failed", zap.Error(err))
				timer.Reset(p.interval)
				continue
			}
			next := index(rows)
			for _, ev := range diff(prev, next, rows) {
				select {
				case p.events <- ev:
				case <-ctx.Done():
					return
				}
			}
			prev = next
			timer.Reset(p.interval)
		}
	}
}

func index(rows []model.LockerRow) map[int64]model.LockerRow {
	m := make(map[int64]model.LockerRow, len(rows))
	for _, r := range rows {
		m[r.ID] = r
	}
	return m
}

// diff emits inserts and updates in the order of rows, then deletes.
func diff(prev, next map[int64]model.LockerRow, rows []model.LockerRow) []source.ChangeEvent {
	var out []source.ChangeEvent
	for _, r := range rows {
		r := r
		old, ok := prev[r.ID]
		switch {
		case !ok:
			out = append(out, source.ChangeEvent{Type: source.EventInsert, New: &r})
		case old.Version != r.Version || !old.UpdatedAt.Equal(r.UpdatedAt):
			o := old
			out = append(out, source.ChangeEvent{Type: source.EventUpdate, New: &r, Old: &o})
		}
	}
	for id, old := range prev {
		if _, ok := next[id]; !ok {
			o := old
			out = append(out, source.ChangeEvent{Type: source.EventDelete, Old: &o})
		}
	}
	return out
}
