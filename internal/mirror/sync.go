package mirror

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"locker-status-backend/internal/metrics"
	"locker-status-backend/internal/source"
)

// State is the load state of the mirror.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Status describes the synchronization state shown alongside the board.
type Status struct {
	State    State     `json:"state"`
	Live     bool      `json:"live"`
	Error    string    `json:"error,omitempty"`
	Count    int       `json:"count"`
	LastSync time.Time `json:"last_sync,omitempty"`
}

// Syncer seeds the mirror from the remote table and keeps it current with
// the table's change feed. At most one subscription is active at a time.
type Syncer struct {
	table   source.Table
	mirror  *Mirror
	log     *zap.Logger
	metrics *metrics.Metrics

	refreshMu sync.Mutex

	mu      sync.Mutex
	baseCtx context.Context
	sub     source.Subscription
	status  Status
}

// NewSyncer creates a Syncer for table feeding m.
func NewSyncer(table source.Table, m *Mirror, log *zap.Logger, met *metrics.Metrics) *Syncer {
	return &Syncer{
		table:   table,
		mirror:  m,
		log:     log,
		metrics: met,
		baseCtx: context.Background(),
		status:  Status{State: StateLoading},
	}
}

// Mirror returns the mirror fed by s.
func (s *Syncer) Mirror() *Mirror { return s.mirror }

// Run performs the initial load and keeps the feed open until ctx ends.
// A failed initial load leaves the mirror empty in the error state; it can be
// retried with Refresh.
func (s *Syncer) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if err := s.Refresh(ctx, true); err != nil {
		s.log.Error("initial locker load failed", zap.Error(err))
	}
	<-ctx.Done()
	s.Close()
	return nil
}

// Refresh re-reads the whole table into the mirror. A new subscription is
// opened when force is set or none is active; the previous one is closed first.
func (s *Syncer) Refresh(ctx context.Context, force bool) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.Lock()
	s.status.State = StateLoading
	s.mu.Unlock()

	rows, err := s.table.List(ctx, source.ByCode())
	s.metrics.BulkRead(err)
	if err != nil {
		s.mu.Lock()
		s.status.State = StateError
		s.status.Error = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("bulk read of lockers failed: %w", err)
	}

	n := s.mirror.Replace(rows)
	s.metrics.SetMirrorSize(n)

	s.mu.Lock()
	s.status = Status{State: StateReady, Live: s.sub != nil, Count: n, LastSync: time.Now().UTC()}
	old := s.sub
	resubscribe := force || old == nil
	if resubscribe {
		s.sub = nil
		s.status.Live = false
	}
	baseCtx := s.baseCtx
	s.mu.Unlock()

	if !resubscribe {
		return nil
	}
	if old != nil {
		if err := old.Close(); err != nil {
			s.log.Debug("closing previous change feed", zap.Error(err))
		}
	}

	var sub source.Subscription
	if ss, ok := s.table.(source.SnapshotSubscriber); ok {
		sub, err = ss.SubscribeFrom(baseCtx, rows)
	} else {
		sub, err = s.table.Subscribe(baseCtx)
	}
	if err != nil {
		s.log.Warn("change feed unavailable, manual refresh only", zap.Error(err))
		s.metrics.SetFeedLive(false)
		return nil
	}

	s.mu.Lock()
	s.sub = sub
	s.status.Live = true
	s.mu.Unlock()
	s.metrics.SetFeedLive(true)

	go s.consume(sub)
	return nil
}

func (s *Syncer) consume(sub source.Subscription) {
	for ev := range sub.Events() {
		if ev.Type == source.EventResync {
			s.log.Info("change feed asked for a resync")
			s.mu.Lock()
			ctx := s.baseCtx
			s.mu.Unlock()
			if err := s.Refresh(ctx, false); err != nil {
				s.log.Warn("resync failed", zap.Error(err))
			}
			continue
		}

		_, applied, err := s.mirror.Apply(ev)
		if err != nil {
			s.log.Warn("ignoring change event", zap.String("type", string(ev.Type)), zap.Error(err))
			continue
		}
		if !applied {
			if ev.Type != source.EventDelete {
				s.metrics.StaleEvent()
			}
			continue
		}
		s.metrics.EventApplied(string(ev.Type))
		s.metrics.SetMirrorSize(s.mirror.Len())
	}

	s.mu.Lock()
	current := s.sub == sub
	if current {
		s.sub = nil
		s.status.Live = false
	}
	s.mu.Unlock()
	if current {
		s.metrics.SetFeedLive(false)
		s.log.Warn("change feed ended, manual refresh only")
	}
}

// Status returns the current synchronization status.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if st.State == StateReady {
		st.Count = s.mirror.Len()
	}
	return st
}

// Close tears down the active subscription, if any.
func (s *Syncer) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.status.Live = false
	s.mu.Unlock()
	if sub != nil {
		if err := sub.Close(); err != nil {
			s.log.Debug("closing change feed", zap.Error(err))
		}
	}
}
