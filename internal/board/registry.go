package board

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"locker-status-backend/internal/locker"
	"locker-status-backend/internal/mirror"
)

// Deps are the shared collaborators of every view.
type Deps struct {
	Mirror  *mirror.Mirror
	Sync    StatusSource
	Gateway *Gateway
	Grouper *locker.Grouper
}

// Registry owns the live views and expires idle ones.
type Registry struct {
	deps     Deps
	debounce time.Duration
	ttl      time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	views map[string]*View
}

// NewRegistry creates a Registry. Views idle for longer than ttl are removed
// by Sweep.
func NewRegistry(deps Deps, debounce, ttl time.Duration, log *zap.Logger) *Registry {
	if deps.Grouper == nil {
		deps.Grouper = locker.NewGrouper(nil)
	}
	return &Registry{
		deps:     deps,
		debounce: debounce,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
		views:    make(map[string]*View),
	}
}

// Create registers a new view.
func (r *Registry) Create() *View {
	v := newView(uuid.NewString(), r.deps, r.debounce, r.now)
	r.mu.Lock()
	r.views[v.id] = v
	r.mu.Unlock()
	return v
}

// Get returns the view with id and marks it as used.
func (r *Registry) Get(id string) (*View, bool) {
	r.mu.Lock()
	v, ok := r.views[id]
	r.mu.Unlock()
	if ok {
		v.touch()
	}
	return v, ok
}

// Delete closes and removes the view with id.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	v, ok := r.views[id]
	delete(r.views, id)
	r.mu.Unlock()
	if ok {
		v.Close()
	}
	return ok
}

// Len returns the number of live views.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

// Sweep removes views idle for longer than the ttl and returns how many
// were removed.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)
	var expired []*View
	r.mu.Lock()
	for id, v := range r.views {
		if v.idleSince().Before(cutoff) {
			expired = append(expired, v)
			delete(r.views, id)
		}
	}
	r.mu.Unlock()
	for _, v := range expired {
		v.Close()
	}
	return len(expired)
}

// Run sweeps periodically until ctx is done, then closes every view.
func (r *Registry) Run(ctx context.Context) error {
	interval := r.ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return nil
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.log.Info("expired idle board views", zap.Int("count", n))
			}
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	views := r.views
	r.views = make(map[string]*View)
	r.mu.Unlock()
	for _, v := range views {
		v.Close()
	}
}
