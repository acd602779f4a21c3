package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"locker-status-backend/internal/model"
	"locker-status-backend/internal/source"
)

const fetchTimeout = 10 * time.Second

type listenerFeed struct {
	dsn     string
	channel string
	log     *zap.Logger
	list    func(ctx context.Context, q source.Query) ([]model.LockerRow, error)
}

func (f *listenerFeed) subscribe(ctx context.Context) (source.Subscription, error) {
	l := pq.NewListener(f.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			f.log.Warn("change feed listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})

	listenErr := make(chan error, 1)
	go func() { listenErr <- l.Listen(f.channel) }()
	select {
	case err := <-listenErr:
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("listen on %q: %w", f.channel, err)
		}
	case <-ctx.Done():
		l.Close()
		return nil, ctx.Err()
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &listenerSubscription{
		feed:     f,
		listener: l,
		events:   make(chan source.ChangeEvent, 64),
		ctx:      subCtx,
		cancel:   cancel,
		log:      f.log,
	}
	go sub.loop()
	f.log.Info("change feed subscribed", zap.String("channel", f.channel))
	return sub, nil
}

// resolve turns a notification into a change event, reading the row back for
// inserts and updates. ok is false when the row is already gone; its DELETE
// notification follows.
func (f *listenerFeed) resolve(ctx context.Context, n Notification) (ev source.ChangeEvent, ok bool, err error) {
	if n.Type == source.EventDelete {
		return source.ChangeEvent{Type: n.Type, Old: &model.LockerRow{ID: n.ID, Version: n.Version}}, true, nil
	}
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	rows, err := f.list(ctx, source.Query{Eq: map[string]any{model.ColID: n.ID}})
	if err != nil {
		return source.ChangeEvent{}, false, fmt.Errorf("read locker %d: %w", n.ID, err)
	}
	if len(rows) == 0 {
		return source.ChangeEvent{}, false, nil
	}
	return source.ChangeEvent{Type: n.Type, New: &rows[0]}, true, nil
}

type listenerSubscription struct {
	feed      *listenerFeed
	listener  *pq.Listener
	events    chan source.ChangeEvent
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	log       *zap.Logger
}

func (s *listenerSubscription) Events() <-chan source.ChangeEvent {
	return s.events
}

func (s *listenerSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.listener.Close()
	})
	return err
}

func (s *listenerSubscription) loop() {
	defer close(s.events)
	for {
		select {
		case <-s.ctx.Done():
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			// A nil notification means the connection was re-established and
			// anything sent meanwhile was lost.
			if n == nil {
				s.emit(source.ChangeEvent{Type: source.EventResync})
				continue
			}
			note, err := DecodeNotification(n.Extra)
			if err != nil {
				s.log.Warn("dropping malformed change notification", zap.Error(err))
				continue
			}
			ev, found, err := s.feed.resolve(s.ctx, note)
			switch {
			case err != nil && s.ctx.Err() != nil:
				return
			case err != nil:
				s.log.Warn("change notification lost, resyncing", zap.Error(err))
				s.emit(source.ChangeEvent{Type: source.EventResync})
			case found:
				s.emit(ev)
			}
		}
	}
}

func (s *listenerSubscription) emit(ev source.ChangeEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// Notification is the payload written by the lockers trigger.
type Notification struct {
	Type    source.EventType `json:"eventType"`
	ID      int64            `json:"id"`
	Version int64            `json:"version"`
}

// DecodeNotification parses the JSON payload written by the lockers trigger.
func DecodeNotification(payload string) (Notification, error) {
	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return Notification{}, fmt.Errorf("decode change notification: %w", err)
	}
	switch n.Type {
	case source.EventInsert, source.EventUpdate, source.EventDelete:
	default:
		return Notification{}, fmt.Errorf("unknown change type %q", n.Type)
	}
	if n.ID <= 0 {
		return Notification{}, fmt.Errorf("%s notification without id", n.Type)
	}
	return n, nil
}
