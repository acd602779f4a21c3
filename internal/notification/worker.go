package notification

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"locker-status-backend/internal/locker"
	"locker-status-backend/internal/metrics"
	"locker-status-backend/internal/mirror"
	"locker-status-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Alert is a locker status change delivered to its subscribers.
type Alert struct {
	LockerID int64
	Code     string
	Status   locker.Status
}

// Message is the notification text.
func (a Alert) Message() string {
	return fmt.Sprintf("Casillero %s ahora %s", a.Code, a.Status)
}

// alertStatuses are the transitions operators subscribe to.
var alertStatuses = map[locker.Status]bool{
	locker.StatusFree:        true,
	locker.StatusMaintenance: true,
	locker.StatusBlocked:     true,
}

// AlertFor returns the alert for a mirror change, if it moved a locker into
// an alerting status.
func AlertFor(c mirror.Change) (Alert, bool) {
	if c.Kind != mirror.ChangeUpdate || c.Old == nil || c.New == nil {
		return Alert{}, false
	}
	to := c.New.StatusKey()
	if !alertStatuses[to] || c.Old.StatusKey() == to {
		return Alert{}, false
	}
	return Alert{LockerID: int64(c.New.ID), Code: c.New.Code, Status: to}, true
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Alert
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	log     *zap.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, log *zap.Logger, met *metrics.Metrics) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Alert, size*16),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log,
		metrics: met,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Run starts the workers and blocks until ctx is done and they have exited.
func (wp *WorkerPool) Run(ctx context.Context) error {
	wp.Start(ctx)
	<-ctx.Done()
	wp.wg.Wait()
	return nil
}

// Watch dispatches an alert for every qualifying change of m.
func (wp *WorkerPool) Watch(m *mirror.Mirror) (unregister func()) {
	return m.OnChange(func(c mirror.Change) {
		if a, ok := AlertFor(c); ok {
			wp.Dispatch(a)
		}
	})
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	wp.log.Debug("notification worker started", zap.Int("worker", id))
	for {
		select {
		case a := <-wp.jobs:
			wp.sendNotificationsForLocker(ctx, a)
		case <-ctx.Done():
			wp.log.Debug("notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch queues an alert. It never blocks; alerts are dropped when the
// queue is full.
func (wp *WorkerPool) Dispatch(a Alert) bool {
	select {
	case wp.jobs <- a:
		wp.metrics.AlertQueued()
		return true
	default:
		wp.log.Warn("alert queue full, dropping alert", zap.String("code", a.Code))
		return false
	}
}

func (wp *WorkerPool) sendNotificationsForLocker(ctx context.Context, a Alert) {
	subscriptions, err := SubscriptionsFor(ctx, wp.db, a.LockerID)
	if err != nil {
		wp.log.Error("failed to fetch subscriptions", zap.Int64("locker_id", a.LockerID), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	wp.log.Info("sending locker alerts",
		zap.String("code", a.Code),
		zap.String("status", string(a.Status)),
		zap.Int("subscriptions", len(subscriptions)),
	)
	payload := []byte(a.Message())
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn("failed to send notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		wp.log.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := DeleteSubscription(ctx, wp.db, sub.Endpoint); err != nil {
			wp.log.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
