// Package metrics holds the prometheus collectors of the locker service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service collectors.
type Metrics struct {
	mirrorSize   prometheus.Gauge
	feedLive     prometheus.Gauge
	events       *prometheus.CounterVec
	staleEvents  prometheus.Counter
	bulkReads    *prometheus.CounterVec
	mutations    *prometheus.CounterVec
	alertsQueued prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mirrorSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lockers_mirror_records",
			Help: "Locker records currently held in the mirror.",
		}),
		feedLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lockers_change_feed_live",
			Help: "1 while a change feed subscription is active.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockers_change_events_total",
			Help: "Change feed events applied to the mirror, by type.",
		}, []string{"type"}),
		staleEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lockers_stale_events_total",
			Help: "Rows ignored because the mirror already held a newer version.",
		}),
		bulkReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockers_bulk_reads_total",
			Help: "Bulk reads of the locker table, by result.",
		}, []string{"result"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockers_mutations_total",
			Help: "Mutation gateway operations, by operation and result.",
		}, []string{"op", "result"}),
		alertsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lockers_alerts_queued_total",
			Help: "Locker alerts handed to the notification worker pool.",
		}),
	}
	reg.MustRegister(m.mirrorSize, m.feedLive, m.events, m.staleEvents, m.bulkReads, m.mutations, m.alertsQueued)
	return m
}

func (m *Metrics) SetMirrorSize(n int) {
	if m != nil {
		m.mirrorSize.Set(float64(n))
	}
}

func (m *Metrics) SetFeedLive(live bool) {
	if m == nil {
		return
	}
	if live {
		m.feedLive.Set(1)
	} else {
		m.feedLive.Set(0)
	}
}

func (m *Metrics) EventApplied(eventType string) {
	if m != nil {
		m.events.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) StaleEvent() {
	if m != nil {
		m.staleEvents.Inc()
	}
}

func (m *Metrics) BulkRead(err error) {
	if m != nil {
		m.bulkReads.WithLabelValues(result(err)).Inc()
	}
}

func (m *Metrics) Mutation(op string, err error) {
	if m != nil {
		m.mutations.WithLabelValues(op, result(err)).Inc()
	}
}

func (m *Metrics) AlertQueued() {
	if m != nil {
		m.alertsQueued.Inc()
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
