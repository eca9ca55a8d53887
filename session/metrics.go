package session

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters shared by all sessions of a
// process, labelled by server uri.
type Metrics struct {
	polls   *prometheus.CounterVec
	updates *prometheus.CounterVec
	errors  *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg. A nil reg
// leaves them unregistered. Counters already registered by an earlier call
// are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haystack_session_polls_total",
			Help: "Watch polls issued",
		}, []string{"uri"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haystack_session_updates_total",
			Help: "Watch rows dispatched to subscribers",
		}, []string{"uri"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haystack_session_errors_total",
			Help: "Background watch failures, by operation",
		}, []string{"uri", "op"}),
	}
	if reg != nil {
		m.polls = register(reg, m.polls)
		m.updates = register(reg, m.updates)
		m.errors = register(reg, m.errors)
	}
	return m
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) poll(uri string) {
	if m != nil {
		m.polls.WithLabelValues(uri).Inc()
	}
}

func (m *Metrics) update(uri string, rows int) {
	if m != nil {
		m.updates.WithLabelValues(uri).Add(float64(rows))
	}
}

func (m *Metrics) fail(uri, op string) {
	if m != nil {
		m.errors.WithLabelValues(uri, op).Inc()
	}
}
