// Package bridge mirrors Haystack watch updates into NATS and answers
// one-shot Haystack requests arriving over NATS request/reply.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/haystack/grid"
	"github.com/c360studio/haystack/session"
	"github.com/c360studio/haystack/storage"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "haystack"

// ErrNotFound is returned by Latest when no update was mirrored for an id.
var ErrNotFound = storage.ErrNotFound

// Publisher sends a message on a subject. *natsclient.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Bridge turns watch grids into per-point messages.
type Bridge struct {
	pub     Publisher
	store   *storage.Store
	prefix  string
	include []string
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	seq       atomic.Uint64
	published atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) Option {
	return func(b *Bridge) {
		if prefix != "" {
			b.prefix = strings.TrimSuffix(prefix, ".")
		}
	}
}

// WithInclude limits mirrored points to ids matching one of the glob
// patterns. No patterns means every point.
func WithInclude(patterns ...string) Option {
	return func(b *Bridge) {
		b.include = append([]string(nil), patterns...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records counters in m.
func WithMetrics(m *Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// New creates a Bridge. A nil store skips KV mirroring.
func New(pub Publisher, store *storage.Store, opts ...Option) (*Bridge, error) {
	b := &Bridge{
		pub:    pub,
		store:  store,
		prefix: DefaultPrefix,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, pattern := range b.include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern %q", pattern)
		}
	}
	if b.pub == nil && b.store == nil {
		return nil, fmt.Errorf("bridge needs a publisher or a store")
	}
	return b, nil
}

// Attach makes b the session's update callback.
func (b *Bridge) Attach(s *session.Session) {
	s.SetUpdateFunc(b.Handle)
}

// Subject returns the subject updates for id are published on.
func (b *Bridge) Subject(id string) string {
	return b.prefix + ".watch." + storage.Key(id)
}

// Includes reports whether id passes the include filters.
func (b *Bridge) Includes(id string) bool {
	if len(b.include) == 0 {
		return true
	}
	id = strings.TrimPrefix(id, "@")
	for _, pattern := range b.include {
		if ok, _ := doublestar.Match(pattern, id); ok {
			return true
		}
	}
	return false
}

// Handle mirrors every row of g. It has the session.UpdateFunc signature.
// Failures are counted and logged.
func (b *Bridge) Handle(ctx context.Context, g *grid.Grid) {
	idx := g.Index("id")
	if idx < 0 {
		return
	}
	watchID := metaID(g.Meta("watchId"))

	for row := 0; row < g.Rows(); row++ {
		cell := g.Raw(idx, row)
		if cell.IsAbsent() {
			continue
		}
		p := b.point(g, idx, row, cell, watchID)
		if !b.Includes(p.ID) {
			b.skipped.Add(1)
			continue
		}
		if err := b.Mirror(ctx, p); err != nil {
			b.failed.Add(1)
			b.metrics.fail()
			b.logger.Warn("Failed to mirror point", "id", p.ID, "error", err)
			continue
		}
		b.published.Add(1)
		b.metrics.publish()
	}
}

func (b *Bridge) point(g *grid.Grid, idx, row int, cell grid.Value, watchID string) *storage.Point {
	id, dis := cell.Text(), cell.Dis()
	if cell.Kind() != grid.KindRef {
		id, _, _ = strings.Cut(cell.Display(), " ")
		id = strings.TrimPrefix(id, "@")
	}

	p := &storage.Point{
		ID:        id,
		Dis:       dis,
		Values:    make(map[string]string),
		Kinds:     make(map[string]string),
		WatchID:   watchID,
		Seq:       b.seq.Add(1),
		Timestamp: b.now().UTC(),
		MessageID: uuid.New().String(),
	}
	for x := 0; x < g.Cols(); x++ {
		if x == idx {
			continue
		}
		v := g.Raw(x, row)
		if v.IsAbsent() {
			continue
		}
		name := g.Name(x)
		if name == "dis" && p.Dis == "" {
			p.Dis = v.Text()
		}
		p.Values[name] = v.Display()
		p.Kinds[name] = v.Kind().String()
	}
	return p
}

func metaID(v grid.Value) string {
	switch v.Kind() {
	case grid.KindAbsent:
		return ""
	case grid.KindRef, grid.KindStr, grid.KindURI, grid.KindRaw:
		return v.Text()
	}
	return v.Display()
}

// Mirror publishes p and stores it as the point's latest update.
func (b *Bridge) Mirror(ctx context.Context, p *storage.Point) error {
	if b.pub != nil {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal point: %w", err)
		}
		if err := b.pub.Publish(ctx, b.Subject(p.ID), data); err != nil {
			return fmt.Errorf("publish %s: %w", b.Subject(p.ID), err)
		}
	}
	if b.store != nil {
		if err := b.store.Put(ctx, p); err != nil {
			return err
		}
	}
	b.logger.Debug("Mirrored point", "id", p.ID, "seq", p.Seq, "values", len(p.Values))
	return nil
}

// Latest returns the last mirrored update for id.
func (b *Bridge) Latest(ctx context.Context, id string) (*storage.Point, error) {
	if b.store == nil {
		return nil, ErrNotFound
	}
	return b.store.Get(ctx, id)
}

// Stats is a snapshot of bridge counters.
type Stats struct {
	Published int64
	Skipped   int64
	Failed    int64
}

// Stats returns the current counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Skipped:   b.skipped.Load(),
		Failed:    b.failed.Load(),
	}
}

// Metrics holds the bridge's Prometheus counters.
type Metrics struct {
	published prometheus.Counter
	failed    prometheus.Counter
	requests  *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "haystack_bridge_published_total",
			Help: "Point updates mirrored to NATS",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "haystack_bridge_failures_total",
			Help: "Point updates that could not be mirrored",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haystack_bridge_requests_total",
			Help: "Provider requests answered, by kind and status",
		}, []string{"kind", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.published, m.failed, m.requests)
	}
	return m
}

func (m *Metrics) publish() {
	if m != nil {
		m.published.Inc()
	}
}

func (m *Metrics) fail() {
	if m != nil {
		m.failed.Inc()
	}
}

func (m *Metrics) request(kind, status string) {
	if m != nil {
		m.requests.WithLabelValues(kind, status).Inc()
	}
}
