// Package metrics exports import, job, breaker and shipment metrics in the
// Prometheus text format.
//
// Counters are fed from the domain events the service already publishes, so
// core needs no knowledge of Prometheus. Gauges are read from status
// snapshots at scrape time.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/stockroom/internal/core"
	"github.com/JonMunkholm/stockroom/internal/tracking"
)

const namespace = "stockroom"

// Metrics owns a registry and the event-driven collectors.
type Metrics struct {
	registry *prometheus.Registry

	imports   *prometheus.CounterVec
	records   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	shipments *prometheus.CounterVec
}

// New creates a registry with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Completed imports by entity and run status.",
		}, []string{"entity", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_records_total",
			Help:      "Imported records by entity and outcome.",
		}, []string{"entity", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Wall time of completed imports.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"entity"}),
		shipments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shipment_syncs_total",
			Help:      "Successful shipment tracking syncs by resulting shipment status.",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.imports, m.records, m.duration, m.shipments,
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Publisher counts events on their way to next. Unknown subjects pass
// through untouched.
func (m *Metrics) Publisher(next core.EventPublisher) core.EventPublisher {
	return &countingPublisher{m: m, next: next}
}

type countingPublisher struct {
	m    *Metrics
	next core.EventPublisher
}

func (p *countingPublisher) Publish(ctx context.Context, subject string, payload any) error {
	p.m.observe(subject, payload)
	if p.next == nil {
		return nil
	}
	return p.next.Publish(ctx, subject, payload)
}

func (m *Metrics) observe(subject string, payload any) {
	switch subject {
	case core.SubjectImportCompleted:
		s, ok := payload.(core.ImportSummary)
		if !ok {
			return
		}
		m.imports.WithLabelValues(s.Entity, s.Status).Inc()
		m.records.WithLabelValues(s.Entity, "created").Add(float64(s.Stats.Created))
		m.records.WithLabelValues(s.Entity, "updated").Add(float64(s.Stats.Updated))
		m.records.WithLabelValues(s.Entity, "failed").Add(float64(s.Stats.Failed))
		m.duration.WithLabelValues(s.Entity).Observe(float64(s.Stats.DurationMs) / 1000)

	case tracking.SubjectShipmentSynced:
		if r, ok := payload.(tracking.SyncResult); ok {
			m.shipments.WithLabelValues(r.Status).Inc()
		}
	}
}

// Watch registers gauges read from svc and breakers on every scrape.
// breakers may be nil.
func (m *Metrics) Watch(svc *core.Service, breakers *core.BreakerSet) {
	m.registry.MustRegister(newStatusCollector(svc, breakers))
}
