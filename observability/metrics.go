// Package observability carries the ambient instrumentation of the canvas
// server: slog construction and Prometheus-format metrics backed by
// VictoriaMetrics/metrics.
//
// A nil *Metrics is valid and records nothing, so library code and tests can
// run uninstrumented.
package observability

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics holds the canvas counters, gauges and summaries in their own set.
type Metrics struct {
	set *metrics.Set

	surfaces atomic.Int64
	viewers  atomic.Int64

	broadcasts   *metrics.Counter
	viewerDrops  *metrics.Counter
	persistTimes *metrics.Summary
}

// NewMetrics registers the canvas metrics in a fresh set.
func NewMetrics() *Metrics {
	m := &Metrics{set: metrics.NewSet()}
	m.broadcasts = m.set.NewCounter("canvas_broadcast_messages_total")
	m.viewerDrops = m.set.NewCounter("canvas_viewer_drops_total")
	m.persistTimes = m.set.NewSummary("canvas_persist_duration_seconds")
	m.set.NewGauge("canvas_surfaces", func() float64 { return float64(m.surfaces.Load()) })
	m.set.NewGauge("canvas_viewers", func() float64 { return float64(m.viewers.Load()) })
	return m
}

// Mutation counts an accepted operation.
func (m *Metrics) Mutation(op string) {
	if m == nil {
		return
	}
	m.set.GetOrCreateCounter(fmt.Sprintf(`canvas_mutations_total{op=%q}`, op)).Inc()
}

// MutationError counts a rejected or failed operation by error code.
func (m *Metrics) MutationError(op, code string) {
	if m == nil {
		return
	}
	m.set.GetOrCreateCounter(fmt.Sprintf(`canvas_mutation_errors_total{op=%q,code=%q}`, op, code)).Inc()
}

// Broadcast counts messages enqueued to viewers.
func (m *Metrics) Broadcast(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.broadcasts.Add(n)
}

// ViewerDropped counts a viewer disconnected for falling behind or failing
// a send.
func (m *Metrics) ViewerDropped() {
	if m == nil {
		return
	}
	m.viewerDrops.Inc()
}

// AddViewers moves the connected viewer gauge by delta.
func (m *Metrics) AddViewers(delta int) {
	if m == nil {
		return
	}
	m.viewers.Add(int64(delta))
}

// SetSurfaces sets the live surface gauge.
func (m *Metrics) SetSurfaces(n int) {
	if m == nil {
		return
	}
	m.surfaces.Store(int64(n))
}

// ObservePersist records the duration of a gateway write started at start.
func (m *Metrics) ObservePersist(start time.Time) {
	if m == nil {
		return
	}
	m.persistTimes.UpdateDuration(start)
}

// WritePrometheus writes every metric in Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	if m == nil {
		return
	}
	m.set.WritePrometheus(w)
}

// Handler serves WritePrometheus over HTTP.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m.WritePrometheus(w)
	})
}
