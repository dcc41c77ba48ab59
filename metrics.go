package muxis

import (
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics is an optional instrumentation sink backed by
// VictoriaMetrics/metrics. It satisfies cluster.MetricsHook, so a
// *Metrics can be handed straight to WithMetrics and threaded through
// to the NodePool and RedirectEngine. A nil *Metrics is safe to use
// anywhere a MetricsHook is expected: every method is a no-op on a nil
// receiver.
type Metrics struct {
	set *metrics.Set

	poolSaturatedTotal *metrics.Counter
	poolWaitSeconds    *metrics.Histogram
	redirectsTotal     *metrics.Counter
	movedTotal         *metrics.Counter
	askTotal           *metrics.Counter
	ioRetriesTotal     *metrics.Counter
	refreshesTotal     *metrics.Counter
}

// NewMetrics returns a Metrics sink with its own isolated metrics.Set,
// so multiple Clients in the same process do not collide on metric
// names.
func NewMetrics() *Metrics {
	set := metrics.NewSet()
	return &Metrics{
		set:                set,
		poolSaturatedTotal: set.NewCounter(`muxis_pool_saturated_total`),
		poolWaitSeconds:    set.NewHistogram(`muxis_pool_wait_seconds`),
		redirectsTotal:     set.NewCounter(`muxis_redirects_total`),
		movedTotal:         set.NewCounter(`muxis_moved_total`),
		askTotal:           set.NewCounter(`muxis_ask_total`),
		ioRetriesTotal:     set.NewCounter(`muxis_io_retries_total`),
		refreshesTotal:     set.NewCounter(`muxis_topology_refreshes_total`),
	}
}

// WritePrometheus writes every registered metric in Prometheus
// exposition format, for mounting behind a /metrics HTTP handler.
func (m *Metrics) WritePrometheus(w io.Writer) {
	if m == nil {
		return
	}
	m.set.WritePrometheus(w)
}

func (m *Metrics) PoolSaturated(address string) {
	if m == nil {
		return
	}
	m.poolSaturatedTotal.Inc()
}

func (m *Metrics) PoolWait(d time.Duration) {
	if m == nil {
		return
	}
	m.poolWaitSeconds.Update(d.Seconds())
}

func (m *Metrics) RedirectAttempted() {
	if m == nil {
		return
	}
	m.redirectsTotal.Inc()
}

func (m *Metrics) MovedObserved() {
	if m == nil {
		return
	}
	m.movedTotal.Inc()
}

func (m *Metrics) AskObserved() {
	if m == nil {
		return
	}
	m.askTotal.Inc()
}

func (m *Metrics) IORetried() {
	if m == nil {
		return
	}
	m.ioRetriesTotal.Inc()
}

func (m *Metrics) TopologyRefreshed() {
	if m == nil {
		return
	}
	m.refreshesTotal.Inc()
}
