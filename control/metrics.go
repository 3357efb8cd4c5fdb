// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus metrics of the buffer pools. Occupancy gauges are read from the
// pools at scrape time; allocator events are counted as they happen.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "bufpool"

// TierSample is one pool tier's occupancy at scrape time.
type TierSample struct {
	Pool  string
	Kind  string
	Used  int64
	Total int64
}

// Metrics holds the allocator event counters.
type Metrics struct {
	growth    *prometheus.CounterVec
	reclaim   *prometheus.CounterVec
	expand    *prometheus.CounterVec
	fallback  *prometheus.CounterVec
	unpooled  prometheus.Gauge
	doubleRel prometheus.Counter
	corrupted prometheus.Counter
	leaks     prometheus.Counter

	ExpandZeroCopy   prometheus.Counter
	ExpandKeepBefore prometheus.Counter
	ExpandCopy       prometheus.Counter

	occupancy *occupancyCollector
}

// NewMetrics builds unregistered collectors under namespace. source feeds
// the occupancy gauges and may be nil.
func NewMetrics(namespace string, source func() []TierSample) *Metrics {
	m := &Metrics{
		growth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "growth_total",
			Help:      "Backing store growth events.",
		}, []string{"pool", "kind"}),
		reclaim: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reclaim_total",
			Help:      "Idle backing stores released.",
		}, []string{"pool", "kind"}),
		expand: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "expand_total",
			Help:      "Buffer expansions by strategy.",
		}, []string{"mode"}),
		fallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fallback_total",
			Help:      "Allocations served outside the caller's pool.",
		}, []string{"tier"}),
		unpooled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "unpooled_bytes",
			Help:      "Bytes currently leased outside any pool.",
		}),
		doubleRel: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "double_release_total",
			Help:      "Rejected second releases of a buffer.",
		}),
		corrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "corrupted_free_total",
			Help:      "Raw frees rejected by the header guard.",
		}),
		leaks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "leak_total",
			Help:      "Sampled buffers collected while still leased.",
		}),
		occupancy: newOccupancyCollector(namespace, source),
	}
	m.ExpandZeroCopy = m.expand.WithLabelValues("zero_copy")
	m.ExpandKeepBefore = m.expand.WithLabelValues("keep_before")
	m.ExpandCopy = m.expand.WithLabelValues("copy")
	return m
}

// Collectors lists every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.growth, m.reclaim, m.expand, m.fallback,
		m.unpooled, m.doubleRel, m.corrupted, m.leaks, m.occupancy,
	}
}

// Register adds all collectors to r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) Growth(pool, kind string)  { m.growth.WithLabelValues(pool, kind).Inc() }
func (m *Metrics) Reclaim(pool, kind string) { m.reclaim.WithLabelValues(pool, kind).Inc() }
func (m *Metrics) Fallback(tier string)      { m.fallback.WithLabelValues(tier).Inc() }
func (m *Metrics) Unpooled(delta int64)      { m.unpooled.Add(float64(delta)) }
func (m *Metrics) DoubleRelease()            { m.doubleRel.Inc() }
func (m *Metrics) Corrupted()                { m.corrupted.Inc() }
func (m *Metrics) Leak()                     { m.leaks.Inc() }

type occupancyCollector struct {
	used   *prometheus.Desc
	total  *prometheus.Desc
	source func() []TierSample
}

func newOccupancyCollector(namespace string, source func() []TierSample) *occupancyCollector {
	labels := []string{"pool", "kind"}
	return &occupancyCollector{
		used: prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, "used_bytes"),
			"Bytes leased from a pool tier.", labels, nil),
		total: prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, "total_bytes"),
			"Capacity of a pool tier's current Page.", labels, nil),
		source: source,
	}
}

func (c *occupancyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.used
	ch <- c.total
}

func (c *occupancyCollector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	for _, s := range c.source() {
		ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, float64(s.Used), s.Pool, s.Kind)
		ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.Total), s.Pool, s.Kind)
	}
}
