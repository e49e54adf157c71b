package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics holds the live Prometheus vectors updated on every tracked
// event.
type promMetrics struct {
	operationsStarted *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	llmTokens         *prometheus.CounterVec
	llmRequests       *prometheus.CounterVec
	llmCost           *prometheus.CounterVec
}

func newPromMetrics(namespace string) *promMetrics {
	return &promMetrics{
		operationsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "operation",
				Name:      "started_total",
				Help:      "Operations started, by operation name.",
			},
			[]string{"operation"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "operation",
				Name:      "duration_seconds",
				Help:      "Duration of finished operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "outcome"},
		),
		llmTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "tokens_total",
				Help:      "Tokens consumed by LLM calls.",
			},
			[]string{"provider", "model"},
		),
		llmRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "requests_total",
				Help:      "LLM calls, by outcome.",
			},
			[]string{"provider", "model", "success"},
		),
		llmCost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "cost_total",
				Help:      "Reported LLM cost.",
			},
			[]string{"provider", "model"},
		),
	}
}

func (m *promMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.operationsStarted,
		m.operationDuration,
		m.llmTokens,
		m.llmRequests,
		m.llmCost,
	}
}

// snapshotCollector exposes the collector's counter, gauge and
// aggregate maps at scrape time.
type snapshotCollector struct {
	c  *Collector
	ns string
}

func (s *snapshotCollector) counterDesc() *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(s.ns, "", "counter"),
		"Named counters recorded through IncrementCounter.", []string{"name"}, nil)
}

func (s *snapshotCollector) gaugeDesc() *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(s.ns, "", "gauge"),
		"Named gauges recorded through SetGauge and TrackSystemMetric.", []string{"name"}, nil)
}

func (s *snapshotCollector) successRateDesc() *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(s.ns, "operation", "success_rate"),
		"Fraction of successful executions per operation.", []string{"operation"}, nil)
}

func (s *snapshotCollector) errorPatternDesc() *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(s.ns, "", "error_patterns_total"),
		"Failures per operation and error type.", []string{"pattern"}, nil)
}

func (s *snapshotCollector) uptimeDesc() *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(s.ns, "", "uptime_seconds"),
		"Seconds since the collector started or was reset.", nil, nil)
}

// Describe implements prometheus.Collector.
func (s *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.counterDesc()
	ch <- s.gaugeDesc()
	ch <- s.successRateDesc()
	ch <- s.errorPatternDesc()
	ch <- s.uptimeDesc()
}

// Collect implements prometheus.Collector.
func (s *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	counter, gauge := s.counterDesc(), s.gaugeDesc()
	for name, v := range s.c.counters {
		ch <- prometheus.MustNewConstMetric(counter, prometheus.CounterValue, v, name)
	}
	for name, v := range s.c.gauges {
		ch <- prometheus.MustNewConstMetric(gauge, prometheus.GaugeValue, v, name)
	}
	rate := s.successRateDesc()
	for name, st := range s.c.operations {
		ch <- prometheus.MustNewConstMetric(rate, prometheus.GaugeValue, st.SuccessRate, name)
	}
	patterns := s.errorPatternDesc()
	for name, n := range s.c.errorPatterns {
		ch <- prometheus.MustNewConstMetric(patterns, prometheus.CounterValue, float64(n), name)
	}
	ch <- prometheus.MustNewConstMetric(s.uptimeDesc(), prometheus.GaugeValue,
		s.c.now().Sub(s.c.startTime).Seconds())
}
