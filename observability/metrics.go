package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics
)

// ModuleMetrics returns the lazily-initialised metrics registry used to
// record ledger operation activity per module and operation.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditline",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total ledger operations processed per module and operation.",
			}, []string{"module", "op"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditline",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total failed ledger operations per module and operation.",
			}, []string{"module", "op"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "creditline",
				Subsystem: "module",
				Name:      "latency_seconds",
				Help:      "Ledger operation latency per module and operation.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "op"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
		)
	})
	return moduleRegistry
}

// Observe records one completed operation.
func (m *moduleMetrics) Observe(module, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	module = strings.TrimSpace(module)
	op = strings.TrimSpace(op)
	m.requests.WithLabelValues(module, op).Inc()
	if err != nil {
		m.errors.WithLabelValues(module, op).Inc()
	}
	m.latency.WithLabelValues(module, op).Observe(time.Since(start).Seconds())
}
