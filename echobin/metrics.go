package echobin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the Prometheus instrumentation for a server instance.
type metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "echobin",
				Name:      "requests_total",
				Help:      "Total number of requests handled",
			},
			[]string{"method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "echobin",
				Name:      "request_duration_seconds",
				Help:      "Duration of handled requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
	registry.MustRegister(m.requestsTotal, m.requestDuration)
	return m
}

func (m *metrics) record(method string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// instrument records request counts and latencies for every handled request.
func instrument(m *metrics, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := &metaResponseWriter{w: w}
		start := time.Now()
		h.ServeHTTP(mw, r)
		m.record(r.Method, mw.Status(), time.Since(start))
	})
}
