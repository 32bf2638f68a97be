package echobin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// OptionFunc uses the "functional options" pattern to customize an EchoBin
// instance
type OptionFunc func(*EchoBin)

// WithDefaultParams sets the default params handlers will use
func WithDefaultParams(defaultParams DefaultParams) OptionFunc {
	return func(h *EchoBin) {
		h.DefaultParams = defaultParams
	}
}

// WithMaxBodySize sets the maximum amount of memory
func WithMaxBodySize(m int64) OptionFunc {
	return func(h *EchoBin) {
		h.MaxBodySize = m
	}
}

// WithMaxDuration sets the maximum amount of time the server may take to
// respond
func WithMaxDuration(d time.Duration) OptionFunc {
	return func(h *EchoBin) {
		h.MaxDuration = d
	}
}

// WithHostname sets the hostname to return via the /hostname endpoint.
func WithHostname(s string) OptionFunc {
	return func(h *EchoBin) {
		h.hostname = s
	}
}

// WithEnv sets the key/value pairs reported by the /env endpoint.
func WithEnv(env map[string]string) OptionFunc {
	return func(h *EchoBin) {
		h.env = env
	}
}

// WithObserver sets the request observer callback
func WithObserver(o Observer) OptionFunc {
	return func(h *EchoBin) {
		h.Observer = o
	}
}

// WithAllowedRedirectDomains limits the domains to which the /redirect-to
// endpoint will redirect traffic.
func WithAllowedRedirectDomains(hosts []string) OptionFunc {
	return func(h *EchoBin) {
		hostSet := make(map[string]struct{}, len(hosts))
		for _, host := range hosts {
			hostSet[host] = struct{}{}
		}
		h.AllowedRedirectDomains = hostSet
	}
}

// WithMetrics enables Prometheus instrumentation, registering collectors on
// the given registry and serving it at /metrics. A nil registry gets a fresh
// private one.
func WithMetrics(registry *prometheus.Registry) OptionFunc {
	return func(h *EchoBin) {
		if registry == nil {
			registry = prometheus.NewRegistry()
		}
		h.metrics = newMetrics(registry)
	}
}

// WithRateLimit caps the rate of incoming requests across all endpoints.
// Requests beyond the shared token bucket are rejected with a 429.
func WithRateLimit(rps float64, burst int) OptionFunc {
	return func(h *EchoBin) {
		h.rateLimiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}
