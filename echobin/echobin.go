// Package echobin provides an HTTP request & response inspection service: a
// collection of endpoints that let an HTTP client test its own behavior by
// observing how the server parses its requests and by requesting specific
// response shapes.
package echobin

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxBodySize is the default maximum size of a request or
	// generated response body, in bytes
	DefaultMaxBodySize int64 = 1024 * 1024

	// DefaultMaxDuration is the default maximum amount of time a response
	// may take (/delay, /drip)
	DefaultMaxDuration = 10 * time.Second

	// DefaultHostname is the default hostname reported by /hostname
	DefaultHostname = "echobin"
)

// DefaultParams defines default parameter values for endpoints that accept
// optional parameters.
type DefaultParams struct {
	DripDelay    time.Duration
	DripDuration time.Duration
	DripNumBytes int64
}

// EchoBin contains the business logic for all endpoints.
type EchoBin struct {
	// MaxBodySize is the maximum size of an incoming request or generated
	// response body, in bytes
	MaxBodySize int64

	// MaxDuration is the maximum amount of time a request may take for
	// endpoints that let the caller control timing
	MaxDuration time.Duration

	// Observer is called with the result of each handled request
	Observer Observer

	// DefaultParams defines default values for endpoint parameters
	DefaultParams DefaultParams

	// AllowedRedirectDomains limits the destinations the /redirect-to
	// endpoint will redirect to; empty means any
	AllowedRedirectDomains map[string]struct{}

	hostname    string
	env         map[string]string
	metrics     *metrics
	rateLimiter *rate.Limiter
}

// New creates a new EchoBin instance
func New(opts ...OptionFunc) *EchoBin {
	h := &EchoBin{
		MaxBodySize: DefaultMaxBodySize,
		MaxDuration: DefaultMaxDuration,
		DefaultParams: DefaultParams{
			DripDelay:    0,
			DripDuration: 2 * time.Second,
			DripNumBytes: 10,
		},
		hostname: DefaultHostname,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handler returns an http.Handler that exposes all endpoints.
func (h *EchoBin) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", methods(h.Index, "GET"))
	mux.HandleFunc("/forms/post", methods(h.FormsPost, "GET"))
	mux.HandleFunc("/encoding/utf8", methods(h.UTF8, "GET"))

	mux.HandleFunc("/get", methods(h.Get, "GET"))
	mux.HandleFunc("/post", methods(h.RequestWithBody, "POST"))
	mux.HandleFunc("/put", methods(h.RequestWithBody, "PUT"))
	mux.HandleFunc("/patch", methods(h.RequestWithBody, "PATCH"))
	mux.HandleFunc("/delete", methods(h.RequestWithBody, "DELETE"))
	mux.HandleFunc("/anything", h.Anything)
	mux.HandleFunc("/anything/", h.Anything)

	mux.HandleFunc("/ip", h.IP)
	mux.HandleFunc("/user-agent", h.UserAgent)
	mux.HandleFunc("/headers", h.Headers)
	mux.HandleFunc("/response-headers", h.ResponseHeaders)
	mux.HandleFunc("/hostname", h.Hostname)
	mux.HandleFunc("/env", h.Env)
	mux.HandleFunc("/uuid", h.UUID)

	mux.HandleFunc("/status/", methods(h.Status, "GET", "POST", "PUT", "DELETE", "PATCH", "TRACE"))
	mux.HandleFunc("/unstable", h.Unstable)

	mux.HandleFunc("/redirect/", h.Redirect)
	mux.HandleFunc("/relative-redirect/", h.RelativeRedirect)
	mux.HandleFunc("/absolute-redirect/", h.AbsoluteRedirect)
	mux.HandleFunc("/redirect-to", h.RedirectTo)

	mux.HandleFunc("/cookies", h.Cookies)
	mux.HandleFunc("/cookies/set", h.SetCookies)
	mux.HandleFunc("/cookies/delete", h.DeleteCookies)

	mux.HandleFunc("/basic-auth/", methods(h.BasicAuth, "GET"))
	mux.HandleFunc("/hidden-basic-auth/", methods(h.HiddenBasicAuth, "GET"))
	mux.HandleFunc("/digest-auth/", methods(h.DigestAuth, "GET"))
	mux.HandleFunc("/bearer", methods(h.Bearer, "GET"))

	mux.HandleFunc("/cache", methods(h.Cache, "GET"))
	mux.HandleFunc("/cache/", methods(h.CacheControl, "GET"))
	mux.HandleFunc("/etag/", methods(h.ETag, "GET"))

	mux.HandleFunc("/delay/", h.Delay)
	mux.HandleFunc("/drip", h.Drip)
	mux.HandleFunc("/range/", h.Range)
	mux.HandleFunc("/stream/", h.Stream)
	mux.HandleFunc("/bytes/", h.Bytes)
	mux.HandleFunc("/stream-bytes/", h.StreamBytes)
	mux.HandleFunc("/base64/", h.Base64)

	mux.HandleFunc("/gzip", h.Gzip)
	mux.HandleFunc("/deflate", h.Deflate)

	mux.HandleFunc("/html", h.HTML)
	mux.HandleFunc("/xml", h.XML)
	mux.HandleFunc("/json", h.JSON)
	mux.HandleFunc("/robots.txt", h.Robots)
	mux.HandleFunc("/deny", h.Deny)
	mux.HandleFunc("/image", h.ImageAccept)
	mux.HandleFunc("/image/", h.Image)
	mux.HandleFunc("/links/", h.Links)
	mux.HandleFunc("/dump/request", h.DumpRequest)
	mux.HandleFunc("/websocket/echo", h.WebSocketEcho)

	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.handler())
	}

	// Outer middleware run in reverse registration order: CORS/HEAD handling
	// wraps everything so that even rate-limited responses carry the right
	// headers.
	var handler http.Handler = mux
	handler = limitRequestSize(h.MaxBodySize, handler)
	if h.metrics != nil {
		handler = instrument(h.metrics, handler)
	}
	if h.Observer != nil {
		handler = observe(h.Observer, handler)
	}
	if h.rateLimiter != nil {
		handler = limitRequestRate(h.rateLimiter, handler)
	}
	return metaRequests(handler)
}
