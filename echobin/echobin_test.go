package echobin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/echobin/echobin/internal/testing/assert"
	"github.com/echobin/echobin/internal/testing/must"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()
	h := New()
	if h.MaxBodySize != DefaultMaxBodySize {
		t.Fatalf("expected default max body size, got %d", h.MaxBodySize)
	}
	if h.MaxDuration != DefaultMaxDuration {
		t.Fatalf("expected default max duration, got %s", h.MaxDuration)
	}
	if h.hostname != DefaultHostname {
		t.Fatalf("expected default hostname, got %q", h.hostname)
	}
}

func TestNewOptions(t *testing.T) {
	t.Parallel()
	h := New(
		WithMaxBodySize(2048),
		WithMaxDuration(2*time.Second),
		WithHostname("custom"),
		WithAllowedRedirectDomains([]string{"example.com"}),
	)
	if h.MaxBodySize != 2048 || h.MaxDuration != 2*time.Second || h.hostname != "custom" {
		t.Fatalf("options not applied: %#v", h)
	}
	if _, ok := h.AllowedRedirectDomains["example.com"]; !ok {
		t.Fatalf("expected allowed redirect domain, got %#v", h.AllowedRedirectDomains)
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	h := New(WithMetrics(registry)).Handler()

	r := httptest.NewRequest("GET", "/get", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assertStatusCode(t, w, http.StatusOK)

	r = httptest.NewRequest("GET", "/metrics", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assertStatusCode(t, w, http.StatusOK)
	assertBodyContains(t, w, "echobin_requests_total")
	assertBodyContains(t, w, `method="GET"`)
	assertBodyContains(t, w, "echobin_request_duration_seconds")
}

func TestMetricsDisabledByDefault(t *testing.T) {
	t.Parallel()
	w := doRequest("GET", "/metrics", nil)
	assertStatusCode(t, w, http.StatusNotFound)
}

// TestLiveServer exercises the full middleware stack over a real listener
// rather than a ResponseRecorder.
func TestLiveServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := srv.Client()

	t.Run("get", func(t *testing.T) {
		t.Parallel()
		req, _ := http.NewRequest("GET", srv.URL+"/get?foo=bar", nil)
		resp := must.DoReq(t, client, req)
		assert.StatusCode(t, resp, http.StatusOK)
		assert.ContentType(t, resp, jsonContentType)
		result := must.Unmarshal[noBodyResponse](t, resp.Body)
		assert.Equal(t, result.Args["foo"].(string), "bar", "incorrect args")
		assert.Equal(t, result.Method, "GET", "incorrect method")
	})

	t.Run("error responses are plain text", func(t *testing.T) {
		t.Parallel()
		req, _ := http.NewRequest("GET", srv.URL+"/redirect/0", nil)
		resp := must.DoReq(t, client, req)
		assert.StatusCode(t, resp, http.StatusBadRequest)
		assert.BodyContains(t, resp, "Invalid redirect")
	})

	t.Run("redirect chain terminates at /get", func(t *testing.T) {
		t.Parallel()
		req, _ := http.NewRequest("GET", srv.URL+"/redirect/3", nil)
		resp := must.DoReq(t, client, req)
		assert.StatusCode(t, resp, http.StatusOK)
		result := must.Unmarshal[noBodyResponse](t, resp.Body)
		assert.Contains(t, result.URL, "/get", "final url")
	})
}
