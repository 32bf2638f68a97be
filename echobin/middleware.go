package echobin

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"time"

	"golang.org/x/time/rate"
)

// metaRequests handles CORS preflight requests and HEAD requests for any
// endpoint, so individual handlers only ever see the "real" methods.
func metaRequests(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		respHeader := w.Header()
		respHeader.Set("Access-Control-Allow-Origin", origin)
		respHeader.Set("Access-Control-Allow-Credentials", "true")

		switch r.Method {
		case "OPTIONS":
			respHeader.Set("Access-Control-Allow-Methods", "GET, POST, HEAD, PUT, DELETE, PATCH, OPTIONS")
			respHeader.Set("Access-Control-Max-Age", "3600")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				respHeader.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			w.WriteHeader(http.StatusOK)
		case "HEAD":
			rwRec := httptest.NewRecorder()
			r.Method = "GET"
			h.ServeHTTP(rwRec, r)

			for name, values := range rwRec.Header() {
				for _, value := range values {
					respHeader.Add(name, value)
				}
			}
			w.WriteHeader(rwRec.Code)
		default:
			h.ServeHTTP(w, r)
		}
	})
}

// methods returns an http.HandlerFunc that only responds to the given HTTP
// methods.
func methods(h http.HandlerFunc, methods ...string) http.HandlerFunc {
	methodMap := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		methodMap[m] = struct{}{}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := methodMap[r.Method]; !ok {
			http.Error(w, fmt.Sprintf("method %s not allowed", r.Method), http.StatusMethodNotAllowed)
			return
		}
		h.ServeHTTP(w, r)
	}
}

// limitRequestSize caps the size of incoming request bodies.
func limitRequestSize(maxSize int64, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
		}
		h.ServeHTTP(w, r)
	})
}

// limitRequestRate sheds load once the shared token bucket runs dry.
func limitRequestRate(limiter *rate.Limiter, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// metaResponseWriter implements http.ResponseWriter and http.Flusher in
// order to record a response's status code and body size for observability
// purposes.
type metaResponseWriter struct {
	w      http.ResponseWriter
	status int
	size   int
}

func (mw *metaResponseWriter) Write(b []byte) (int, error) {
	size, err := mw.w.Write(b)
	mw.size += size
	return size, err
}

func (mw *metaResponseWriter) WriteHeader(s int) {
	mw.w.WriteHeader(s)
	mw.status = s
}

func (mw *metaResponseWriter) Flush() {
	f := mw.w.(http.Flusher)
	f.Flush()
}

func (mw *metaResponseWriter) Header() http.Header {
	return mw.w.Header()
}

// Hijack lets connection upgrades (websockets) pass through the wrapper.
func (mw *metaResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := mw.w.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

func (mw *metaResponseWriter) Status() int {
	if mw.status == 0 {
		return http.StatusOK
	}
	return mw.status
}

func (mw *metaResponseWriter) Size() int {
	return mw.size
}

// Result records the result of a handled request.
type Result struct {
	Status   int
	Method   string
	URI      string
	Size     int
	Duration time.Duration
}

// Observer is a hook into the request/response lifecycle, called once per
// handled request.
type Observer func(result Result)

// StdLogObserver creates an Observer that writes one structured line per
// request to the given logger.
func StdLogObserver(l *log.Logger) Observer {
	const dateFormat = "2006-01-02T15:04:05.9999"
	return func(result Result) {
		// non-obvious conversion from time.Duration to float64 milliseconds
		// https://github.com/golang/go/issues/5491#issuecomment-66079585
		l.Printf("time=%q status=%d method=%q uri=%q size_bytes=%d duration_ms=%0.02f",
			time.Now().Format(dateFormat),
			result.Status,
			result.Method,
			result.URI,
			result.Size,
			result.Duration.Seconds()*1e3,
		)
	}
}

// observe wraps a handler to report the result of every request to the
// given Observer.
func observe(o Observer, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := &metaResponseWriter{w: w}
		t := time.Now()
		h.ServeHTTP(mw, r)
		o(Result{
			Status:   mw.Status(),
			Method:   r.Method,
			URI:      r.URL.RequestURI(),
			Size:     mw.Size(),
			Duration: time.Since(t),
		})
	})
}
