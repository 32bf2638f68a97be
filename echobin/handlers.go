package echobin

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/echobin/echobin/echobin/digest"
)

// Index renders an HTML index page
func (h *EchoBin) Index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		msg := fmt.Sprintf("Not Found (echobin does not handle the path %s)", r.URL.Path)
		http.Error(w, msg, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
	writeHTML(w, mustStaticAsset("index.html"), http.StatusOK)
}

// FormsPost renders an HTML form that submits a request to the /post endpoint
func (h *EchoBin) FormsPost(w http.ResponseWriter, r *http.Request) {
	writeHTML(w, mustStaticAsset("forms-post.html"), http.StatusOK)
}

// UTF8 renders an HTML encoding stress test
func (h *EchoBin) UTF8(w http.ResponseWriter, r *http.Request) {
	writeHTML(w, mustStaticAsset("utf8.html"), http.StatusOK)
}

// Get handles HTTP GET requests
func (h *EchoBin) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(http.StatusOK, w, &noBodyResponse{
		Args:    flattenValues(r.URL.Query()),
		Headers: getRequestHeaders(r),
		Method:  r.Method,
		Origin:  getClientIP(r),
		URL:     getURL(r).String(),
	})
}

// Anything returns anything that is passed to request.
func (h *EchoBin) Anything(w http.ResponseWriter, r *http.Request) {
	// Short-circuit for HEAD requests, which should be handled like regular
	// GET requests (where the autohead middleware will take care of
	// discarding the body)
	if r.Method == http.MethodHead {
		h.Get(w, r)
		return
	}
	// All other requests are handled the same. For compatibility with the
	// reference service, /anything even allows GET requests to have bodies.
	h.RequestWithBody(w, r)
}

// RequestWithBody handles POST, PUT, and PATCH requests by normalizing the
// request body into the canonical echo response. Body parsing never fails;
// unparseable input degrades to null/empty fields.
func (h *EchoBin) RequestWithBody(w http.ResponseWriter, r *http.Request) {
	resp := &bodyResponse{
		Args:    flattenValues(r.URL.Query()),
		Headers: getRequestHeaders(r),
		Method:  r.Method,
		Origin:  getClientIP(r),
		URL:     getURL(r).String(),
	}
	parseBody(r, resp)
	writeJSON(http.StatusOK, w, resp)
}

// Gzip returns a gzipped response
func (h *EchoBin) Gzip(w http.ResponseWriter, r *http.Request) {
	var (
		buf bytes.Buffer
		gzw = gzip.NewWriter(&buf)
	)
	mustMarshalJSON(gzw, &noBodyResponse{
		Args:    flattenValues(r.URL.Query()),
		Headers: getRequestHeaders(r),
		Method:  r.Method,
		Origin:  getClientIP(r),
		Gzipped: true,
	})
	gzw.Close()

	body := buf.Bytes()
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Type", jsonContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// Deflate returns a zlib-compressed response
func (h *EchoBin) Deflate(w http.ResponseWriter, r *http.Request) {
	var (
		buf bytes.Buffer
		zw  = zlib.NewWriter(&buf)
	)
	mustMarshalJSON(zw, &noBodyResponse{
		Args:     flattenValues(r.URL.Query()),
		Headers:  getRequestHeaders(r),
		Method:   r.Method,
		Origin:   getClientIP(r),
		Deflated: true,
	})
	zw.Close()

	body := buf.Bytes()
	w.Header().Set("Content-Encoding", "deflate")
	w.Header().Set("Content-Type", jsonContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// IP echoes the IP address of the incoming request
func (h *EchoBin) IP(w http.ResponseWriter, r *http.Request) {
	writeJSON(http.StatusOK, w, &ipResponse{
		Origin: getClientIP(r),
	})
}

// UserAgent echoes the incoming User-Agent header
func (h *EchoBin) UserAgent(w http.ResponseWriter, r *http.Request) {
	writeJSON(http.StatusOK, w, &userAgentResponse{
		UserAgent: r.Header.Get("User-Agent"),
	})
}

// Headers echoes the incoming request headers
func (h *EchoBin) Headers(w http.ResponseWriter, r *http.Request) {
	writeJSON(http.StatusOK, w, &headersResponse{
		Headers: getRequestHeaders(r),
	})
}

type statusCase struct {
	headers map[string]string
	body    []byte
}

var (
	statusRedirectHeaders = &statusCase{
		headers: map[string]string{
			"Location": "/redirect/1",
		},
	}
	statusNotAcceptableBody = []byte(`{
  "message": "Client did not request a supported media type",
  "accept": [
    "image/webp",
    "image/svg+xml",
    "image/jpeg",
    "image/png",
    "image/"
  ]
}
`)

	statusSpecialCases = map[int]*statusCase{
		301: statusRedirectHeaders,
		302: statusRedirectHeaders,
		303: statusRedirectHeaders,
		305: statusRedirectHeaders,
		307: statusRedirectHeaders,
		401: {
			headers: map[string]string{
				"WWW-Authenticate": `Basic realm="Fake Realm"`,
			},
		},
		402: {
			body: []byte("Fuck you, pay me!"),
			headers: map[string]string{
				"X-More-Info": "http://vimeo.com/22053820",
			},
		},
		406: {
			body: statusNotAcceptableBody,
			headers: map[string]string{
				"Content-Type": jsonContentType,
			},
		},
		407: {
			headers: map[string]string{
				"Proxy-Authenticate": `Basic realm="Fake Realm"`,
			},
		},
		418: {
			body: []byte("\n    -=[ teapot ]=-\n\n       _...._\n     .'  _ _ `.\n    | .\"` ^ `\". _,\n    \\_;`\"---\"`|//\n      |       ;/\n      \\_     _/\n        `\"\"\"`\n"),
			headers: map[string]string{
				"X-More-Info": "http://tools.ietf.org/html/rfc2324",
			},
		},
	}
)

// Status responds with a status code resolved from the given spec, which is
// either a single code or a comma-separated weighted list like
// "200:0.7,429:0.3". Well-known codes carry extra headers and bodies.
func (h *EchoBin) Status(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) != 3 {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	choices, err := parseStatusSpec(parts[2])
	if err != nil {
		http.Error(w, "Invalid status code", http.StatusBadRequest)
		return
	}
	code := chooseStatus(choices)

	if specialCase, ok := statusSpecialCases[code]; ok {
		for key, val := range specialCase.headers {
			w.Header().Set(key, val)
		}
		w.WriteHeader(code)
		if specialCase.body != nil {
			w.Write(specialCase.body)
		}
		return
	}

	w.WriteHeader(code)
}

// Unstable returns 500, sometimes
func (h *EchoBin) Unstable(w http.ResponseWriter, r *http.Request) {
	rng, err := parseSeed(r.URL.Query().Get("seed"))
	if err != nil {
		http.Error(w, "invalid seed", http.StatusBadRequest)
		return
	}

	failureRate := 0.5
	if rawFailureRate := r.URL.Query().Get("failure_rate"); rawFailureRate != "" {
		failureRate, err = strconv.ParseFloat(rawFailureRate, 64)
		if err != nil || failureRate < 0 || failureRate > 1 {
			http.Error(w, "invalid failure_rate", http.StatusBadRequest)
			return
		}
	}

	if rng.Float64() < failureRate {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ResponseHeaders reflects the query parameters back as response headers and
// as a JSON body. A single pass is enough for the serialized shape to be
// stable.
func (h *EchoBin) ResponseHeaders(w http.ResponseWriter, r *http.Request) {
	args := r.URL.Query()
	for name, values := range args {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", jsonContentType)
	}
	mustMarshalJSON(w, flattenValues(args))
}

func redirectLocation(r *http.Request, relative bool, n int) string {
	var path string
	if n < 1 {
		path = "/get"
	} else if relative {
		path = fmt.Sprintf("/relative-redirect/%d", n)
	} else {
		path = fmt.Sprintf("/absolute-redirect/%d", n)
	}

	if relative {
		return path
	}

	u := getURL(r)
	u.Path = path
	u.RawQuery = ""
	return u.String()
}

func doRedirect(w http.ResponseWriter, r *http.Request, relative bool) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) != 3 {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil || n < 1 {
		http.Error(w, "Invalid redirect", http.StatusBadRequest)
		return
	}

	w.Header().Set("Location", redirectLocation(r, relative, n-1))
	w.WriteHeader(http.StatusFound)
}

// Redirect responds with a 302 redirect a given number of times. Defaults to
// a relative redirect, but an ?absolute=true query param will trigger an
// absolute redirect.
func (h *EchoBin) Redirect(w http.ResponseWriter, r *http.Request) {
	relative := strings.ToLower(r.URL.Query().Get("absolute")) != "true"
	doRedirect(w, r, relative)
}

// RelativeRedirect responds with an HTTP 302 redirect a given number of times
func (h *EchoBin) RelativeRedirect(w http.ResponseWriter, r *http.Request) {
	doRedirect(w, r, true)
}

// AbsoluteRedirect responds with an HTTP 302 redirect a given number of times
func (h *EchoBin) AbsoluteRedirect(w http.ResponseWriter, r *http.Request) {
	doRedirect(w, r, false)
}

// redirectToParams merges query parameters and, for form-encoded or
// multipart bodies, form fields into a single case-insensitive set. Form
// fields win collisions.
func redirectToParams(r *http.Request) map[string]string {
	params := make(map[string]string)
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			params[strings.ToLower(name)] = values[0]
		}
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return params
		}
		for name, values := range r.PostForm {
			if len(values) > 0 {
				params[strings.ToLower(name)] = values[0]
			}
		}
	}
	return params
}

// RedirectTo responds with a redirect to an arbitrary URL with an optional
// status code, which defaults to 302. The Location value is passed through
// untouched: serving intentionally broken redirects is part of this
// endpoint's job.
func (h *EchoBin) RedirectTo(w http.ResponseWriter, r *http.Request) {
	params := redirectToParams(r)

	inputURL := params["url"]
	if inputURL == "" {
		http.Error(w, "Missing URL", http.StatusBadRequest)
		return
	}

	if len(h.AllowedRedirectDomains) > 0 {
		if u, err := url.Parse(inputURL); err == nil && u.IsAbs() {
			if _, ok := h.AllowedRedirectDomains[u.Hostname()]; !ok {
				domainListItems := make([]string, 0, len(h.AllowedRedirectDomains))
				for domain := range h.AllowedRedirectDomains {
					domainListItems = append(domainListItems, fmt.Sprintf("- %s", domain))
				}
				sort.Strings(domainListItems)
				msg := fmt.Sprintf("Forbidden redirect URL. Please be careful with this link.\n\nAllowed redirect destinations:\n%s", strings.Join(domainListItems, "\n"))
				http.Error(w, msg, http.StatusForbidden)
				return
			}
		}
	}

	statusCode := http.StatusFound
	if rawStatusCode := params["status_code"]; rawStatusCode != "" {
		// out-of-range or malformed codes fall back to 302 rather than
		// erroring
		if code, err := strconv.Atoi(rawStatusCode); err == nil && code >= 300 && code < 400 {
			statusCode = code
		}
	}

	w.Header().Set("Location", inputURL)
	w.WriteHeader(statusCode)
}

// Cookies responds with the cookies in the incoming request
func (h *EchoBin) Cookies(w http.ResponseWriter, r *http.Request) {
	showEnv := r.URL.Query().Has("show_env")
	resp := cookiesResponse{}
	for _, c := range r.Cookies() {
		if _, hidden := envCookieNames[c.Name]; hidden && !showEnv {
			continue
		}
		resp[c.Name] = c.Value
	}
	writeJSON(http.StatusOK, w, resp)
}

// SetCookies sets cookies as specified in query params and redirects to the
// Cookies endpoint. The Secure attribute follows the scheme the client
// declared on the way in.
func (h *EchoBin) SetCookies(w http.ResponseWriter, r *http.Request) {
	secure := getRequestScheme(r) == "https"
	params := r.URL.Query()
	for name := range params {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    params.Get(name),
			Path:     "/",
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.Header().Set("Location", "/cookies")
	w.WriteHeader(http.StatusFound)
}

// DeleteCookies deletes cookies specified in query params and redirects to
// the Cookies endpoint
func (h *EchoBin) DeleteCookies(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	for name := range params {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    params.Get(name),
			Path:     "/",
			HttpOnly: true,
			MaxAge:   -1,
			Expires:  time.Now().Add(-1 * 24 * 365 * time.Hour),
		})
	}
	w.Header().Set("Location", "/cookies")
	w.WriteHeader(http.StatusFound)
}

// BasicAuth requires HTTP Basic authentication against the credentials given
// in the path.
func (h *EchoBin) BasicAuth(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) != 4 {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	expectedUser := parts[2]
	expectedPass := parts[3]

	givenUser, givenPass, ok := r.BasicAuth()

	status := http.StatusOK
	authenticated := ok && givenUser == expectedUser && givenPass == expectedPass
	if !authenticated {
		status = http.StatusUnauthorized
		w.Header().Set("WWW-Authenticate", `Basic realm="Fake Realm"`)
	}

	writeJSON(status, w, authResponse{
		Authenticated: authenticated,
		User:          givenUser,
	})
}

// HiddenBasicAuth requires HTTP Basic authentication but returns a status of
// 404 if the request is unauthorized
func (h *EchoBin) HiddenBasicAuth(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) != 4 {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	expectedUser := parts[2]
	expectedPass := parts[3]

	givenUser, givenPass, ok := r.BasicAuth()

	if !ok || givenUser != expectedUser || givenPass != expectedPass {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	writeJSON(http.StatusOK, w, authResponse{
		Authenticated: true,
		User:          givenUser,
	})
}

// DigestAuth is a simple implementation of HTTP Digest Authentication,
// supporting the "auth" QOP and the MD5 and SHA-256 crypto algorithms.
//
// /digest-auth/<qop>/<user>/<passwd>
// /digest-auth/<qop>/<user>/<passwd>/<algorithm>
func (h *EchoBin) DigestAuth(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	count := len(parts)

	if count != 5 && count != 6 {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	qop := strings.ToLower(parts[2])
	user := parts[3]
	password := parts[4]

	algoName := "MD5"
	if count == 6 {
		algoName = strings.ToUpper(parts[5])
	}

	if qop != "auth" {
		http.Error(w, "Invalid QOP directive", http.StatusBadRequest)
		return
	}
	if algoName != "MD5" && algoName != "SHA-256" {
		http.Error(w, "Invalid algorithm", http.StatusBadRequest)
		return
	}

	algorithm := digest.MD5
	if algoName == "SHA-256" {
		algorithm = digest.SHA256
	}

	if !digest.Check(r, user, password) {
		w.Header().Set("WWW-Authenticate", digest.Challenge("echobin", algorithm))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	writeJSON(http.StatusOK, w, authResponse{
		Authenticated: true,
		User:          user,
	})
}

// Bearer requires bearer authentication with any non-empty token.
func (h *EchoBin) Bearer(w http.ResponseWriter, r *http.Request) {
	reqToken := r.Header.Get("Authorization")
	tokenFields := strings.Fields(reqToken)
	if len(tokenFields) != 2 || tokenFields[0] != "Bearer" {
		w.Header().Set("WWW-Authenticate", "Bearer")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(http.StatusOK, w, bearerResponse{
		Authenticated: true,
		Token:         tokenFields[1],
	})
}

// Stream responds with min(n, 100) lines of JSON-encoded request data.
func (h *EchoBin) Stream(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) != 3 {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil {
		http.Error(w, "Invalid integer", http.StatusBadRequest)
		return
	}

	if n > 100 {
		n = 100
	} else if n < 1 {
		n = 1
	}

	resp := &streamResponse{
		Args:    flattenValues(r.URL.Query()),
		Headers: getRequestHeaders(r),
		Origin:  getClientIP(r),
		URL:     getURL(r).String(),
	}

	f := w.(http.Flusher)
	for i := 0; i < n; i++ {
		resp.ID = i
		// Call json.Marshal directly to avoid pretty printing
		line, _ := json.Marshal(resp)
		w.Write(append(line, '\n'))
		f.Flush()
	}
}

// Delay waits for a given amount of time before responding, where the time
// may be specified as a golang-style duration or seconds in floating point.
// Delays beyond the configured ceiling are clamped, not rejected, so that
// clients probing timeout behavior still get a response.
func (h *EchoBin) Delay(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) != 3 {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	delay, err := parseBoundedDuration(parts[2], 0, h.MaxDuration)
	if err != nil {
		http.Error(w, "Invalid duration", http.StatusBadRequest)
		return
	}

	select {
	case <-r.Context().Done():
		w.WriteHeader(499) // "Client Closed Request" https://httpstatuses.com/499
		return
	case <-time.After(delay):
	}
	h.RequestWithBody(w, r)
}

// Drip returns data over a duration after an optional initial delay, then
// (optionally) returns with the given status code.
func (h *EchoBin) Drip(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		duration = h.DefaultParams.DripDuration
		delay    = h.DefaultParams.DripDelay
		numBytes = h.DefaultParams.DripNumBytes
		code     = http.StatusOK

		err error
	)

	if userDuration := q.Get("duration"); userDuration != "" {
		duration, err = parseBoundedDuration(userDuration, 0, h.MaxDuration)
		if err != nil {
			http.Error(w, "Invalid duration", http.StatusBadRequest)
			return
		}
	}

	if userDelay := q.Get("delay"); userDelay != "" {
		delay, err = parseBoundedDuration(userDelay, 0, h.MaxDuration)
		if err != nil {
			http.Error(w, "Invalid delay", http.StatusBadRequest)
			return
		}
	}

	if userNumBytes := q.Get("numbytes"); userNumBytes != "" {
		numBytes, err = strconv.ParseInt(userNumBytes, 10, 64)
		if err != nil || numBytes <= 0 || numBytes > h.MaxBodySize {
			http.Error(w, "Invalid numbytes", http.StatusBadRequest)
			return
		}
	}

	if userCode := q.Get("code"); userCode != "" {
		code, err = strconv.Atoi(userCode)
		if err != nil || code < 100 || code >= 600 {
			http.Error(w, "Invalid code", http.StatusBadRequest)
			return
		}
	}

	if duration+delay > h.MaxDuration {
		http.Error(w, "Too much time", http.StatusBadRequest)
		return
	}

	pause := duration / time.Duration(numBytes)
	flusher := w.(http.Flusher)

	w.Header().Set("Content-Type", binaryContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(numBytes, 10))
	w.WriteHeader(code)
	flusher.Flush()

	select {
	case <-r.Context().Done():
		return
	case <-time.After(delay):
	}

	b := []byte{'*'}
	for i := int64(0); i < numBytes; i++ {
		w.Write(b)
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-time.After(pause):
		}
	}
}

// Range returns up to N bytes, with support for HTTP Range requests.
func (h *EchoBin) Range(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) != 3 {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	numBytes, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Add("ETag", fmt.Sprintf("range%d", numBytes))
	w.Header().Add("Accept-Ranges", "bytes")

	if numBytes <= 0 || numBytes > h.MaxBodySize {
		http.Error(w, "Invalid number of bytes", http.StatusBadRequest)
		return
	}

	content := newSyntheticByteStream(numBytes, func(offset int64) byte {
		return byte(97 + (offset % 26))
	})
	var modtime time.Time
	http.ServeContent(w, r, "", modtime, content)
}

// HTML renders a basic HTML page
func (h *EchoBin) HTML(w http.ResponseWriter, r *http.Request) {
	writeHTML(w, mustStaticAsset("sample.html"), http.StatusOK)
}

// Robots renders a basic robots.txt file
func (h *EchoBin) Robots(w http.ResponseWriter, r *http.Request) {
	robotsTxt := []byte(`User-agent: *
Disallow: /deny
`)
	writeResponse(w, http.StatusOK, "text/plain", robotsTxt)
}

// Deny renders a basic page that robots should never access
func (h *EchoBin) Deny(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, http.StatusOK, "text/plain", []byte(`YOU SHOULDN'T BE HERE`))
}

// Cache returns a 304 if an If-Modified-Since or an If-None-Match header is
// present, regardless of its value: the server holds no state to compare
// against. Otherwise it returns the same response as Get, plus fresh
// Last-Modified and ETag headers.
func (h *EchoBin) Cache(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("If-Modified-Since") != "" || r.Header.Get("If-None-Match") != "" {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.Header().Set("ETag", newETag())
	h.Get(w, r)
}

// CacheControl sets a Cache-Control header for /cache/N requests. The path
// value is echoed literally, without numeric validation.
func (h *EchoBin) CacheControl(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) != 3 {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%s", parts[2]))
	h.Get(w, r)
}

// ETag assumes the resource has the given etag and responds to If-None-Match
// and If-Match headers appropriately. If-None-Match takes priority when both
// headers are present; only one branch is evaluated.
func (h *EchoBin) ETag(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) != 3 {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	etag := parts[2]

	if noneMatch := parseETags(r.Header.Get("If-None-Match")); len(noneMatch) > 0 {
		if etagListContains(noneMatch, etag) {
			w.Header().Set("ETag", strconv.Quote(etag))
			w.WriteHeader(http.StatusNotModified)
			return
		}
	} else if ifMatch := parseETags(r.Header.Get("If-Match")); len(ifMatch) > 0 {
		if !etagListContains(ifMatch, etag) {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
	}

	w.Header().Set("ETag", strconv.Quote(etag))
	writeJSON(http.StatusOK, w, &noBodyResponse{
		Args:    flattenValues(r.URL.Query()),
		Headers: getRequestHeaders(r),
		Method:  r.Method,
		Origin:  getClientIP(r),
		URL:     getURL(r).String(),
	})
}

// Bytes returns N random bytes generated with an optional seed
func (h *EchoBin) Bytes(w http.ResponseWriter, r *http.Request) {
	handleBytes(w, r, false)
}

// StreamBytes streams N random bytes generated with an optional seed in
// chunks of a given size.
func (h *EchoBin) StreamBytes(w http.ResponseWriter, r *http.Request) {
	handleBytes(w, r, true)
}

// handleBytes consolidates the logic for validating input params of the
// Bytes and StreamBytes endpoints and knows how to write the response in
// chunks if streaming is true.
func handleBytes(w http.ResponseWriter, r *http.Request, streaming bool) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) != 3 {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	numBytes, err := strconv.Atoi(parts[2])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if numBytes < 1 {
		numBytes = 1
	} else if numBytes > 100*1024 {
		numBytes = 100 * 1024
	}

	var chunkSize int
	var write func([]byte)

	if streaming {
		if r.URL.Query().Get("chunk_size") != "" {
			chunkSize, err = strconv.Atoi(r.URL.Query().Get("chunk_size"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		} else {
			chunkSize = 10 * 1024
		}

		write = func() func(chunk []byte) {
			f := w.(http.Flusher)
			return func(chunk []byte) {
				w.Write(chunk)
				f.Flush()
			}
		}()
	} else {
		chunkSize = numBytes
		write = func(chunk []byte) {
			w.Header().Set("Content-Length", strconv.Itoa(len(chunk)))
			w.Write(chunk)
		}
	}

	rng, err := parseSeed(r.URL.Query().Get("seed"))
	if err != nil {
		http.Error(w, "invalid seed", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", binaryContentType)
	w.WriteHeader(http.StatusOK)

	var chunk []byte
	for i := 0; i < numBytes; i++ {
		chunk = append(chunk, byte(rng.Intn(256)))
		if len(chunk) == chunkSize {
			write(chunk)
			chunk = nil
		}
	}
	if len(chunk) > 0 {
		write(chunk)
	}
}

// Links redirects to the first page in a series of N links
func (h *EchoBin) Links(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) != 3 && len(parts) != 4 {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	n, err := strconv.Atoi(parts[2])
	if err != nil || n < 0 || n > 256 {
		http.Error(w, "Invalid link count", http.StatusBadRequest)
		return
	}

	// Are we handling /links/<n>/<offset>? If so, render an HTML page
	if len(parts) == 4 {
		offset, err := strconv.Atoi(parts[3])
		if err != nil {
			http.Error(w, "Invalid offset", http.StatusBadRequest)
			return
		}
		doLinksPage(w, n, offset)
		return
	}

	// Otherwise, redirect from /links/<n> to /links/<n>/0
	r.URL.Path = r.URL.Path + "/0"
	w.Header().Set("Location", r.URL.String())
	w.WriteHeader(http.StatusFound)
}

// doLinksPage renders a page with a series of N links
func doLinksPage(w http.ResponseWriter, n int, offset int) {
	w.Header().Add("Content-Type", htmlContentType)
	w.WriteHeader(http.StatusOK)

	w.Write([]byte("<html><head><title>Links</title></head><body>"))
	for i := 0; i < n; i++ {
		if i == offset {
			fmt.Fprintf(w, "%d ", i)
		} else {
			fmt.Fprintf(w, `<a href="/links/%d/%d">%d</a> `, n, i, i)
		}
	}
	w.Write([]byte("</body></html>"))
}

// ImageAccept responds with an appropriate image based on the Accept header
func (h *EchoBin) ImageAccept(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	switch {
	case accept == "" || strings.Contains(accept, "image/png") || strings.Contains(accept, "image/*"):
		doImage(w, "png")
	case strings.Contains(accept, "image/webp"):
		doImage(w, "webp")
	case strings.Contains(accept, "image/svg+xml"):
		doImage(w, "svg")
	case strings.Contains(accept, "image/jpeg"):
		doImage(w, "jpeg")
	default:
		http.Error(w, "Unsupported media type", http.StatusUnsupportedMediaType)
	}
}

// Image responds with an image of a specific kind, from /image/<kind>
func (h *EchoBin) Image(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) != 3 {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	doImage(w, parts[2])
}

// doImage responds with a specific kind of image, if there is an image asset
// of the given kind.
func doImage(w http.ResponseWriter, kind string) {
	img, err := staticAsset("image." + kind)
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	contentType := "image/" + kind
	if kind == "svg" {
		contentType = "image/svg+xml"
	}
	writeResponse(w, http.StatusOK, contentType, img)
}

// XML responds with an XML document
func (h *EchoBin) XML(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, http.StatusOK, "application/xml", mustStaticAsset("sample.xml"))
}

// JSON returns a sample JSON document
func (h *EchoBin) JSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(mustStaticAsset("sample.json"))
}

// UUID responds with a generated UUID
func (h *EchoBin) UUID(w http.ResponseWriter, r *http.Request) {
	writeJSON(http.StatusOK, w, uuidResponse{
		UUID: uuid.NewString(),
	})
}

// Base64 encodes or decodes input data given in the path
func (h *EchoBin) Base64(w http.ResponseWriter, r *http.Request) {
	b, err := newBase64Helper(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var result []byte
	if b.operation == "decode" {
		result, err = b.Decode()
	} else {
		result, err = b.Encode()
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("%s failed: %s", b.operation, err), http.StatusBadRequest)
		return
	}
	writeResponse(w, http.StatusOK, "text/plain", result)
}

// DumpRequest returns the given request in its HTTP/1.x wire representation.
// The returned representation is an approximation only; in particular, the
// order and case of header field names are lost.
func (h *EchoBin) DumpRequest(w http.ResponseWriter, r *http.Request) {
	dump, err := httputil.DumpRequest(r, true)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(dump)
}

// Hostname returns the hostname the server was configured with.
func (h *EchoBin) Hostname(w http.ResponseWriter, r *http.Request) {
	writeJSON(http.StatusOK, w, hostnameResponse{
		Hostname: h.hostname,
	})
}

// Env returns the ECHOBIN_-prefixed environment variables the operator chose
// to expose, if any.
func (h *EchoBin) Env(w http.ResponseWriter, r *http.Request) {
	writeJSON(http.StatusOK, w, envResponse{
		Env: h.env,
	})
}

// WebSocketEcho upgrades the connection and echoes every message back until
// the client goes away.
func (h *EchoBin) WebSocketEcho(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		// Accept has already written an error response
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected error")

	conn.SetReadLimit(h.MaxBodySize)

	ctx := r.Context()
	for {
		msgType, msg, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) || errors.Is(err, io.EOF) {
				conn.Close(websocket.StatusNormalClosure, "")
			}
			return
		}
		if err := conn.Write(ctx, msgType, msg); err != nil {
			return
		}
	}
}
