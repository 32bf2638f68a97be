package echobin

import (
	"bytes"
	crand "crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Size limit for in-memory multipart parsing; larger uploads spill to disk.
const maxMultipartMemory int64 = 1024 * 1024

// getClientIP resolves the IP address of the client making the request,
// preferring the headers injected closest to the client. An empty
// X-Forwarded-For entry short-circuits to "unknown" rather than falling
// through, matching the reference service.
func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("True-Client-IP"); ip != "" {
		return ip
	}
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
		return "unknown"
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return "unknown"
}

// getRequestScheme determines the scheme the client believes it is speaking,
// consulting forwarding headers before the request URL itself.
func getRequestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if visitor := r.Header.Get("CF-Visitor"); visitor != "" {
		// Cloudflare encodes the visitor scheme as a tiny JSON document,
		// e.g. {"scheme":"https"}
		var v struct {
			Scheme string `json:"scheme"`
		}
		if err := json.Unmarshal([]byte(visitor), &v); err == nil && v.Scheme != "" {
			return v.Scheme
		}
	}
	if r.URL.Scheme != "" {
		return r.URL.Scheme
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// getURL reconstructs the URL the client requested, which the stdlib only
// hands us in pieces.
func getURL(r *http.Request) *url.URL {
	host := r.URL.Host
	if host == "" {
		host = r.Host
	}
	return &url.URL{
		Scheme:     getRequestScheme(r),
		Opaque:     r.URL.Opaque,
		User:       r.URL.User,
		Host:       host,
		Path:       r.URL.Path,
		RawPath:    r.URL.RawPath,
		ForceQuery: r.URL.ForceQuery,
		RawQuery:   r.URL.RawQuery,
		Fragment:   r.URL.Fragment,
	}
}

// Headers injected by proxies and CDNs on the way in, hidden from the
// headers echo unless the request carries a show_env query flag.
var envHeaderNames = map[string]struct{}{
	"cdn-loop":          {},
	"cf-connecting-ip":  {},
	"cf-ipcountry":      {},
	"cf-ray":            {},
	"cf-visitor":        {},
	"cf-worker":         {},
	"forwarded":         {},
	"true-client-ip":    {},
	"via":               {},
	"x-forwarded-for":   {},
	"x-forwarded-host":  {},
	"x-forwarded-port":  {},
	"x-forwarded-proto": {},
	"x-real-ip":         {},
	"x-request-id":      {},
}

// Stale analytics cookies that tend to pollute the /cookies echo, hidden
// unless show_env is given.
var envCookieNames = map[string]struct{}{
	"__utma":               {},
	"__utmb":               {},
	"__utmc":               {},
	"__utmt":               {},
	"__utmv":               {},
	"__utmz":               {},
	"_ga":                  {},
	"_gat":                 {},
	"_gid":                 {},
	"_gauges_unique":       {},
	"_gauges_unique_day":   {},
	"_gauges_unique_hour":  {},
	"_gauges_unique_month": {},
	"_gauges_unique_year":  {},
}

// getRequestHeaders returns a read-only view of the incoming headers with
// lower-cased names and multiple values joined with commas.
func getRequestHeaders(r *http.Request) map[string]string {
	showEnv := r.URL.Query().Has("show_env")
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		lower := strings.ToLower(name)
		if _, hidden := envHeaderNames[lower]; hidden && !showEnv {
			continue
		}
		headers[lower] = strings.Join(values, ",")
	}
	return headers
}

// flattenValues collapses single-element value lists to bare strings while
// keys seen more than once stay ordered lists, matching the shape clients of
// the reference service expect. A nil input stays nil so that absent forms
// serialize as JSON null.
func flattenValues(values url.Values) map[string]any {
	if values == nil {
		return nil
	}
	flattened := make(map[string]any, len(values))
	for name, vals := range values {
		if len(vals) == 1 {
			flattened[name] = vals[0]
		} else {
			flattened[name] = vals
		}
	}
	return flattened
}

// jsonSafeString renders raw bytes as a JSON-representable string. Valid
// UTF-8 passes through unchanged, so the function is idempotent on text;
// anything else becomes an RFC 2397 data URI carrying the base64-encoded
// bytes.
func jsonSafeString(body []byte, contentType string) string {
	if utf8.Valid(body) {
		return string(body)
	}
	if contentType == "" {
		contentType = binaryContentType
	}
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(body))
}

// parseJSON attempts a strict JSON parse of the given bytes, returning nil
// on any failure.
func parseJSON(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil
	}
	return v
}

// parseBody normalizes a request body into the form/files/data/json fields
// of the canonical echo response.
//
// The raw bytes can be needed several times over (form decoding, raw echo,
// JSON decoding) but the underlying stream may only be drained once, so the
// body is buffered up front and every parser below works from that buffer.
// Parse failures never surface to the caller: the service's job is to
// describe what it received, even when that is "nothing parseable".
func parseBody(r *http.Request, resp *bodyResponse) {
	resp.Files = map[string]any{}
	if r.Body == nil {
		return
	}

	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		// aborted or over-limit reads degrade to an empty parse
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			resp.Form = nil
			resp.Files = map[string]any{}
			resp.Data = ""
			resp.JSON = nil
			return
		}
		resp.Form = flattenValues(r.PostForm)
		files := make(url.Values)
		for field, headers := range r.MultipartForm.File {
			for _, fileHeader := range headers {
				content, err := readMultipartFile(fileHeader)
				if err != nil {
					continue
				}
				files.Add(field, jsonSafeString(content, fileHeader.Header.Get("Content-Type")))
			}
		}
		resp.Files = flattenValues(files)
		resp.Data = jsonSafeString(body, mediaType)
		resp.JSON = parseJSON(body)
	case "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(body))
		if err != nil {
			form = nil
		}
		resp.Form = flattenValues(form)
		resp.Data = jsonSafeString(body, mediaType)
		resp.JSON = parseJSON(body)
	default:
		resp.Data = jsonSafeString(body, mediaType)
		resp.JSON = parseJSON(body)
	}
}

func readMultipartFile(fileHeader *multipart.FileHeader) ([]byte, error) {
	f, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// newETag returns a fresh opaque entity tag: 16 random bytes, hex encoded.
func newETag() string {
	buf := make([]byte, 16)
	if _, err := crand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// parseETags splits a comma-separated list of entity tags, stripping any
// weak-validator prefixes and surrounding quotes. Comparisons downstream are
// on the unwrapped tag value.
func parseETags(header string) []string {
	if header == "" {
		return nil
	}
	var tags []string
	for _, raw := range strings.Split(header, ",") {
		tag := strings.TrimSpace(raw)
		tag = strings.TrimPrefix(tag, "W/")
		tag = strings.Trim(tag, `"`)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// etagListContains reports whether the parsed tag list matches the given
// etag, where a wildcard entry matches anything.
func etagListContains(tags []string, etag string) bool {
	for _, tag := range tags {
		if tag == etag || tag == "*" {
			return true
		}
	}
	return false
}

// statusChoice is one entry in a weighted status code spec.
type statusChoice struct {
	code   int
	weight float64
}

// parseStatusSpec parses a status code spec: either a single code ("200") or
// a comma-separated list of code or code:weight entries ("200:0.7,500:0.3").
// Weights are floats defaulting to 1. A single bad token invalidates the
// whole spec. Weights are only recognized in list form, so a lone "200:3"
// is rejected rather than treated as a weighted entry.
func parseStatusSpec(spec string) ([]statusChoice, error) {
	if !strings.Contains(spec, ",") {
		code, err := strconv.Atoi(strings.TrimSpace(spec))
		if err != nil {
			return nil, fmt.Errorf("invalid status code %q", spec)
		}
		return []statusChoice{{code: code, weight: 1}}, nil
	}
	var choices []statusChoice
	for _, entry := range strings.Split(spec, ",") {
		rawCode, rawWeight, hasWeight := strings.Cut(entry, ":")
		code, err := strconv.Atoi(strings.TrimSpace(rawCode))
		if err != nil {
			return nil, fmt.Errorf("invalid status code %q", rawCode)
		}
		weight := 1.0
		if hasWeight {
			weight, err = strconv.ParseFloat(strings.TrimSpace(rawWeight), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid status weight %q", rawWeight)
			}
		}
		choices = append(choices, statusChoice{code: code, weight: weight})
	}
	return choices, nil
}

// chooseStatus picks one code from a weighted spec with a single uniform
// draw over the cumulative weights. Zero-weight entries are never chosen.
// The global rand source is locked, so concurrent requests are safe.
func chooseStatus(choices []statusChoice) int {
	if len(choices) == 1 {
		return choices[0].code
	}
	var total float64
	for _, choice := range choices {
		total += choice.weight
	}
	draw := rand.Float64() * total
	var cumulative float64
	for _, choice := range choices {
		cumulative += choice.weight
		if draw < cumulative {
			return choice.code
		}
	}
	return choices[len(choices)-1].code
}

// parseDuration parses a duration given either as a Go-style duration string
// or as floating point seconds.
func parseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		n, floatErr := strconv.ParseFloat(raw, 64)
		if floatErr != nil {
			return 0, err
		}
		d = time.Duration(n*1000) * time.Millisecond
	}
	return d, nil
}

// parseBoundedDuration parses a duration and clamps it to the given ceiling;
// durations below the floor are rejected.
func parseBoundedDuration(raw string, min, max time.Duration) (time.Duration, error) {
	d, err := parseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < min {
		return 0, fmt.Errorf("duration %s below minimum %s", d, min)
	}
	if d > max {
		d = max
	}
	return d, nil
}

// parseSeed returns a PRNG seeded from the given query value, or from the
// clock when no seed is given. Each request gets its own source, so handlers
// can draw from it without synchronization.
func parseSeed(rawSeed string) (*rand.Rand, error) {
	seed := time.Now().UnixNano()
	if rawSeed != "" {
		var err error
		seed, err = strconv.ParseInt(rawSeed, 10, 64)
		if err != nil {
			return nil, err
		}
	}
	return rand.New(rand.NewSource(seed)), nil
}

// syntheticByteStream implements io.ReadSeeker over bytes computed on the
// fly by a factory function, which lets us serve HTTP range requests of
// arbitrary size without materializing the payload.
type syntheticByteStream struct {
	mu      sync.Mutex
	size    int64
	offset  int64
	factory func(int64) byte
}

func newSyntheticByteStream(size int64, factory func(int64) byte) io.ReadSeeker {
	return &syntheticByteStream{size: size, factory: factory}
}

// Read implements the Reader interface for syntheticByteStream
func (s *syntheticByteStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.offset
	end := start + int64(len(p))
	var err error
	if end >= s.size {
		err = io.EOF
		end = s.size
	}
	for idx := start; idx < end; idx++ {
		p[idx-start] = s.factory(idx)
	}
	s.offset = end
	return int(end - start), err
}

// Seek implements the Seeker interface for syntheticByteStream
func (s *syntheticByteStream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch whence {
	case io.SeekStart:
		s.offset = offset
	case io.SeekCurrent:
		s.offset += offset
	case io.SeekEnd:
		s.offset = s.size - offset
	default:
		return 0, errors.New("Seek: invalid whence")
	}
	if s.offset < 0 {
		return 0, errors.New("Seek: invalid offset")
	}
	return s.offset, nil
}

type base64Helper struct {
	operation string
	data      string
}

// newBase64Helper parses a /base64/... path into its operation and payload.
// Supported forms are /base64/<data> (decode) and /base64/<encode|decode>/<data>.
func newBase64Helper(path string) (*base64Helper, error) {
	parts := strings.SplitN(path, "/", 4)
	b := &base64Helper{}
	switch len(parts) {
	case 3:
		b.operation = "decode"
		b.data = parts[2]
	case 4:
		b.operation = parts[2]
		b.data = parts[3]
		if b.operation != "encode" && b.operation != "decode" {
			return nil, fmt.Errorf("invalid operation: %s", b.operation)
		}
	default:
		return nil, errors.New("not enough path segments")
	}
	if b.data == "" {
		return nil, errors.New("no input data")
	}
	return b, nil
}

func (b *base64Helper) Encode() ([]byte, error) {
	return []byte(base64.URLEncoding.EncodeToString([]byte(b.data))), nil
}

func (b *base64Helper) Decode() ([]byte, error) {
	var (
		result []byte
		err    error
	)
	// The payload may have been produced by any of the common encodings.
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.StdEncoding, base64.RawURLEncoding, base64.RawStdEncoding} {
		if result, err = enc.DecodeString(b.data); err == nil {
			return result, nil
		}
	}
	return nil, err
}

func writeResponse(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	w.Write(body)
}

// mustMarshalJSON pretty-prints val into w, panicking on failure. Panicking
// is appropriate here: every value we marshal is one of our own response
// structs, so a failure is a programmer error.
func mustMarshalJSON(w io.Writer, val any) {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(val); err != nil {
		panic(err)
	}
}

func writeJSON(status int, w http.ResponseWriter, val any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	mustMarshalJSON(w, val)
}

func writeHTML(w http.ResponseWriter, body []byte, status int) {
	writeResponse(w, status, htmlContentType, body)
}
