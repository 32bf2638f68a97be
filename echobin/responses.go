package echobin

const (
	jsonContentType   = "application/json; encoding=utf-8"
	htmlContentType   = "text/html; charset=utf-8"
	binaryContentType = "application/octet-stream"
)

type headersResponse struct {
	Headers map[string]string `json:"headers"`
}

type ipResponse struct {
	Origin string `json:"origin"`
}

type userAgentResponse struct {
	UserAgent string `json:"user-agent"`
}

// A generic response for any incoming request that should not contain a body
// (GET, HEAD, OPTIONS, etc).
type noBodyResponse struct {
	Args    map[string]any    `json:"args"`
	Headers map[string]string `json:"headers"`
	Method  string            `json:"method"`
	Origin  string            `json:"origin"`
	URL     string            `json:"url"`

	Deflated bool `json:"deflated,omitempty"`
	Gzipped  bool `json:"gzipped,omitempty"`
}

// A generic response for any incoming request that might contain a body
// (POST, PUT, PATCH, etc).
type bodyResponse struct {
	Args    map[string]any    `json:"args"`
	Headers map[string]string `json:"headers"`
	Method  string            `json:"method"`
	Origin  string            `json:"origin"`
	URL     string            `json:"url"`

	Data  string         `json:"data"`
	Files map[string]any `json:"files"`
	Form  map[string]any `json:"form"`
	JSON  any            `json:"json"`
}

type cookiesResponse map[string]string

type authResponse struct {
	Authenticated bool   `json:"authenticated"`
	User          string `json:"user"`
}

type bearerResponse struct {
	Authenticated bool   `json:"authenticated"`
	Token         string `json:"token"`
}

// An actual stream response body will be made up of one or more of these
// structs, encoded as JSON and separated by newlines
type streamResponse struct {
	ID      int               `json:"id"`
	Args    map[string]any    `json:"args"`
	Headers map[string]string `json:"headers"`
	Origin  string            `json:"origin"`
	URL     string            `json:"url"`
}

type uuidResponse struct {
	UUID string `json:"uuid"`
}

type hostnameResponse struct {
	Hostname string `json:"hostname"`
}

type envResponse struct {
	Env map[string]string `json:"env"`
}
