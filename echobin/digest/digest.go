// Package digest provides a limited implementation of HTTP Digest
// Authentication, as defined in RFC 2617.
//
// Only the "auth" QOP directive is handled at this time, and while the
// "auth-int" directive is defined, it is not implemented.
package digest

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// digestAlgorithm is an algorithm used to hash digest payloads
type digestAlgorithm int

// Digest algorithms supported by this package
const (
	MD5 digestAlgorithm = iota
	SHA256
)

func (a digestAlgorithm) String() string {
	switch a {
	case MD5:
		return "MD5"
	case SHA256:
		return "SHA-256"
	}
	return "UNKNOWN"
}

// Check returns a bool indicating whether the request is correctly
// authenticated for the given username and password.
func Check(req *http.Request, username, password string) bool {
	auth := parseAuthorizationHeader(req.Header.Get("Authorization"))
	if auth == nil || auth.username != username {
		return false
	}
	expectedResponse := response(auth, password, req.Method, req.RequestURI)
	return compare(auth.response, expectedResponse)
}

// Challenge returns the value for a WWW-Authenticate header that can be used
// in digest authentication against the given realm.
func Challenge(realm string, algorithm digestAlgorithm) string {
	entropy := make([]byte, 32)
	rand.Read(entropy)

	opaqueVal := entropy[:16]
	nonceVal := fmt.Sprintf("%s:%x", realm, entropy[16:])

	opaque := hash(opaqueVal, algorithm)
	nonce := hash([]byte(nonceVal), algorithm)

	return fmt.Sprintf("Digest qop=auth, realm=%q, algorithm=%s, nonce=%s, opaque=%s",
		sanitizeRealm(realm), algorithm, nonce, opaque)
}

// sanitizeRealm tries to ensure that a given realm does not include any
// characters that will trip up our extremely simplistic header parser.
func sanitizeRealm(realm string) string {
	realm = strings.ReplaceAll(realm, `"`, "")
	realm = strings.ReplaceAll(realm, ",", "")
	return realm
}

// authorization is the parsed value of an Authorization header
type authorization struct {
	algorithm digestAlgorithm
	cnonce    string
	nc        string
	nonce     string
	opaque    string
	qop       string
	realm     string
	response  string
	uri       string
	username  string
}

// parseAuthorizationHeader parses an Authorization header into an
// authorization struct, or returns nil if the header cannot be parsed.
func parseAuthorizationHeader(value string) *authorization {
	if value == "" {
		return nil
	}
	authType, authInfo, found := strings.Cut(value, " ")
	if !found || authType != "Digest" {
		return nil
	}

	fields := parseDictHeader(authInfo)
	algorithm := MD5
	if strings.EqualFold(fields["algorithm"], "SHA-256") {
		algorithm = SHA256
	}
	return &authorization{
		algorithm: algorithm,
		cnonce:    fields["cnonce"],
		nc:        fields["nc"],
		nonce:     fields["nonce"],
		opaque:    fields["opaque"],
		qop:       fields["qop"],
		realm:     fields["realm"],
		response:  fields["response"],
		uri:       fields["uri"],
		username:  fields["username"],
	}
}

// parseDictHeader parses a "dict" header value into a map, handling
// optionally quoted values and surrounding whitespace.
func parseDictHeader(value string) map[string]string {
	pairs := strings.Split(value, ",")
	fields := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, val, _ := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if strings.HasPrefix(val, `"`) && strings.HasSuffix(val, `"`) && len(val) > 1 {
			val = val[1 : len(val)-1]
		}
		fields[key] = val
	}
	return fields
}

// response computes the correct response hash for the given authorization
// state, password, and request method/URI.
func response(auth *authorization, password, method, uri string) string {
	ha1 := hash([]byte(fmt.Sprintf("%s:%s:%s", auth.username, auth.realm, password)), auth.algorithm)
	ha2 := hash([]byte(fmt.Sprintf("%s:%s", method, uri)), auth.algorithm)
	payload := strings.Join([]string{
		ha1,
		auth.nonce,
		auth.nc,
		auth.cnonce,
		auth.qop,
		ha2,
	}, ":")
	return hash([]byte(payload), auth.algorithm)
}

// hash generates the hex digest of the given data using the given algorithm,
// falling back to MD5 for unknown algorithms.
func hash(data []byte, algorithm digestAlgorithm) string {
	switch algorithm {
	case SHA256:
		return fmt.Sprintf("%x", sha256.Sum256(data))
	default:
		return fmt.Sprintf("%x", md5.Sum(data))
	}
}

// compare is a constant-time string comparison.
func compare(x, y string) bool {
	return subtle.ConstantTimeCompare([]byte(x), []byte(y)) == 1
}
