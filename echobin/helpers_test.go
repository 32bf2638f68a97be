package echobin

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"
)

func assertNil(t *testing.T, v interface{}) {
	t.Helper()
	if v != nil {
		t.Fatalf("expected nil, got %#v", v)
	}
}

func assertIntEqual(t *testing.T, a, b int) {
	t.Helper()
	if a != b {
		t.Fatalf("expected %v == %v", a, b)
	}
}

func assertBytesEqual(t *testing.T, a, b []byte) {
	t.Helper()
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected %v == %v", a, b)
	}
}

func assertError(t *testing.T, got, expected error) {
	t.Helper()
	if got != expected {
		t.Fatalf("expected error %v, got %v", expected, got)
	}
}

func TestGetClientIP(t *testing.T) {
	t.Parallel()

	makeRequest := func(headers map[string]string) *http.Request {
		r, _ := http.NewRequest("GET", "/ip", nil)
		for k, v := range headers {
			r.Header.Set(k, v)
		}
		return r
	}

	tests := map[string]struct {
		headers  map[string]string
		expected string
	}{
		"no headers": {
			nil,
			"unknown",
		},
		"cf-connecting-ip wins": {
			map[string]string{
				"CF-Connecting-IP": "1.1.1.1",
				"True-Client-IP":   "2.2.2.2",
				"X-Forwarded-For":  "3.3.3.3",
			},
			"1.1.1.1",
		},
		"true-client-ip beats x-forwarded-for": {
			map[string]string{
				"True-Client-IP":  "2.2.2.2",
				"X-Forwarded-For": "3.3.3.3",
			},
			"2.2.2.2",
		},
		"first x-forwarded-for entry": {
			map[string]string{"X-Forwarded-For": "3.3.3.3, 4.4.4.4, 5.5.5.5"},
			"3.3.3.3",
		},
		"x-forwarded-for entries are trimmed": {
			map[string]string{"X-Forwarded-For": "  3.3.3.3  , 4.4.4.4"},
			"3.3.3.3",
		},
		"empty x-forwarded-for entry does not fall through": {
			map[string]string{
				"X-Forwarded-For": " , 4.4.4.4",
				"X-Real-IP":       "5.5.5.5",
			},
			"unknown",
		},
		"x-real-ip as last resort": {
			map[string]string{"X-Real-IP": "5.5.5.5"},
			"5.5.5.5",
		},
	}
	for name, test := range tests {
		test := test
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got := getClientIP(makeRequest(test.headers))
			if got != test.expected {
				t.Fatalf("expected client ip %q, got %q", test.expected, got)
			}
		})
	}
}

func TestGetRequestScheme(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		headers  map[string]string
		expected string
	}{
		"default":           {nil, "http"},
		"x-forwarded-proto": {map[string]string{"X-Forwarded-Proto": "https"}, "https"},
		"cf-visitor":        {map[string]string{"CF-Visitor": `{"scheme":"https"}`}, "https"},
		"cf-visitor garbage ignored": {
			map[string]string{"CF-Visitor": "not json"},
			"http",
		},
	}
	for name, test := range tests {
		test := test
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			r, _ := http.NewRequest("GET", "/get", nil)
			for k, v := range test.headers {
				r.Header.Set(k, v)
			}
			if got := getRequestScheme(r); got != test.expected {
				t.Fatalf("expected scheme %q, got %q", test.expected, got)
			}
		})
	}
}

func TestFlattenValues(t *testing.T) {
	t.Parallel()

	if got := flattenValues(nil); got != nil {
		t.Fatalf("expected nil map for nil values, got %#v", got)
	}

	got := flattenValues(url.Values{
		"single": {"one"},
		"multi":  {"one", "two"},
	})
	expected := map[string]any{
		"single": "one",
		"multi":  []string{"one", "two"},
	}
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %#v, got %#v", expected, got)
	}
}

func TestJSONSafeString(t *testing.T) {
	t.Parallel()

	t.Run("text passes through", func(t *testing.T) {
		t.Parallel()
		body := "Hello, Καλημέρα"
		got := jsonSafeString([]byte(body), "text/plain")
		if got != body {
			t.Fatalf("expected %q, got %q", body, got)
		}
		// encoding valid UTF-8 is idempotent
		if again := jsonSafeString([]byte(got), "text/plain"); again != got {
			t.Fatalf("expected idempotent encoding, got %q", again)
		}
	})

	t.Run("binary becomes a data URI", func(t *testing.T) {
		t.Parallel()
		body := []byte{0xff, 0xfe, 0xfd}
		expected := "data:image/png;base64," + base64.StdEncoding.EncodeToString(body)
		if got := jsonSafeString(body, "image/png"); got != expected {
			t.Fatalf("expected %q, got %q", expected, got)
		}
	})

	t.Run("binary with no content type", func(t *testing.T) {
		t.Parallel()
		body := []byte{0xff, 0xfe, 0xfd}
		got := jsonSafeString(body, "")
		if !strings.HasPrefix(got, "data:application/octet-stream;base64,") {
			t.Fatalf("expected octet-stream data URI, got %q", got)
		}
	})
}

func TestNewETag(t *testing.T) {
	t.Parallel()
	a, b := newETag(), newETag()
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %q", a)
	}
	if a == b {
		t.Fatalf("expected distinct etags, got %q twice", a)
	}
}

func TestParseETags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected []string
	}{
		{"", nil},
		{`"xyzzy"`, []string{"xyzzy"}},
		{`W/"xyzzy"`, []string{"xyzzy"}},
		{`"a", "b" , "c"`, []string{"a", "b", "c"}},
		{`"a", W/"b"`, []string{"a", "b"}},
		{"bare", []string{"bare"}},
		{"*", []string{"*"}},
	}
	for _, test := range tests {
		test := test
		t.Run(test.input, func(t *testing.T) {
			t.Parallel()
			got := parseETags(test.input)
			if !reflect.DeepEqual(got, test.expected) {
				t.Fatalf("expected %#v, got %#v", test.expected, got)
			}
		})
	}
}

func TestETagListContains(t *testing.T) {
	t.Parallel()
	if !etagListContains([]string{"a", "b"}, "b") {
		t.Fatal("expected list to contain etag")
	}
	if !etagListContains([]string{"*"}, "anything") {
		t.Fatal("expected wildcard to match")
	}
	if etagListContains([]string{"a"}, "b") {
		t.Fatal("expected no match")
	}
}

func TestParseStatusSpec(t *testing.T) {
	t.Parallel()

	okTests := []struct {
		input    string
		expected []statusChoice
	}{
		{"200", []statusChoice{{200, 1}}},
		{"200,500", []statusChoice{{200, 1}, {500, 1}}},
		{"200:0.7,500:0.3", []statusChoice{{200, 0.7}, {500, 0.3}}},
		{"200:1,500:0", []statusChoice{{200, 1}, {500, 0}}},
	}
	for _, test := range okTests {
		test := test
		t.Run(fmt.Sprintf("ok/%s", test.input), func(t *testing.T) {
			t.Parallel()
			got, err := parseStatusSpec(test.input)
			assertNil(t, err)
			if !reflect.DeepEqual(got, test.expected) {
				t.Fatalf("expected %#v, got %#v", test.expected, got)
			}
		})
	}

	badTests := []string{
		"",
		"abc",
		"200:",
		"200:abc",
		"200:3",
		"200:0.5",
		"200,xyz",
		"3.14",
	}
	for _, input := range badTests {
		input := input
		t.Run(fmt.Sprintf("bad/%s", input), func(t *testing.T) {
			t.Parallel()
			if _, err := parseStatusSpec(input); err == nil {
				t.Fatalf("expected error parsing %q", input)
			}
		})
	}
}

func TestChooseStatus(t *testing.T) {
	t.Parallel()

	t.Run("single choice", func(t *testing.T) {
		t.Parallel()
		if got := chooseStatus([]statusChoice{{418, 1}}); got != 418 {
			t.Fatalf("expected 418, got %d", got)
		}
	})

	t.Run("choices are drawn from the spec", func(t *testing.T) {
		t.Parallel()
		choices := []statusChoice{{200, 0.5}, {500, 0.5}}
		for i := 0; i < 100; i++ {
			got := chooseStatus(choices)
			if got != 200 && got != 500 {
				t.Fatalf("unexpected status %d", got)
			}
		}
	})

	t.Run("zero weight is never chosen", func(t *testing.T) {
		t.Parallel()
		choices := []statusChoice{{200, 1}, {500, 0}}
		for i := 0; i < 100; i++ {
			if got := chooseStatus(choices); got != 200 {
				t.Fatalf("zero-weight status %d chosen", got)
			}
		}
	})
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	okTests := []struct {
		input    string
		expected time.Duration
	}{
		// go-style durations
		{"1s", time.Second},
		{"500ms", 500 * time.Millisecond},
		{"1.5h", 90 * time.Minute},
		{"-10m", -10 * time.Minute},

		// or floating point seconds
		{"1", time.Second},
		{"0.25", 250 * time.Millisecond},
		{"-25", -25 * time.Second},
		{"-2.5", -2500 * time.Millisecond},
	}
	for _, test := range okTests {
		test := test
		t.Run(fmt.Sprintf("ok/%s", test.input), func(t *testing.T) {
			t.Parallel()
			result, err := parseDuration(test.input)
			if err != nil {
				t.Fatalf("unexpected error parsing duration %v: %s", test.input, err)
			}
			if result != test.expected {
				t.Fatalf("expected %s, got %s", test.expected, result)
			}
		})
	}

	badTests := []string{
		"foo",
		"100foo",
		"1/1",
		"1.5.foo",
		"0xFF",
	}
	for _, input := range badTests {
		input := input
		t.Run(fmt.Sprintf("bad/%s", input), func(t *testing.T) {
			t.Parallel()
			if _, err := parseDuration(input); err == nil {
				t.Fatalf("expected error parsing %v", input)
			}
		})
	}
}

func TestParseBoundedDuration(t *testing.T) {
	t.Parallel()

	t.Run("within bounds", func(t *testing.T) {
		t.Parallel()
		d, err := parseBoundedDuration("500ms", 0, time.Second)
		assertNil(t, err)
		if d != 500*time.Millisecond {
			t.Fatalf("expected 500ms, got %s", d)
		}
	})

	t.Run("above max clamps", func(t *testing.T) {
		t.Parallel()
		d, err := parseBoundedDuration("10s", 0, time.Second)
		assertNil(t, err)
		if d != time.Second {
			t.Fatalf("expected clamp to 1s, got %s", d)
		}
	})

	t.Run("below min errors", func(t *testing.T) {
		t.Parallel()
		if _, err := parseBoundedDuration("-1s", 0, time.Second); err == nil {
			t.Fatal("expected error for duration below minimum")
		}
	})
}

func TestSyntheticByteStream(t *testing.T) {
	t.Parallel()

	factory := func(offset int64) byte {
		return byte(offset)
	}

	t.Run("read", func(t *testing.T) {
		t.Parallel()
		s := newSyntheticByteStream(10, factory)

		// read first half
		p := make([]byte, 5)
		count, err := s.Read(p)
		assertNil(t, err)
		assertIntEqual(t, count, 5)
		assertBytesEqual(t, p, []byte{0, 1, 2, 3, 4})

		// read second half
		p = make([]byte, 5)
		count, err = s.Read(p)
		assertError(t, err, io.EOF)
		assertIntEqual(t, count, 5)
		assertBytesEqual(t, p, []byte{5, 6, 7, 8, 9})

		// can't read any more
		p = make([]byte, 5)
		count, err = s.Read(p)
		assertError(t, err, io.EOF)
		assertIntEqual(t, count, 0)
		assertBytesEqual(t, p, []byte{0, 0, 0, 0, 0})
	})

	t.Run("read into too-large buffer", func(t *testing.T) {
		t.Parallel()
		s := newSyntheticByteStream(5, factory)
		p := make([]byte, 10)
		count, err := s.Read(p)
		assertError(t, err, io.EOF)
		assertIntEqual(t, count, 5)
		assertBytesEqual(t, p, []byte{0, 1, 2, 3, 4, 0, 0, 0, 0, 0})
	})

	t.Run("seek", func(t *testing.T) {
		t.Parallel()
		s := newSyntheticByteStream(100, factory)

		p := make([]byte, 5)
		s.Seek(10, io.SeekStart)
		count, err := s.Read(p)
		assertNil(t, err)
		assertIntEqual(t, count, 5)
		assertBytesEqual(t, p, []byte{10, 11, 12, 13, 14})

		s.Seek(10, io.SeekCurrent)
		count, err = s.Read(p)
		assertNil(t, err)
		assertIntEqual(t, count, 5)
		assertBytesEqual(t, p, []byte{25, 26, 27, 28, 29})

		s.Seek(10, io.SeekEnd)
		count, err = s.Read(p)
		assertNil(t, err)
		assertIntEqual(t, count, 5)
		assertBytesEqual(t, p, []byte{90, 91, 92, 93, 94})

		_, err = s.Seek(10, 666)
		if err == nil || err.Error() != "Seek: invalid whence" {
			t.Fatalf("expected invalid whence error, got %v", err)
		}

		_, err = s.Seek(-10, io.SeekStart)
		if err == nil || err.Error() != "Seek: invalid offset" {
			t.Fatalf("expected invalid offset error, got %v", err)
		}
	})
}

func TestNewBase64Helper(t *testing.T) {
	t.Parallel()

	t.Run("implicit decode", func(t *testing.T) {
		t.Parallel()
		b, err := newBase64Helper("/base64/aGVsbG8=")
		assertNil(t, err)
		if b.operation != "decode" || b.data != "aGVsbG8=" {
			t.Fatalf("unexpected parse: %#v", b)
		}
	})

	t.Run("explicit operations", func(t *testing.T) {
		t.Parallel()
		b, err := newBase64Helper("/base64/encode/hello")
		assertNil(t, err)
		if b.operation != "encode" || b.data != "hello" {
			t.Fatalf("unexpected parse: %#v", b)
		}
	})

	t.Run("bad operation", func(t *testing.T) {
		t.Parallel()
		if _, err := newBase64Helper("/base64/frobnicate/hello"); err == nil {
			t.Fatal("expected error for bad operation")
		}
	})

	t.Run("missing data", func(t *testing.T) {
		t.Parallel()
		if _, err := newBase64Helper("/base64/"); err == nil {
			t.Fatal("expected error for missing data")
		}
	})
}

func TestBase64HelperDecode(t *testing.T) {
	t.Parallel()

	// payloads produced by different base64 variants all decode
	inputs := []string{
		base64.StdEncoding.EncodeToString([]byte("hello?>")),
		base64.URLEncoding.EncodeToString([]byte("hello?>")),
		base64.RawStdEncoding.EncodeToString([]byte("hello?>")),
		base64.RawURLEncoding.EncodeToString([]byte("hello?>")),
	}
	for _, input := range inputs {
		b := &base64Helper{operation: "decode", data: input}
		result, err := b.Decode()
		assertNil(t, err)
		if !bytes.Equal(result, []byte("hello?>")) {
			t.Fatalf("expected %q, got %q", "hello?>", result)
		}
	}

	b := &base64Helper{operation: "decode", data: "!!!not base64!!!"}
	if _, err := b.Decode(); err == nil {
		t.Fatal("expected decode error")
	}
}
