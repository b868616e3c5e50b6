package httpframe

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleGet(t *testing.T) {
	raw := []byte("GET /x HTTP/1.1\r\nHost: h\r\n\r\n")
	req := NewRequest()

	res := req.Parse(raw)
	require.Equal(t, Complete, res)
	assert.Equal(t, MethodGet, req.Method)
	assert.Equal(t, "GET", req.MethodText)
	assert.Equal(t, "/x", req.Path)
	assert.Equal(t, Version11, req.Version)
	assert.Equal(t, "h", req.Host)
	assert.True(t, req.KeepAlive)
	assert.Equal(t, len(raw), req.HeadersEnd)
	assert.Equal(t, len(raw), req.TotalLength)
	assert.True(t, req.Valid())
}

func TestParseNeedMoreThenComplete(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	req := NewRequest()

	for i := 1; i < len(raw); i++ {
		assert.Equal(t, NeedMore, req.Parse(raw[:i]), "prefix length %d", i)
	}
	assert.Equal(t, Complete, req.Parse(raw))
}

func TestParseMonotonicity(t *testing.T) {
	raw := []byte("GET /a/b HTTP/1.1\r\nHost: m\r\n\r\n")
	req := NewRequest()
	require.Equal(t, Complete, req.Parse(raw))
	total := req.TotalLength
	path := req.Path

	// Extending the prefix never changes a complete result.
	extended := append(append([]byte(nil), raw...), []byte("GET /next HTTP/1.1\r\n")...)
	require.Equal(t, Complete, req.Parse(extended))
	assert.Equal(t, total, req.TotalLength)
	assert.Equal(t, path, req.Path)
}

func TestParseContentLengthFraming(t *testing.T) {
	head := "POST /submit HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\n\r\n"
	req := NewRequest()

	assert.Equal(t, NeedMore, req.Parse([]byte(head)))
	assert.Equal(t, NeedMore, req.Parse([]byte(head+"12")))

	res := req.Parse([]byte(head + "12345"))
	require.Equal(t, Complete, res)
	assert.Equal(t, int64(5), req.ContentLength)
	assert.Equal(t, len(head)+5, req.TotalLength)
	assert.Equal(t, len(head), req.HeadersEnd)
}

func TestParsePostWithoutFramingIsMalformed(t *testing.T) {
	raw := []byte("POST /p HTTP/1.1\r\nHost: h\r\n\r\n")
	req := NewRequest()
	assert.Equal(t, Malformed, req.Parse(raw))
}

func TestParseChunkedCompletesAtHeaders(t *testing.T) {
	raw := []byte("POST /p HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\n")
	req := NewRequest()

	require.Equal(t, Complete, req.Parse(raw))
	assert.True(t, req.Chunked)
	assert.Equal(t, len(raw), req.TotalLength, "chunked body is forwarded opaquely")
}

func TestParseKeepAliveDefaults(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		keepAlive bool
	}{
		{"http11 default", "GET / HTTP/1.1\r\nHost: h\r\n\r\n", true},
		{"http11 close", "GET / HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n", false},
		{"http10 default", "GET / HTTP/1.0\r\nHost: h\r\n\r\n", false},
		{"http10 keepalive", "GET / HTTP/1.0\r\nHost: h\r\nConnection: keep-alive\r\n\r\n", true},
		{"case insensitive", "GET / HTTP/1.1\r\nConnection: CLOSE\r\n\r\n", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := NewRequest()
			require.Equal(t, Complete, req.Parse([]byte(tc.raw)))
			assert.Equal(t, tc.keepAlive, req.KeepAlive)
		})
	}
}

func TestParseMethodCaseInsensitive(t *testing.T) {
	req := NewRequest()
	require.Equal(t, Complete, req.Parse([]byte("get / http/1.1\r\nHost: h\r\n\r\n")))
	assert.Equal(t, MethodGet, req.Method)
	assert.Equal(t, Version11, req.Version)
}

func TestParseUnknownMethodWithoutFramingIsMalformed(t *testing.T) {
	req := NewRequest()
	require.Equal(t, Malformed, req.Parse([]byte("BREW /pot HTTP/1.1\r\nHost: h\r\n\r\n")),
		"unknown method without framing cannot determine a body")
}

func TestParseBadVersion(t *testing.T) {
	req := NewRequest()
	assert.Equal(t, Malformed, req.Parse([]byte("GET / HTTP/2.0\r\nHost: h\r\n\r\n")))
}

func TestParseHeaderWithoutColon(t *testing.T) {
	req := NewRequest()
	assert.Equal(t, Malformed, req.Parse([]byte("GET / HTTP/1.1\r\nBogusHeader\r\n\r\n")))
}

func TestParseBadContentLength(t *testing.T) {
	req := NewRequest()
	assert.Equal(t, Malformed, req.Parse([]byte("POST / HTTP/1.1\r\nContent-Length: abc\r\n\r\n")))

	req = NewRequest()
	assert.Equal(t, Malformed, req.Parse([]byte("POST / HTTP/1.1\r\nContent-Length: -1\r\n\r\n")))
}

func TestParseTooManyHeaders(t *testing.T) {
	var b strings.Builder
	b.WriteString("GET / HTTP/1.1\r\n")
	for i := 0; i <= MaxHeaders; i++ {
		fmt.Fprintf(&b, "X-Header-%d: v\r\n", i)
	}
	b.WriteString("\r\n")

	req := NewRequest()
	assert.Equal(t, Malformed, req.Parse([]byte(b.String())))
}

func TestParsePathTooLong(t *testing.T) {
	raw := "GET /" + strings.Repeat("a", MaxPathLen) + " HTTP/1.1\r\nHost: h\r\n\r\n"
	req := NewRequest()
	assert.Equal(t, Malformed, req.Parse([]byte(raw)))
}

func TestHeaderLookupCaseInsensitive(t *testing.T) {
	req := NewRequest()
	require.Equal(t, Complete, req.Parse([]byte("GET / HTTP/1.1\r\nX-Trace-Id: abc\r\n\r\n")))

	v, ok := req.Header("x-trace-id")
	require.True(t, ok)
	assert.Equal(t, "abc", v)

	_, ok = req.Header("x-missing")
	assert.False(t, ok)
}

func TestValidRejectsOversizedBody(t *testing.T) {
	req := NewRequest()
	req.Method = MethodPost
	req.Path = "/upload"
	req.Version = Version11
	req.ContentLength = MaxContentLength + 1
	assert.False(t, req.Valid())

	req.ContentLength = MaxContentLength
	assert.True(t, req.Valid())
}

func TestResetReturnsToInitialState(t *testing.T) {
	req := NewRequest()
	require.Equal(t, Complete, req.Parse([]byte("GET /x HTTP/1.1\r\nHost: h\r\n\r\n")))

	req.Reset()
	assert.False(t, req.Complete)
	assert.Equal(t, MethodUnknown, req.Method)
	assert.Empty(t, req.Headers)
	assert.Equal(t, int64(-1), req.ContentLength)
	assert.True(t, req.KeepAlive)

	// Reusable for the next request on the connection.
	require.Equal(t, Complete, req.Parse([]byte("DELETE /y HTTP/1.1\r\nHost: h\r\n\r\n")))
	assert.Equal(t, MethodDelete, req.Method)
}

func TestErrorResponseFormat(t *testing.T) {
	resp := string(ErrorResponse(400, "Bad Request"))
	assert.Equal(t,
		"HTTP/1.1 400 Bad Request\r\nContent-Type: text/plain\r\nContent-Length: 12\r\nConnection: close\r\n\r\nBad Request\n",
		resp)
}

func TestStatusLines(t *testing.T) {
	assert.Equal(t, "HTTP/1.1 502 Bad Gateway\r\n", StatusLine(502))
	assert.Equal(t, "HTTP/1.1 500 Internal Server Error\r\n", StatusLine(999))
}
