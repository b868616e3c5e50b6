package httpframe

import (
	"bytes"
	"strconv"
)

// ParseResult is the outcome of one framing attempt over the current prefix.
type ParseResult uint8

const (
	// NeedMore means the prefix does not yet contain a full request.
	NeedMore ParseResult = iota
	// Complete means the request is fully framed; TotalLength is final.
	Complete
	// Malformed means the prefix can never become a valid request.
	Malformed
)

var crlf = []byte("\r\n")
var crlfcrlf = []byte("\r\n\r\n")

// Parse frames one request from data, a prefix of the client's read buffer.
// The framer borrows the bytes; it neither copies the body nor owns the
// slice. Calling again with a longer prefix makes monotonic progress: once
// Complete, the result and every parsed field are frozen.
func (r *Request) Parse(data []byte) ParseResult {
	if r.Complete {
		return Complete
	}

	headerEnd := bytes.Index(data, crlfcrlf)
	if headerEnd < 0 {
		return NeedMore
	}
	r.HeadersEnd = headerEnd + len(crlfcrlf)

	// The terminator may only just have arrived; start the structured pass
	// from scratch so a prior partial attempt leaves no residue.
	r.Headers = r.Headers[:0]
	r.Host = ""
	r.ContentLength = -1
	r.Chunked = false

	head := data[:headerEnd]
	lineEnd := bytes.Index(head, crlf)
	if lineEnd < 0 {
		// Request line runs straight into the terminator.
		lineEnd = len(head)
	}
	if !r.parseRequestLine(head[:lineEnd]) {
		return Malformed
	}

	rest := head[min(lineEnd+2, len(head)):]
	for len(rest) > 0 {
		var line []byte
		if i := bytes.Index(rest, crlf); i >= 0 {
			line, rest = rest[:i], rest[i+2:]
		} else {
			line, rest = rest, nil
		}
		if len(line) == 0 {
			break
		}
		if !r.parseHeaderLine(line) {
			return Malformed
		}
	}

	r.applyKeepAliveDefault()

	// Framing decision.
	switch {
	case r.Chunked:
		// Chunked bodies are forwarded opaquely; the request is considered
		// framed at the end of the headers.
		r.TotalLength = r.HeadersEnd
		r.Complete = true
	case r.ContentLength >= 0:
		r.TotalLength = r.HeadersEnd + int(r.ContentLength)
		if len(data) >= r.TotalLength {
			r.Complete = true
		}
	case r.Method.Bodyless():
		r.TotalLength = r.HeadersEnd
		r.Complete = true
	default:
		// POST/PUT and friends need explicit framing.
		return Malformed
	}

	if r.Complete {
		return Complete
	}
	return NeedMore
}

// parseRequestLine splits "METHOD path HTTP/1.x" into its three tokens.
func (r *Request) parseRequestLine(line []byte) bool {
	method, rest, ok := nextToken(line)
	if !ok || len(method) > MaxMethodLen {
		return false
	}
	r.MethodText = string(method)
	r.Method = ParseMethod(method)

	path, rest, ok := nextToken(rest)
	if !ok || len(path) > MaxPathLen {
		return false
	}
	r.Path = string(path)

	version := trimWhitespace(rest)
	switch {
	case equalFold(version, "HTTP/1.1"):
		r.Version = Version11
	case equalFold(version, "HTTP/1.0"):
		r.Version = Version10
	default:
		r.Version = VersionUnknown
		return false
	}
	return true
}

// parseHeaderLine handles one "Name: value" line, caching the headers the
// proxy acts on.
func (r *Request) parseHeaderLine(line []byte) bool {
	if len(r.Headers) >= MaxHeaders {
		return false
	}

	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return false
	}

	name := trimWhitespace(line[:colon])
	value := trimWhitespace(line[colon+1:])
	if len(name) == 0 || len(name) > MaxHeaderNameLen || len(value) > MaxHeaderValueLen {
		return false
	}

	h := Header{Name: string(name), Value: string(value)}
	r.Headers = append(r.Headers, h)

	switch {
	case equalFold(name, "Host"):
		if len(h.Value) > MaxHostLen {
			return false
		}
		r.Host = h.Value
	case equalFold(name, "Content-Length"):
		n, err := strconv.ParseInt(h.Value, 10, 64)
		if err != nil || n < 0 {
			return false
		}
		r.ContentLength = n
	case equalFold(name, "Transfer-Encoding"):
		if hasFoldPrefix(value, "chunked") {
			r.Chunked = true
		}
	}
	return true
}

// applyKeepAliveDefault implements the version defaults: 1.1 keeps alive
// unless told to close, 1.0 closes unless told to keep alive.
func (r *Request) applyKeepAliveDefault() {
	connection, ok := r.Header("Connection")
	if r.Version == Version10 {
		r.KeepAlive = ok && equalFoldStr(connection, "keep-alive")
	} else {
		r.KeepAlive = !(ok && equalFoldStr(connection, "close"))
	}
}

// nextToken splits off the run up to the next space and skips the whitespace
// after it. ok is false when no separator follows the token.
func nextToken(b []byte) (tok, rest []byte, ok bool) {
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return nil, nil, false
	}
	tok = b[:i]
	rest = b[i:]
	for len(rest) > 0 && (rest[0] == ' ' || rest[0] == '\t') {
		rest = rest[1:]
	}
	return tok, rest, len(tok) > 0
}

func trimWhitespace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 {
		switch b[len(b)-1] {
		case ' ', '\t', '\r', '\n':
			b = b[:len(b)-1]
		default:
			return b
		}
	}
	return b
}

func hasFoldPrefix(b []byte, prefix string) bool {
	if len(b) < len(prefix) {
		return false
	}
	return equalFold(b[:len(prefix)], prefix)
}
