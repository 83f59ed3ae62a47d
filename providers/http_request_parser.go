package providers

import (
	"bytes"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// RequestSpans is a parsed HTTP/1.1 request with absolute byte offsets
type RequestSpans struct {
	Method      string
	Target      string
	Version     string
	RequestLine Span
	MethodSpan  Span
	TargetSpan  Span
	Headers     []HeaderSpan
	HeaderEnd   int
	Body        Span
	Len         int
}

// HeadersWithName returns all headers matching name case-insensitively
func (r *RequestSpans) HeadersWithName(name string) []HeaderSpan {
	return headersWithName(r.Headers, name)
}

// Header returns the first header matching name
func (r *RequestSpans) Header(name string) (HeaderSpan, bool) {
	hs := r.HeadersWithName(name)
	if len(hs) == 0 {
		return HeaderSpan{}, false
	}
	return hs[0], true
}

// Span returns the whole request
func (r *RequestSpans) Span() Span {
	return Span{Start: r.RequestLine.Start, End: r.RequestLine.Start + r.Len, Label: "request"}
}

// ParseRequest parses one HTTP request starting at data[0].
// A request body is read only when Content-Length is present.
func ParseRequest(data []byte) (*RequestSpans, error) {
	return parseRequestAt(data, 0)
}

// ParseRequests parses every pipelined request in a sent transcript
func ParseRequests(data []byte) ([]*RequestSpans, error) {
	var out []*RequestSpans
	offset := 0
	for offset < len(data) {
		req, err := parseRequestAt(data[offset:], offset)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
		offset += req.Len
	}

	logger.Debug("Requests parsed",
		zap.String("component", "Parser"),
		zap.Int("requests", len(out)),
		zap.Int("sent_bytes", len(data)))

	return out, nil
}

func parseRequestAt(data []byte, base int) (*RequestSpans, error) {
	if len(data) == 0 {
		return nil, parseErr("request", base, "empty request")
	}

	req := &RequestSpans{HeaderEnd: -1}
	pos := 0

	line, next, ok := nextLine(data, pos)
	if !ok {
		return nil, parseErr("request", base, "request line not terminated by CRLF")
	}
	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, parseErr("request", base, "invalid request line %q", line)
	}
	req.Method, req.Target, req.Version = parts[0], parts[1], parts[2]
	req.RequestLine = Span{Start: base, End: base + len(line), Label: "request-line"}
	req.MethodSpan = Span{Start: base, End: base + len(parts[0]), Label: "method"}
	targetStart := base + len(parts[0]) + 1
	req.TargetSpan = Span{Start: targetStart, End: targetStart + len(parts[1]), Label: "target"}
	pos = next

	for {
		line, next, ok = nextLine(data, pos)
		if !ok {
			return nil, parseErr("request", base+pos, "headers not terminated")
		}
		if line == "" {
			req.HeaderEnd = base + pos
			pos = next
			break
		}
		h, err := parseHeaderLine("request", line, base+pos)
		if err != nil {
			return nil, err
		}
		req.Headers = append(req.Headers, h)
		pos = next
	}

	bodyLen := 0
	if h, ok := req.Header("content-length"); ok {
		n, err := strconv.Atoi(h.Text)
		if err != nil || n < 0 {
			return nil, parseErr("request", h.Value.Start, "invalid Content-Length %q", h.Text)
		}
		bodyLen = n
	} else if h, ok := req.Header("transfer-encoding"); ok && strings.Contains(strings.ToLower(h.Text), "chunked") {
		return nil, parseErr("request", h.Line.Start, "chunked request bodies are not supported")
	}
	if pos+bodyLen > len(data) {
		return nil, parseErr("request", base+pos, "body truncated: want %d bytes, have %d", bodyLen, len(data)-pos)
	}

	req.Body = Span{Start: base + pos, End: base + pos + bodyLen, Label: "body"}
	req.Len = pos + bodyLen
	return req, nil
}

// nextLine returns the line starting at pos and the offset after its CRLF
func nextLine(data []byte, pos int) (string, int, bool) {
	idx := bytes.Index(data[pos:], []byte("\r\n"))
	if idx == -1 {
		return "", 0, false
	}
	return string(data[pos : pos+idx]), pos + idx + 2, true
}
