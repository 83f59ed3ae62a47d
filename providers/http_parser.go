package providers

import (
	"bytes"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ResponseSpans is a parsed HTTP/1.1 response with absolute byte offsets
type ResponseSpans struct {
	StatusCode    int
	StatusMessage string
	StatusLine    Span
	Headers       []HeaderSpan
	HeaderEnd     int    // offset of the CRLF that terminates the header block
	Body          Span   // raw body bytes, chunk framing included
	BodyContent   []byte // body with chunk framing removed
	Chunks        []Span // chunk data spans for chunked responses
	Len           int    // bytes consumed by the message
}

// HeadersWithName returns all headers matching name case-insensitively
func (r *ResponseSpans) HeadersWithName(name string) []HeaderSpan {
	return headersWithName(r.Headers, name)
}

// Header returns the first header matching name
func (r *ResponseSpans) Header(name string) (HeaderSpan, bool) {
	hs := r.HeadersWithName(name)
	if len(hs) == 0 {
		return HeaderSpan{}, false
	}
	return hs[0], true
}

// IsSuccess reports a 2xx status
func (r *ResponseSpans) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ContentOffset maps a position inside BodyContent onto the transcript
func (r *ResponseSpans) ContentOffset(pos int) (int, error) {
	if len(r.Chunks) == 0 {
		if pos < 0 || pos > r.Body.Len() {
			return 0, parseErr("response", -1, "body position %d out of range", pos)
		}
		return r.Body.Start + pos, nil
	}
	for _, c := range r.Chunks {
		if pos < c.Len() {
			return c.Start + pos, nil
		}
		pos -= c.Len()
	}
	if pos == 0 {
		last := r.Chunks[len(r.Chunks)-1]
		return last.End, nil
	}
	return 0, parseErr("response", -1, "body position out of range")
}

// ContentSpan maps [start, end) of BodyContent onto the transcript.
// A span that crosses a chunk boundary cannot be expressed as one interval.
func (r *ResponseSpans) ContentSpan(start, end int, label string) (Span, error) {
	absStart, err := r.ContentOffset(start)
	if err != nil {
		return Span{}, err
	}
	if end == start {
		return Span{Start: absStart, End: absStart, Label: label}, nil
	}
	absLast, err := r.ContentOffset(end - 1)
	if err != nil {
		return Span{}, err
	}
	if absLast-absStart != end-1-start {
		return Span{}, parseErr("response", absStart, "%s spans multiple chunks", label)
	}
	return Span{Start: absStart, End: absLast + 1, Label: label}, nil
}

type chunkState int

const (
	chunkSizeLine chunkState = iota
	chunkData
	chunkDataCRLF
	chunkTrailer
)

// HTTPResponseParser is a streaming HTTP/1.1 response parser that handles
// partial data, Content-Length, chunked encoding and connection-close bodies
type HTTPResponseParser struct {
	Response *ResponseSpans

	remainingBodyBytes int64 // -1 means read until stream ends
	isChunked          bool
	chunkState         chunkState
	remaining          []byte
	currentByteIdx     int

	headersComplete bool
	complete        bool
}

// NewHTTPResponseParser creates a new streaming HTTP response parser
func NewHTTPResponseParser() *HTTPResponseParser {
	return &HTTPResponseParser{
		Response: &ResponseSpans{
			StatusLine: Span{Start: -1, End: -1},
			HeaderEnd:  -1,
			Body:       Span{Start: -1, End: -1, Label: "body"},
		},
	}
}

// OnChunk processes a new chunk of response data
func (p *HTTPResponseParser) OnChunk(data []byte) error {
	if p.complete {
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		return parseErr("response", p.currentByteIdx, "got more data after response was complete")
	}

	p.remaining = append(p.remaining, data...)

	if !p.headersComplete {
		if err := p.processHeaders(); err != nil {
			return err
		}
	}

	if p.headersComplete {
		if err := p.processBody(); err != nil {
			return err
		}
	}

	return nil
}

// StreamEnded indicates that no more data will arrive
func (p *HTTPResponseParser) StreamEnded() error {
	if !p.headersComplete {
		return parseErr("response", p.currentByteIdx, "stream ended before headers were complete")
	}

	if p.remainingBodyBytes > 0 || (p.isChunked && !p.complete) {
		return parseErr("response", p.currentByteIdx, "stream ended before all body bytes were received")
	}

	if len(p.remaining) > 0 {
		if p.remainingBodyBytes == -1 {
			p.Response.BodyContent = append(p.Response.BodyContent, p.remaining...)
			p.currentByteIdx += len(p.remaining)
		} else {
			logger.Debug("Ignoring extra bytes after response body",
				zap.String("component", "Parser"),
				zap.Int("extra_bytes", len(p.remaining)))
		}
		p.remaining = nil
	}

	p.finish()
	return nil
}

// IsComplete reports whether a full response has been parsed
func (p *HTTPResponseParser) IsComplete() bool {
	return p.complete
}

func (p *HTTPResponseParser) finish() {
	p.complete = true
	p.Response.Body.End = p.currentByteIdx
	p.Response.Len = p.currentByteIdx
}

func (p *HTTPResponseParser) processHeaders() error {
	for {
		line, found := p.getLine()
		if !found {
			return nil
		}

		if p.Response.StatusCode == 0 {
			if err := p.parseStatusLine(line); err != nil {
				return err
			}
			continue
		}

		if line == "" {
			return p.finishHeaders()
		}

		lineStart := p.currentByteIdx - len(line) - 2
		h, err := parseHeaderLine("response", line, lineStart)
		if err != nil {
			return err
		}
		p.Response.Headers = append(p.Response.Headers, h)
	}
}

// parseStatusLine parses "HTTP/1.1 200 OK"
func (p *HTTPResponseParser) parseStatusLine(line string) error {
	lineStart := p.currentByteIdx - len(line) - 2
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return parseErr("response", lineStart, "invalid HTTP status line %q", line)
	}

	statusCode, err := strconv.Atoi(parts[1])
	if err != nil || statusCode < 100 || statusCode > 999 {
		return parseErr("response", lineStart, "invalid status code %q", parts[1])
	}

	p.Response.StatusCode = statusCode
	if len(parts) == 3 {
		p.Response.StatusMessage = parts[2]
	}
	p.Response.StatusLine = Span{Start: lineStart, End: lineStart + len(line), Label: "status-line"}
	return nil
}

// finishHeaders completes header processing and sets up body parsing
func (p *HTTPResponseParser) finishHeaders() error {
	p.headersComplete = true
	p.Response.HeaderEnd = p.currentByteIdx - 2
	p.Response.Body.Start = p.currentByteIdx
	p.Response.Body.End = p.currentByteIdx

	var transferEncoding, contentLength string
	if h, ok := p.Response.Header("transfer-encoding"); ok {
		transferEncoding = strings.ToLower(h.Text)
	}
	if h, ok := p.Response.Header("content-length"); ok {
		contentLength = h.Text
	}

	switch {
	case strings.Contains(transferEncoding, "chunked"):
		p.isChunked = true
		p.remainingBodyBytes = 0
	case contentLength != "":
		length, err := strconv.ParseInt(contentLength, 10, 64)
		if err != nil || length < 0 {
			return parseErr("response", p.currentByteIdx, "invalid Content-Length %q", contentLength)
		}
		p.remainingBodyBytes = length
		if length == 0 {
			p.finish()
		}
	case p.Response.StatusCode == 204 || p.Response.StatusCode == 304 || p.Response.StatusCode < 200:
		p.finish()
	default:
		p.remainingBodyBytes = -1
	}
	return nil
}

func (p *HTTPResponseParser) processBody() error {
	if p.complete {
		return nil
	}
	if p.isChunked {
		return p.processChunkedBody()
	}
	return p.processFixedBody()
}

// processFixedBody processes body with known or unknown length
func (p *HTTPResponseParser) processFixedBody() error {
	if len(p.remaining) == 0 {
		return nil
	}

	var bytesToCopy int
	if p.remainingBodyBytes == -1 {
		bytesToCopy = len(p.remaining)
	} else {
		bytesToCopy = int(min(p.remainingBodyBytes, int64(len(p.remaining))))
		p.remainingBodyBytes -= int64(bytesToCopy)
	}

	p.Response.BodyContent = append(p.Response.BodyContent, p.remaining[:bytesToCopy]...)
	p.remaining = p.remaining[bytesToCopy:]
	p.currentByteIdx += bytesToCopy

	if p.remainingBodyBytes == 0 {
		p.finish()
	}
	return nil
}

// processChunkedBody processes chunked transfer encoding
func (p *HTTPResponseParser) processChunkedBody() error {
	for {
		switch p.chunkState {
		case chunkSizeLine:
			line, found := p.getLine()
			if !found {
				return nil
			}

			sizeStr := line
			if semiIdx := strings.IndexByte(line, ';'); semiIdx != -1 {
				sizeStr = line[:semiIdx]
			}
			sizeStr = strings.TrimSpace(sizeStr)

			chunkSize, err := strconv.ParseInt(sizeStr, 16, 64)
			if err != nil || chunkSize < 0 {
				return parseErr("response", p.currentByteIdx-len(line)-2, "invalid chunk size %q", sizeStr)
			}

			if chunkSize == 0 {
				p.chunkState = chunkTrailer
				continue
			}

			p.Response.Chunks = append(p.Response.Chunks, Span{
				Start: p.currentByteIdx,
				End:   p.currentByteIdx + int(chunkSize),
				Label: "chunk",
			})
			p.remainingBodyBytes = chunkSize
			p.chunkState = chunkData

		case chunkData:
			bytesToRead := int(min(p.remainingBodyBytes, int64(len(p.remaining))))
			if bytesToRead == 0 {
				return nil
			}

			p.Response.BodyContent = append(p.Response.BodyContent, p.remaining[:bytesToRead]...)
			p.remaining = p.remaining[bytesToRead:]
			p.currentByteIdx += bytesToRead
			p.remainingBodyBytes -= int64(bytesToRead)

			if p.remainingBodyBytes == 0 {
				p.chunkState = chunkDataCRLF
			}

		case chunkDataCRLF:
			if len(p.remaining) < 2 {
				return nil
			}
			if !bytes.Equal(p.remaining[:2], []byte("\r\n")) {
				return parseErr("response", p.currentByteIdx, "invalid chunk: missing CRLF after data")
			}
			p.remaining = p.remaining[2:]
			p.currentByteIdx += 2
			p.chunkState = chunkSizeLine

		case chunkTrailer:
			line, found := p.getLine()
			if !found {
				return nil
			}
			if line == "" {
				p.finish()
				return nil
			}
		}
	}
}

// getLine extracts a CRLF-terminated line from the buffer
func (p *HTTPResponseParser) getLine() (string, bool) {
	crlfIdx := bytes.Index(p.remaining, []byte("\r\n"))
	if crlfIdx == -1 {
		return "", false
	}

	line := string(p.remaining[:crlfIdx])
	p.remaining = p.remaining[crlfIdx+2:]
	p.currentByteIdx += crlfIdx + 2
	return line, true
}

// ParseResponse parses a complete HTTP response transcript
func ParseResponse(data []byte) (*ResponseSpans, error) {
	parser := NewHTTPResponseParser()

	if err := parser.OnChunk(data); err != nil {
		return nil, err
	}
	if err := parser.StreamEnded(); err != nil {
		return nil, err
	}

	logger.Debug("Response parsed",
		zap.String("component", "Parser"),
		zap.Int("status_code", parser.Response.StatusCode),
		zap.Int("headers", len(parser.Response.Headers)),
		zap.Int("body_bytes", len(parser.Response.BodyContent)),
		zap.Int("chunks", len(parser.Response.Chunks)))

	return parser.Response, nil
}
