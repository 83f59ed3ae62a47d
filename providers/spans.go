package providers

import (
	"errors"
	"fmt"
	"strings"

	"zkrwa-prover/shared"
)

// Span is a half-open byte interval [Start, End) into one transcript
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label,omitempty"`
}

// Len returns the number of bytes covered by the span
func (s Span) Len() int {
	return s.End - s.Start
}

// Empty reports whether the span covers no bytes
func (s Span) Empty() bool {
	return s.End <= s.Start
}

// Bytes returns the slice of data covered by the span
func (s Span) Bytes(data []byte) []byte {
	return data[s.Start:s.End]
}

// Shift moves the span by offset bytes
func (s Span) Shift(offset int) Span {
	return Span{Start: s.Start + offset, End: s.End + offset, Label: s.Label}
}

// HeaderSpan locates one header line of an HTTP message
type HeaderSpan struct {
	Name  string // lower-cased header name
	Line  Span   // whole line without CRLF
	Key   Span   // header name as written
	Value Span   // value with surrounding whitespace trimmed
	Text  string // value text
}

// Lookup failures. Both mean a disclosure plan cannot be satisfied.
var (
	ErrFieldNotFound  = errors.New("field not found")
	ErrHeaderNotFound = errors.New("header not found")
)

// ParseError reports malformed HTTP or JSON input
type ParseError struct {
	Target string // "request", "response", "json"
	Offset int    // absolute byte offset, -1 when unknown
	Reason string
	Cause  error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s", e.Target)
	if e.Offset >= 0 {
		msg = fmt.Sprintf("%s at byte %d", msg, e.Offset)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, shared.ErrParse) match parser failures
func (e *ParseError) Is(target error) bool {
	var se *shared.SessionError
	if errors.As(target, &se) {
		return se.Kind == shared.KindParse
	}
	return false
}

func parseErr(target string, offset int, format string, args ...interface{}) *ParseError {
	return &ParseError{Target: target, Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

// headersWithName returns all headers matching name case-insensitively, in order
func headersWithName(headers []HeaderSpan, name string) []HeaderSpan {
	lower := strings.ToLower(name)
	var out []HeaderSpan
	for _, h := range headers {
		if h.Name == lower {
			out = append(out, h)
		}
	}
	return out
}

// parseHeaderLine splits "Name: value" starting at absolute offset lineStart
func parseHeaderLine(target string, line string, lineStart int) (HeaderSpan, error) {
	colonIdx := strings.IndexByte(line, ':')
	if colonIdx <= 0 {
		return HeaderSpan{}, parseErr(target, lineStart, "header line missing colon separator")
	}
	key := line[:colonIdx]
	if strings.TrimSpace(key) != key {
		return HeaderSpan{}, parseErr(target, lineStart, "whitespace in header name %q", key)
	}

	valueStart := colonIdx + 1
	for valueStart < len(line) && (line[valueStart] == ' ' || line[valueStart] == '\t') {
		valueStart++
	}
	valueEnd := len(line)
	for valueEnd > valueStart && (line[valueEnd-1] == ' ' || line[valueEnd-1] == '\t') {
		valueEnd--
	}

	name := strings.ToLower(key)
	return HeaderSpan{
		Name:  name,
		Line:  Span{Start: lineStart, End: lineStart + len(line), Label: "header:" + name},
		Key:   Span{Start: lineStart, End: lineStart + colonIdx, Label: "header-name:" + name},
		Value: Span{Start: lineStart + valueStart, End: lineStart + valueEnd, Label: "header-value:" + name},
		Text:  line[valueStart:valueEnd],
	}, nil
}
