package providers

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	gojson "github.com/coreos/go-json"
	jp "github.com/reclaimprotocol/jsonpathplus-go"
	"go.uber.org/zap"
)

// JSONKind is the type of a JSON value
type JSONKind string

const (
	KindString JSONKind = "string"
	KindNumber JSONKind = "number"
	KindBool   JSONKind = "bool"
	KindNull   JSONKind = "null"
	KindObject JSONKind = "object"
	KindArray  JSONKind = "array"
)

// IsScalar reports whether the value is a string, number, bool or null
func (k JSONKind) IsScalar() bool {
	return k != KindObject && k != KindArray
}

// FieldSpan locates one JSON member. Key includes both quotes and is empty
// for array elements. Value includes the quotes of string values.
type FieldSpan struct {
	Path  string
	Key   Span
	Value Span
	Kind  JSONKind
	Text  string
}

// KeyValue covers the member from the key's opening quote through the end of the value
func (f FieldSpan) KeyValue() Span {
	start := f.Key.Start
	if f.Key.Empty() {
		start = f.Value.Start
	}
	return Span{Start: start, End: f.Value.End, Label: "json:" + f.Path}
}

// JSONSpans is a JSON document with an offset tree. Offsets reported by
// Field are absolute positions in the enclosing transcript.
type JSONSpans struct {
	doc   []byte
	root  gojson.Node
	toAbs func(start, end int, label string) (Span, error)
}

// ParseJSON parses doc whose first byte sits at baseOffset in the transcript
func ParseJSON(doc []byte, baseOffset int) (*JSONSpans, error) {
	return parseJSON(doc, func(start, end int, label string) (Span, error) {
		return Span{Start: baseOffset + start, End: baseOffset + end, Label: label}, nil
	})
}

// ParseResponseJSON parses the body of resp. Chunked bodies are de-chunked
// and spans are mapped back through the chunk framing.
func ParseResponseJSON(resp *ResponseSpans) (*JSONSpans, error) {
	if len(resp.BodyContent) == 0 {
		return nil, parseErr("json", resp.Body.Start, "response has no body")
	}
	return parseJSON(resp.BodyContent, resp.ContentSpan)
}

func parseJSON(doc []byte, toAbs func(int, int, string) (Span, error)) (*JSONSpans, error) {
	var root gojson.Node
	if err := gojson.Unmarshal(doc, &root); err != nil {
		return nil, &ParseError{Target: "json", Offset: -1, Reason: "invalid JSON document", Cause: err}
	}
	return &JSONSpans{doc: doc, root: root, toAbs: toAbs}, nil
}

// Field resolves a dotted path such as "accounts.USD" (or a JSONPath
// expression starting with "$") to exactly one scalar member
func (j *JSONSpans) Field(path string) (FieldSpan, error) {
	fields, err := j.Fields(path)
	if err != nil {
		return FieldSpan{}, err
	}
	if len(fields) != 1 {
		return FieldSpan{}, fmt.Errorf("%w: %q matched %d values", ErrFieldNotFound, path, len(fields))
	}
	if !fields[0].Kind.IsScalar() {
		return FieldSpan{}, fmt.Errorf("%w: %q is an %s, not a scalar", ErrFieldNotFound, path, fields[0].Kind)
	}
	return fields[0], nil
}

// Fields resolves every member matched by path
func (j *JSONSpans) Fields(path string) ([]FieldSpan, error) {
	expr := toJSONPath(path)

	results, err := jp.Query(expr, string(j.doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrFieldNotFound, path, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrFieldNotFound, path)
	}

	fields := make([]FieldSpan, 0, len(results))
	for _, r := range results {
		segments := jsonPathToSegments(r.Path)
		n, isMember, err := findNodeBySegments(&j.root, segments)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to resolve %q: %v", ErrFieldNotFound, r.Path, err)
		}
		f, err := j.span(n, segments, isMember)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}

	logger.Debug("JSON path resolved",
		zap.String("component", "Parser"),
		zap.String("path", path),
		zap.Int("matches", len(fields)))

	return fields, nil
}

// span computes exact value and key offsets for n by scanning the document
func (j *JSONSpans) span(n *gojson.Node, segments []string, isMember bool) (FieldSpan, error) {
	label := strings.Join(segments, ".")

	valueStart, err := normalizeValueStart(j.doc, n.Start)
	if err != nil {
		return FieldSpan{}, &ParseError{Target: "json", Offset: n.Start, Reason: "locate " + label, Cause: err}
	}
	valueEnd, kind, err := scanValue(j.doc, valueStart)
	if err != nil {
		return FieldSpan{}, &ParseError{Target: "json", Offset: valueStart, Reason: "scan " + label, Cause: err}
	}

	keyStart, keyEnd := valueStart, valueStart
	if isMember {
		keyStart, keyEnd, err = scanKeyBefore(j.doc, valueStart)
		if err != nil {
			return FieldSpan{}, &ParseError{Target: "json", Offset: valueStart, Reason: "key of " + label, Cause: err}
		}
	}

	keySpan, err := j.toAbs(keyStart, keyEnd, "json-key:"+label)
	if err != nil {
		return FieldSpan{}, err
	}
	valueSpan, err := j.toAbs(valueStart, valueEnd, "json-value:"+label)
	if err != nil {
		return FieldSpan{}, err
	}
	// key and value must stay contiguous in the transcript for KeyValue to hold
	if isMember && valueSpan.Start-keySpan.Start != valueStart-keyStart {
		return FieldSpan{}, parseErr("json", keySpan.Start, "member %s spans multiple chunks", label)
	}

	return FieldSpan{
		Path:  label,
		Key:   keySpan,
		Value: valueSpan,
		Kind:  kind,
		Text:  string(j.doc[valueStart:valueEnd]),
	}, nil
}

var plainSegment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// toJSONPath converts "a.b.0" to "$.a.b[0]"; JSONPath input is returned as is
func toJSONPath(path string) string {
	if strings.HasPrefix(path, "$") {
		return path
	}
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range strings.Split(path, ".") {
		switch {
		case plainSegment.MatchString(seg):
			b.WriteString("." + seg)
		case isIndex(seg):
			b.WriteString("[" + seg + "]")
		default:
			b.WriteString("['" + strings.ReplaceAll(seg, "'", `\'`) + "']")
		}
	}
	return b.String()
}

func isIndex(seg string) bool {
	if seg == "" {
		return false
	}
	_, err := strconv.Atoi(seg)
	return err == nil
}

// jsonPathToSegments converts a JSONPath like $.a[1].b to segments ["a","1","b"].
func jsonPathToSegments(path string) []string {
	p := strings.TrimPrefix(path, "$")
	p = strings.TrimPrefix(p, ".")
	if p == "" {
		return nil
	}
	segments := make([]string, 0)
	cur := strings.Builder{}
	inBracket := false
	for _, r := range p {
		switch r {
		case '.':
			if !inBracket {
				if cur.Len() > 0 {
					segments = append(segments, cur.String())
					cur.Reset()
				}
				continue
			}
		case '[':
			if !inBracket {
				if cur.Len() > 0 {
					segments = append(segments, cur.String())
					cur.Reset()
				}
				inBracket = true
				continue
			}
		case ']':
			if inBracket {
				seg := strings.Trim(cur.String(), "'\"")
				cur.Reset()
				inBracket = false
				segments = append(segments, seg)
				continue
			}
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		segments = append(segments, cur.String())
	}
	return segments
}

// findNodeBySegments walks the node tree. isMember is true when the final
// segment is an object key.
func findNodeBySegments(node *gojson.Node, segments []string) (*gojson.Node, bool, error) {
	cur := node
	isMember := false
	for i, seg := range segments {
		switch v := cur.Value.(type) {
		case map[string]gojson.Node:
			next, ok := v[seg]
			if !ok {
				return nil, false, fmt.Errorf("object key %q not found at segment %d", seg, i)
			}
			cur = &next
			isMember = true
		case []gojson.Node:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, false, fmt.Errorf("invalid array index %q at segment %d", seg, i)
			}
			if idx < 0 || idx >= len(v) {
				return nil, false, fmt.Errorf("array index %d out of bounds at segment %d", idx, i)
			}
			cur = &v[idx]
			isMember = false
		default:
			return nil, false, fmt.Errorf("cannot traverse into %T at segment %d", v, i)
		}
	}
	return cur, isMember, nil
}

var errBadValue = errors.New("malformed JSON value")

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isValueStart(c byte) bool {
	return c == '"' || c == '{' || c == '[' || c == '-' || c == 't' || c == 'f' || c == 'n' || (c >= '0' && c <= '9')
}

// normalizeValueStart moves a node offset onto the first byte of its value
func normalizeValueStart(doc []byte, pos int) (int, error) {
	if pos < 0 || pos > len(doc) {
		return 0, fmt.Errorf("offset %d outside document", pos)
	}
	for pos < len(doc) && (isSpace(doc[pos]) || doc[pos] == ':') {
		pos++
	}
	if pos < len(doc) && doc[pos] == '"' {
		// a string followed by a colon is the member key, not the value
		end, err := scanString(doc, pos)
		if err != nil {
			return 0, err
		}
		next := end
		for next < len(doc) && isSpace(doc[next]) {
			next++
		}
		if next < len(doc) && doc[next] == ':' {
			return normalizeValueStart(doc, next+1)
		}
		return pos, nil
	}
	if pos < len(doc) && isValueStart(doc[pos]) {
		return pos, nil
	}
	// string nodes may be reported past their opening quote
	if pos > 0 && doc[pos-1] == '"' {
		return pos - 1, nil
	}
	return 0, errBadValue
}

// scanValue returns the exclusive end of the value starting at pos
func scanValue(doc []byte, pos int) (int, JSONKind, error) {
	switch c := doc[pos]; {
	case c == '"':
		end, err := scanString(doc, pos)
		return end, KindString, err
	case c == '{' || c == '[':
		end, err := scanComposite(doc, pos)
		if c == '{' {
			return end, KindObject, err
		}
		return end, KindArray, err
	default:
		end := pos
		for end < len(doc) && !isSpace(doc[end]) && doc[end] != ',' && doc[end] != '}' && doc[end] != ']' {
			end++
		}
		switch lit := string(doc[pos:end]); lit {
		case "true", "false":
			return end, KindBool, nil
		case "null":
			return end, KindNull, nil
		default:
			if _, err := strconv.ParseFloat(lit, 64); err != nil {
				return 0, "", errBadValue
			}
			return end, KindNumber, nil
		}
	}
}

// scanString returns the offset just past the closing quote of the string at pos
func scanString(doc []byte, pos int) (int, error) {
	for i := pos + 1; i < len(doc); i++ {
		switch doc[i] {
		case '\\':
			i++
		case '"':
			return i + 1, nil
		}
	}
	return 0, errBadValue
}

func scanComposite(doc []byte, pos int) (int, error) {
	depth := 0
	for i := pos; i < len(doc); i++ {
		switch doc[i] {
		case '"':
			end, err := scanString(doc, i)
			if err != nil {
				return 0, err
			}
			i = end - 1
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}
	return 0, errBadValue
}

// scanKeyBefore walks back from a member value over the colon to its quoted key
func scanKeyBefore(doc []byte, valueStart int) (int, int, error) {
	i := valueStart - 1
	for i >= 0 && isSpace(doc[i]) {
		i--
	}
	if i < 0 || doc[i] != ':' {
		return 0, 0, errors.New("missing colon before member value")
	}
	i--
	for i >= 0 && isSpace(doc[i]) {
		i--
	}
	if i < 0 || doc[i] != '"' {
		return 0, 0, errors.New("missing quoted key before colon")
	}
	keyEnd := i + 1
	for i--; i >= 0; i-- {
		if doc[i] == '"' && !escaped(doc, i) {
			return i, keyEnd, nil
		}
	}
	return 0, 0, errors.New("unterminated key")
}

// escaped reports whether doc[i] is preceded by an odd number of backslashes
func escaped(doc []byte, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && doc[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}
