package verifier

import (
	"bytes"
	"strings"

	gojson "github.com/coreos/go-json"

	"zkrwa-prover/notary"
	"zkrwa-prover/redaction"
)

// DisclosedKeys returns the JSON paths a policy reveals together with their
// key, which are the only fields a verifier can attribute to a name
func DisclosedKeys(policy *redaction.Policy) []string {
	var out []string
	for _, r := range policy.RulesFor(redaction.ScopeResponseJSON) {
		if r.Constraint == redaction.RevealKeyValue {
			out = append(out, r.Path)
		}
	}
	return out
}

// leafKey returns the last member name of a dotted path
func leafKey(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	if i := strings.IndexByte(path, '['); i >= 0 {
		path = path[:i]
	}
	return path
}

// extractFields recovers "key":value pairs from revealed segments, keyed by
// member name with every disclosed value in transcript order.
//
// Redaction hides the enclosing objects, so a member can only be attributed
// to its leaf key: a disclosed "USD" proves some member named USD, not that
// it sits under "accounts". Segments that are not a sequence of members are
// ignored.
func extractFields(segments []notary.RevealedSegment) map[string][]string {
	members := make(map[string][]string)
	for _, seg := range segments {
		data := bytes.TrimSpace(seg.Data)
		if len(data) == 0 || data[0] != '"' {
			continue
		}
		wrapped := make([]byte, 0, len(data)+2)
		wrapped = append(wrapped, '{')
		wrapped = append(wrapped, data...)
		wrapped = append(wrapped, '}')

		var obj map[string]gojson.RawMessage
		if err := gojson.Unmarshal(wrapped, &obj); err != nil {
			continue
		}
		for k, raw := range obj {
			members[k] = append(members[k], scalarText(raw))
		}
	}
	return members
}

func scalarText(raw gojson.RawMessage) string {
	var s string
	if err := gojson.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// matchFields maps every expected path to its disclosed value. Paths that
// were not disclosed are missing. Paths whose leaf key was disclosed more than
// once, or is shared with another expected path, are ambiguous because the
// value cannot be tied to one path.
func matchFields(expected []string, members map[string][]string) (fields map[string]string, missing, ambiguous []string) {
	leaves := make(map[string]int, len(expected))
	for _, path := range expected {
		leaves[leafKey(path)]++
	}

	fields = make(map[string]string, len(expected))
	for _, path := range expected {
		leaf := leafKey(path)
		values := members[leaf]
		switch {
		case len(values) == 0:
			missing = append(missing, path)
		case len(values) > 1 || leaves[leaf] > 1:
			ambiguous = append(ambiguous, path)
		default:
			fields[path] = values[0]
		}
	}
	return fields, missing, ambiguous
}
