package redaction

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Range is a half-open byte interval [Start, End)
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes in the range
func (r Range) Len() int {
	return r.End - r.Start
}

// RangeSet is a normalized set of byte ranges: sorted, disjoint, non-adjacent
// and non-empty. The zero value is the empty set.
type RangeSet struct {
	ranges []Range
}

// NewRangeSet builds a RangeSet from arbitrary, possibly overlapping ranges
func NewRangeSet(ranges ...Range) RangeSet {
	rs := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if r.End > r.Start {
			rs = append(rs, r)
		}
	}
	if len(rs) == 0 {
		return RangeSet{}
	}

	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Start == rs[j].Start {
			return rs[i].End < rs[j].End
		}
		return rs[i].Start < rs[j].Start
	})

	merged := rs[:1]
	for _, r := range rs[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			last.End = max(last.End, r.End)
			continue
		}
		merged = append(merged, r)
	}
	return RangeSet{ranges: merged}
}

// Ranges returns a copy of the normalized ranges
func (s RangeSet) Ranges() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Len returns the total number of bytes covered
func (s RangeSet) Len() int {
	n := 0
	for _, r := range s.ranges {
		n += r.Len()
	}
	return n
}

// IsEmpty reports whether the set covers no bytes
func (s RangeSet) IsEmpty() bool {
	return len(s.ranges) == 0
}

// End returns the exclusive upper bound of the set, 0 when empty
func (s RangeSet) End() int {
	if len(s.ranges) == 0 {
		return 0
	}
	return s.ranges[len(s.ranges)-1].End
}

// Contains reports whether pos is covered
func (s RangeSet) Contains(pos int) bool {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End > pos })
	return i < len(s.ranges) && s.ranges[i].Start <= pos
}

// Union returns the bytes covered by either set
func (s RangeSet) Union(o RangeSet) RangeSet {
	return NewRangeSet(append(s.Ranges(), o.ranges...)...)
}

// Complement returns [0, total) minus s
func (s RangeSet) Complement(total int) RangeSet {
	var out []Range
	cursor := 0
	for _, r := range s.ranges {
		if r.Start >= total {
			break
		}
		if r.Start > cursor {
			out = append(out, Range{Start: cursor, End: r.Start})
		}
		cursor = max(cursor, r.End)
	}
	if cursor < total {
		out = append(out, Range{Start: cursor, End: total})
	}
	return RangeSet{ranges: out}
}

// Equal reports whether both sets cover the same bytes
func (s RangeSet) Equal(o RangeSet) bool {
	if len(s.ranges) != len(o.ranges) {
		return false
	}
	for i := range s.ranges {
		if s.ranges[i] != o.ranges[i] {
			return false
		}
	}
	return true
}

// Segments returns the bytes of data covered by each range
func (s RangeSet) Segments(data []byte) ([][]byte, error) {
	if s.End() > len(data) {
		return nil, fmt.Errorf("range set ends at %d beyond %d bytes", s.End(), len(data))
	}
	out := make([][]byte, len(s.ranges))
	for i, r := range s.ranges {
		out[i] = data[r.Start:r.End]
	}
	return out, nil
}

// Render joins the covered bytes of data, marking hidden gaps with sep
func (s RangeSet) Render(data []byte, sep string) string {
	var b strings.Builder
	cursor := 0
	for _, r := range s.ranges {
		if r.Start > cursor {
			b.WriteString(sep)
		}
		end := min(r.End, len(data))
		if r.Start < end {
			b.Write(data[r.Start:end])
		}
		cursor = r.End
	}
	if cursor < len(data) {
		b.WriteString(sep)
	}
	return b.String()
}

func (s RangeSet) String() string {
	parts := make([]string, len(s.ranges))
	for i, r := range s.ranges {
		parts[i] = fmt.Sprintf("[%d,%d)", r.Start, r.End)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// MarshalJSON encodes the set as [[start,end],...]
func (s RangeSet) MarshalJSON() ([]byte, error) {
	pairs := make([][2]int, len(s.ranges))
	for i, r := range s.ranges {
		pairs[i] = [2]int{r.Start, r.End}
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON decodes [[start,end],...] and normalizes the result
func (s *RangeSet) UnmarshalJSON(data []byte) error {
	var pairs [][2]int
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	ranges := make([]Range, len(pairs))
	for i, p := range pairs {
		if p[0] < 0 || p[1] < p[0] {
			return fmt.Errorf("invalid range [%d,%d)", p[0], p[1])
		}
		ranges[i] = Range{Start: p[0], End: p[1]}
	}
	*s = NewRangeSet(ranges...)
	return nil
}
