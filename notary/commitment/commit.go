package commitment

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"zkrwa-prover/notary"
	"zkrwa-prover/redaction"
)

const (
	seedSize = 32
	saltSize = 16
)

// committer derives one salt per hidden range from a per-session seed
type committer struct {
	seed []byte
}

func newCommitter() (*committer, error) {
	seed := make([]byte, seedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate commitment seed: %v", err)
	}
	return &committer{seed: seed}, nil
}

func (c *committer) salt(direction string, r redaction.Range) ([]byte, error) {
	info := fmt.Sprintf("range:%s:%d-%d", direction, r.Start, r.End)
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.seed, nil, []byte(info)), salt); err != nil {
		return nil, fmt.Errorf("failed to derive salt: %v", err)
	}
	return salt, nil
}

// commit reveals the ranges of reveal and commits to every hidden range
func (c *committer) commit(direction string, data []byte, reveal redaction.RangeSet) ([]notary.RevealedSegment, []rangeCommitment, error) {
	if reveal.End() > len(data) {
		return nil, nil, fmt.Errorf("%s ranges end at %d beyond transcript length %d", direction, reveal.End(), len(data))
	}

	segments := make([]notary.RevealedSegment, 0, len(reveal.Ranges()))
	for _, r := range reveal.Ranges() {
		segments = append(segments, notary.RevealedSegment{
			Start: r.Start,
			End:   r.End,
			Data:  append([]byte(nil), data[r.Start:r.End]...),
		})
	}

	hidden := reveal.Complement(len(data)).Ranges()
	commitments := make([]rangeCommitment, 0, len(hidden))
	for _, r := range hidden {
		salt, err := c.salt(direction, r)
		if err != nil {
			return nil, nil, err
		}
		commitments = append(commitments, rangeCommitment{
			Start:  r.Start,
			End:    r.End,
			Digest: digest(salt, data[r.Start:r.End]),
		})
	}
	return segments, commitments, nil
}

func digest(salt, data []byte) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write(data)
	return h.Sum(nil)
}

// checkCoverage verifies that revealed segments and commitments tile
// [0, total) exactly, in ascending order, with well-formed data and digests
func checkCoverage(direction string, total int, segments []notary.RevealedSegment, commitments []rangeCommitment) error {
	type piece struct{ start, end int }
	pieces := make([]piece, 0, len(segments)+len(commitments))

	for _, s := range segments {
		if s.End <= s.Start || len(s.Data) != s.End-s.Start {
			return fmt.Errorf("%s segment [%d,%d) malformed", direction, s.Start, s.End)
		}
		pieces = append(pieces, piece{s.Start, s.End})
	}
	for _, c := range commitments {
		if c.End <= c.Start || len(c.Digest) != sha256.Size {
			return fmt.Errorf("%s commitment [%d,%d) malformed", direction, c.Start, c.End)
		}
		pieces = append(pieces, piece{c.Start, c.End})
	}

	for i := 1; i < len(segments); i++ {
		if segments[i].Start < segments[i-1].End {
			return fmt.Errorf("%s segments not ascending and disjoint", direction)
		}
	}
	for i := 1; i < len(commitments); i++ {
		if commitments[i].Start < commitments[i-1].End {
			return fmt.Errorf("%s commitments not ascending and disjoint", direction)
		}
	}

	covered := make([]bool, total)
	for _, p := range pieces {
		if p.start < 0 || p.end > total {
			return fmt.Errorf("%s range [%d,%d) outside transcript of %d bytes", direction, p.start, p.end, total)
		}
		for i := p.start; i < p.end; i++ {
			if covered[i] {
				return fmt.Errorf("%s byte %d both revealed and committed", direction, i)
			}
			covered[i] = true
		}
	}
	for i, ok := range covered {
		if !ok {
			return fmt.Errorf("%s byte %d neither revealed nor committed", direction, i)
		}
	}
	return nil
}
