package graph

import (
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
)

// FixedSizeSplitter cuts text into windows of Size runes where consecutive
// windows share Overlap runes. With Approximate set, window edges move to
// the nearest whitespace so words stay intact.
type FixedSizeSplitter struct {
	Size        int
	Overlap     int
	Approximate bool
}

func DefaultSplitter() FixedSizeSplitter {
	return FixedSizeSplitter{Size: 4000, Overlap: 200, Approximate: true}
}

func (s FixedSizeSplitter) validate() error {
	if s.Size <= 0 {
		return common.Validation("split", "chunk size must be positive, got %d", s.Size)
	}
	if s.Overlap < 0 || s.Overlap >= s.Size {
		return common.Validation("split", "chunk overlap must be in [0, %d), got %d", s.Size, s.Overlap)
	}
	return nil
}

// Split returns the chunks of text in order. Whitespace-only chunks are
// dropped.
func (s FixedSizeSplitter) Split(text string) ([]string, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	runes := []rune(text)
	n := len(runes)
	var out []string

	start := 0
	for start < n {
		if s.Approximate {
			for start < n && unicode.IsSpace(runes[start]) {
				start++
			}
			if start == n {
				break
			}
		}
		end := min(start+s.Size, n)
		if s.Approximate && end < n {
			// never shrink below the overlap, or the next start would not advance
			for j := end; j > start+s.Overlap; j-- {
				if unicode.IsSpace(runes[j]) {
					end = j
					break
				}
			}
		}

		if chunk := string(runes[start:end]); strings.TrimSpace(chunk) != "" {
			out = append(out, chunk)
		}
		if end >= n {
			break
		}

		next := end - s.Overlap
		if s.Approximate && s.Overlap > 0 && !unicode.IsSpace(runes[next-1]) {
			next = overlapStart(runes, start, next, end)
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return out, nil
}

// overlapStart moves next to a word start, preferring to grow the overlap
// over shrinking it.
func overlapStart(runes []rune, start, next, end int) int {
	for k := next - 1; k > start; k-- {
		if unicode.IsSpace(runes[k]) {
			return k + 1
		}
	}
	for k := next; k < end; k++ {
		if unicode.IsSpace(runes[k]) {
			return k + 1
		}
	}
	return next
}
