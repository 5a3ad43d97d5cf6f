package graph

import (
	"reflect"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
)

func TestFixedSizeSplitter(t *testing.T) {
	tests := []struct {
		name     string
		splitter FixedSizeSplitter
		text     string
		want     []string
	}{
		{
			name:     "empty input",
			splitter: DefaultSplitter(),
			text:     "",
			want:     nil,
		},
		{
			name:     "whitespace only",
			splitter: FixedSizeSplitter{Size: 10, Approximate: true},
			text:     "   \n\t ",
			want:     nil,
		},
		{
			name:     "shorter than one chunk",
			splitter: DefaultSplitter(),
			text:     "Hello world.",
			want:     []string{"Hello world."},
		},
		{
			name:     "exact windows",
			splitter: FixedSizeSplitter{Size: 10},
			text:     "abcdefghijKLMNOPQRSTuv",
			want:     []string{"abcdefghij", "KLMNOPQRST", "uv"},
		},
		{
			name:     "exact windows with overlap",
			splitter: FixedSizeSplitter{Size: 4, Overlap: 2},
			text:     "abcdefgh",
			want:     []string{"abcd", "cdef", "efgh"},
		},
		{
			name:     "approximate keeps words",
			splitter: FixedSizeSplitter{Size: 12, Approximate: true},
			text:     "alpha beta gamma delta",
			want:     []string{"alpha beta", "gamma delta"},
		},
		{
			name:     "approximate overlap starts on a word",
			splitter: FixedSizeSplitter{Size: 10, Overlap: 4, Approximate: true},
			text:     "one two three four five six",
			want:     []string{"one two", "two three", "three four", "four five", "five six"},
		},
		{
			name:     "runes not bytes",
			splitter: FixedSizeSplitter{Size: 3},
			text:     "äöüßéè",
			want:     []string{"äöü", "ßéè"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.splitter.Split(tt.text)
			if err != nil {
				t.Fatalf("Split() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Split() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestFixedSizeSplitterCoversText(t *testing.T) {
	text := strings.Repeat("The analytical engine weaves algebraic patterns. ", 300)
	chunks, err := DefaultSplitter().Split(text)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := len([]rune(c)); n > 4000 {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
		if strings.HasPrefix(c, " ") || strings.HasPrefix(c, "he ") {
			t.Fatalf("chunk %d starts mid-word: %q", i, c[:10])
		}
	}
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(strings.TrimSpace(text), strings.TrimSpace(last)) {
		t.Fatalf("last chunk does not end the text")
	}
}

func TestFixedSizeSplitterValidation(t *testing.T) {
	for _, s := range []FixedSizeSplitter{
		{Size: 0},
		{Size: 10, Overlap: 10},
		{Size: 10, Overlap: -1},
	} {
		if _, err := s.Split("text"); !common.IsValidation(err) {
			t.Fatalf("%+v: expected validation error, got %v", s, err)
		}
	}
}
