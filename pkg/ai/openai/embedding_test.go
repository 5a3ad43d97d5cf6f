package openai

import "testing"

func TestNormalizeEmbeddingInputs(t *testing.T) {
	idx, in, out := normalizeEmbeddingInputs([][]byte{[]byte("a"), []byte("  "), nil, []byte("b")}, 4)
	if len(in) != 2 || in[0] != "a" || in[1] != "b" {
		t.Fatalf("strings = %v", in)
	}
	if len(idx) != 2 || idx[0] != 0 || idx[1] != 3 {
		t.Fatalf("index map = %v", idx)
	}
	if len(out[1]) != 4 || len(out[2]) != 4 || out[0] != nil {
		t.Fatalf("blank inputs should be zero vectors: %v", out)
	}
}

func TestSupportsDimensions(t *testing.T) {
	tests := map[string]bool{
		"text-embedding-3-small": true,
		"text-embedding-3-large": true,
		"text-embedding-ada-002": false,
		"nomic-embed-text":       false,
	}
	for model, want := range tests {
		if got := supportsDimensions(model); got != want {
			t.Fatalf("supportsDimensions(%q) = %v, want %v", model, got, want)
		}
	}
}
