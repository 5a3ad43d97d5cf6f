package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
)

// EmbeddingBatchSize bounds the inputs of one provider embedding request.
const EmbeddingBatchSize = 64

func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// GenerateEmbeddings embeds inputs in batches of EmbeddingBatchSize,
// preserving order.
func GenerateEmbeddings(
	ctx context.Context,
	client ai.GraphAIClient,
	inputs [][]byte,
) ([][]float32, error) {
	if client == nil {
		return nil, fmt.Errorf("ai client is nil")
	}
	out := make([][]float32, 0, len(inputs))
	err := ChunkRange(len(inputs), EmbeddingBatchSize, func(start, end int) error {
		res, err := client.GenerateEmbeddings(ctx, inputs[start:end])
		if err != nil {
			return err
		}
		if len(res) != end-start {
			return fmt.Errorf("embedding batch size mismatch: got %d want %d", len(res), end-start)
		}
		out = append(out, res...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CandidateCount is the number of nearest neighbours fetched before keyword
// filtering and truncation to topK.
func CandidateCount(topK int) int {
	return max(3, 2*topK)
}

// MatchesKeywords reports whether content contains any keyword, ignoring
// case. No keywords matches everything.
func MatchesKeywords(content string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(content)
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// KeywordCoverage is the fraction of non-empty keywords contained in content.
func KeywordCoverage(content string, keywords []string) float64 {
	lower := strings.ToLower(content)
	total, hits := 0, 0
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		total++
		if strings.Contains(lower, strings.ToLower(k)) {
			hits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// CosineSimilarity returns 0 for mismatched or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// RankDocuments applies the keyword filter to similarity candidates, orders
// them by descending score (doc id breaks ties) and truncates to topK.
func RankDocuments(candidates []common.ScoredDocument, keywords []string, topK int) []common.ScoredDocument {
	out := make([]common.ScoredDocument, 0, len(candidates))
	for _, c := range candidates {
		if MatchesKeywords(c.Content, keywords) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocID < out[j].DocID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// TopChunks orders chunk hits by descending score and truncates to k.
func TopChunks(hits []common.ScoredChunk, k int) []common.ScoredChunk {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// CheckDimension rejects embeddings whose length differs from dim. A
// non-positive dim accepts any length.
func CheckDimension(op string, embedding []float32, dim int) error {
	if dim <= 0 || embedding == nil {
		return nil
	}
	if len(embedding) != dim {
		return common.Validation(op, "embedding has %d dimensions, index expects %d", len(embedding), dim)
	}
	return nil
}

// CloneMetadata returns a shallow copy that is never nil.
func CloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
