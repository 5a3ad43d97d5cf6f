// Package aitest provides a deterministic in-memory ai.GraphAIClient for tests.
package aitest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"
)

// Client embeds text as a hashed bag of words so texts sharing words have a
// positive cosine similarity. Generation answers come from the hooks.
type Client struct {
	Dim int

	// Complete produces the answer of GenerateCompletion. Nil echoes the prompt.
	Complete func(prompt string, opts ai.GenerateOptions) (string, error)
	// Format fills out for GenerateCompletionWithFormat. Nil leaves out untouched.
	Format func(name, prompt string, out any) error
	// EmbedErr, when set, fails every embedding call.
	EmbedErr error

	mu          sync.Mutex
	Completions []string
	Formats     []string
	Embeddings  int
	metrics     ai.ModelMetrics
}

func New(dim int) *Client {
	return &Client{Dim: dim}
}

func (c *Client) GenerateCompletion(_ context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	c.mu.Lock()
	c.Completions = append(c.Completions, prompt)
	c.mu.Unlock()
	options := ai.ApplyOptions(ai.GenerateOptions{}, opts...)
	if c.Complete == nil {
		return prompt, nil
	}
	return c.Complete(prompt, options)
}

func (c *Client) GenerateCompletionWithFormat(_ context.Context, name, _ string, prompt string, out any, _ ...ai.GenerateOption) error {
	c.mu.Lock()
	c.Formats = append(c.Formats, prompt)
	c.mu.Unlock()
	if c.Format == nil {
		return nil
	}
	return c.Format(name, prompt, out)
}

func (c *Client) GenerateEmbedding(_ context.Context, input []byte) ([]float32, error) {
	if c.EmbedErr != nil {
		return nil, c.EmbedErr
	}
	c.mu.Lock()
	c.Embeddings++
	c.mu.Unlock()
	return Embed(string(input), c.Dim), nil
}

func (c *Client) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		vec, err := c.GenerateEmbedding(ctx, in)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Client) CompletionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Completions)
}

func (c *Client) ResetMetrics()               { c.metrics = ai.ModelMetrics{} }
func (c *Client) GetMetrics() ai.ModelMetrics { return c.metrics }

// Embed is the deterministic embedding used by Client.
func Embed(text string, dim int) []float32 {
	vec := make([]float32, dim)
	if dim == 0 {
		return vec
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[int(h.Sum32()%uint32(dim))]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}
