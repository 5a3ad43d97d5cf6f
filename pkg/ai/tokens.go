package ai

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tiktoken encoding used for context budgets and
// ingestion statistics.
const DefaultEncoding = "cl100k_base"

// TokenCounter counts tokens with a tiktoken encoding. The encoding ranks
// are fetched on first use; when that fails the counter falls back to an
// estimate of four runes per token.
type TokenCounter struct {
	name string
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func NewTokenCounter(encoding string) *TokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TokenCounter{name: encoding}
}

func (c *TokenCounter) load() {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(c.name)
	})
}

// Err reports why the encoding could not be loaded.
func (c *TokenCounter) Err() error {
	c.load()
	return c.err
}

func (c *TokenCounter) Count(text string) int {
	c.load()
	if c.enc == nil {
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}
