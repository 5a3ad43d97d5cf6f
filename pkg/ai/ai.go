package ai

import (
	"context"
	"errors"
	"net"
)

// GenerateOptions holds configuration for generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	MaxTokens     int      // Upper bound of generated tokens, 0 = provider default
}

// ModelMetrics contains usage metrics accumulated by a client.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// Add accumulates m into the receiver and refreshes the throughput figure.
func (a *ModelMetrics) Add(m ModelMetrics) {
	a.InputTokens += m.InputTokens
	a.OutputTokens += m.OutputTokens
	a.TotalTokens += m.TotalTokens
	a.DurationMs += m.DurationMs
	if a.DurationMs > 0 {
		tps := (float64(a.TotalTokens) * 1000.0) / float64(a.DurationMs)
		a.TokenPerSecond = float32(int(tps*100)) / 100
	}
}

// GenerateOption is a functional option for configuring generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel overrides the model configured on the client.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts sets the system prompts prepended to the request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature sets the sampling temperature. Lower values make outputs
// more deterministic.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithMaxTokens caps the number of generated tokens.
func WithMaxTokens(n int) GenerateOption {
	return func(o *GenerateOptions) {
		o.MaxTokens = n
	}
}

// ApplyOptions resolves opts on top of defaults.
func ApplyOptions(defaults GenerateOptions, opts ...GenerateOption) GenerateOptions {
	for _, o := range opts {
		o(&defaults)
	}
	return defaults
}

// GraphAIClient is the contract of the embedding and generation providers
// used by ingestion, schema extraction and retrieval.
//
// Network level failures are returned wrapped as common.ErrTransient so
// callers can decide whether a retry makes sense.
type GraphAIClient interface {
	GenerateCompletion(
		ctx context.Context,
		prompt string,
		opts ...GenerateOption,
	) (string, error)
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error

	// GenerateEmbedding returns a vector of exactly the configured dimension.
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
	// GenerateEmbeddings embeds inputs in order, one vector per input.
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)

	ResetMetrics()
	GetMetrics() ModelMetrics
}

// IsNetworkError reports whether err came from the transport rather than
// from the provider rejecting the request.
func IsNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

// FitDimension truncates or zero-pads vec to dim. A non-positive dim keeps
// the vector as returned by the provider.
func FitDimension(vec []float32, dim int) []float32 {
	if dim <= 0 || len(vec) == dim {
		return vec
	}
	out := make([]float32, dim)
	copy(out, vec)
	return out
}
