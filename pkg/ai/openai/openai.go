package openai

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// GraphOpenAIClient implements ai.GraphAIClient against any OpenAI
// compatible endpoint. Embedding and chat may live on different hosts.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	embeddingModel  string
	chatModel       string
	extractionModel string
	dimensions      int
	temperature     float64
	maxTokens       int

	embeddingTimeout time.Duration
	chatTimeout      time.Duration
	embeddingLock    *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams configures a GraphOpenAIClient.
//
// ExtractionModel is used for structured output calls and falls back to
// ChatModel. Dimensions fixes the embedding length (truncate or pad).
type NewGraphOpenAIClientParams struct {
	EmbeddingModel  string
	ChatModel       string
	ExtractionModel string
	Dimensions      int
	Temperature     float64
	MaxTokens       int

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	EmbeddingTimeout  time.Duration
	ChatTimeout       time.Duration
	MaxParallelEmbeds int64
}

// NewGraphOpenAIClient builds the client. It fails with a validation error
// when a required key or model is missing.
//
// Example:
//
//	client, err := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		EmbeddingModel: "text-embedding-3-small",
//		ChatModel:      "gpt-4o-mini",
//		Dimensions:     1536,
//		EmbeddingKey:   os.Getenv("OPENAI_API_KEY"),
//		ChatKey:        os.Getenv("OPENAI_API_KEY"),
//	})
func NewGraphOpenAIClient(params NewGraphOpenAIClientParams) (*GraphOpenAIClient, error) {
	if params.ChatKey == "" || params.EmbeddingKey == "" {
		return nil, common.Validation("openai", "missing api key for chat or embedding endpoint")
	}
	if params.ChatModel == "" || params.EmbeddingModel == "" {
		return nil, common.Validation("openai", "missing chat or embedding model")
	}
	if params.ExtractionModel == "" {
		params.ExtractionModel = params.ChatModel
	}
	if params.EmbeddingTimeout <= 0 {
		params.EmbeddingTimeout = 30 * time.Second
	}
	if params.ChatTimeout <= 0 {
		params.ChatTimeout = 60 * time.Second
	}
	if params.MaxParallelEmbeds <= 0 {
		params.MaxParallelEmbeds = 4
	}

	return &GraphOpenAIClient{
		embeddingModel:  params.EmbeddingModel,
		chatModel:       params.ChatModel,
		extractionModel: params.ExtractionModel,
		dimensions:      params.Dimensions,
		temperature:     params.Temperature,
		maxTokens:       params.MaxTokens,

		embeddingTimeout: params.EmbeddingTimeout,
		chatTimeout:      params.ChatTimeout,
		embeddingLock:    semaphore.NewWeighted(params.MaxParallelEmbeds),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}, nil
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are owned by the callers
		option.WithMaxRetries(0),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

// ResetMetrics clears all accumulated token and timing metrics.
func (c *GraphOpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{}
	c.metricsLock.Unlock()
}

// GetMetrics returns the metrics accumulated since the last reset.
func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *GraphOpenAIClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics.Add(m)
}

// classify marks rate limits, server errors and transport failures as
// transient. Everything else is returned unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return common.Transient(op, err)
		}
		return err
	}
	if ai.IsNetworkError(err) || errors.Is(err, errTimeout) {
		return common.Transient(op, err)
	}
	return err
}
