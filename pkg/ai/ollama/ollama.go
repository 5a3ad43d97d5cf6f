package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// GraphOllamaClient implements ai.GraphAIClient against a local or hosted
// Ollama server.
type GraphOllamaClient struct {
	embeddingModel  string
	chatModel       string
	extractionModel string
	dimensions      int
	temperature     float64
	maxTokens       int

	embeddingTimeout time.Duration
	chatTimeout      time.Duration
	reqLock          *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	EmbeddingModel  string
	ChatModel       string
	ExtractionModel string
	Dimensions      int
	Temperature     float64
	MaxTokens       int

	BaseURL string
	ApiKey  string

	EmbeddingTimeout      time.Duration
	ChatTimeout           time.Duration
	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient connects to the Ollama server at BaseURL (or the
// default when empty).
func NewGraphOllamaClient(
	params NewGraphOllamaClientParams,
) (*GraphOllamaClient, error) {
	if params.ChatModel == "" || params.EmbeddingModel == "" {
		return nil, common.Validation("ollama", "missing chat or embedding model")
	}
	var (
		u   *url.URL
		err error
	)
	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, common.Validation("ollama", "invalid base url: %v", err)
		}
	} else {
		u = &url.URL{Scheme: "http", Host: "localhost:11434"}
	}

	transport := http.DefaultTransport
	if params.ApiKey != "" {
		transport = &headerTransport{
			headers: map[string]string{"Authorization": "Bearer " + params.ApiKey},
			rt:      http.DefaultTransport,
		}
	}
	if params.ExtractionModel == "" {
		params.ExtractionModel = params.ChatModel
	}
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 2
	}
	if params.EmbeddingTimeout <= 0 {
		params.EmbeddingTimeout = 30 * time.Second
	}
	if params.ChatTimeout <= 0 {
		params.ChatTimeout = 60 * time.Second
	}

	return &GraphOllamaClient{
		embeddingModel:  params.EmbeddingModel,
		chatModel:       params.ChatModel,
		extractionModel: params.ExtractionModel,
		dimensions:      params.Dimensions,
		temperature:     params.Temperature,
		maxTokens:       params.MaxTokens,

		embeddingTimeout: params.EmbeddingTimeout,
		chatTimeout:      params.ChatTimeout,
		reqLock:          semaphore.NewWeighted(params.MaxConcurrentRequests),

		Client: api.NewClient(u, &http.Client{Transport: transport}),
	}, nil
}

// ResetMetrics clears all accumulated token and timing metrics to zero.
func (c *GraphOllamaClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{}
	c.metricsLock.Unlock()
}

// GetMetrics returns the accumulated token usage and timing metrics since the last reset.
func (c *GraphOllamaClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *GraphOllamaClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics.Add(m)
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500 {
			return common.Transient(op, err)
		}
		return err
	}
	if ai.IsNetworkError(err) || errors.Is(err, context.DeadlineExceeded) {
		return common.Transient(op, err)
	}
	return err
}
