package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
)

// numCtx estimates the context window a prompt needs; Ollama defaults to
// 4096 tokens and silently truncates beyond it.
func numCtx(prompt string, opts ai.GenerateOptions) int {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return 0
	}
	tokens := 200 + len(enc.Encode(prompt, nil, nil))
	for _, sp := range opts.SystemPrompts {
		tokens += len(enc.Encode(sp, nil, nil))
	}
	tokens += opts.MaxTokens
	if tokens <= 4096 {
		return 0
	}
	return tokens
}

func (c *GraphOllamaClient) chat(ctx context.Context, op string, options ai.GenerateOptions, prompt string, format json.RawMessage) (string, error) {
	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Format:   format,
		Options:  map[string]any{"temperature": options.Temperature},
	}
	if options.MaxTokens > 0 {
		req.Options["num_predict"] = options.MaxTokens
	}
	if n := numCtx(prompt, options); n > 0 {
		req.Options["num_ctx"] = n
	}

	rCtx, cancel := context.WithTimeout(ctx, c.chatTimeout)
	defer cancel()
	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	var final api.ChatResponse
	if err := c.Client.Chat(rCtx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", classify(op, err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})
	return final.Message.Content, nil
}

// GenerateCompletion sends a single-turn prompt and returns assistant text.
func (c *GraphOllamaClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}, opts...)
	return c.chat(ctx, "ollama chat", options, prompt, nil)
}

// GenerateCompletionWithFormat enforces a JSON schema and unmarshals into out.
func (c *GraphOllamaClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	if out == nil {
		return errors.New("out must be a non-nil pointer")
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	formatBytes, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return err
	}

	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0.1,
	}, opts...)

	content, err := c.chat(ctx, "ollama structured chat", options, prompt, json.RawMessage(formatBytes))
	if err != nil {
		return err
	}
	if content == "" {
		return fmt.Errorf("empty response from model for %s (%s)", name, description)
	}
	return ai.UnmarshalFlexible(content, out)
}
