package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi/rag/internal/service"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
)

// IngestJob adds one document to an index and builds its graph. The text
// comes from Content or, when empty, from the object S3Key.
type IngestJob struct {
	IndexName               string         `json:"index_name"`
	DocID                   string         `json:"doc_id,omitempty"`
	Content                 string         `json:"content,omitempty"`
	S3Key                   string         `json:"s3_key,omitempty"`
	SchemaKey               string         `json:"schema_key,omitempty"`
	PerformEntityResolution *bool          `json:"perform_entity_resolution,omitempty"`
	Metadata                map[string]any `json:"metadata,omitempty"`
}

func (j IngestJob) validate() error {
	if strings.TrimSpace(j.IndexName) == "" {
		return common.Validation("ingest_job", "index_name is required")
	}
	if strings.TrimSpace(j.Content) == "" && strings.TrimSpace(j.S3Key) == "" {
		return common.Validation("ingest_job", "content or s3_key is required")
	}
	return nil
}

// ResolveJob runs entity resolution on an index.
type ResolveJob struct {
	IndexName string               `json:"index_name"`
	Strategy  string               `json:"strategy"`
	Filter    service.ResolveScope `json:"filter"`
}

func (j ResolveJob) validate() error {
	if strings.TrimSpace(j.IndexName) == "" {
		return common.Validation("resolve_job", "index_name is required")
	}
	if strings.TrimSpace(j.Strategy) == "" {
		return common.Validation("resolve_job", "strategy is required")
	}
	return nil
}

// Publisher enqueues jobs.
type Publisher interface {
	Publish(ctx context.Context, queueName string, body []byte) error
}

// ChannelPublisher publishes on an amqp091 channel.
type ChannelPublisher struct {
	Ch Channel
}

func (p ChannelPublisher) Publish(ctx context.Context, queueName string, body []byte) error {
	return PublishFIFO(ctx, p.Ch, queueName, body, nil)
}

// EnqueueIngest validates and publishes job.
func EnqueueIngest(ctx context.Context, p Publisher, job IngestJob) error {
	if err := job.validate(); err != nil {
		return err
	}
	return enqueue(ctx, p, IngestQueue, job)
}

// EnqueueResolve validates and publishes job.
func EnqueueResolve(ctx context.Context, p Publisher, job ResolveJob) error {
	if err := job.validate(); err != nil {
		return err
	}
	return enqueue(ctx, p, ResolveQueue, job)
}

func enqueue(ctx context.Context, p Publisher, queueName string, job any) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := p.Publish(ctx, queueName, body); err != nil {
		return common.Transient("enqueue", fmt.Errorf("failed to publish to %s: %w", queueName, err))
	}
	return nil
}
