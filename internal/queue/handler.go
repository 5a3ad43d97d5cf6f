package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi/rag/internal/service"
	"github.com/OFFIS-RIT/kiwi/rag/internal/storage"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/logger"
)

var log = logger.Component("Queue")

// ObjectSource fetches ingestion sources by key.
type ObjectSource interface {
	GetFile(ctx context.Context, key string) (storage.Object, error)
}

// Handler executes the jobs of every work queue.
type Handler struct {
	Services *service.Services
	// Source is nil when no object storage is configured; jobs naming an
	// s3_key then fail permanently.
	Source ObjectSource
}

// Process runs the job in body. Errors of kind validation, not found or
// conflict will not succeed on a retry; see Retryable.
func (h *Handler) Process(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case IngestQueue:
		var job IngestJob
		if err := decode(body, &job); err != nil {
			return err
		}
		return h.processIngest(ctx, job)
	case ResolveQueue:
		var job ResolveJob
		if err := decode(body, &job); err != nil {
			return err
		}
		return h.processResolve(ctx, job)
	}
	return common.Validation("process", "unknown queue %s", queueName)
}

func decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return common.Validation("decode_job", "malformed job: %v", err)
	}
	return nil
}

func (h *Handler) processIngest(ctx context.Context, job IngestJob) error {
	if err := job.validate(); err != nil {
		return err
	}

	meta := make(map[string]any, len(job.Metadata)+4)
	for k, v := range job.Metadata {
		meta[k] = v
	}
	text := job.Content
	if strings.TrimSpace(text) == "" {
		if h.Source == nil {
			return common.Validation("ingest_job", "s3_key given but no object storage is configured")
		}
		obj, err := h.Source.GetFile(ctx, job.S3Key)
		if err != nil {
			return err
		}
		text, err = storage.ExtractText(obj)
		if err != nil {
			return err
		}
		meta["s3_key"] = job.S3Key
	}

	meta[service.MetaBuildKG] = true
	if job.SchemaKey != "" {
		meta[service.MetaSchemaKey] = job.SchemaKey
	}
	if job.PerformEntityResolution != nil {
		meta[service.MetaResolve] = *job.PerformEntityResolution
	}

	doc, err := h.Services.Documents.Create(ctx, job.IndexName, service.DocumentInput{
		DocID:    job.DocID,
		Content:  text,
		Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("ingest into %s: %w", job.IndexName, err)
	}
	log.Info("Ingest job done", "index", job.IndexName, "doc_id", doc.DocID, "graph", doc.Metadata[service.MetaIngestDone] == true)
	return nil
}

func (h *Handler) processResolve(ctx context.Context, job ResolveJob) error {
	if err := job.validate(); err != nil {
		return err
	}
	report, err := h.Services.Resolve.Resolve(ctx, job.IndexName, service.ResolveInput{
		Strategy: job.Strategy,
		Filter:   job.Filter,
		Wait:     true,
	})
	if err != nil {
		return fmt.Errorf("resolve %s: %w", job.IndexName, err)
	}
	log.Info("Resolve job done", "index", job.IndexName, "strategy", report.Strategy, "merged", report.Merged)
	return nil
}

// Retryable reports whether a failed job may succeed when delivered again.
func Retryable(err error) bool {
	return !(common.IsValidation(err) || common.IsNotFound(err) || common.IsConflict(err))
}
