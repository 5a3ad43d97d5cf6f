package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kiwi/rag/internal/queue"

	"github.com/labstack/echo/v4"
)

// IngestHandler queues a document for storage and graph ingestion. The
// text is given inline or as an object key in the configured bucket.
func IngestHandler(c echo.Context) error {
	type ingestBody struct {
		Name                    string         `param:"name" json:"-" validate:"required"`
		DocID                   string         `json:"doc_id"`
		Content                 string         `json:"content"`
		S3Key                   string         `json:"s3_key"`
		SchemaKey               string         `json:"schema_key"`
		PerformEntityResolution *bool          `json:"perform_entity_resolution"`
		Metadata                map[string]any `json:"metadata"`
	}

	data := new(ingestBody)
	if err := bind(c, data); err != nil {
		return err
	}

	a := appOf(c)
	if a.Jobs == nil {
		return c.JSON(http.StatusServiceUnavailable, messageResponse{Message: "Job queue is not configured"})
	}
	ctx := c.Request().Context()
	if _, err := a.Services.Indexes.Get(ctx, data.Name); err != nil {
		return fail(c, err)
	}

	err := queue.EnqueueIngest(ctx, a.Jobs, queue.IngestJob{
		IndexName:               data.Name,
		DocID:                   data.DocID,
		Content:                 data.Content,
		S3Key:                   data.S3Key,
		SchemaKey:               data.SchemaKey,
		PerformEntityResolution: data.PerformEntityResolution,
		Metadata:                data.Metadata,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, messageResponse{Message: "Ingestion queued"})
}
