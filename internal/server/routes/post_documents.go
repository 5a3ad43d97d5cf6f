package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kiwi/rag/internal/service"

	"github.com/labstack/echo/v4"
)

// CreateDocumentHandler stores a document. Metadata flags build_kg,
// schema_key and perform_entity_resolution drive graph ingestion.
func CreateDocumentHandler(c echo.Context) error {
	type createDocumentBody struct {
		Name      string         `param:"name" json:"-" validate:"required"`
		DocID     string         `json:"doc_id"`
		Content   string         `json:"content" validate:"required"`
		Metadata  map[string]any `json:"metadata"`
		Embedding []float32      `json:"embedding"`
	}

	data := new(createDocumentBody)
	if err := bind(c, data); err != nil {
		return err
	}

	doc, err := appOf(c).Services.Documents.Create(c.Request().Context(), data.Name, service.DocumentInput{
		DocID:     data.DocID,
		Content:   data.Content,
		Metadata:  data.Metadata,
		Embedding: data.Embedding,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, toDocumentResponse(doc))
}
