package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kiwi/rag/internal/service"

	"github.com/labstack/echo/v4"
)

// UpdateDocumentHandler applies the fields present in the body.
func UpdateDocumentHandler(c echo.Context) error {
	type updateDocumentBody struct {
		Name      string         `param:"name" json:"-" validate:"required"`
		DocID     string         `param:"doc_id" json:"-" validate:"required"`
		Content   *string        `json:"content"`
		Metadata  map[string]any `json:"metadata"`
		Embedding []float32      `json:"embedding"`
	}

	data := new(updateDocumentBody)
	if err := bind(c, data); err != nil {
		return err
	}

	doc, err := appOf(c).Services.Documents.Update(c.Request().Context(), data.Name, data.DocID, service.DocumentUpdate{
		Content:   data.Content,
		Metadata:  data.Metadata,
		Embedding: data.Embedding,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toDocumentResponse(doc))
}
