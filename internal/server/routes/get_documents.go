package routes

import (
	"net/http"
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"

	"github.com/labstack/echo/v4"
)

// documentResponse is a document without its embedding.
type documentResponse struct {
	DocID     string         `json:"doc_id"`
	IndexName string         `json:"index_name"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func toDocumentResponse(d common.Document) documentResponse {
	meta := d.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return documentResponse{
		DocID:     d.DocID,
		IndexName: d.IndexName,
		Content:   d.Content,
		Metadata:  meta,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// GetDocumentsHandler lists the documents of an index, newest first.
func GetDocumentsHandler(c echo.Context) error {
	type getDocumentsParams struct {
		Name  string `param:"name" validate:"required"`
		Limit int    `query:"limit" validate:"gte=0"`
	}

	data := new(getDocumentsParams)
	if err := bind(c, data); err != nil {
		return err
	}

	docs, err := appOf(c).Services.Documents.List(c.Request().Context(), data.Name, data.Limit)
	if err != nil {
		return fail(c, err)
	}
	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	return c.JSON(http.StatusOK, out)
}

func GetDocumentHandler(c echo.Context) error {
	type getDocumentParams struct {
		Name  string `param:"name" validate:"required"`
		DocID string `param:"doc_id" validate:"required"`
	}

	data := new(getDocumentParams)
	if err := bind(c, data); err != nil {
		return err
	}

	doc, err := appOf(c).Services.Documents.Get(c.Request().Context(), data.Name, data.DocID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toDocumentResponse(doc))
}
