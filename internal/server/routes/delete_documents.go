package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func DeleteDocumentHandler(c echo.Context) error {
	type deleteDocumentParams struct {
		Name  string `param:"name" validate:"required"`
		DocID string `param:"doc_id" validate:"required"`
	}

	data := new(deleteDocumentParams)
	if err := bind(c, data); err != nil {
		return err
	}

	if err := appOf(c).Services.Documents.Delete(c.Request().Context(), data.Name, data.DocID); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Document deleted"})
}
