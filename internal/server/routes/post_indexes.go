package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kiwi/rag/internal/service"

	"github.com/labstack/echo/v4"
)

// CreateIndexHandler answers 409 when the name is taken.
func CreateIndexHandler(c echo.Context) error {
	data := new(service.IndexInput)
	if err := bind(c, data); err != nil {
		return err
	}

	idx, err := appOf(c).Services.Indexes.Create(c.Request().Context(), *data)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, idx)
}
