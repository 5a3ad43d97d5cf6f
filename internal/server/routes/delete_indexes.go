package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// DeleteIndexHandler removes an index with all of its documents and graph.
func DeleteIndexHandler(c echo.Context) error {
	type deleteIndexParams struct {
		Name string `param:"name" validate:"required"`
	}

	data := new(deleteIndexParams)
	if err := bind(c, data); err != nil {
		return err
	}

	if err := appOf(c).Services.Indexes.Delete(c.Request().Context(), data.Name); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Index deleted"})
}
