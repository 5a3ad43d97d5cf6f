package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func GetIndexesHandler(c echo.Context) error {
	indexes, err := appOf(c).Services.Indexes.List(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, indexes)
}

func GetIndexHandler(c echo.Context) error {
	type getIndexParams struct {
		Name string `param:"name" validate:"required"`
	}

	data := new(getIndexParams)
	if err := bind(c, data); err != nil {
		return err
	}

	idx, err := appOf(c).Services.Indexes.Get(c.Request().Context(), data.Name)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, idx)
}
