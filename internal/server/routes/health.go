package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandler reports whether the store answers.
func HealthHandler(c echo.Context) error {
	type healthResponse struct {
		Status  string `json:"status"`
		Store   string `json:"store"`
		Indexes int    `json:"indexes"`
	}

	a := appOf(c)
	indexes, err := a.Store.ListIndexes(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Store: a.Config.StoreBackend})
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Store: a.Config.StoreBackend, Indexes: len(indexes)})
}
