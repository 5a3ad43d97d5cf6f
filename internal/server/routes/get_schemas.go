package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GetSchemaPresetsHandler lists the built-in schemas keyed by name.
func GetSchemaPresetsHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, appOf(c).Services.Schemas.Presets())
}
