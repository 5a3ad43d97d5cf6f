package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kiwi/rag/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/logger"

	"github.com/labstack/echo/v4"
)

type messageResponse struct {
	Message string `json:"message"`
}

// ErrorStatus maps an error kind to its HTTP status.
func ErrorStatus(err error) int {
	switch {
	case common.IsValidation(err):
		return http.StatusBadRequest
	case common.IsNotFound(err):
		return http.StatusNotFound
	case common.IsConflict(err):
		return http.StatusConflict
	case common.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func fail(c echo.Context, err error) error {
	status := ErrorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("[Server] Request failed", "method", c.Request().Method, "path", c.Path(), "err", err)
		return c.JSON(status, messageResponse{Message: "Internal server error"})
	}
	return c.JSON(status, messageResponse{Message: err.Error()})
}

// bind decodes params and body into data and validates it. The returned
// error is an *echo.HTTPError ready to be returned by the handler.
func bind(c echo.Context, data any) error {
	if err := c.Bind(data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	return nil
}

func appOf(c echo.Context) *middleware.App {
	return c.(*middleware.AppContext).App
}
