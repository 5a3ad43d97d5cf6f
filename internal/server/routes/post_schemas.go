package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kiwi/rag/internal/service"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/schema"

	"github.com/labstack/echo/v4"
)

// ApplySchemaHandler defines a custom schema, selects a preset or extracts
// one from a sample text, depending on mode.
func ApplySchemaHandler(c echo.Context) error {
	type applySchemaBody struct {
		Name   string         `param:"name" json:"-" validate:"required"`
		Mode   string         `json:"mode" validate:"required,oneof=define preset auto"`
		Key    string         `json:"key"`
		Schema *schema.Schema `json:"schema"`
		Sample string         `json:"sample"`
	}

	data := new(applySchemaBody)
	if err := bind(c, data); err != nil {
		return err
	}

	res, err := appOf(c).Services.Schemas.Apply(c.Request().Context(), data.Name, service.SchemaInput{
		Mode:   data.Mode,
		Key:    data.Key,
		Schema: data.Schema,
		Sample: data.Sample,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
