package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kiwi/rag/internal/service"

	"github.com/labstack/echo/v4"
)

// UpsertIndexHandler creates the index or updates its attributes.
func UpsertIndexHandler(c echo.Context) error {
	type upsertIndexBody struct {
		Name            string `param:"name" json:"-" validate:"required"`
		Description     string `json:"description"`
		Dimension       int    `json:"dimension" validate:"gte=0"`
		VectorIndexName string `json:"vector_index_name"`
	}

	data := new(upsertIndexBody)
	if err := bind(c, data); err != nil {
		return err
	}

	idx, err := appOf(c).Services.Indexes.Upsert(c.Request().Context(), service.IndexInput{
		Name:            data.Name,
		Description:     data.Description,
		Dimension:       data.Dimension,
		VectorIndexName: data.VectorIndexName,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, idx)
}
