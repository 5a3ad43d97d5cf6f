package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kiwi/rag/internal/service"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/query"

	"github.com/labstack/echo/v4"
)

// SearchHandler answers a query from an index. Once the request is valid
// the response is always 200; retrieval failures only degrade the answer.
// ?trace=true adds the tiers that were attempted.
func SearchHandler(c echo.Context) error {
	type searchResponse struct {
		common.SearchResult
		Trace *query.QueryTraceSnapshot `json:"trace,omitempty"`
	}

	data := new(service.SearchInput)
	if err := bind(c, data); err != nil {
		return err
	}

	svc := appOf(c).Services.Search
	ctx := c.Request().Context()
	if c.QueryParam("trace") == "true" {
		res, trace, err := svc.SearchTraced(ctx, *data)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, searchResponse{SearchResult: res, Trace: &trace})
	}
	res, err := svc.Search(ctx, *data)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, searchResponse{SearchResult: res})
}
