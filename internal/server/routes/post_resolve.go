package routes

import (
	"net/http"
	"strings"

	"github.com/OFFIS-RIT/kiwi/rag/internal/queue"
	"github.com/OFFIS-RIT/kiwi/rag/internal/service"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/resolver"

	"github.com/labstack/echo/v4"
)

// ResolveHandler merges duplicate entities of an index. With async set the
// resolution is queued and 202 is returned.
func ResolveHandler(c echo.Context) error {
	type resolveBody struct {
		Name     string               `param:"name" json:"-" validate:"required"`
		Strategy string               `json:"strategy" validate:"required"`
		Filter   service.ResolveScope `json:"filter"`
		Wait     bool                 `json:"wait"`
		Async    bool                 `json:"async"`
	}

	data := new(resolveBody)
	if err := bind(c, data); err != nil {
		return err
	}

	a := appOf(c)
	ctx := c.Request().Context()
	if data.Async {
		if a.Jobs == nil {
			return c.JSON(http.StatusServiceUnavailable, messageResponse{Message: "Job queue is not configured"})
		}
		if _, err := resolver.NewStrategy(strings.ToLower(strings.TrimSpace(data.Strategy)), resolver.Options{}); err != nil {
			return fail(c, err)
		}
		if _, err := a.Services.Indexes.Get(ctx, data.Name); err != nil {
			return fail(c, err)
		}
		err := queue.EnqueueResolve(ctx, a.Jobs, queue.ResolveJob{
			IndexName: data.Name,
			Strategy:  data.Strategy,
			Filter:    data.Filter,
		})
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusAccepted, messageResponse{Message: "Resolution queued"})
	}

	report, err := a.Services.Resolve.Resolve(ctx, data.Name, service.ResolveInput{
		Strategy: data.Strategy,
		Filter:   data.Filter,
		Wait:     data.Wait,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}
