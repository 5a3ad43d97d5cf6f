package middleware

import (
	"github.com/OFFIS-RIT/kiwi/rag/internal/app"
	"github.com/OFFIS-RIT/kiwi/rag/internal/queue"

	"github.com/labstack/echo/v4"
)

// App is what every handler can reach through AppContext.
type App struct {
	*app.App
	// Jobs is nil when no broker is configured.
	Jobs queue.Publisher
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(a *app.App, jobs queue.Publisher) echo.MiddlewareFunc {
	shared := &App{App: a, Jobs: jobs}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{c, shared})
		}
	}
}
