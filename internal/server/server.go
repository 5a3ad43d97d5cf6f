package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/internal/app"
	"github.com/OFFIS-RIT/kiwi/rag/internal/config"
	"github.com/OFFIS-RIT/kiwi/rag/internal/queue"
	mid "github.com/OFFIS-RIT/kiwi/rag/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/rag/internal/util"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store/pgx"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the echo instance serving a. jobs may be nil, in which case
// the queueing endpoints answer 503.
func New(a *app.App, jobs queue.Publisher) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(a, jobs))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: a.Config.CORSOrigins}))
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(a.Config.BodyLimit))

	RegisterRoutes(e)
	return e
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	if cfg.StoreBackend == config.BackendPgx && util.GetEnvBool("AUTO_MIGRATE", true) {
		if err := pgx.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialise application", "err", err)
	}
	defer a.Close()

	var jobs queue.Publisher
	if util.GetEnv("RABBITMQ_URL") != "" || util.GetEnv("RABBITMQ_HOST") != "" {
		que, err := queue.Init(queue.URLFromEnv())
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", "err", err)
		}
		defer que.Close()
		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, queue.Queues); err != nil {
			logger.Fatal("Failed to declare queues", "err", err)
		}
		jobs = queue.ChannelPublisher{Ch: ch}
	} else {
		logger.Warn("RabbitMQ not configured, ingest queueing disabled")
	}

	e := New(a, jobs)

	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
