package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/syncly/internal/dfs"
	"github.com/jaywantadh/syncly/pkg/validator"
)

type Handler struct {
	core   *dfs.Core
	logger logrus.FieldLogger
}

// NewEcho creates the echo instance serving the file API under /api/v1.
func NewEcho(core *dfs.Core, logger logrus.FieldLogger) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogMethod:   true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("request failed")
			} else {
				entry.Debug("request")
			}
			return nil
		},
	}))

	customVal, err := validator.New()
	if err != nil {
		return nil, err
	}
	e.Validator = customVal

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	h := &Handler{core: core, logger: logger}
	SetupRoute(e, h)
	return e, nil
}

func SetupRoute(e *echo.Echo, h *Handler) {
	api := e.Group("/api/v1")

	api.GET("/health", h.Health)
	api.POST("/files", h.Upload)
	api.GET("/files/*", h.Download)
	api.GET("/manifests", h.ListManifests)
	api.GET("/manifests/*", h.GetManifest)
	api.DELETE("/manifests/*", h.DeleteManifest)
	api.GET("/transfers", h.ListTransfers)
	api.DELETE("/transfers/:id", h.DeleteTransfer)
	api.GET("/usage", h.Usage)
}

// Serve runs e on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
