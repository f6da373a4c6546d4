package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
	"github.com/romashorodok/conferencing-platform/pkg/variables"
	"go.uber.org/fx"
)

const RequestIDHeader = "X-Request-Id"

type httpServer_Params struct {
	fx.In
	Lifecycle fx.Lifecycle

	Controllers []protocol.HttpResolvable `group:"http.controller"`
	Middlewares []protocol.HttpMiddleware `group:"http.middleware"`
	Logger      *slog.Logger
}

func httpErrorHandler(e *echo.Echo, logger *slog.Logger) func(err error, c echo.Context) {
	return func(err error, c echo.Context) {
		logger.Error(err.Error(),
			slog.String("method", c.Request().Method),
			slog.String("path", c.Request().URL.Path),
			slog.String("request_id", c.Response().Header().Get(RequestIDHeader)),
		)
		e.DefaultHTTPErrorHandler(err, c)
	}
}

// requestID tags every request so admin calls can be correlated with server logs.
func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(RequestIDHeader, id)
		return next(c)
	}
}

// NewRouter builds the echo router with every controller resolved. Tests use it
// with httptest servers.
func NewRouter(logger *slog.Logger, middlewares []protocol.HttpMiddleware, controllers []protocol.HttpResolvable) (*echo.Echo, error) {
	router := echo.New()
	router.HideBanner = true
	router.HTTPErrorHandler = httpErrorHandler(router, logger)
	router.Use(requestID)

	for _, middleware := range middlewares {
		router.Use(middleware.Middleware())
	}

	for _, controller := range controllers {
		if err := controller.Resolve(router); err != nil {
			return nil, err
		}
	}
	return router, nil
}

func httpServer(params httpServer_Params) error {
	router, err := NewRouter(params.Logger, params.Middlewares, params.Controllers)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%s", variables.Env(variables.HTTP_PORT_NAME, variables.HTTP_PORT_DEFAULT))

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := router.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					params.Logger.Error("http server stopped", slog.String("err", err.Error()))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return router.Shutdown(ctx)
		},
	})
	return nil
}

var HttpModule = fx.Module("http", fx.Invoke(httpServer))
