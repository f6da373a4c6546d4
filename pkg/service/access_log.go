package service

import (
	"log/slog"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
)

type accessLog struct {
	logger *slog.Logger
}

var _ protocol.HttpMiddleware = (*accessLog)(nil)

func (a *accessLog) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			a.logger.Debug("http request",
				slog.String("method", c.Request().Method),
				slog.String("path", c.Request().URL.Path),
				slog.Int("status", c.Response().Status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", c.Response().Header().Get(RequestIDHeader)),
			)
			return err
		}
	}
}

func NewAccessLogMiddleware(logger *slog.Logger) *accessLog {
	return &accessLog{logger: logger}
}
