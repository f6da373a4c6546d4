package protocol

import (
	echo "github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

const (
	httpControllerTag = `group:"http.controller"`
	httpMiddlewareTag = `group:"http.middleware"`
)

type HttpRouter = *echo.Echo

// Help resolve http handler. It's needed for providing router into handler
type HttpResolvable interface {
	Resolve(HttpRouter) error
}

// Router-wide middleware. Applied before any controller resolves its routes
type HttpMiddleware interface {
	Middleware() echo.MiddlewareFunc
}

func AsHttpController(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(HttpResolvable)),
		fx.ResultTags(httpControllerTag),
	)
}

func AsHttpMiddleware(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(HttpMiddleware)),
		fx.ResultTags(httpMiddlewareTag),
	)
}
