package room

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
)

type adminWallMiddlewareHeaders struct {
	Authorization string `header:"authorization"`
}

var echoDefaultBinder = &echo.DefaultBinder{}

// AdminWallMiddleware guards admin routes with a shared Bearer token. An empty
// token leaves the routes open.
func AdminWallMiddleware(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if token == "" {
			return next
		}

		return func(c echo.Context) error {
			headers := new(adminWallMiddlewareHeaders)

			if err := echoDefaultBinder.BindHeaders(c, headers); err != nil {
				return c.JSON(http.StatusInternalServerError, &protocol.AdminResponse{
					Error: fmt.Sprintf("Unable bind headers to pass admin wall. Err: %s", err),
				})
			}

			insecureToken := strings.TrimPrefix(headers.Authorization, "Bearer ")

			if headers.Authorization == "" || headers.Authorization == insecureToken {
				return c.JSON(http.StatusPreconditionFailed, &protocol.AdminResponse{
					Error: "Missing authorization header",
				})
			}

			if subtle.ConstantTimeCompare([]byte(insecureToken), []byte(token)) != 1 {
				return c.JSON(http.StatusUnauthorized, &protocol.AdminResponse{
					Error: ErrUnauthorized.Error(),
				})
			}

			return next(c)
		}
	}
}
