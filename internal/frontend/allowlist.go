package frontend

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ForbiddenBody is the plain-text body of a rejected request.
const ForbiddenBody = "Forbidden"

// AllowList admits requests whose remote address starts with one of
// prefixes. An empty list admits everyone. Forwarding headers are ignored.
// Rejected requests, socket upgrades included, get a plain-text 403.
func AllowList(prefixes []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if len(prefixes) == 0 {
			return next
		}
		return func(ctx echo.Context) error {
			ip := remoteIP(ctx.Request())
			for _, prefix := range prefixes {
				if strings.HasPrefix(ip, prefix) {
					return next(ctx)
				}
			}
			slog.Warn("request rejected by allow list", "remote_ip", ip, "path", ctx.Request().URL.Path)
			return ctx.String(http.StatusForbidden, ForbiddenBody)
		}
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
