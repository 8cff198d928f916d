package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// bearerAuth enforces the startup token on API routes. The health probe
// stays open; the WebSocket upgrade may carry the token as a query
// parameter since browsers cannot set headers on upgrade requests.
func (s *Server) bearerAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			token := s.cfg.AuthToken
			if token == "" {
				return next(c)
			}
			path := c.Request().URL.Path
			if path == "/api/health" || !strings.HasPrefix(path, "/api/") && !strings.HasPrefix(path, "/ws/") {
				return next(c)
			}

			presented := bearerToken(c.Request())
			if presented == "" && strings.HasPrefix(path, "/ws/") {
				presented = c.QueryParam("token")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing token")
			}
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return auth[len(prefix):]
	}
	return ""
}
