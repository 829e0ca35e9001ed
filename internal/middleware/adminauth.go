package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"redscout/pkg/jwtutil"
	"redscout/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// AdminAuth guards the admin endpoints. A caller authenticates either with
// the raw admin key (X-Admin-Key header or key query parameter, as the
// dashboard links do) or with a session JWT obtained from /admin/login.
func AdminAuth(adminKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			if adminKey == "" {
				log.Error("admin key not configured, refusing admin access")
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "admin access not configured"})
			}

			key := c.Request().Header.Get("X-Admin-Key")
			if key == "" {
				key = c.QueryParam("key")
			}
			if key != "" {
				if subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) == 1 {
					return next(c)
				}
				log.Warn("invalid admin key presented", zap.String("ip", c.RealIP()))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid admin key"})
			}

			authHeader := c.Request().Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				if _, err := jwtutil.ValidateToken(authHeader[7:]); err == nil {
					return next(c)
				}
				log.Warn("invalid admin token presented", zap.String("ip", c.RealIP()))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid admin token"})
			}

			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "admin credentials required"})
		}
	}
}
