package middleware

import (
	"net/http"
	"slices"

	logging "github.com/ipfs/go-log/v2"
	"github.com/labstack/echo/v4"
)

var log = logging.Logger("middleware")

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// RequireRoles admits callers whose token role is one of roles. It must run
// after JWT.
func RequireRoles(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get("role").(string)
			if role == "" {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "role missing"})
			}
			if !slices.Contains(roles, role) {
				log.Infow("role denied", "user", c.Get("user_id"), "role", role, "path", c.Path())
				return c.JSON(http.StatusForbidden, echo.Map{"error": "access denied"})
			}
			return next(c)
		}
	}
}
