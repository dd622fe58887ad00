package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

// Permissions checked by the API routes.
const (
	PermChatQuery      = "chat.query"
	PermGraphSearch    = "graph.search"
	PermGraphWrite     = "graph.write"
	PermGraphDelete    = "graph.delete"
	PermGraphReconcile = "graph.reconcile"
)

var allPermissions = []string{
	PermChatQuery,
	PermGraphSearch,
	PermGraphWrite,
	PermGraphDelete,
	PermGraphReconcile,
}

func HasPermission(user *AppUser, permission string) bool {
	if user == nil {
		return false
	}
	return slices.Contains(user.Permissions, permission)
}

func HasAnyPermission(user *AppUser, permissions ...string) bool {
	return slices.ContainsFunc(permissions, func(p string) bool {
		return HasPermission(user, p)
	})
}

func RequirePermission(permission string) echo.MiddlewareFunc {
	return RequireAnyPermission(permission)
}

// RequireAnyPermission rejects users that hold none of permissions.
func RequireAnyPermission(permissions ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.(*AppContext).User
			if user == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
			}

			if !HasAnyPermission(user, permissions...) {
				return c.JSON(http.StatusForbidden, map[string]string{"message": "Forbidden: missing permission"})
			}

			return next(c)
		}
	}
}
