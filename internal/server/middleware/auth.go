package middleware

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var errUnauthorized = errors.New("unauthorized")

// AuthMiddleware accepts either the master API key or a JWT verified against
// the configured JWKS and stores the resulting user on the AppContext.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ac := c.(*AppContext)

		token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok {
			return unauthorized(c, "Unauthorized")
		}

		if user := masterUser(ac.App, token); user != nil {
			ac.User = user
			return next(c)
		}

		user, err := userFromToken(ac.App.Keyfunc, token)
		if err != nil {
			msg := "Unauthorized"
			if !errors.Is(err, errUnauthorized) {
				msg = "Invalid user ID"
			}
			return unauthorized(c, msg)
		}
		ac.User = user
		return next(c)
	}
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"message": msg})
}

func bearerToken(header string) (string, bool) {
	token, found := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	return token, found && token != ""
}

// masterUser returns the configured service user when token is the master
// key and the master identity is fully configured.
func masterUser(app *App, token string) *AppUser {
	if app.MasterAPIKey == "" || app.MasterUserID == 0 || app.MasterUserRole == "" {
		return nil
	}
	if token != app.MasterAPIKey {
		return nil
	}
	return &AppUser{
		UserID:      app.MasterUserID,
		Role:        app.MasterUserRole,
		Permissions: allPermissions,
	}
}

func userFromToken(keyfunc jwt.Keyfunc, token string) (*AppUser, error) {
	if keyfunc == nil {
		return nil, errUnauthorized
	}
	parsed, err := jwt.Parse(token, keyfunc)
	if err != nil || !parsed.Valid {
		return nil, errUnauthorized
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errUnauthorized
	}

	id, err := userIDClaim(claims["id"])
	if err != nil {
		return nil, err
	}

	user := &AppUser{UserID: id, Role: "user"}
	if role, ok := claims["role"].(string); ok {
		user.Role = role
	}
	if perms, ok := claims["permissions"].([]any); ok {
		for _, p := range perms {
			if s, ok := p.(string); ok {
				user.Permissions = append(user.Permissions, s)
			}
		}
	}
	if user.Role == "admin" && len(user.Permissions) == 0 {
		user.Permissions = allPermissions
	}
	return user, nil
}

// userIDClaim reads the id claim, which identity providers send either as a
// string or as a JSON number. Values outside int32 are rejected.
func userIDClaim(v any) (int32, error) {
	switch val := v.(type) {
	case string:
		id, err := strconv.ParseInt(val, 10, 32)
		if err != nil {
			return 0, err
		}
		return int32(id), nil
	case float64:
		if val != math.Trunc(val) || val < math.MinInt32 || val > math.MaxInt32 {
			return 0, fmt.Errorf("user id %v out of range", val)
		}
		return int32(val), nil
	}
	return 0, errors.New("missing user id")
}
