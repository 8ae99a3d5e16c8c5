package auth

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	doctorIDKey = "doctor_id"
	usernameKey = "doctor_username"
)

// RequireDoctor returns middleware rejecting requests without a valid doctor
// bearer token. On success the doctor id and username are stored in the echo
// context.
func RequireDoctor(tm *TokenManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "malformed authorization header")
			}

			claims, err := tm.Verify(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			c.Set(doctorIDKey, claims.DoctorID)
			c.Set(usernameKey, claims.Username)
			return next(c)
		}
	}
}

// DoctorIDFromContext returns the authenticated doctor's id, or uuid.Nil when
// the request was not authenticated.
func DoctorIDFromContext(c echo.Context) uuid.UUID {
	s, _ := c.Get(doctorIDKey).(string)
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// UsernameFromContext returns the authenticated doctor's username.
func UsernameFromContext(c echo.Context) string {
	s, _ := c.Get(usernameKey).(string)
	return s
}
