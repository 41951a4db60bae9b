package v1

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog/log"
)

// AuthMiddleware validates Bearer or Basic auth and resolves the token to the
// caller name configured in API_TOKENS. With no tokens configured every
// request is rejected.
func AuthMiddleware(tokens map[string]string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if auth == "" {
				c.Response().Header().Set("WWW-Authenticate", `Basic realm="exports"`)
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error: "missing authorization header",
					Code:  "UNAUTHORIZED",
				})
			}

			parts := strings.SplitN(auth, " ", 2)
			if len(parts) != 2 {
				return unauthorized(c)
			}

			var providedToken string
			switch parts[0] {
			case "Bearer":
				providedToken = parts[1]
			case "Basic":
				decoded, err := base64.StdEncoding.DecodeString(parts[1])
				if err != nil {
					return unauthorized(c)
				}
				_, pass, ok := strings.Cut(string(decoded), ":")
				if !ok {
					return unauthorized(c)
				}
				providedToken = pass
			default:
				return unauthorized(c)
			}

			caller, ok := tokens[providedToken]
			if !ok || providedToken == "" {
				return unauthorized(c)
			}
			c.Set("caller", caller)
			log.Debug().Str("caller", caller).Str("method", c.Request().Method).Str("path", c.Request().URL.Path).Msg("authenticated")

			return next(c)
		}
	}
}

func unauthorized(c *echo.Context) error {
	c.Response().Header().Set("WWW-Authenticate", `Basic realm="exports"`)
	return c.JSON(http.StatusUnauthorized, ErrorResponse{
		Error: "invalid auth token",
		Code:  "UNAUTHORIZED",
	})
}

// ParseTokens parses "name:token,name:token" into map[token]name.
// Returns nil if input is empty.
func ParseTokens(s string) map[string]string {
	if s == "" {
		return nil
	}
	m := make(map[string]string)
	for _, entry := range strings.Split(s, ",") {
		name, token, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if ok && strings.TrimSpace(token) != "" {
			m[strings.TrimSpace(token)] = strings.TrimSpace(name)
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
