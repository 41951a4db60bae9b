package v1

import (
	"net/http"
	"net/url"

	"github.com/erikmagkekse/nfs-exports-registry/registry"

	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog/log"
)

var codeStatus = map[string]int{
	registry.ErrInvalid:         http.StatusBadRequest,
	registry.ErrMalformedRecord: http.StatusBadRequest,
	registry.ErrNotFound:        http.StatusNotFound,
	registry.ErrClientNotFound:  http.StatusNotFound,
	registry.ErrAlreadyExists:   http.StatusConflict,
	registry.ErrIOFailure:       http.StatusInternalServerError,
	registry.ErrReloadFailed:    http.StatusBadGateway,
	registry.ErrUnavailable:     http.StatusServiceUnavailable,
	registry.ErrMissingHeader:   http.StatusServiceUnavailable,
}

// StatusFor maps a registry error code to its HTTP status.
func StatusFor(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func RegistryError(c *echo.Context, err error) error {
	if code := registry.CodeOf(err); code != "" {
		return c.JSON(StatusFor(code), ErrorResponse{Error: err.Error(), Code: code})
	}
	log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unexpected error")
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INTERNAL_ERROR"})
}

func badRequest(c *echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: "BAD_REQUEST"})
}

// param returns a path parameter with percent-escapes decoded; hosts such as
// 192.168.1.0/24 arrive as 192.168.1.0%2F24.
func param(c *echo.Context, name string) string {
	v := c.Param(name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}
