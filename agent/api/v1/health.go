package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
)

// Healthz reports "degraded" when check fails; the endpoint itself always
// answers 200 so load balancers keep routing to the agent.
func Healthz(version, commit string, features map[string]string, check func(ctx context.Context) error) echo.HandlerFunc {
	startTime := time.Now()

	return func(c *echo.Context) error {
		status := "ok"
		if check != nil {
			if err := check(c.Request().Context()); err != nil {
				status = "degraded"
			}
		}
		return c.JSON(http.StatusOK, HealthResponse{
			Status:        status,
			Version:       version,
			Commit:        commit,
			UptimeSeconds: int(time.Since(startTime).Seconds()),
			Features:      features,
		})
	}
}
