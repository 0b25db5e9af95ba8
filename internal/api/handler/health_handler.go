package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	healthy := true
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			h.logger.Warn("Health check failed",
				slog.String("check", check.Name),
				slog.String("error", err.Error()),
			)
			checks[check.Name] = "unavailable"
			healthy = false
			continue
		}
		checks[check.Name] = "ok"
	}

	code, state := http.StatusOK, "healthy"
	if !healthy {
		code, state = http.StatusServiceUnavailable, "unhealthy"
	}

	c.JSON(code, gin.H{
		"status":  state,
		"service": h.service,
		"checks":  checks,
	})
}
