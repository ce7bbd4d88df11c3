package handler

import (
	"context"
	"net/http"
	"time"

	"storefront-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// readinessTimeout bounds each dependency ping so a hung database cannot
// hold a probe open past the orchestrator's own timeout.
const readinessTimeout = 2 * time.Second

type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Liveness handles GET /healthz. It only proves the process is serving.
func Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness handles GET /readyz: 200 when every dependency answers, 503
// with the failing ones otherwise.
func Readiness(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps := make(map[string]dependencyStatus, len(checkers))
		code, overall := http.StatusOK, "healthy"

		for _, checker := range checkers {
			if err := ping(c.Request.Context(), checker); err != nil {
				deps[checker.Name()] = dependencyStatus{Status: "unhealthy", Error: err.Error()}
				code, overall = http.StatusServiceUnavailable, "degraded"
				continue
			}
			deps[checker.Name()] = dependencyStatus{Status: "healthy"}
		}

		c.JSON(code, gin.H{"status": overall, "dependencies": deps})
	}
}

func ping(ctx context.Context, checker ports.HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()
	return checker.Ping(ctx)
}
