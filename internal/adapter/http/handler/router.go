package handler

import (
	"storefront-ledger/internal/adapter/http/middleware"
	"storefront-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds what the probe server needs.
type RouterDeps struct {
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter builds the probe server run next to schedule:work. It serves
// nothing but /healthz and /readyz.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(deps.Logger), middleware.RequestLogger(deps.Logger))

	r.GET("/healthz", Liveness)
	r.GET("/readyz", Readiness(deps.HealthCheckers...))
	return r
}
