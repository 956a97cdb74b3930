package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/orderrush/saga-orchestrator/pkg/database"
	pkgredis "github.com/orderrush/saga-orchestrator/pkg/redis"
)

// HealthHandler answers liveness and readiness probes
type HealthHandler struct {
	db      *database.PostgresDB
	redis   *pkgredis.Client
	service string
	version string
}

// NewHealthHandler creates a health handler. redis may be nil.
func NewHealthHandler(db *database.PostgresDB, redis *pkgredis.Client, service, version string) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, service: service, version: version}
}

// RegisterRoutes mounts the health routes on the engine root
func (h *HealthHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Live)
	r.GET("/health/ready", h.Ready)
}

// Live handles GET /health
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.service,
		"version": h.version,
	})
}

// Ready handles GET /health/ready; it checks every wired dependency
func (h *HealthHandler) Ready(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := h.db.HealthCheck(c.Request.Context()); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	} else {
		checks["postgres"] = "ok"
	}

	if h.redis != nil {
		if err := h.redis.HealthCheck(c.Request.Context()); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	overall := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}
