package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/photogallery/internal/health"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checker *health.Checker
}

// NewHealthHandler creates a HealthHandler backed by checker.
func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Register mounts /healthz and /readyz on r.
func (h *HealthHandler) Register(r gin.IRoutes) {
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
}

// Healthz handles GET /healthz.
func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz handles GET /readyz from the checker's last results.
func (h *HealthHandler) Readyz(c *gin.Context) {
	deps, ready := h.checker.Snapshot()
	recordReadiness(ready)

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	c.JSON(status, gin.H{"status": state, "dependencies": deps})
}
