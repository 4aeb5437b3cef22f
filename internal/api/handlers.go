package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"tutorials/backend/internal/bootstrap"
)

// WelcomeMessage is the body of GET /.
const WelcomeMessage = "Welcome to Test application."

// healthService is the subset of *bootstrap.HealthChecker used by the
// handlers.
type healthService interface {
	RunDeepHealth(ctx context.Context) map[string]bootstrap.ProbeResult
}

// readiness is satisfied by *bootstrap.Sequencer.
type readiness interface {
	IsReady() bool
	State() bootstrap.State
}

// Handler serves the routes that exist before the database is connected.
type Handler struct {
	health    healthService
	readiness readiness
}

// Welcome handles GET /.
//
//	@Summary	Welcome message
//	@Tags		meta
//	@Produce	json
//	@Success	200	{object}	MessageResponse
//	@Router		/ [get]
func (h *Handler) Welcome(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": WelcomeMessage})
}

// Health handles GET /health.
// Liveness only; it always returns 200.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"mode":   "shallow",
	})
}

// DeepHealth handles GET /health/deep.
// It probes every registered dependency and returns 200 only when all pass.
func (h *Handler) DeepHealth(c *gin.Context) {
	probes := map[string]bootstrap.ProbeResult{}
	if h.health != nil {
		probes = h.health.RunDeepHealth(c.Request.Context())
	}

	status := "healthy"
	code := http.StatusOK
	if !bootstrap.AllOK(probes) {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":       status,
		"dependencies": probes,
	})
}

// Ready handles GET /ready.
// It returns 200 only once the startup sequence is listening.
func (h *Handler) Ready(c *gin.Context) {
	if h.readiness != nil && h.readiness.IsReady() {
		c.JSON(http.StatusOK, gin.H{"ready": true})
		return
	}
	state := bootstrap.StateStart
	if h.readiness != nil {
		state = h.readiness.State()
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "state": state.String()})
}
