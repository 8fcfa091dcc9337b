// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"modbus-connector/internal/config"
	"modbus-connector/internal/model"
	"modbus-connector/internal/service"
	"modbus-connector/internal/utils"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	connectionService *service.ConnectionService
	config            *config.Config
	startedAt         time.Time
	logger            *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(connectionService *service.ConnectionService, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		connectionService: connectionService,
		config:            config,
		startedAt:         time.Now(),
		logger:            utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck reports the state of every connection
// @Summary Health check
// @Description Get overall service health including the state of each Modbus connection
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy"
// @Failure 503 {object} HealthResponse "Service is degraded"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).String(),
		Checks:    make(map[string]CheckResult),
	}

	for _, info := range h.connectionService.List() {
		check := CheckResult{
			Status:  "healthy",
			Message: info.ServerInfo,
			Data: map[string]interface{}{
				"state":        info.State,
				"queue_length": info.QueueLength,
				"in_flight":    info.InFlight,
			},
		}
		if !info.State.Ready() {
			check.Status = "unhealthy"
			if info.LastError != "" {
				check.Data["last_error"] = info.LastError
			}
			if info.State == model.StateFailed {
				health.Status = "unhealthy"
			} else if health.Status == "healthy" {
				health.Status = "degraded"
			}
		}
		health.Checks[info.Name] = check
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// ReadinessCheck for Kubernetes readiness probe
// @Summary Readiness check
// @Description Ready once at least one connection can carry traffic
// @Tags Health
// @Produce json
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	infos := h.connectionService.List()
	if len(infos) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now(),
		})
		return
	}

	for _, info := range infos {
		if info.State.Ready() {
			c.JSON(http.StatusOK, gin.H{
				"status":    "ready",
				"timestamp": time.Now(),
			})
			return
		}
	}

	c.JSON(http.StatusServiceUnavailable, gin.H{
		"status": "not ready",
		"reason": "no connection is activated",
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
