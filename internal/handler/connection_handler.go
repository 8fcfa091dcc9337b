// internal/handler/connection_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"modbus-connector/internal/connection"
	"modbus-connector/internal/model"
	"modbus-connector/internal/protocol"
	"modbus-connector/internal/service"
	"modbus-connector/internal/utils"
)

// ConnectionHandler handles connection status and Modbus operation requests
type ConnectionHandler struct {
	connectionService *service.ConnectionService
	operationService  *service.OperationService
	logger            *utils.ServiceLogger
}

// NewConnectionHandler creates a new connection handler
func NewConnectionHandler(
	connectionService *service.ConnectionService,
	operationService *service.OperationService,
	logger *zap.Logger,
) *ConnectionHandler {
	return &ConnectionHandler{
		connectionService: connectionService,
		operationService:  operationService,
		logger:            utils.NewServiceLogger(logger, "connection-handler"),
	}
}

// RegisterRoutes registers connection routes
func (h *ConnectionHandler) RegisterRoutes(router *gin.RouterGroup) {
	connections := router.Group("/connections")
	{
		connections.GET("", h.ListConnections)

		conn := connections.Group("/:name")
		{
			conn.GET("", h.GetConnection)
			conn.POST("/read", h.Read)
			conn.POST("/write", h.Write)
			conn.POST("/reconnect", h.Reconnect)
		}
	}
}

// ListConnections lists every live connection
// @Summary List connections
// @Tags Connections
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.ConnectionInfo}
// @Router /connections [get]
func (h *ConnectionHandler) ListConnections(c *gin.Context) {
	infos := h.connectionService.List()
	utils.SuccessResponse(c, http.StatusOK, "Connections retrieved successfully", gin.H{
		"connections": infos,
		"total":       len(infos),
	})
}

// GetConnection returns the status of one connection
// @Summary Get connection status
// @Tags Connections
// @Produce json
// @Param name path string true "Connection name"
// @Success 200 {object} utils.APIResponse{data=model.ConnectionInfo}
// @Failure 404 {object} utils.APIResponse
// @Router /connections/{name} [get]
func (h *ConnectionHandler) GetConnection(c *gin.Context) {
	info, err := h.connectionService.Get(c.Param("name"))
	if err != nil {
		h.respondError(c, "Connection not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Connection retrieved successfully", info)
}

// Read performs a Modbus read
// @Summary Read coils, inputs or registers
// @Tags Operations
// @Accept json
// @Produce json
// @Param name path string true "Connection name"
// @Param request body service.ReadRequest true "Read request"
// @Success 200 {object} utils.APIResponse{data=service.OperationResponse}
// @Failure 400 {object} utils.APIResponse
// @Failure 503 {object} utils.APIResponse
// @Failure 504 {object} utils.APIResponse
// @Router /connections/{name}/read [post]
func (h *ConnectionHandler) Read(c *gin.Context) {
	var req service.ReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	result, err := h.operationService.Read(c.Request.Context(), c.Param("name"), &req)
	if err != nil {
		h.respondError(c, "Read failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Read completed", result)
}

// Write performs a Modbus write
// @Summary Write coils or registers
// @Tags Operations
// @Accept json
// @Produce json
// @Param name path string true "Connection name"
// @Param request body service.WriteRequest true "Write request"
// @Success 200 {object} utils.APIResponse{data=service.OperationResponse}
// @Failure 400 {object} utils.APIResponse
// @Failure 503 {object} utils.APIResponse
// @Router /connections/{name}/write [post]
func (h *ConnectionHandler) Write(c *gin.Context) {
	var req service.WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	result, err := h.operationService.Write(c.Request.Context(), c.Param("name"), &req)
	if err != nil {
		h.respondError(c, "Write failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Write completed", result)
}

// Reconnect restarts the link of a connection
// @Summary Reconnect
// @Tags Connections
// @Param name path string true "Connection name"
// @Success 202 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse
// @Router /connections/{name}/reconnect [post]
func (h *ConnectionHandler) Reconnect(c *gin.Context) {
	name := c.Param("name")
	if err := h.connectionService.Reconnect(name); err != nil {
		h.respondError(c, "Reconnect failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusAccepted, "Reconnect requested", gin.H{"connection": name})
}

func (h *ConnectionHandler) respondBindError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string, len(validationErrors))
		for _, fe := range validationErrors {
			fields[fe.Field()] = fe.Tag()
		}
		utils.ValidationErrorResponse(c, fields)
		return
	}
	utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
}

func (h *ConnectionHandler) respondError(c *gin.Context, message string, err error) {
	status := StatusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn(message,
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	utils.ErrorResponse(c, status, message, err)
}

// StatusForError maps connection errors to HTTP status codes
func StatusForError(err error) int {
	switch {
	case errors.Is(err, connection.ErrUnknownConnection):
		return http.StatusNotFound
	case errors.Is(err, connection.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest
	}

	var connErr *connection.Error
	if errors.As(err, &connErr) {
		switch connErr.Kind {
		case connection.KindQueueState:
			return http.StatusServiceUnavailable
		case connection.KindConfiguration:
			return http.StatusUnprocessableEntity
		case connection.KindTransport:
			return http.StatusBadGateway
		case connection.KindProtocol:
			if errors.Is(err, protocol.ErrDeviceException) {
				return http.StatusBadGateway
			}
			return http.StatusBadRequest
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
