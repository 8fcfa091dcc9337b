// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"modbus-connector/internal/events"
	"modbus-connector/internal/service"
	"modbus-connector/internal/utils"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WebSocketHandler streams connection lifecycle events to WebSocket clients
type WebSocketHandler struct {
	upgrader          websocket.Upgrader
	clients           *ClientManager
	connectionService *service.ConnectionService
	bus               *events.Bus
	logger            *utils.ServiceLogger
	done              chan struct{}
	stopOnce          sync.Once
}

// NewWebSocketHandler creates a new WebSocket handler. allowedOrigins restricts the Origin
// header; an empty list accepts any origin.
func NewWebSocketHandler(
	connectionService *service.ConnectionService,
	bus *events.Bus,
	allowedOrigins []string,
	logger *zap.Logger,
) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}

	return &WebSocketHandler{
		upgrader:          upgrader,
		clients:           NewClientManager(),
		connectionService: connectionService,
		bus:               bus,
		logger:            utils.NewServiceLogger(logger, "websocket-handler"),
		done:              make(chan struct{}),
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventConnection)
	router.GET("/stats", h.Stats)
}

// Run forwards bus events to clients until Stop is called
func (h *WebSocketHandler) Run() {
	subscription := h.bus.SubscribeAll()
	defer h.bus.Unsubscribe(subscription)

	for {
		select {
		case <-h.done:
			return
		case event, ok := <-subscription:
			if !ok {
				return
			}
			message, err := json.Marshal(&WebSocketMessage{
				Type:      "lifecycle_event",
				Data:      event,
				Timestamp: event.Timestamp,
			})
			if err != nil {
				h.logger.Error("Failed to marshal lifecycle event", zap.Error(err))
				continue
			}
			if dropped := h.clients.Broadcast(event.Connection, message); dropped > 0 {
				h.logger.Warn("Client send channel full during broadcast",
					zap.String("connection", event.Connection),
					zap.Int("dropped", dropped),
				)
			}
		}
	}
}

// Stop ends forwarding and disconnects every client
func (h *WebSocketHandler) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
	h.clients.CloseAll()
}

// HandleEventConnection upgrades the request and streams lifecycle events.
// The connection query parameter limits the stream to one connection.
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}
	if name := c.Query("connection"); name != "" {
		client.Subscribe(name)
	}

	h.clients.Register(client)
	h.sendStatus(client)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
		zap.Strings("connections", client.Subscriptions()),
	)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.clients.Unregister(client)
		client.Connection.Close()
	}()

	client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "subscribe":
		if name, ok := connectionName(message); ok {
			client.Subscribe(name)
			h.sendMessage(client, &WebSocketMessage{
				Type:      "subscription_confirmed",
				Data:      map[string]interface{}{"connection": name},
				Timestamp: time.Now(),
				RequestID: message.RequestID,
			})
		} else {
			h.sendError(client, "connection is required")
		}
	case "unsubscribe":
		if name, ok := connectionName(message); ok {
			client.Unsubscribe(name)
		}
	case "status":
		h.sendStatus(client)
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, "unknown message type: "+message.Type)
	}
}

func connectionName(message *WebSocketMessage) (string, bool) {
	data, ok := message.Data.(map[string]interface{})
	if !ok {
		return "", false
	}
	name, ok := data["connection"].(string)
	return name, ok && name != ""
}

// sendStatus sends the current snapshot of the followed connections
func (h *WebSocketHandler) sendStatus(client *Client) {
	infos := h.connectionService.List()
	filtered := infos[:0]
	for _, info := range infos {
		if client.Wants(info.Name) {
			filtered = append(filtered, info)
		}
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "status",
		Data:      map[string]interface{}{"connections": filtered},
		Timestamp: time.Now(),
	})
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	if !h.clients.SendTo(client, messageBytes) {
		h.logger.Warn("Dropping message for client",
			zap.String("client_id", client.ID),
			zap.String("type", message.Type),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      map[string]interface{}{"error": errorMsg},
		Timestamp: time.Now(),
	})
}

// GetClientStats returns client statistics
func (h *WebSocketHandler) GetClientStats() *ClientStats {
	return h.clients.GetStats()
}

// Stats reports the connected WebSocket clients
// @Summary WebSocket client statistics
// @Tags WebSocket
// @Produce json
// @Router /ws/stats [get]
func (h *WebSocketHandler) Stats(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "WebSocket statistics retrieved", h.GetClientStats())
}
