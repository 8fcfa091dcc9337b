// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a WebSocket client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	// connection names the client follows; empty means all
	subscriptions map[string]bool
	mutex         sync.RWMutex
}

// Subscribe adds a connection name to the client filter
func (c *Client) Subscribe(connection string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.subscriptions == nil {
		c.subscriptions = make(map[string]bool)
	}
	c.subscriptions[connection] = true
}

// Unsubscribe removes a connection name from the client filter
func (c *Client) Unsubscribe(connection string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.subscriptions, connection)
}

// Subscriptions returns the followed connection names
func (c *Client) Subscriptions() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	names := make([]string, 0, len(c.subscriptions))
	for name := range c.subscriptions {
		names = append(names, name)
	}
	return names
}

// Wants reports whether events of the named connection go to this client
func (c *Client) Wants(connection string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[connection]
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ClientManager tracks WebSocket clients
type ClientManager struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewClientManager creates a new client manager
func NewClientManager() *ClientManager {
	return &ClientManager{
		clients: make(map[string]*Client),
	}
}

// Register registers a new client
func (cm *ClientManager) Register(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.clients[client.ID] = client
}

// Unregister removes a client and closes its send channel
func (cm *ClientManager) Unregister(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if _, ok := cm.clients[client.ID]; ok {
		delete(cm.clients, client.ID)
		close(client.Send)
	}
}

// Broadcast queues message for every client following connection.
// It returns the number of clients whose queue was full.
func (cm *ClientManager) Broadcast(connection string, message []byte) int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	dropped := 0
	for _, client := range cm.clients {
		if !client.Wants(connection) {
			continue
		}
		select {
		case client.Send <- message:
		default:
			dropped++
		}
	}
	return dropped
}

// SendTo queues message for a registered client; it reports false when the client is gone
// or its queue is full
func (cm *ClientManager) SendTo(client *Client, message []byte) bool {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	if _, ok := cm.clients[client.ID]; !ok {
		return false
	}
	select {
	case client.Send <- message:
		return true
	default:
		return false
	}
}

// CloseAll unregisters every client
func (cm *ClientManager) CloseAll() {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	for id, client := range cm.clients {
		delete(cm.clients, id)
		close(client.Send)
	}
}

// GetStats returns connection statistics
func (cm *ClientManager) GetStats() *ClientStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := &ClientStats{
		TotalClients:   len(cm.clients),
		BySubscription: make(map[string]int),
		Clients:        make([]*Client, 0, len(cm.clients)),
	}

	for _, client := range cm.clients {
		subs := client.Subscriptions()
		if len(subs) == 0 {
			stats.BySubscription["*"]++
		}
		for _, name := range subs {
			stats.BySubscription[name]++
		}
		stats.Clients = append(stats.Clients, client)
	}

	return stats
}

// ClientStats represents WebSocket client statistics
type ClientStats struct {
	TotalClients   int            `json:"total_clients"`
	BySubscription map[string]int `json:"by_subscription"`
	Clients        []*Client      `json:"clients"`
}
