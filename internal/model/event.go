// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of lifecycle notification
type EventType string

const (
	EventInitialized  EventType = "CONNECTION_INITIALIZED"
	EventConnecting   EventType = "CONNECTION_CONNECTING"
	EventOpened       EventType = "CONNECTION_OPENED"
	EventConnected    EventType = "CONNECTION_CONNECTED"
	EventActivated    EventType = "CONNECTION_ACTIVATED"
	EventQueueing     EventType = "CONNECTION_QUEUEING"
	EventClosed       EventType = "CONNECTION_CLOSED"
	EventReconnecting EventType = "CONNECTION_RECONNECTING"
	EventBroken       EventType = "CONNECTION_BROKEN"
	EventFailed       EventType = "CONNECTION_FAILED"
	EventStopped      EventType = "CONNECTION_STOPPED"
)

var stateEvents = map[State]EventType{
	StateInit:         EventInitialized,
	StateConnecting:   EventConnecting,
	StateOpened:       EventOpened,
	StateConnected:    EventConnected,
	StateActivated:    EventActivated,
	StateQueueing:     EventQueueing,
	StateClosed:       EventClosed,
	StateReconnecting: EventReconnecting,
	StateBroken:       EventBroken,
	StateFailed:       EventFailed,
	StateStopped:      EventStopped,
}

// EventForState returns the notification emitted on entry to the given state
func EventForState(state State) EventType {
	return stateEvents[state]
}

// LifecycleEvent is emitted every time a connection enters a state
type LifecycleEvent struct {
	ID         uuid.UUID `json:"id"`
	EventType  EventType `json:"event_type"`
	Connection string    `json:"connection"`
	State      State     `json:"state"`
	PrevState  State     `json:"prev_state"`
	Trigger    Trigger   `json:"trigger"`
	ServerInfo string    `json:"server_info,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewLifecycleEvent creates a notification for entering state from prev
func NewLifecycleEvent(connection string, state, prev State, trigger Trigger) LifecycleEvent {
	return LifecycleEvent{
		ID:         uuid.New(),
		EventType:  EventForState(state),
		Connection: connection,
		State:      state,
		PrevState:  prev,
		Trigger:    trigger,
		Timestamp:  time.Now(),
	}
}

// ConnectionInfo is a point-in-time status snapshot of a connection
type ConnectionInfo struct {
	Name          string    `json:"name"`
	ClientType    string    `json:"client_type"`
	Variant       string    `json:"variant"`
	ServerInfo    string    `json:"server_info"`
	State         State     `json:"state"`
	PrevState     State     `json:"prev_state"`
	UnitID        int       `json:"unit_id"`
	Buffered      bool      `json:"buffered"`
	ParallelUnits bool      `json:"parallel_unit_ids"`
	QueueLength   int       `json:"queue_length"`
	DirectPending int       `json:"direct_pending"`
	InFlight      bool      `json:"in_flight"`
	Consumers     int       `json:"consumers"`
	LastError     string    `json:"last_error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`

	// QueueByUnit holds the queued command count per unit id when unit ids are queued separately
	QueueByUnit map[int]int `json:"queue_by_unit,omitempty"`
	// Transport is nil while no transport exists
	Transport *TransportStats `json:"transport,omitempty"`
}

// TransportStats holds exchange counters of one transport instance
type TransportStats struct {
	RequestCount   int64         `json:"request_count"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}
