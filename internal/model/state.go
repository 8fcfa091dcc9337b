// internal/model/state.go
package model

// State represents the lifecycle state of a Modbus connection
type State string

const (
	StateInit         State = "init"
	StateConnecting   State = "connecting"
	StateOpened       State = "opened"
	StateConnected    State = "connected"
	StateActivated    State = "activated"
	StateQueueing     State = "queueing"
	StateClosed       State = "closed"
	StateReconnecting State = "reconnecting"
	StateBroken       State = "broken"
	StateFailed       State = "failed"
	StateStopped      State = "stopped"
)

// AllStates lists every connection state
var AllStates = []State{
	StateInit,
	StateConnecting,
	StateOpened,
	StateConnected,
	StateActivated,
	StateQueueing,
	StateClosed,
	StateReconnecting,
	StateBroken,
	StateFailed,
	StateStopped,
}

// SubmitAllowed reports whether new commands are accepted in this state
func (s State) SubmitAllowed() bool {
	switch s {
	case StateConnected, StateActivated, StateQueueing, StateOpened:
		return true
	default:
		return false
	}
}

// Ready reports whether the link is usable for traffic
func (s State) Ready() bool {
	return s == StateActivated || s == StateQueueing
}

// Trigger is a named event that drives a state transition
type Trigger string

const (
	TriggerNew        Trigger = "NEW"
	TriggerInit       Trigger = "INIT"
	TriggerDial       Trigger = "DIAL"
	TriggerConnect    Trigger = "CONNECT"
	TriggerOpenSerial Trigger = "OPENSERIAL"
	TriggerActivate   Trigger = "ACTIVATE"
	TriggerQueue      Trigger = "QUEUE"
	TriggerEmpty      Trigger = "EMPTY"
	TriggerFailure    Trigger = "FAILURE"
	TriggerBreak      Trigger = "BREAK"
	TriggerReconnect  Trigger = "RECONNECT"
	TriggerClose      Trigger = "CLOSE"
	TriggerStop       Trigger = "STOP"
)

// AllTriggers lists every trigger
var AllTriggers = []Trigger{
	TriggerNew,
	TriggerInit,
	TriggerDial,
	TriggerConnect,
	TriggerOpenSerial,
	TriggerActivate,
	TriggerQueue,
	TriggerEmpty,
	TriggerFailure,
	TriggerBreak,
	TriggerReconnect,
	TriggerClose,
	TriggerStop,
}
