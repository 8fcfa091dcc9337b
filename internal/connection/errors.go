// internal/connection/errors.go
package connection

import (
	"errors"
	"fmt"

	"modbus-connector/internal/model"
)

var (
	// ErrNotReady is returned when a command is submitted outside a dispatch-eligible state
	ErrNotReady = errors.New("client not ready to send")
	// ErrStopped is returned for commands still queued when the connection stops
	ErrStopped = errors.New("connection stopped")
	// ErrConnectionReset is returned for commands queued on a link that was re-initialized
	ErrConnectionReset = errors.New("connection reset before dispatch")
	// ErrInvalidTransition is returned when a trigger is not accepted in the current state
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidUnitID is returned for unit ids outside the range of the client type
	ErrInvalidUnitID = errors.New("invalid unit id")
	// ErrMissingSerialPort is returned when a serial connection has no port configured
	ErrMissingSerialPort = errors.New("serial port is not configured")
	// ErrUnknownConnection is returned by the manager for names it does not know
	ErrUnknownConnection = errors.New("unknown connection")
)

// ErrorKind groups errors by how they must be handled
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConfiguration
	KindTransport
	KindProtocol
	KindQueueState
)

// String returns the kind name
func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindQueueState:
		return "queue_state"
	default:
		return "unknown"
	}
}

// Error records a failed connection operation
type Error struct {
	Kind       ErrorKind
	Op         string
	Connection string
	State      model.State
	Err        error
}

func (e *Error) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s %s (%s, state %s): %v", e.Connection, e.Op, e.Kind, e.State, e.Err)
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Connection, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, deriving it from the classification when err is not an *Error
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var connErr *Error
	if errors.As(err, &connErr) {
		return connErr.Kind
	}
	switch Classify(err) {
	case ClassFatal:
		return KindConfiguration
	case ClassRecoverable:
		return KindTransport
	default:
		return KindProtocol
	}
}
