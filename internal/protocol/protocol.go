// internal/protocol/protocol.go
package protocol

import (
	"context"
	"errors"
	"sync"
	"time"

	"modbus-connector/internal/model"
)

// Transport errors. Adapters wrap library errors with one of these so callers can classify
// failures without knowing which Modbus library produced them.
var (
	ErrTimeout              = errors.New("modbus request timed out")
	ErrPortNotOpen          = errors.New("port not open")
	ErrDeviceException      = errors.New("modbus exception response")
	ErrInvalidConfig        = errors.New("invalid transport configuration")
	ErrUnsupportedTransport = errors.New("unsupported transport")
)

// Transport is a single physical or network link to Modbus devices.
// At most one exchange is outstanding at a time; Close may be called concurrently with it.
type Transport interface {
	// Connection lifecycle
	Connect(ctx context.Context) error
	Close() error
	IsOpen() bool

	// Link parameters applied to subsequent exchanges
	SetUnitID(id uint8)
	SetTimeout(timeout time.Duration)

	// Data exchange
	Read(ctx context.Context, unitID uint8, fc model.FunctionCode, address, quantity uint16) (*model.Response, error)
	Write(ctx context.Context, unitID uint8, fc model.FunctionCode, address uint16, values model.Values) (*model.Response, error)

	// Kind returns the client type and variant, e.g. "tcp/TELNET"
	Kind() string

	// Stats returns exchange counters for the lifetime of the transport
	Stats() model.TransportStats
}

// statsRecorder is embedded by adapters to implement Stats
type statsRecorder struct {
	mu    sync.Mutex
	stats model.TransportStats
}

func (s *statsRecorder) record(latency time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.RequestCount++
	if err != nil {
		s.stats.ErrorCount++
	}
	s.stats.LastActivity = time.Now()

	// running average
	if s.stats.AverageLatency == 0 {
		s.stats.AverageLatency = latency
	} else {
		s.stats.AverageLatency = (s.stats.AverageLatency + latency) / 2
	}
}

func (s *statsRecorder) setConnected(connected bool) {
	s.mu.Lock()
	s.stats.IsConnected = connected
	s.mu.Unlock()
}

// Stats returns a copy of the link statistics
func (s *statsRecorder) Stats() model.TransportStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
