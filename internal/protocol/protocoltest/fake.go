// internal/protocol/protocoltest/fake.go

// Package protocoltest provides an in-memory Transport for tests of packages above the
// connection layer.
package protocoltest

import (
	"context"
	"sync"
	"time"

	"modbus-connector/internal/config"
	"modbus-connector/internal/model"
	"modbus-connector/internal/protocol"
)

// Transport answers reads with zeroed registers and records every exchange
type Transport struct {
	mu       sync.Mutex
	open     bool
	unitID   uint8
	err      error
	requests int
	failures int
}

var _ protocol.Transport = (*Transport)(nil)

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = true
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
	return nil
}

func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *Transport) SetUnitID(id uint8) {
	t.mu.Lock()
	t.unitID = id
	t.mu.Unlock()
}

func (t *Transport) SetTimeout(time.Duration) {}

// FailWith makes every following exchange return err; nil restores normal answers
func (t *Transport) FailWith(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Requests returns the number of exchanges performed
func (t *Transport) Requests() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests
}

func (t *Transport) exchange() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests++
	if t.err != nil {
		t.failures++
	}
	return t.err
}

func (t *Transport) Read(ctx context.Context, unitID uint8, fc model.FunctionCode, address, quantity uint16) (*model.Response, error) {
	if err := t.exchange(); err != nil {
		return nil, err
	}
	resp := &model.Response{UnitID: unitID, FunctionCode: fc, Address: address, Quantity: quantity}
	if fc.IsBitAccess() {
		resp.Coils = make([]bool, quantity)
	} else {
		resp.Registers = make([]uint16, quantity)
	}
	return resp, nil
}

func (t *Transport) Write(ctx context.Context, unitID uint8, fc model.FunctionCode, address uint16, values model.Values) (*model.Response, error) {
	if err := t.exchange(); err != nil {
		return nil, err
	}
	return &model.Response{
		UnitID:       unitID,
		FunctionCode: fc,
		Address:      address,
		Quantity:     uint16(values.Quantity(fc)),
	}, nil
}

func (t *Transport) Kind() string { return "test" }

func (t *Transport) Stats() model.TransportStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return model.TransportStats{
		RequestCount: int64(t.requests),
		ErrorCount:   int64(t.failures),
		IsConnected:  t.open,
	}
}

// Factory creates Transports and keeps the most recent one per connection name
type Factory struct {
	mu         sync.Mutex
	transports map[string]*Transport
}

// NewFactory creates an empty factory
func NewFactory() *Factory {
	return &Factory{transports: make(map[string]*Transport)}
}

func (f *Factory) CreateTransport(cfg *config.ConnectionConfig) (protocol.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &Transport{}
	f.transports[cfg.Name] = t
	return t, nil
}

// Transport returns the latest transport created for name, or nil
func (f *Factory) Transport(name string) *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[name]
}
