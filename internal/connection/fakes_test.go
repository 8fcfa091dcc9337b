package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"modbus-connector/internal/config"
	"modbus-connector/internal/model"
	"modbus-connector/internal/protocol"
)

type fakeTransport struct {
	gate chan struct{}

	mu       sync.Mutex
	open     bool
	unitID   uint8
	timeout  time.Duration
	errs     []error
	requests []uint16
	units    []uint8
	sent     []time.Time
	closed   int

	active      atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closed++
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) SetUnitID(id uint8) {
	f.mu.Lock()
	f.unitID = id
	f.mu.Unlock()
}

func (f *fakeTransport) SetTimeout(timeout time.Duration) {
	f.mu.Lock()
	f.timeout = timeout
	f.mu.Unlock()
}

func (f *fakeTransport) exchange(unitID uint8, address uint16) error {
	sent := time.Now()
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, address)
	f.units = append(f.units, unitID)
	f.sent = append(f.sent, sent)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) Read(ctx context.Context, unitID uint8, fc model.FunctionCode, address, quantity uint16) (*model.Response, error) {
	if err := f.exchange(unitID, address); err != nil {
		return nil, err
	}
	return &model.Response{
		UnitID:       unitID,
		FunctionCode: fc,
		Address:      address,
		Quantity:     quantity,
		Registers:    make([]uint16, quantity),
	}, nil
}

func (f *fakeTransport) Write(ctx context.Context, unitID uint8, fc model.FunctionCode, address uint16, values model.Values) (*model.Response, error) {
	if err := f.exchange(unitID, address); err != nil {
		return nil, err
	}
	return &model.Response{
		UnitID:       unitID,
		FunctionCode: fc,
		Address:      address,
		Quantity:     uint16(values.Quantity(fc)),
	}, nil
}

func (f *fakeTransport) Kind() string { return "fake" }

func (f *fakeTransport) Stats() model.TransportStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.TransportStats{RequestCount: int64(len(f.requests)), IsConnected: f.open}
}

func (f *fakeTransport) Settings() (uint8, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unitID, f.timeout
}

func (f *fakeTransport) Requests() []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint16(nil), f.requests...)
}

// Units returns the unit id of every exchange in order
func (f *fakeTransport) Units() []uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint8(nil), f.units...)
}

// SentAt returns the start time of every exchange in order
func (f *fakeTransport) SentAt() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.sent...)
}

// fakeFactory hands out fakeTransports. connectErrs are returned by successive Connect calls.
type fakeFactory struct {
	mu          sync.Mutex
	connectErrs []error
	gate        chan struct{}
	readErrs    []error
	created     []*fakeTransport
}

func (f *fakeFactory) CreateTransport(cfg *config.ConnectionConfig) (protocol.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTransport{gate: f.gate, errs: f.readErrs}
	f.readErrs = nil
	f.created = append(f.created, t)

	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return &failingTransport{fakeTransport: t, err: err}, nil
	}
	return t, nil
}

func (f *fakeFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeFactory) First() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[0]
}

func (f *fakeFactory) Last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

type failingTransport struct {
	*fakeTransport
	err error
}

func (f *failingTransport) Connect(ctx context.Context) error {
	return f.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.LifecycleEvent
}

func (n *recordingNotifier) Publish(event model.LifecycleEvent) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) Events() []model.LifecycleEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.LifecycleEvent(nil), n.events...)
}

func (n *recordingNotifier) States() []model.State {
	events := n.Events()
	states := make([]model.State, len(events))
	for i, e := range events {
		states[i] = e.State
	}
	return states
}

func testTCPConfig() config.ConnectionConfig {
	cfg := config.ConnectionConfig{
		Name:             "plc",
		ClientType:       config.ClientTypeTCP,
		TCP:              config.TCPConfig{Host: "127.0.0.1"},
		StartupDelay:     time.Millisecond,
		ReconnectTimeout: 20 * time.Millisecond,
		ClientTimeout:    100 * time.Millisecond,
		StateLogEnabled:  true,
		QueueLogEnabled:  true,
	}
	cfg.ApplyDefaults()
	return cfg
}

func testSerialConfig(port string) config.ConnectionConfig {
	cfg := config.ConnectionConfig{
		Name:             "line",
		ClientType:       config.ClientTypeSerial,
		Serial:           config.SerialConfig{Port: port, Type: config.SerialTypeRTU, ConnectionDelay: 5 * time.Millisecond},
		StartupDelay:     time.Millisecond,
		ReconnectTimeout: 20 * time.Millisecond,
	}
	cfg.ApplyDefaults()
	return cfg
}

func boolRef(v bool) *bool { return &v }

func startConnection(t *testing.T, cfg config.ConnectionConfig, factory *fakeFactory) (*Connection, *recordingNotifier) {
	t.Helper()

	notifier := &recordingNotifier{}
	conn := New(cfg, factory, WithNotifier(notifier))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = conn.Close(ctx)
	})
	return conn, notifier
}

func waitForState(t *testing.T, conn *Connection, state model.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return conn.State() == state
	}, 2*time.Second, time.Millisecond, "connection never reached %s (at %s)", state, conn.State())
}

func waitResult(t *testing.T, future *Future) Result {
	t.Helper()
	select {
	case <-future.Done():
		result, _ := future.Result()
		return result
	case <-time.After(2 * time.Second):
		t.Fatal("command never resolved")
		return Result{}
	}
}

func unit(id int) *int { return &id }
