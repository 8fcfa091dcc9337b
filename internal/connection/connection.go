// internal/connection/connection.go
package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"vawter.tech/stopper"

	"modbus-connector/internal/config"
	"modbus-connector/internal/model"
	"modbus-connector/internal/protocol"
	"modbus-connector/internal/utils"
)

// Notifier receives lifecycle notifications. Publish is called from the connection worker
// and must not block.
type Notifier interface {
	Publish(event model.LifecycleEvent)
}

// TransportFactory creates the transport for a connection configuration
type TransportFactory interface {
	CreateTransport(cfg *config.ConnectionConfig) (protocol.Transport, error)
}

// Option configures a Connection
type Option func(*Connection)

// WithLogger sets the base logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.baseLogger = logger
		}
	}
}

// WithNotifier sets the lifecycle notification sink
func WithNotifier(notifier Notifier) Option {
	return func(c *Connection) {
		c.notifier = notifier
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics *Metrics) Option {
	return func(c *Connection) {
		c.metrics = metrics
	}
}

// Connection owns one Modbus link. A single worker goroutine processes lifecycle events,
// submissions and transport results one at a time; everything below the worker-owned marker
// is only touched by that goroutine.
type Connection struct {
	name       string
	factory    TransportFactory
	notifier   Notifier
	metrics    *Metrics
	baseLogger *zap.Logger

	events   chan event
	sctx     *stopper.Context
	done     chan struct{}
	ioCtx    context.Context
	ioCancel context.CancelFunc

	infoMu sync.RWMutex
	info   model.ConnectionInfo
	config config.ConnectionConfig

	// worker-owned
	cfg        config.ConnectionConfig
	logger     *utils.ConnectionLogger
	state      model.State
	prevState  model.State
	pending    []model.Trigger
	transport  protocol.Transport
	generation uint64
	queue      *commandQueue
	direct     []*Command
	inFlight   *Command
	drainArmed bool
	firstInit  bool
	closing    bool
	exiting    bool
	consumers  map[string]struct{}
	lastErr    error
	timers     map[timerKind]*workerTimer
	timerSeq   uint64
}

// New creates a connection in state init and starts its worker.
// Nothing is dialed until the first consumer registers.
func New(cfg config.ConnectionConfig, factory TransportFactory, opts ...Option) *Connection {
	cfg.ApplyDefaults()

	c := &Connection{
		name:       cfg.Name,
		factory:    factory,
		baseLogger: zap.NewNop(),
		events:     make(chan event),
		done:       make(chan struct{}),
		cfg:        cfg,
		state:      model.StateInit,
		prevState:  model.StateInit,
		queue:      newCommandQueue(cfg.ParallelUnitIDs()),
		firstInit:  true,
		consumers:  make(map[string]struct{}),
		timers:     make(map[timerKind]*workerTimer),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.newConnectionLogger()
	c.ioCtx, c.ioCancel = context.WithCancel(context.Background())
	c.refreshInfo()

	c.sctx = stopper.WithContext(context.Background())
	c.sctx.Go(c.run)

	return c
}

func (c *Connection) newConnectionLogger() *utils.ConnectionLogger {
	return utils.NewConnectionLogger(
		c.baseLogger,
		c.cfg.Name,
		c.cfg.ClientType+"/"+c.cfg.Variant(),
		c.cfg.ServerInfo(),
		c.cfg.StateLogEnabled,
		c.cfg.QueueLogEnabled && c.cfg.Buffered(),
	)
}

// Name returns the connection name
func (c *Connection) Name() string {
	return c.name
}

// State returns the current state
func (c *Connection) State() model.State {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	return c.info.State
}

// Info returns a status snapshot
func (c *Connection) Info() model.ConnectionInfo {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	return c.info
}

// Config returns the configuration currently applied
func (c *Connection) Config() config.ConnectionConfig {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	return c.config
}

// Done is closed once the worker has exited
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Register adds a consumer and returns the consumer count.
// The first consumer starts the connection.
func (c *Connection) Register(consumerID string) (int, error) {
	ev := &registerEvent{consumerID: consumerID, reply: make(chan struct{})}
	if err := c.call(ev, ev.reply); err != nil {
		return 0, err
	}
	if ev.err != nil {
		return 0, ev.err
	}
	return ev.count, nil
}

// Deregister removes a consumer and returns the remaining count.
// Removing the last consumer stops the connection.
func (c *Connection) Deregister(consumerID string) (int, error) {
	ev := &deregisterEvent{consumerID: consumerID, reply: make(chan struct{})}
	if err := c.call(ev, ev.reply); err != nil {
		return 0, err
	}
	return ev.remaining, nil
}

// SubmitRead accepts a read. Rejections are delivered through the returned future,
// which is already resolved when SubmitRead returns.
func (c *Connection) SubmitRead(req model.ReadRequest) *Future {
	if req.FunctionCode == 0 {
		req.FunctionCode = model.FuncReadHoldingRegisters
	}
	cmd := newReadCommand(req)
	if err := req.Validate(); err != nil {
		c.rejectInvalid(cmd, err)
		return cmd.future
	}
	c.submit(cmd, req.UnitID)
	return cmd.future
}

// SubmitWrite accepts a write. Rejections are delivered through the returned future,
// which is already resolved when SubmitWrite returns.
func (c *Connection) SubmitWrite(req model.WriteRequest) *Future {
	cmd := newWriteCommand(req)
	if err := req.Validate(); err != nil {
		c.rejectInvalid(cmd, err)
		return cmd.future
	}
	c.submit(cmd, req.UnitID)
	return cmd.future
}

func (c *Connection) rejectInvalid(cmd *Command, err error) {
	cmd.future.resolve(nil, &Error{
		Kind:       KindProtocol,
		Op:         opName(cmd),
		Connection: c.name,
		Err:        err,
	})
}

func (c *Connection) submit(cmd *Command, unitID *int) {
	ev := &submitEvent{cmd: cmd, unitID: unitID, reply: make(chan struct{})}
	if err := c.call(ev, ev.reply); err != nil {
		cmd.future.resolve(nil, err)
	}
}

// Reconnect closes the link and starts a new connect cycle with the current settings
func (c *Connection) Reconnect() error {
	ev := &triggerRequest{trigger: model.TriggerClose, reply: make(chan struct{})}
	if err := c.call(ev, ev.reply); err != nil {
		return err
	}
	return ev.err
}

// Reconfigure applies new settings and reconnects with them
func (c *Connection) Reconfigure(cfg config.ConnectionConfig) error {
	cfg.ApplyDefaults()
	if cfg.Name != c.name {
		return fmt.Errorf("cannot rename connection %q to %q", c.name, cfg.Name)
	}
	if err := cfg.Validate(); err != nil {
		return &Error{Kind: KindConfiguration, Op: "reconfigure", Connection: c.name, Err: err}
	}

	ev := &reconfigureEvent{cfg: cfg, reply: make(chan struct{})}
	return c.call(ev, ev.reply)
}

const closeGracePeriod = 100 * time.Millisecond

// Close stops the connection, waits for the in-flight command to resolve and ends the worker.
// When ctx ends first the worker is stopped without waiting.
func (c *Connection) Close(ctx context.Context) error {
	ev := &shutdownEvent{reply: make(chan struct{})}
	_ = c.call(ev, ev.reply)

	select {
	case <-c.done:
	case <-ctx.Done():
		c.sctx.Stop(0)
		<-c.done
		_ = c.sctx.Wait()
		return ctx.Err()
	}

	c.sctx.Stop(closeGracePeriod)
	return c.sctx.Wait()
}

// call hands ev to the worker and waits until it has been processed
func (c *Connection) call(ev event, reply <-chan struct{}) error {
	if !c.post(ev) {
		return c.stoppedError("call")
	}
	select {
	case <-reply:
		return nil
	case <-c.done:
		return c.stoppedError("call")
	}
}

// post delivers ev to the worker; it fails only once the worker has exited
func (c *Connection) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Connection) stoppedError(op string) error {
	return &Error{Kind: KindQueueState, Op: op, Connection: c.name, State: model.StateStopped, Err: ErrStopped}
}

// refreshInfo publishes the worker state for readers on other goroutines
func (c *Connection) refreshInfo() {
	info := model.ConnectionInfo{
		Name:          c.name,
		ClientType:    c.cfg.ClientType,
		Variant:       c.cfg.Variant(),
		ServerInfo:    c.cfg.ServerInfo(),
		State:         c.state,
		PrevState:     c.prevState,
		UnitID:        c.cfg.UnitID,
		Buffered:      c.cfg.Buffered(),
		ParallelUnits: c.cfg.ParallelUnitIDs(),
		QueueLength:   c.queue.Len(),
		DirectPending: len(c.direct),
		InFlight:      c.inFlight != nil,
		Consumers:     len(c.consumers),
		UpdatedAt:     time.Now(),
	}
	if c.lastErr != nil {
		info.LastError = c.lastErr.Error()
	}
	if info.ParallelUnits && info.QueueLength > 0 {
		info.QueueByUnit = c.queue.LenByUnit()
	}
	if c.transport != nil {
		stats := c.transport.Stats()
		info.Transport = &stats
	}

	c.infoMu.Lock()
	c.info = info
	c.config = c.cfg
	c.infoMu.Unlock()

	c.metrics.setQueueDepth(c.name, info.QueueLength)
}

func opName(cmd *Command) string {
	if cmd.Kind == model.OperationWrite {
		return "write"
	}
	return "read"
}
