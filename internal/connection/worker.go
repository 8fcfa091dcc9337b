// internal/connection/worker.go
package connection

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"vawter.tech/stopper"

	"modbus-connector/internal/config"
	"modbus-connector/internal/model"
	"modbus-connector/internal/protocol"
)

type event interface{}

// replier is implemented by events whose caller waits for processing to finish
type replier interface {
	done()
}

type submitEvent struct {
	cmd    *Command
	unitID *int
	reply  chan struct{}
}

type registerEvent struct {
	consumerID string
	count      int
	err        error
	reply      chan struct{}
}

type deregisterEvent struct {
	consumerID string
	remaining  int
	reply      chan struct{}
}

type triggerRequest struct {
	trigger model.Trigger
	err     error
	reply   chan struct{}
}

type reconfigureEvent struct {
	cfg   config.ConnectionConfig
	reply chan struct{}
}

type shutdownEvent struct {
	reply chan struct{}
}

type connectResultEvent struct {
	generation uint64
	transport  protocol.Transport
	err        error
}

type dispatchResultEvent struct {
	generation uint64
	cmd        *Command
	resp       *model.Response
	err        error
	duration   time.Duration
}

type timerEvent struct {
	kind timerKind
	seq  uint64
}

func (e *submitEvent) done()      { close(e.reply) }
func (e *registerEvent) done()    { close(e.reply) }
func (e *deregisterEvent) done()  { close(e.reply) }
func (e *triggerRequest) done()   { close(e.reply) }
func (e *reconfigureEvent) done() { close(e.reply) }
func (e *shutdownEvent) done()    { close(e.reply) }

type timerKind int

const (
	timerDial timerKind = iota
	timerSerialOpen
	timerDrain
	timerReconnect
)

type workerTimer struct {
	timer *time.Timer
	seq   uint64
}

// run is the connection worker
func (c *Connection) run(sctx *stopper.Context) error {
	defer c.finish()

	for {
		select {
		case <-sctx.Stopping():
			return nil
		case ev := <-c.events:
			c.handle(ev)
			c.processPending()
			c.refreshInfo()
			if r, ok := ev.(replier); ok {
				r.done()
			}
			if c.exiting && c.inFlight == nil {
				return nil
			}
		}
	}
}

func (c *Connection) finish() {
	c.disarmAll()
	c.closeTransport()
	c.rejectPending(KindQueueState, ErrStopped)
	if c.state != model.StateStopped {
		c.prevState, c.state = c.state, model.StateStopped
	}
	c.ioCancel()
	c.refreshInfo()
	close(c.done)
}

func (c *Connection) handle(ev event) {
	switch ev := ev.(type) {
	case *submitEvent:
		c.handleSubmit(ev)
	case *registerEvent:
		c.handleRegister(ev)
	case *deregisterEvent:
		c.handleDeregister(ev)
	case *triggerRequest:
		if !Accepts(c.state, ev.trigger) {
			ev.err = &Error{
				Kind:       KindQueueState,
				Op:         string(ev.trigger),
				Connection: c.name,
				State:      c.state,
				Err:        ErrInvalidTransition,
			}
			return
		}
		c.send(ev.trigger)
	case *reconfigureEvent:
		c.handleReconfigure(ev)
	case *shutdownEvent:
		c.exiting = true
		c.closing = true
		c.consumers = make(map[string]struct{})
		c.send(model.TriggerStop)
	case connectResultEvent:
		c.handleConnectResult(ev)
	case dispatchResultEvent:
		c.handleDispatchResult(ev)
	case timerEvent:
		c.handleTimer(ev)
	}
}

// send queues a trigger; triggers are processed in order after the current event
func (c *Connection) send(trigger model.Trigger) {
	c.pending = append(c.pending, trigger)
}

func (c *Connection) processPending() {
	for len(c.pending) > 0 {
		trigger := c.pending[0]
		c.pending = c.pending[1:]
		c.fire(trigger)
	}
}

// fire applies one trigger to the state machine and runs the entry action of the target state
func (c *Connection) fire(trigger model.Trigger) {
	next, err := nextState(c.state, trigger)
	if err != nil {
		c.logger.LogInvalidTransition(string(c.state), string(trigger))
		c.metrics.observeInvalidTrigger(c.name, c.state, trigger)
		return
	}

	prev := c.state
	changed := prev != next
	if changed {
		c.prevState, c.state = prev, next
		c.logger.LogTransition(string(prev), string(next), string(trigger))
		c.metrics.observeTransition(c.name, prev, next)
	}

	switch {
	case trigger == model.TriggerNew:
		c.send(model.TriggerInit)
		return
	case !changed && next == model.StateStopped:
		return
	}

	c.enter(next, trigger, changed)
}

func (c *Connection) enter(state model.State, trigger model.Trigger, changed bool) {
	switch state {
	case model.StateInit:
		c.onInit(trigger)
	case model.StateConnecting:
		c.emit(trigger)
		c.onConnecting()
	case model.StateOpened:
		c.emit(trigger)
		c.arm(timerSerialOpen, c.cfg.Serial.ConnectionDelay)
	case model.StateConnected:
		c.emit(trigger)
		c.send(model.TriggerActivate)
	case model.StateActivated:
		if changed {
			c.emit(trigger)
		}
		c.onActivated()
	case model.StateQueueing:
		if changed {
			c.emit(trigger)
		}
		c.armDrain()
	case model.StateBroken:
		c.emit(trigger)
		if c.cfg.ReconnectsOnTimeout() {
			c.send(model.TriggerReconnect)
		} else {
			c.send(model.TriggerActivate)
		}
	case model.StateReconnecting:
		if changed {
			c.emit(trigger)
		}
		c.arm(timerReconnect, c.cfg.ReconnectTimeout)
		c.metrics.observeReconnect(c.name)
	case model.StateClosed:
		c.emit(trigger)
		c.disarmAll()
		c.closeTransport()
		if !c.closing {
			c.send(model.TriggerReconnect)
		}
	case model.StateFailed:
		c.emit(trigger)
		c.disarmAll()
		c.closeTransport()
		cause := c.lastErr
		if cause == nil {
			cause = fmt.Errorf("connection failed in state %s", c.prevState)
		}
		c.logger.Error("Connection failed, waiting for reconfiguration", zap.Error(cause))
		c.rejectPending(KindConfiguration, cause)
	case model.StateStopped:
		c.emit(trigger)
		c.disarmAll()
		c.closeTransport()
		c.rejectPending(KindQueueState, ErrStopped)
	}
}

// emit publishes the lifecycle notification for the current state
func (c *Connection) emit(trigger model.Trigger) {
	if c.notifier == nil {
		return
	}
	evt := model.NewLifecycleEvent(c.name, c.state, c.prevState, trigger)
	evt.ServerInfo = c.cfg.ServerInfo()
	if c.lastErr != nil && (c.state == model.StateBroken || c.state == model.StateFailed) {
		evt.Error = c.lastErr.Error()
	}
	c.notifier.Publish(evt)
}

func (c *Connection) onInit(trigger model.Trigger) {
	if trigger != model.TriggerInit {
		return
	}

	c.disarmAll()
	c.closeTransport()
	c.generation++
	c.rejectPending(KindTransport, ErrConnectionReset)
	c.queue.Reset(c.cfg.ParallelUnitIDs())

	delay := c.cfg.ReconnectTimeout
	if c.firstInit {
		delay = c.cfg.StartupDelay
		c.firstInit = false
	}

	c.emit(trigger)
	c.logger.Info("Initializing connection", zap.Duration("delay", delay), zap.Uint64("generation", c.generation))
	c.arm(timerDial, delay)
}

func (c *Connection) onConnecting() {
	if err := c.checkConfig(); err != nil {
		c.lastErr = err
		c.send(model.TriggerFailure)
		return
	}

	cfg := c.cfg
	transport, err := c.factory.CreateTransport(&cfg)
	if err != nil {
		c.lastErr = c.linkError("connect", err)
		c.logger.LogConnection("create_transport", false, err)
		if Classify(err) == ClassFatal {
			c.send(model.TriggerFailure)
		} else {
			c.send(model.TriggerBreak)
		}
		return
	}

	generation := c.generation
	ctx := c.ioCtx
	go func() {
		err := transport.Connect(ctx)
		if !c.post(connectResultEvent{generation: generation, transport: transport, err: err}) {
			_ = transport.Close()
		}
	}()
}

func (c *Connection) checkConfig() error {
	if !model.ValidUnitID(c.cfg.IsSerial(), c.cfg.UnitID) {
		return &Error{
			Kind:       KindConfiguration,
			Op:         "connect",
			Connection: c.name,
			State:      c.state,
			Err:        fmt.Errorf("%w: %d", ErrInvalidUnitID, c.cfg.UnitID),
		}
	}
	if c.cfg.IsSerial() && c.cfg.Serial.Port == "" {
		return &Error{Kind: KindConfiguration, Op: "connect", Connection: c.name, State: c.state, Err: ErrMissingSerialPort}
	}
	return nil
}

func (c *Connection) handleConnectResult(ev connectResultEvent) {
	if ev.generation != c.generation || c.state != model.StateConnecting {
		if ev.err == nil {
			go ev.transport.Close()
		}
		return
	}

	if ev.err != nil {
		c.lastErr = c.linkError("connect", ev.err)
		c.logger.LogConnection("connect", false, ev.err)
		if Classify(ev.err) == ClassFatal {
			c.send(model.TriggerFailure)
		} else {
			c.send(model.TriggerBreak)
		}
		return
	}

	c.transport = ev.transport
	c.lastErr = nil
	c.logger.LogConnection("connect", true, nil)

	if c.cfg.IsSerial() {
		c.send(model.TriggerOpenSerial)
		return
	}
	c.configureTransport()
	c.send(model.TriggerConnect)
}

func (c *Connection) configureTransport() {
	if c.transport == nil {
		return
	}
	c.transport.SetUnitID(uint8(c.cfg.UnitID))
	c.transport.SetTimeout(c.cfg.ClientTimeout)
}

func (c *Connection) onActivated() {
	if c.cfg.Buffered() {
		if !c.queue.IsEmpty() {
			c.send(model.TriggerQueue)
		}
		return
	}
	c.dispatchNextDirect()
}

func (c *Connection) handleSubmit(ev *submitEvent) {
	cmd := ev.cmd
	if !c.state.SubmitAllowed() {
		c.reject(cmd, &Error{Kind: KindQueueState, Op: opName(cmd), Connection: c.name, State: c.state, Err: ErrNotReady})
		return
	}

	unitID := c.cfg.UnitID
	if ev.unitID != nil {
		unitID = *ev.unitID
	}
	if !model.ValidUnitID(c.cfg.IsSerial(), unitID) {
		c.reject(cmd, &Error{
			Kind:       KindConfiguration,
			Op:         opName(cmd),
			Connection: c.name,
			State:      c.state,
			Err:        fmt.Errorf("%w: %d", ErrInvalidUnitID, unitID),
		})
		return
	}
	cmd.UnitID = uint8(unitID)

	if c.cfg.Buffered() {
		c.queue.Enqueue(cmd)
		c.logger.LogQueue("Command queued",
			zap.String("command_id", cmd.ID.String()),
			zap.Uint8("unit_id", cmd.UnitID),
			zap.Int("queue_length", c.queue.Len()),
		)
		c.send(model.TriggerQueue)
		return
	}

	c.direct = append(c.direct, cmd)
	c.dispatchNextDirect()
}

func (c *Connection) reject(cmd *Command, err error) {
	cmd.future.resolve(nil, err)
	c.metrics.observeCommand(c.name, cmd, "rejected", 0)
}

// rejectPending resolves every command that has not been dispatched yet
func (c *Connection) rejectPending(kind ErrorKind, cause error) {
	pending := c.queue.DrainAll()
	pending = append(pending, c.direct...)
	c.direct = nil
	c.drainArmed = false

	for _, cmd := range pending {
		c.reject(cmd, &Error{Kind: kind, Op: opName(cmd), Connection: c.name, State: c.state, Err: cause})
	}
	if len(pending) > 0 {
		c.logger.Info("Rejected pending commands", zap.Int("count", len(pending)), zap.Error(cause))
	}
}

func (c *Connection) armDrain() {
	if c.drainArmed || c.inFlight != nil {
		return
	}
	c.arm(timerDrain, c.cfg.CommandDelay)
	c.drainArmed = true
}

func (c *Connection) drainOne() {
	c.drainArmed = false
	if c.state != model.StateQueueing || c.inFlight != nil {
		return
	}

	cmd := c.queue.Dequeue()
	if cmd == nil {
		c.send(model.TriggerEmpty)
		return
	}

	c.logger.LogQueue("Command dequeued",
		zap.String("command_id", cmd.ID.String()),
		zap.Uint8("unit_id", cmd.UnitID),
		zap.Int("queue_length", c.queue.Len()),
	)
	c.dispatch(cmd)
}

func (c *Connection) dispatchNextDirect() {
	if c.inFlight != nil || len(c.direct) == 0 || !c.state.SubmitAllowed() {
		return
	}
	cmd := c.direct[0]
	c.direct[0] = nil
	c.direct = c.direct[1:]
	c.dispatch(cmd)
}

// dispatch hands cmd to the transport; the exchange runs off the worker goroutine
func (c *Connection) dispatch(cmd *Command) {
	c.inFlight = cmd

	transport := c.transport
	generation := c.generation
	ctx := c.ioCtx

	go func() {
		var (
			resp *model.Response
			err  error
		)
		start := time.Now()

		switch {
		case transport == nil:
			err = protocol.ErrPortNotOpen
		case cmd.Kind == model.OperationWrite:
			resp, err = transport.Write(ctx, cmd.UnitID, cmd.FunctionCode, cmd.Address, cmd.Values)
		default:
			resp, err = transport.Read(ctx, cmd.UnitID, cmd.FunctionCode, cmd.Address, cmd.Quantity)
		}

		result := dispatchResultEvent{
			generation: generation,
			cmd:        cmd,
			resp:       resp,
			err:        err,
			duration:   time.Since(start),
		}
		if !c.post(result) {
			// worker is gone; the caller still gets the outcome
			if err != nil {
				err = &Error{Kind: kindForClass(Classify(err)), Op: opName(cmd), Connection: c.name, Err: err}
			}
			cmd.future.resolve(resp, err)
		}
	}()
}

func (c *Connection) handleDispatchResult(ev dispatchResultEvent) {
	cmd := ev.cmd
	if c.inFlight == cmd {
		c.inFlight = nil
	}
	current := ev.generation == c.generation

	if ev.err == nil {
		cmd.future.resolve(ev.resp, nil)
		c.metrics.observeCommand(c.name, cmd, "success", ev.duration)
		c.logger.LogCommand(cmd.ID.String(), uint8(cmd.FunctionCode), cmd.UnitID, ev.duration, nil)
		c.continueAfterDispatch()
		return
	}

	class := Classify(ev.err)
	err := &Error{Kind: kindForClass(class), Op: opName(cmd), Connection: c.name, State: c.state, Err: ev.err}
	cmd.future.resolve(nil, err)
	c.metrics.observeCommand(c.name, cmd, "error", ev.duration)
	c.logger.LogCommand(cmd.ID.String(), uint8(cmd.FunctionCode), cmd.UnitID, ev.duration, ev.err)

	if current && c.state.SubmitAllowed() {
		switch class {
		case ClassFatal:
			c.lastErr = err
			c.send(model.TriggerFailure)
			return
		case ClassRecoverable:
			c.lastErr = err
			c.send(model.TriggerBreak)
			return
		}
	}
	c.continueAfterDispatch()
}

// continueAfterDispatch keeps the drain cycle going once the in-flight slot is free
func (c *Connection) continueAfterDispatch() {
	if c.exiting {
		return
	}

	if c.cfg.Buffered() {
		switch c.state {
		case model.StateQueueing:
			if c.queue.IsEmpty() {
				c.send(model.TriggerEmpty)
			} else {
				c.send(model.TriggerQueue)
			}
		case model.StateActivated, model.StateConnected:
			if !c.queue.IsEmpty() {
				c.send(model.TriggerQueue)
			}
		}
		return
	}

	switch c.state {
	case model.StateOpened:
		c.dispatchNextDirect()
	case model.StateConnected, model.StateActivated:
		c.send(model.TriggerActivate)
	}
}

func (c *Connection) handleRegister(ev *registerEvent) {
	if c.exiting {
		ev.err = &Error{Kind: KindQueueState, Op: "register", Connection: c.name, State: c.state, Err: ErrStopped}
		return
	}

	_, known := c.consumers[ev.consumerID]
	c.consumers[ev.consumerID] = struct{}{}
	ev.count = len(c.consumers)

	if !known && ev.count == 1 {
		c.closing = false
		c.logger.Info("First consumer registered", zap.String("consumer_id", ev.consumerID))
		c.send(model.TriggerNew)
	}
}

func (c *Connection) handleDeregister(ev *deregisterEvent) {
	_, known := c.consumers[ev.consumerID]
	delete(c.consumers, ev.consumerID)
	ev.remaining = len(c.consumers)

	if known && ev.remaining == 0 {
		c.closing = true
		c.logger.Info("Last consumer deregistered", zap.String("consumer_id", ev.consumerID))
		c.closeTransport()
		c.send(model.TriggerStop)
	}
}

func (c *Connection) handleReconfigure(ev *reconfigureEvent) {
	c.cfg = ev.cfg
	c.logger = c.newConnectionLogger()
	c.logger.Info("Connection settings changed", zap.String("server_info", c.cfg.ServerInfo()))

	if len(c.consumers) == 0 {
		return
	}
	c.send(model.TriggerClose)
}

func (c *Connection) handleTimer(ev timerEvent) {
	t, ok := c.timers[ev.kind]
	if !ok || t.seq != ev.seq {
		return
	}
	delete(c.timers, ev.kind)

	switch ev.kind {
	case timerDial:
		if c.state == model.StateInit {
			c.send(model.TriggerDial)
		}
	case timerSerialOpen:
		if c.state == model.StateOpened {
			c.configureTransport()
			c.send(model.TriggerConnect)
		}
	case timerDrain:
		c.drainOne()
	case timerReconnect:
		if c.state == model.StateReconnecting {
			c.send(model.TriggerInit)
		}
	}
}

// arm replaces any timer of the same kind
func (c *Connection) arm(kind timerKind, delay time.Duration) {
	c.disarm(kind)
	c.timerSeq++
	seq := c.timerSeq
	c.timers[kind] = &workerTimer{
		seq: seq,
		timer: time.AfterFunc(delay, func() {
			c.post(timerEvent{kind: kind, seq: seq})
		}),
	}
}

func (c *Connection) disarm(kind timerKind) {
	if t, ok := c.timers[kind]; ok {
		t.timer.Stop()
		delete(c.timers, kind)
	}
	if kind == timerDrain {
		c.drainArmed = false
	}
}

func (c *Connection) disarmAll() {
	for kind := range c.timers {
		c.disarm(kind)
	}
	c.drainArmed = false
}

func (c *Connection) closeTransport() {
	if c.transport == nil {
		return
	}
	transport := c.transport
	c.transport = nil
	logger := c.logger

	go func() {
		if err := transport.Close(); err != nil {
			logger.Debug("Transport close failed", zap.Error(err))
		}
	}()
}

func (c *Connection) linkError(op string, err error) *Error {
	return &Error{Kind: kindForClass(Classify(err)), Op: op, Connection: c.name, State: c.state, Err: err}
}

func kindForClass(class ErrorClass) ErrorKind {
	switch class {
	case ClassFatal:
		return KindConfiguration
	case ClassRecoverable:
		return KindTransport
	default:
		return KindProtocol
	}
}
