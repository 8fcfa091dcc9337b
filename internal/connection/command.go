// internal/connection/command.go
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"modbus-connector/internal/model"
)

// Command is a read or write accepted for dispatch on a connection
type Command struct {
	ID           uuid.UUID
	Kind         model.OperationKind
	UnitID       uint8
	FunctionCode model.FunctionCode
	Address      uint16
	Quantity     uint16
	Values       model.Values
	SubmittedAt  time.Time

	future *Future
}

func newReadCommand(req model.ReadRequest) *Command {
	return &Command{
		ID:           uuid.New(),
		Kind:         model.OperationRead,
		FunctionCode: req.FunctionCode,
		Address:      req.Address,
		Quantity:     req.Quantity,
		SubmittedAt:  time.Now(),
		future:       newFuture(),
	}
}

func newWriteCommand(req model.WriteRequest) *Command {
	return &Command{
		ID:           uuid.New(),
		Kind:         model.OperationWrite,
		FunctionCode: req.FunctionCode,
		Address:      req.Address,
		Quantity:     uint16(req.Values.Quantity(req.FunctionCode)),
		Values:       req.Values,
		SubmittedAt:  time.Now(),
		future:       newFuture(),
	}
}

// Future returns the handle the caller waits on
func (c *Command) Future() *Future {
	return c.future
}

// Result carries either the response of a command or the error that ended it
type Result struct {
	Response *model.Response
	Err      error
}

// Future resolves exactly once with the Result of a command
type Future struct {
	done   chan struct{}
	once   sync.Once
	result Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolve is a no-op after the first call
func (f *Future) resolve(resp *model.Response, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.result = Result{Response: resp, Err: err}
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the result is available
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx ends.
// Abandoning the wait does not cancel the command.
func (f *Future) Wait(ctx context.Context) (*model.Response, error) {
	select {
	case <-f.done:
		return f.result.Response, f.result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking; ok is false while pending
func (f *Future) Result() (Result, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return Result{}, false
	}
}
