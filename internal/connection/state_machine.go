// internal/connection/state_machine.go
package connection

import (
	"fmt"

	"modbus-connector/internal/model"
)

// transitions is the complete table of accepted (state, trigger) pairs.
// Any pair missing from it is rejected with ErrInvalidTransition.
var transitions = map[model.State]map[model.Trigger]model.State{
	model.StateInit: {
		model.TriggerNew:     model.StateInit,
		model.TriggerInit:    model.StateInit,
		model.TriggerDial:    model.StateConnecting,
		model.TriggerBreak:   model.StateBroken,
		model.TriggerFailure: model.StateFailed,
		model.TriggerClose:   model.StateClosed,
		model.TriggerStop:    model.StateStopped,
	},
	model.StateConnecting: {
		model.TriggerConnect:    model.StateConnected,
		model.TriggerOpenSerial: model.StateOpened,
		model.TriggerBreak:      model.StateBroken,
		model.TriggerFailure:    model.StateFailed,
		model.TriggerClose:      model.StateClosed,
		model.TriggerStop:       model.StateStopped,
	},
	model.StateOpened: {
		model.TriggerConnect: model.StateConnected,
		model.TriggerBreak:   model.StateBroken,
		model.TriggerFailure: model.StateFailed,
		model.TriggerClose:   model.StateClosed,
		model.TriggerStop:    model.StateStopped,
	},
	model.StateConnected: {
		model.TriggerActivate: model.StateActivated,
		model.TriggerQueue:    model.StateQueueing,
		model.TriggerBreak:    model.StateBroken,
		model.TriggerFailure:  model.StateFailed,
		model.TriggerClose:    model.StateClosed,
		model.TriggerStop:     model.StateStopped,
	},
	model.StateActivated: {
		model.TriggerActivate: model.StateActivated,
		model.TriggerQueue:    model.StateQueueing,
		model.TriggerEmpty:    model.StateActivated,
		model.TriggerBreak:    model.StateBroken,
		model.TriggerFailure:  model.StateFailed,
		model.TriggerClose:    model.StateClosed,
		model.TriggerStop:     model.StateStopped,
	},
	model.StateQueueing: {
		model.TriggerActivate: model.StateActivated,
		model.TriggerQueue:    model.StateQueueing,
		model.TriggerEmpty:    model.StateActivated,
		model.TriggerBreak:    model.StateBroken,
		model.TriggerFailure:  model.StateFailed,
		model.TriggerClose:    model.StateClosed,
		model.TriggerStop:     model.StateStopped,
	},
	model.StateBroken: {
		model.TriggerReconnect: model.StateReconnecting,
		model.TriggerActivate:  model.StateActivated,
		model.TriggerClose:     model.StateClosed,
		model.TriggerStop:      model.StateStopped,
	},
	model.StateReconnecting: {
		model.TriggerReconnect: model.StateReconnecting,
		model.TriggerInit:      model.StateInit,
		model.TriggerClose:     model.StateClosed,
		model.TriggerStop:      model.StateStopped,
	},
	model.StateClosed: {
		model.TriggerReconnect: model.StateReconnecting,
		model.TriggerStop:      model.StateStopped,
	},
	// failed never retries on its own
	model.StateFailed: {
		model.TriggerClose: model.StateClosed,
		model.TriggerStop:  model.StateStopped,
	},
	model.StateStopped: {
		model.TriggerNew:  model.StateInit,
		model.TriggerStop: model.StateStopped,
	},
}

// nextState returns the state reached from current on trigger
func nextState(current model.State, trigger model.Trigger) (model.State, error) {
	if next, ok := transitions[current][trigger]; ok {
		return next, nil
	}
	return current, fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, trigger, current)
}

// Accepts reports whether trigger is valid in state
func Accepts(state model.State, trigger model.Trigger) bool {
	_, ok := transitions[state][trigger]
	return ok
}
