package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"modbus-connector/internal/model"
)

func TestTransitionTable(t *testing.T) {
	accepted := map[model.State]map[model.Trigger]model.State{
		model.StateInit: {
			model.TriggerNew: model.StateInit, model.TriggerInit: model.StateInit, model.TriggerDial: model.StateConnecting,
			model.TriggerBreak: model.StateBroken, model.TriggerFailure: model.StateFailed,
			model.TriggerClose: model.StateClosed, model.TriggerStop: model.StateStopped,
		},
		model.StateConnecting: {
			model.TriggerConnect: model.StateConnected, model.TriggerOpenSerial: model.StateOpened,
			model.TriggerBreak: model.StateBroken, model.TriggerFailure: model.StateFailed,
			model.TriggerClose: model.StateClosed, model.TriggerStop: model.StateStopped,
		},
		model.StateOpened: {
			model.TriggerConnect: model.StateConnected, model.TriggerBreak: model.StateBroken,
			model.TriggerFailure: model.StateFailed, model.TriggerClose: model.StateClosed, model.TriggerStop: model.StateStopped,
		},
		model.StateConnected: {
			model.TriggerActivate: model.StateActivated, model.TriggerQueue: model.StateQueueing,
			model.TriggerBreak: model.StateBroken, model.TriggerFailure: model.StateFailed,
			model.TriggerClose: model.StateClosed, model.TriggerStop: model.StateStopped,
		},
		model.StateActivated: {
			model.TriggerActivate: model.StateActivated, model.TriggerQueue: model.StateQueueing, model.TriggerEmpty: model.StateActivated,
			model.TriggerBreak: model.StateBroken, model.TriggerFailure: model.StateFailed,
			model.TriggerClose: model.StateClosed, model.TriggerStop: model.StateStopped,
		},
		model.StateQueueing: {
			model.TriggerActivate: model.StateActivated, model.TriggerQueue: model.StateQueueing, model.TriggerEmpty: model.StateActivated,
			model.TriggerBreak: model.StateBroken, model.TriggerFailure: model.StateFailed,
			model.TriggerClose: model.StateClosed, model.TriggerStop: model.StateStopped,
		},
		model.StateBroken: {
			model.TriggerReconnect: model.StateReconnecting, model.TriggerActivate: model.StateActivated,
			model.TriggerClose: model.StateClosed, model.TriggerStop: model.StateStopped,
		},
		model.StateReconnecting: {
			model.TriggerReconnect: model.StateReconnecting, model.TriggerInit: model.StateInit,
			model.TriggerClose: model.StateClosed, model.TriggerStop: model.StateStopped,
		},
		model.StateClosed: {
			model.TriggerReconnect: model.StateReconnecting, model.TriggerStop: model.StateStopped,
		},
		model.StateFailed: {
			model.TriggerClose: model.StateClosed, model.TriggerStop: model.StateStopped,
		},
		model.StateStopped: {
			model.TriggerNew: model.StateInit, model.TriggerStop: model.StateStopped,
		},
	}

	for _, state := range model.AllStates {
		for _, trigger := range model.AllTriggers {
			want, ok := accepted[state][trigger]
			got, err := nextState(state, trigger)

			if ok {
				assert.NoError(t, err, "%s on %s", trigger, state)
				assert.Equal(t, want, got, "%s on %s", trigger, state)
				assert.True(t, Accepts(state, trigger))
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition, "%s on %s", trigger, state)
				assert.Equal(t, state, got, "rejected trigger must not move the state")
				assert.False(t, Accepts(state, trigger))
			}
		}
	}
}

func TestEveryStateAcceptsStop(t *testing.T) {
	for _, state := range model.AllStates {
		next, err := nextState(state, model.TriggerStop)
		assert.NoError(t, err)
		assert.Equal(t, model.StateStopped, next)
	}
}

func TestFailedDoesNotRetryOnItsOwn(t *testing.T) {
	for _, trigger := range []model.Trigger{model.TriggerReconnect, model.TriggerInit, model.TriggerBreak, model.TriggerActivate} {
		assert.False(t, Accepts(model.StateFailed, trigger), trigger)
	}
}
