package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"modbus-connector/internal/model"
)

func receive(t *testing.T, ch <-chan model.LifecycleEvent) model.LifecycleEvent {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return event
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return model.LifecycleEvent{}
	}
}

func TestBusDeliversByType(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	go bus.Start()
	defer bus.Close()

	broken := bus.Subscribe(model.EventBroken)
	all := bus.SubscribeAll()

	bus.Publish(model.NewLifecycleEvent("plc", model.StateConnecting, model.StateInit, model.TriggerDial))
	bus.Publish(model.NewLifecycleEvent("plc", model.StateBroken, model.StateConnecting, model.TriggerBreak))

	assert.Equal(t, model.EventConnecting, receive(t, all).EventType)
	assert.Equal(t, model.EventBroken, receive(t, all).EventType)

	event := receive(t, broken)
	assert.Equal(t, model.StateBroken, event.State)
	assert.Equal(t, model.StateConnecting, event.PrevState)
	assert.Empty(t, broken)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	go bus.Start()
	defer bus.Close()

	sub := bus.SubscribeAll()
	bus.Unsubscribe(sub)

	_, ok := <-sub
	assert.False(t, ok)

	bus.Publish(model.NewLifecycleEvent("plc", model.StateInit, model.StateInit, model.TriggerInit))
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus(nil)
	go bus.Start()

	sub := bus.Subscribe(model.EventActivated)
	bus.Close()

	_, ok := <-sub
	assert.False(t, ok)

	// publishing and subscribing after close are safe
	bus.Publish(model.NewLifecycleEvent("plc", model.StateActivated, model.StateConnected, model.TriggerActivate))
	_, ok = <-bus.SubscribeAll()
	assert.False(t, ok)
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus(nil)
	// not started: the buffer fills and further events are dropped

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBusBuffer*2; i++ {
			bus.Publish(model.NewLifecycleEvent("plc", model.StateQueueing, model.StateActivated, model.TriggerQueue))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked")
	}
	bus.Close()
}
