package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modbus-connector/internal/model"
)

func queuedRead(unitID uint8, address uint16) *Command {
	cmd := newReadCommand(model.ReadRequest{FunctionCode: model.FuncReadHoldingRegisters, Address: address, Quantity: 1})
	cmd.UnitID = unitID
	return cmd
}

func addresses(cmds []*Command) []uint16 {
	out := make([]uint16, len(cmds))
	for i, cmd := range cmds {
		out[i] = cmd.Address
	}
	return out
}

func TestSharedQueueKeepsSubmissionOrder(t *testing.T) {
	q := newCommandQueue(false)
	q.Enqueue(queuedRead(1, 10))
	q.Enqueue(queuedRead(2, 20))
	q.Enqueue(queuedRead(1, 11))

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, map[int]int{sharedQueueKey: 3}, q.LenByUnit())
	assert.Equal(t, []uint16{10, 20, 11}, addresses(q.DrainAll()))
	assert.True(t, q.IsEmpty())
}

func TestParallelQueueServesUnitsRoundRobin(t *testing.T) {
	q := newCommandQueue(true)
	q.Enqueue(queuedRead(1, 10))
	q.Enqueue(queuedRead(1, 11))
	q.Enqueue(queuedRead(1, 12))
	q.Enqueue(queuedRead(2, 20))
	q.Enqueue(queuedRead(3, 30))
	q.Enqueue(queuedRead(2, 21))

	assert.Equal(t, map[int]int{1: 3, 2: 2, 3: 1}, q.LenByUnit())

	var order []uint16
	for cmd := q.Dequeue(); cmd != nil; cmd = q.Dequeue() {
		order = append(order, cmd.Address)
	}
	assert.Equal(t, []uint16{10, 20, 30, 11, 21, 12}, order)
	assert.Zero(t, q.Len())
}

func TestParallelQueueKeepsPerUnitFIFO(t *testing.T) {
	q := newCommandQueue(true)
	q.Enqueue(queuedRead(5, 1))
	first := q.Dequeue()
	require.NotNil(t, first)

	q.Enqueue(queuedRead(5, 2))
	q.Enqueue(queuedRead(5, 3))
	assert.Equal(t, uint16(2), q.Dequeue().Address)
	assert.Equal(t, uint16(3), q.Dequeue().Address)
	assert.Nil(t, q.Dequeue())
	assert.Empty(t, q.LenByUnit())
}

func TestQueueReset(t *testing.T) {
	q := newCommandQueue(true)
	q.Enqueue(queuedRead(1, 1))
	q.Reset(false)

	assert.True(t, q.IsEmpty())
	assert.Nil(t, q.Dequeue())

	q.Enqueue(queuedRead(7, 1))
	assert.Equal(t, map[int]int{sharedQueueKey: 1}, q.LenByUnit())
}
