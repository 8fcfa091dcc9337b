// internal/connection/queue.go
package connection

// sharedQueueKey is used for every command when unit ids are not queued separately
const sharedQueueKey = -1

// unitQueue is a FIFO of commands for one unit id
type unitQueue struct {
	key   int
	items []*Command
}

// commandQueue holds buffered commands. With parallel unit ids each unit id gets its own FIFO
// and the FIFOs are served round-robin; otherwise a single FIFO keeps submission order.
// It is owned by the connection worker and is not safe for concurrent use.
type commandQueue struct {
	parallel bool
	queues   map[int]*unitQueue
	order    []int // round robin order
	idx      int
	size     int
}

func newCommandQueue(parallel bool) *commandQueue {
	return &commandQueue{
		parallel: parallel,
		queues:   make(map[int]*unitQueue),
		order:    make([]int, 0, 4),
	}
}

func (q *commandQueue) keyFor(cmd *Command) int {
	if q.parallel {
		return int(cmd.UnitID)
	}
	return sharedQueueKey
}

// Enqueue appends cmd to the FIFO of its unit id
func (q *commandQueue) Enqueue(cmd *Command) {
	key := q.keyFor(cmd)
	uq := q.queues[key]
	if uq == nil {
		uq = &unitQueue{key: key}
		q.queues[key] = uq
		q.order = append(q.order, key)
	}
	uq.items = append(uq.items, cmd)
	q.size++
}

// Dequeue removes the next command, or returns nil when every FIFO is empty
func (q *commandQueue) Dequeue() *Command {
	n := len(q.order)
	for i := 0; i < n; i++ {
		j := (q.idx + i) % n
		uq := q.queues[q.order[j]]
		if len(uq.items) == 0 {
			continue
		}

		cmd := uq.items[0]
		uq.items[0] = nil
		uq.items = uq.items[1:]
		q.size--
		q.idx = (j + 1) % n
		return cmd
	}
	return nil
}

// Len returns the number of queued commands across all unit ids
func (q *commandQueue) Len() int {
	return q.size
}

// IsEmpty reports whether nothing is queued
func (q *commandQueue) IsEmpty() bool {
	return q.size == 0
}

// LenByUnit returns the queue length per unit id with pending commands; the shared queue is
// reported as -1
func (q *commandQueue) LenByUnit() map[int]int {
	lengths := make(map[int]int, len(q.queues))
	for key, uq := range q.queues {
		if len(uq.items) > 0 {
			lengths[key] = len(uq.items)
		}
	}
	return lengths
}

// DrainAll empties the queue and returns the commands in dispatch order
func (q *commandQueue) DrainAll() []*Command {
	drained := make([]*Command, 0, q.size)
	for cmd := q.Dequeue(); cmd != nil; cmd = q.Dequeue() {
		drained = append(drained, cmd)
	}
	q.Reset(q.parallel)
	return drained
}

// Reset discards all bookkeeping; callers must drain pending commands first
func (q *commandQueue) Reset(parallel bool) {
	q.parallel = parallel
	q.queues = make(map[int]*unitQueue)
	q.order = q.order[:0]
	q.idx = 0
	q.size = 0
}
