// Package stats carries statistics records from the flow tables to the
// configured sinks.
package stats

import (
	"sync"

	"firestige.xyz/tcpgeek/internal/core"
)

// Queue is an unbounded FIFO of statistics records. Producers are the flow
// tables, the consumer is the control loop. It never drops records.
type Queue struct {
	mu      sync.Mutex
	records []core.StatRecord
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends rec.
func (q *Queue) Enqueue(rec core.StatRecord) {
	q.mu.Lock()
	q.records = append(q.records, rec)
	q.mu.Unlock()
}

// Drain removes and returns every queued record in arrival order.
func (q *Queue) Drain() []core.StatRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.records
	q.records = nil
	return out
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}
