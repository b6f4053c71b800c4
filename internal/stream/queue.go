// ABOUTME: FIFO queue of synthetic events drained before live backend events
// ABOUTME: Implements cache.EventSink so discovered joins land here

package stream

import (
	"sync"

	"github.com/TinLe/localslackirc/internal/chat"
)

// Queue is a FIFO of events. It is safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	events []chat.Event
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends an event.
func (q *Queue) Push(ev chat.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
}

// Pop removes and returns the oldest event.
func (q *Queue) Pop() (chat.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil, false
	}
	ev := q.events[0]
	q.events[0] = nil
	q.events = q.events[1:]
	return ev, true
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
