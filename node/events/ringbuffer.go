package events

import "sync"

// RingBuffer keeps the most recent events of one topic.
type RingBuffer struct {
	items []interface{}
	head  int
	count int
	mu    sync.RWMutex
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{items: make([]interface{}, capacity)}
}

func (rb *RingBuffer) Push(item interface{}) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	size := len(rb.items)
	rb.items[(rb.head+rb.count)%size] = item
	if rb.count == size {
		rb.head = (rb.head + 1) % size
		return
	}
	rb.count++
}

// Snapshot returns the buffered events, oldest first.
func (rb *RingBuffer) Snapshot() []interface{} {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	out := make([]interface{}, rb.count)
	for i := range out {
		out[i] = rb.items[(rb.head+i)%len(rb.items)]
	}
	return out
}

// Latest returns the newest event, if any.
func (rb *RingBuffer) Latest() (interface{}, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.count == 0 {
		return nil, false
	}
	return rb.items[(rb.head+rb.count-1)%len(rb.items)], true
}

func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}
