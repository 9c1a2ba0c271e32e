package events

import "sync"

// History keeps a bounded ring of events per topic.
type History struct {
	rings    map[string]*RingBuffer
	capacity int
	mu       sync.RWMutex
}

func NewHistory(capacity int) *History {
	return &History{
		rings:    make(map[string]*RingBuffer),
		capacity: capacity,
	}
}

func (h *History) Append(topic string, event interface{}) {
	h.mu.Lock()
	ring, ok := h.rings[topic]
	if !ok {
		ring = NewRingBuffer(h.capacity)
		h.rings[topic] = ring
	}
	h.mu.Unlock()
	ring.Push(event)
}

func (h *History) Get(topic string) []interface{} {
	h.mu.RLock()
	ring, ok := h.rings[topic]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return ring.Snapshot()
}

// Last returns the newest event of topic.
func (h *History) Last(topic string) (interface{}, bool) {
	h.mu.RLock()
	ring, ok := h.rings[topic]
	h.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return ring.Latest()
}

func (h *History) Drop(topic string) {
	h.mu.Lock()
	delete(h.rings, topic)
	h.mu.Unlock()
}
