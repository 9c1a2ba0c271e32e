// Package registry holds application callbacks in single-slot cells.
package registry

import "sync"

// Slot stores at most one value. The last Set wins.
type Slot[T any] struct {
	mu    sync.RWMutex
	value T
	set   bool
}

func (s *Slot[T]) Set(v T) {
	s.mu.Lock()
	s.value = v
	s.set = true
	s.mu.Unlock()
}

// Get returns the stored value and whether one is present.
func (s *Slot[T]) Get() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.set
}

func (s *Slot[T]) Clear() {
	s.mu.Lock()
	var zero T
	s.value = zero
	s.set = false
	s.mu.Unlock()
}
