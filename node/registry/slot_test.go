package registry

import "testing"

func TestSlotLastWriteWins(t *testing.T) {
	var s Slot[func() string]
	if _, ok := s.Get(); ok {
		t.Fatal("new slot must be empty")
	}

	s.Set(func() string { return "first" })
	s.Set(func() string { return "second" })

	fn, ok := s.Get()
	if !ok {
		t.Fatal("expected a value")
	}
	if got := fn(); got != "second" {
		t.Errorf("expected second, got %s", got)
	}
}

func TestSlotClear(t *testing.T) {
	var s Slot[int]
	s.Set(7)
	s.Clear()
	if v, ok := s.Get(); ok || v != 0 {
		t.Errorf("expected empty slot, got %d %v", v, ok)
	}
}
