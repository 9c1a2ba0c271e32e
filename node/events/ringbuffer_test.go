package events

import "testing"

func TestRingBufferOrder(t *testing.T) {
	rb := NewRingBuffer(3)
	rb.Push("join")
	rb.Push("up")

	items := rb.Snapshot()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0] != "join" || items[1] != "up" {
		t.Errorf("expected [join, up], got %v", items)
	}
}

func TestRingBufferOverwritesOldest(t *testing.T) {
	rb := NewRingBuffer(3)
	for _, s := range []string{"a", "b", "c", "d"} {
		rb.Push(s)
	}

	items := rb.Snapshot()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0] != "b" || items[2] != "d" {
		t.Errorf("expected [b, c, d], got %v", items)
	}
	if last, _ := rb.Latest(); last != "d" {
		t.Errorf("expected latest d, got %v", last)
	}
}

func TestRingBufferEmpty(t *testing.T) {
	rb := NewRingBuffer(0)
	if rb.Len() != 0 {
		t.Errorf("expected empty, got %d items", rb.Len())
	}
	if _, ok := rb.Latest(); ok {
		t.Error("empty buffer has no latest item")
	}
	rb.Push("x")
	rb.Push("y")
	if rb.Len() != 1 {
		t.Errorf("zero capacity is clamped to one, got %d", rb.Len())
	}
}
