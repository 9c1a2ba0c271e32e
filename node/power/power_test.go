package power

import (
	"errors"
	"testing"
	"time"
)

func TestHaltRunsHooksInOrder(t *testing.T) {
	var order []string
	var slept time.Duration

	c := NewController(SleeperFunc(func(wake time.Duration) {
		order = append(order, "sleep")
		slept = wake
	}))
	c.OnHalt(func() { order = append(order, "radio") })
	c.OnHalt(func() { order = append(order, "retained") })

	if err := c.Halt(5 * time.Second); err != nil {
		t.Fatalf("halt: %v", err)
	}

	want := []string{"radio", "retained", "sleep"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("step %d: expected %s, got %s", i, want[i], order[i])
		}
	}
	if slept != 5*time.Second {
		t.Errorf("expected wake 5s, got %v", slept)
	}
}

func TestHaltIsOneWay(t *testing.T) {
	c := NewController(SleeperFunc(func(time.Duration) {}))
	if c.State() != Active {
		t.Fatal("new controller must be active")
	}
	_ = c.Halt(0)
	if c.State() != Halted {
		t.Error("expected halted")
	}
	if err := c.Halt(0); !errors.Is(err, ErrHalted) {
		t.Errorf("expected ErrHalted, got %v", err)
	}
}
