package bridge

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSignalCoalesces(t *testing.T) {
	b := New()
	for i := 0; i < 10; i++ {
		b.Signal()
	}
	if !b.Pending() {
		t.Fatal("expected a pending signal")
	}

	if err := b.WaitAndConsume(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Pending() {
		t.Error("ten signals should collapse into one wake-up")
	}
}

func TestWaitBlocksUntilSignal(t *testing.T) {
	b := New()
	done := make(chan struct{})
	go func() {
		_ = b.WaitAndConsume(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("wait returned without a signal")
	case <-time.After(20 * time.Millisecond):
	}

	b.Signal()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after signal")
	}
}

func TestSignalAfterConsumeWakesAgain(t *testing.T) {
	b := New()
	b.Signal()
	_ = b.WaitAndConsume(context.Background())
	b.Signal()
	if !b.Pending() {
		t.Error("signal after consume must be pending again")
	}
}

func TestWaitCancelled(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.WaitAndConsume(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSingleConsumer(t *testing.T) {
	b := New()
	if err := b.Attach(); err != nil {
		t.Fatalf("first attach failed: %v", err)
	}
	if err := b.Attach(); !errors.Is(err, ErrAttached) {
		t.Errorf("expected ErrAttached, got %v", err)
	}
	b.Detach()
	if err := b.Attach(); err != nil {
		t.Errorf("attach after detach failed: %v", err)
	}
}
