// Package bridge carries wake-up signals from the radio interrupt context to
// the protocol worker.
//
// A Bridge is a binary signal: at most one wake-up is pending at any time and
// signals raised while one is already pending collapse into it. Signal never
// blocks, so it is safe to call from an interrupt callback.
package bridge

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/R3DPanda1/LWN-Node/node/metrics"
)

// ErrAttached is returned when a second consumer tries to attach.
var ErrAttached = errors.New("bridge: already attached to a worker")

type Bridge struct {
	ch       chan struct{}
	attached atomic.Bool
}

func New() *Bridge {
	return &Bridge{ch: make(chan struct{}, 1)}
}

// Signal marks a wake-up as pending.
func (b *Bridge) Signal() {
	select {
	case b.ch <- struct{}{}:
		metrics.SignalsTotal.WithLabelValues("pending").Inc()
	default:
		metrics.SignalsTotal.WithLabelValues("coalesced").Inc()
	}
}

// WaitAndConsume blocks until a wake-up is pending and clears it. It only
// returns early when ctx is done.
func (b *Bridge) WaitAndConsume(ctx context.Context) error {
	select {
	case <-b.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) Pending() bool {
	return len(b.ch) > 0
}

// Attach reserves the bridge for a single consumer.
func (b *Bridge) Attach() error {
	if !b.attached.CompareAndSwap(false, true) {
		return ErrAttached
	}
	return nil
}

func (b *Bridge) Detach() {
	b.attached.Store(false)
}
