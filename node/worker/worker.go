package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/R3DPanda1/LWN-Node/node/bridge"
	"github.com/R3DPanda1/LWN-Node/node/metrics"
)

var (
	ErrNoBridge    = errors.New("worker: nil bridge")
	ErrNoProcessor = errors.New("worker: nil processor")
	ErrStarted     = errors.New("worker: already started")
)

// Processor is the external processing step run once per wake-up.
type Processor interface {
	Process()
}

type ProcessorFunc func()

func (f ProcessorFunc) Process() { f() }

// Worker drains a bridge: every wake-up runs exactly one Process call. All
// callbacks reached from Process therefore run on the worker goroutine.
type Worker struct {
	name      string
	bridge    *bridge.Bridge
	processor Processor

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func New(name string, b *bridge.Bridge, p Processor) *Worker {
	return &Worker{name: name, bridge: b, processor: p}
}

// Start attaches to the bridge and launches the loop. A failed start is not
// retried.
func (w *Worker) Start() error {
	if w.bridge == nil {
		return ErrNoBridge
	}
	if w.processor == nil {
		return ErrNoProcessor
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrStarted
	}
	if err := w.bridge.Attach(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.started = true

	go w.run(ctx)
	slog.Debug("worker started", "component", "worker", "worker", w.name)
	return nil
}

// Stop cancels the loop and waits for the in-flight step to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.cancel()
	done := w.done
	w.started = false
	w.mu.Unlock()

	<-done
	w.bridge.Detach()
	slog.Debug("worker stopped", "component", "worker", "worker", w.name)
}

func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		if err := w.bridge.WaitAndConsume(ctx); err != nil {
			return
		}
		metrics.WorkerWakeups.WithLabelValues(w.name).Inc()

		start := time.Now()
		w.processor.Process()
		metrics.ProcessDuration.WithLabelValues(w.name).Observe(time.Since(start).Seconds())
	}
}
