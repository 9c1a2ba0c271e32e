package power

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/R3DPanda1/LWN-Node/node/metrics"
)

var ErrHalted = errors.New("power: already halted")

type State int

const (
	Active State = iota
	Halted
)

func (s State) String() string {
	if s == Halted {
		return "halted"
	}
	return "active"
}

// Sleeper enters the low-power state. Production sleepers do not return:
// the node starts again from initialization on wake.
type Sleeper interface {
	Sleep(wake time.Duration)
}

type SleeperFunc func(wake time.Duration)

func (f SleeperFunc) Sleep(wake time.Duration) { f(wake) }

// ExitSleeper ends the process; the supervisor restarts it after wake.
type ExitSleeper struct{}

func (ExitSleeper) Sleep(wake time.Duration) {
	slog.Info("entering low-power halt", "component", "power", "wake_after", wake)
	os.Exit(0)
}

// Controller owns the one-way Active -> Halted transition.
type Controller struct {
	mu      sync.Mutex
	state   State
	sleeper Sleeper
	hooks   []func()
}

func NewController(s Sleeper) *Controller {
	if s == nil {
		s = ExitSleeper{}
	}
	return &Controller{sleeper: s}
}

// OnHalt registers fn to run before sleeping. Hooks run in registration
// order, so the radio should be registered first.
func (c *Controller) OnHalt(fn func()) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Halt runs the prepare hooks and hands over to the sleeper. It cannot be
// cancelled; a second call fails with ErrHalted.
func (c *Controller) Halt(wake time.Duration) error {
	c.mu.Lock()
	if c.state == Halted {
		c.mu.Unlock()
		return ErrHalted
	}
	c.state = Halted
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()

	metrics.PowerState.Set(1)
	for _, fn := range hooks {
		fn()
	}
	c.sleeper.Sleep(wake)
	return nil
}
