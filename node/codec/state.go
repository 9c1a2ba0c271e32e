package codec

import (
	"sync"

	"github.com/dop251/goja"
)

// State survives between codec runs of one node. Scripts reach it through
// getState(name), setState(name, value) and nextCounter(name).
type State struct {
	mu        sync.Mutex
	counters  map[string]int64
	variables map[string]interface{}
}

func NewState() *State {
	return &State{
		counters:  make(map[string]int64),
		variables: make(map[string]interface{}),
	}
}

func (s *State) Get(name string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.variables[name]
}

func (s *State) Set(name string, value interface{}) {
	s.mu.Lock()
	s.variables[name] = value
	s.mu.Unlock()
}

// Next increments the named counter and returns its new value.
func (s *State) Next(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
	return s.counters[name]
}

func (s *State) inject(vm *goja.Runtime) error {
	if err := vm.Set("getState", s.Get); err != nil {
		return err
	}
	if err := vm.Set("setState", s.Set); err != nil {
		return err
	}
	return vm.Set("nextCounter", s.Next)
}
