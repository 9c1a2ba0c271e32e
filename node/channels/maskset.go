package channels

import (
	"errors"
	"sync"
)

// ErrInconsistentMasks rejects a triplet that breaks remaining ⊆ current ⊆ default.
var ErrInconsistentMasks = errors.New("channels: inconsistent mask triplet")

// Triplet is the serialisable form of a MaskSet.
type Triplet struct {
	Default   Mask `json:"default"`
	Current   Mask `json:"current"`
	Remaining Mask `json:"remaining"`
}

// MaskSet keeps the default, current and remaining masks of one session.
// Every mutation writes all three copies.
type MaskSet struct {
	mu sync.Mutex
	t  Triplet
}

func NewMaskSet(initial Mask) *MaskSet {
	return &MaskSet{t: Triplet{Default: initial, Current: initial, Remaining: initial}}
}

// Apply overwrites the three masks with m.
func (s *MaskSet) Apply(m Mask) {
	s.mu.Lock()
	s.t = Triplet{Default: m, Current: m, Remaining: m}
	s.mu.Unlock()
}

func (s *MaskSet) Enable(ch int) error {
	return s.update(func(m *Mask) error { return m.Set(ch) })
}

func (s *MaskSet) Disable(ch int) error {
	return s.update(func(m *Mask) error { return m.Clear(ch) })
}

func (s *MaskSet) update(fn func(*Mask) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.t
	for _, m := range []*Mask{&next.Default, &next.Current, &next.Remaining} {
		if err := fn(m); err != nil {
			return err
		}
	}
	s.t = next
	return nil
}

// NextRemaining takes the lowest channel still unused in this cycle. Once the
// remaining mask is exhausted it is refilled from the current mask.
func (s *MaskSet) NextRemaining() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t.Remaining.Empty() {
		s.t.Remaining = s.t.Current
	}
	for ch := 0; ch < MaxChannels; ch++ {
		if s.t.Remaining.IsSet(ch) {
			_ = s.t.Remaining.Clear(ch)
			return ch, true
		}
	}
	return -1, false
}

func (s *MaskSet) Snapshot() Triplet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t
}

func (s *MaskSet) Restore(t Triplet) error {
	if !t.Remaining.SubsetOf(t.Current) || !t.Current.SubsetOf(t.Default) {
		return ErrInconsistentMasks
	}
	s.mu.Lock()
	s.t = t
	s.mu.Unlock()
	return nil
}
