package channels

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/brocaar/lorawan/band"
)

const (
	MaskWords   = 6
	MaxChannels = MaskWords * 16

	// auxWord holds one bit per sub-band for the 500 kHz channels 64..71.
	auxWord = 4
)

var (
	ErrInvalidSubBand    = errors.New("channels: sub-band out of range")
	ErrUnsupportedRegion = errors.New("channels: region not supported")
	ErrInvalidChannel    = errors.New("channels: channel index out of range")
)

// Mask is a channel bitmap, bit i of word i/16 enabling channel i.
type Mask [MaskWords]uint16

func (m Mask) IsSet(ch int) bool {
	if ch < 0 || ch >= MaxChannels {
		return false
	}
	return m[ch/16]&(1<<(ch%16)) != 0
}

func (m *Mask) Set(ch int) error {
	if ch < 0 || ch >= MaxChannels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	m[ch/16] |= 1 << (ch % 16)
	return nil
}

func (m *Mask) Clear(ch int) error {
	if ch < 0 || ch >= MaxChannels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	m[ch/16] &^= 1 << (ch % 16)
	return nil
}

func (m Mask) Count() int {
	n := 0
	for _, w := range m {
		n += bits.OnesCount16(w)
	}
	return n
}

func (m Mask) Empty() bool {
	return m == Mask{}
}

// SubsetOf reports whether every channel in m is also enabled in o.
func (m Mask) SubsetOf(o Mask) bool {
	for i := range m {
		if m[i]&^o[i] != 0 {
			return false
		}
	}
	return true
}

// Channels lists the enabled channel indices in ascending order.
func (m Mask) Channels() []int {
	var out []int
	for ch := 0; ch < MaxChannels; ch++ {
		if m.IsSet(ch) {
			out = append(out, ch)
		}
	}
	return out
}

// SubBandMask returns a mask with exactly the channels of the given 1-based
// sub-band. Each 16-bit word spans two sub-bands: odd sub-bands take the low
// byte, even ones the high byte.
func SubBandMask(region band.Name, subBand int) (Mask, error) {
	r, err := Lookup(region)
	if err != nil {
		return Mask{}, err
	}
	if r.MaxSubBand == 0 {
		return Mask{}, fmt.Errorf("%w: %s has no sub-bands", ErrUnsupportedRegion, region)
	}
	if subBand < 1 || subBand > r.MaxSubBand {
		return Mask{}, fmt.Errorf("%w: %d not in [1,%d] for %s", ErrInvalidSubBand, subBand, r.MaxSubBand, region)
	}

	var m Mask
	idx := subBand - 1
	if idx%2 == 0 {
		m[idx/2] = 0x00FF
	} else {
		m[idx/2] = 0xFF00
	}
	if r.AuxWord {
		m[auxWord] = 1 << idx
	}
	return m, nil
}

// FindFreeSlot returns the lowest channel index whose bit is clear. The
// second return value is false when all MaxChannels bits are set.
func FindFreeSlot(m Mask) (int, bool) {
	for ch := 0; ch < MaxChannels; ch++ {
		if !m.IsSet(ch) {
			return ch, true
		}
	}
	return -1, false
}
