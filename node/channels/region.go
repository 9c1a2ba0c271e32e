package channels

import (
	"fmt"

	"github.com/brocaar/lorawan/band"
)

// Region describes how the node restricts channels in one regional plan.
type Region struct {
	Name band.Name
	// MaxSubBand is zero for regions without sub-band selection.
	MaxSubBand int
	// AuxWord marks plans with a 500 kHz channel per sub-band in word 4.
	AuxWord bool
	// Dynamic marks plans that accept custom channel definitions.
	Dynamic bool
	// DefaultChannels are fixed by the plan and cannot be removed.
	DefaultChannels int
	MaxEIRP         int
	Default         Mask
	// DeniedDataRates are refused at initialization.
	DeniedDataRates []int
}

var regions = map[band.Name]Region{
	band.EU868: {
		Name:            band.EU868,
		Dynamic:         true,
		DefaultChannels: 3,
		MaxEIRP:         16,
		Default:         Mask{0x0007},
	},
	band.US915: {
		Name:            band.US915,
		MaxSubBand:      8,
		AuxWord:         true,
		MaxEIRP:         30,
		Default:         Mask{0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF, 0x00FF},
		DeniedDataRates: []int{5, 6, 7},
	},
	band.AU915: {
		Name:       band.AU915,
		MaxSubBand: 8,
		AuxWord:    true,
		MaxEIRP:    30,
		Default:    Mask{0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF, 0x00FF},
	},
	band.CN470: {
		Name:       band.CN470,
		MaxSubBand: 12,
		MaxEIRP:    19,
		Default:    Mask{0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF},
	},
}

func Lookup(name band.Name) (Region, error) {
	r, ok := regions[name]
	if !ok {
		return Region{}, fmt.Errorf("%w: %s", ErrUnsupportedRegion, name)
	}
	return r, nil
}

// DataRateAllowed reports whether the node accepts dr for this region.
func (r Region) DataRateAllowed(dr int) bool {
	for _, d := range r.DeniedDataRates {
		if d == dr {
			return false
		}
	}
	return true
}

// EIRP maps a TX power index to dBm: each step lowers the maximum by 2 dB.
func (r Region) EIRP(txPower int) int {
	eirp := r.MaxEIRP - 2*txPower
	if eirp < 0 {
		return 0
	}
	return eirp
}

// TxPower is the inverse of EIRP, rounding towards the next lower power.
func (r Region) TxPower(eirp int) int {
	if eirp >= r.MaxEIRP {
		return 0
	}
	return (r.MaxEIRP - eirp + 1) / 2
}
