package session

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/R3DPanda1/LWN-Node/node/channels"
	"github.com/R3DPanda1/LWN-Node/node/events"
)

// New custom channels accept DR0 to DR5 on band 1.
const (
	customMinDR = 0
	customMaxDR = 5
	customBand  = 1
)

func (s *Session) nvm() (*NvmContext, error) {
	v, err := s.engine.MibGet(FieldNvmContext)
	if err != nil {
		return nil, fmt.Errorf("read nvm context: %w", err)
	}
	if v.Nvm == nil || v.Nvm.Masks == nil {
		return nil, fmt.Errorf("read nvm context: engine returned no channel masks")
	}
	return v.Nvm, nil
}

// SetSubBand restricts uplinks to one sub-band. On error no mask is touched.
func (s *Session) SetSubBand(subBand int) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applySubBand(subBand)
}

// applySubBand expects s.mu to be held.
func (s *Session) applySubBand(subBand int) error {
	mask, err := channels.SubBandMask(s.region.Name, subBand)
	if err != nil {
		return err
	}
	nvm, err := s.nvm()
	if err != nil {
		return err
	}
	nvm.Masks.Apply(mask)
	s.subBand = subBand

	slog.Info("sub-band applied", "component", "session", "node", s.id(), "sub_band", subBand, "mask", fmt.Sprintf("%04x", mask))
	s.emitEvent(events.EventChannel, map[string]string{"sub_band": strconv.Itoa(subBand)})
	return nil
}

func (s *Session) SubBand() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subBand
}

// AddChannel defines a custom uplink channel at the lowest free slot and
// returns its index.
func (s *Session) AddChannel(frequency uint32) (int, error) {
	if err := s.ready(); err != nil {
		return -1, err
	}
	if !s.region.Dynamic {
		return -1, fmt.Errorf("%w: %s", ErrDynamicChannelsUnsupported, s.region.Name)
	}
	nvm, err := s.nvm()
	if err != nil {
		return -1, err
	}

	id, ok := channels.FindFreeSlot(nvm.Masks.Snapshot().Default)
	if !ok {
		return -1, ErrNoFreeChannel
	}
	err = s.engine.AddChannel(id, ChannelParams{
		Frequency: frequency,
		MinDR:     customMinDR,
		MaxDR:     customMaxDR,
		Band:      customBand,
	})
	if err != nil {
		return -1, fmt.Errorf("add channel %d: %w", frequency, err)
	}

	slog.Info("channel added", "component", "session", "node", s.id(), "channel", id, "frequency", frequency)
	s.emitEvent(events.EventChannel, map[string]string{"added": strconv.Itoa(id), "frequency": strconv.FormatUint(uint64(frequency), 10)})
	return id, nil
}

// DelChannel removes the custom channel defined on frequency.
func (s *Session) DelChannel(frequency uint32) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !s.region.Dynamic {
		return fmt.Errorf("%w: %s", ErrDynamicChannelsUnsupported, s.region.Name)
	}

	id, err := s.engine.ChannelIndex(frequency)
	if err != nil {
		return fmt.Errorf("find channel %d: %w", frequency, err)
	}
	if id < s.region.DefaultChannels {
		return fmt.Errorf("%w: channel %d", ErrDefaultChannel, id)
	}
	if err := s.engine.RemoveChannel(id); err != nil {
		return fmt.Errorf("remove channel %d: %w", id, err)
	}

	slog.Info("channel removed", "component", "session", "node", s.id(), "channel", id, "frequency", frequency)
	s.emitEvent(events.EventChannel, map[string]string{"removed": strconv.Itoa(id), "frequency": strconv.FormatUint(uint64(frequency), 10)})
	return nil
}
