package loopback

import (
	"fmt"
	"log/slog"

	"github.com/R3DPanda1/LWN-Node/node/session"
)

func (e *Engine) MibGet(f session.Field) (session.MibValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cb == nil {
		return session.MibValue{}, ErrNotInitialized
	}

	switch f {
	case session.FieldNetworkActivation:
		return session.MibValue{Activation: e.activation}, nil
	case session.FieldDataRate:
		return session.MibValue{DataRate: e.dataRate}, nil
	case session.FieldTxPower:
		return session.MibValue{TxPower: e.txPower}, nil
	case session.FieldDevAddr:
		return session.MibValue{DevAddr: e.devAddr}, nil
	case session.FieldNetID:
		return session.MibValue{NetID: e.netID}, nil
	case session.FieldNwkSKey:
		return session.MibValue{Key: e.nwkSKey}, nil
	case session.FieldAppSKey:
		return session.MibValue{Key: e.appSKey}, nil
	case session.FieldNvmContext:
		return session.MibValue{Nvm: e.nvm}, nil
	case session.FieldUplinkCounter:
		return session.MibValue{Counter: e.fCntUp}, nil
	case session.FieldDownlinkCounter:
		return session.MibValue{Counter: e.fCntDown}, nil
	}
	return session.MibValue{}, fmt.Errorf("loopback: unknown mib field %d", f)
}

func (e *Engine) MibSet(f session.Field, v session.MibValue) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cb == nil {
		return ErrNotInitialized
	}

	switch f {
	case session.FieldNetworkActivation:
		e.activation = v.Activation
	case session.FieldDataRate:
		if _, err := e.band.GetDataRate(v.DataRate); err != nil {
			return fmt.Errorf("loopback: data rate %d: %w", v.DataRate, err)
		}
		e.dataRate = v.DataRate
	case session.FieldTxPower:
		if v.TxPower < 0 || e.region.EIRP(v.TxPower) == 0 {
			return fmt.Errorf("loopback: tx power %d out of range", v.TxPower)
		}
		e.txPower = v.TxPower
	case session.FieldDevAddr:
		e.devAddr = v.DevAddr
	case session.FieldNetID:
		e.netID = v.NetID
	case session.FieldNwkSKey:
		e.nwkSKey = v.Key
	case session.FieldAppSKey:
		e.appSKey = v.Key
	case session.FieldUplinkCounter:
		e.fCntUp = v.Counter
	case session.FieldDownlinkCounter:
		e.fCntDown = v.Counter
	default:
		return fmt.Errorf("loopback: mib field %d is read-only", f)
	}
	return nil
}

// AddChannel defines a custom uplink channel at slot id.
func (e *Engine) AddChannel(id int, p session.ChannelParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cb == nil {
		return ErrNotInitialized
	}
	if !e.region.Dynamic {
		return ErrStaticPlan
	}
	if id < e.region.DefaultChannels {
		return fmt.Errorf("loopback: slot %d is a default channel", id)
	}
	if p.MinDR > p.MaxDR {
		return fmt.Errorf("loopback: invalid data rate range DR%d-DR%d", p.MinDR, p.MaxDR)
	}
	if _, err := e.band.GetDataRate(p.MaxDR); err != nil {
		return fmt.Errorf("loopback: max data rate: %w", err)
	}
	if p.Frequency < 863000000 || p.Frequency > 870000000 {
		return fmt.Errorf("loopback: frequency %d outside 863-870 MHz", p.Frequency)
	}
	for ch, f := range e.frequency {
		if f == p.Frequency {
			return fmt.Errorf("loopback: frequency %d already used by channel %d", p.Frequency, ch)
		}
	}

	if err := e.nvm.Masks.Enable(id); err != nil {
		return err
	}
	e.frequency[id] = p.Frequency
	slog.Debug("channel defined", "component", "engine", "channel", id, "frequency", p.Frequency)
	return nil
}

func (e *Engine) RemoveChannel(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cb == nil {
		return ErrNotInitialized
	}
	if id < e.region.DefaultChannels {
		return fmt.Errorf("loopback: slot %d is a default channel", id)
	}
	if _, ok := e.frequency[id]; !ok {
		return fmt.Errorf("%w: slot %d", ErrUnknownChannel, id)
	}
	if err := e.nvm.Masks.Disable(id); err != nil {
		return err
	}
	delete(e.frequency, id)
	return nil
}

// ChannelIndex returns the slot whose frequency is frequency.
func (e *Engine) ChannelIndex(frequency uint32) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cb == nil {
		return -1, ErrNotInitialized
	}
	for ch, f := range e.frequency {
		if f == frequency {
			return ch, nil
		}
	}
	return -1, fmt.Errorf("%w: %d", ErrUnknownChannel, frequency)
}
