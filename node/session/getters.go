package session

import (
	"github.com/brocaar/lorawan"
	"github.com/brocaar/lorawan/band"
)

func (s *Session) get(f Field) (MibValue, error) {
	if err := s.ready(); err != nil {
		return MibValue{}, err
	}
	return s.engine.MibGet(f)
}

func (s *Session) DevAddr() (lorawan.DevAddr, error) {
	v, err := s.get(FieldDevAddr)
	return v.DevAddr, err
}

func (s *Session) NetID() (lorawan.NetID, error) {
	v, err := s.get(FieldNetID)
	return v.NetID, err
}

func (s *Session) DataRate() (int, error) {
	v, err := s.get(FieldDataRate)
	return v.DataRate, err
}

// EIRP returns the current radiated power in dBm.
func (s *Session) EIRP() (int, error) {
	v, err := s.get(FieldTxPower)
	if err != nil {
		return 0, err
	}
	return s.region.EIRP(v.TxPower), nil
}

func (s *Session) NwkSKey() (lorawan.AES128Key, error) {
	v, err := s.get(FieldNwkSKey)
	return v.Key, err
}

func (s *Session) AppSKey() (lorawan.AES128Key, error) {
	v, err := s.get(FieldAppSKey)
	return v.Key, err
}

func (s *Session) LastUplinkCounter() (uint32, error) {
	v, err := s.get(FieldUplinkCounter)
	return v.Counter, err
}

func (s *Session) LastDownlinkCounter() (uint32, error) {
	v, err := s.get(FieldDownlinkCounter)
	return v.Counter, err
}

func (s *Session) JoinType() Activation { return s.state.JoinType }

func (s *Session) Class() Class { return Class(s.class.Load()) }

func (s *Session) Region() band.Name { return s.state.Region }

func (s *Session) DevEUI() lorawan.EUI64 { return s.state.DevEUI }

// Status is a point-in-time summary of the session.
type Status struct {
	Initialized     bool   `json:"initialized"`
	Joined          bool   `json:"joined"`
	JoinType        string `json:"joinType"`
	Class           string `json:"class"`
	Region          string `json:"region"`
	DevEUI          string `json:"devEUI,omitempty"`
	DevAddr         string `json:"devAddr,omitempty"`
	DataRate        int    `json:"dataRate"`
	EIRP            int    `json:"eirp"`
	SubBand         int    `json:"subBand,omitempty"`
	UplinkCounter   uint32 `json:"uplinkCounter"`
	DownlinkCounter uint32 `json:"downlinkCounter"`
}

func (s *Session) Status() Status {
	st := Status{
		JoinType: s.state.JoinType.String(),
		Class:    s.Class().String(),
		Region:   string(s.state.Region),
		SubBand:  s.SubBand(),
	}
	if s.state.JoinType == ActivationOTAA {
		st.DevEUI = s.state.DevEUI.String()
	}
	if s.ready() != nil {
		return st
	}
	st.Initialized = true
	st.Joined = s.IsJoined()
	if addr, err := s.DevAddr(); err == nil && st.Joined {
		st.DevAddr = addr.String()
	}
	st.DataRate, _ = s.DataRate()
	st.EIRP, _ = s.EIRP()
	st.UplinkCounter, _ = s.LastUplinkCounter()
	st.DownlinkCounter, _ = s.LastDownlinkCounter()
	return st
}
