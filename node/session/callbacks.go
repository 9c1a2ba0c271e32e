package session

import (
	"encoding/hex"
	"log/slog"
	"strconv"
	"time"

	"github.com/R3DPanda1/LWN-Node/node/events"
	"github.com/R3DPanda1/LWN-Node/node/metrics"
)

// callbacks builds the table handed to the engine. Handlers must not take
// s.mu: the engine may call them while Init holds it.
func (s *Session) callbacks() *Callbacks {
	return &Callbacks{
		OnMacProcess:              s.bridge.Signal,
		OnNetworkParametersChange: s.onNetworkParametersChange,
		OnMacMcpsRequest:          s.onMcpsRequest,
		OnMacMlmeRequest:          s.onMlmeRequest,
		OnJoinRequest:             s.onJoinRequest,
		OnTxData:                  s.onTxData,
		OnRxData:                  s.onRxData,
		OnClassChange:             s.onClassChange,
	}
}

func (s *Session) onNetworkParametersChange(p Params) {
	slog.Debug("network parameters changed", "component", "session", "node", s.id(),
		"adr", p.ADR, "dr", p.DataRate, "duty_cycle", p.DutyCycle)
}

func (s *Session) onMcpsRequest(status error, req McpsRequest, nextTxIn time.Duration) {
	if status == nil {
		return
	}
	slog.Warn("uplink request failed", "component", "session", "node", s.id(), "port", req.Port,
		"next_tx_in", nextTxIn, "error", status)
	s.emitErrorEvent(status)
}

func (s *Session) onMlmeRequest(status error, req MlmeRequest, nextTxIn time.Duration) {
	if status == nil || req.Type != MlmeJoin {
		return
	}
	slog.Warn("join request failed", "component", "session", "node", s.id(), "next_tx_in", nextTxIn, "error", status)
	s.reportJoin(false, 0, 0)
}

func (s *Session) onJoinRequest(res JoinResult) {
	if res.Activation == ActivationABP {
		rssi, snr := s.engine.LastRadioQuality()
		s.reportJoin(true, rssi, snr)
		return
	}

	// The accept may carry its own data rate; go back to the configured one.
	if err := s.engine.MibSet(FieldDataRate, MibValue{DataRate: s.state.DataRate}); err != nil {
		slog.Warn("cannot restore data rate after join", "component", "session", "node", s.id(), "error", err)
	}

	if !res.OK {
		s.reportJoin(false, 0, 0)
		return
	}
	rssi, snr := s.engine.LastRadioQuality()
	s.reportJoin(true, rssi, snr)
}

func (s *Session) reportJoin(ok bool, rssi int16, snr int8) {
	if ok {
		metrics.JoinsTotal.WithLabelValues("accepted").Inc()
		slog.Info("node joined", "component", "session", "node", s.id(), "rssi", rssi, "snr", snr)
	} else {
		metrics.JoinsTotal.WithLabelValues("failed").Inc()
		slog.Info("join failed", "component", "session", "node", s.id())
	}

	s.publish(events.NodeEvent{
		Type:  events.EventJoin,
		RSSI:  &rssi,
		SNR:   &snr,
		Extra: map[string]string{"ok": strconv.FormatBool(ok)},
	})

	if cb, set := s.joinCB.Get(); set {
		cb(ok, rssi, snr)
	}
}

func (s *Session) onTxData(res TxResult) {
	up := Uplink{
		AckReceived: res.AckReceived,
		DataRate:    res.DataRate,
		EIRP:        s.region.EIRP(res.TxPower),
		Channel:     res.Channel,
	}
	slog.Debug("uplink done", "component", "session", "node", s.id(), "fcnt", res.UplinkCounter,
		"dr", up.DataRate, "eirp", up.EIRP, "channel", up.Channel, "ack", up.AckReceived)

	s.publish(events.NodeEvent{
		Type:    events.EventTxDone,
		FCnt:    &res.UplinkCounter,
		DR:      &up.DataRate,
		EIRP:    &up.EIRP,
		Channel: &up.Channel,
		Extra:   map[string]string{"ack": strconv.FormatBool(up.AckReceived)},
	})

	if cb, set := s.txCB.Get(); set {
		cb(up)
	}
}

func (s *Session) onRxData(res RxResult) {
	if res.Payload == nil {
		slog.Debug("downlink without application data", "component", "session", "node", s.id(), "ack", res.AckReceived)
		return
	}
	metrics.DownlinksTotal.Inc()
	slog.Debug("downlink received", "component", "session", "node", s.id(), "port", res.Port,
		"size", len(res.Payload), "rssi", res.RSSI, "snr", res.SNR)

	s.publish(events.NodeEvent{
		Type:    events.EventDownlink,
		FCnt:    &res.DownlinkCounter,
		FPort:   &res.Port,
		RSSI:    &res.RSSI,
		SNR:     &res.SNR,
		Payload: hex.EncodeToString(res.Payload),
	})

	if cb, set := s.rxCB.Get(); set {
		cb(Downlink{
			Payload:         res.Payload,
			Port:            res.Port,
			RSSI:            res.RSSI,
			SNR:             res.SNR,
			AckReceived:     res.AckReceived,
			UplinkCounter:   res.UplinkCounter,
			DownlinkCounter: res.DownlinkCounter,
		})
	}
}

func (s *Session) onClassChange(c Class) {
	s.class.Store(int32(c))
	slog.Info("device class changed", "component", "session", "node", s.id(), "class", c)
	s.emitEvent(events.EventStatus, map[string]string{"status": "class changed"})
}
