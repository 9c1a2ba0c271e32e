package loopback

import (
	"fmt"
	"log/slog"

	"github.com/brocaar/lorawan"

	"github.com/R3DPanda1/LWN-Node/node/resources/communication/buffer"
	"github.com/R3DPanda1/LWN-Node/node/session"
)

// QueryTxPossible checks size against the maximum FRMPayload size of the
// current data rate.
func (e *Engine) QueryTxPossible(size int) (session.TxInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.band == nil {
		return session.TxInfo{}, ErrNotInitialized
	}

	maxSize, err := e.band.GetMaxPayloadSizeForDataRateIndex("", "", e.dataRate)
	if err != nil {
		return session.TxInfo{}, fmt.Errorf("loopback: max payload for DR%d: %w", e.dataRate, err)
	}
	info := session.TxInfo{MaxPossiblePayload: maxSize.N, CurrentPayloadSize: size}
	if size > maxSize.N {
		return info, session.ErrLengthExceeded
	}
	return info, nil
}

// McpsRequest transmits one data frame on the next remaining channel.
func (e *Engine) McpsRequest(req session.McpsRequest) error {
	e.mu.Lock()
	if e.cb == nil {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	if e.activation == session.ActivationNone {
		e.mu.Unlock()
		return ErrNoNetwork
	}
	if e.idle {
		e.mu.Unlock()
		return ErrBusy
	}
	ch, freq, err := e.channel()
	if err != nil {
		e.mu.Unlock()
		return err
	}

	mType := lorawan.UnconfirmedDataUp
	if req.Confirmed {
		mType = lorawan.ConfirmedDataUp
	}
	mac := &lorawan.MACPayload{
		FHDR: lorawan.FHDR{
			DevAddr: e.devAddr,
			FCtrl:   lorawan.FCtrl{ADR: e.params.ADR},
			FCnt:    e.fCntUp,
		},
	}
	if req.Port != 0 {
		port := req.Port
		mac.FPort = &port
		mac.FRMPayload = []lorawan.Payload{&lorawan.DataPayload{Bytes: append([]byte{}, req.Payload...)}}
	}
	phy := lorawan.PHYPayload{
		MHDR:       lorawan.MHDR{MType: mType, Major: lorawan.LoRaWANR1},
		MACPayload: mac,
	}
	if mac.FPort != nil {
		if err := phy.EncryptFRMPayload(e.appSKey); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("loopback: encrypt payload: %w", err)
		}
	}
	dr := req.DataRate
	if err := phy.SetUplinkDataMIC(lorawan.LoRaWAN1_0, 0, uint8(dr), uint8(ch), e.nwkSKey, e.nwkSKey); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("loopback: uplink MIC: %w", err)
	}

	fCnt := e.fCntUp
	e.fCntUp++
	devAddr := e.devAddr
	txPower := e.txPower
	var dl *downlink
	if len(e.downlinks) > 0 {
		dl = &e.downlinks[0]
		e.downlinks = e.downlinks[1:]
	}
	e.mu.Unlock()

	if err := e.log(true, ch, freq, dr, phy); err != nil {
		return err
	}
	slog.Debug("uplink sent", "component", "engine", "dev_addr", devAddr, "fcnt", fCnt, "port", req.Port,
		"size", len(req.Payload), "channel", ch, "frequency", freq, "dr", dr)

	var rx *session.RxResult
	if dl != nil || req.Confirmed {
		res, err := e.receive(dl, req.Confirmed)
		if err != nil {
			return err
		}
		rx = &res
	}

	e.queue(func() {
		e.cb.OnMacMcpsRequest(nil, req, 0)
		e.cb.OnTxData(session.TxResult{
			Confirmed:     req.Confirmed,
			AckReceived:   req.Confirmed,
			DataRate:      dr,
			TxPower:       txPower,
			Channel:       ch,
			UplinkCounter: fCnt,
		})
		if rx != nil {
			e.cb.OnRxData(*rx)
		}
	})
	return nil
}

// receive builds the network's downlink, logs it and returns what the node
// decodes from it. dl may be nil for an ack-only frame.
func (e *Engine) receive(dl *downlink, ack bool) (session.RxResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	mac := &lorawan.MACPayload{
		FHDR: lorawan.FHDR{
			DevAddr: e.devAddr,
			FCtrl:   lorawan.FCtrl{ACK: ack},
			FCnt:    e.fCntDown,
		},
	}
	if dl != nil {
		port := dl.port
		mac.FPort = &port
		mac.FRMPayload = []lorawan.Payload{&lorawan.DataPayload{Bytes: append([]byte{}, dl.payload...)}}
	}
	phy := lorawan.PHYPayload{
		MHDR:       lorawan.MHDR{MType: lorawan.UnconfirmedDataDown, Major: lorawan.LoRaWANR1},
		MACPayload: mac,
	}
	if dl != nil {
		if err := phy.EncryptFRMPayload(e.appSKey); err != nil {
			return session.RxResult{}, fmt.Errorf("loopback: encrypt downlink: %w", err)
		}
	}
	if err := phy.SetDownlinkDataMIC(lorawan.LoRaWAN1_0, 0, e.nwkSKey); err != nil {
		return session.RxResult{}, fmt.Errorf("loopback: downlink MIC: %w", err)
	}
	b, err := phy.MarshalBinary()
	if err != nil {
		return session.RxResult{}, fmt.Errorf("loopback: marshal downlink: %w", err)
	}
	e.air.Push(buffer.Frame{Uplink: false, DataRate: e.dataRate, PHYPayload: b})

	res := session.RxResult{
		RSSI:            e.rssi,
		SNR:             e.snr,
		AckReceived:     ack,
		UplinkCounter:   e.fCntUp,
		DownlinkCounter: e.fCntDown,
	}
	e.fCntDown++
	e.lastRSSI, e.lastSNR = e.rssi, e.snr
	if dl != nil {
		res.Port = dl.port
		res.Payload = dl.payload
	}
	return res, nil
}
