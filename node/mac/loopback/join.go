package loopback

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"log/slog"

	"github.com/brocaar/lorawan"

	"github.com/R3DPanda1/LWN-Node/node/session"
)

// Join sends a join request. The outcome is reported from Process through
// OnJoinRequest, or OnMacMlmeRequest when no channel is available.
func (e *Engine) Join() error {
	e.mu.Lock()
	if e.cb == nil {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	if e.params.JoinType != session.ActivationOTAA {
		e.mu.Unlock()
		return ErrNotOTAA
	}
	if e.idle {
		e.mu.Unlock()
		return ErrBusy
	}

	ch, freq, err := e.channel()
	if err != nil {
		e.mu.Unlock()
		e.queue(func() {
			e.cb.OnMacMlmeRequest(err, session.MlmeRequest{Type: session.MlmeJoin}, 0)
		})
		return nil
	}

	e.devNonce++
	phy := lorawan.PHYPayload{
		MHDR: lorawan.MHDR{
			MType: lorawan.JoinRequest,
			Major: lorawan.LoRaWANR1,
		},
		MACPayload: &lorawan.JoinRequestPayload{
			JoinEUI:  e.params.JoinEUI,
			DevEUI:   e.params.DevEUI,
			DevNonce: e.devNonce,
		},
	}
	if err := phy.SetUplinkJoinMIC(e.params.AppKey); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("loopback: join MIC: %w", err)
	}
	dr := e.dataRate
	devNonce := e.devNonce
	reject := e.rejectJoins
	e.mu.Unlock()

	if err := e.log(true, ch, freq, dr, phy); err != nil {
		return err
	}
	slog.Debug("join request sent", "component", "engine", "dev_eui", e.params.DevEUI, "dev_nonce", devNonce, "channel", ch)

	e.queue(func() {
		e.cb.OnMacMlmeRequest(nil, session.MlmeRequest{Type: session.MlmeJoin}, 0)
		if reject {
			e.cb.OnJoinRequest(session.JoinResult{Activation: session.ActivationOTAA})
			return
		}
		e.cb.OnJoinRequest(e.accept(devNonce))
		if class := e.params.Class; class != session.ClassA {
			e.queue(func() { e.cb.OnClassChange(class) })
		}
	})
	return nil
}

// accept plays the network side of a successful join and installs the
// derived session.
func (e *Engine) accept(devNonce lorawan.DevNonce) session.JoinResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := fnv.New32a()
	h.Write(e.params.DevEUI[:])
	appNonce := h.Sum32() & 0x00FFFFFF

	binary.BigEndian.PutUint32(e.devAddr[:], h.Sum32())
	e.devAddr[0] = e.devAddr[0]&0x01 | e.netID[2]<<1
	e.nwkSKey = deriveKey(e.params.AppKey, 0x01, appNonce, e.netID, devNonce)
	e.appSKey = deriveKey(e.params.AppKey, 0x02, appNonce, e.netID, devNonce)
	e.activation = session.ActivationOTAA
	e.fCntUp, e.fCntDown = 0, 0
	// A new session starts from the plan's lowest data rate.
	e.dataRate = 0
	e.lastRSSI, e.lastSNR = e.rssi, e.snr

	slog.Debug("join accepted", "component", "engine", "dev_eui", e.params.DevEUI, "dev_addr", e.devAddr)
	return session.JoinResult{Activation: session.ActivationOTAA, OK: true, DataRate: e.dataRate, TxPower: e.txPower}
}

// deriveKey computes a LoRaWAN 1.0 session key:
// aes128(AppKey, typ | AppNonce | NetID | DevNonce | pad16).
func deriveKey(appKey lorawan.AES128Key, typ byte, appNonce uint32, netID lorawan.NetID, devNonce lorawan.DevNonce) lorawan.AES128Key {
	var in, out [16]byte
	in[0] = typ
	in[1] = byte(appNonce)
	in[2] = byte(appNonce >> 8)
	in[3] = byte(appNonce >> 16)
	// NetID is stored MSB first, the key block wants LSB first.
	in[4], in[5], in[6] = netID[2], netID[1], netID[0]
	binary.LittleEndian.PutUint16(in[7:9], uint16(devNonce))

	block, err := aes.NewCipher(appKey[:])
	if err != nil {
		panic(err) // 16-byte key, cannot fail
	}
	block.Encrypt(out[:], in[:])
	return lorawan.AES128Key(out)
}
