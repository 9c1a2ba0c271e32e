package radio

import "time"

type Bandwidth int

// LoRa bandwidths in kHz.
const (
	BW125 Bandwidth = 125
	BW250 Bandwidth = 250
	BW500 Bandwidth = 500
)

func (b Bandwidth) Valid() bool {
	return b == BW125 || b == BW250 || b == BW500
}

// Modulation is the transmit and receive configuration of the transceiver.
type Modulation struct {
	EIRP int
	SF   int
	BW   Bandwidth
}

// SymbolTime is the duration of one LoRa symbol, 2^SF / BW.
func (m Modulation) SymbolTime() time.Duration {
	if m.BW <= 0 || m.SF <= 0 {
		return 0
	}
	return time.Duration(int64(1)<<m.SF) * time.Second / time.Duration(int64(m.BW)*1000)
}

// CadParams configures one channel activity detection. Signals above
// DetPeak are activity; signals between DetMin and DetPeak may be.
type CadParams struct {
	Symbols int
	DetPeak uint8
	DetMin  uint8
}

// Events is the table a Transceiver calls from ProcessIRQ.
type Events struct {
	TxDone  func()
	RxDone  func(payload []byte, rssi int16, snr int8)
	RxError func()
	CadDone func(busy bool)
}

// Transceiver is a LoRa radio driver. It raises irq from its own context
// whenever work is pending; the owner then calls ProcessIRQ on its worker,
// which runs the Events handlers.
type Transceiver interface {
	Init(irq func(), ev *Events) error
	ProcessIRQ()
	Send(payload []byte) error
	SetChannel(frequency uint32) error
	SetModulation(m Modulation) error
	// Rx listens for a single frame within timeout, or continuously when
	// timeout is zero.
	Rx(timeout time.Duration) error
	Standby() error
	Sleep() error
	StartCad(p CadParams) error
}
