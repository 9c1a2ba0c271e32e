// Package loopback is an in-process LoRaWAN 1.0 MAC engine with a built-in
// network side. Every uplink is encoded, encrypted and MIC'd like a real
// frame and logged to an air buffer; the network accepts joins, acknowledges
// confirmed uplinks and returns queued downlinks in the receive window that
// follows the next uplink.
package loopback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/brocaar/lorawan/band"

	"github.com/R3DPanda1/LWN-Node/node/channels"
	"github.com/R3DPanda1/LWN-Node/node/resources/communication/buffer"
	"github.com/R3DPanda1/LWN-Node/node/session"
)

var (
	ErrNotInitialized = errors.New("loopback: engine not initialized")
	ErrNoNetwork      = errors.New("loopback: no network joined")
	ErrNotOTAA        = errors.New("loopback: join requires an OTAA session")
	ErrNoChannel      = errors.New("loopback: no enabled uplink channel")
	ErrUnknownChannel = errors.New("loopback: no channel on frequency")
	ErrStaticPlan     = errors.New("loopback: region does not accept custom channels")
	ErrBusy           = errors.New("loopback: radio idle, engine halted")
)

type Option func(*Engine)

// WithAir logs every frame to fb.
func WithAir(fb *buffer.FrameBuffer) Option {
	return func(e *Engine) { e.air = fb }
}

func WithNetID(id lorawan.NetID) Option {
	return func(e *Engine) { e.netID = id }
}

// WithRejectJoins makes the network ignore join requests.
func WithRejectJoins() Option {
	return func(e *Engine) { e.rejectJoins = true }
}

// WithRadioQuality sets the RSSI/SNR reported for every downlink.
func WithRadioQuality(rssi int16, snr int8) Option {
	return func(e *Engine) { e.rssi, e.snr = rssi, snr }
}

type downlink struct {
	port    uint8
	payload []byte
}

type Engine struct {
	mu sync.Mutex

	cb     *session.Callbacks
	params session.Params
	band   band.Band
	region channels.Region
	nvm    *session.NvmContext
	air    *buffer.FrameBuffer

	netID       lorawan.NetID
	rejectJoins bool
	rssi        int16
	snr         int8

	activation session.Activation
	devAddr    lorawan.DevAddr
	nwkSKey    lorawan.AES128Key
	appSKey    lorawan.AES128Key
	dataRate   int
	txPower    int
	fCntUp     uint32
	fCntDown   uint32
	devNonce   lorawan.DevNonce
	frequency  map[int]uint32
	idle       bool

	lastRSSI int16
	lastSNR  int8

	pending   []func()
	downlinks []downlink
}

func New(opts ...Option) *Engine {
	e := &Engine{
		netID: lorawan.NetID{0x00, 0x00, 0x13},
		rssi:  -60,
		snr:   7,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.air == nil {
		e.air = buffer.NewFrameBuffer(buffer.DefaultBufferSize)
	}
	return e
}

// Air returns the frame log.
func (e *Engine) Air() *buffer.FrameBuffer {
	return e.air
}

func (e *Engine) Init(cb *session.Callbacks, p session.Params) error {
	if cb == nil {
		return errors.New("loopback: nil callbacks")
	}
	region, err := channels.Lookup(p.Region)
	if err != nil {
		return err
	}
	b, err := band.GetConfig(p.Region, false, lorawan.DwellTimeNoLimit)
	if err != nil {
		return fmt.Errorf("loopback: band %s: %w", p.Region, err)
	}

	freqs := make(map[int]uint32)
	for _, i := range b.GetStandardUplinkChannelIndices() {
		c, err := b.GetUplinkChannel(i)
		if err != nil {
			return fmt.Errorf("loopback: uplink channel %d: %w", i, err)
		}
		freqs[i] = uint32(c.Frequency)
	}

	e.mu.Lock()
	e.cb = cb
	e.params = p
	e.band = b
	e.region = region
	e.nvm = &session.NvmContext{Region: p.Region, Masks: channels.NewMaskSet(region.Default)}
	e.frequency = freqs
	e.dataRate = p.DataRate
	e.txPower = p.TxPower
	e.activation = session.ActivationNone
	if p.JoinType == session.ActivationABP {
		e.devAddr = p.DevAddr
		e.nwkSKey = p.NwkSKey
		e.appSKey = p.AppSKey
	}
	e.mu.Unlock()

	slog.Debug("engine initialized", "component", "engine", "region", p.Region, "dr", p.DataRate, "tx_power", p.TxPower)
	e.queue(func() { cb.OnNetworkParametersChange(p) })
	return nil
}

// queue defers fn to the next Process call and requests one.
func (e *Engine) queue(fn func()) {
	e.mu.Lock()
	e.pending = append(e.pending, fn)
	cb := e.cb
	e.mu.Unlock()
	if cb != nil && cb.OnMacProcess != nil {
		cb.OnMacProcess()
	}
}

// Process runs everything queued since the last call. Callbacks run without
// the engine lock so they may call back into the engine.
func (e *Engine) Process() {
	e.mu.Lock()
	work := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, fn := range work {
		fn()
	}
}

// Idle puts the radio in standby; further requests fail.
func (e *Engine) Idle() {
	e.mu.Lock()
	e.idle = true
	e.mu.Unlock()
	slog.Debug("radio idle", "component", "engine")
}

func (e *Engine) LastRadioQuality() (int16, int8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRSSI, e.lastSNR
}

// Deliver queues a downlink from the application server. Class A and B
// nodes receive it after their next uplink, class C nodes right away.
func (e *Engine) Deliver(port uint8, payload []byte) error {
	if port == 0 || port > 223 {
		return fmt.Errorf("loopback: invalid downlink port %d", port)
	}
	data := append([]byte{}, payload...)

	e.mu.Lock()
	if e.cb == nil {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	if e.activation == session.ActivationNone {
		e.mu.Unlock()
		return ErrNoNetwork
	}
	classC := e.params.Class == session.ClassC
	if !classC {
		e.downlinks = append(e.downlinks, downlink{port: port, payload: data})
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	res, err := e.receive(&downlink{port: port, payload: data}, false)
	if err != nil {
		return err
	}
	e.queue(func() { e.cb.OnRxData(res) })
	return nil
}

func (e *Engine) channel() (int, uint32, error) {
	ch, ok := e.nvm.Masks.NextRemaining()
	if !ok {
		return 0, 0, ErrNoChannel
	}
	freq, ok := e.frequency[ch]
	if !ok {
		return 0, 0, fmt.Errorf("%w: channel %d has no frequency", ErrNoChannel, ch)
	}
	return ch, freq, nil
}

func (e *Engine) log(uplink bool, ch int, freq uint32, dr int, phy lorawan.PHYPayload) error {
	b, err := phy.MarshalBinary()
	if err != nil {
		return fmt.Errorf("loopback: marshal frame: %w", err)
	}
	e.air.Push(buffer.Frame{
		Time:       time.Now(),
		Uplink:     uplink,
		Channel:    ch,
		Frequency:  freq,
		DataRate:   dr,
		PHYPayload: b,
	})
	return nil
}
