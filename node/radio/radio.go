// Package radio drives a LoRa transceiver directly, without a LoRaWAN MAC.
// Payloads are optionally protected by the fixed-parameter cipher.
package radio

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/brocaar/lorawan"

	"github.com/R3DPanda1/LWN-Node/node/bridge"
	"github.com/R3DPanda1/LWN-Node/node/cipher"
	"github.com/R3DPanda1/LWN-Node/node/events"
	"github.com/R3DPanda1/LWN-Node/node/metrics"
	"github.com/R3DPanda1/LWN-Node/node/power"
	"github.com/R3DPanda1/LWN-Node/node/registry"
	"github.com/R3DPanda1/LWN-Node/node/worker"
)

var (
	ErrNotInitialized     = errors.New("radio: not initialized")
	ErrAlreadyInitialized = errors.New("radio: already initialized")
	ErrInvalidSF          = errors.New("radio: spreading factor must be in [5,12]")
	ErrInvalidBandwidth   = errors.New("radio: bandwidth must be 125, 250 or 500 kHz")
	ErrInvalidEIRP        = errors.New("radio: EIRP must be in [-9,22] dBm")
	ErrInvalidFrequency   = errors.New("radio: frequency outside 150-960 MHz")
	ErrPayloadTooLarge    = errors.New("radio: payload exceeds 255 bytes")
	ErrNoPowerController  = errors.New("radio: no power controller")
)

const (
	DefaultEIRP = 16
	DefaultSF   = 7
	DefaultBW   = BW125

	MaxPayload = 255

	minEIRP      = -9
	maxEIRP      = 22
	minFrequency = 150000000
	maxFrequency = 960000000
)

type (
	RxFunc      func(payload []byte, rssi int16, snr int8)
	TxDoneFunc  func()
	RxErrorFunc func()
	CadFunc     func(busy bool)
)

type Option func(*Radio)

// WithName sets the name used in logs and the event topic.
func WithName(name string) Option {
	return func(r *Radio) { r.name = name }
}

func WithEventBroker(b *events.EventBroker) Option {
	return func(r *Radio) { r.broker = b }
}

func WithPower(p *power.Controller) Option {
	return func(r *Radio) { r.power = p }
}

// Radio pairs a Transceiver with its own interrupt bridge and worker.
// Callbacks run on the worker goroutine.
type Radio struct {
	name   string
	trx    Transceiver
	bridge *bridge.Bridge
	worker *worker.Worker
	cipher cipher.Cipher
	broker *events.EventBroker
	power  *power.Controller

	mu          sync.Mutex
	initialized bool
	mod         Modulation
	frequency   uint32

	txCB    registry.Slot[TxDoneFunc]
	rxCB    registry.Slot[RxFunc]
	rxErrCB registry.Slot[RxErrorFunc]
	cadCB   registry.Slot[CadFunc]
}

func New(trx Transceiver, opts ...Option) *Radio {
	r := &Radio{
		name:   "raw",
		trx:    trx,
		bridge: bridge.New(),
		mod:    Modulation{EIRP: DefaultEIRP, SF: DefaultSF, BW: DefaultBW},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.worker = worker.New("radio", r.bridge, worker.ProcessorFunc(trx.ProcessIRQ))
	return r
}

// Init starts the radio worker, initializes the transceiver and applies the
// default modulation (16 dBm, SF7, 125 kHz).
func (r *Radio) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return ErrAlreadyInitialized
	}

	if err := r.worker.Start(); err != nil {
		return fmt.Errorf("start radio worker: %w", err)
	}
	ev := &Events{
		TxDone:  r.onTxDone,
		RxDone:  r.onReceive,
		RxError: r.onRxError,
		CadDone: r.onCadDone,
	}
	if err := r.trx.Init(r.bridge.Signal, ev); err != nil {
		r.worker.Stop()
		return fmt.Errorf("initialize transceiver: %w", err)
	}
	if err := r.trx.SetModulation(r.mod); err != nil {
		r.worker.Stop()
		return fmt.Errorf("apply modulation: %w", err)
	}

	r.initialized = true
	slog.Info("radio initialized", "component", "radio", "radio", r.name, "eirp", r.mod.EIRP, "sf", r.mod.SF, "bw", int(r.mod.BW))
	return nil
}

func (r *Radio) ready() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return ErrNotInitialized
	}
	return nil
}

// setModulation applies fn to a copy of the modulation and commits it only
// when the transceiver accepts it.
func (r *Radio) setModulation(fn func(*Modulation)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return ErrNotInitialized
	}
	next := r.mod
	fn(&next)
	if err := r.trx.SetModulation(next); err != nil {
		return fmt.Errorf("apply modulation: %w", err)
	}
	r.mod = next
	return nil
}

func (r *Radio) SetEIRP(eirp int) error {
	if eirp < minEIRP || eirp > maxEIRP {
		return fmt.Errorf("%w: %d", ErrInvalidEIRP, eirp)
	}
	return r.setModulation(func(m *Modulation) { m.EIRP = eirp })
}

func (r *Radio) SetSF(sf int) error {
	if sf < 5 || sf > 12 {
		return fmt.Errorf("%w: %d", ErrInvalidSF, sf)
	}
	return r.setModulation(func(m *Modulation) { m.SF = sf })
}

func (r *Radio) SetBW(bw Bandwidth) error {
	if !bw.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidBandwidth, bw)
	}
	return r.setModulation(func(m *Modulation) { m.BW = bw })
}

// SetFreq tunes the transceiver to frequency in Hz.
func (r *Radio) SetFreq(frequency uint32) error {
	if frequency < minFrequency || frequency > maxFrequency {
		return fmt.Errorf("%w: %d", ErrInvalidFrequency, frequency)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return ErrNotInitialized
	}
	if err := r.trx.SetChannel(frequency); err != nil {
		return fmt.Errorf("set channel: %w", err)
	}
	r.frequency = frequency
	return nil
}

func (r *Radio) Modulation() Modulation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mod
}

func (r *Radio) Frequency() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frequency
}

// Send encrypts data when a key is set and transmits it. Completion is
// reported to the tx callback.
func (r *Radio) Send(data []byte) error {
	if err := r.ready(); err != nil {
		return err
	}
	if len(data) > MaxPayload {
		return fmt.Errorf("%w: %d", ErrPayloadTooLarge, len(data))
	}
	out, err := r.cipher.Seal(data)
	if err != nil {
		return err
	}
	if err := r.trx.Send(out); err != nil {
		r.publish(events.RadioEvent{Type: events.RadioEventError, Extra: map[string]string{"error": err.Error()}})
		return fmt.Errorf("transmit: %w", err)
	}

	metrics.RadioFramesTotal.WithLabelValues("tx").Inc()
	slog.Debug("raw frame sent", "component", "radio", "radio", r.name, "size", len(data), "encrypted", r.cipher.State() == cipher.Keyed)
	r.publish(events.RadioEvent{Type: events.RadioEventSend, Size: len(data), Payload: hex.EncodeToString(data)})
	return nil
}

// StartRx listens continuously until StopRx.
func (r *Radio) StartRx() error {
	if err := r.ready(); err != nil {
		return err
	}
	return r.trx.Rx(0)
}

func (r *Radio) StopRx() error {
	if err := r.ready(); err != nil {
		return err
	}
	return r.trx.Standby()
}

func (r *Radio) StartCad(p CadParams) error {
	if err := r.ready(); err != nil {
		return err
	}
	if p.DetMin > p.DetPeak {
		return fmt.Errorf("radio: cad min threshold %d above peak %d", p.DetMin, p.DetPeak)
	}
	return r.trx.StartCad(p)
}

// SetEncryptKey enables payload encryption for every later send and receive.
func (r *Radio) SetEncryptKey(key lorawan.AES128Key) {
	r.cipher.SetKey(key)
	slog.Info("radio payload encryption enabled", "component", "radio", "radio", r.name)
}

func (r *Radio) Encrypted() bool {
	return r.cipher.State() == cipher.Keyed
}

func (r *Radio) SetTxCallback(cb TxDoneFunc) bool {
	if cb == nil {
		return false
	}
	r.txCB.Set(cb)
	return true
}

func (r *Radio) SetRxCallback(cb RxFunc) bool {
	if cb == nil {
		return false
	}
	r.rxCB.Set(cb)
	return true
}

func (r *Radio) SetRxErrorCallback(cb RxErrorFunc) bool {
	if cb == nil {
		return false
	}
	r.rxErrCB.Set(cb)
	return true
}

func (r *Radio) SetCadCallback(cb CadFunc) bool {
	if cb == nil {
		return false
	}
	r.cadCB.Set(cb)
	return true
}

// DeepSleep puts the transceiver to sleep and halts the node. With the
// default power controller it does not return.
func (r *Radio) DeepSleep(wake time.Duration) error {
	if r.power == nil {
		return ErrNoPowerController
	}
	if err := r.trx.Standby(); err != nil {
		slog.Warn("standby before sleep failed", "component", "radio", "radio", r.name, "error", err)
	}
	if err := r.trx.Sleep(); err != nil {
		slog.Warn("transceiver sleep failed", "component", "radio", "radio", r.name, "error", err)
	}
	return r.power.Halt(wake)
}

// Close stops the radio worker.
func (r *Radio) Close() {
	r.worker.Stop()
}

func (r *Radio) Topic() string {
	return events.RadioTopic(r.name)
}

func (r *Radio) publish(ev events.RadioEvent) {
	if r.broker == nil {
		return
	}
	ev.Radio = r.name
	r.broker.PublishRadioEvent(r.name, ev)
}

func (r *Radio) onTxDone() {
	r.publish(events.RadioEvent{Type: events.RadioEventSend, Extra: map[string]string{"status": "done"}})
	if cb, ok := r.txCB.Get(); ok {
		cb()
	}
}

func (r *Radio) onReceive(payload []byte, rssi int16, snr int8) {
	metrics.RadioFramesTotal.WithLabelValues("rx").Inc()
	cb, ok := r.rxCB.Get()
	if !ok {
		metrics.RadioDropped.Inc()
		slog.Debug("raw frame dropped, no receive callback", "component", "radio", "radio", r.name, "size", len(payload))
		return
	}

	data, err := r.cipher.Open(payload)
	if err != nil {
		slog.Warn("raw frame not decrypted", "component", "radio", "radio", r.name, "error", err)
		r.publish(events.RadioEvent{Type: events.RadioEventError, Extra: map[string]string{"error": err.Error()}})
		return
	}
	r.publish(events.RadioEvent{
		Type:    events.RadioEventReceive,
		Size:    len(data),
		RSSI:    &rssi,
		SNR:     &snr,
		Payload: hex.EncodeToString(data),
	})
	cb(data, rssi, snr)
}

func (r *Radio) onRxError() {
	slog.Debug("raw receive error", "component", "radio", "radio", r.name)
	r.publish(events.RadioEvent{Type: events.RadioEventRxError})
	if cb, ok := r.rxErrCB.Get(); ok {
		cb()
	}
}

func (r *Radio) onCadDone(busy bool) {
	r.publish(events.RadioEvent{Type: events.RadioEventCad, Extra: map[string]string{"busy": strconv.FormatBool(busy)}})
	if cb, ok := r.cadCB.Get(); ok {
		cb(busy)
	}
}
