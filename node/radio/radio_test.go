package radio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3DPanda1/LWN-Node/node/cipher"
	"github.com/R3DPanda1/LWN-Node/node/events"
	"github.com/R3DPanda1/LWN-Node/node/power"
)

var testKey = lorawan.AES128Key{0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6, 0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c}

type fakeTransceiver struct {
	mu      sync.Mutex
	irq     func()
	ev      *Events
	initErr error
	sendErr error

	mod       Modulation
	frequency uint32
	sent      [][]byte
	rxTimeout []time.Duration
	calls     []string
	cad       []CadParams
	pending   []func(*Events)
}

func (f *fakeTransceiver) Init(irq func(), ev *Events) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return f.initErr
	}
	f.irq, f.ev = irq, ev
	return nil
}

func (f *fakeTransceiver) ProcessIRQ() {
	f.mu.Lock()
	work := f.pending
	f.pending = nil
	ev := f.ev
	f.mu.Unlock()
	for _, fn := range work {
		fn(ev)
	}
}

func (f *fakeTransceiver) raise(fn func(*Events)) {
	f.mu.Lock()
	f.pending = append(f.pending, fn)
	irq := f.irq
	f.mu.Unlock()
	irq()
}

func (f *fakeTransceiver) Send(payload []byte) error {
	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte{}, payload...))
	f.mu.Unlock()
	f.raise(func(ev *Events) { ev.TxDone() })
	return nil
}

func (f *fakeTransceiver) SetChannel(frequency uint32) error {
	f.mu.Lock()
	f.frequency = frequency
	f.mu.Unlock()
	return nil
}

func (f *fakeTransceiver) SetModulation(m Modulation) error {
	f.mu.Lock()
	f.mod = m
	f.mu.Unlock()
	return nil
}

func (f *fakeTransceiver) Rx(timeout time.Duration) error {
	f.mu.Lock()
	f.rxTimeout = append(f.rxTimeout, timeout)
	f.calls = append(f.calls, "rx")
	f.mu.Unlock()
	return nil
}

func (f *fakeTransceiver) Standby() error {
	f.mu.Lock()
	f.calls = append(f.calls, "standby")
	f.mu.Unlock()
	return nil
}

func (f *fakeTransceiver) Sleep() error {
	f.mu.Lock()
	f.calls = append(f.calls, "sleep")
	f.mu.Unlock()
	return nil
}

func (f *fakeTransceiver) StartCad(p CadParams) error {
	f.mu.Lock()
	f.cad = append(f.cad, p)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransceiver) lastSent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func newRadio(t *testing.T, trx *fakeTransceiver, opts ...Option) *Radio {
	t.Helper()
	r := New(trx, opts...)
	require.NoError(t, r.Init())
	t.Cleanup(r.Close)
	return r
}

func TestInitAppliesDefaults(t *testing.T) {
	trx := &fakeTransceiver{}
	r := newRadio(t, trx)
	assert.Equal(t, Modulation{EIRP: 16, SF: 7, BW: BW125}, trx.mod)
	assert.Equal(t, trx.mod, r.Modulation())
	assert.ErrorIs(t, r.Init(), ErrAlreadyInitialized)
}

func TestInitFailure(t *testing.T) {
	trx := &fakeTransceiver{initErr: errors.New("spi")}
	r := New(trx)
	assert.Error(t, r.Init())
	assert.ErrorIs(t, r.Send([]byte{1}), ErrNotInitialized)
	assert.ErrorIs(t, r.StartRx(), ErrNotInitialized)
	assert.ErrorIs(t, r.SetSF(9), ErrNotInitialized)
}

func TestModulationValidation(t *testing.T) {
	trx := &fakeTransceiver{}
	r := newRadio(t, trx)

	require.NoError(t, r.SetSF(12))
	require.NoError(t, r.SetBW(BW500))
	require.NoError(t, r.SetEIRP(20))
	assert.Equal(t, Modulation{EIRP: 20, SF: 12, BW: BW500}, trx.mod)

	assert.ErrorIs(t, r.SetSF(4), ErrInvalidSF)
	assert.ErrorIs(t, r.SetSF(13), ErrInvalidSF)
	assert.ErrorIs(t, r.SetBW(Bandwidth(62)), ErrInvalidBandwidth)
	assert.ErrorIs(t, r.SetEIRP(23), ErrInvalidEIRP)
	assert.Equal(t, Modulation{EIRP: 20, SF: 12, BW: BW500}, r.Modulation())

	require.NoError(t, r.SetFreq(868100000))
	assert.Equal(t, uint32(868100000), trx.frequency)
	assert.ErrorIs(t, r.SetFreq(2400000000), ErrInvalidFrequency)
	assert.Equal(t, uint32(868100000), r.Frequency())
}

func TestSendPlain(t *testing.T) {
	trx := &fakeTransceiver{}
	r := newRadio(t, trx)

	done := make(chan struct{}, 1)
	assert.True(t, r.SetTxCallback(func() { done <- struct{}{} }))
	require.NoError(t, r.Send([]byte("hello")))
	assert.Equal(t, []byte("hello"), trx.lastSent())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tx done not reported")
	}

	assert.ErrorIs(t, r.Send(make([]byte, 256)), ErrPayloadTooLarge)
}

func TestSendEncrypted(t *testing.T) {
	trx := &fakeTransceiver{}
	r := newRadio(t, trx)
	r.SetEncryptKey(testKey)
	assert.True(t, r.Encrypted())

	plain := []byte("sensor=21.5")
	require.NoError(t, r.Send(plain))
	air := trx.lastSent()
	assert.NotEqual(t, plain, air)
	assert.Len(t, air, len(plain))

	var peer cipher.Cipher
	peer.SetKey(testKey)
	got, err := peer.Open(air)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestSendFailure(t *testing.T) {
	trx := &fakeTransceiver{sendErr: errors.New("busy")}
	r := newRadio(t, trx)
	assert.Error(t, r.Send([]byte{1}))
}

func TestReceiveDecrypts(t *testing.T) {
	trx := &fakeTransceiver{}
	r := newRadio(t, trx)
	r.SetEncryptKey(testKey)

	var peer cipher.Cipher
	peer.SetKey(testKey)
	air, err := peer.Seal([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	type rx struct {
		data []byte
		rssi int16
		snr  int8
	}
	got := make(chan rx, 1)
	r.SetRxCallback(func(p []byte, rssi int16, snr int8) { got <- rx{p, rssi, snr} })
	trx.raise(func(ev *Events) { ev.RxDone(air, -87, 6) })

	select {
	case g := <-got:
		assert.Equal(t, []byte{0x01, 0x02, 0x03}, g.data)
		assert.Equal(t, int16(-87), g.rssi)
		assert.Equal(t, int8(6), g.snr)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestReceiveWithoutCallbackDropped(t *testing.T) {
	broker := events.NewEventBroker(10)
	trx := &fakeTransceiver{}
	r := newRadio(t, trx, WithEventBroker(broker), WithName("test"))
	ch, _, unsub := broker.Subscribe(r.Topic())
	defer unsub()

	trx.raise(func(ev *Events) { ev.RxDone([]byte{9}, -50, 1) })
	trx.raise(func(ev *Events) { ev.RxError() })

	select {
	case ev := <-ch:
		assert.Equal(t, events.RadioEventRxError, ev.(events.RadioEvent).Type, "dropped frame publishes nothing")
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func TestRxErrorAndCadCallbacks(t *testing.T) {
	trx := &fakeTransceiver{}
	r := newRadio(t, trx)

	rxErr := make(chan struct{}, 1)
	cad := make(chan bool, 1)
	assert.False(t, r.SetRxErrorCallback(nil))
	assert.False(t, r.SetCadCallback(nil))
	r.SetRxErrorCallback(func() { rxErr <- struct{}{} })
	r.SetCadCallback(func(busy bool) { cad <- busy })

	require.NoError(t, r.StartCad(CadParams{Symbols: 4, DetPeak: 22, DetMin: 10}))
	assert.Error(t, r.StartCad(CadParams{Symbols: 4, DetPeak: 10, DetMin: 22}))
	require.Len(t, trx.cad, 1)

	trx.raise(func(ev *Events) { ev.CadDone(true) })
	trx.raise(func(ev *Events) { ev.RxError() })

	select {
	case busy := <-cad:
		assert.True(t, busy)
	case <-time.After(time.Second):
		t.Fatal("cad not reported")
	}
	select {
	case <-rxErr:
	case <-time.After(time.Second):
		t.Fatal("rx error not reported")
	}
}

func TestStartStopRx(t *testing.T) {
	trx := &fakeTransceiver{}
	r := newRadio(t, trx)
	require.NoError(t, r.StartRx())
	require.NoError(t, r.StopRx())
	assert.Equal(t, []string{"rx", "standby"}, trx.calls)
	assert.Equal(t, []time.Duration{0}, trx.rxTimeout)
}

func TestDeepSleep(t *testing.T) {
	trx := &fakeTransceiver{}
	var slept time.Duration
	ctrl := power.NewController(power.SleeperFunc(func(wake time.Duration) { slept = wake }))
	r := newRadio(t, trx, WithPower(ctrl))

	require.NoError(t, r.DeepSleep(time.Minute))
	assert.Equal(t, []string{"standby", "sleep"}, trx.calls)
	assert.Equal(t, time.Minute, slept)
	assert.Equal(t, power.Halted, ctrl.State())

	noPower := newRadio(t, &fakeTransceiver{})
	assert.ErrorIs(t, noPower.DeepSleep(time.Second), ErrNoPowerController)
}

func TestSymbolTime(t *testing.T) {
	assert.Equal(t, 1024*time.Microsecond, Modulation{SF: 7, BW: BW125}.SymbolTime())
	assert.Equal(t, 32768*time.Microsecond, Modulation{SF: 12, BW: BW125}.SymbolTime())
	assert.Zero(t, Modulation{}.SymbolTime())
}
