package session

import (
	"errors"
	"sync"

	"github.com/brocaar/lorawan/band"

	"github.com/R3DPanda1/LWN-Node/node/channels"
)

var errFakeRefused = errors.New("fake: refused")

// fakeEngine is a scripted Engine. Callbacks are queued and run from Process
// like a real engine does.
type fakeEngine struct {
	mu sync.Mutex

	initErr    error
	mcpsErr    error
	maxPayload int
	rejectJoin bool

	cb         *Callbacks
	params     Params
	activation Activation
	dataRate   int
	txPower    int
	nvm        *NvmContext
	freqs      map[uint32]int
	pending    []func()

	initCalls int
	joinCalls int
	requests  []McpsRequest
	idled     bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{maxPayload: 51}
}

func (f *fakeEngine) Init(cb *Callbacks, p Params) error {
	f.mu.Lock()
	f.initCalls++
	if f.initErr != nil {
		f.mu.Unlock()
		return f.initErr
	}
	region, _ := channels.Lookup(p.Region)
	f.cb = cb
	f.params = p
	f.dataRate = p.DataRate
	f.txPower = p.TxPower
	f.nvm = &NvmContext{Region: p.Region, Masks: channels.NewMaskSet(region.Default)}
	f.freqs = map[uint32]int{}
	if p.Region == band.EU868 {
		f.freqs = map[uint32]int{868100000: 0, 868300000: 1, 868500000: 2}
	}
	f.mu.Unlock()

	f.queue(func() { cb.OnNetworkParametersChange(p) })
	return nil
}

func (f *fakeEngine) queue(fn func()) {
	f.mu.Lock()
	f.pending = append(f.pending, fn)
	cb := f.cb
	f.mu.Unlock()
	cb.OnMacProcess()
}

func (f *fakeEngine) Process() {
	f.mu.Lock()
	work := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, fn := range work {
		fn()
	}
}

func (f *fakeEngine) Join() error {
	f.mu.Lock()
	f.joinCalls++
	reject := f.rejectJoin
	f.mu.Unlock()

	f.queue(func() {
		if reject {
			f.cb.OnJoinRequest(JoinResult{Activation: ActivationOTAA})
			return
		}
		f.mu.Lock()
		f.activation = ActivationOTAA
		f.dataRate = 0
		f.mu.Unlock()
		f.cb.OnJoinRequest(JoinResult{Activation: ActivationOTAA, OK: true})
	})
	return nil
}

func (f *fakeEngine) QueryTxPossible(size int) (TxInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := TxInfo{MaxPossiblePayload: f.maxPayload, CurrentPayloadSize: size}
	if size > f.maxPayload {
		return info, ErrLengthExceeded
	}
	return info, nil
}

func (f *fakeEngine) McpsRequest(req McpsRequest) error {
	f.mu.Lock()
	if f.mcpsErr != nil {
		f.mu.Unlock()
		return f.mcpsErr
	}
	f.requests = append(f.requests, req)
	res := TxResult{
		Confirmed:     req.Confirmed,
		AckReceived:   req.Confirmed,
		DataRate:      req.DataRate,
		TxPower:       f.txPower,
		Channel:       1,
		UplinkCounter: uint32(len(f.requests) - 1),
	}
	f.mu.Unlock()

	f.queue(func() { f.cb.OnTxData(res) })
	return nil
}

// deliver hands a downlink to the session as if it arrived in a receive window.
func (f *fakeEngine) deliver(res RxResult) {
	f.queue(func() { f.cb.OnRxData(res) })
}

func (f *fakeEngine) lastRequest() (McpsRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return McpsRequest{}, false
	}
	return f.requests[len(f.requests)-1], true
}

func (f *fakeEngine) MibGet(field Field) (MibValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cb == nil {
		return MibValue{}, errFakeRefused
	}
	switch field {
	case FieldNetworkActivation:
		return MibValue{Activation: f.activation}, nil
	case FieldDataRate:
		return MibValue{DataRate: f.dataRate}, nil
	case FieldTxPower:
		return MibValue{TxPower: f.txPower}, nil
	case FieldDevAddr:
		return MibValue{DevAddr: f.params.DevAddr}, nil
	case FieldNvmContext:
		return MibValue{Nvm: f.nvm}, nil
	}
	return MibValue{}, nil
}

func (f *fakeEngine) MibSet(field Field, v MibValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch field {
	case FieldNetworkActivation:
		f.activation = v.Activation
	case FieldDataRate:
		f.dataRate = v.DataRate
	case FieldTxPower:
		f.txPower = v.TxPower
	default:
		return errFakeRefused
	}
	return nil
}

func (f *fakeEngine) AddChannel(id int, p ChannelParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nvm.Masks.Enable(id); err != nil {
		return err
	}
	f.freqs[p.Frequency] = id
	return nil
}

func (f *fakeEngine) RemoveChannel(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for freq, ch := range f.freqs {
		if ch == id {
			delete(f.freqs, freq)
		}
	}
	return f.nvm.Masks.Disable(id)
}

func (f *fakeEngine) ChannelIndex(frequency uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.freqs[frequency]
	if !ok {
		return -1, errFakeRefused
	}
	return id, nil
}

func (f *fakeEngine) LastRadioQuality() (int16, int8) {
	return -70, 5
}

func (f *fakeEngine) Idle() {
	f.mu.Lock()
	f.idled = true
	f.mu.Unlock()
}
