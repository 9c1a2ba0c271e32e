package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/brocaar/lorawan/band"

	"github.com/R3DPanda1/LWN-Node/node/bridge"
	"github.com/R3DPanda1/LWN-Node/node/channels"
	"github.com/R3DPanda1/LWN-Node/node/events"
	"github.com/R3DPanda1/LWN-Node/node/metrics"
	"github.com/R3DPanda1/LWN-Node/node/power"
	"github.com/R3DPanda1/LWN-Node/node/registry"
	"github.com/R3DPanda1/LWN-Node/node/retained"
	"github.com/R3DPanda1/LWN-Node/node/worker"
)

var (
	ErrNotInitialized             = errors.New("session: not initialized")
	ErrAlreadyInitialized         = errors.New("session: already initialized")
	ErrUnsupportedDataRate        = errors.New("session: data rate not supported in region")
	ErrDynamicChannelsUnsupported = errors.New("session: region does not support custom channels")
	ErrNoFreeChannel              = errors.New("session: no free channel slot")
	ErrDefaultChannel             = errors.New("session: default channels cannot be removed")
	ErrNotJoined                  = errors.New("session: not joined")
	ErrInvalidPort                = errors.New("session: port must be in [1,223]")
	ErrNoPowerController          = errors.New("session: no power controller")
)

// US915 nodes start on the second sub-band (channels 8-15 and 65).
const defaultUS915SubBand = 2

type SendResult int

const (
	// Sent means the caller's payload was handed to the engine.
	Sent SendResult = iota
	// Substituted means the payload did not fit at the current data rate and
	// an empty unconfirmed frame was sent instead. The payload was NOT sent.
	Substituted
	// Rejected means the engine refused the request.
	Rejected
)

func (r SendResult) String() string {
	switch r {
	case Sent:
		return "sent"
	case Substituted:
		return "substituted"
	default:
		return "rejected"
	}
}

type (
	JoinFunc func(ok bool, rssi int16, snr int8)
	TxFunc   func(Uplink)
	RxFunc   func(Downlink)
)

// Uplink is reported once a transmission completes.
type Uplink struct {
	AckReceived bool
	DataRate    int
	EIRP        int
	Channel     int
}

type Downlink struct {
	Payload         []byte
	Port            uint8
	RSSI            int16
	SNR             int8
	AckReceived     bool
	UplinkCounter   uint32
	DownlinkCounter uint32
}

// State is the configuration a session was built and initialized with.
type State struct {
	JoinType  Activation
	Class     Class
	Region    band.Name
	DevEUI    lorawan.EUI64
	JoinEUI   lorawan.EUI64
	AppKey    lorawan.AES128Key
	DevAddr   lorawan.DevAddr
	NwkSKey   lorawan.AES128Key
	AppSKey   lorawan.AES128Key
	DataRate  int
	TxEIRP    int
	ADR       bool
	DutyCycle bool
}

// Session drives one MAC engine on behalf of the application. Application
// calls run on the caller's goroutine; engine callbacks run on the session's
// worker goroutine.
type Session struct {
	engine Engine
	bridge *bridge.Bridge
	worker *worker.Worker
	region channels.Region

	broker         *events.EventBroker
	store          *retained.Store
	power          *power.Controller
	defaultSubBand int
	nbTrials       int

	mu           sync.Mutex
	state        State
	initialized  bool
	joinReported bool
	subBand      int
	class        atomic.Int32

	joinCB registry.Slot[JoinFunc]
	txCB   registry.Slot[TxFunc]
	rxCB   registry.Slot[RxFunc]
}

type Option func(*Session)

func WithRegion(name band.Name) Option {
	return func(s *Session) { s.state.Region = name }
}

func WithEventBroker(b *events.EventBroker) Option {
	return func(s *Session) { s.broker = b }
}

func WithRetainedStore(st *retained.Store) Option {
	return func(s *Session) { s.store = st }
}

func WithPower(p *power.Controller) Option {
	return func(s *Session) { s.power = p }
}

// WithDefaultSubBand overrides the sub-band applied at Init; zero disables it.
func WithDefaultSubBand(sb int) Option {
	return func(s *Session) { s.defaultSubBand = sb }
}

func WithNbTrials(n int) Option {
	return func(s *Session) { s.nbTrials = n }
}

func newSession(engine Engine, st State, opts []Option) *Session {
	s := &Session{
		engine:         engine,
		bridge:         bridge.New(),
		state:          st,
		defaultSubBand: -1,
		nbTrials:       1,
	}
	s.state.Region = band.EU868
	s.class.Store(int32(st.Class))
	for _, opt := range opts {
		opt(s)
	}
	s.worker = worker.New("mac", s.bridge, worker.ProcessorFunc(engine.Process))
	return s
}

// NewOTAA builds a session that joins over the air.
func NewOTAA(engine Engine, devEUI, joinEUI lorawan.EUI64, appKey lorawan.AES128Key, class Class, opts ...Option) *Session {
	return newSession(engine, State{
		JoinType: ActivationOTAA,
		Class:    class,
		DevEUI:   devEUI,
		JoinEUI:  joinEUI,
		AppKey:   appKey,
	}, opts)
}

// NewABP builds a session with pre-shared session keys.
func NewABP(engine Engine, devAddr lorawan.DevAddr, nwkSKey, appSKey lorawan.AES128Key, class Class, opts ...Option) *Session {
	return newSession(engine, State{
		JoinType: ActivationABP,
		Class:    class,
		DevAddr:  devAddr,
		NwkSKey:  nwkSKey,
		AppSKey:  appSKey,
	}, opts)
}

// Init starts the worker and initializes the engine. After a failure the
// session must not be used.
func (s *Session) Init(dataRate, txEIRP int, adr, dutyCycle bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return ErrAlreadyInitialized
	}

	region, err := channels.Lookup(s.state.Region)
	if err != nil {
		return err
	}
	if err := validateDataRate(region, dataRate); err != nil {
		return err
	}
	s.region = region
	s.state.DataRate = dataRate
	s.state.TxEIRP = txEIRP
	s.state.ADR = adr
	s.state.DutyCycle = dutyCycle

	if err := s.worker.Start(); err != nil {
		return fmt.Errorf("start protocol worker: %w", err)
	}
	if err := s.engine.Init(s.callbacks(), s.params()); err != nil {
		s.worker.Stop()
		return fmt.Errorf("initialize engine: %w", err)
	}

	sb := s.defaultSubBand
	if sb < 0 && region.Name == band.US915 {
		sb = defaultUS915SubBand
	}
	if sb > 0 {
		if err := s.applySubBand(sb); err != nil {
			s.worker.Stop()
			return fmt.Errorf("apply default sub-band: %w", err)
		}
	}
	s.restoreMasks()

	if s.state.JoinType == ActivationABP {
		if err := s.engine.MibSet(FieldNetworkActivation, MibValue{Activation: ActivationABP}); err != nil {
			s.worker.Stop()
			return fmt.Errorf("set ABP activation: %w", err)
		}
	}

	s.initialized = true
	slog.Info("session initialized", "component", "session", "node", s.id(), "join_type", s.state.JoinType,
		"region", region.Name, "dr", dataRate, "eirp", txEIRP, "adr", adr, "duty_cycle", dutyCycle)
	s.emitEvent(events.EventStatus, map[string]string{"status": "initialized"})
	return nil
}

func validateDataRate(region channels.Region, dr int) error {
	if !region.DataRateAllowed(dr) {
		return fmt.Errorf("%w: DR%d in %s", ErrUnsupportedDataRate, dr, region.Name)
	}
	b, err := band.GetConfig(region.Name, false, lorawan.DwellTimeNoLimit)
	if err != nil {
		return fmt.Errorf("load band %s: %w", region.Name, err)
	}
	if _, err := b.GetDataRate(dr); err != nil {
		return fmt.Errorf("%w: DR%d in %s", ErrUnsupportedDataRate, dr, region.Name)
	}
	return nil
}

func (s *Session) params() Params {
	st := s.state
	return Params{
		Region:    st.Region,
		ADR:       st.ADR,
		DataRate:  st.DataRate,
		TxPower:   s.region.TxPower(st.TxEIRP),
		DutyCycle: st.DutyCycle,
		Class:     st.Class,
		JoinType:  st.JoinType,
		NbTrials:  s.nbTrials,
		DevEUI:    st.DevEUI,
		JoinEUI:   st.JoinEUI,
		AppKey:    st.AppKey,
		DevAddr:   st.DevAddr,
		NwkSKey:   st.NwkSKey,
		AppSKey:   st.AppSKey,
	}
}

func (s *Session) restoreMasks() {
	if s.store == nil {
		return
	}
	t, err := s.store.Load(s.region.Name)
	if errors.Is(err, retained.ErrNotFound) {
		return
	}
	if err != nil {
		slog.Warn("retained masks unreadable", "component", "session", "node", s.id(), "error", err)
		return
	}
	nvm, err := s.nvm()
	if err != nil {
		slog.Warn("cannot restore retained masks", "component", "session", "node", s.id(), "error", err)
		return
	}
	if err := nvm.Masks.Restore(t); err != nil {
		slog.Warn("retained masks rejected", "component", "session", "node", s.id(), "error", err)
		return
	}
	slog.Debug("retained masks restored", "component", "session", "node", s.id())
}

func (s *Session) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Join registers cb and starts a join exchange. It reports whether an
// exchange was initiated, not its outcome: false when already joined.
// ABP sessions are joined from Init on; the first Join made with a callback
// reports success to it synchronously.
func (s *Session) Join(cb JoinFunc) bool {
	if err := s.ready(); err != nil {
		slog.Warn("join before init", "component", "session", "error", err)
		return false
	}
	if cb != nil {
		s.joinCB.Set(cb)
	}

	if s.IsJoined() {
		_, registered := s.joinCB.Get()
		s.mu.Lock()
		report := s.state.JoinType == ActivationABP && !s.joinReported && registered
		if report {
			s.joinReported = true
		}
		s.mu.Unlock()
		if report {
			s.reportJoin(true, 0, 0)
		}
		return false
	}

	if err := s.engine.Join(); err != nil {
		slog.Error("join request refused", "component", "session", "node", s.id(), "error", err)
		s.emitErrorEvent(err)
		return false
	}
	slog.Debug("join initiated", "component", "session", "node", s.id())
	s.emitEvent(events.EventStatus, map[string]string{"status": "join initiated"})
	return true
}

// IsJoined is false only while the engine reports no activation.
func (s *Session) IsJoined() bool {
	v, err := s.engine.MibGet(FieldNetworkActivation)
	if err != nil {
		return false
	}
	return v.Activation != ActivationNone
}

func (s *Session) SendConfirmed(port uint8, data []byte) (SendResult, error) {
	return s.send(true, port, data)
}

func (s *Session) SendUnconfirmed(port uint8, data []byte) (SendResult, error) {
	return s.send(false, port, data)
}

// send hands a frame to the engine. If the engine cannot carry len(data)
// bytes at the current data rate, an empty unconfirmed frame is sent in its
// place to flush pending MAC commands and Substituted is returned.
func (s *Session) send(confirmed bool, port uint8, data []byte) (SendResult, error) {
	if err := s.ready(); err != nil {
		return Rejected, err
	}
	if port == 0 || port > 223 {
		return Rejected, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if !s.IsJoined() {
		return Rejected, ErrNotJoined
	}

	dr, err := s.DataRate()
	if err != nil {
		return Rejected, err
	}

	req := McpsRequest{Confirmed: confirmed, Port: port, Payload: data, DataRate: dr, NbTrials: s.nbTrials}
	result := Sent
	if _, err := s.engine.QueryTxPossible(len(data)); err != nil {
		slog.Warn("payload does not fit current data rate, sending empty frame", "component", "session",
			"node", s.id(), "size", len(data), "dr", dr, "error", err)
		req = McpsRequest{DataRate: dr, NbTrials: s.nbTrials}
		result = Substituted
	}

	if err := s.engine.McpsRequest(req); err != nil {
		metrics.UplinksTotal.WithLabelValues(Rejected.String()).Inc()
		s.emitErrorEvent(err)
		return Rejected, fmt.Errorf("mcps request: %w", err)
	}

	metrics.UplinksTotal.WithLabelValues(result.String()).Inc()
	s.emitEvent(events.EventUp, map[string]string{"result": result.String(), "confirmed": fmt.Sprint(req.Confirmed)})
	return result, nil
}

// SetRxCallback replaces the receive callback. nil is refused.
func (s *Session) SetRxCallback(cb RxFunc) bool {
	if cb == nil {
		return false
	}
	s.rxCB.Set(cb)
	return true
}

// SetTxCallback replaces the transmit-complete callback. nil is refused.
func (s *Session) SetTxCallback(cb TxFunc) bool {
	if cb == nil {
		return false
	}
	s.txCB.Set(cb)
	return true
}

// DeepSleep idles the radio, saves the channel masks and halts the node.
// With the default power controller it does not return.
func (s *Session) DeepSleep(wake time.Duration) error {
	if s.power == nil {
		return ErrNoPowerController
	}
	if idler, ok := s.engine.(Idler); ok {
		idler.Idle()
	}
	if err := s.saveMasks(); err != nil {
		slog.Warn("retained masks not saved", "component", "session", "node", s.id(), "error", err)
	}
	s.emitEvent(events.EventStatus, map[string]string{"status": "halting", "wake": wake.String()})
	return s.power.Halt(wake)
}

func (s *Session) saveMasks() error {
	if s.store == nil {
		return nil
	}
	nvm, err := s.nvm()
	if err != nil {
		return err
	}
	return s.store.Save(nvm.Region, nvm.Masks.Snapshot())
}

// Close stops the protocol worker.
func (s *Session) Close() {
	s.worker.Stop()
}
