package repositories

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/brocaar/lorawan/band"

	"github.com/R3DPanda1/LWN-Node/models"
	"github.com/R3DPanda1/LWN-Node/node/codec"
	"github.com/R3DPanda1/LWN-Node/node/events"
	"github.com/R3DPanda1/LWN-Node/node/mac/loopback"
	"github.com/R3DPanda1/LWN-Node/node/power"
	"github.com/R3DPanda1/LWN-Node/node/radio"
	"github.com/R3DPanda1/LWN-Node/node/radio/udplink"
	"github.com/R3DPanda1/LWN-Node/node/resources/communication/buffer"
	"github.com/R3DPanda1/LWN-Node/node/retained"
	"github.com/R3DPanda1/LWN-Node/node/scheduler"
	"github.com/R3DPanda1/LWN-Node/node/session"
	"github.com/R3DPanda1/LWN-Node/node/util"
	"github.com/R3DPanda1/LWN-Node/socket"
)

var (
	ErrRunning       = errors.New("node already running")
	ErrStopped       = errors.New("node not running")
	ErrRadioDisabled = errors.New("raw radio not enabled")
	ErrNoCodec       = errors.New("no payload codec configured")
)

const (
	uplinkJobID         = 1
	schedulerResolution = 100 * time.Millisecond
)

// NodeRepository is the interface that defines the methods that the node repository must implement.
type NodeRepository interface {
	Start() error                                   // Initialize the session and raw radio, start the uplink timer
	Stop() bool                                     // Stop the uplink timer and the workers
	Status() NodeStatus                             // Get the node status
	Join() (bool, error)                            // Start a join exchange
	SendUplink(socket.UplinkRequest) (string, error) // Send one uplink now
	SetSubBand(int) error                            // Restrict uplinks to one sub-band
	AddChannel(uint32) (int, error)                  // Define a custom channel
	DelChannel(uint32) error                         // Remove a custom channel
	DeliverDownlink(socket.DownlinkRequest) error    // Queue a downlink on the loopback network
	GetFrames() []buffer.Frame                       // Take the frames logged since the last call
	RadioSend(socket.RadioSendRequest) error         // Send a raw radio frame
	ConfigureRadio(socket.RadioConfigRequest) error  // Change raw radio settings
	Halt(time.Duration) error                        // Enter the low-power halt
	GetEventBroker() *events.EventBroker
}

// NodeStatus is the combined state reported by the control API.
type NodeStatus struct {
	State       string                 `json:"state"`
	Session     *session.Status        `json:"session,omitempty"`
	Radio       *RadioStatus           `json:"radio,omitempty"`
	Codec       string                 `json:"codec,omitempty"`
	LastDecoded map[string]interface{} `json:"lastDecoded,omitempty"` // codec output for the latest downlink
}

type RadioStatus struct {
	Frequency uint32 `json:"frequency"`
	SF        int    `json:"sf"`
	BW        int    `json:"bw"`
	EIRP      int    `json:"eirp"`
	Encrypted bool   `json:"encrypted"`
}

type Option func(*nodeRepository)

// WithSleeper replaces the process-exiting halt, for tests.
func WithSleeper(s power.Sleeper) Option {
	return func(n *nodeRepository) { n.sleeper = s }
}

// nodeRepository repository struct
type nodeRepository struct {
	cfg     *models.ServerConfig
	broker  *events.EventBroker
	sleeper power.Sleeper

	mu        sync.Mutex
	state     int
	power     *power.Controller
	engine    *loopback.Engine
	session   *session.Session
	link      *udplink.Link
	radio     *radio.Radio
	scheduler *scheduler.Scheduler

	executor    *codec.Executor
	codec       *codec.Codec
	codecState  *codec.State
	lastDecoded map[string]interface{}
}

// NewNodeRepository create a new repository instance
func NewNodeRepository(cfg *models.ServerConfig, opts ...Option) NodeRepository {
	history := cfg.Events.HistoryPerTopic
	if history <= 0 {
		history = util.DefaultHistory
	}
	n := &nodeRepository{
		cfg:      cfg,
		broker:   events.NewEventBroker(history),
		state:    util.Stopped,
		executor: codec.NewExecutor(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *nodeRepository) GetEventBroker() *events.EventBroker {
	return n.broker
}

// Start brings up the node session, the optional raw radio and the periodic
// uplink job.
func (n *nodeRepository) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == util.Running {
		slog.Warn("node already running", "component", "node")
		return ErrRunning
	}

	interval := util.DefaultSendInterval
	if s := n.cfg.Node.SendInterval; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("send interval: %w", err)
		}
		interval = d
	}

	if n.cfg.Node.Codec != "" {
		c, err := codec.Load(n.cfg.Node.Codec)
		if err != nil {
			return err
		}
		n.codec, n.codecState, n.lastDecoded = c, codec.NewState(), nil
	}

	n.power = power.NewController(n.sleeper)
	n.power.OnHalt(func() {
		n.broker.PublishSystemEvent(events.SystemEvent{Type: events.SysEventHalted, Message: "node halting"})
	})

	n.engine = loopback.New()
	sess, err := n.newSession()
	if err != nil {
		return err
	}
	nc := n.cfg.Node
	if err := sess.Init(nc.DataRate, nc.EIRP, nc.ADR, nc.DutyCycle); err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}
	sess.SetTxCallback(func(u session.Uplink) {
		slog.Info("uplink complete", "component", "node", "dr", u.DataRate, "eirp", u.EIRP, "channel", u.Channel, "ack", u.AckReceived)
	})
	sess.SetRxCallback(n.onDownlink)
	n.session = sess

	if n.cfg.Radio.Enable {
		if err := n.startRadio(); err != nil {
			sess.Close()
			n.session = nil
			return err
		}
	}

	sess.Join(n.onJoin)

	n.scheduler = scheduler.New(schedulerResolution, int(interval/schedulerResolution)+1, 1, 4)
	n.scheduler.Schedule(&scheduler.Job{ID: uplinkJobID, Interval: interval, Execute: n.tick})

	n.state = util.Running
	n.broker.PublishSystemEvent(events.SystemEvent{Type: events.SysEventStarted, Message: "node started"})
	slog.Info("node started", "component", "node", "activation", sess.JoinType(), "region", sess.Region(), "interval", interval)
	return nil
}

func (n *nodeRepository) newSession() (*session.Session, error) {
	nc := n.cfg.Node
	class, err := parseClass(nc.Class)
	if err != nil {
		return nil, err
	}

	opts := []session.Option{
		session.WithRegion(band.Name(strings.ToUpper(nc.Region))),
		session.WithEventBroker(n.broker),
		session.WithPower(n.power),
	}
	if nc.SubBand > 0 {
		opts = append(opts, session.WithDefaultSubBand(nc.SubBand))
	}
	if nc.RetainedDir != "" {
		opts = append(opts, session.WithRetainedStore(retained.NewStore(nc.RetainedDir)))
	}

	switch strings.ToLower(nc.Activation) {
	case "abp":
		var devAddr lorawan.DevAddr
		var nwkSKey, appSKey lorawan.AES128Key
		if err := devAddr.UnmarshalText([]byte(nc.DevAddr)); err != nil {
			return nil, fmt.Errorf("devAddr: %w", err)
		}
		if err := nwkSKey.UnmarshalText([]byte(nc.NwkSKey)); err != nil {
			return nil, fmt.Errorf("nwkSKey: %w", err)
		}
		if err := appSKey.UnmarshalText([]byte(nc.AppSKey)); err != nil {
			return nil, fmt.Errorf("appSKey: %w", err)
		}
		return session.NewABP(n.engine, devAddr, nwkSKey, appSKey, class, opts...), nil
	case "otaa", "":
		var devEUI, joinEUI lorawan.EUI64
		var appKey lorawan.AES128Key
		if err := devEUI.UnmarshalText([]byte(nc.DevEUI)); err != nil {
			return nil, fmt.Errorf("devEUI: %w", err)
		}
		if err := joinEUI.UnmarshalText([]byte(nc.JoinEUI)); err != nil {
			return nil, fmt.Errorf("joinEUI: %w", err)
		}
		if err := appKey.UnmarshalText([]byte(nc.AppKey)); err != nil {
			return nil, fmt.Errorf("appKey: %w", err)
		}
		return session.NewOTAA(n.engine, devEUI, joinEUI, appKey, class, opts...), nil
	}
	return nil, fmt.Errorf("unknown activation %q", nc.Activation)
}

func parseClass(s string) (session.Class, error) {
	switch strings.ToUpper(s) {
	case "A", "":
		return session.ClassA, nil
	case "B":
		return session.ClassB, nil
	case "C":
		return session.ClassC, nil
	}
	return session.ClassA, fmt.Errorf("unknown device class %q", s)
}

func (n *nodeRepository) startRadio() error {
	rc := n.cfg.Radio
	link, err := udplink.Dial(rc.LocalAddress, rc.PeerAddress)
	if err != nil {
		return fmt.Errorf("open air link: %w", err)
	}
	r := radio.New(link, radio.WithEventBroker(n.broker), radio.WithPower(n.power))
	if err := r.Init(); err != nil {
		link.Close()
		return err
	}
	if err := n.applyRadio(r, socket.RadioConfigRequest{
		Frequency: rc.Frequency, SF: rc.SF, BW: rc.BW, EIRP: &rc.EIRP, Key: rc.Key,
	}); err != nil {
		r.Close()
		link.Close()
		return err
	}
	r.SetRxCallback(func(p []byte, rssi int16, snr int8) {
		slog.Info("raw frame received", "component", "node", "payload", hex.EncodeToString(p), "rssi", rssi, "snr", snr)
	})
	// a transmission leaves the transceiver in standby
	r.SetTxCallback(func() {
		if err := r.StartRx(); err != nil {
			slog.Warn("raw radio receive not re-armed", "component", "node", "error", err)
		}
	})
	if err := r.StartRx(); err != nil {
		r.Close()
		link.Close()
		return err
	}
	n.link, n.radio = link, r
	return nil
}

func (n *nodeRepository) applyRadio(r *radio.Radio, req socket.RadioConfigRequest) error {
	if req.Frequency != 0 {
		if err := r.SetFreq(req.Frequency); err != nil {
			return err
		}
	}
	if req.SF != 0 {
		if err := r.SetSF(req.SF); err != nil {
			return err
		}
	}
	if req.BW != 0 {
		if err := r.SetBW(radio.Bandwidth(req.BW)); err != nil {
			return err
		}
	}
	if req.EIRP != nil {
		if err := r.SetEIRP(*req.EIRP); err != nil {
			return err
		}
	}
	if req.Key != "" {
		var key lorawan.AES128Key
		if err := key.UnmarshalText([]byte(req.Key)); err != nil {
			return fmt.Errorf("radio key: %w", err)
		}
		r.SetEncryptKey(key)
	}
	return nil
}

func (n *nodeRepository) onDownlink(d session.Downlink) {
	slog.Info("downlink", "component", "node", "port", d.Port, "payload", hex.EncodeToString(d.Payload), "rssi", d.RSSI, "snr", d.SNR)
	n.mu.Lock()
	c, st := n.codec, n.codecState
	n.mu.Unlock()
	if c == nil || !c.CanDecode() {
		return
	}
	obj, err := n.executor.Decode(c, d.Port, d.Payload, st)
	if err != nil {
		slog.Warn("downlink decode failed", "component", "node", "codec", c.Name, "error", err)
		return
	}
	slog.Debug("downlink decoded", "component", "node", "codec", c.Name, "object", obj)
	n.mu.Lock()
	n.lastDecoded = obj
	n.mu.Unlock()
}

func (n *nodeRepository) onJoin(ok bool, rssi int16, snr int8) {
	if !ok {
		slog.Warn("join failed, retrying on next tick", "component", "node")
		return
	}
	slog.Info("joined", "component", "node", "rssi", rssi, "snr", snr)
}

// tick runs the periodic uplink, joining first when needed.
func (n *nodeRepository) tick() {
	n.mu.Lock()
	sess := n.session
	n.mu.Unlock()
	if sess == nil {
		return
	}
	if !sess.IsJoined() {
		sess.Join(n.onJoin)
		return
	}
	res, err := n.SendUplink(socket.UplinkRequest{
		Port:      n.cfg.Node.Port,
		Payload:   n.cfg.Node.Payload,
		Object:    n.cfg.Node.CodecObject,
		Confirmed: n.cfg.Node.Confirmed,
	})
	if err != nil {
		slog.Warn("periodic uplink failed", "component", "node", "error", err)
		return
	}
	slog.Debug("periodic uplink", "component", "node", "result", res)
}

// Stop If the node is running, it stops it and returns True, otherwise returns False.
func (n *nodeRepository) Stop() bool {
	n.mu.Lock()
	if n.state == util.Stopped {
		n.mu.Unlock()
		slog.Warn("node already stopped", "component", "node")
		return false
	}
	sess, r, link, sched := n.session, n.radio, n.link, n.scheduler
	n.session, n.radio, n.link, n.scheduler = nil, nil, nil, nil
	n.state = util.Stopped
	n.mu.Unlock()

	// the uplink job takes n.mu, so the wheel is stopped unlocked
	sched.Stop()
	sess.Close()
	if r != nil {
		r.Close()
		link.Close()
	}
	slog.Info("node stopped", "component", "node")
	return true
}

func (n *nodeRepository) Status() NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	st := NodeStatus{State: "stopped"}
	if n.state == util.Running {
		st.State = "running"
	}
	if n.session != nil {
		ss := n.session.Status()
		st.Session = &ss
	}
	if n.codec != nil {
		st.Codec = n.codec.Name
		st.LastDecoded = n.lastDecoded
	}
	if n.radio != nil {
		m := n.radio.Modulation()
		st.Radio = &RadioStatus{
			Frequency: n.radio.Frequency(),
			SF:        m.SF,
			BW:        int(m.BW),
			EIRP:      m.EIRP,
			Encrypted: n.radio.Encrypted(),
		}
	}
	return st
}

func (n *nodeRepository) current() (*session.Session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return nil, ErrStopped
	}
	return n.session, nil
}

func (n *nodeRepository) Join() (bool, error) {
	s, err := n.current()
	if err != nil {
		return false, err
	}
	return s.Join(n.onJoin), nil
}

func (n *nodeRepository) SendUplink(req socket.UplinkRequest) (string, error) {
	s, err := n.current()
	if err != nil {
		return "", err
	}
	data, err := n.uplinkPayload(req)
	if err != nil {
		return "", err
	}
	var res session.SendResult
	if req.Confirmed {
		res, err = s.SendConfirmed(req.Port, data)
	} else {
		res, err = s.SendUnconfirmed(req.Port, data)
	}
	return res.String(), err
}

// uplinkPayload decodes the hex payload, or encodes req.Object with the
// codec when no payload is given.
func (n *nodeRepository) uplinkPayload(req socket.UplinkRequest) ([]byte, error) {
	if req.Payload != "" || req.Object == nil {
		data, err := hex.DecodeString(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("payload: %w", err)
		}
		return data, nil
	}
	n.mu.Lock()
	c, st := n.codec, n.codecState
	n.mu.Unlock()
	if c == nil {
		return nil, ErrNoCodec
	}
	return n.executor.Encode(c, req.Port, req.Object, st)
}

func (n *nodeRepository) SetSubBand(sb int) error {
	s, err := n.current()
	if err != nil {
		return err
	}
	return s.SetSubBand(sb)
}

func (n *nodeRepository) AddChannel(frequency uint32) (int, error) {
	s, err := n.current()
	if err != nil {
		return -1, err
	}
	return s.AddChannel(frequency)
}

func (n *nodeRepository) DelChannel(frequency uint32) error {
	s, err := n.current()
	if err != nil {
		return err
	}
	return s.DelChannel(frequency)
}

func (n *nodeRepository) DeliverDownlink(req socket.DownlinkRequest) error {
	n.mu.Lock()
	engine := n.engine
	running := n.session != nil
	n.mu.Unlock()
	if !running {
		return ErrStopped
	}
	data, err := hex.DecodeString(req.Payload)
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	return engine.Deliver(req.Port, data)
}

func (n *nodeRepository) GetFrames() []buffer.Frame {
	n.mu.Lock()
	engine := n.engine
	n.mu.Unlock()
	if engine == nil {
		return []buffer.Frame{}
	}
	return engine.Air().Drain()
}

func (n *nodeRepository) currentRadio() (*radio.Radio, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.radio == nil {
		return nil, ErrRadioDisabled
	}
	return n.radio, nil
}

func (n *nodeRepository) RadioSend(req socket.RadioSendRequest) error {
	r, err := n.currentRadio()
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(req.Payload)
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	return r.Send(data)
}

func (n *nodeRepository) ConfigureRadio(req socket.RadioConfigRequest) error {
	r, err := n.currentRadio()
	if err != nil {
		return err
	}
	return n.applyRadio(r, req)
}

// Halt saves the node state and enters the low-power halt. With the default
// sleeper the process exits.
func (n *nodeRepository) Halt(wake time.Duration) error {
	n.mu.Lock()
	sess, r, sched := n.session, n.radio, n.scheduler
	n.mu.Unlock()
	if sess == nil {
		return ErrStopped
	}
	sched.Remove(uplinkJobID)
	if r != nil {
		if err := r.StopRx(); err != nil {
			slog.Warn("raw radio standby failed", "component", "node", "error", err)
		}
	}
	return sess.DeepSleep(wake)
}
