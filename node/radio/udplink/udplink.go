// Package udplink is a radio.Transceiver that carries LoRa frames as UDP
// datagrams between two peers. A frame is heard only when sender and
// receiver are tuned to the same frequency, spreading factor and bandwidth.
package udplink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/R3DPanda1/LWN-Node/node/radio"
	"github.com/R3DPanda1/LWN-Node/node/resources/communication/udp"
)

// header: frequency (4) | SF (1) | BW kHz (2), big endian.
const headerSize = 7

var (
	ErrClosed         = errors.New("udplink: link closed")
	ErrNotInitialized = errors.New("udplink: not initialized")
	ErrAsleep         = errors.New("udplink: transceiver asleep")
)

type mode int

const (
	modeStandby mode = iota
	modeRx
	modeCad
	modeSleep
)

type irqEvent struct {
	txDone  bool
	rx      []byte
	rxError bool
	cad     *bool
}

type Option func(*Link)

// WithQuality sets the RSSI and SNR reported for every received frame.
func WithQuality(rssi int16, snr int8) Option {
	return func(l *Link) { l.rssi, l.snr = rssi, snr }
}

// Link is one end of a UDP air link.
type Link struct {
	conn *net.UDPConn
	peer *net.UDPAddr

	rssi int16
	snr  int8

	mu        sync.Mutex
	irq       func()
	ev        *radio.Events
	mode      mode
	single    bool
	rxTimer   *time.Timer
	frequency uint32
	mod       radio.Modulation
	lastHeard time.Time
	pending   []irqEvent
	closed    bool

	done chan struct{}
}

// New wraps an open socket talking to peer.
func New(conn *net.UDPConn, peer *net.UDPAddr, opts ...Option) *Link {
	l := &Link{
		conn: conn,
		peer: peer,
		rssi: -40,
		snr:  9,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dial listens on local and sends to peer.
func Dial(local, peer string, opts ...Option) (*Link, error) {
	conn, err := udp.Listen(local)
	if err != nil {
		return nil, err
	}
	addr, err := udp.Resolve(peer)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return New(conn, addr, opts...), nil
}

// LocalAddr is the address peers must send to.
func (l *Link) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

func (l *Link) Init(irq func(), ev *radio.Events) error {
	if l.conn == nil {
		return udp.ErrNilConnection
	}
	l.mu.Lock()
	l.irq = irq
	l.ev = ev
	l.mode = modeStandby
	l.mu.Unlock()

	go l.read()
	return nil
}

func (l *Link) read() {
	defer close(l.done)
	buf := make([]byte, headerSize+radio.MaxPayload)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("air link read failed", "component", "udplink", "error", err)
			continue
		}
		l.heard(append([]byte{}, buf[:n]...), from)
	}
}

func (l *Link) heard(datagram []byte, from *net.UDPAddr) {
	l.mu.Lock()
	if l.closed || l.mode == modeSleep {
		l.mu.Unlock()
		return
	}
	if len(datagram) < headerSize {
		rx := l.mode == modeRx
		l.mu.Unlock()
		if rx {
			slog.Debug("short datagram", "component", "udplink", "from", from, "size", len(datagram))
			l.raise(irqEvent{rxError: true})
		}
		return
	}

	freq := binary.BigEndian.Uint32(datagram[0:4])
	sf := int(datagram[4])
	bw := radio.Bandwidth(binary.BigEndian.Uint16(datagram[5:7]))
	if freq != l.frequency || sf != l.mod.SF || bw != l.mod.BW {
		l.mu.Unlock()
		return
	}
	l.lastHeard = time.Now()
	if l.mode != modeRx {
		l.mu.Unlock()
		return
	}
	if l.single {
		l.mode = modeStandby
		l.stopTimer()
	}
	l.mu.Unlock()

	l.raise(irqEvent{rx: datagram[headerSize:]})
}

// raise queues ev and requests processing.
func (l *Link) raise(ev irqEvent) {
	l.mu.Lock()
	l.pending = append(l.pending, ev)
	irq := l.irq
	l.mu.Unlock()
	if irq != nil {
		irq()
	}
}

// ProcessIRQ dispatches every pending event.
func (l *Link) ProcessIRQ() {
	l.mu.Lock()
	work := l.pending
	l.pending = nil
	ev := l.ev
	rssi, snr := l.rssi, l.snr
	l.mu.Unlock()
	if ev == nil {
		return
	}

	for _, e := range work {
		switch {
		case e.txDone && ev.TxDone != nil:
			ev.TxDone()
		case e.rx != nil && ev.RxDone != nil:
			ev.RxDone(e.rx, rssi, snr)
		case e.rxError && ev.RxError != nil:
			ev.RxError()
		case e.cad != nil && ev.CadDone != nil:
			ev.CadDone(*e.cad)
		}
	}
}

func (l *Link) Send(payload []byte) error {
	l.mu.Lock()
	if err := l.usable(); err != nil {
		l.mu.Unlock()
		return err
	}
	datagram := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(datagram[0:4], l.frequency)
	datagram[4] = byte(l.mod.SF)
	binary.BigEndian.PutUint16(datagram[5:7], uint16(l.mod.BW))
	copy(datagram[headerSize:], payload)
	l.mode = modeStandby
	l.stopTimer()
	l.mu.Unlock()

	if _, err := udp.SendTo(l.conn, l.peer, datagram); err != nil {
		return fmt.Errorf("udplink: send: %w", err)
	}
	l.raise(irqEvent{txDone: true})
	return nil
}

func (l *Link) SetChannel(frequency uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.usable(); err != nil {
		return err
	}
	l.frequency = frequency
	return nil
}

func (l *Link) SetModulation(m radio.Modulation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.usable(); err != nil {
		return err
	}
	l.mod = m
	return nil
}

func (l *Link) Rx(timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.usable(); err != nil {
		return err
	}
	l.stopTimer()
	l.mode = modeRx
	l.single = timeout > 0
	if l.single {
		l.rxTimer = time.AfterFunc(timeout, l.rxTimeout)
	}
	return nil
}

func (l *Link) rxTimeout() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode == modeRx && l.single {
		l.mode = modeStandby
		slog.Debug("receive window closed", "component", "udplink")
	}
}

// stopTimer expects l.mu to be held.
func (l *Link) stopTimer() {
	if l.rxTimer != nil {
		l.rxTimer.Stop()
		l.rxTimer = nil
	}
}

func (l *Link) Standby() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.stopTimer()
	l.mode = modeStandby
	return nil
}

// Sleep stops listening until the next Standby.
func (l *Link) Sleep() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.stopTimer()
	l.mode = modeSleep
	return nil
}

// StartCad reports the channel busy when a matching frame was heard during
// the detection window of p.Symbols symbols, or within one window before it.
func (l *Link) StartCad(p radio.CadParams) error {
	l.mu.Lock()
	if err := l.usable(); err != nil {
		l.mu.Unlock()
		return err
	}
	symbols := p.Symbols
	if symbols <= 0 {
		symbols = 1
	}
	window := time.Duration(symbols) * l.mod.SymbolTime()
	l.mode = modeCad
	since := time.Now().Add(-window)
	l.mu.Unlock()

	time.AfterFunc(window, func() {
		l.mu.Lock()
		busy := l.lastHeard.After(since)
		if l.mode == modeCad {
			l.mode = modeStandby
		}
		l.mu.Unlock()
		l.raise(irqEvent{cad: &busy})
	})
	return nil
}

// usable expects l.mu to be held.
func (l *Link) usable() error {
	switch {
	case l.closed:
		return ErrClosed
	case l.ev == nil:
		return ErrNotInitialized
	case l.mode == modeSleep:
		return ErrAsleep
	}
	return nil
}

// Close shuts the socket and waits for the reader to exit.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.stopTimer()
	started := l.ev != nil
	l.mu.Unlock()

	err := l.conn.Close()
	if started {
		<-l.done
	}
	return err
}
