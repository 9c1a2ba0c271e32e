package buffer

import "time"

const DefaultBufferSize = 256

// Frame is one PHY payload as it went over the air.
type Frame struct {
	Time       time.Time `json:"time"`
	Uplink     bool      `json:"uplink"`
	Channel    int       `json:"channel"`
	Frequency  uint32    `json:"frequency"`
	DataRate   int       `json:"dataRate"`
	PHYPayload []byte    `json:"phyPayload"`
}

// FrameBuffer is a bounded FIFO that drops the oldest frame when full.
type FrameBuffer struct {
	ch   chan Frame
	done chan struct{}
}

func NewFrameBuffer(size int) *FrameBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &FrameBuffer{
		ch:   make(chan Frame, size),
		done: make(chan struct{}),
	}
}

func (fb *FrameBuffer) Push(f Frame) {
	if f.Time.IsZero() {
		f.Time = time.Now()
	}
	for {
		select {
		case fb.ch <- f:
			return
		default:
			// full: drop oldest and retry
			select {
			case <-fb.ch:
			default:
			}
		}
	}
}

// Pop blocks until a frame is available or the buffer is signalled/closed.
func (fb *FrameBuffer) Pop() (Frame, bool) {
	select {
	case f := <-fb.ch:
		return f, true
	case <-fb.done:
		return Frame{}, false
	}
}

// Drain returns every buffered frame without blocking.
func (fb *FrameBuffer) Drain() []Frame {
	var out []Frame
	for {
		select {
		case f := <-fb.ch:
			out = append(out, f)
		default:
			return out
		}
	}
}

func (fb *FrameBuffer) Len() int {
	return len(fb.ch)
}

// Signal releases one blocked Pop.
func (fb *FrameBuffer) Signal() {
	select {
	case fb.done <- struct{}{}:
	default:
	}
}

func (fb *FrameBuffer) Close() {
	close(fb.done)
}
