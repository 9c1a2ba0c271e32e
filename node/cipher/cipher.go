// Package cipher protects raw radio payloads with AES-128 in the LoRaWAN
// FRMPayload keystream mode.
//
// Every frame is processed with the same fixed parameters: device address
// DF:DF:DF:DF, downlink direction and frame counter 0x66. The keystream is
// therefore identical for every frame and there is no replay protection.
// This matches point-to-point peers that use the same convention; it is not
// a LoRaWAN-compliant per-frame counter scheme.
package cipher

import (
	"fmt"
	"sync"

	"github.com/brocaar/lorawan"
)

const FrameCounter = uint32(0x66)

var FrameAddress = lorawan.DevAddr{0xDF, 0xDF, 0xDF, 0xDF}

type State int

const (
	Unkeyed State = iota
	Keyed
)

func (s State) String() string {
	if s == Keyed {
		return "keyed"
	}
	return "unkeyed"
}

// Cipher moves from Unkeyed to Keyed on the first SetKey and never back.
// Later calls to SetKey only replace the key.
type Cipher struct {
	mu    sync.RWMutex
	state State
	key   lorawan.AES128Key
}

func (c *Cipher) SetKey(key lorawan.AES128Key) {
	c.mu.Lock()
	c.key = key
	c.state = Keyed
	c.mu.Unlock()
}

func (c *Cipher) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Seal encrypts data for transmission. Unkeyed ciphers return data as is.
func (c *Cipher) Seal(data []byte) ([]byte, error) {
	return c.apply(data)
}

// Open decrypts a received payload. Unkeyed ciphers return data as is.
func (c *Cipher) Open(data []byte) ([]byte, error) {
	return c.apply(data)
}

func (c *Cipher) apply(data []byte) ([]byte, error) {
	c.mu.RLock()
	state, key := c.state, c.key
	c.mu.RUnlock()

	if state == Unkeyed {
		return data, nil
	}
	if len(data) == 0 {
		return []byte{}, nil
	}

	// EncryptFRMPayload xors in place; keep the caller's buffer intact.
	buf := make([]byte, len(data))
	copy(buf, data)
	out, err := lorawan.EncryptFRMPayload(key, false, FrameAddress, FrameCounter, buf)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	return out, nil
}
