package util

import "time"

// Periodic uplink states
const (
	Stopped = iota
	Running
)

const (
	DefaultSendInterval = 60 * time.Second
	DefaultHistory      = 100
)
