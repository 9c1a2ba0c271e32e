package events

import "time"

// Node event types
const (
	EventJoin     = "join"
	EventUp       = "up"
	EventDownlink = "downlink"
	EventTxDone   = "tx_done"
	EventChannel  = "channel"
	EventStatus   = "status"
	EventError    = "error"
)

// Raw radio event types
const (
	RadioEventSend    = "send"
	RadioEventReceive = "receive"
	RadioEventRxError = "rx_error"
	RadioEventCad     = "cad"
	RadioEventError   = "error"
)

// System event types
const (
	SysEventStarted = "started"
	SysEventHalted  = "halted"
	SysEventError   = "error"
)

type NodeEvent struct {
	ID       string            `json:"id"`
	Time     time.Time         `json:"time"`
	DevEUI   string            `json:"devEUI"`
	DevAddr  string            `json:"devAddr,omitempty"`
	Type     string            `json:"type"`
	FCnt     *uint32           `json:"fCnt,omitempty"`
	FPort    *uint8            `json:"fPort,omitempty"`
	DR       *int              `json:"dr,omitempty"`
	EIRP     *int              `json:"eirp,omitempty"`
	Channel  *int              `json:"channel,omitempty"`
	RSSI     *int16            `json:"rssi,omitempty"`
	SNR      *int8             `json:"snr,omitempty"`
	Payload  string            `json:"payload,omitempty"`
	Class    string            `json:"class,omitempty"`
	JoinType string            `json:"joinType,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

type RadioEvent struct {
	ID      string            `json:"id"`
	Time    time.Time         `json:"time"`
	Radio   string            `json:"radio"`
	Type    string            `json:"type"`
	Size    int               `json:"size,omitempty"`
	RSSI    *int16            `json:"rssi,omitempty"`
	SNR     *int8             `json:"snr,omitempty"`
	Payload string            `json:"payload,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
}

type SystemEvent struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
	IsError bool      `json:"isError"`
}

func NodeTopic(devEUI string) string { return "node:" + devEUI }
func RadioTopic(name string) string  { return "radio:" + name }

const SystemTopic = "system"
const ErrorsTopic = "errors"
