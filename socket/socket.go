// Package socket defines the socket.io event names and payloads exchanged
// with control clients.
package socket

// Client -> server events
const (
	EventJoin              = "join"
	EventSendUplink        = "send-uplink"
	EventRadioSend         = "radio-send"
	EventStreamNodeEvents  = "stream-node-events"
	EventStopNodeEvents    = "stop-node-events"
	EventStreamRadioEvents = "stream-radio-events"
	EventStopRadioEvents   = "stop-radio-events"
)

// Server -> client events
const (
	EventNodeEvent  = "node-event"
	EventRadioEvent = "radio-event"
	EventResponse   = "response"
)

// UplinkRequest asks the node to send one frame. Payload is hex; when it is
// empty and Object is set, the node's codec encodes Object instead.
type UplinkRequest struct {
	Port      uint8                  `json:"port"`
	Payload   string                 `json:"payload"`
	Object    map[string]interface{} `json:"object,omitempty"`
	Confirmed bool                   `json:"confirmed"`
}

// DownlinkRequest queues an application-server downlink. Payload is hex.
type DownlinkRequest struct {
	Port    uint8  `json:"port"`
	Payload string `json:"payload"`
}

type RadioSendRequest struct {
	Payload string `json:"payload"`
}

type RadioConfigRequest struct {
	Frequency uint32 `json:"frequency,omitempty"`
	SF        int    `json:"sf,omitempty"`
	BW        int    `json:"bw,omitempty"`
	EIRP      *int   `json:"eirp,omitempty"`
	Key       string `json:"key,omitempty"`
}

type SubBandRequest struct {
	SubBand int `json:"subBand"`
}

type ChannelRequest struct {
	Frequency uint32 `json:"frequency"`
}

type HaltRequest struct {
	Wake string `json:"wake"` // Go duration
}

// StreamRequest selects the node (DevEUI or DevAddr) or radio to follow.
type StreamRequest struct {
	Node  string `json:"node,omitempty"`
	Radio string `json:"radio,omitempty"`
}

// Response reports the outcome of a socket command.
type Response struct {
	Event  string `json:"event"`
	OK     bool   `json:"ok"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}
