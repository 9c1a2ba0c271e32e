package session

import (
	"errors"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/brocaar/lorawan/band"

	"github.com/R3DPanda1/LWN-Node/node/channels"
)

// ErrLengthExceeded is returned by QueryTxPossible when the payload does not
// fit at the current data rate.
var ErrLengthExceeded = errors.New("engine: payload exceeds maximum size for data rate")

type Activation int

const (
	ActivationNone Activation = iota
	ActivationABP
	ActivationOTAA
)

func (a Activation) String() string {
	switch a {
	case ActivationABP:
		return "ABP"
	case ActivationOTAA:
		return "OTAA"
	default:
		return "none"
	}
}

type Class int

const (
	ClassA Class = iota
	ClassB
	ClassC
)

func (c Class) String() string {
	switch c {
	case ClassB:
		return "B"
	case ClassC:
		return "C"
	default:
		return "A"
	}
}

// Field selects an entry of the engine's information base.
type Field int

const (
	FieldNetworkActivation Field = iota
	FieldDataRate
	FieldTxPower
	FieldDevAddr
	FieldNetID
	FieldNwkSKey
	FieldAppSKey
	FieldNvmContext
	FieldUplinkCounter
	FieldDownlinkCounter
)

// MibValue carries the value of one Field; only the member matching the
// field is meaningful.
type MibValue struct {
	Activation Activation
	DataRate   int
	TxPower    int
	DevAddr    lorawan.DevAddr
	NetID      lorawan.NetID
	Key        lorawan.AES128Key
	Counter    uint32
	Nvm        *NvmContext
}

// NvmContext is the engine-owned mutable state the session may edit in place.
type NvmContext struct {
	Region band.Name
	Masks  *channels.MaskSet
}

// Params is the initialization block handed to the engine.
type Params struct {
	Region    band.Name
	ADR       bool
	DataRate  int
	TxPower   int
	DutyCycle bool
	Class     Class
	JoinType  Activation
	NbTrials  int

	DevEUI  lorawan.EUI64
	JoinEUI lorawan.EUI64
	AppKey  lorawan.AES128Key

	DevAddr lorawan.DevAddr
	NwkSKey lorawan.AES128Key
	AppSKey lorawan.AES128Key
}

type McpsRequest struct {
	Confirmed bool
	// Port 0 with an empty payload sends a frame without FPort.
	Port     uint8
	Payload  []byte
	DataRate int
	NbTrials int
}

type MlmeType int

const (
	MlmeJoin MlmeType = iota
	MlmeLinkCheck
)

type MlmeRequest struct {
	Type MlmeType
}

type TxInfo struct {
	MaxPossiblePayload int
	CurrentPayloadSize int
}

type ChannelParams struct {
	Frequency uint32
	MinDR     int
	MaxDR     int
	Band      int
}

type JoinResult struct {
	Activation Activation
	OK         bool
	DataRate   int
	TxPower    int
}

type TxResult struct {
	Confirmed     bool
	AckReceived   bool
	DataRate      int
	TxPower       int
	Channel       int
	UplinkCounter uint32
}

type RxResult struct {
	// Payload is nil for frames without application data.
	Payload         []byte
	Port            uint8
	RSSI            int16
	SNR             int8
	AckReceived     bool
	UplinkCounter   uint32
	DownlinkCounter uint32
}

// Callbacks is the fixed table the engine calls back into. All entries are
// called from the engine's Process step, except OnMacProcess which the
// engine raises from interrupt context to request one.
type Callbacks struct {
	OnMacProcess              func()
	OnNetworkParametersChange func(Params)
	OnMacMcpsRequest          func(status error, req McpsRequest, nextTxIn time.Duration)
	OnMacMlmeRequest          func(status error, req MlmeRequest, nextTxIn time.Duration)
	OnJoinRequest             func(JoinResult)
	OnTxData                  func(TxResult)
	OnRxData                  func(RxResult)
	OnClassChange             func(Class)
}

// Engine is the LoRaWAN MAC engine driven by a Session.
type Engine interface {
	Init(cb *Callbacks, p Params) error
	Process()
	Join() error
	QueryTxPossible(size int) (TxInfo, error)
	McpsRequest(req McpsRequest) error
	MibGet(f Field) (MibValue, error)
	MibSet(f Field, v MibValue) error
	AddChannel(id int, p ChannelParams) error
	RemoveChannel(id int) error
	ChannelIndex(frequency uint32) (int, error)
	LastRadioQuality() (rssi int16, snr int8)
}

// Idler is implemented by engines that can force their radio to standby
// before a halt.
type Idler interface {
	Idle()
}
