package controllers

import (
	"time"

	"github.com/R3DPanda1/LWN-Node/node/events"
	"github.com/R3DPanda1/LWN-Node/node/resources/communication/buffer"
	repo "github.com/R3DPanda1/LWN-Node/repositories"
	e "github.com/R3DPanda1/LWN-Node/socket"
)

// NodeController is the interface that defines the methods that the node controller must implement.
type NodeController interface {
	Run() error                                 // Start the node
	Stop() bool                                 // Stop the node
	Status() repo.NodeStatus                    // Get the status of the node
	Join() (bool, error)                        // Start a join exchange
	SendUplink(e.UplinkRequest) (string, error) // Send an uplink
	SetSubBand(int) error                       // Restrict uplinks to one sub-band
	AddChannel(uint32) (int, error)             // Add a custom channel
	DelChannel(uint32) error                    // Remove a custom channel
	DeliverDownlink(e.DownlinkRequest) error    // Queue a downlink for the node
	GetFrames() []buffer.Frame                  // Get the frames seen on the air since the last call
	RadioSend(e.RadioSendRequest) error         // Send a raw radio frame
	ConfigureRadio(e.RadioConfigRequest) error  // Change the raw radio settings
	Halt(time.Duration) error                   // Halt the node until the wake timer

	// Event broker
	GetEventBroker() *events.EventBroker
}

// nodeController controller struct
type nodeController struct {
	repo repo.NodeRepository
}

// NewNodeController create a new controller instance with the provided repository
func NewNodeController(repo repo.NodeRepository) NodeController {
	return &nodeController{
		repo: repo,
	}
}

// --- Controller calls to Repository, no need to comment them, they are self-explanatory ---
// Check the repository methods to see what they do

func (c *nodeController) Run() error {
	return c.repo.Start()
}

func (c *nodeController) Stop() bool {
	return c.repo.Stop()
}

func (c *nodeController) Status() repo.NodeStatus {
	return c.repo.Status()
}

func (c *nodeController) Join() (bool, error) {
	return c.repo.Join()
}

func (c *nodeController) SendUplink(req e.UplinkRequest) (string, error) {
	return c.repo.SendUplink(req)
}

func (c *nodeController) SetSubBand(sb int) error {
	return c.repo.SetSubBand(sb)
}

func (c *nodeController) AddChannel(frequency uint32) (int, error) {
	return c.repo.AddChannel(frequency)
}

func (c *nodeController) DelChannel(frequency uint32) error {
	return c.repo.DelChannel(frequency)
}

func (c *nodeController) DeliverDownlink(req e.DownlinkRequest) error {
	return c.repo.DeliverDownlink(req)
}

func (c *nodeController) GetFrames() []buffer.Frame {
	return c.repo.GetFrames()
}

func (c *nodeController) RadioSend(req e.RadioSendRequest) error {
	return c.repo.RadioSend(req)
}

func (c *nodeController) ConfigureRadio(req e.RadioConfigRequest) error {
	return c.repo.ConfigureRadio(req)
}

func (c *nodeController) Halt(wake time.Duration) error {
	return c.repo.Halt(wake)
}

func (c *nodeController) GetEventBroker() *events.EventBroker {
	return c.repo.GetEventBroker()
}
