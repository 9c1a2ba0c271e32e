package webserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"

	cnt "github.com/R3DPanda1/LWN-Node/controllers"
	"github.com/R3DPanda1/LWN-Node/models"
	"github.com/R3DPanda1/LWN-Node/node/events"
	"github.com/R3DPanda1/LWN-Node/socket"
)

// defaultRadio names the raw radio topic when a stream request leaves it empty.
const defaultRadio = "raw"

// connSubscriptions holds the active event stream unsubscribe functions for a single socket connection.
type connSubscriptions struct {
	mu    sync.Mutex
	funcs []func()
}

// WebServer represents a web server configuration including address, port, router setup, and server socket.
type WebServer struct {
	Address      string           // Address of the web server
	Port         int              // Port of the web server
	Router       *gin.Engine      // Router of the web server
	ServerSocket *socketio.Server // ServerSocket of the web server
}

var (
	nodeController cnt.NodeController
	configuration  *models.ServerConfig
	// socketSubscriptions tracks active event stream unsubscribe functions per socket connection.
	socketSubscriptions sync.Map // map[string]*connSubscriptions keyed by socket ID
)

// NewWebServer creates a new web server instance with the given configuration and node controller.
func NewWebServer(config *models.ServerConfig, controller cnt.NodeController) *WebServer {
	configuration = config
	nodeController = controller
	serverSocket := newServerSocket()
	// Serve blocks, so it gets its own goroutine.
	go func() {
		if err := serverSocket.Serve(); err != nil {
			slog.Error("socket server stopped", "component", "webserver", "error", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := newRouter()
	router.GET("/socket.io/*any", gin.WrapH(serverSocket))
	router.POST("/socket.io/*any", gin.WrapH(serverSocket))

	return &WebServer{
		Address:      configuration.Address,
		Port:         configuration.Port,
		Router:       router,
		ServerSocket: serverSocket,
	}
}

// newRouter builds the gin engine with CORS and the /api routes.
func newRouter() *gin.Engine {
	router := gin.New()
	configCors := cors.DefaultConfig()
	configCors.AllowAllOrigins = true
	configCors.AllowHeaders = []string{"Origin", "Access-Control-Allow-Origin",
		"Access-Control-Allow-Headers", "Content-type"}
	configCors.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	router.Use(cors.New(configCors))
	router.Use(gin.Recovery())

	apiRoutes := router.Group("/api")
	{
		apiRoutes.GET("/start", startNode)                  // Start the node
		apiRoutes.GET("/stop", stopNode)                    // Stop the node
		apiRoutes.GET("/status", nodeStatus)                // Session and radio state
		apiRoutes.POST("/join", joinNetwork)                // Start a join exchange
		apiRoutes.POST("/send", sendUplink)                 // Send one uplink
		apiRoutes.POST("/subband", setSubBand)              // Restrict uplinks to one sub-band
		apiRoutes.POST("/channel", addChannel)              // Add a custom channel
		apiRoutes.DELETE("/channel/:frequency", delChannel) // Remove a custom channel
		apiRoutes.POST("/downlink", deliverDownlink)        // Queue a downlink
		apiRoutes.GET("/frames", getFrames)                 // Frames seen on the air since the last call
		apiRoutes.POST("/radio/send", radioSend)            // Send a raw radio frame
		apiRoutes.POST("/radio/config", configureRadio)     // Change raw radio settings
		apiRoutes.POST("/halt", halt)                       // Enter the low-power halt
	}
	return router
}

// newServerSocket creates a new server socket instance and sets up the socket events.
func newServerSocket() *socketio.Server {
	serverSocket := socketio.NewServer(nil)
	serverSocket.OnConnect("/", func(s socketio.Conn) error {
		slog.Debug("socket connected", "component", "webserver", "id", s.ID())
		s.SetContext("")
		return nil
	})
	serverSocket.OnDisconnect("/", func(s socketio.Conn, reason string) {
		slog.Debug("socket disconnected", "component", "webserver", "id", s.ID(), "reason", reason)
		cleanupSocketSubscriptions(s.ID())
		_ = s.Close()
	})
	serverSocket.OnError("/", func(s socketio.Conn, err error) {
		slog.Warn("socket error", "component", "webserver", "error", err)
	})

	serverSocket.OnEvent("/", socket.EventJoin, func(s socketio.Conn) {
		ok, err := nodeController.Join()
		s.Emit(socket.EventResponse, respond(socket.EventJoin, strconv.FormatBool(ok), err))
	})
	serverSocket.OnEvent("/", socket.EventSendUplink, func(s socketio.Conn, req socket.UplinkRequest) {
		res, err := nodeController.SendUplink(req)
		s.Emit(socket.EventResponse, respond(socket.EventSendUplink, res, err))
	})
	serverSocket.OnEvent("/", socket.EventRadioSend, func(s socketio.Conn, req socket.RadioSendRequest) {
		err := nodeController.RadioSend(req)
		s.Emit(socket.EventResponse, respond(socket.EventRadioSend, "", err))
	})

	// Event stream subscriptions
	serverSocket.OnEvent("/", socket.EventStreamNodeEvents, func(s socketio.Conn, req socket.StreamRequest) {
		node := req.Node
		if node == "" {
			if st := nodeController.Status().Session; st != nil {
				node = st.DevEUI
				if node == "" {
					node = st.DevAddr
				}
			}
		}
		stream(s, events.NodeTopic(node), socket.EventNodeEvent)
	})
	serverSocket.OnEvent("/", socket.EventStopNodeEvents, func(s socketio.Conn, req socket.StreamRequest) {
		cleanupSocketSubscriptions(s.ID())
	})
	serverSocket.OnEvent("/", socket.EventStreamRadioEvents, func(s socketio.Conn, req socket.StreamRequest) {
		name := req.Radio
		if name == "" {
			name = defaultRadio
		}
		stream(s, events.RadioTopic(name), socket.EventRadioEvent)
	})
	serverSocket.OnEvent("/", socket.EventStopRadioEvents, func(s socketio.Conn, req socket.StreamRequest) {
		cleanupSocketSubscriptions(s.ID())
	})

	return serverSocket
}

// stream replays the history of topic to s, then forwards live events until unsubscribed.
func stream(s socketio.Conn, topic, event string) {
	broker := nodeController.GetEventBroker()
	if broker == nil {
		return
	}
	ch, history, unsub := broker.Subscribe(topic)
	addSocketSubscription(s.ID(), unsub)

	for _, evt := range history {
		s.Emit(event, evt)
	}
	go func() {
		for evt := range ch {
			s.Emit(event, evt)
		}
	}()
}

func respond(event, result string, err error) socket.Response {
	r := socket.Response{Event: event, OK: err == nil, Result: result}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

func addSocketSubscription(socketID string, unsub func()) {
	val, _ := socketSubscriptions.LoadOrStore(socketID, &connSubscriptions{})
	entry := val.(*connSubscriptions)
	entry.mu.Lock()
	entry.funcs = append(entry.funcs, unsub)
	entry.mu.Unlock()
}

func cleanupSocketSubscriptions(socketID string) {
	val, ok := socketSubscriptions.LoadAndDelete(socketID)
	if !ok {
		return
	}
	entry := val.(*connSubscriptions)
	entry.mu.Lock()
	for _, fn := range entry.funcs {
		fn()
	}
	entry.funcs = nil
	entry.mu.Unlock()
}

// Run starts the web server and listens on the given address and port.
func (ws *WebServer) Run() error {
	fullAddress := ws.Address + ":" + strconv.Itoa(ws.Port)
	slog.Info("web server listening", "component", "webserver", "address", fullAddress)
	if err := ws.Router.Run(fullAddress); err != nil {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

// --- API Handlers ---

func fail(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"status": "error", "error": err.Error()})
}

func startNode(c *gin.Context) {
	if err := nodeController.Run(); err != nil {
		fail(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func stopNode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stopped": nodeController.Stop()})
}

func nodeStatus(c *gin.Context) {
	c.JSON(http.StatusOK, nodeController.Status())
}

func joinNetwork(c *gin.Context) {
	initiated, err := nodeController.Join()
	if err != nil {
		fail(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"initiated": initiated})
}

func sendUplink(c *gin.Context) {
	var req socket.UplinkRequest
	if err := c.BindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	result, err := nodeController.SendUplink(req)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func setSubBand(c *gin.Context) {
	var req socket.SubBandRequest
	if err := c.BindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := nodeController.SetSubBand(req.SubBand); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subBand": req.SubBand})
}

func addChannel(c *gin.Context) {
	var req socket.ChannelRequest
	if err := c.BindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	id, err := nodeController.AddChannel(req.Frequency)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": id})
}

func delChannel(c *gin.Context) {
	frequency, err := strconv.ParseUint(c.Param("frequency"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := nodeController.DelChannel(uint32(frequency)); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func deliverDownlink(c *gin.Context) {
	var req socket.DownlinkRequest
	if err := c.BindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := nodeController.DeliverDownlink(req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

func getFrames(c *gin.Context) {
	c.JSON(http.StatusOK, nodeController.GetFrames())
}

func radioSend(c *gin.Context) {
	var req socket.RadioSendRequest
	if err := c.BindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := nodeController.RadioSend(req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func configureRadio(c *gin.Context) {
	var req socket.RadioConfigRequest
	if err := c.BindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := nodeController.ConfigureRadio(req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, nodeController.Status().Radio)
}

func halt(c *gin.Context) {
	var req socket.HaltRequest
	if err := c.BindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	wake, err := time.ParseDuration(req.Wake)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	// Respond first: with the process-exiting sleeper Halt never returns.
	c.JSON(http.StatusAccepted, gin.H{"status": "halting", "wake": wake.String()})
	c.Writer.Flush()
	if err := nodeController.Halt(wake); err != nil {
		slog.Warn("halt failed", "component", "webserver", "error", err)
	}
}
