package control

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	messages "github.com/AgustinSRG/go-simple-rpc-message"
	"github.com/gorilla/websocket"

	"github.com/AgustinSRG/go-stream-toolkit/pkg/config"
	"github.com/AgustinSRG/go-stream-toolkit/pkg/logger"
)

// PublishResponse is the coordinator's verdict on a publish request
// (grounded on PublishResponse, control_connection.go).
type PublishResponse struct {
	Accepted bool
	StreamID string
}

type pendingRequest struct {
	waiter chan PublishResponse
}

// KillTarget is consulted by Connection when the coordinator (or Redis)
// asks to kill a live publisher, generalizing the teacher's direct
// server.GetPublisher(channel).Kill() call into an interface this package
// doesn't need pkg/rtmp to satisfy directly.
type KillTarget interface {
	// Kill terminates the publishing session for channel if its current
	// stream id matches streamID, or unconditionally when streamID is ""
	// or "*".
	Kill(channel string, streamID string)

	// KillAllActivePublishers is called right after a (re)connect to the
	// coordinator, since it assumes every live publisher died while this
	// server was unreachable (grounded on Connect's
	// server.KillAllActivePublishers() call).
	KillAllActivePublishers()
}

// Connection is the coordinator websocket RPC link (spec's supplemented
// coordinator/cluster-control feature), grounded on
// ControlServerConnection (control_connection.go).
type Connection struct {
	target KillTarget
	logger logger.Logger

	connectionURL string
	conn          *websocket.Conn

	mu            sync.Mutex
	nextRequestID uint64
	requests      map[string]*pendingRequest

	enabled bool
}

// NewConnection builds a Connection wired to target, reading
// CONTROL_BASE_URL the way Initialize does. Returns enabled=false (and a
// usable no-op Connection) when CONTROL_BASE_URL is unset, matching the
// teacher's "stand-alone mode" fallback.
func NewConnection(target KillTarget, l logger.Logger) *Connection {
	c := &Connection{
		target:   target,
		logger:   l,
		requests: map[string]*pendingRequest{},
	}

	base := config.GetString("CONTROL_BASE_URL", "")
	if base == "" {
		l.Debugf("[WS-CONTROL] CONTROL_BASE_URL not provided. Running in stand-alone mode.")
		return c
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		l.Errorf("[WS-CONTROL] invalid CONTROL_BASE_URL: %v", err)
		return c
	}
	pathURL, _ := url.Parse("/ws/control/rtmp")

	c.connectionURL = baseURL.ResolveReference(pathURL).String()
	c.enabled = true
	return c
}

// Start launches the connect and heartbeat loops; a no-op when the
// Connection was built in stand-alone mode.
func (c *Connection) Start() {
	if !c.enabled {
		return
	}
	go c.connect()
	go c.heartbeatLoop()
}

func (c *Connection) connect() {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return
	}

	c.logger.Debugf("[WS-CONTROL] Connecting to %s", c.connectionURL)

	headers := http.Header{}
	if token := MakeWebsocketAuthenticationToken(); token != "" {
		headers.Set("x-control-auth-token", token)
	}
	if ip := config.GetString("EXTERNAL_IP", ""); ip != "" {
		headers.Set("x-external-ip", ip)
	}
	if port := config.GetString("EXTERNAL_PORT", ""); port != "" {
		headers.Set("x-custom-port", port)
	}
	if config.GetBool("EXTERNAL_SSL", false) {
		headers.Set("x-ssl-use", "true")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.connectionURL, headers)
	if err != nil {
		c.mu.Unlock()
		c.logger.Errorf("[WS-CONTROL] connection error: %v", err)
		go c.reconnect()
		return
	}

	c.conn = conn
	c.mu.Unlock()

	c.target.KillAllActivePublishers()

	go c.readLoop(conn)
}

func (c *Connection) reconnect() {
	time.Sleep(10 * time.Second)
	c.connect()
}

func (c *Connection) onDisconnect(err error) {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.logger.Debugf("[WS-CONTROL] disconnected: %v", err)
	go c.connect()
}

// Send serializes and writes an RPC message; false if currently
// disconnected.
func (c *Connection) Send(msg messages.RPCMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return false
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg.Serialize())) == nil
}

func (c *Connection) nextID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextRequestID
	c.nextRequestID++
	return fmt.Sprint(id)
}

func (c *Connection) readLoop(conn *websocket.Conn) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			conn.Close()
			c.onDisconnect(err)
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			c.onDisconnect(err)
			return
		}

		msg := messages.ParseRPCMessage(string(data))
		c.dispatch(&msg)
	}
}

func (c *Connection) dispatch(msg *messages.RPCMessage) {
	switch msg.Method {
	case "ERROR":
		c.logger.Errorf("[WS-CONTROL] remote error %s: %s", msg.GetParam("Error-Code"), msg.GetParam("Error-Message"))
	case "PUBLISH-ACCEPT":
		c.resolvePublish(msg.GetParam("Request-Id"), PublishResponse{Accepted: true, StreamID: msg.GetParam("Stream-Id")})
	case "PUBLISH-DENY":
		c.resolvePublish(msg.GetParam("Request-Id"), PublishResponse{Accepted: false})
	case "STREAM-KILL":
		c.target.Kill(msg.GetParam("Stream-Channel"), msg.GetParam("Stream-Id"))
	}
}

func (c *Connection) resolvePublish(requestID string, res PublishResponse) {
	c.mu.Lock()
	req := c.requests[requestID]
	c.mu.Unlock()
	if req == nil {
		return
	}
	req.waiter <- res
}

func (c *Connection) heartbeatLoop() {
	for {
		time.Sleep(20 * time.Second)
		c.Send(messages.RPCMessage{Method: "HEARTBEAT"})
	}
}

// RequestPublish asks the coordinator whether channel/key may publish,
// blocking until a PUBLISH-ACCEPT/PUBLISH-DENY arrives or 20 seconds pass
// (grounded on RequestPublish). In stand-alone mode it always accepts.
func (c *Connection) RequestPublish(channel string, key string, userIP string) (accepted bool, streamID string) {
	if !c.enabled {
		return true, ""
	}

	requestID := c.nextID()
	req := &pendingRequest{waiter: make(chan PublishResponse)}

	c.mu.Lock()
	c.requests[requestID] = req
	c.mu.Unlock()

	sent := c.Send(messages.RPCMessage{
		Method: "PUBLISH-REQUEST",
		Params: map[string]string{
			"Request-ID":    requestID,
			"Stream-Channel": channel,
			"Stream-Key":    key,
			"User-IP":       userIP,
		},
	})

	if !sent {
		c.mu.Lock()
		delete(c.requests, requestID)
		c.mu.Unlock()
		return false, ""
	}

	timer := time.AfterFunc(20*time.Second, func() {
		req.waiter <- PublishResponse{Accepted: false}
	})

	res := <-req.waiter
	timer.Stop()

	c.mu.Lock()
	delete(c.requests, requestID)
	c.mu.Unlock()

	return res.Accepted, res.StreamID
}

// PublishEnd notifies the coordinator that a publishing session ended
// (grounded on PublishEnd).
func (c *Connection) PublishEnd(channel string, streamID string) bool {
	return c.Send(messages.RPCMessage{
		Method: "PUBLISH-END",
		Params: map[string]string{
			"Stream-Channel": channel,
			"Stream-ID":      streamID,
		},
	})
}
