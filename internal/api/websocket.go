package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/device"
)

// Message types on the WebSocket.
const (
	WSTypeWelcome     = "welcome"
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	wsSendBufferSize = 256
)

// WSMessage is one frame exchanged with a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload selects channels and, optionally, devices. An empty
// channel list means every channel. Devices narrows the per-device
// channels (reading, device.state) to the listed identities.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Devices  []string `json:"devices,omitempty"`
}

// WSWelcome is sent once, right after the upgrade.
type WSWelcome struct {
	Version  string   `json:"version"`
	Channels []string `json:"channels"`
}

// WSSubscription is the client's filter after a subscribe or unsubscribe.
type WSSubscription struct {
	Channels []string `json:"channels"`
	Devices  []string `json:"devices"`
}

// wsRequest is the inbound form of WSMessage; the payload is decoded per type.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WSClient is one connected WebSocket peer.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	send   chan []byte

	mu       sync.Mutex
	closed   bool
	channels map[string]struct{}
	devices  map[string]struct{}
}

// handleWebSocket upgrades the request and greets the client. Nothing but
// replies is delivered until the client subscribes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	hub := s.Hub()
	c := &WSClient{
		hub:      hub,
		conn:     conn,
		remote:   r.RemoteAddr,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
		devices:  make(map[string]struct{}),
	}
	hub.register(c)
	c.reply(WSTypeWelcome, "", WSWelcome{Version: hub.version, Channels: Channels()})

	go c.writePump()
	go c.readPump()
}

// enqueue queues data without blocking. It reports false if the client is
// gone or its buffer is full.
func (c *WSClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close stops the write pump. Safe to call more than once.
func (c *WSClient) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *WSClient) wants(channel, identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	if identity == "" || len(c.devices) == 0 {
		return true
	}
	_, ok := c.devices[device.CanonicalIdentity(identity)]
	return ok
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "remote", c.remote, "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings; any frame counts.
		extend() //nolint:errcheck // as above
		c.handle(data)
	}
}

func (c *WSClient) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write reports it
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write reports it
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(WSTypePong, req.ID, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var p WSSubscribePayload
		if len(req.Payload) > 0 {
			if err := json.Unmarshal(req.Payload, &p); err != nil {
				c.fail(req.ID, "invalid "+req.Type+" payload")
				return
			}
		}
		for _, ch := range p.Channels {
			if !knownChannel(ch) {
				c.fail(req.ID, "unknown channel: "+ch)
				return
			}
		}
		var sub WSSubscription
		if req.Type == WSTypeSubscribe {
			sub = c.subscribe(p)
		} else {
			sub = c.unsubscribe(p)
		}
		c.hub.logger.Debug("websocket subscription changed", "remote", c.remote, "channels", sub.Channels, "devices", sub.Devices)
		c.reply(WSTypeResponse, req.ID, sub)
	default:
		c.fail(req.ID, "unknown message type: "+req.Type)
	}
}

func (c *WSClient) subscribe(p WSSubscribePayload) WSSubscription {
	chs := p.Channels
	if len(chs) == 0 {
		chs = channels
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range chs {
		c.channels[ch] = struct{}{}
	}
	for _, id := range p.Devices {
		c.devices[device.CanonicalIdentity(id)] = struct{}{}
	}
	return c.snapshotLocked()
}

func (c *WSClient) unsubscribe(p WSSubscribePayload) WSSubscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(p.Channels) == 0 && len(p.Devices) == 0 {
		clear(c.channels)
		clear(c.devices)
	}
	for _, ch := range p.Channels {
		delete(c.channels, ch)
	}
	for _, id := range p.Devices {
		delete(c.devices, device.CanonicalIdentity(id))
	}
	return c.snapshotLocked()
}

func (c *WSClient) snapshotLocked() WSSubscription {
	sub := WSSubscription{
		Channels: make([]string, 0, len(c.channels)),
		Devices:  make([]string, 0, len(c.devices)),
	}
	for ch := range c.channels {
		sub.Channels = append(sub.Channels, ch)
	}
	for id := range c.devices {
		sub.Devices = append(sub.Devices, id)
	}
	slices.Sort(sub.Channels)
	slices.Sort(sub.Devices)
	return sub
}

func (c *WSClient) reply(msgType, id string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *WSClient) fail(id, message string) {
	c.reply(WSTypeError, id, map[string]string{"message": message})
}
