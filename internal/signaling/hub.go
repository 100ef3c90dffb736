// Package signaling implements the /ws/signaling WebRTC relay: each
// device owns exactly one room, keyed by device_id; viewers join that
// room to exchange offer/answer/ice-candidate envelopes with the device.
// The Register/Unregister/Broadcast event loop runs on a single goroutine
// so room membership never needs its own lock.
package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Role is the caller's declared purpose for joining a device's room.
type Role string

const (
	RoleDevice Role = "device"
	RoleViewer Role = "viewer"
)

// Envelope is the signaling message shape.
type Envelope struct {
	Type     string          `json:"type"` // offer, answer, ice-candidate, join, leave
	DeviceID string          `json:"device_id"`
	From     string          `json:"from"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type client struct {
	conn     *websocket.Conn
	send     chan []byte
	deviceID string
	role     Role
	id       string
}

type registerMsg struct {
	client *client
	result chan error
}

// Hub runs the signaling relay's single event loop.
type Hub struct {
	rooms      map[string]map[*client]bool
	register   chan registerMsg
	unregister chan *client
	broadcast  chan envelopeMsg
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

type envelopeMsg struct {
	from *client
	data []byte
}

// New creates a Hub. Call Run in its own goroutine before serving traffic.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:      make(map[string]map[*client]bool),
		register:   make(chan registerMsg),
		unregister: make(chan *client),
		broadcast:  make(chan envelopeMsg),
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(r *http.Request) bool { return true }},
		logger:     logger,
	}
}

// Run owns all room state; call once, in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case msg := <-h.register:
			h.handleRegister(msg)

		case c := <-h.unregister:
			h.handleUnregister(c)

		case m := <-h.broadcast:
			h.handleBroadcast(m)
		}
	}
}

func (h *Hub) handleRegister(msg registerMsg) {
	c := msg.client
	room := h.rooms[c.deviceID]
	if room == nil {
		room = make(map[*client]bool)
		h.rooms[c.deviceID] = room
	}

	if c.role == RoleDevice {
		for existing := range room {
			if existing.role == RoleDevice {
				msg.result <- errDeviceAlreadyConnected(c.deviceID)
				return
			}
		}
	}

	room[c] = true
	msg.result <- nil
}

func (h *Hub) handleUnregister(c *client) {
	room, ok := h.rooms[c.deviceID]
	if !ok {
		return
	}
	if _, exists := room[c]; !exists {
		return
	}
	delete(room, c)
	close(c.send)
	if len(room) == 0 {
		delete(h.rooms, c.deviceID)
	}
}

// handleBroadcast relays an envelope to every other client in the sender's
// room.
func (h *Hub) handleBroadcast(m envelopeMsg) {
	room, ok := h.rooms[m.from.deviceID]
	if !ok {
		return
	}
	for c := range room {
		if c == m.from {
			continue
		}
		select {
		case c.send <- m.data:
		default:
			close(c.send)
			delete(room, c)
		}
	}
}

// ServeHTTP upgrades and registers a client for
// `/ws/signaling?device_id=...&role=device|viewer`.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	role := Role(r.URL.Query().Get("role"))
	if deviceID == "" || (role != RoleDevice && role != RoleViewer) {
		http.Error(w, "device_id and role=device|viewer are required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("signaling: ws upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16), deviceID: deviceID, role: role, id: r.RemoteAddr}

	result := make(chan error, 1)
	h.register <- registerMsg{client: c, result: result}
	if err := <-result; err != nil {
		h.logger.Warn("signaling: registration rejected", "device_id", deviceID, "error", err)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.broadcast <- envelopeMsg{from: c, data: data}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

type deviceAlreadyConnectedError struct{ deviceID string }

func (e deviceAlreadyConnectedError) Error() string {
	return "device " + e.deviceID + " already has an active signaling connection"
}

func errDeviceAlreadyConnected(deviceID string) error {
	return deviceAlreadyConnectedError{deviceID: deviceID}
}
