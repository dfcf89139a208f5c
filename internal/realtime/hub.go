package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/campusgate/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxControlSize = 4 << 10

	defaultSendBuffer = 64
)

// Message represents a JSON payload delivered to room members.
type Message struct {
	Room  string         `json:"room,omitempty"`
	Event string         `json:"event"`
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// Membership is the data of a joined event: the rooms a join request added and the
// rooms it was refused.
type Membership struct {
	Joined []string `json:"joined"`
	Denied []string `json:"denied,omitempty"`
}

// control frames clients send: {"action":"join|leave|ping","rooms":[...]}
type controlMessage struct {
	Action string   `json:"action"`
	Rooms  []string `json:"rooms"`
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithAllowedOrigins restricts websocket upgrades to the listed origins. "*" allows any.
// Without it only same-host and loopback origins are accepted.
func WithAllowedOrigins(origins ...string) HubOption {
	return func(h *Hub) {
		for _, origin := range origins {
			origin = strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
			if origin == "" {
				continue
			}
			if h.origins == nil {
				h.origins = make(map[string]struct{})
			}
			h.origins[origin] = struct{}{}
		}
	}
}

// WithSendBuffer sets how many messages may queue per connection before it is dropped.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// Hub fans messages out to the websocket connections that joined a room. Connections
// that cannot keep up are disconnected rather than waited for.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[*client]struct{}
	upgrader   websocket.Upgrader
	origins    map[string]struct{}
	sendBuffer int
	log        *zap.Logger
}

// NewHub constructs a realtime hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		rooms:      make(map[string]map[*client]struct{}),
		sendBuffer: defaultSendBuffer,
		log:        logger.WithModule("realtime"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Serve upgrades the request and joins the connection to rooms. allowed bounds the rooms
// the connection may ever join; nil permits all. Serve blocks until the client leaves.
func (h *Hub) Serve(userID string, rooms []string, allowed map[string]struct{}, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	c := &client{
		hub:     h,
		socket:  socket,
		userID:  userID,
		allowed: allowed,
		rooms:   make(map[string]struct{}),
		send:    make(chan Message, h.sendBuffer),
		done:    make(chan struct{}),
	}
	c.deliver(Message{Event: EventJoined, Data: h.join(c, rooms)})

	go c.writeLoop()
	c.readLoop()
}

// Members reports how many connections have joined room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[normalizeRoom(room)])
}

// BroadcastRoom delivers a message to every connection in the room.
func (h *Hub) BroadcastRoom(room string, message Message) {
	room = normalizeRoom(room)
	if room == "" {
		return
	}
	message.Room = room

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		c.deliver(message)
	}
}

func (h *Hub) join(c *client, rooms []string) Membership {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := Membership{Joined: []string{}}
	for _, room := range uniqueRooms(rooms) {
		if !c.mayJoin(room) {
			h.log.Warn("room join refused", zap.String("room", room), zap.String("user_id", c.userID))
			result.Denied = append(result.Denied, room)
			continue
		}
		if _, ok := c.rooms[room]; ok {
			continue
		}
		members := h.rooms[room]
		if members == nil {
			members = make(map[*client]struct{})
			h.rooms[room] = members
		}
		members[c] = struct{}{}
		c.rooms[room] = struct{}{}
		result.Joined = append(result.Joined, room)
	}
	return result
}

func (h *Hub) leave(c *client, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range rooms {
		room = normalizeRoom(room)
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
		delete(c.rooms, room)
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if h.origins != nil {
		if _, ok := h.origins["*"]; ok {
			return true
		}
		_, ok := h.origins[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := parsed.Hostname()
	requestHost := r.Host
	if host, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = host
	}
	return strings.EqualFold(originHost, requestHost) || isLoopback(originHost)
}

type client struct {
	hub     *Hub
	socket  *websocket.Conn
	userID  string
	allowed map[string]struct{}
	// rooms is guarded by hub.mu
	rooms map[string]struct{}
	send  chan Message
	done  chan struct{}
	once  sync.Once
}

// deliver queues message without blocking. A full queue disconnects the client.
func (c *client) deliver(message Message) {
	select {
	case <-c.done:
	case c.send <- message:
	default:
		c.hub.log.Warn("dropping slow realtime client", zap.String("user_id", c.userID))
		// close takes the hub write lock and broadcasters hold the read lock
		go c.close()
	}
}

func (c *client) mayJoin(room string) bool {
	if c.allowed == nil {
		return true
	}
	_, ok := c.allowed[room]
	return ok
}

func (c *client) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxControlSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.hub.log.Debug("invalid control frame", zap.String("user_id", c.userID), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "join":
			c.deliver(Message{Event: EventJoined, Data: c.hub.join(c, ctrl.Rooms)})
		case "leave":
			c.hub.leave(c, ctrl.Rooms)
		case "ping":
			c.deliver(Message{Event: EventPong})
		default:
			c.hub.log.Debug("unsupported control action", zap.String("action", ctrl.Action), zap.String("user_id", c.userID))
		}
	}
}

func (c *client) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case message := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		c.hub.mu.Lock()
		rooms := make([]string, 0, len(c.rooms))
		for room := range c.rooms {
			rooms = append(rooms, room)
		}
		c.hub.mu.Unlock()

		c.hub.leave(c, rooms)
		close(c.done)
		_ = c.socket.Close()
	})
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func normalizeRoom(room string) string {
	return strings.ToLower(strings.TrimSpace(room))
}

func uniqueRooms(rooms []string) []string {
	seen := make(map[string]struct{}, len(rooms))
	result := make([]string, 0, len(rooms))
	for _, room := range rooms {
		room = normalizeRoom(room)
		if room == "" {
			continue
		}
		if _, ok := seen[room]; ok {
			continue
		}
		seen[room] = struct{}{}
		result = append(result, room)
	}
	return result
}
