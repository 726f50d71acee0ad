package server

import (
	"encoding/json"
	"net/http"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shiftsync/shiftsync/internal/auth"
	"github.com/shiftsync/shiftsync/internal/core/observability/log"
	"github.com/shiftsync/shiftsync/internal/core/sync"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the push endpoint is the authority; the hub only fans out
	CheckOrigin: func(*http.Request) bool { return true },
}

// hubClient is one subscribed websocket connection.
type hubClient struct {
	conn     *websocket.Conn
	send     chan sync.ChangeEvent
	identity auth.Identity
}

// Hub fans document change events out to every subscribed client. Slow
// consumers are dropped rather than allowed to block the broadcast path.
type Hub struct {
	verifier *auth.Verifier
	logger   log.Log

	maxClients     int
	sendBuffer     int
	writeTimeout   time.Duration
	clientDeadline time.Duration

	mu      gosync.Mutex
	clients map[*hubClient]bool
	closed  bool

	// bridge, when set, receives every locally-published event for
	// cross-instance fan-out.
	bridge func(sync.ChangeEvent)
}

func NewHub(cfg Config, verifier *auth.Verifier, logger log.Log) *Hub {
	if logger == nil {
		logger = log.Nop()
	}
	return &Hub{
		verifier:       verifier,
		logger:         logger.With(log.String("component", "hub")),
		maxClients:     cfg.MaxClients,
		sendBuffer:     cfg.SendBuffer,
		writeTimeout:   cfg.WriteTimeout,
		clientDeadline: cfg.ClientDeadline,
		clients:        make(map[*hubClient]bool),
	}
}

// HandleSubscribe upgrades the request and keeps the connection subscribed
// until it drops. Token comes from the query string (browser websockets
// cannot set headers).
func (h *Hub) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error(), "")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", log.Error(err))
		return
	}

	client := &hubClient{
		conn:     conn,
		send:     make(chan sync.ChangeEvent, h.sendBuffer),
		identity: identity,
	}

	h.mu.Lock()
	if h.closed || len(h.clients) >= h.maxClients {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client subscribed",
		log.String("user_id", identity.UserID), log.Int("total_clients", total))

	go h.writeLoop(client)
	go h.readLoop(client)
}

// Broadcast delivers ev to every subscribed client and to the bridge.
func (h *Hub) Broadcast(ev sync.ChangeEvent) {
	h.broadcastLocal(ev)

	h.mu.Lock()
	bridge := h.bridge
	h.mu.Unlock()
	if bridge != nil {
		bridge(ev)
	}
}

// broadcastLocal fans out to this instance's connections only; the redis
// bridge uses it to deliver events published by other instances without
// re-publishing them. Sends and channel closes are serialized under mu so
// a send can never race a close.
func (h *Hub) broadcastLocal(ev sync.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var slow []*hubClient
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.logger.Warn("dropping slow subscriber",
			log.String("user_id", c.identity.UserID))
		h.removeLocked(c)
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	defer h.remove(c)

	for ev := range c.send {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("encode change event", log.Error(err))
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// readLoop consumes control frames. Client pings renew the read deadline;
// the only meaningful data frame is the auth rotation, where a valid fresh
// token renews the connection without a reconnect.
func (h *Hub) readLoop(c *hubClient) {
	defer h.remove(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(h.clientDeadline))
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(h.clientDeadline))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData),
			time.Now().Add(h.writeTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.clientDeadline))

		var frame struct {
			Action string `json:"action"`
			Token  string `json:"token"`
		}
		if err := json.Unmarshal(data, &frame); err != nil || frame.Action != "auth" {
			continue
		}

		identity, err := h.verifier.Verify(frame.Token)
		if err != nil {
			h.logger.Warn("auth rotation rejected",
				log.String("user_id", c.identity.UserID), log.Error(err))
			return
		}
		c.identity = identity
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *hubClient) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

// SetBridge installs the cross-instance fan-out hook.
func (h *Hub) SetBridge(fn func(sync.ChangeEvent)) {
	h.mu.Lock()
	h.bridge = fn
	h.mu.Unlock()
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()
}

// ClientCount reports the current number of subscribed connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
