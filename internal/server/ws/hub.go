package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mevflow/auctiond/internal/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Buffered channel size for outbound messages per client.
	sendBufferSize = 256
)

// defaultChannels are the signal-bus channels bridged to WebSocket clients.
var defaultChannels = []string{
	domain.ChannelAuction,
	domain.ChannelBid,
	domain.ChannelSettlement,
	domain.ChannelReward,
	domain.ChannelSlash,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks are enforced by the CORS middleware in front of the
		// upgrade; accept here.
		return true
	},
}

// envelope is the frame sent to WebSocket clients: the originating channel
// plus the raw event payload.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	Time    time.Time       `json:"time"`
}

// Hub bridges the signal bus to WebSocket API clients. Every event published
// on the auction channels is fanned out to connected clients, filtered by
// each client's subscriptions.
type Hub struct {
	bus    domain.SignalBus
	logger *slog.Logger

	clients    map[*client]bool
	broadcast  chan envelope
	register   chan *client
	unregister chan *client

	startTime time.Time
}

// NewHub creates a hub bridging the given signal bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		clients:    make(map[*client]bool),
		broadcast:  make(chan envelope, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		startTime:  time.Now(),
	}
}

// Run operates the hub until the context is cancelled. It subscribes to every
// auction channel on the bus and relays events to connected clients.
func (h *Hub) Run(ctx context.Context) error {
	for _, channel := range defaultChannels {
		if err := h.subscribeToChannel(ctx, channel); err != nil {
			h.logger.Error("channel subscription failed",
				slog.String("channel", channel),
				slog.Any("error", err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case c := <-h.register:
			h.clients[c] = true
			h.logger.Debug("client connected",
				slog.String("remote_addr", c.remoteAddr),
				slog.Int("total_clients", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Debug("client disconnected",
					slog.String("remote_addr", c.remoteAddr),
					slog.Int("total_clients", len(h.clients)))
			}

		case env := <-h.broadcast:
			for c := range h.clients {
				if !c.isSubscribed(env.Channel) {
					continue
				}
				select {
				case c.send <- env:
				default:
					// Slow client: drop it rather than block the hub.
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// subscribeToChannel consumes one bus channel and feeds the hub's broadcast
// loop.
func (h *Hub) subscribeToChannel(ctx context.Context, channel string) error {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		return err
	}

	go func() {
		for payload := range msgs {
			env := envelope{
				Channel: channel,
				Data:    json.RawMessage(payload),
				Time:    time.Now().UTC(),
			}
			select {
			case h.broadcast <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (h *Hub) closeAll() {
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{
		hub:           h,
		conn:          conn,
		send:          make(chan envelope, sendBufferSize),
		remoteAddr:    r.RemoteAddr,
		subscriptions: make(map[string]bool),
	}

	// New clients receive everything until they narrow their subscriptions.
	c.subscriptions["*"] = true

	h.register <- c

	go c.writePump()
	go c.readPump()

	c.sendInitialStatus(h.startTime)
}

// client is one connected WebSocket API consumer.
type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan envelope
	remoteAddr string

	mu            sync.RWMutex
	subscriptions map[string]bool
}

// subscriptionCommand is the inbound control frame clients send to narrow or
// widen which channels they receive.
type subscriptionCommand struct {
	Action   string   `json:"action"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}

// readPump reads control frames from the client until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("client read error",
					slog.String("remote_addr", c.remoteAddr),
					slog.Any("error", err))
			}
			return
		}

		var cmd subscriptionCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}
		c.handleSubscription(cmd)
	}
}

// writePump relays broadcast envelopes and keepalive pings to the client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) handleSubscription(cmd subscriptionCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch cmd.Action {
	case "subscribe":
		// An explicit subscription replaces the catch-all default.
		delete(c.subscriptions, "*")
		for _, ch := range cmd.Channels {
			c.subscriptions[ch] = true
		}
	case "unsubscribe":
		for _, ch := range cmd.Channels {
			delete(c.subscriptions, ch)
		}
	}
}

// isSubscribed reports whether the client wants events from the channel.
// A trailing "*" in a subscription matches by prefix, so "ch:*" covers every
// auction channel.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subscriptions["*"] {
		return true
	}
	if c.subscriptions[channel] {
		return true
	}
	for sub := range c.subscriptions {
		if strings.HasSuffix(sub, "*") && strings.HasPrefix(channel, strings.TrimSuffix(sub, "*")) {
			return true
		}
	}
	return false
}

// sendInitialStatus pushes a status envelope so a client can confirm the feed
// is live before any auction event arrives.
func (c *client) sendInitialStatus(startTime time.Time) {
	status, err := json.Marshal(map[string]any{
		"type":     "status",
		"service":  "auctiond",
		"uptime":   time.Since(startTime).Round(time.Second).String(),
		"channels": defaultChannels,
	})
	if err != nil {
		return
	}

	select {
	case c.send <- envelope{Channel: "status", Data: status, Time: time.Now().UTC()}:
	default:
	}
}
