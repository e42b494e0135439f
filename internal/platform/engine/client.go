// Package engineclient speaks the exchange engine gateway's WebSocket
// protocol: it streams hook callbacks (pre/post-trade, epoch boundaries) into
// an event channel and carries back-run submissions and treasury transfers as
// correlated request/response pairs over the same connection.
package engineclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mevflow/auctiond/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// eventBuffer sizes the hook event channel. The engine batches at epoch
	// boundaries, so bursts are bounded by per-epoch trade counts.
	eventBuffer = 256
)

// Client is a WebSocket client for the exchange engine gateway. It implements
// domain.ExchangeEngine and domain.Treasury over a single multiplexed
// connection and feeds hook callbacks to Events().
type Client struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// writeMu serializes connection writes; the websocket permits a single
	// concurrent writer and pings race command sends otherwise.
	writeMu sync.Mutex

	// Subscriptions to restore on reconnect.
	subscriptions []WSCommand

	// In-flight request/response correlation.
	pendingMu sync.Mutex
	pending   map[string]chan ResultMessage

	events chan domain.EngineEvent

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewClient creates a client for the given gateway WebSocket URL, e.g.
// "wss://engine.internal/ws/hooks".
func NewClient(wsURL string) *Client {
	return &Client{
		wsURL:   wsURL,
		pending: make(map[string]chan ResultMessage),
		events:  make(chan domain.EngineEvent, eventBuffer),
		done:    make(chan struct{}),
	}
}

// Events returns the hook callback feed. The channel is never closed;
// reconnects keep it alive and Close stops producing into it.
func (c *Client) Events() <-chan domain.EngineEvent {
	return c.events
}

// Connect establishes the WebSocket connection to the gateway.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("engineclient: connect: %w", domain.ErrEngineDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("engineclient: connect: %w", err)
	}

	c.conn = conn

	// Set up pong handler for keep-alive.
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readLoop()
	go c.pingLoop()

	// Restore any previous subscriptions after reconnect.
	for _, cmd := range c.subscriptions {
		if err := c.sendCommand(cmd); err != nil {
			return fmt.Errorf("engineclient: restore subscription: %w", err)
		}
	}

	return nil
}

// SubscribeHooks asks the gateway to stream the engine's hook callbacks for
// the given pool keys. An empty list subscribes to all pools.
func (c *Client) SubscribeHooks(ctx context.Context, poolKeys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("engineclient: not connected")
	}

	cmd := WSCommand{
		Type:    "subscribe",
		Channel: "hooks",
		Pools:   poolKeys,
	}
	if err := c.sendCommand(cmd); err != nil {
		return fmt.Errorf("engineclient: subscribe hooks: %w", err)
	}

	// Track subscription for reconnection.
	c.subscriptions = append(c.subscriptions, cmd)
	return nil
}

// SubmitBackRun implements domain.ExchangeEngine. It submits the counter-trade
// through the gateway and blocks until the engine reports the realised balance
// delta or rejects the trade.
func (c *Client) SubmitBackRun(ctx context.Context, pool domain.Pool, zeroForOne bool, amount, priceLimit *big.Int) (*big.Int, error) {
	cmd := WSCommand{
		Type:       "back_run",
		RequestID:  uuid.New().String(),
		Pool:       PoolToMessage(pool),
		ZeroForOne: &zeroForOne,
		Amount:     amount.String(),
	}
	if priceLimit != nil {
		cmd.PriceLimit = priceLimit.String()
	}

	res, err := c.roundTrip(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("engineclient: back-run: %w", err)
	}
	if !res.OK {
		return nil, fmt.Errorf("engineclient: back-run rejected: %s", res.Error)
	}

	delta := new(big.Int)
	if res.Delta != "" {
		parsed, ok := new(big.Int).SetString(res.Delta, 10)
		if !ok {
			return nil, fmt.Errorf("engineclient: back-run: bad delta %q", res.Delta)
		}
		delta = parsed
	}
	return delta, nil
}

// Transfer implements domain.Treasury. Refunds, rebates and reward payouts all
// move through the engine's custody primitive via this call.
func (c *Client) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	cmd := WSCommand{
		Type:      "transfer",
		RequestID: uuid.New().String(),
		To:        to.Hex(),
		Amount:    amount.String(),
	}

	res, err := c.roundTrip(ctx, cmd)
	if err != nil {
		return fmt.Errorf("engineclient: transfer: %w", err)
	}
	if !res.OK {
		return fmt.Errorf("engineclient: transfer rejected: %s: %w", res.Error, domain.ErrTransferFailed)
	}
	return nil
}

// Close shuts down the connection and stops the read and ping loops.
// In-flight requests fail with a disconnect error; the event channel stays
// open but goes quiet, so consumers exit via their own context.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)

	if c.conn != nil {
		// Send a close message to the server.
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.writeMu.Unlock()
		return c.conn.Close()
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// roundTrip sends a command and waits for the result message carrying the
// same request ID.
func (c *Client) roundTrip(ctx context.Context, cmd WSCommand) (ResultMessage, error) {
	ch := make(chan ResultMessage, 1)

	c.pendingMu.Lock()
	c.pending[cmd.RequestID] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, cmd.RequestID)
		c.pendingMu.Unlock()
	}()

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ResultMessage{}, domain.ErrEngineDisconnect
	}
	err := c.sendCommand(cmd)
	c.mu.Unlock()
	if err != nil {
		return ResultMessage{}, err
	}

	select {
	case <-ctx.Done():
		return ResultMessage{}, ctx.Err()
	case <-c.done:
		return ResultMessage{}, domain.ErrEngineDisconnect
	case res := <-ch:
		return res, nil
	}
}

// sendCommand sends a JSON command to the WebSocket. Caller must hold c.mu.
func (c *Client) sendCommand(cmd WSCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches them.
// On disconnect, it attempts to reconnect with exponential backoff.
func (c *Client) readLoop() {
	defer func() {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			// Check if we've been shut down.
			select {
			case <-c.done:
				return
			default:
			}

			// In-flight requests cannot complete across a reconnect.
			c.failPending()
			c.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		c.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn == nil {
				return
			}

			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw WebSocket message and routes it either to the
// hook event feed or to the pending request waiting on its ID.
func (c *Client) handleMessage(raw []byte) {
	var envelope struct {
		MsgType string `json:"msg_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable messages.
	}

	switch envelope.MsgType {
	case "result":
		var res ResultMessage
		if err := json.Unmarshal(raw, &res); err != nil {
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[res.RequestID]
		c.pendingMu.Unlock()
		if ok {
			ch <- res
		}

	case string(domain.EventEpochOpen), string(domain.EventPreTrade),
		string(domain.EventPostTrade), string(domain.EventEpochClose):
		var msg HookMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		ev, err := HookToDomainEvent(&msg)
		if err != nil {
			return
		}
		select {
		case c.events <- ev:
		case <-c.done:
		}
	}
}

// failPending answers every in-flight request with a disconnect error result.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		select {
		case ch <- ResultMessage{RequestID: id, OK: false, Error: "connection lost"}:
		default:
		}
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (c *Client) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-c.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		// Exponential backoff.
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
