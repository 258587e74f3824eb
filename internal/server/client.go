// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/gochat-relay/internal/apperr"
	"github.com/Tyrowin/gochat-relay/internal/config"
)

const writeWait = 10 * time.Second

// Client represents a WebSocket client connection. It is the Peer the
// registry hands events to; a dedicated write pump drains its queue.
type Client struct {
	conn           *websocket.Conn
	hub            *Hub
	addr           string
	send           chan []byte
	probe          chan struct{}
	done           chan struct{}
	maxMessageSize int64
	limiter        *rate.Limiter
	rateLimit      config.RateLimitConfig
	log            *slog.Logger

	// connection is set by the hub before the pumps start.
	connection *Connection

	mu     sync.Mutex
	closed bool
}

// NewClient creates a Client for conn using the hub's connection settings.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		hub:            hub,
		addr:           addr,
		send:           make(chan []byte, cfg.SendBufferSize),
		probe:          make(chan struct{}, 1),
		done:           make(chan struct{}),
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		log:            hub.log.With("addr", addr),
	}
}

// Enqueue queues payload for the write pump without blocking.
func (c *Client) Enqueue(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: client closed", apperr.ErrConnection)
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", apperr.ErrConnection)
	}
}

// Probe asks the write pump to send a ping frame. A probe that is already
// queued is not duplicated.
func (c *Client) Probe() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: client closed", apperr.ErrConnection)
	}

	select {
	case c.probe <- struct{}{}:
	default:
	}
	return nil
}

// Close stops the pumps and closes the socket.
func (c *Client) Close() error {
	c.markClosed()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// markClosed flips the closed flag once and wakes the write pump.
func (c *Client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	return true
}

// setupReadConnection installs the pong handler that answers heartbeat probes.
func (c *Client) setupReadConnection() {
	c.conn.SetPongHandler(func(string) error {
		c.hub.registry.MarkAlive(c.connection)
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.log.Warn("message exceeded maximum size", "limit", c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.log.Info("client disconnected", "reason", err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.log.Info("client connection closed", "reason", err)
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.log.Warn("unexpected websocket close", "error", err)
		return true
	}

	c.log.Warn("websocket read error", "error", err)
	return true
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.Allow() {
		c.log.Warn("rate limit exceeded; discarding message",
			"burst", c.rateLimit.Burst,
			"refill_interval", c.rateLimit.RefillInterval,
		)
		return false
	}
	return true
}

// processMessage handles one inbound frame. Only ping is understood; it
// counts as a liveness signal and is answered with pong.
func (c *Client) processMessage(raw []byte) bool {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Debug("ignoring malformed frame", "error", err)
		return false
	}

	switch msg.Type {
	case TypePing:
		c.hub.registry.MarkAlive(c.connection)
		if err := c.Enqueue(pongFrame); err != nil {
			c.log.Debug("pong not queued", "error", err)
			return false
		}
		return true
	default:
		c.log.Debug("ignoring frame", "type", msg.Type)
		return false
	}
}

func (c *Client) readPump() {
	defer c.hub.unregister(c)

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	defer c.closeConnection()

	for c.processWriteEvent() {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent() bool {
	select {
	case message := <-c.send:
		return c.writeTextMessage(message)
	case <-c.probe:
		return c.handlePing()
	case <-c.done:
		return c.writeCloseMessage()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error closing connection in writePump", "error", err)
		}
	}
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("error writing close message", "error", err)
		}
	}
	return false
}

// writeTextMessage writes one event per frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing message", "error", err)
		}
		return false
	}
	return true
}

// handlePing sends the heartbeat probe.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing ping message", "error", err)
		}
		return false
	}
	return true
}
