// Package server coordinates client registration, event fan-out, and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/auth"
	"github.com/Tyrowin/gochat-relay/internal/config"
	"github.com/Tyrowin/gochat-relay/internal/messagelog"
	"github.com/Tyrowin/gochat-relay/internal/metrics"
)

// HubConfig holds the real-time settings of a Hub.
type HubConfig struct {
	MaxMessageSize    int64
	SendBufferSize    int
	RateLimit         config.RateLimitConfig
	DeliveryDelay     time.Duration
	HeartbeatInterval time.Duration
	Clock             clock.Clock
}

// HubConfigFrom extracts the hub settings from the service configuration.
func HubConfigFrom(cfg config.Config) HubConfig {
	return HubConfig{
		MaxMessageSize:    cfg.MaxMessageSize,
		SendBufferSize:    cfg.SendBufferSize,
		RateLimit:         cfg.RateLimit(),
		DeliveryDelay:     cfg.DeliveryDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}
}

// Hub owns the connection registry together with the relay, the delivery
// scheduler and the heartbeat that operate on it.
type Hub struct {
	cfg       HubConfig
	registry  *Registry
	scheduler *Scheduler
	relay     *Relay
	heartbeat *Heartbeat
	log       *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// mu orders Attach against Shutdown so no pump starts after wg.Wait.
	mu      sync.Mutex
	stopped bool
}

// NewHub creates a Hub. confirmer is the store delivery confirmations are
// written to.
func NewHub(confirmer DeliveryConfirmer, cfg HubConfig, rec metrics.Recorder, log *slog.Logger) *Hub {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 512
	}
	if rec == nil {
		rec = metrics.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	registry := NewRegistry(rec, cfg.Clock)
	scheduler := NewScheduler(cfg.Clock)

	return &Hub{
		cfg:       cfg,
		registry:  registry,
		scheduler: scheduler,
		relay:     NewRelay(ctx, registry, confirmer, scheduler, cfg.DeliveryDelay, rec, log),
		heartbeat: NewHeartbeat(registry, cfg.HeartbeatInterval, cfg.Clock, rec, log),
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Relay returns the hub's relay.
func (h *Hub) Relay() *Relay { return h.relay }

// Heartbeat returns the hub's heartbeat.
func (h *Hub) Heartbeat() *Heartbeat { return h.heartbeat }

// Announce relays a stored message and schedules its delivery confirmation.
func (h *Hub) Announce(msg messagelog.Message) {
	h.relay.Announce(msg)
}

// OnlineUsers returns the number of live authenticated connections.
func (h *Hub) OnlineUsers() int {
	return h.registry.OnlineUsers()
}

// Run drives the heartbeat until ctx is canceled or the hub shuts down.
func (h *Hub) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-h.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	h.log.Info("hub started", "heartbeat_interval", h.heartbeat.interval)
	h.heartbeat.Run(ctx)
}

// Attach registers a freshly upgraded socket and starts its pumps. After
// Shutdown the socket is closed and nil is returned.
func (h *Hub) Attach(conn *websocket.Conn, addr string, identity *auth.Identity) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		h.log.Warn("rejecting connection during shutdown", "addr", addr)
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("error closing rejected connection", "addr", addr, "error", err)
			}
		}
		return nil
	}

	client := NewClient(conn, h, addr)
	client.connection = h.registry.Register(client, identity, addr)

	attrs := []any{"conn_id", client.connection.ID(), "addr", addr, "clients", h.registry.Count()}
	if identity != nil {
		attrs = append(attrs, "user_id", identity.UserID)
	}
	h.log.Info("client registered", attrs...)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
	return client
}

func (h *Hub) unregister(client *Client) {
	if h.registry.Unregister(client.connection) {
		h.log.Info("client unregistered",
			"conn_id", client.connection.ID(),
			"addr", client.addr,
			"connected_for", h.cfg.Clock.Since(client.connection.ConnectedAt()).String(),
			"clients", h.registry.Count(),
		)
	}
	client.markClosed()
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	conns := h.registry.Snapshot()
	for _, c := range conns {
		if err := c.peer.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn("error closing client connection", "addr", c.Addr(), "error", err)
		}
	}
	h.log.Info("closed client connections", "count", len(conns))
}

// Shutdown stops the heartbeat and pending confirmations, closes every
// client and waits for the pumps to exit or the timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	h.cancel()
	h.scheduler.Stop()
	h.shutdownClients()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
