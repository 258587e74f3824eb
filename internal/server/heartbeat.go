package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Tyrowin/gochat-relay/internal/metrics"
)

// DefaultHeartbeatInterval is the time between liveness sweeps.
const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeat evicts connections that miss a probe. A connection that has not
// answered the probe sent on one sweep is removed on the next.
type Heartbeat struct {
	registry *Registry
	interval time.Duration
	clock    clock.Clock
	metrics  metrics.Recorder
	log      *slog.Logger
}

// NewHeartbeat returns a heartbeat over registry.
func NewHeartbeat(registry *Registry, interval time.Duration, c clock.Clock, rec metrics.Recorder, log *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if c == nil {
		c = clock.New()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Heartbeat{
		registry: registry,
		interval: interval,
		clock:    c,
		metrics:  rec,
		log:      log,
	}
}

// Sweep runs one liveness pass and returns how many connections were probed
// and how many were evicted.
func (h *Heartbeat) Sweep() (probed, evicted int) {
	toProbe, dead := h.registry.advance()

	for _, c := range dead {
		if err := c.peer.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn("failed to close evicted connection", "conn_id", c.ID(), "addr", c.Addr(), "error", err)
		}
		h.log.Info("connection evicted", "conn_id", c.ID(), "addr", c.Addr())
	}

	for _, c := range toProbe {
		if err := c.peer.Probe(); err != nil {
			h.log.Debug("probe not sent", "conn_id", c.ID(), "error", err)
		}
	}

	if len(dead) > 0 {
		h.metrics.HeartbeatEvicted(len(dead))
	}
	return len(toProbe), len(dead)
}

// Run sweeps on every tick until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := h.clock.Ticker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probed, evicted := h.Sweep()
			h.log.Debug("heartbeat sweep", "probed", probed, "evicted", evicted)
		}
	}
}
