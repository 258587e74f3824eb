package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/messagelog"
	"github.com/Tyrowin/gochat-relay/internal/metrics"
)

// DefaultDeliveryDelay is the wait between announcing a message and
// confirming its delivery.
const DefaultDeliveryDelay = 700 * time.Millisecond

// DeliveryConfirmer flips a stored message to delivered.
type DeliveryConfirmer interface {
	MarkDelivered(ctx context.Context, id string) (bool, error)
}

// Relay fans events out to every registered connection and confirms
// delivery of announced messages after a fixed delay.
type Relay struct {
	ctx       context.Context
	registry  *Registry
	confirmer DeliveryConfirmer
	scheduler *Scheduler
	delay     time.Duration
	metrics   metrics.Recorder
	log       *slog.Logger

	// publishMu keeps events in publish order on every connection.
	publishMu sync.Mutex
}

// NewRelay wires a relay. ctx bounds the confirmation writes.
func NewRelay(ctx context.Context, registry *Registry, confirmer DeliveryConfirmer, scheduler *Scheduler, delay time.Duration, rec metrics.Recorder, log *slog.Logger) *Relay {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if delay <= 0 {
		delay = DefaultDeliveryDelay
	}
	return &Relay{
		ctx:       ctx,
		registry:  registry,
		confirmer: confirmer,
		scheduler: scheduler,
		delay:     delay,
		metrics:   rec,
		log:       log,
	}
}

// Publish encodes evt once and enqueues it on every registered connection.
// A failing connection is skipped and marked failed so the next heartbeat
// sweep evicts it. It returns the number of connections the event was
// handed to.
func (r *Relay) Publish(evt Event) int {
	payload, err := EncodeEvent(evt)
	if err != nil {
		r.log.Error("failed to encode event", "type", evt.Type(), "error", err)
		return 0
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	delivered := 0
	r.registry.ForEachLive(func(c *Connection) {
		if err := c.peer.Enqueue(payload); err != nil {
			r.registry.MarkFailed(c)
			r.metrics.SendFailed()
			r.log.Warn("failed to enqueue event",
				"type", evt.Type(),
				"conn_id", c.ID(),
				"addr", c.Addr(),
				"error", err,
			)
			return
		}
		delivered++
	})

	r.metrics.EventPublished(evt.Type(), delivered)
	r.log.Debug("event published", "type", evt.Type(), "recipients", delivered)
	return delivered
}

// Announce publishes a NewMessage event and schedules its delivery
// confirmation.
func (r *Relay) Announce(msg messagelog.Message) {
	r.Publish(NewMessage{Message: msg})

	id := msg.ID
	if !r.scheduler.Schedule(id, r.delay, func() { r.confirm(id) }) {
		r.log.Warn("delivery confirmation not scheduled", "message_id", id)
	}
}

func (r *Relay) confirm(id string) {
	changed, err := r.confirmer.MarkDelivered(r.ctx, id)
	if err != nil {
		r.log.Error("failed to mark message delivered", "message_id", id, "error", err)
		return
	}
	if !changed {
		r.log.Debug("delivery already confirmed or message missing", "message_id", id)
		return
	}

	r.metrics.DeliveryConfirmed()
	r.Publish(MessageDelivered{ID: id})
}
