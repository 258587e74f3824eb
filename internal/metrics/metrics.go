// Package metrics collects and exposes Prometheus metrics for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the hub, relay and heartbeat.
type Recorder interface {
	MessagePosted(anonymous bool)
	EventPublished(eventType string, recipients int)
	SendFailed()
	DeliveryConfirmed()
	ConnectionOpened()
	ConnectionClosed()
	HeartbeatEvicted(n int)
}

// Collector implements Recorder with Prometheus collectors.
type Collector struct {
	messagesPosted      *prometheus.CounterVec
	eventsPublished     *prometheus.CounterVec
	eventRecipients     prometheus.Histogram
	sendFailures        prometheus.Counter
	deliveriesConfirmed prometheus.Counter
	connections         prometheus.Gauge
	heartbeatEvictions  prometheus.Counter
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		messagesPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gochat_messages_posted_total",
			Help: "Messages appended to the log, by authorship.",
		}, []string{"kind"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gochat_events_published_total",
			Help: "Relay events published, by event type.",
		}, []string{"type"}),
		eventRecipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gochat_event_recipients",
			Help:    "Connections that accepted a published event.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 6),
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gochat_send_failures_total",
			Help: "Per-connection enqueue failures during fan-out.",
		}),
		deliveriesConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gochat_deliveries_confirmed_total",
			Help: "Messages flipped to delivered by the confirmation task.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gochat_connections",
			Help: "Currently registered real-time connections.",
		}),
		heartbeatEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gochat_heartbeat_evictions_total",
			Help: "Connections removed after an unanswered liveness probe.",
		}),
	}

	reg.MustRegister(
		c.messagesPosted,
		c.eventsPublished,
		c.eventRecipients,
		c.sendFailures,
		c.deliveriesConfirmed,
		c.connections,
		c.heartbeatEvictions,
	)
	return c
}

func (c *Collector) MessagePosted(anonymous bool) {
	kind := "authenticated"
	if anonymous {
		kind = "anonymous"
	}
	c.messagesPosted.WithLabelValues(kind).Inc()
}

func (c *Collector) EventPublished(eventType string, recipients int) {
	c.eventsPublished.WithLabelValues(eventType).Inc()
	c.eventRecipients.Observe(float64(recipients))
}

func (c *Collector) SendFailed()        { c.sendFailures.Inc() }
func (c *Collector) DeliveryConfirmed() { c.deliveriesConfirmed.Inc() }
func (c *Collector) ConnectionOpened()  { c.connections.Inc() }
func (c *Collector) ConnectionClosed()  { c.connections.Dec() }

func (c *Collector) HeartbeatEvicted(n int) {
	c.heartbeatEvictions.Add(float64(n))
}

// Nop discards every observation.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) MessagePosted(bool)         {}
func (Nop) EventPublished(string, int) {}
func (Nop) SendFailed()                {}
func (Nop) DeliveryConfirmed()         {}
func (Nop) ConnectionOpened()          {}
func (Nop) ConnectionClosed()          {}
func (Nop) HeartbeatEvicted(int)       {}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
