package server

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Tyrowin/gochat-relay/internal/auth"
	"github.com/Tyrowin/gochat-relay/internal/metrics"
)

// ConnState is the liveness state of a registered connection.
type ConnState int

const (
	// StateAlive means the connection answered its last probe.
	StateAlive ConnState = iota
	// StatePendingCheck means a probe is outstanding.
	StatePendingCheck
	// StateDead means the connection is no longer registered.
	StateDead
)

func (s ConnState) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StatePendingCheck:
		return "pending_check"
	default:
		return "dead"
	}
}

// Peer is the transport side of a registered connection. Implementations
// must not block: Enqueue and Probe hand work to the peer's own writer.
type Peer interface {
	// Enqueue queues an encoded event. It fails with apperr.ErrConnection
	// when the peer is closed or its buffer is full.
	Enqueue(payload []byte) error
	// Probe asks the peer to send a liveness probe.
	Probe() error
	// Close terminates the underlying transport.
	Close() error
}

// Connection is a registered real-time connection.
type Connection struct {
	id          string
	identity    *auth.Identity
	peer        Peer
	addr        string
	connectedAt time.Time

	// state and failed are guarded by Registry.mu.
	state  ConnState
	failed bool
}

// ID returns the connection id.
func (c *Connection) ID() string { return c.id }

// Addr returns the remote address recorded at connect time.
func (c *Connection) Addr() string { return c.addr }

// Identity returns the authenticated identity, if any.
func (c *Connection) Identity() (auth.Identity, bool) {
	if c.identity == nil {
		return auth.Identity{}, false
	}
	return *c.identity, true
}

// ConnectedAt returns the registration time.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Anonymous reports whether the connection carries no identity.
func (c *Connection) Anonymous() bool { return c.identity == nil }

// Registry tracks live connections and their liveness state. It is owned by
// the Hub and shared with the relay and the heartbeat.
type Registry struct {
	mu      sync.RWMutex
	conns   map[*Connection]struct{}
	metrics metrics.Recorder
	clock   clock.Clock
}

// NewRegistry returns an empty registry.
func NewRegistry(rec metrics.Recorder, c clock.Clock) *Registry {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if c == nil {
		c = clock.New()
	}
	return &Registry{
		conns:   make(map[*Connection]struct{}),
		metrics: rec,
		clock:   c,
	}
}

// Register adds a connection in the Alive state. A nil identity registers an
// anonymous connection, which still receives broadcasts.
func (r *Registry) Register(peer Peer, identity *auth.Identity, addr string) *Connection {
	c := &Connection{
		id:          uuid.NewString(),
		peer:        peer,
		addr:        addr,
		connectedAt: r.clock.Now(),
		state:       StateAlive,
	}
	if identity != nil {
		id := *identity
		c.identity = &id
	}

	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()

	r.metrics.ConnectionOpened()
	return c
}

// Unregister removes the connection and reports whether it was registered.
func (r *Registry) Unregister(c *Connection) bool {
	if c == nil {
		return false
	}
	r.mu.Lock()
	_, ok := r.conns[c]
	if ok {
		delete(r.conns, c)
		c.state = StateDead
	}
	r.mu.Unlock()

	if ok {
		r.metrics.ConnectionClosed()
	}
	return ok
}

// Snapshot returns the registered connections at this instant.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.conns)
}

// ForEachLive calls fn for every registered connection. It iterates over a
// snapshot, so fn may register or unregister connections.
func (r *Registry) ForEachLive(fn func(c *Connection)) {
	for _, c := range r.Snapshot() {
		fn(c)
	}
}

// MarkAlive records a probe response. It is a no-op for unregistered
// connections.
func (r *Registry) MarkAlive(c *Connection) bool {
	if c == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; !ok {
		return false
	}
	c.state = StateAlive
	return true
}

// MarkPending moves an Alive connection to PendingCheck and reports whether
// the transition happened.
func (r *Registry) MarkPending(c *Connection) bool {
	if c == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; !ok || c.state != StateAlive {
		return false
	}
	c.state = StatePendingCheck
	return true
}

// MarkFailed records that an event could not be handed to the connection.
// The next heartbeat sweep evicts it whether or not it answers probes.
func (r *Registry) MarkFailed(c *Connection) bool {
	if c == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; !ok {
		return false
	}
	c.failed = true
	return true
}

// Failed reports whether a send to the connection has failed.
func (r *Registry) Failed(c *Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[c]
	return ok && c.failed
}

// IsLive reports whether the connection is still registered.
func (r *Registry) IsLive(c *Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[c]
	return ok
}

// State returns the liveness state of c. Unregistered connections are Dead.
func (r *Registry) State(c *Connection) ConnState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.conns[c]; !ok {
		return StateDead
	}
	return c.state
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// OnlineUsers counts connections that are Alive and authenticated.
func (r *Registry) OnlineUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.CountBy(lo.Keys(r.conns), func(c *Connection) bool {
		return c.state == StateAlive && !c.failed && c.identity != nil
	})
}

// advance applies one heartbeat step atomically: failed and PendingCheck
// connections are removed and returned as dead, Alive connections move to
// PendingCheck and are returned for probing.
func (r *Registry) advance() (toProbe, dead []*Connection) {
	r.mu.Lock()
	for c := range r.conns {
		switch {
		case c.failed || c.state == StatePendingCheck:
			delete(r.conns, c)
			c.state = StateDead
			dead = append(dead, c)
		case c.state == StateAlive:
			c.state = StatePendingCheck
			toProbe = append(toProbe, c)
		}
	}
	r.mu.Unlock()

	for range dead {
		r.metrics.ConnectionClosed()
	}
	return toProbe, dead
}
