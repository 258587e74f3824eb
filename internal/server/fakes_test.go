package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Tyrowin/gochat-relay/internal/apperr"
)

// fakePeer records everything the relay and heartbeat hand it.
type fakePeer struct {
	mu       sync.Mutex
	payloads [][]byte
	probes   int
	closed   bool
	failSend bool
}

func (p *fakePeer) Enqueue(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSend || p.closed {
		return fmt.Errorf("%w: send buffer full", apperr.ErrConnection)
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePeer) Probe() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("closed")
	}
	p.probes++
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.payloads))
	for i, b := range p.payloads {
		out[i] = string(b)
	}
	return out
}

func (p *fakePeer) probeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// recordingMetrics counts the recorder calls the package makes.
type recordingMetrics struct {
	mu        sync.Mutex
	published map[string]int
	failures  int
	confirmed int
	opened    int
	closed    int
	evicted   int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{published: make(map[string]int)}
}

func (m *recordingMetrics) MessagePosted(bool) {}

func (m *recordingMetrics) EventPublished(eventType string, recipients int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[eventType]++
}

func (m *recordingMetrics) SendFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *recordingMetrics) DeliveryConfirmed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmed++
}

func (m *recordingMetrics) ConnectionOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
}

func (m *recordingMetrics) ConnectionClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *recordingMetrics) HeartbeatEvicted(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted += n
}

func (m *recordingMetrics) publishedCount(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published[eventType]
}

type metricCounts struct {
	failures  int
	confirmed int
	opened    int
	closed    int
	evicted   int
}

func (m *recordingMetrics) snapshot() metricCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return metricCounts{
		failures:  m.failures,
		confirmed: m.confirmed,
		opened:    m.opened,
		closed:    m.closed,
		evicted:   m.evicted,
	}
}
