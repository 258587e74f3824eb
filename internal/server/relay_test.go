package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/logger"
	"github.com/Tyrowin/gochat-relay/internal/messagelog"
	"github.com/Tyrowin/gochat-relay/internal/storage"
)

type relayFixture struct {
	clock    *clock.Mock
	registry *Registry
	relay    *Relay
	log      *messagelog.BadgerLog
	metrics  *recordingMetrics
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	db, err := storage.OpenInMemory(logger.Discard())
	require.NoError(t, err)
	mock := clock.NewMock()
	mlog, err := messagelog.NewBadgerLog(db, logger.Discard(), mock)
	require.NoError(t, err)

	rec := newRecordingMetrics()
	registry := NewRegistry(rec, mock)
	scheduler := NewScheduler(mock)
	t.Cleanup(func() {
		scheduler.Stop()
		_ = mlog.Close()
		_ = db.Close()
	})

	return &relayFixture{
		clock:    mock,
		registry: registry,
		relay:    NewRelay(context.Background(), registry, mlog, scheduler, 700*time.Millisecond, rec, logger.Discard()),
		log:      mlog,
		metrics:  rec,
	}
}

func decodeEvents(t *testing.T, frames []string) []wireEvent {
	t.Helper()
	out := make([]wireEvent, len(frames))
	for i, f := range frames {
		require.NoError(t, json.Unmarshal([]byte(f), &out[i]))
	}
	return out
}

func TestEncodeEvent(t *testing.T) {
	b, err := EncodeEvent(MessageDelivered{ID: "abc"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"message_delivered","id":"abc"}`, string(b))

	msg := messagelog.Message{ID: "m1", Content: "hi", SenderName: messagelog.AnonymousSender, CreatedAt: time.Unix(0, 0).UTC()}
	b, err = EncodeEvent(NewMessage{Message: msg})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"new_message","message":{"id":"m1","content":"hi","user_id":null,"sender_name":"Anonymous","created_at":"1970-01-01T00:00:00Z","delivered":false}}`, string(b))
}

func TestRelayPublishReachesEveryConnection(t *testing.T) {
	f := newRelayFixture(t)
	peers := []*fakePeer{{}, {}, {}}
	for _, p := range peers {
		f.registry.Register(p, nil, "")
	}

	n := f.relay.Publish(MessageDelivered{ID: "x"})
	require.Equal(t, 3, n)
	for _, p := range peers {
		require.Equal(t, []string{`{"type":"message_delivered","id":"x"}`}, p.received())
	}
	require.Equal(t, 1, f.metrics.publishedCount(TypeMessageDelivered))
}

func TestRelayPublishWithNoConnections(t *testing.T) {
	f := newRelayFixture(t)
	require.Zero(t, f.relay.Publish(MessageDelivered{ID: "x"}))
}

func TestRelayIsolatesFailingPeer(t *testing.T) {
	f := newRelayFixture(t)
	healthy := []*fakePeer{{}, {}, {}}
	broken := &fakePeer{failSend: true}

	f.registry.Register(healthy[0], nil, "")
	brokenConn := f.registry.Register(broken, nil, "")
	f.registry.Register(healthy[1], nil, "")
	f.registry.Register(healthy[2], nil, "")

	n := f.relay.Publish(MessageDelivered{ID: "x"})

	require.Equal(t, 3, n)
	for _, p := range healthy {
		require.Len(t, p.received(), 1)
	}
	require.Equal(t, 1, f.metrics.snapshot().failures)
	require.True(t, f.registry.IsLive(brokenConn), "failing peers are left for the heartbeat")
	require.True(t, f.registry.Failed(brokenConn))
}

func TestRelayPreservesPublishOrderPerConnection(t *testing.T) {
	f := newRelayFixture(t)
	peers := []*fakePeer{{}, {}, {}}
	for _, p := range peers {
		f.registry.Register(p, nil, "")
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				f.relay.Publish(MessageDelivered{ID: fmt.Sprintf("%d-%d", g, i)})
			}
		}(g)
	}
	wg.Wait()

	first := peers[0].received()
	require.Len(t, first, 100)
	for _, p := range peers[1:] {
		require.Equal(t, first, p.received())
	}
}

func TestRelayAnnounceConfirmsDeliveryOnce(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()
	peer := &fakePeer{}
	f.registry.Register(peer, nil, "")

	stored, err := f.log.Append(ctx, messagelog.Message{Content: "Hello, world", SenderName: "alice"})
	require.NoError(t, err)

	f.relay.Announce(stored)
	f.relay.Announce(stored)

	events := decodeEvents(t, peer.received())
	require.Len(t, events, 2)
	require.Equal(t, TypeNewMessage, events[0].Type)
	require.Equal(t, stored.ID, events[0].Message.ID)
	require.False(t, events[0].Message.Delivered)

	got, ok, err := f.log.Get(ctx, stored.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, got.Delivered, "not delivered before the delay")

	f.clock.Add(699 * time.Millisecond)
	require.Len(t, peer.received(), 2)

	f.clock.Add(time.Millisecond)
	require.Eventually(t, func() bool { return len(peer.received()) == 3 }, time.Second, 5*time.Millisecond)

	events = decodeEvents(t, peer.received())
	require.Equal(t, TypeMessageDelivered, events[2].Type)
	require.Equal(t, stored.ID, events[2].ID)

	got, _, err = f.log.Get(ctx, stored.ID)
	require.NoError(t, err)
	require.True(t, got.Delivered)

	f.clock.Add(time.Hour)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, peer.received(), 3, "exactly one confirmation")
	require.Equal(t, 1, f.metrics.snapshot().confirmed)
}

func TestRelayConfirmationSurvivesDisconnect(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()
	peer := &fakePeer{}
	conn := f.registry.Register(peer, nil, "")

	stored, err := f.log.Append(ctx, messagelog.Message{Content: "bye", SenderName: "alice"})
	require.NoError(t, err)
	f.relay.Announce(stored)
	f.registry.Unregister(conn)

	f.clock.Add(700 * time.Millisecond)
	require.Eventually(t, func() bool {
		got, _, err := f.log.Get(ctx, stored.ID)
		return err == nil && got.Delivered
	}, time.Second, 5*time.Millisecond)
	require.Len(t, peer.received(), 1)
}

func TestRelaySkipsUnknownMessage(t *testing.T) {
	f := newRelayFixture(t)
	peer := &fakePeer{}
	f.registry.Register(peer, nil, "")

	f.relay.Announce(messagelog.Message{ID: "missing", Content: "ghost"})
	f.clock.Add(time.Second)
	time.Sleep(20 * time.Millisecond)

	require.Len(t, peer.received(), 1, "no confirmation for a message the log does not hold")
	require.Zero(t, f.metrics.snapshot().confirmed)
}
