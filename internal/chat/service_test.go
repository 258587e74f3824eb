package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/apperr"
	"github.com/Tyrowin/gochat-relay/internal/auth"
	"github.com/Tyrowin/gochat-relay/internal/logger"
	"github.com/Tyrowin/gochat-relay/internal/messagelog"
	"github.com/Tyrowin/gochat-relay/internal/storage"
)

type recordingAnnouncer struct {
	mu        sync.Mutex
	announced []messagelog.Message
}

func (a *recordingAnnouncer) Announce(msg messagelog.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.announced = append(a.announced, msg)
}

type failingLog struct{ messagelog.Log }

func (failingLog) Append(context.Context, messagelog.Message) (messagelog.Message, error) {
	return messagelog.Message{}, apperr.Storage("append message", errors.New("disk full"))
}

func newService(t *testing.T, limit int) (*Service, *recordingAnnouncer) {
	t.Helper()
	db, err := storage.OpenInMemory(logger.Discard())
	require.NoError(t, err)
	log, err := messagelog.NewBadgerLog(db, logger.Discard(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = log.Close()
		_ = db.Close()
	})
	relay := &recordingAnnouncer{}
	return NewService(log, relay, nil, logger.Discard(), limit), relay
}

// TestPostAuthenticated covers the alice scenario: the sender name comes from
// the identity and the stored message starts undelivered.
func TestPostAuthenticated(t *testing.T) {
	req := require.New(t)
	svc, relay := newService(t, 0)

	msg, err := svc.Post(context.Background(), PostRequest{Content: "hi"}, &auth.Identity{UserID: "u-1", Username: "alice"})
	req.NoError(err)
	req.Equal("alice", msg.SenderName)
	req.NotNil(msg.UserID)
	req.Equal("u-1", *msg.UserID)
	req.False(msg.Delivered)
	req.NotEmpty(msg.ID)

	req.Len(relay.announced, 1)
	req.Equal(msg, relay.announced[0])
}

func TestPostKeepsContentVerbatim(t *testing.T) {
	req := require.New(t)
	svc, relay := newService(t, 0)

	msg, err := svc.Post(context.Background(), PostRequest{Content: "  hi \n", Anonymous: true}, nil)
	req.NoError(err)
	req.Equal("  hi \n", msg.Content)

	recent, err := svc.Recent(context.Background())
	req.NoError(err)
	req.Len(recent, 1)
	req.Equal("  hi \n", recent[0].Content)
	req.Equal("  hi \n", relay.announced[0].Content)
}

func TestPostAnonymous(t *testing.T) {
	req := require.New(t)
	svc, _ := newService(t, 0)

	msg, err := svc.Post(context.Background(), PostRequest{Content: "psst", Anonymous: true}, nil)
	req.NoError(err)
	req.Equal(messagelog.AnonymousSender, msg.SenderName)
	req.Nil(msg.UserID)

	// An authenticated user asking for anonymity is stored without a user id.
	msg, err = svc.Post(context.Background(), PostRequest{Content: "psst", Anonymous: true}, &auth.Identity{UserID: "u-1", Username: "alice"})
	req.NoError(err)
	req.Equal(messagelog.AnonymousSender, msg.SenderName)
	req.Nil(msg.UserID)
}

// TestPostRejections verifies that rejected posts have no side effects.
func TestPostRejections(t *testing.T) {
	tests := []struct {
		name     string
		req      PostRequest
		identity *auth.Identity
		wantErr  error
	}{
		{"no identity and not anonymous", PostRequest{Content: "hi"}, nil, apperr.ErrAuth},
		{"empty content", PostRequest{Content: ""}, &auth.Identity{UserID: "u-1", Username: "alice"}, apperr.ErrValidation},
		{"blank content", PostRequest{Content: "  \n\t", Anonymous: true}, nil, apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, relay := newService(t, 0)

			_, err := svc.Post(context.Background(), tt.req, tt.identity)
			require.ErrorIs(t, err, tt.wantErr)
			require.Empty(t, relay.announced)

			recent, err := svc.Recent(context.Background())
			require.NoError(t, err)
			require.Empty(t, recent)
		})
	}
}

func TestPostStorageFailureIsNotAnnounced(t *testing.T) {
	relay := &recordingAnnouncer{}
	svc := NewService(failingLog{}, relay, nil, logger.Discard(), 0)

	_, err := svc.Post(context.Background(), PostRequest{Content: "hi", Anonymous: true}, nil)
	require.ErrorIs(t, err, apperr.ErrStorage)
	require.Empty(t, relay.announced)
}

func TestRecentHonoursHistoryLimit(t *testing.T) {
	req := require.New(t)
	svc, _ := newService(t, 3)
	ctx := context.Background()

	var posted []messagelog.Message
	for _, content := range []string{"one", "two", "three", "four", "five"} {
		msg, err := svc.Post(ctx, PostRequest{Content: content, Anonymous: true}, nil)
		req.NoError(err)
		posted = append(posted, msg)
	}

	recent, err := svc.Recent(ctx)
	req.NoError(err)
	req.Equal(posted[2:], recent)
}
