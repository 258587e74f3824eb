// Package chat implements the post-message and read-messages operations on
// top of the message log and the broadcast relay.
package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Tyrowin/gochat-relay/internal/apperr"
	"github.com/Tyrowin/gochat-relay/internal/auth"
	"github.com/Tyrowin/gochat-relay/internal/messagelog"
	"github.com/Tyrowin/gochat-relay/internal/metrics"
)

// DefaultHistoryLimit is the size of the recent-window read.
const DefaultHistoryLimit = 200

// Announcer fans a freshly stored message out to live connections and
// arranges its delivery confirmation.
type Announcer interface {
	Announce(msg messagelog.Message)
}

// PostRequest is the input of Post.
type PostRequest struct {
	Content   string
	Anonymous bool
}

// Service drives the message log and the relay for request handlers.
type Service struct {
	log          messagelog.Log
	relay        Announcer
	metrics      metrics.Recorder
	logger       *slog.Logger
	historyLimit int
}

// NewService wires a Service. A non-positive historyLimit means
// DefaultHistoryLimit.
func NewService(log messagelog.Log, relay Announcer, rec metrics.Recorder, logger *slog.Logger, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Service{log: log, relay: relay, metrics: rec, logger: logger, historyLimit: historyLimit}
}

// Post stores a message and announces it. Content must be non-blank. An
// identity is required unless the post is anonymous; anonymous posts never
// carry a user id, even when the poster is authenticated.
func (s *Service) Post(ctx context.Context, req PostRequest, identity *auth.Identity) (messagelog.Message, error) {
	if strings.TrimSpace(req.Content) == "" {
		return messagelog.Message{}, apperr.Validation("content must be a non-empty string")
	}
	if !req.Anonymous && identity == nil {
		return messagelog.Message{}, apperr.ErrMissingCredential
	}

	msg := messagelog.Message{Content: req.Content}
	if req.Anonymous {
		msg.SenderName = messagelog.AnonymousSender
	} else {
		userID := identity.UserID
		msg.UserID = &userID
		msg.SenderName = identity.Username
	}

	stored, err := s.log.Append(ctx, msg)
	if err != nil {
		return messagelog.Message{}, err
	}

	s.metrics.MessagePosted(stored.Anonymous())
	s.logger.Info("message posted",
		slog.String("message_id", stored.ID),
		slog.Bool("anonymous", stored.Anonymous()),
	)

	s.relay.Announce(stored)
	return stored, nil
}

// Recent returns the recent window of messages, oldest first.
func (s *Service) Recent(ctx context.Context) ([]messagelog.Message, error) {
	return s.log.Tail(ctx, s.historyLimit)
}
