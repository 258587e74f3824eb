// Package server exposes HTTP handlers, including WebSocket upgrades, the
// message API, account endpoints and health checks.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/apperr"
	"github.com/Tyrowin/gochat-relay/internal/auth"
	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/identity"
	"github.com/Tyrowin/gochat-relay/internal/middleware"
)

// UserStore is the account backend used by the register and login handlers.
type UserStore interface {
	CreateUser(ctx context.Context, req identity.RegisterRequest) (identity.User, error)
	VerifyUser(ctx context.Context, req identity.LoginRequest) (identity.User, error)
}

// API bundles the HTTP handlers of the relay.
type API struct {
	hub      *Hub
	chat     *chat.Service
	users    UserStore
	auth     *auth.Authenticator
	origins  *OriginPolicy
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewAPI wires the handlers.
func NewAPI(hub *Hub, svc *chat.Service, users UserStore, authn *auth.Authenticator, origins *OriginPolicy, log *slog.Logger) *API {
	return &API{
		hub:     hub,
		chat:    svc,
		users:   users,
		auth:    authn,
		origins: origins,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
	}
}

// postMessageBody keeps content untyped so that a non-string value is
// reported as a validation error rather than a decode failure.
type postMessageBody struct {
	Content     any  `json:"content"`
	IsAnonymous bool `json:"isAnonymous"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	User      identity.User `json:"user"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// StatsResponse is returned by the stats endpoint.
type StatsResponse struct {
	OnlineUsers int `json:"online_users"`
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(a.log, w, r, err)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("malformed JSON body: %v", err)
	}
	return nil
}

// PostMessage stores a message and relays it to every live connection.
func (a *API) PostMessage(w http.ResponseWriter, r *http.Request) {
	var body postMessageBody
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	content, ok := body.Content.(string)
	if !ok {
		a.writeError(w, r, apperr.Validation("content must be a non-empty string"))
		return
	}

	var who *auth.Identity
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		who = &id
	}

	msg, err := a.chat.Post(r.Context(), chat.PostRequest{Content: content, Anonymous: body.IsAnonymous}, who)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if who != nil {
		a.log.Debug("message accepted", "user_id", who.UserID, "message_id", msg.ID)
	}
	middleware.WriteJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

// ListMessages returns the recent history window, oldest first.
func (a *API) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.chat.Recent(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, msgs)
}

// Stats reports the number of live authenticated connections.
func (a *API) Stats(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, StatsResponse{OnlineUsers: a.hub.OnlineUsers()})
}

// Register creates an account and returns a session token for it.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	var req identity.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	user, err := a.users.CreateUser(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.respondWithToken(w, r, http.StatusCreated, user)
}

// Login verifies credentials and returns a session token.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req identity.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	user, err := a.users.VerifyUser(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.respondWithToken(w, r, http.StatusOK, user)
}

func (a *API) respondWithToken(w http.ResponseWriter, r *http.Request, status int, user identity.User) {
	token, expiresAt, err := a.auth.IssueToken(user.ID, user.Username)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.log.Info("session issued", "user_id", user.ID)
	middleware.WriteJSON(w, status, AuthResponse{User: user, Token: token, ExpiresAt: expiresAt})
}

// WebSocket upgrades the request and attaches the socket to the hub. A
// missing or invalid token yields an anonymous connection.
func (a *API) WebSocket(w http.ResponseWriter, r *http.Request) {
	var who *auth.Identity
	if credential := auth.CredentialFromRequest(r); credential != "" {
		id, err := a.auth.Authenticate(credential)
		if err != nil {
			a.log.Debug("websocket token rejected; connecting anonymously", "error", err)
		} else {
			who = &id
		}
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	a.hub.Attach(conn, r.RemoteAddr, who)
}

// Health provides a simple liveness check.
func (a *API) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "GoChat relay is running!")
}
