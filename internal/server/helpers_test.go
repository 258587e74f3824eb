package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/auth"
	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/config"
	"github.com/Tyrowin/gochat-relay/internal/identity"
	"github.com/Tyrowin/gochat-relay/internal/logger"
	"github.com/Tyrowin/gochat-relay/internal/messagelog"
	"github.com/Tyrowin/gochat-relay/internal/metrics"
	"github.com/Tyrowin/gochat-relay/internal/storage"
)

const testOrigin = "http://localhost:8080"

// testApp is the full relay stack behind an httptest server.
type testApp struct {
	t        *testing.T
	clock    *clock.Mock
	hub      *Hub
	log      *messagelog.BadgerLog
	server   *httptest.Server
	gatherer *prometheus.Registry
}

func newTestApp(t *testing.T, customize func(cfg *HubConfig)) *testApp {
	t.Helper()

	db, err := storage.OpenInMemory(logger.Discard())
	require.NoError(t, err)

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC))

	mlog, err := messagelog.NewBadgerLog(db, logger.Discard(), mock)
	require.NoError(t, err)
	users := identity.NewStore(db, logger.Discard(), mock)
	authn := auth.NewAuthenticator([]byte("test-secret"), auth.WithClock(mock))

	reg := prometheus.NewRegistry()
	rec := metrics.NewCollector(reg)

	cfg := HubConfig{
		MaxMessageSize:    512,
		SendBufferSize:    16,
		RateLimit:         config.RateLimitConfig{Burst: 5, RefillInterval: time.Second},
		DeliveryDelay:     700 * time.Millisecond,
		HeartbeatInterval: 30 * time.Second,
		Clock:             mock,
	}
	if customize != nil {
		customize(&cfg)
	}

	hub := NewHub(mlog, cfg, rec, logger.Discard())
	svc := chat.NewService(mlog, hub, rec, logger.Discard(), 0)
	api := NewAPI(hub, svc, users, authn, NewOriginPolicy([]string{testOrigin}, logger.Discard()), logger.Discard())
	srv := httptest.NewServer(SetupRoutes(api, reg))

	t.Cleanup(func() {
		_ = hub.Shutdown(time.Second)
		srv.Close()
		_ = mlog.Close()
		_ = db.Close()
	})

	return &testApp{t: t, clock: mock, hub: hub, log: mlog, server: srv, gatherer: reg}
}

func (a *testApp) do(method, path, token string, body any) *http.Response {
	a.t.Helper()

	var payload bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			payload.WriteString(b)
		default:
			require.NoError(a.t, json.NewEncoder(&payload).Encode(b))
		}
	}

	req, err := http.NewRequest(method, a.server.URL+path, &payload)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeResponse[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *testApp) register(username string) AuthResponse {
	a.t.Helper()
	resp := a.do(http.MethodPost, "/register", "", identity.RegisterRequest{Username: username, Password: "password123"})
	require.Equal(a.t, http.StatusCreated, resp.StatusCode)
	return decodeResponse[AuthResponse](a.t, resp)
}

func (a *testApp) wsURL(token string) string {
	u, err := url.Parse(a.server.URL)
	require.NoError(a.t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String()
}

// connect dials the relay and waits until the hub has registered the socket.
func (a *testApp) connect(token string) *websocket.Conn {
	a.t.Helper()
	before := a.hub.Registry().Count()

	conn, err := dialWebSocket(a.wsURL(token), testOrigin)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(a.t, func() bool { return a.hub.Registry().Count() == before+1 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func dialWebSocket(rawURL, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(rawURL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt wireEvent
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no message")
}
