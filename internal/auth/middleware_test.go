package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func unauthorized(w http.ResponseWriter, _ *http.Request, _ error) {
	w.WriteHeader(http.StatusUnauthorized)
}

func echoIdentity(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write([]byte(id.Username))
	})
}

func TestRequireIdentity(t *testing.T) {
	a := NewAuthenticator([]byte("secret"), WithClock(newMockClock()))
	token, _, err := a.IssueToken("u-1", "alice")
	require.NoError(t, err)
	h := a.RequireIdentity(unauthorized)(echoIdentity(t))

	t.Run("header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/messages", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "alice", w.Body.String())
	})

	t.Run("query parameter", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/messages?token="+token, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/messages", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestOptionalIdentity(t *testing.T) {
	a := NewAuthenticator([]byte("secret"), WithClock(newMockClock()))
	h := a.OptionalIdentity(unauthorized)(echoIdentity(t))

	t.Run("absent is anonymous", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/messages", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "anonymous", w.Body.String())
	})

	t.Run("invalid is rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/messages", nil)
		r.Header.Set("Authorization", "Bearer forged")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
