package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const identityKey contextKey = "identity"

// CredentialFromRequest returns the Authorization header, falling back to the
// "token" query parameter used by browser WebSocket clients.
func CredentialFromRequest(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		return header
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// WithIdentity stores the identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity attached by the middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// RequireIdentity rejects requests that do not carry a valid credential.
func (a *Authenticator) RequireIdentity(onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(CredentialFromRequest(r))
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// OptionalIdentity lets requests without a credential through anonymously
// but still rejects a credential that is present and invalid.
func (a *Authenticator) OptionalIdentity(onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(CredentialFromRequest(r))
			switch {
			case err == nil:
				r = r.WithContext(WithIdentity(r.Context(), id))
			case IsMissing(err):
			default:
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
