// Package auth issues and verifies the signed session tokens used by the
// HTTP surface and the WebSocket endpoint.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/gochat-relay/internal/apperr"
)

// Issuer is written into and required from every token.
const Issuer = "gochat"

// DefaultTTL is the token validity window measured from issuance.
const DefaultTTL = 7 * 24 * time.Hour

// Identity is the authenticated subject decoded from a session token.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Claims defines the data stored inside the JWT.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies session tokens with a shared HMAC secret.
// It holds no mutable state and is safe for concurrent use.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// Option customizes an Authenticator.
type Option func(*Authenticator)

// WithClock overrides the time source used for issuance and expiry checks.
func WithClock(c clock.Clock) Option {
	return func(a *Authenticator) { a.clock = c }
}

// WithTTL overrides the token validity window.
func WithTTL(ttl time.Duration) Option {
	return func(a *Authenticator) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// NewAuthenticator returns an Authenticator for the given secret.
func NewAuthenticator(secret []byte, opts ...Option) *Authenticator {
	a := &Authenticator{
		secret: append([]byte(nil), secret...),
		ttl:    DefaultTTL,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IssueToken creates a signed token for the user and returns it together
// with its expiry.
func (a *Authenticator) IssueToken(userID, username string) (string, time.Time, error) {
	now := a.clock.Now()
	expiresAt := now.Add(a.ttl)

	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyToken checks the signature, issuer and expiry of a token.
func (a *Authenticator) VerifyToken(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, apperr.ErrMissingCredential
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", apperr.ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return Identity{}, fmt.Errorf("%w: %v", apperr.ErrInvalidCredential, jwt.ErrTokenInvalidClaims)
	}

	return Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

// Authenticate verifies a bearer-style credential. Both "Bearer <token>" and
// a bare token are accepted.
func (a *Authenticator) Authenticate(credential string) (Identity, error) {
	fields := strings.Fields(credential)
	if len(fields) > 0 && strings.EqualFold(fields[0], "bearer") {
		fields = fields[1:]
	}
	switch len(fields) {
	case 0:
		return Identity{}, apperr.ErrMissingCredential
	case 1:
		return a.VerifyToken(fields[0])
	default:
		return Identity{}, fmt.Errorf("%w: malformed credential", apperr.ErrInvalidCredential)
	}
}

// IsMissing reports whether err means no credential was supplied at all.
func IsMissing(err error) bool {
	return errors.Is(err, apperr.ErrMissingCredential)
}
