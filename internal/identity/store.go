// Package identity stores user accounts and checks their passwords. It is the
// Identity Store collaborator of the relay: the relay itself only consumes the
// session tokens issued for these users.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/Tyrowin/gochat-relay/internal/apperr"
)

const userKeyPrefix = "user:"

// User is the public projection of an account. It never carries the hash.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type userRecord struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r userRecord) public() User {
	return User{ID: r.ID, Username: r.Username, Email: r.Email, CreatedAt: r.CreatedAt}
}

// Store persists users in BadgerDB under "user:{username}".
type Store struct {
	db    *badger.DB
	log   *slog.Logger
	clock clock.Clock
	// mu serializes account creation so the uniqueness check and the write
	// cannot interleave with another registration.
	mu sync.Mutex
}

// NewStore returns a Store backed by db.
func NewStore(db *badger.DB, log *slog.Logger, c clock.Clock) *Store {
	if c == nil {
		c = clock.New()
	}
	return &Store{db: db, log: log, clock: c}
}

func userKey(username string) []byte {
	return []byte(userKeyPrefix + username)
}

// CreateUser validates the request, hashes the password and persists the
// account. A duplicate username yields apperr.ErrUsernameTaken.
func (s *Store) CreateUser(ctx context.Context, req RegisterRequest) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	req = req.normalize()
	if err := checkStruct(req); err != nil {
		return User{}, err
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	rec := userRecord{
		ID:           uuid.NewString(),
		Username:     req.Username,
		PasswordHash: hash,
		Email:        req.Email,
		CreatedAt:    s.clock.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return User{}, fmt.Errorf("encode user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		key := userKey(rec.Username)
		if _, err := txn.Get(key); err == nil {
			return apperr.ErrUsernameTaken
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	switch {
	case errors.Is(err, apperr.ErrUsernameTaken):
		return User{}, err
	case err != nil:
		return User{}, apperr.Storage("create user", err)
	}

	s.log.Info("user registered", slog.String("user_id", rec.ID), slog.String("username", rec.Username))
	return rec.public(), nil
}

// VerifyUser checks a username/password pair. Unknown users and wrong
// passwords both yield apperr.ErrInvalidCredentials.
func (s *Store) VerifyUser(ctx context.Context, req LoginRequest) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	req = req.normalize()
	if err := checkStruct(req); err != nil {
		return User{}, err
	}

	rec, found, err := s.find(req.Username)
	if err != nil {
		return User{}, err
	}
	if !found {
		return User{}, apperr.ErrInvalidCredentials
	}

	ok, err := ComparePassword(req.Password, rec.PasswordHash)
	if err != nil {
		s.log.Error("stored password hash unreadable", slog.String("user_id", rec.ID), slog.String("error", err.Error()))
		return User{}, apperr.ErrInvalidCredentials
	}
	if !ok {
		return User{}, apperr.ErrInvalidCredentials
	}
	return rec.public(), nil
}

// GetUser returns the public projection of a user by username.
func (s *Store) GetUser(ctx context.Context, username string) (User, bool, error) {
	if err := ctx.Err(); err != nil {
		return User{}, false, err
	}
	rec, found, err := s.find(username)
	if err != nil || !found {
		return User{}, found, err
	}
	return rec.public(), true, nil
}

func (s *Store) find(username string) (userRecord, bool, error) {
	var rec userRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(username))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return userRecord{}, false, nil
	case err != nil:
		return userRecord{}, false, apperr.Storage("read user", err)
	}
	return rec, true, nil
}
