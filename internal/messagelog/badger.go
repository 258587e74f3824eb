package messagelog

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

const (
	messagePrefix = "msg:"
	indexPrefix   = "mid:"
	sequenceKey   = "seq:messages"
	// sequenceLease is how many sequence numbers Badger reserves per lease.
	sequenceLease = 128
)

// BadgerLog stores messages in BadgerDB.
//
// Each message lives under "msg:{seq}" where seq is a 20-digit zero padded
// value from a Badger sequence, so lexicographic key order is append order.
// A secondary "mid:{id}" key points back to the message key for
// MarkDelivered. All writes go through mu; reads use Badger snapshots and
// never take the lock.
type BadgerLog struct {
	db    *badger.DB
	seq   *badger.Sequence
	log   *slog.Logger
	clock clock.Clock

	mu   sync.Mutex
	last time.Time
}

var _ Log = (*BadgerLog)(nil)

// NewBadgerLog opens the message sequence on db. Close must be called to
// release unused sequence numbers.
func NewBadgerLog(db *badger.DB, log *slog.Logger, c clock.Clock) (*BadgerLog, error) {
	if c == nil {
		c = clock.New()
	}
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceLease)
	if err != nil {
		return nil, apperr.Storage("open message sequence", err)
	}
	l := &BadgerLog{db: db, seq: seq, log: log, clock: c}

	last, err := l.lastTimestamp()
	if err != nil {
		_ = seq.Release()
		return nil, err
	}
	l.last = last
	return l, nil
}

// Close releases the sequence lease. It does not close the database.
func (l *BadgerLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.seq.Release(); err != nil {
		return apperr.Storage("release message sequence", err)
	}
	return nil
}

func messageKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", messagePrefix, seq))
}

func indexKey(id string) []byte {
	return []byte(indexPrefix + id)
}

// Append persists msg. The caller supplied ID, CreatedAt and Delivered are
// ignored and replaced by server assigned values.
func (l *BadgerLog) Append(ctx context.Context, msg Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.seq.Next()
	if err != nil {
		return Message{}, apperr.Storage("next message sequence", err)
	}

	now := l.clock.Now().UTC()
	if now.Before(l.last) {
		now = l.last
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = now
	msg.Delivered = false

	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("encode message: %w", err)
	}

	key := messageKey(n)
	err = l.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(indexKey(msg.ID), key)
	})
	if err != nil {
		return Message{}, apperr.Storage("append message", err)
	}

	l.last = now
	l.log.Debug("message appended", slog.String("message_id", msg.ID), slog.Uint64("seq", n))
	return msg, nil
}

// Tail returns up to n of the most recent messages, oldest first. The result
// is never nil.
func (l *BadgerLog) Tail(ctx context.Context, n int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Message, 0)
	if n <= 0 {
		return out, nil
	}

	err := l.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// 0xff sorts after every digit, so the seek lands on the newest key.
		for it.Seek(append([]byte(messagePrefix), 0xff)); it.ValidForPrefix(prefix) && len(out) < n; it.Next() {
			var msg Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			out = append(out, msg)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Storage("read message tail", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// MarkDelivered sets delivered=true on the message with the given id. It
// returns false without error when the id is unknown or already delivered.
func (l *BadgerLog) MarkDelivered(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	updated := false
	err := l.db.Update(func(txn *badger.Txn) error {
		key, err := lookupKey(txn, id)
		if err != nil {
			return err
		}
		msg, err := readMessage(txn, key)
		if err != nil {
			return err
		}
		if msg.Delivered {
			return nil
		}
		msg.Delivered = true
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		updated = true
		return nil
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	case err != nil:
		return false, apperr.Storage("mark message delivered", err)
	}
	return updated, nil
}

// Get returns a single message by id.
func (l *BadgerLog) Get(ctx context.Context, id string) (Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}
	var msg Message
	err := l.db.View(func(txn *badger.Txn) error {
		key, err := lookupKey(txn, id)
		if err != nil {
			return err
		}
		msg, err = readMessage(txn, key)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return Message{}, false, nil
	case err != nil:
		return Message{}, false, apperr.Storage("read message", err)
	}
	return msg, true, nil
}

func (l *BadgerLog) lastTimestamp() (time.Time, error) {
	tail, err := l.Tail(context.Background(), 1)
	if err != nil {
		return time.Time{}, err
	}
	if len(tail) == 0 {
		return time.Time{}, nil
	}
	return tail[0].CreatedAt, nil
}

func lookupKey(txn *badger.Txn, id string) ([]byte, error) {
	if id == "" {
		return nil, badger.ErrKeyNotFound
	}
	item, err := txn.Get(indexKey(id))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func readMessage(txn *badger.Txn, key []byte) (Message, error) {
	var msg Message
	item, err := txn.Get(key)
	if err != nil {
		return msg, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &msg)
	})
	return msg, err
}
