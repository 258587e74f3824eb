// Package messagelog is the durable, ordered, append-only record of chat
// messages. Records are created undelivered and flipped to delivered exactly
// once; they are never edited or removed.
package messagelog

import (
	"context"
	"time"
)

// AnonymousSender is the display name stored for anonymous posts.
const AnonymousSender = "Anonymous"

// Message is a persisted chat message.
type Message struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	UserID     *string   `json:"user_id"`
	SenderName string    `json:"sender_name"`
	CreatedAt  time.Time `json:"created_at"`
	Delivered  bool      `json:"delivered"`
}

// Anonymous reports whether the message has no author.
func (m Message) Anonymous() bool {
	return m.UserID == nil
}

// Log is the contract every message log backend fulfils.
type Log interface {
	// Append assigns the id and creation timestamp, persists the message
	// and returns the stored record.
	Append(ctx context.Context, msg Message) (Message, error)
	// Tail returns up to n of the most recently appended messages, oldest
	// first.
	Tail(ctx context.Context, n int) ([]Message, error)
	// MarkDelivered flips the delivered flag and reports whether a record
	// was found and changed. A missing id is not an error.
	MarkDelivered(ctx context.Context, id string) (bool, error)
}
