// Package server defines the relay event variants, their wire encoding and
// small helpers reused across client and hub logic.
package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Tyrowin/gochat-relay/internal/messagelog"
)

// Wire type tags.
const (
	TypeNewMessage       = "new_message"
	TypeMessageDelivered = "message_delivered"
	TypePing             = "ping"
	TypePong             = "pong"
)

// Event is a relay event. NewMessage and MessageDelivered are the only
// implementations.
type Event interface {
	Type() string
	isEvent()
}

// NewMessage announces a freshly stored message.
type NewMessage struct {
	Message messagelog.Message
}

// MessageDelivered confirms delivery of the message with the given id.
type MessageDelivered struct {
	ID string
}

func (NewMessage) Type() string       { return TypeNewMessage }
func (MessageDelivered) Type() string { return TypeMessageDelivered }
func (NewMessage) isEvent()           {}
func (MessageDelivered) isEvent()     {}

// wireEvent is the JSON shape pushed to clients.
type wireEvent struct {
	Type    string              `json:"type"`
	Message *messagelog.Message `json:"message,omitempty"`
	ID      string              `json:"id,omitempty"`
}

// EncodeEvent serializes an event to its wire form.
func EncodeEvent(e Event) ([]byte, error) {
	switch ev := e.(type) {
	case NewMessage:
		msg := ev.Message
		return json.Marshal(wireEvent{Type: TypeNewMessage, Message: &msg})
	case MessageDelivered:
		return json.Marshal(wireEvent{Type: TypeMessageDelivered, ID: ev.ID})
	default:
		return nil, fmt.Errorf("unknown event %T", e)
	}
}

// InboundMessage is the JSON frame a client may send.
type InboundMessage struct {
	Type string `json:"type"`
}

var pongFrame = []byte(`{"type":"pong"}`)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
