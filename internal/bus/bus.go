// Package bus carries verification updates between processes sharing a
// cache. Delivery is best effort; a subscriber never sees its own messages.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrClosed is returned when publishing on a closed bus
var ErrClosed = errors.New("bus: closed")

// Message is the envelope exchanged between processes
type Message struct {
	SenderID  string          `json:"senderId"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler receives messages from other senders
type Handler func(Message)

// Bus is a broadcast channel for Messages
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe registers h for messages whose SenderID differs from selfID
	Subscribe(selfID string, h Handler) (unsubscribe func(), err error)
	Close() error
}

// NopBus drops every message. A process alone on its store needs nothing
// more.
type NopBus struct{}

func (NopBus) Publish(context.Context, Message) error { return nil }

func (NopBus) Subscribe(string, Handler) (func(), error) { return func() {}, nil }

func (NopBus) Close() error { return nil }
