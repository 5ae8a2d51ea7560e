// Package bus abstracts the message fabric between the gateway and the
// engine: a single command queue with blocking pop semantics, plus fire-and-
// forget pub/sub channels for correlated replies and book broadcasts.
package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned once a bus has been shut down.
var ErrClosed = errors.New("bus: closed")

// CommandQueue is the serialized intake for the engine. Push is called by
// many producers; Pop is called by exactly one consumer and blocks until a
// payload is available or the context ends.
type CommandQueue interface {
	Push(ctx context.Context, payload []byte) error
	Pop(ctx context.Context) ([]byte, error)
}

// Message is one published datum on a named channel.
type Message struct {
	Channel string
	Payload []byte
}

// Publisher fans a payload out to current subscribers of a channel.
// Delivery is best-effort; there is no replay.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber delivers messages for channels matching a glob pattern
// (e.g. "reply.*", "book.*") until the context ends.
type Subscriber interface {
	Subscribe(ctx context.Context, pattern string) (<-chan Message, error)
}

// Bus is the full fabric the gateway and engine share.
type Bus interface {
	CommandQueue
	Publisher
	Subscriber
}
