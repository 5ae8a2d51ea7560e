package bus

import (
	"context"
	"path"
	"sync"
)

// Memory is an in-process Bus backed by channels. It serves single-binary
// deployments and tests; the Redis bus carries the same contract across
// processes.
type Memory struct {
	queue chan []byte

	mu     sync.Mutex
	subs   []*memSub
	closed bool
}

type memSub struct {
	pattern string
	ch      chan Message
}

// NewMemory creates an in-process bus with the given queue depth.
func NewMemory(queueDepth int) *Memory {
	return &Memory{queue: make(chan []byte, queueDepth)}
}

func (m *Memory) Push(ctx context.Context, payload []byte) error {
	select {
	case m.queue <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Pop(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-m.queue:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, sub := range m.subs {
		if ok, _ := path.Match(sub.pattern, channel); !ok {
			continue
		}
		// Drop rather than block: a slow subscriber must not stall the
		// engine's reply path.
		select {
		case sub.ch <- Message{Channel: channel, Payload: payload}:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, pattern string) (<-chan Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memSub{pattern: pattern, ch: make(chan Message, 64)}
	m.subs = append(m.subs, sub)

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, s := range m.subs {
			if s == sub {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(sub.ch)
	}()
	return sub.ch, nil
}

// Close marks the bus closed for publish and subscribe. Pending queue
// entries remain poppable so a draining consumer can finish.
func (m *Memory) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
