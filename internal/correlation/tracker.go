// Package correlation matches engine replies back to the HTTP requests that
// produced them. Each enqueued command carries a request ID; the tracker
// parks the caller until the reply with that ID arrives on the reply
// channels or the wait times out.
package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/opinex/exchange-engine/internal/bus"
)

var (
	// ErrTimeout is returned when no reply arrives within the wait window.
	ErrTimeout = errors.New("correlation: reply timed out")

	// ErrDuplicateRequest is returned when a request ID is already being
	// awaited.
	ErrDuplicateRequest = errors.New("correlation: duplicate request id")
)

// Reply is the engine's answer to one command. Msg is the reply payload,
// itself JSON, or the failure text when Error is set.
type Reply struct {
	RequestID string `json:"requestId"`
	Error     bool   `json:"error"`
	Msg       string `json:"msg"`
}

// Tracker correlates replies by request ID.
type Tracker struct {
	timeout time.Duration

	mu      sync.Mutex
	waiters map[string]chan Reply
}

// NewTracker creates a tracker with the given per-request wait window.
func NewTracker(timeout time.Duration) *Tracker {
	return &Tracker{
		timeout: timeout,
		waiters: make(map[string]chan Reply),
	}
}

// Run consumes the reply stream until the context ends. It must be started
// before any Await; replies with no waiter are dropped.
func (t *Tracker) Run(ctx context.Context, sub bus.Subscriber) error {
	msgs, err := sub.Subscribe(ctx, "reply.*")
	if err != nil {
		return err
	}
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var reply Reply
			if err := json.Unmarshal(msg.Payload, &reply); err != nil {
				continue
			}
			t.resolve(reply)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Waiter is one registered expectation. Register before pushing the
// command, then Wait; registering first closes the window where a fast
// reply would arrive with nobody listening.
type Waiter struct {
	tracker   *Tracker
	requestID string
	ch        chan Reply
}

// Expect registers a waiter for requestID. The caller must Wait or Cancel.
func (t *Tracker) Expect(requestID string) (*Waiter, error) {
	ch, err := t.register(requestID)
	if err != nil {
		return nil, err
	}
	return &Waiter{tracker: t, requestID: requestID, ch: ch}, nil
}

// Wait blocks until the reply arrives, the wait window elapses, or the
// context ends. The waiter is released either way.
func (w *Waiter) Wait(ctx context.Context) (Reply, error) {
	defer w.tracker.drop(w.requestID)

	timer := time.NewTimer(w.tracker.timeout)
	defer timer.Stop()

	select {
	case reply := <-w.ch:
		return reply, nil
	case <-timer.C:
		return Reply{}, ErrTimeout
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Cancel releases the waiter without waiting. Used when the push fails.
func (w *Waiter) Cancel() {
	w.tracker.drop(w.requestID)
}

func (t *Tracker) register(requestID string) (chan Reply, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.waiters[requestID]; exists {
		return nil, ErrDuplicateRequest
	}
	ch := make(chan Reply, 1)
	t.waiters[requestID] = ch
	return ch, nil
}

func (t *Tracker) drop(requestID string) {
	t.mu.Lock()
	delete(t.waiters, requestID)
	t.mu.Unlock()
}

func (t *Tracker) resolve(reply Reply) {
	t.mu.Lock()
	ch, ok := t.waiters[reply.RequestID]
	t.mu.Unlock()
	if ok {
		ch <- reply
	}
}
