// Package store defines the trade-log persistence interface for the
// exchange engine. Implementations include PostgreSQL (source of truth),
// Redis (read-through cache), and in-memory (for testing and single-binary
// runs). The engine's matching state itself is never persisted here; the
// log is an append-only record of executions.
package store

import (
	"context"
	"errors"

	"github.com/opinex/exchange-engine/internal/model"
)

// ErrNotFound is returned when a query matches no rows.
var ErrNotFound = errors.New("store: not found")

// Store is the trade-log interface.
type Store interface {
	// InsertTrade appends an immutable execution record.
	InsertTrade(ctx context.Context, t *model.TradeRecord) error

	// TradesByEvent returns all executions for an event, oldest first.
	TradesByEvent(ctx context.Context, eventID string) ([]model.TradeRecord, error)

	// TradesByUser returns all executions where the user was buyer or
	// seller, oldest first.
	TradesByUser(ctx context.Context, userID string) ([]model.TradeRecord, error)

	// Reset removes every record. Supports the full-wipe operation.
	Reset(ctx context.Context) error
}
