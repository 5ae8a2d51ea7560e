package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/opinex/exchange-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed trade log.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.TradeRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, event_id, side, price, quantity, notional, buyer_id, seller_id, executed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6::NUMERIC, $7, $8, $9)`,
		t.ID, t.EventID, string(t.Side),
		t.Price.String(), t.Quantity, t.Notional.String(),
		t.BuyerID, t.SellerID, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) TradesByEvent(ctx context.Context, eventID string) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, side, price::TEXT, quantity, notional::TEXT, buyer_id, seller_id, executed_at
		 FROM trades WHERE event_id = $1 ORDER BY executed_at ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("trades by event %s: %w", eventID, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) TradesByUser(ctx context.Context, userID string) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, side, price::TEXT, quantity, notional::TEXT, buyer_id, seller_id, executed_at
		 FROM trades WHERE buyer_id = $1 OR seller_id = $1 ORDER BY executed_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("trades by user %s: %w", userID, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE TABLE trades`)
	return err
}

type pgRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTrades(rows pgRows) ([]model.TradeRecord, error) {
	var out []model.TradeRecord
	for rows.Next() {
		var t model.TradeRecord
		var side, price, notional string
		if err := rows.Scan(&t.ID, &t.EventID, &side, &price, &t.Quantity, &notional,
			&t.BuyerID, &t.SellerID, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		t.Price, _ = decimal.NewFromString(price)
		t.Notional, _ = decimal.NewFromString(notional)
		out = append(out, t)
	}
	return out, rows.Err()
}
