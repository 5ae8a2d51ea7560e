package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opinex/exchange-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache on the per-event trade history. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.TradeRecord) error {
	if err := s.primary.InsertTrade(ctx, t); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, eventTradesKey(t.EventID))
	return nil
}

func (s *CachedStore) TradesByEvent(ctx context.Context, eventID string) ([]model.TradeRecord, error) {
	key := eventTradesKey(eventID)
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var trades []model.TradeRecord
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	trades, err := s.primary.TradesByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return trades, nil
}

// TradesByUser always hits the primary: per-user histories are long-tail
// reads and caching them would multiply invalidation keys per insert.
func (s *CachedStore) TradesByUser(ctx context.Context, userID string) ([]model.TradeRecord, error) {
	return s.primary.TradesByUser(ctx, userID)
}

func (s *CachedStore) Reset(ctx context.Context) error {
	if err := s.primary.Reset(ctx); err != nil {
		return err
	}
	iter := s.rdb.Scan(ctx, 0, "trades:event:*", 0).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
	return iter.Err()
}

func eventTradesKey(eventID string) string {
	return fmt.Sprintf("trades:event:%s", eventID)
}
