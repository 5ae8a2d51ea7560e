package store

import (
	"context"
	"sync"

	"github.com/opinex/exchange-engine/internal/model"
)

// MemoryStore is an in-memory Store for testing and single-binary runs.
type MemoryStore struct {
	mu     sync.RWMutex
	trades []model.TradeRecord
}

// NewMemoryStore creates an empty in-memory trade log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) TradesByEvent(_ context.Context, eventID string) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.TradeRecord
	for _, t := range s.trades {
		if t.EventID == eventID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) TradesByUser(_ context.Context, userID string) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.TradeRecord
	for _, t := range s.trades {
		if t.BuyerID == userID || t.SellerID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = nil
	return nil
}
