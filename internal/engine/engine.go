// Package engine implements the matching and settlement core of the
// exchange: the price-crossing walk, complementary pair minting, and the
// command processor that serializes every mutation.
//
// Book side S holds offers that deliver side S: explicit sells (backed by
// the seller's locked position) and minted legs (the un-owned complementary
// halves of minted pairs, backed by the minter's locked cash). A buy of S at
// limit tick p consumes S-side levels from the cheapest upward while the
// level price stays within p, FIFO within a level, then mints any shortfall:
// the buyer keeps S outright and the complementary leg rests on the opposite
// side at MaxTick-p for a future opposite-side buyer.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opinex/exchange-engine/internal/book"
	"github.com/opinex/exchange-engine/internal/ledger"
	"github.com/opinex/exchange-engine/internal/model"
)

var (
	// ErrInvalidPrice is returned for a price tick outside [1, MaxTick-1].
	ErrInvalidPrice = errors.New("engine: price tick out of range")

	// ErrInvalidQuantity is returned for a zero or negative quantity.
	ErrInvalidQuantity = errors.New("engine: quantity must be positive")
)

// Engine walks the order book and ledger together to execute order intents.
// It holds no state of its own beyond borrowed references to the single
// ledger and book instances owned by the processor; every method is a pure
// function of (ledger, book, intent).
type Engine struct {
	ledger *ledger.Ledger
	book   *book.OrderBook
}

// New creates an engine operating on the given ledger and order book.
func New(l *ledger.Ledger, b *book.OrderBook) *Engine {
	return &Engine{ledger: l, book: b}
}

// Ledger exposes the underlying ledger for read paths and resets.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Book exposes the underlying order book for snapshots and resets.
func (e *Engine) Book() *book.OrderBook { return e.book }

func validateIntent(price, qty int64) error {
	if price < 1 || price > model.MaxTick-1 {
		return fmt.Errorf("%w: %d not in [1,%d]", ErrInvalidPrice, price, model.MaxTick-1)
	}
	if qty < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	return nil
}

// PlaceSell rests qty units of the user's side-S position at the given tick.
// Sells are always passive makers; only a buy can cross the book or mint.
func (e *Engine) PlaceSell(userID, eventID string, side model.Side, price, qty int64) error {
	if err := validateIntent(price, qty); err != nil {
		return err
	}
	if err := e.ledger.LockPosition(userID, eventID, side, qty); err != nil {
		return err
	}
	e.book.Append(eventID, side, price, userID, qty, model.KindSell)
	return nil
}

// PlaceBuy executes a buy intent: consume price-compatible offers cheapest
// first, then mint the shortfall. Returns the trades emitted and the
// quantity minted.
func (e *Engine) PlaceBuy(userID, eventID string, side model.Side, price, qty int64) ([]model.Trade, int64, error) {
	if err := validateIntent(price, qty); err != nil {
		return nil, 0, err
	}
	acct, err := e.ledger.Account(userID)
	if err != nil {
		return nil, 0, err
	}
	// Worst-case outlay: every unit at the limit price. Fills only ever cost
	// less, so validating once up front keeps the walk all-or-nothing.
	if acct.Cash < model.Cost(price, qty) {
		return nil, 0, fmt.Errorf("%w: need %d, have %d",
			ledger.ErrInsufficientFunds, model.Cost(price, qty), acct.Cash)
	}
	e.book.Ensure(eventID)

	var trades []model.Trade
	remaining := qty
	for remaining > 0 {
		level, total, ok := e.book.BestLevel(eventID, side)
		if !ok || level > price {
			break
		}
		want := remaining
		if total < want {
			want = total
		}
		fills := e.book.Consume(eventID, side, level, want)
		for _, f := range fills {
			if err := e.settleFill(userID, eventID, side, level, f); err != nil {
				return trades, 0, err
			}
			trades = append(trades, model.Trade{
				ID:        uuid.New().String(),
				EventID:   eventID,
				Side:      side,
				Price:     level,
				Quantity:  f.Quantity,
				BuyerID:   userID,
				SellerID:  f.UserID,
				Timestamp: time.Now().UTC(),
			})
			remaining -= f.Quantity
		}
	}

	if remaining > 0 {
		if err := e.mint(userID, eventID, side, price, remaining); err != nil {
			return trades, 0, err
		}
	}
	return trades, remaining, nil
}

// settleFill applies the ledger mutations for one fill at the given level.
// The combined cash absorbed per unit is always level + (MaxTick-level) for
// a minted leg, or a pure transfer of level for an explicit sell.
func (e *Engine) settleFill(buyerID, eventID string, side model.Side, level int64, f book.Fill) error {
	switch f.Kind {
	case model.KindSell:
		// Position transfer: seller delivers locked contracts and receives
		// the level price per unit from the buyer.
		if err := e.ledger.SettleLockedPosition(f.UserID, eventID, side, f.Quantity); err != nil {
			return err
		}
		if err := e.ledger.Credit(f.UserID, model.Cost(level, f.Quantity)); err != nil {
			return err
		}
	case model.KindMinted:
		// Pair completion: the minter bought the opposite side at
		// MaxTick-level and locked that much per unit. The collateral now
		// permanently funds the pair; the buyer's payment funds the rest.
		minterCost := model.Cost(model.ComplementTick(level), f.Quantity)
		if err := e.ledger.SettleLocked(f.UserID, minterCost); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown order kind %q", ledger.ErrInvariant, f.Kind)
	}
	if err := e.ledger.Debit(buyerID, model.Cost(level, f.Quantity)); err != nil {
		return err
	}
	return e.ledger.CreditPosition(buyerID, eventID, side, f.Quantity)
}

// mint creates qty new pairs: the buyer owns side S outright against locked
// cash, and the complementary leg rests on the opposite side at the
// complementary tick. No trade is emitted; one is emitted per counterparty
// when a future buyer consumes the resting leg.
func (e *Engine) mint(userID, eventID string, side model.Side, price, qty int64) error {
	if err := e.ledger.Lock(userID, model.Cost(price, qty)); err != nil {
		return err
	}
	if err := e.ledger.CreditPosition(userID, eventID, side, qty); err != nil {
		return err
	}
	e.book.Append(eventID, side.Opposite(), model.ComplementTick(price), userID, qty, model.KindMinted)
	return nil
}

// Cancel removes up to qty units of the user's resting order at the level
// and returns the locked backing: position for an explicit sell, cash (plus
// retiring the paired minted position) for a minted leg. All ledger checks
// happen before any mutation so a failed cancel changes nothing.
func (e *Engine) Cancel(userID, eventID string, side model.Side, price, qty int64) (int64, error) {
	if err := validateIntent(price, qty); err != nil {
		return 0, err
	}
	resting, kind, err := e.book.Find(eventID, side, price, userID)
	if err != nil {
		return 0, err
	}
	removed := resting
	if removed > qty {
		removed = qty
	}

	switch kind {
	case model.KindSell:
		pos := e.ledger.Position(userID, eventID).Side(side)
		if pos.Locked < removed {
			return 0, fmt.Errorf("%w: cancel %d exceeds locked position %d",
				ledger.ErrInvariant, removed, pos.Locked)
		}
	case model.KindMinted:
		// The pair was created together: cancelling the resting leg retires
		// the minted position on the originally bought side and returns the
		// cash collateral.
		collateral := model.Cost(model.ComplementTick(price), removed)
		acct, err := e.ledger.Account(userID)
		if err != nil {
			return 0, err
		}
		if acct.Locked < collateral {
			return 0, fmt.Errorf("%w: cancel needs %d locked cash, have %d",
				ledger.ErrInvariant, collateral, acct.Locked)
		}
		pos := e.ledger.Position(userID, eventID).Side(side.Opposite())
		if pos.Quantity < removed {
			return 0, fmt.Errorf("%w: minted position %d already spent",
				ledger.ErrInvariant, removed)
		}
	}

	if _, _, err := e.book.Cancel(eventID, side, price, userID, removed); err != nil {
		return 0, err
	}
	switch kind {
	case model.KindSell:
		if err := e.ledger.UnlockPosition(userID, eventID, side, removed); err != nil {
			return 0, err
		}
	case model.KindMinted:
		if err := e.ledger.Unlock(userID, model.Cost(model.ComplementTick(price), removed)); err != nil {
			return 0, err
		}
		if err := e.ledger.DebitPosition(userID, eventID, side.Opposite(), removed); err != nil {
			return 0, err
		}
	}
	return removed, nil
}

// MintPair mints qty fully-paid YES+NO pairs for the user, independent of
// any buy. The pair costs exactly MaxTick per unit; nothing rests on the
// book and nothing stays locked.
func (e *Engine) MintPair(userID, eventID string, qty int64) error {
	if qty < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	if err := e.ledger.Debit(userID, model.Cost(model.MaxTick, qty)); err != nil {
		return err
	}
	e.book.Ensure(eventID)
	if err := e.ledger.CreditPosition(userID, eventID, model.SideYes, qty); err != nil {
		return err
	}
	return e.ledger.CreditPosition(userID, eventID, model.SideNo, qty)
}
