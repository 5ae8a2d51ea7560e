// Package model defines the core domain types shared across the exchange
// engine. Engine-internal money is int64 in currency subunits and prices are
// int64 ticks; decimal conversion happens only at the trade-log boundary.
package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// MaxTick is the top of the fixed price scale. A matched pair of one YES and
// one NO contract costs exactly MaxTick ticks and redeems for MaxTick ticks.
const MaxTick int64 = 10

// TickUnit is the number of currency subunits per price tick.
const TickUnit int64 = 100

// Side identifies one leg of a binary event contract.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether s is one of the two contract sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// ComplementTick returns the price tick of the complementary leg: the two
// legs of a pair always sum to MaxTick.
func ComplementTick(price int64) int64 {
	return MaxTick - price
}

// Cost converts a (price tick, quantity) pair into currency subunits.
// Integer arithmetic only; fractional-subunit amounts cannot exist.
func Cost(price, quantity int64) int64 {
	return price * TickUnit * quantity
}

// TickKey renders a price tick the way book snapshots key their levels.
func TickKey(price int64) string {
	return strconv.FormatInt(price, 10)
}

// OrderKind distinguishes how a resting order came to rest on the book.
type OrderKind string

const (
	// KindSell marks an explicit sell, backed by the seller's locked position.
	KindSell OrderKind = "sell"
	// KindMinted marks the un-owned complementary leg of a minted pair,
	// backed by the minting buyer's locked cash.
	KindMinted OrderKind = "minted"
)

// Account holds a user's cash balance in currency subunits, split into the
// spendable part and the part locked against open commitments.
type Account struct {
	UserID string `json:"userId"`
	Cash   int64  `json:"balance"`
	Locked int64  `json:"locked"`
}

// PositionAmounts is the quantity view of one side of one event contract.
type PositionAmounts struct {
	Quantity int64 `json:"quantity"`
	Locked   int64 `json:"locked"`
}

// EventPosition holds a user's YES and NO quantities for a single event.
type EventPosition struct {
	Yes PositionAmounts `json:"yes"`
	No  PositionAmounts `json:"no"`
}

// Side returns the amounts for the given side.
func (p EventPosition) Side(s Side) PositionAmounts {
	if s == SideYes {
		return p.Yes
	}
	return p.No
}

// Trade is the immutable record of one fill. Price is the effective tick the
// buyer paid for their side; the counterparty's leg completes the pair at
// ComplementTick(Price).
type Trade struct {
	ID        string    `json:"id"`
	EventID   string    `json:"eventId"`
	Side      Side      `json:"side"`
	Price     int64     `json:"price"`
	Quantity  int64     `json:"quantity"`
	BuyerID   string    `json:"buyerId"`
	SellerID  string    `json:"sellerId"`
	Timestamp time.Time `json:"timestamp"`
}

// TradeRecord is the trade-log projection of a Trade, with money in decimal
// currency units for the NUMERIC columns of the external store.
type TradeRecord struct {
	ID        string          `json:"id" db:"id"`
	EventID   string          `json:"event_id" db:"event_id"`
	Side      Side            `json:"side" db:"side"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	Notional  decimal.Decimal `json:"notional" db:"notional"`
	BuyerID   string          `json:"buyer_id" db:"buyer_id"`
	SellerID  string          `json:"seller_id" db:"seller_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// NewTradeRecord converts an engine Trade into its trade-log projection.
// The single place integer subunits become decimal currency units.
func NewTradeRecord(t Trade) TradeRecord {
	unit := decimal.NewFromInt(TickUnit)
	notional := decimal.NewFromInt(Cost(t.Price, t.Quantity)).Div(unit)
	return TradeRecord{
		ID:        t.ID,
		EventID:   t.EventID,
		Side:      t.Side,
		Price:     decimal.NewFromInt(t.Price),
		Quantity:  t.Quantity,
		Notional:  notional,
		BuyerID:   t.BuyerID,
		SellerID:  t.SellerID,
		Timestamp: t.Timestamp,
	}
}

// OrderView is one resting order as exposed in book snapshots. Slice order
// within a level is FIFO arrival order — a guaranteed property, not an
// accident of map iteration.
type OrderView struct {
	UserID   string    `json:"userId"`
	Kind     OrderKind `json:"type"`
	Quantity int64     `json:"quantity"`
}

// LevelView is one price level as exposed in book snapshots.
type LevelView struct {
	Total  int64       `json:"total"`
	Orders []OrderView `json:"orders"`
}

// SideView maps price tick (rendered by TickKey) to its level.
type SideView map[string]LevelView

// BookSnapshot is the JSON shape published on book-delta broadcasts and
// returned by getBook.
type BookSnapshot struct {
	EventID string   `json:"eventId"`
	Yes     SideView `json:"yes"`
	No      SideView `json:"no"`
}
