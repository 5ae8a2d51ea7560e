// Package book owns, per event, the two sides of resting orders organized
// into price levels. Each level is an explicit FIFO queue — insertion order
// is a first-class property of the structure, never map iteration order.
// Pure data plus mutators; no I/O.
package book

import (
	"errors"
	"fmt"
	"sort"

	"github.com/opinex/exchange-engine/internal/model"
)

var (
	// ErrOrderNotFound is returned when a cancel names no matching resting order.
	ErrOrderNotFound = errors.New("book: resting order not found")

	// ErrEventNotFound is returned when an operation names an event with no book.
	ErrEventNotFound = errors.New("book: event not found")
)

// RestingOrder is one entry in a price level's FIFO queue.
type RestingOrder struct {
	UserID   string
	Quantity int64
	Kind     model.OrderKind
}

// Fill records how much was taken from one resting order, in FIFO order.
type Fill struct {
	UserID   string
	Quantity int64
	Kind     model.OrderKind
}

// priceLevel keeps its orders in arrival order; total always equals the sum
// of the queue's quantities.
type priceLevel struct {
	total  int64
	orders []RestingOrder
}

// sideBook maps price tick to level. Level iteration always goes through
// sortedTicks for deterministic ascending order.
type sideBook map[int64]*priceLevel

func (sb sideBook) sortedTicks() []int64 {
	ticks := make([]int64, 0, len(sb))
	for t := range sb {
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks
}

type eventBook struct {
	yes sideBook
	no  sideBook
}

func newEventBook() *eventBook {
	return &eventBook{yes: make(sideBook), no: make(sideBook)}
}

func (eb *eventBook) side(s model.Side) sideBook {
	if s == model.SideYes {
		return eb.yes
	}
	return eb.no
}

// OrderBook is the exclusive owner of all resting-order state, one book per
// event.
type OrderBook struct {
	events map[string]*eventBook
}

// New creates an empty order book registry.
func New() *OrderBook {
	return &OrderBook{events: make(map[string]*eventBook)}
}

// Ensure creates the event's book if absent and reports whether it already
// existed. Events come into being explicitly or on first reference.
func (b *OrderBook) Ensure(eventID string) bool {
	if _, ok := b.events[eventID]; ok {
		return true
	}
	b.events[eventID] = newEventBook()
	return false
}

// Exists reports whether the event has a book.
func (b *OrderBook) Exists(eventID string) bool {
	_, ok := b.events[eventID]
	return ok
}

// Events returns all event IDs in stable order.
func (b *OrderBook) Events() []string {
	ids := make([]string, 0, len(b.events))
	for id := range b.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BestLevel returns the lowest-price non-empty level of one side, or ok=false
// when the side is empty.
func (b *OrderBook) BestLevel(eventID string, side model.Side) (price int64, total int64, ok bool) {
	eb, exists := b.events[eventID]
	if !exists {
		return 0, 0, false
	}
	sb := eb.side(side)
	ticks := sb.sortedTicks()
	if len(ticks) == 0 {
		return 0, 0, false
	}
	best := ticks[0]
	return best, sb[best].total, true
}

// LevelTotal returns the total quantity resting at one price, or ok=false
// when no such level exists. Empty levels never exist.
func (b *OrderBook) LevelTotal(eventID string, side model.Side, price int64) (int64, bool) {
	eb, exists := b.events[eventID]
	if !exists {
		return 0, false
	}
	lvl, ok := eb.side(side)[price]
	if !ok {
		return 0, false
	}
	return lvl.total, true
}

// Append adds a resting order to the tail of the level's FIFO queue,
// creating the level (and the event's book) if absent.
func (b *OrderBook) Append(eventID string, side model.Side, price int64, userID string, qty int64, kind model.OrderKind) {
	b.Ensure(eventID)
	sb := b.events[eventID].side(side)
	lvl, ok := sb[price]
	if !ok {
		lvl = &priceLevel{}
		sb[price] = lvl
	}
	lvl.orders = append(lvl.orders, RestingOrder{UserID: userID, Quantity: qty, Kind: kind})
	lvl.total += qty
}

// Consume removes up to qty units from the FIFO head of the level, splitting
// a partially-taken head order, dropping exhausted orders, and deleting the
// level when it empties. The returned fills, in FIFO order, drive
// per-counterparty trade generation and settlement.
func (b *OrderBook) Consume(eventID string, side model.Side, price int64, qty int64) []Fill {
	eb, exists := b.events[eventID]
	if !exists {
		return nil
	}
	sb := eb.side(side)
	lvl, ok := sb[price]
	if !ok {
		return nil
	}

	var fills []Fill
	remaining := qty
	for remaining > 0 && len(lvl.orders) > 0 {
		head := &lvl.orders[0]
		take := head.Quantity
		if take > remaining {
			take = remaining
		}
		fills = append(fills, Fill{UserID: head.UserID, Quantity: take, Kind: head.Kind})
		head.Quantity -= take
		lvl.total -= take
		remaining -= take
		if head.Quantity == 0 {
			lvl.orders = lvl.orders[1:]
		}
	}
	if lvl.total == 0 {
		delete(sb, price)
	}
	return fills
}

// Find returns the quantity and kind of the front-most resting order owned
// by userID at the level. Used to pre-validate a cancel before any mutation.
func (b *OrderBook) Find(eventID string, side model.Side, price int64, userID string) (int64, model.OrderKind, error) {
	eb, exists := b.events[eventID]
	if !exists {
		return 0, "", fmt.Errorf("%w: %s", ErrOrderNotFound, eventID)
	}
	lvl, ok := eb.side(side)[price]
	if !ok {
		return 0, "", fmt.Errorf("%w: no level at tick %d", ErrOrderNotFound, price)
	}
	for i := range lvl.orders {
		if lvl.orders[i].UserID == userID {
			return lvl.orders[i].Quantity, lvl.orders[i].Kind, nil
		}
	}
	return 0, "", fmt.Errorf("%w: user %s has no order at tick %d", ErrOrderNotFound, userID, price)
}

// Cancel removes up to qty units of one user's resting order at the level,
// front-most entry first, and returns the amount removed and the kind of the
// cancelled order. The level is deleted if it empties.
func (b *OrderBook) Cancel(eventID string, side model.Side, price int64, userID string, qty int64) (int64, model.OrderKind, error) {
	eb, exists := b.events[eventID]
	if !exists {
		return 0, "", fmt.Errorf("%w: %s", ErrOrderNotFound, eventID)
	}
	sb := eb.side(side)
	lvl, ok := sb[price]
	if !ok {
		return 0, "", fmt.Errorf("%w: no level at tick %d", ErrOrderNotFound, price)
	}

	idx := -1
	for i := range lvl.orders {
		if lvl.orders[i].UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, "", fmt.Errorf("%w: user %s has no order at tick %d", ErrOrderNotFound, userID, price)
	}

	order := &lvl.orders[idx]
	kind := order.Kind
	removed := order.Quantity
	if removed > qty {
		removed = qty
	}
	order.Quantity -= removed
	lvl.total -= removed
	if order.Quantity == 0 {
		lvl.orders = append(lvl.orders[:idx], lvl.orders[idx+1:]...)
	}
	if lvl.total == 0 {
		delete(sb, price)
	}
	return removed, kind, nil
}

// Snapshot returns the JSON-facing view of one event's book. The orders
// slice inside each level preserves FIFO order.
func (b *OrderBook) Snapshot(eventID string) (model.BookSnapshot, error) {
	eb, exists := b.events[eventID]
	if !exists {
		return model.BookSnapshot{}, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	snap := model.BookSnapshot{
		EventID: eventID,
		Yes:     sideSnapshot(eb.yes),
		No:      sideSnapshot(eb.no),
	}
	return snap, nil
}

func sideSnapshot(sb sideBook) model.SideView {
	view := make(model.SideView, len(sb))
	for tick, lvl := range sb {
		orders := make([]model.OrderView, len(lvl.orders))
		for i, o := range lvl.orders {
			orders[i] = model.OrderView{UserID: o.UserID, Kind: o.Kind, Quantity: o.Quantity}
		}
		view[model.TickKey(tick)] = model.LevelView{Total: lvl.total, Orders: orders}
	}
	return view
}

// Reset wipes every event's book.
func (b *OrderBook) Reset() {
	b.events = make(map[string]*eventBook)
}
