// Package ledger owns per-user cash balances and per-user/per-event contract
// positions, each split into available and locked amounts. Pure data plus
// invariant-preserving mutators; no I/O. The command processor is the sole
// caller, so no locking happens here.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/opinex/exchange-engine/internal/model"
)

var (
	// ErrInsufficientFunds is returned when a debit or lock exceeds the
	// user's available cash.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientPosition is returned when a position lock exceeds the
	// user's available contract quantity.
	ErrInsufficientPosition = errors.New("ledger: insufficient position")

	// ErrUserNotFound is returned when an operation names an unregistered user.
	ErrUserNotFound = errors.New("ledger: user not found")

	// ErrInvariant signals a caller bug: an unlock or settle larger than
	// what was locked. Fatal to the command, never to the process.
	ErrInvariant = errors.New("ledger: invariant violation")
)

// Ledger is the exclusive owner of all account and position state.
type Ledger struct {
	accounts  map[string]*model.Account
	positions map[string]map[string]*model.EventPosition // userID → eventID → position
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		accounts:  make(map[string]*model.Account),
		positions: make(map[string]map[string]*model.EventPosition),
	}
}

// Register creates an account with zero balances. Registering an existing
// user is a no-op so that replayed commands stay idempotent.
func (l *Ledger) Register(userID string) {
	if _, ok := l.accounts[userID]; ok {
		return
	}
	l.accounts[userID] = &model.Account{UserID: userID}
}

// Registered reports whether the user has an account.
func (l *Ledger) Registered(userID string) bool {
	_, ok := l.accounts[userID]
	return ok
}

// Account returns a copy of the user's account.
func (l *Ledger) Account(userID string) (model.Account, error) {
	acct, ok := l.accounts[userID]
	if !ok {
		return model.Account{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return *acct, nil
}

// --- Cash operations, all amounts in currency subunits ---

// Credit adds amount to the user's available cash.
func (l *Ledger) Credit(userID string, amount int64) error {
	acct, ok := l.accounts[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	acct.Cash += amount
	return nil
}

// Debit removes amount from the user's available cash.
func (l *Ledger) Debit(userID string, amount int64) error {
	acct, ok := l.accounts[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if amount > acct.Cash {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, amount, acct.Cash)
	}
	acct.Cash -= amount
	return nil
}

// Lock moves amount from available cash to locked cash.
func (l *Ledger) Lock(userID string, amount int64) error {
	acct, ok := l.accounts[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if amount > acct.Cash {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, amount, acct.Cash)
	}
	acct.Cash -= amount
	acct.Locked += amount
	return nil
}

// Unlock returns amount from locked cash to available cash.
func (l *Ledger) Unlock(userID string, amount int64) error {
	acct, ok := l.accounts[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if amount > acct.Locked {
		return fmt.Errorf("%w: unlock %d exceeds locked %d", ErrInvariant, amount, acct.Locked)
	}
	acct.Locked -= amount
	acct.Cash += amount
	return nil
}

// SettleLocked removes amount from locked cash permanently: the collateral
// has been paid out rather than returned.
func (l *Ledger) SettleLocked(userID string, amount int64) error {
	acct, ok := l.accounts[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if amount > acct.Locked {
		return fmt.Errorf("%w: settle %d exceeds locked %d", ErrInvariant, amount, acct.Locked)
	}
	acct.Locked -= amount
	return nil
}

// --- Position operations ---

// position returns the mutable entry, creating it lazily. Only mutators call
// this; reads must not create persistent state.
func (l *Ledger) position(userID, eventID string) *model.EventPosition {
	byEvent, ok := l.positions[userID]
	if !ok {
		byEvent = make(map[string]*model.EventPosition)
		l.positions[userID] = byEvent
	}
	pos, ok := byEvent[eventID]
	if !ok {
		pos = &model.EventPosition{}
		byEvent[eventID] = pos
	}
	return pos
}

func sideAmounts(pos *model.EventPosition, side model.Side) *model.PositionAmounts {
	if side == model.SideYes {
		return &pos.Yes
	}
	return &pos.No
}

// CreditPosition adds qty to the user's available quantity on one side.
func (l *Ledger) CreditPosition(userID, eventID string, side model.Side, qty int64) error {
	if !l.Registered(userID) {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	sideAmounts(l.position(userID, eventID), side).Quantity += qty
	return nil
}

// DebitPosition removes qty from the user's available quantity on one side.
func (l *Ledger) DebitPosition(userID, eventID string, side model.Side, qty int64) error {
	if !l.Registered(userID) {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	// Validate on the read view first: a rejected debit must not leave a
	// zero-value position entry behind.
	if have := l.Position(userID, eventID).Side(side).Quantity; qty > have {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientPosition, qty, have)
	}
	sideAmounts(l.position(userID, eventID), side).Quantity -= qty
	return nil
}

// LockPosition moves qty from available to locked on one side.
func (l *Ledger) LockPosition(userID, eventID string, side model.Side, qty int64) error {
	if !l.Registered(userID) {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if have := l.Position(userID, eventID).Side(side).Quantity; qty > have {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientPosition, qty, have)
	}
	amts := sideAmounts(l.position(userID, eventID), side)
	amts.Quantity -= qty
	amts.Locked += qty
	return nil
}

// UnlockPosition returns qty from locked to available on one side.
func (l *Ledger) UnlockPosition(userID, eventID string, side model.Side, qty int64) error {
	if !l.Registered(userID) {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if locked := l.Position(userID, eventID).Side(side).Locked; qty > locked {
		return fmt.Errorf("%w: unlock %d exceeds locked %d", ErrInvariant, qty, locked)
	}
	amts := sideAmounts(l.position(userID, eventID), side)
	amts.Locked -= qty
	amts.Quantity += qty
	return nil
}

// SettleLockedPosition removes qty from the locked quantity permanently:
// the contracts have been delivered to a counterparty.
func (l *Ledger) SettleLockedPosition(userID, eventID string, side model.Side, qty int64) error {
	if !l.Registered(userID) {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if locked := l.Position(userID, eventID).Side(side).Locked; qty > locked {
		return fmt.Errorf("%w: settle %d exceeds locked %d", ErrInvariant, qty, locked)
	}
	sideAmounts(l.position(userID, eventID), side).Locked -= qty
	return nil
}

// --- Read views ---

// Position returns a copy of the user's position on one event. Reading a
// nonexistent position yields a zero view without creating state.
func (l *Ledger) Position(userID, eventID string) model.EventPosition {
	if byEvent, ok := l.positions[userID]; ok {
		if pos, ok := byEvent[eventID]; ok {
			return *pos
		}
	}
	return model.EventPosition{}
}

// Positions returns copies of all of the user's positions keyed by event.
func (l *Ledger) Positions(userID string) (map[string]model.EventPosition, error) {
	if !l.Registered(userID) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	out := make(map[string]model.EventPosition)
	for eventID, pos := range l.positions[userID] {
		out[eventID] = *pos
	}
	return out, nil
}

// Users returns all registered user IDs in stable order.
func (l *Ledger) Users() []string {
	ids := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset wipes every account and position.
func (l *Ledger) Reset() {
	l.accounts = make(map[string]*model.Account)
	l.positions = make(map[string]map[string]*model.EventPosition)
}
