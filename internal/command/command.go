// Package command defines the wire envelope carried on the command queue and
// its decoding into a closed set of typed operations. Payloads are decoded
// exactly once, at the queue boundary; the processor dispatches on the
// resulting types exhaustively.
package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opinex/exchange-engine/internal/model"
)

// ErrUnknownCommand is returned for a type outside the command vocabulary.
var ErrUnknownCommand = errors.New("command: unknown command type")

// Command type vocabulary, as carried in Envelope.Type.
const (
	TypeCreateEvent  = "createEvent"
	TypeRegisterUser = "registerUser"
	TypeDeposit      = "deposit"
	TypeMintPair     = "mintPair"
	TypePlaceBuy     = "placeBuy"
	TypePlaceSell    = "placeSell"
	TypeCancel       = "cancel"
	TypeGetBalance   = "getBalance"
	TypeGetPositions = "getPositions"
	TypeGetBook      = "getBook"
	TypeResetAll     = "resetAll"
)

// Envelope is the raw queue payload. Data stays opaque until Decode.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"requestId"`
}

// Op is one decoded operation. The set of implementations is closed; the
// processor's type switch covers every variant.
type Op interface {
	isOp()
}

// CreateEvent opens a book for a new event contract.
type CreateEvent struct {
	EventID string `json:"eventId"`
}

// RegisterUser creates an account with zero balances.
type RegisterUser struct {
	UserID string `json:"userId"`
}

// Deposit credits cash, in currency subunits.
type Deposit struct {
	UserID string `json:"userId"`
	Amount int64  `json:"amount"`
}

// MintPair mints equal YES and NO quantity against the user's cash.
type MintPair struct {
	UserID   string `json:"userId"`
	EventID  string `json:"eventId"`
	Quantity int64  `json:"quantity"`
}

// PlaceBuy is a taker order intent; Price is the maximum tick per unit.
type PlaceBuy struct {
	UserID   string     `json:"userId"`
	EventID  string     `json:"eventId"`
	Side     model.Side `json:"side"`
	Price    int64      `json:"price"`
	Quantity int64      `json:"quantity"`
}

// PlaceSell rests position on the book; always passive.
type PlaceSell struct {
	UserID   string     `json:"userId"`
	EventID  string     `json:"eventId"`
	Side     model.Side `json:"side"`
	Price    int64      `json:"price"`
	Quantity int64      `json:"quantity"`
}

// Cancel removes up to Quantity from the user's resting order at the level.
type Cancel struct {
	UserID   string     `json:"userId"`
	EventID  string     `json:"eventId"`
	Side     model.Side `json:"side"`
	Price    int64      `json:"price"`
	Quantity int64      `json:"quantity"`
}

// GetBalance reads the user's cash balances.
type GetBalance struct {
	UserID string `json:"userId"`
}

// GetPositions reads all of the user's contract positions.
type GetPositions struct {
	UserID string `json:"userId"`
}

// GetBook reads one event's book snapshot.
type GetBook struct {
	EventID string `json:"eventId"`
}

// ResetAll wipes every account, position, and book.
type ResetAll struct{}

func (CreateEvent) isOp()  {}
func (RegisterUser) isOp() {}
func (Deposit) isOp()      {}
func (MintPair) isOp()     {}
func (PlaceBuy) isOp()     {}
func (PlaceSell) isOp()    {}
func (Cancel) isOp()       {}
func (GetBalance) isOp()   {}
func (GetPositions) isOp() {}
func (GetBook) isOp()      {}
func (ResetAll) isOp()     {}

// Decoded is a fully parsed command ready for dispatch.
type Decoded struct {
	Type      string
	RequestID string
	Op        Op
}

// Decode parses a raw queue payload into a typed command. Side fields are
// validated here so the engine only ever sees well-formed intents.
func Decode(raw []byte) (Decoded, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Decoded{}, fmt.Errorf("command: malformed envelope: %w", err)
	}

	var op Op
	var err error
	switch env.Type {
	case TypeCreateEvent:
		op, err = unmarshalOp[CreateEvent](env.Data)
	case TypeRegisterUser:
		op, err = unmarshalOp[RegisterUser](env.Data)
	case TypeDeposit:
		op, err = unmarshalOp[Deposit](env.Data)
	case TypeMintPair:
		op, err = unmarshalOp[MintPair](env.Data)
	case TypePlaceBuy:
		op, err = unmarshalOrder[PlaceBuy](env.Data)
	case TypePlaceSell:
		op, err = unmarshalOrder[PlaceSell](env.Data)
	case TypeCancel:
		op, err = unmarshalOrder[Cancel](env.Data)
	case TypeGetBalance:
		op, err = unmarshalOp[GetBalance](env.Data)
	case TypeGetPositions:
		op, err = unmarshalOp[GetPositions](env.Data)
	case TypeGetBook:
		op, err = unmarshalOp[GetBook](env.Data)
	case TypeResetAll:
		op = ResetAll{}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}
	if err != nil {
		// Keep the envelope fields so the caller can still reply with the
		// failure under the right request ID.
		return Decoded{Type: env.Type, RequestID: env.RequestID}, err
	}
	return Decoded{Type: env.Type, RequestID: env.RequestID, Op: op}, nil
}

func unmarshalOp[T Op](data json.RawMessage) (Op, error) {
	var op T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &op); err != nil {
			return nil, fmt.Errorf("command: malformed payload: %w", err)
		}
	}
	return op, nil
}

type sided interface {
	Op
	side() model.Side
}

func (o PlaceBuy) side() model.Side  { return o.Side }
func (o PlaceSell) side() model.Side { return o.Side }
func (o Cancel) side() model.Side    { return o.Side }

func unmarshalOrder[T sided](data json.RawMessage) (Op, error) {
	op, err := unmarshalOp[T](data)
	if err != nil {
		return nil, err
	}
	if s := op.(sided).side(); !s.Valid() {
		return nil, fmt.Errorf("command: invalid side %q", s)
	}
	return op, nil
}

// Encode builds the raw queue payload for an operation. The inverse of
// Decode, used by the gateway and the seeder.
func Encode(requestID string, op Op) ([]byte, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}
	env := Envelope{Type: TypeOf(op), Data: data, RequestID: requestID}
	return json.Marshal(env)
}

// TypeOf returns the wire type string for an operation.
func TypeOf(op Op) string {
	switch op.(type) {
	case CreateEvent:
		return TypeCreateEvent
	case RegisterUser:
		return TypeRegisterUser
	case Deposit:
		return TypeDeposit
	case MintPair:
		return TypeMintPair
	case PlaceBuy:
		return TypePlaceBuy
	case PlaceSell:
		return TypePlaceSell
	case Cancel:
		return TypeCancel
	case GetBalance:
		return TypeGetBalance
	case GetPositions:
		return TypeGetPositions
	case GetBook:
		return TypeGetBook
	case ResetAll:
		return TypeResetAll
	}
	return ""
}
