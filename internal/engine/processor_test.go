package engine_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opinex/exchange-engine/internal/book"
	"github.com/opinex/exchange-engine/internal/bus"
	"github.com/opinex/exchange-engine/internal/command"
	"github.com/opinex/exchange-engine/internal/engine"
	"github.com/opinex/exchange-engine/internal/ledger"
	"github.com/opinex/exchange-engine/internal/model"
	"github.com/opinex/exchange-engine/internal/store"
)

const demoEvent = "BTC_USDT_25_Dec_2026_14_30"

type procEnv struct {
	bus     *bus.Memory
	store   *store.MemoryStore
	replies <-chan bus.Message
	books   <-chan bus.Message
	cancel  context.CancelFunc
}

type reply struct {
	RequestID string `json:"requestId"`
	Error     bool   `json:"error"`
	Msg       string `json:"msg"`
}

func newProcEnv(t *testing.T) *procEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	fabric := bus.NewMemory(64)
	replies, err := fabric.Subscribe(ctx, "reply.*")
	if err != nil {
		t.Fatalf("subscribe replies: %v", err)
	}
	books, err := fabric.Subscribe(ctx, "book.*")
	if err != nil {
		t.Fatalf("subscribe books: %v", err)
	}

	st := store.NewMemoryStore()
	l := ledger.New()
	b := book.New()
	proc := engine.NewProcessor(engine.New(l, b), fabric, st,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	go proc.Run(ctx)

	return &procEnv{bus: fabric, store: st, replies: replies, books: books, cancel: cancel}
}

// do pushes one command and returns its correlated reply.
func (e *procEnv) do(t *testing.T, op command.Op) reply {
	t.Helper()
	requestID := uuid.New().String()
	payload, err := command.Encode(requestID, op)
	if err != nil {
		t.Fatalf("encode %s: %v", command.TypeOf(op), err)
	}
	if err := e.bus.Push(context.Background(), payload); err != nil {
		t.Fatalf("push %s: %v", command.TypeOf(op), err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-e.replies:
			var r reply
			if err := json.Unmarshal(msg.Payload, &r); err != nil {
				t.Fatalf("malformed reply on %s: %v", msg.Channel, err)
			}
			if r.RequestID == requestID {
				if want := "reply." + command.TypeOf(op); msg.Channel != want {
					t.Errorf("reply arrived on %s, want %s", msg.Channel, want)
				}
				return r
			}
		case <-deadline:
			t.Fatalf("no reply for %s", command.TypeOf(op))
		}
	}
}

func (e *procEnv) mustOK(t *testing.T, op command.Op) reply {
	t.Helper()
	r := e.do(t, op)
	if r.Error {
		t.Fatalf("%s rejected: %s", command.TypeOf(op), r.Msg)
	}
	return r
}

// rawReply pushes one command and returns the reply's decoded JSON fields,
// without assuming anything about their types.
func (e *procEnv) rawReply(t *testing.T, op command.Op) map[string]any {
	t.Helper()
	requestID := uuid.New().String()
	payload, err := command.Encode(requestID, op)
	if err != nil {
		t.Fatalf("encode %s: %v", command.TypeOf(op), err)
	}
	if err := e.bus.Push(context.Background(), payload); err != nil {
		t.Fatalf("push %s: %v", command.TypeOf(op), err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-e.replies:
			var fields map[string]any
			if err := json.Unmarshal(msg.Payload, &fields); err != nil {
				t.Fatalf("malformed reply on %s: %v", msg.Channel, err)
			}
			if fields["requestId"] == requestID {
				return fields
			}
		case <-deadline:
			t.Fatalf("no reply for %s", command.TypeOf(op))
		}
	}
}

// The reply envelope is {requestId, error, msg} with error a boolean and
// msg a string on both the success and the failure path.
func TestProcessor_ReplyEnvelopeShape(t *testing.T) {
	e := newProcEnv(t)
	e.mustOK(t, command.RegisterUser{UserID: "u1"})

	fields := e.rawReply(t, command.GetBalance{UserID: "u1"})
	errField, ok := fields["error"].(bool)
	if !ok {
		t.Fatalf("error must be a JSON boolean, got %T", fields["error"])
	}
	if errField {
		t.Errorf("successful command must reply error=false, got %+v", fields)
	}
	if msg, ok := fields["msg"].(string); !ok || msg == "" {
		t.Errorf("successful reply must carry a JSON payload in msg, got %+v", fields)
	}

	fields = e.rawReply(t, command.GetBalance{UserID: "ghost"})
	errField, ok = fields["error"].(bool)
	if !ok {
		t.Fatalf("error must be a JSON boolean, got %T", fields["error"])
	}
	if !errField {
		t.Errorf("rejected command must reply error=true, got %+v", fields)
	}
	if msg, ok := fields["msg"].(string); !ok || !strings.Contains(msg, "not found") {
		t.Errorf("rejection must carry the failure text in msg, got %+v", fields)
	}
}

func TestProcessor_RegisterDepositBalance(t *testing.T) {
	e := newProcEnv(t)

	e.mustOK(t, command.RegisterUser{UserID: "u1"})
	e.mustOK(t, command.Deposit{UserID: "u1", Amount: 5000})

	r := e.mustOK(t, command.GetBalance{UserID: "u1"})
	var acct model.Account
	if err := json.Unmarshal([]byte(r.Msg), &acct); err != nil {
		t.Fatalf("bad balance payload: %v", err)
	}
	if acct.Cash != 5000 || acct.Locked != 0 {
		t.Errorf("expected balance 5000/0, got %d/%d", acct.Cash, acct.Locked)
	}
}

func TestProcessor_DepositRejections(t *testing.T) {
	e := newProcEnv(t)
	e.mustOK(t, command.RegisterUser{UserID: "u1"})

	if r := e.do(t, command.Deposit{UserID: "ghost", Amount: 100}); !r.Error {
		t.Errorf("deposit to unregistered user must be rejected")
	}
	if r := e.do(t, command.Deposit{UserID: "u1", Amount: 0}); !r.Error {
		t.Errorf("zero deposit must be rejected")
	}
	if r := e.do(t, command.Deposit{UserID: "u1", Amount: -5}); !r.Error {
		t.Errorf("negative deposit must be rejected")
	}
}

func TestProcessor_CreateEventValidatesSymbol(t *testing.T) {
	e := newProcEnv(t)

	if r := e.do(t, command.CreateEvent{EventID: "not a symbol"}); !r.Error {
		t.Errorf("malformed event symbol must be rejected")
	}
	r := e.mustOK(t, command.CreateEvent{EventID: demoEvent})
	var snap model.BookSnapshot
	if err := json.Unmarshal([]byte(r.Msg), &snap); err != nil {
		t.Fatalf("bad book payload: %v", err)
	}
	if snap.EventID != demoEvent {
		t.Errorf("expected snapshot for %s, got %s", demoEvent, snap.EventID)
	}
}

func TestProcessor_OrderFlowWithBroadcasts(t *testing.T) {
	e := newProcEnv(t)

	e.mustOK(t, command.RegisterUser{UserID: "u1"})
	e.mustOK(t, command.RegisterUser{UserID: "u2"})
	e.mustOK(t, command.Deposit{UserID: "u1", Amount: 50000})
	e.mustOK(t, command.Deposit{UserID: "u2", Amount: 50000})
	e.mustOK(t, command.CreateEvent{EventID: demoEvent})
	e.mustOK(t, command.MintPair{UserID: "u1", EventID: demoEvent, Quantity: 5})
	e.mustOK(t, command.PlaceSell{UserID: "u1", EventID: demoEvent, Side: model.SideYes, Price: 6, Quantity: 3})

	r := e.mustOK(t, command.PlaceBuy{UserID: "u2", EventID: demoEvent, Side: model.SideYes, Price: 6, Quantity: 2})
	var res struct {
		Trades []model.Trade      `json:"trades"`
		Minted int64              `json:"minted"`
		Book   model.BookSnapshot `json:"book"`
	}
	if err := json.Unmarshal([]byte(r.Msg), &res); err != nil {
		t.Fatalf("bad order payload: %v", err)
	}
	if len(res.Trades) != 1 || res.Trades[0].Quantity != 2 || res.Minted != 0 {
		t.Errorf("unexpected buy result: %+v", res)
	}
	lvl, ok := res.Book.Yes[model.TickKey(6)]
	if !ok || lvl.Total != 1 {
		t.Errorf("reply book must show 1 left at yes@6, got %+v", res.Book.Yes)
	}

	// Each book-changing command broadcast a snapshot; drain and inspect
	// the latest one.
	var last bus.Message
	count := 0
drain:
	for {
		select {
		case msg := <-e.books:
			last = msg
			count++
		case <-time.After(200 * time.Millisecond):
			break drain
		}
	}
	// createEvent, mintPair, placeSell, placeBuy all broadcast.
	if count != 4 {
		t.Errorf("expected 4 broadcasts, got %d", count)
	}
	if last.Channel != "book."+demoEvent {
		t.Errorf("broadcast on %s, want book.%s", last.Channel, demoEvent)
	}
	var snap model.BookSnapshot
	if err := json.Unmarshal(last.Payload, &snap); err != nil {
		t.Fatalf("bad broadcast payload: %v", err)
	}
	if lvl, ok := snap.Yes[model.TickKey(6)]; !ok || lvl.Total != 1 {
		t.Errorf("broadcast book must match reply book, got %+v", snap.Yes)
	}

	// The executed trade landed in the trade log.
	trades, err := e.store.TradesByEvent(context.Background(), demoEvent)
	if err != nil {
		t.Fatalf("trade log read failed: %v", err)
	}
	if len(trades) != 1 || trades[0].Quantity != 2 {
		t.Errorf("expected 1 logged trade of quantity 2, got %+v", trades)
	}
}

func TestProcessor_RejectedCommandDoesNotBroadcast(t *testing.T) {
	e := newProcEnv(t)
	e.mustOK(t, command.RegisterUser{UserID: "u1"})

	if r := e.do(t, command.PlaceBuy{UserID: "u1", EventID: demoEvent, Side: model.SideYes, Price: 6, Quantity: 2}); !r.Error {
		t.Fatalf("unfunded buy must be rejected")
	}

	select {
	case msg := <-e.books:
		t.Errorf("rejected command must not broadcast, got %s", msg.Channel)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestProcessor_GetPositionsAndBook(t *testing.T) {
	e := newProcEnv(t)
	e.mustOK(t, command.RegisterUser{UserID: "u1"})
	e.mustOK(t, command.Deposit{UserID: "u1", Amount: 50000})
	e.mustOK(t, command.CreateEvent{EventID: demoEvent})
	e.mustOK(t, command.MintPair{UserID: "u1", EventID: demoEvent, Quantity: 4})

	r := e.mustOK(t, command.GetPositions{UserID: "u1"})
	var positions map[string]model.EventPosition
	if err := json.Unmarshal([]byte(r.Msg), &positions); err != nil {
		t.Fatalf("bad positions payload: %v", err)
	}
	pos, ok := positions[demoEvent]
	if !ok || pos.Yes.Quantity != 4 || pos.No.Quantity != 4 {
		t.Errorf("expected 4/4 position, got %+v", positions)
	}

	if r := e.do(t, command.GetBook{EventID: "BTC_USDT_1_Jan_2027_0_0"}); !r.Error {
		t.Errorf("unknown event book read must be rejected")
	}
	e.mustOK(t, command.GetBook{EventID: demoEvent})

	// A mint on an event nobody createEvent'd still creates its book.
	mintOnly := "ETH_USDT_1_Jan_2027_0_0"
	e.mustOK(t, command.MintPair{UserID: "u1", EventID: mintOnly, Quantity: 2})
	e.mustOK(t, command.GetBook{EventID: mintOnly})
}

func TestProcessor_ResetAll(t *testing.T) {
	e := newProcEnv(t)
	e.mustOK(t, command.RegisterUser{UserID: "u1"})
	e.mustOK(t, command.Deposit{UserID: "u1", Amount: 50000})
	e.mustOK(t, command.CreateEvent{EventID: demoEvent})
	e.mustOK(t, command.ResetAll{})

	if r := e.do(t, command.GetBalance{UserID: "u1"}); !r.Error {
		t.Errorf("balances must be gone after reset")
	}
	if r := e.do(t, command.GetBook{EventID: demoEvent}); !r.Error {
		t.Errorf("books must be gone after reset")
	}
}

func TestProcessor_MalformedCommandStillReplies(t *testing.T) {
	e := newProcEnv(t)

	requestID := uuid.New().String()
	raw, _ := json.Marshal(map[string]any{
		"type":      "teleport",
		"data":      map[string]any{},
		"requestId": requestID,
	})
	if err := e.bus.Push(context.Background(), raw); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	select {
	case msg := <-e.replies:
		var r reply
		if err := json.Unmarshal(msg.Payload, &r); err != nil {
			t.Fatalf("malformed reply: %v", err)
		}
		if r.RequestID != requestID || !r.Error {
			t.Errorf("expected correlated error reply, got %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply for unknown command")
	}

	// The processor keeps draining after a bad command.
	e.mustOK(t, command.RegisterUser{UserID: "u1"})
}
