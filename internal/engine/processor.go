package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opinex/exchange-engine/internal/book"
	"github.com/opinex/exchange-engine/internal/bus"
	"github.com/opinex/exchange-engine/internal/command"
	"github.com/opinex/exchange-engine/internal/contract"
	"github.com/opinex/exchange-engine/internal/ledger"
	"github.com/opinex/exchange-engine/internal/metrics"
	"github.com/opinex/exchange-engine/internal/model"
	"github.com/opinex/exchange-engine/internal/store"
)

// Processor is the single consumer of the command queue. All state
// mutations happen on its goroutine, which is what makes the ledger and
// book safe without locks: commands are applied strictly one at a time,
// in arrival order.
type Processor struct {
	engine *Engine
	bus    bus.Bus
	trades store.Store
	logger *slog.Logger
}

// NewProcessor wires the processor. trades may be nil when no trade log is
// configured.
func NewProcessor(e *Engine, b bus.Bus, trades store.Store, logger *slog.Logger) *Processor {
	return &Processor{engine: e, bus: b, trades: trades, logger: logger}
}

// Run consumes commands until the context ends. A transport failure is
// fatal: the processor cannot tell a lost payload from a delayed one, and
// continuing would silently drop client commands.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("command processor started")
	for {
		raw, err := p.bus.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("command processor stopped")
				return nil
			}
			return fmt.Errorf("command queue pop: %w", err)
		}
		p.process(ctx, raw)
	}
}

func (p *Processor) process(ctx context.Context, raw []byte) {
	start := time.Now()
	dec, err := command.Decode(raw)
	if err != nil {
		p.logger.Warn("rejecting malformed command",
			"type", dec.Type, "request_id", dec.RequestID, "err", err)
		metrics.CommandsTotal.WithLabelValues(orUnknown(dec.Type), "invalid").Inc()
		p.reply(ctx, dec.Type, dec.RequestID, nil, err)
		return
	}

	result, opErr := p.apply(ctx, dec.Op)
	status := "ok"
	if opErr != nil {
		status = "rejected"
		if errors.Is(opErr, ledger.ErrInvariant) {
			// An invariant breach means a bookkeeping bug, not a bad
			// request. Surface it loudly but keep draining the queue.
			p.logger.Error("ledger invariant violated",
				"type", dec.Type, "request_id", dec.RequestID, "err", opErr)
		} else {
			p.logger.Warn("command rejected",
				"type", dec.Type, "request_id", dec.RequestID, "err", opErr)
		}
	}
	metrics.CommandsTotal.WithLabelValues(dec.Type, status).Inc()
	metrics.CommandLatency.WithLabelValues(dec.Type).Observe(time.Since(start).Seconds())

	p.reply(ctx, dec.Type, dec.RequestID, result, opErr)
	if opErr == nil && result != nil && result.broadcastEvent != "" {
		p.broadcast(ctx, result.broadcastEvent)
	}
}

// applyResult carries a command's reply payload plus the event whose book
// changed, if any.
type applyResult struct {
	payload        any
	broadcastEvent string
}

// orderResult is the reply payload for placeBuy, placeSell, and cancel.
type orderResult struct {
	Trades   []model.Trade      `json:"trades,omitempty"`
	Minted   int64              `json:"minted,omitempty"`
	Canceled int64              `json:"canceled,omitempty"`
	Book     model.BookSnapshot `json:"book"`
}

func (p *Processor) apply(ctx context.Context, op command.Op) (*applyResult, error) {
	l := p.engine.Ledger()
	b := p.engine.Book()

	switch c := op.(type) {
	case command.CreateEvent:
		if err := contract.Validate(c.EventID); err != nil {
			return nil, err
		}
		if b.Ensure(c.EventID) {
			p.logger.Info("event created", "event", c.EventID)
		}
		metrics.ActiveEvents.Set(float64(len(b.Events())))
		return &applyResult{payload: p.snapshot(c.EventID), broadcastEvent: c.EventID}, nil

	case command.RegisterUser:
		l.Register(c.UserID)
		acct, err := l.Account(c.UserID)
		if err != nil {
			return nil, err
		}
		return &applyResult{payload: acct}, nil

	case command.Deposit:
		if c.Amount <= 0 {
			return nil, fmt.Errorf("deposit amount must be positive, got %d", c.Amount)
		}
		if err := l.Credit(c.UserID, c.Amount); err != nil {
			return nil, err
		}
		acct, _ := l.Account(c.UserID)
		return &applyResult{payload: acct}, nil

	case command.MintPair:
		if err := p.engine.MintPair(c.UserID, c.EventID, c.Quantity); err != nil {
			return nil, err
		}
		metrics.PairsMinted.Add(float64(c.Quantity))
		acct, _ := l.Account(c.UserID)
		return &applyResult{payload: acct, broadcastEvent: c.EventID}, nil

	case command.PlaceBuy:
		trades, minted, err := p.engine.PlaceBuy(c.UserID, c.EventID, c.Side, c.Price, c.Quantity)
		if err != nil {
			return nil, err
		}
		for _, t := range trades {
			metrics.TradesTotal.WithLabelValues(string(t.Side)).Inc()
			p.logTrade(ctx, t)
		}
		return &applyResult{
			payload:        orderResult{Trades: trades, Minted: minted, Book: p.snapshot(c.EventID)},
			broadcastEvent: c.EventID,
		}, nil

	case command.PlaceSell:
		if err := p.engine.PlaceSell(c.UserID, c.EventID, c.Side, c.Price, c.Quantity); err != nil {
			return nil, err
		}
		return &applyResult{
			payload:        orderResult{Book: p.snapshot(c.EventID)},
			broadcastEvent: c.EventID,
		}, nil

	case command.Cancel:
		removed, err := p.engine.Cancel(c.UserID, c.EventID, c.Side, c.Price, c.Quantity)
		if err != nil {
			return nil, err
		}
		return &applyResult{
			payload:        orderResult{Canceled: removed, Book: p.snapshot(c.EventID)},
			broadcastEvent: c.EventID,
		}, nil

	case command.GetBalance:
		acct, err := l.Account(c.UserID)
		if err != nil {
			return nil, err
		}
		return &applyResult{payload: acct}, nil

	case command.GetPositions:
		positions, err := l.Positions(c.UserID)
		if err != nil {
			return nil, err
		}
		return &applyResult{payload: positions}, nil

	case command.GetBook:
		if !b.Exists(c.EventID) {
			return nil, fmt.Errorf("event %s: %w", c.EventID, book.ErrEventNotFound)
		}
		return &applyResult{payload: p.snapshot(c.EventID)}, nil

	case command.ResetAll:
		l.Reset()
		b.Reset()
		if p.trades != nil {
			if err := p.trades.Reset(ctx); err != nil {
				p.logger.Warn("trade log reset failed", "err", err)
			}
		}
		metrics.ActiveEvents.Set(0)
		p.logger.Info("engine state reset")
		return &applyResult{payload: map[string]string{"status": "ok"}}, nil
	}

	return nil, fmt.Errorf("%w", command.ErrUnknownCommand)
}

// snapshot reads one event's book view, falling back to an empty book when
// the event has no state yet.
func (p *Processor) snapshot(eventID string) model.BookSnapshot {
	snap, err := p.engine.Book().Snapshot(eventID)
	if err != nil {
		return model.BookSnapshot{EventID: eventID, Yes: model.SideView{}, No: model.SideView{}}
	}
	return snap
}

// reply publishes the correlated answer on reply.{type}. Delivery failures
// are logged, not propagated: the state change already happened.
func (p *Processor) reply(ctx context.Context, cmdType, requestID string, result *applyResult, opErr error) {
	out := struct {
		RequestID string `json:"requestId"`
		Error     bool   `json:"error"`
		Msg       string `json:"msg"`
	}{RequestID: requestID}

	if opErr != nil {
		out.Error = true
		out.Msg = opErr.Error()
	} else if result != nil && result.payload != nil {
		msg, err := json.Marshal(result.payload)
		if err != nil {
			p.logger.Error("reply payload marshal failed", "type", cmdType, "err", err)
			out.Error = true
			out.Msg = "internal: reply encoding failed"
		} else {
			out.Msg = string(msg)
		}
	}

	payload, err := json.Marshal(out)
	if err != nil {
		p.logger.Error("reply marshal failed", "type", cmdType, "err", err)
		return
	}
	channel := "reply." + orUnknown(cmdType)
	if err := p.bus.Publish(ctx, channel, payload); err != nil {
		p.logger.Warn("reply publish failed", "channel", channel, "err", err)
	}
}

// broadcast pushes the event's current book to book.{eventId}.
func (p *Processor) broadcast(ctx context.Context, eventID string) {
	snap := p.snapshot(eventID)
	payload, err := json.Marshal(snap)
	if err != nil {
		p.logger.Error("book snapshot marshal failed", "event", eventID, "err", err)
		return
	}
	if err := p.bus.Publish(ctx, "book."+eventID, payload); err != nil {
		p.logger.Warn("book broadcast failed", "event", eventID, "err", err)
	}
}

// logTrade appends to the trade log best-effort. Matching is already done;
// a persistence hiccup must not fail the command.
func (p *Processor) logTrade(ctx context.Context, t model.Trade) {
	if p.trades == nil {
		return
	}
	rec := model.NewTradeRecord(t)
	if err := p.trades.InsertTrade(ctx, &rec); err != nil {
		p.logger.Warn("trade log insert failed", "trade", t.ID, "err", err)
	}
}

func orUnknown(cmdType string) string {
	if cmdType == "" {
		return "unknown"
	}
	return cmdType
}
