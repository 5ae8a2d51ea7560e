// Package seed loads a deterministic demo state through the command queue.
// Enabled with SEED=1; every mutation rides the same path client commands
// do, so the seeded state is exactly what a client session would produce.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/opinex/exchange-engine/internal/bus"
	"github.com/opinex/exchange-engine/internal/command"
	"github.com/opinex/exchange-engine/internal/model"
)

// DemoEvent is the event symbol the demo data trades.
const DemoEvent = "BTC_USDT_25_Dec_2026_14_30"

// Load enqueues the demo command stream: three funded users, one event,
// a minted inventory, and a resting YES offer with a partial taker.
func Load(ctx context.Context, queue bus.CommandQueue, logger *slog.Logger) error {
	ops := []command.Op{
		command.RegisterUser{UserID: "user1"},
		command.RegisterUser{UserID: "user2"},
		command.RegisterUser{UserID: "user3"},
		command.Deposit{UserID: "user1", Amount: 50000},
		command.Deposit{UserID: "user2", Amount: 50000},
		command.Deposit{UserID: "user3", Amount: 50000},
		command.CreateEvent{EventID: DemoEvent},
		command.MintPair{UserID: "user1", EventID: DemoEvent, Quantity: 10},
		command.PlaceSell{UserID: "user1", EventID: DemoEvent, Side: model.SideYes, Price: 6, Quantity: 5},
		command.PlaceBuy{UserID: "user2", EventID: DemoEvent, Side: model.SideYes, Price: 6, Quantity: 2},
		command.PlaceBuy{UserID: "user3", EventID: DemoEvent, Side: model.SideNo, Price: 3, Quantity: 4},
	}

	for _, op := range ops {
		payload, err := command.Encode(uuid.New().String(), op)
		if err != nil {
			return fmt.Errorf("seed encode %s: %w", command.TypeOf(op), err)
		}
		if err := queue.Push(ctx, payload); err != nil {
			return fmt.Errorf("seed push %s: %w", command.TypeOf(op), err)
		}
	}
	logger.Info("seed commands enqueued", "count", len(ops), "event", DemoEvent)
	return nil
}
