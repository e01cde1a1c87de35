// Package strategy holds trading strategies driven by session time events.
package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/atmx/session-engine/internal/model"
	"github.com/atmx/session-engine/internal/order"
)

// Strategy decides on orders when the session calls it.
type Strategy interface {
	CalculateAndPlaceOrders(ctx context.Context) error
}

// Func adapts a function to Strategy.
type Func func(ctx context.Context) error

func (f Func) CalculateAndPlaceOrders(ctx context.Context) error { return f(ctx) }

// OrderPlacer accepts orders for execution.
type OrderPlacer interface {
	PlaceOrders(ctx context.Context, orders []model.Order) ([]model.Order, error)
}

// Rebalance holds fixed portfolio weights. On every call it trades each
// contract back to its weight unless the drift is within Tolerance, a
// fraction of the portfolio value.
type Rebalance struct {
	factory   *order.Factory
	placer    OrderPlacer
	weights   map[model.Contract]decimal.Decimal
	tolerance decimal.Decimal
	style     model.ExecutionStyle
	tif       model.TimeInForce
	logger    *slog.Logger
}

// NewRebalance creates a rebalancing strategy trading market DAY orders.
func NewRebalance(factory *order.Factory, placer OrderPlacer, weights map[model.Contract]decimal.Decimal,
	tolerance decimal.Decimal, logger *slog.Logger) *Rebalance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rebalance{
		factory:   factory,
		placer:    placer,
		weights:   weights,
		tolerance: tolerance,
		style:     model.MarketOrder{},
		tif:       model.DAY,
		logger:    logger,
	}
}

func (r *Rebalance) CalculateAndPlaceOrders(ctx context.Context) error {
	orders, err := r.factory.TargetPercentOrders(ctx, r.weights, r.style, r.tif, r.tolerance)
	if err != nil {
		return fmt.Errorf("strategy: rebalance: %w", err)
	}
	if len(orders) == 0 {
		return nil
	}
	placed, err := r.placer.PlaceOrders(ctx, orders)
	if err != nil {
		return fmt.Errorf("strategy: place orders: %w", err)
	}
	r.logger.Info("rebalance orders placed", "orders", len(placed))
	return nil
}
