// Package broker is the session's single entry point for placing orders.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/session-engine/internal/metrics"
	"github.com/atmx/session-engine/internal/model"
	"github.com/atmx/session-engine/internal/portfolio"
	"github.com/atmx/session-engine/internal/risk"
	"github.com/atmx/session-engine/internal/timer"
)

// Executor holds orders until they are filled or cancelled.
type Executor interface {
	Accept(orders ...model.Order)
	Cancel(orderID string) error
	OpenOrders() []model.Order
}

// Broker places orders with an executor and reports the account state of
// a portfolio. It satisfies order.Broker.
type Broker struct {
	portfolio *portfolio.Portfolio
	exec      Executor
	prices    portfolio.PriceSource
	limiter   *risk.PositionLimiter
	clock     timer.Timer
	logger    *slog.Logger
}

// New creates a broker. A nil limiter disables pre-trade risk checks.
func New(p *portfolio.Portfolio, exec Executor, prices portfolio.PriceSource, limiter *risk.PositionLimiter, clock timer.Timer, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		portfolio: p,
		exec:      exec,
		prices:    prices,
		limiter:   limiter,
		clock:     clock,
		logger:    logger,
	}
}

// Positions returns the open positions.
func (b *Broker) Positions(ctx context.Context) ([]model.Position, error) {
	return b.portfolio.Positions(ctx)
}

// PortfolioValue returns cash plus marked positions.
func (b *Broker) PortfolioValue(ctx context.Context) (decimal.Decimal, error) {
	return b.portfolio.PortfolioValue(ctx)
}

// PlaceOrders stamps each order with an ID and the session time, drops the
// ones that break a position limit and hands the rest to the executor.
// It returns the accepted orders.
func (b *Broker) PlaceOrders(ctx context.Context, orders []model.Order) ([]model.Order, error) {
	if len(orders) == 0 {
		return nil, nil
	}

	var exposures map[model.Contract]decimal.Decimal
	var marks map[model.Contract]decimal.Decimal
	if b.limiter != nil {
		var err error
		marks, err = b.marks(ctx, orders)
		if err != nil {
			return nil, err
		}
		exposures = b.portfolio.Exposures(marks)
	}

	now := b.clock.Now()
	accepted := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		o.ID = uuid.New().String()
		o.CreatedAt = now

		if b.limiter != nil {
			mark, ok := marks[o.Contract]
			if !ok {
				b.logger.Warn("order rejected, no price to check limits", "contract", o.Contract.String(), "quantity", o.Quantity)
				metrics.RiskRejections.Inc()
				continue
			}
			delta := mark.Mul(decimal.NewFromInt(o.Quantity))
			if err := b.limiter.CheckLimit(o.Contract, delta, exposures); err != nil {
				b.logger.Warn("order rejected", "contract", o.Contract.String(), "quantity", o.Quantity, "error", err)
				metrics.RiskRejections.Inc()
				continue
			}
			// Later orders in the batch see this one's exposure.
			exposures[o.Contract] = exposures[o.Contract].Add(delta)
		}
		accepted = append(accepted, o)
	}

	b.exec.Accept(accepted...)
	b.logger.Debug("orders placed", "accepted", len(accepted), "rejected", len(orders)-len(accepted))
	return accepted, nil
}

// CancelOrder cancels an open order.
func (b *Broker) CancelOrder(orderID string) error {
	return b.exec.Cancel(orderID)
}

// OpenOrders returns the orders waiting for execution.
func (b *Broker) OpenOrders() []model.Order {
	return b.exec.OpenOrders()
}

// marks prices every contract held or ordered in one call. A held contract
// without a usable price is marked at its average cost; an unheld one is
// left out.
func (b *Broker) marks(ctx context.Context, orders []model.Order) (map[model.Contract]decimal.Decimal, error) {
	positions, err := b.portfolio.Positions(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[model.Contract]bool)
	var contracts []model.Contract
	for _, p := range positions {
		if !seen[p.Contract] {
			seen[p.Contract] = true
			contracts = append(contracts, p.Contract)
		}
	}
	for _, o := range orders {
		if !seen[o.Contract] {
			seen[o.Contract] = true
			contracts = append(contracts, o.Contract)
		}
	}

	raw, err := b.prices.LastAvailablePrices(ctx, contracts)
	if err != nil {
		return nil, fmt.Errorf("broker: last prices: %w", err)
	}
	out := make(map[model.Contract]decimal.Decimal, len(raw))
	for c, px := range raw {
		if math.IsNaN(px) || math.IsInf(px, 0) || px <= 0 {
			continue
		}
		out[c] = decimal.NewFromFloat(px)
	}
	for _, p := range positions {
		if _, ok := out[p.Contract]; !ok {
			out[p.Contract] = p.AvgPrice
		}
	}
	return out, nil
}
