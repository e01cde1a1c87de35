// Package portfolio keeps the cash and positions of a trading session.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/session-engine/internal/metrics"
	"github.com/atmx/session-engine/internal/model"
	"github.com/atmx/session-engine/internal/timer"
)

// PriceSource marks positions to market.
type PriceSource interface {
	LastAvailablePrices(ctx context.Context, contracts []model.Contract) (map[model.Contract]float64, error)
}

type holding struct {
	quantity int64
	avgPrice decimal.Decimal
}

// Portfolio applies fills to cash and positions using average-price
// accounting. Positions are signed; a fill larger than the open position
// flips it and the remainder opens at the fill price.
type Portfolio struct {
	prices PriceSource
	clock  timer.Timer
	logger *slog.Logger

	mu       sync.RWMutex
	initial  decimal.Decimal
	cash     decimal.Decimal
	realized decimal.Decimal
	holdings map[model.Contract]*holding
}

// New creates a portfolio holding only cash.
func New(initialCash decimal.Decimal, prices PriceSource, clock timer.Timer, logger *slog.Logger) *Portfolio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Portfolio{
		prices:   prices,
		clock:    clock,
		logger:   logger,
		initial:  initialCash,
		cash:     initialCash,
		holdings: make(map[model.Contract]*holding),
	}
}

// ApplyFill books a fill: cash pays the notional plus commission and the
// position's average price is updated.
func (p *Portfolio) ApplyFill(f model.Fill) {
	if f.Quantity == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cash = p.cash.Sub(f.Notional()).Sub(f.Commission)

	h, ok := p.holdings[f.Contract]
	if !ok {
		h = &holding{}
		p.holdings[f.Contract] = h
	}

	switch {
	case h.quantity == 0 || sameSign(h.quantity, f.Quantity):
		// Open or add: weighted average of the absolute sizes.
		oldQty := decimal.NewFromInt(abs(h.quantity))
		addQty := decimal.NewFromInt(abs(f.Quantity))
		h.avgPrice = h.avgPrice.Mul(oldQty).Add(f.Price.Mul(addQty)).Div(oldQty.Add(addQty))
		h.quantity += f.Quantity
	default:
		// Reduce, close or flip.
		closed := min(abs(h.quantity), abs(f.Quantity))
		pnl := f.Price.Sub(h.avgPrice).Mul(decimal.NewFromInt(closed))
		if h.quantity < 0 {
			pnl = pnl.Neg()
		}
		p.realized = p.realized.Add(pnl)

		before := h.quantity
		h.quantity += f.Quantity
		switch {
		case h.quantity == 0:
			delete(p.holdings, f.Contract)
		case !sameSign(before, h.quantity):
			h.avgPrice = f.Price
		}
	}
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// InitialCash returns the cash the session started with.
func (p *Portfolio) InitialCash() decimal.Decimal {
	return p.initial
}

// RealizedPnL returns the profit realized by closing positions, before
// commissions.
func (p *Portfolio) RealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realized
}

// Positions returns open positions sorted by contract.
func (p *Portfolio) Positions(_ context.Context) ([]model.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.Position, 0, len(p.holdings))
	for c, h := range p.holdings {
		out = append(out, model.Position{Contract: c, Quantity: h.quantity, AvgPrice: h.avgPrice})
	}
	slices.SortFunc(out, func(a, b model.Position) int {
		return strings.Compare(a.Contract.String(), b.Contract.String())
	})
	return out, nil
}

// PortfolioValue is cash plus positions marked at the last available
// prices, fetched in one call. A position without a price is valued at its
// average cost.
func (p *Portfolio) PortfolioValue(ctx context.Context) (decimal.Decimal, error) {
	positions, err := p.Positions(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("portfolio: positions: %w", err)
	}
	cash := p.Cash()
	if len(positions) == 0 {
		return cash, nil
	}

	contracts := make([]model.Contract, len(positions))
	for i, pos := range positions {
		contracts[i] = pos.Contract
	}
	prices, err := p.prices.LastAvailablePrices(ctx, contracts)
	if err != nil {
		return decimal.Zero, fmt.Errorf("portfolio: last prices: %w", err)
	}

	value := cash
	for _, pos := range positions {
		mark := pos.AvgPrice
		if px, ok := prices[pos.Contract]; ok && !math.IsNaN(px) && !math.IsInf(px, 0) {
			mark = decimal.NewFromFloat(px)
		} else {
			p.logger.Warn("no price to mark position, using average cost", "contract", pos.Contract.String())
		}
		value = value.Add(mark.Mul(decimal.NewFromInt(pos.Quantity)))
	}
	return value, nil
}

// Exposures returns the signed notional of each position at the given
// prices. Positions without a price use their average cost.
func (p *Portfolio) Exposures(prices map[model.Contract]decimal.Decimal) map[model.Contract]decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[model.Contract]decimal.Decimal, len(p.holdings))
	for c, h := range p.holdings {
		mark, ok := prices[c]
		if !ok {
			mark = h.avgPrice
		}
		out[c] = mark.Mul(decimal.NewFromInt(h.quantity))
	}
	return out
}

// Snapshot records the portfolio value at the session's current time.
func (p *Portfolio) Snapshot(ctx context.Context) (model.PortfolioSnapshot, error) {
	value, err := p.PortfolioValue(ctx)
	if err != nil {
		return model.PortfolioSnapshot{}, err
	}
	metrics.PortfolioValue.Set(value.InexactFloat64())
	return model.PortfolioSnapshot{Time: p.clock.Now(), Cash: p.Cash(), Value: value}, nil
}

func sameSign(a, b int64) bool {
	return (a > 0) == (b > 0)
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
