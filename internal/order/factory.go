// Package order turns position targets into concrete orders.
package order

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/session-engine/internal/metrics"
	"github.com/atmx/session-engine/internal/model"
)

// Broker exposes the account state the factory sizes orders against.
type Broker interface {
	Positions(ctx context.Context) ([]model.Position, error)
	PortfolioValue(ctx context.Context) (decimal.Decimal, error)
}

// PriceSource returns the last available price of each contract. A missing
// price is NaN or absent from the map.
type PriceSource interface {
	LastAvailablePrices(ctx context.Context, contracts []model.Contract) (map[model.Contract]float64, error)
}

// Factory creates orders from quantities, values and portfolio weights.
// It never places them; the caller hands the result to a broker.
//
// Share counts derived from values are floored, so a buy never spends more
// than the requested value. Every method fetches prices at most once.
type Factory struct {
	broker Broker
	prices PriceSource
	logger *slog.Logger
}

// NewFactory creates an order factory.
func NewFactory(broker Broker, prices PriceSource, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{broker: broker, prices: prices, logger: logger}
}

// Orders creates one order per contract for the given signed quantities.
// Zero quantities are skipped.
func (f *Factory) Orders(quantities map[model.Contract]int64, style model.ExecutionStyle, tif model.TimeInForce) []model.Order {
	orders := make([]model.Order, 0, len(quantities))
	for c, q := range quantities {
		if q == 0 {
			continue
		}
		orders = append(orders, model.Order{Contract: c, Quantity: q, Style: style, TIF: tif})
	}
	return f.done("orders", orders)
}

// TargetOrders creates the orders that bring each position to the target
// quantity. A contract is left alone when |target - current| is within its
// tolerance; a nil tolerance map means trade any difference.
func (f *Factory) TargetOrders(ctx context.Context, targets map[model.Contract]int64, style model.ExecutionStyle,
	tif model.TimeInForce, tolerances map[model.Contract]int64) ([]model.Order, error) {
	held, err := f.held(ctx)
	if err != nil {
		return nil, err
	}

	orders := make([]model.Order, 0, len(targets))
	for c, target := range targets {
		delta := target - held[c]
		if tol := tolerances[c]; tol > 0 && abs(delta) <= tol {
			metrics.OrdersSkipped.WithLabelValues("tolerance").Inc()
			continue
		}
		if delta == 0 {
			continue
		}
		orders = append(orders, model.Order{Contract: c, Quantity: delta, Style: style, TIF: tif})
	}
	return f.done("target_orders", orders), nil
}

// ValueOrders buys (or sells, for negative values) floor(value / price)
// shares of each contract.
func (f *Factory) ValueOrders(ctx context.Context, values map[model.Contract]decimal.Decimal, style model.ExecutionStyle,
	tif model.TimeInForce) ([]model.Order, error) {
	orders, err := f.valueOrders(ctx, values, style, tif)
	if err != nil {
		return nil, err
	}
	return f.done("value_orders", orders), nil
}

// PercentOrders trades a fraction of the portfolio value in each contract,
// e.g. 0.1 buys shares worth 10% of the portfolio.
func (f *Factory) PercentOrders(ctx context.Context, percentages map[model.Contract]decimal.Decimal, style model.ExecutionStyle,
	tif model.TimeInForce) ([]model.Order, error) {
	pv, err := f.broker.PortfolioValue(ctx)
	if err != nil {
		return nil, fmt.Errorf("order: portfolio value: %w", err)
	}
	orders, err := f.valueOrders(ctx, scale(percentages, pv), style, tif)
	if err != nil {
		return nil, err
	}
	return f.done("percent_orders", orders), nil
}

// TargetValueOrders creates the orders that bring each position's value to
// the target. Nothing is traded when the current value is within tolerance
// of the target.
func (f *Factory) TargetValueOrders(ctx context.Context, targets map[model.Contract]decimal.Decimal, style model.ExecutionStyle,
	tif model.TimeInForce, tolerance decimal.Decimal) ([]model.Order, error) {
	orders, err := f.targetValueOrders(ctx, targets, style, tif, tolerance)
	if err != nil {
		return nil, err
	}
	return f.done("target_value_orders", orders), nil
}

// TargetPercentOrders creates the orders that bring each position to a
// fraction of the portfolio value. tolerance is a fraction of the portfolio
// value as well.
func (f *Factory) TargetPercentOrders(ctx context.Context, targets map[model.Contract]decimal.Decimal, style model.ExecutionStyle,
	tif model.TimeInForce, tolerance decimal.Decimal) ([]model.Order, error) {
	pv, err := f.broker.PortfolioValue(ctx)
	if err != nil {
		return nil, fmt.Errorf("order: portfolio value: %w", err)
	}
	orders, err := f.targetValueOrders(ctx, scale(targets, pv), style, tif, tolerance.Mul(pv))
	if err != nil {
		return nil, err
	}
	return f.done("target_percent_orders", orders), nil
}

func (f *Factory) valueOrders(ctx context.Context, values map[model.Contract]decimal.Decimal, style model.ExecutionStyle,
	tif model.TimeInForce) ([]model.Order, error) {
	prices, err := f.lastPrices(ctx, values)
	if err != nil {
		return nil, err
	}

	orders := make([]model.Order, 0, len(values))
	for c, value := range values {
		price, ok := prices[c]
		if !ok {
			continue
		}
		q := shares(value, price)
		if q == 0 {
			continue
		}
		orders = append(orders, model.Order{Contract: c, Quantity: q, Style: style, TIF: tif})
	}
	return orders, nil
}

func (f *Factory) targetValueOrders(ctx context.Context, targets map[model.Contract]decimal.Decimal, style model.ExecutionStyle,
	tif model.TimeInForce, tolerance decimal.Decimal) ([]model.Order, error) {
	held, err := f.held(ctx)
	if err != nil {
		return nil, err
	}
	prices, err := f.lastPrices(ctx, targets)
	if err != nil {
		return nil, err
	}

	orders := make([]model.Order, 0, len(targets))
	for c, target := range targets {
		price, ok := prices[c]
		if !ok {
			continue
		}
		current := decimal.NewFromInt(held[c]).Mul(price)
		if target.Sub(current).Abs().LessThanOrEqual(tolerance) {
			metrics.OrdersSkipped.WithLabelValues("tolerance").Inc()
			continue
		}
		q := shares(target, price) - held[c]
		if q == 0 {
			continue
		}
		orders = append(orders, model.Order{Contract: c, Quantity: q, Style: style, TIF: tif})
	}
	return orders, nil
}

// held returns the signed quantity per contract.
func (f *Factory) held(ctx context.Context) (map[model.Contract]int64, error) {
	positions, err := f.broker.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("order: positions: %w", err)
	}
	held := make(map[model.Contract]int64, len(positions))
	for _, p := range positions {
		held[p.Contract] += p.Quantity
	}
	return held, nil
}

// lastPrices fetches the prices of all keys in one call. Contracts without a
// usable price are logged and left out of the result.
func lastPrices[V any](ctx context.Context, src PriceSource, logger *slog.Logger, keys map[model.Contract]V) (map[model.Contract]decimal.Decimal, error) {
	contracts := make([]model.Contract, 0, len(keys))
	for c := range keys {
		contracts = append(contracts, c)
	}
	slices.SortFunc(contracts, compareContracts)

	raw, err := src.LastAvailablePrices(ctx, contracts)
	if err != nil {
		return nil, fmt.Errorf("order: last prices: %w", err)
	}

	prices := make(map[model.Contract]decimal.Decimal, len(contracts))
	for _, c := range contracts {
		p, ok := raw[c]
		if !ok || math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
			logger.Warn("no usable price, skipping contract", "contract", c.String(), "price", p)
			metrics.OrdersSkipped.WithLabelValues("missing_price").Inc()
			continue
		}
		prices[c] = decimal.NewFromFloat(p)
	}
	return prices, nil
}

func (f *Factory) lastPrices(ctx context.Context, keys map[model.Contract]decimal.Decimal) (map[model.Contract]decimal.Decimal, error) {
	return lastPrices(ctx, f.prices, f.logger, keys)
}

// done sorts orders by contract and records them.
func (f *Factory) done(method string, orders []model.Order) []model.Order {
	slices.SortFunc(orders, func(a, b model.Order) int {
		return compareContracts(a.Contract, b.Contract)
	})
	metrics.OrdersCreated.WithLabelValues(method).Add(float64(len(orders)))
	f.logger.Debug("orders created", "method", method, "count", len(orders))
	return orders
}

// shares is floor(value / price).
func shares(value, price decimal.Decimal) int64 {
	return value.Div(price).Floor().IntPart()
}

func scale(fractions map[model.Contract]decimal.Decimal, by decimal.Decimal) map[model.Contract]decimal.Decimal {
	out := make(map[model.Contract]decimal.Decimal, len(fractions))
	for c, fr := range fractions {
		out[c] = fr.Mul(by)
	}
	return out
}

func compareContracts(a, b model.Contract) int {
	return strings.Compare(a.String(), b.String())
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
