// Package slippage turns theoretical fill prices into realistic ones.
package slippage

import (
	"errors"
	"log/slog"
	"math"
	"slices"

	"github.com/atmx/session-engine/internal/metrics"
	"github.com/atmx/session-engine/internal/model"
)

// ErrLengthMismatch is returned when orders and prices are not aligned.
var ErrLengthMismatch = errors.New("slippage: orders and prices differ in length")

// Model adjusts theoretical fill prices. prices[i] belongs to orders[i]; the
// returned quantities are the filled volumes, currently always the full
// order quantity. A NaN price stays NaN.
type Model interface {
	Apply(orders []model.Order, prices []float64) ([]float64, []int64, error)
}

// PriceBased moves the price against the trader by a fixed fraction of
// the price: buys pay price*(1+Rate), sells receive price*(1-Rate).
type PriceBased struct {
	Rate   float64
	logger *slog.Logger
}

// NewPriceBased creates a price based slippage model.
func NewPriceBased(rate float64, logger *slog.Logger) *PriceBased {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceBased{Rate: rate, logger: logger}
}

func (m *PriceBased) Apply(orders []model.Order, prices []float64) ([]float64, []int64, error) {
	if len(orders) != len(prices) {
		return nil, nil, ErrLengthMismatch
	}
	volumes := fullVolumes(orders)
	if m.Rate == 0 {
		return slices.Clone(prices), volumes, nil
	}

	return adjust(m.logger, orders, prices, func(o model.Order, p float64) float64 {
		if o.IsBuy() {
			return p * (1 + m.Rate)
		}
		return p * (1 - m.Rate)
	}), volumes, nil
}

// Fixed moves the price against the trader by a fixed amount per share.
type Fixed struct {
	Amount float64
	logger *slog.Logger
}

// NewFixed creates a fixed slippage model.
func NewFixed(amount float64, logger *slog.Logger) *Fixed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fixed{Amount: amount, logger: logger}
}

func (m *Fixed) Apply(orders []model.Order, prices []float64) ([]float64, []int64, error) {
	if len(orders) != len(prices) {
		return nil, nil, ErrLengthMismatch
	}
	volumes := fullVolumes(orders)
	if m.Amount == 0 {
		return slices.Clone(prices), volumes, nil
	}

	return adjust(m.logger, orders, prices, func(o model.Order, p float64) float64 {
		if o.IsBuy() {
			return p + m.Amount
		}
		return p - m.Amount
	}), volumes, nil
}

// adjust applies fn to market and stop orders. Other styles keep their
// theoretical price and are reported.
func adjust(logger *slog.Logger, orders []model.Order, prices []float64, fn func(model.Order, float64) float64) []float64 {
	out := make([]float64, len(prices))
	for i, o := range orders {
		p := prices[i]
		switch o.Style.(type) {
		case model.MarketOrder, model.StopOrder:
			if math.IsNaN(p) {
				out[i] = p
				continue
			}
			out[i] = fn(o, p)
		default:
			logger.Warn("unsupported execution style, no slippage applied", "style", styleName(o.Style), "contract", o.Contract.String())
			metrics.SlippageWarnings.WithLabelValues(styleName(o.Style)).Inc()
			out[i] = p
		}
	}
	return out
}

func fullVolumes(orders []model.Order) []int64 {
	volumes := make([]int64, len(orders))
	for i, o := range orders {
		volumes[i] = o.Quantity
	}
	return volumes
}

func styleName(s model.ExecutionStyle) string {
	switch s.(type) {
	case model.MarketOrder:
		return "market"
	case model.StopOrder:
		return "stop"
	case model.LimitOrder:
		return "limit"
	case nil:
		return "none"
	}
	return "unknown"
}
