// Package risk implements pre-trade position limits.
//
// Exposure is the absolute notional value held in a contract. Contracts
// listed on the same exchange form a group whose aggregate exposure is
// limited as well, so a strategy cannot concentrate the whole portfolio on
// one venue by spreading it over many symbols.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/session-engine/internal/model"
)

var (
	// ErrContractLimitExceeded is returned when an order would push a single
	// contract's exposure beyond the per-contract maximum.
	ErrContractLimitExceeded = errors.New("risk: per-contract exposure limit exceeded")

	// ErrExchangeLimitExceeded is returned when an order would push the
	// aggregate exposure across one exchange beyond its maximum.
	ErrExchangeLimitExceeded = errors.New("risk: per-exchange exposure limit exceeded")
)

// PositionLimiter enforces exposure limits. A zero limit is disabled.
type PositionLimiter struct {
	// MaxPerContract is the maximum absolute exposure in any single contract.
	MaxPerContract decimal.Decimal

	// MaxPerExchange is the maximum aggregate absolute exposure across all
	// contracts of one exchange.
	MaxPerExchange decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given per-contract and
// per-exchange exposure limits.
func NewPositionLimiter(maxPerContract, maxPerExchange decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{
		MaxPerContract: maxPerContract,
		MaxPerExchange: maxPerExchange,
	}
}

// CheckLimit validates whether an order respects the limits.
//
// Parameters:
//   - target: contract being traded
//   - exposureDelta: signed change in notional exposure (+buy / -sell)
//   - existing: map of contract → current signed exposure
//
// An order that does not increase the target's absolute exposure always
// passes, so positions over the limit can still be reduced.
func (l *PositionLimiter) CheckLimit(
	target model.Contract,
	exposureDelta decimal.Decimal,
	existing map[model.Contract]decimal.Decimal,
) error {
	current := existing[target]
	newPosition := current.Add(exposureDelta)
	if newPosition.Abs().LessThanOrEqual(current.Abs()) {
		return nil
	}

	// 1. Per-contract limit.
	if l.MaxPerContract.IsPositive() && newPosition.Abs().GreaterThan(l.MaxPerContract) {
		return ErrContractLimitExceeded
	}

	// 2. Exchange exposure: sum |exposure| across contracts of the same venue.
	if !l.MaxPerExchange.IsPositive() {
		return nil
	}
	total := newPosition.Abs()
	for c, exposure := range existing {
		if c == target {
			continue // already counted via newPosition above
		}
		if c.Exchange == target.Exchange {
			total = total.Add(exposure.Abs())
		}
	}
	if total.GreaterThan(l.MaxPerExchange) {
		return ErrExchangeLimitExceeded
	}

	return nil
}
