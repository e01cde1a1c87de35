package execution

import "github.com/shopspring/decimal"

// CommissionModel prices a fill.
type CommissionModel interface {
	Commission(quantity int64, price decimal.Decimal) decimal.Decimal
}

// FixedCommission charges the same amount for every fill.
type FixedCommission struct {
	Amount decimal.Decimal
}

func (c FixedCommission) Commission(int64, decimal.Decimal) decimal.Decimal {
	return c.Amount
}

// RateCommission charges a fraction of the traded notional, with an
// optional minimum per fill.
type RateCommission struct {
	Rate    decimal.Decimal
	Minimum decimal.Decimal
}

func (c RateCommission) Commission(quantity int64, price decimal.Decimal) decimal.Decimal {
	fee := price.Mul(decimal.NewFromInt(quantity)).Abs().Mul(c.Rate)
	if fee.LessThan(c.Minimum) {
		return c.Minimum
	}
	return fee
}
