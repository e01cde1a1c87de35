// Package model defines the core domain types shared across the session engine.
// All monetary values use shopspring/decimal. Theoretical prices coming from
// price sources stay float64 so that a missing price can travel as NaN.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Contract identifies an exchange-tradable instrument. It is comparable and
// used as a map key throughout the engine.
type Contract struct {
	Symbol   string `json:"symbol"`
	SecType  string `json:"sec_type"`
	Exchange string `json:"exchange"`
}

func (c Contract) String() string {
	return fmt.Sprintf("%s:%s:%s", c.Symbol, c.SecType, c.Exchange)
}

// ExecutionStyle is the order-matching policy requested for an order.
type ExecutionStyle interface {
	isExecutionStyle()
	String() string
}

// MarketOrder fills at the next available price.
type MarketOrder struct{}

// StopOrder becomes a market order once the last price crosses StopPrice.
type StopOrder struct {
	StopPrice float64 `json:"stop_price"`
}

// LimitOrder fills only at LimitPrice or better.
type LimitOrder struct {
	LimitPrice float64 `json:"limit_price"`
}

func (MarketOrder) isExecutionStyle() {}
func (StopOrder) isExecutionStyle()   {}
func (LimitOrder) isExecutionStyle()  {}

func (MarketOrder) String() string  { return "MKT" }
func (s StopOrder) String() string  { return fmt.Sprintf("STP(%g)", s.StopPrice) }
func (s LimitOrder) String() string { return fmt.Sprintf("LMT(%g)", s.LimitPrice) }

// TimeInForce is how long an order stays eligible for execution.
type TimeInForce int

const (
	// DAY orders expire at the end of the trading day they were placed on.
	DAY TimeInForce = iota
	// GTC orders stay open until filled or cancelled.
	GTC
	// OPG orders are meant for the opening auction and expire like DAY.
	OPG
)

func (t TimeInForce) String() string {
	switch t {
	case DAY:
		return "DAY"
	case GTC:
		return "GTC"
	case OPG:
		return "OPG"
	}
	return fmt.Sprintf("TimeInForce(%d)", int(t))
}

// Order is an instruction to trade. Once created it is never modified;
// a correction is a cancel plus a new order. ID and CreatedAt are assigned
// by the broker when the order is placed.
type Order struct {
	ID        string         `json:"id"`
	Contract  Contract       `json:"contract"`
	Quantity  int64          `json:"quantity"` // signed: +buy, -sell
	Style     ExecutionStyle `json:"-"`
	TIF       TimeInForce    `json:"time_in_force"`
	CreatedAt time.Time      `json:"created_at"`
}

// IsBuy reports whether the order increases the held quantity.
func (o Order) IsBuy() bool { return o.Quantity > 0 }

// Position is the signed quantity currently held for a contract.
type Position struct {
	Contract Contract        `json:"contract"`
	Quantity int64           `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// Fill is the realized outcome of an order after slippage and commission.
// Fills are appended to the trade log and never modified.
type Fill struct {
	ID         string          `json:"id" db:"id"`
	OrderID    string          `json:"order_id" db:"order_id"`
	Time       time.Time       `json:"timestamp" db:"timestamp"`
	Contract   Contract        `json:"contract"`
	Quantity   int64           `json:"quantity" db:"quantity"` // signed: +buy, -sell
	Price      decimal.Decimal `json:"price" db:"price"`
	Commission decimal.Decimal `json:"commission" db:"commission"`
}

// Notional returns the signed traded value, excluding commission.
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(decimal.NewFromInt(f.Quantity))
}

// PortfolioSnapshot is one point of the portfolio value time series.
type PortfolioSnapshot struct {
	Time  time.Time       `json:"timestamp" db:"timestamp"`
	Cash  decimal.Decimal `json:"cash" db:"cash"`
	Value decimal.Decimal `json:"value" db:"value"`
}
