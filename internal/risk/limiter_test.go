package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/session-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func stk(symbol, exchange string) model.Contract {
	return model.Contract{Symbol: symbol, SecType: "STK", Exchange: exchange}
}

var (
	aapl = stk("AAPL", "NASDAQ")
	msft = stk("MSFT", "NASDAQ")
	spy  = stk("SPY", "ARCA")
)

func TestCheckLimit_WithinLimits(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(5000))

	err := limiter.CheckLimit(aapl, d(100), nil)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLimit_PerContractExceeded(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(5000))

	// Existing exposure of 950 + new 100 = 1050 > 1000.
	existing := map[model.Contract]decimal.Decimal{aapl: d(950)}

	err := limiter.CheckLimit(aapl, d(100), existing)
	if err != ErrContractLimitExceeded {
		t.Errorf("expected ErrContractLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_ShortSideCountsAbsolute(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(5000))

	existing := map[model.Contract]decimal.Decimal{aapl: d(-950)}

	err := limiter.CheckLimit(aapl, d(-100), existing)
	if err != ErrContractLimitExceeded {
		t.Errorf("expected ErrContractLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_ExchangeExceeded(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(2000))

	existing := map[model.Contract]decimal.Decimal{
		aapl:                  d(800),
		msft:                  d(800),
		stk("GOOG", "NASDAQ"): d(300),
	}

	// total = 200 + 800 + 800 + 300 = 2100 > 2000
	err := limiter.CheckLimit(stk("NVDA", "NASDAQ"), d(200), existing)
	if err != ErrExchangeLimitExceeded {
		t.Errorf("expected ErrExchangeLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_OtherExchangesIgnored(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(2000))

	existing := map[model.Contract]decimal.Decimal{
		aapl: d(800),
		spy:  d(900), // different exchange
	}

	// NASDAQ total = 500 + 800 = 1300 < 2000.
	err := limiter.CheckLimit(msft, d(500), existing)
	if err != nil {
		t.Errorf("other exchanges should be ignored, got %v", err)
	}
}

func TestCheckLimit_ReducingAlwaysAllowed(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(1000))

	// Already over both limits; selling still goes through.
	existing := map[model.Contract]decimal.Decimal{aapl: d(1500), msft: d(900)}

	err := limiter.CheckLimit(aapl, d(-200), existing)
	if err != nil {
		t.Errorf("reducing exposure should pass, got %v", err)
	}
}

func TestCheckLimit_ZeroDisables(t *testing.T) {
	limiter := NewPositionLimiter(decimal.Zero, decimal.Zero)

	err := limiter.CheckLimit(aapl, d(1e9), map[model.Contract]decimal.Decimal{msft: d(1e9)})
	if err != nil {
		t.Errorf("zero limits should be disabled, got %v", err)
	}
}
