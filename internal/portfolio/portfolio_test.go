package portfolio_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/session-engine/internal/model"
	"github.com/atmx/session-engine/internal/portfolio"
	"github.com/atmx/session-engine/internal/timer"
)

var (
	aapl = model.Contract{Symbol: "AAPL", SecType: "STK", Exchange: "NASDAQ"}
	spy  = model.Contract{Symbol: "SPY", SecType: "STK", Exchange: "ARCA"}
	t0   = time.Date(2024, 1, 2, 20, 0, 0, 0, time.UTC)
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type mapPrices map[model.Contract]float64

func (m mapPrices) LastAvailablePrices(_ context.Context, cs []model.Contract) (map[model.Contract]float64, error) {
	out := make(map[model.Contract]float64, len(cs))
	for _, c := range cs {
		if p, ok := m[c]; ok {
			out[c] = p
		}
	}
	return out, nil
}

func fill(c model.Contract, qty int64, price, commission string) model.Fill {
	return model.Fill{Contract: c, Quantity: qty, Price: d(price), Commission: d(commission), Time: t0}
}

func newTestPortfolio(prices mapPrices) *portfolio.Portfolio {
	return portfolio.New(d("10000"), prices, timer.NewSettableTimer(t0), nil)
}

func position(t *testing.T, p *portfolio.Portfolio, c model.Contract) (model.Position, bool) {
	t.Helper()
	positions, err := p.Positions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, pos := range positions {
		if pos.Contract == c {
			return pos, true
		}
	}
	return model.Position{}, false
}

func TestApplyFill_OpenAndAdd(t *testing.T) {
	p := newTestPortfolio(nil)
	p.ApplyFill(fill(aapl, 10, "100", "1"))
	p.ApplyFill(fill(aapl, 30, "120", "1"))

	pos, ok := position(t, p, aapl)
	if !ok {
		t.Fatal("expected AAPL position")
	}
	if pos.Quantity != 40 {
		t.Errorf("quantity = %d, want 40", pos.Quantity)
	}
	if !pos.AvgPrice.Equal(d("115")) {
		t.Errorf("avg price = %s, want 115", pos.AvgPrice)
	}
	// 10000 - 1000 - 1 - 3600 - 1
	if !p.Cash().Equal(d("5398")) {
		t.Errorf("cash = %s, want 5398", p.Cash())
	}
}

func TestApplyFill_ReduceRealizesPnL(t *testing.T) {
	p := newTestPortfolio(nil)
	p.ApplyFill(fill(aapl, 10, "100", "0"))
	p.ApplyFill(fill(aapl, -4, "110", "0"))

	pos, _ := position(t, p, aapl)
	if pos.Quantity != 6 || !pos.AvgPrice.Equal(d("100")) {
		t.Errorf("position = %+v, want 6 @ 100", pos)
	}
	if !p.RealizedPnL().Equal(d("40")) {
		t.Errorf("realized = %s, want 40", p.RealizedPnL())
	}
}

func TestApplyFill_CloseRemovesPosition(t *testing.T) {
	p := newTestPortfolio(nil)
	p.ApplyFill(fill(aapl, 10, "100", "0"))
	p.ApplyFill(fill(aapl, -10, "90", "0"))

	if _, ok := position(t, p, aapl); ok {
		t.Error("closed position still listed")
	}
	if !p.RealizedPnL().Equal(d("-100")) {
		t.Errorf("realized = %s, want -100", p.RealizedPnL())
	}
	if !p.Cash().Equal(d("9900")) {
		t.Errorf("cash = %s, want 9900", p.Cash())
	}
}

func TestApplyFill_FlipOpensAtFillPrice(t *testing.T) {
	p := newTestPortfolio(nil)
	p.ApplyFill(fill(aapl, 10, "100", "0"))
	p.ApplyFill(fill(aapl, -15, "105", "0"))

	pos, _ := position(t, p, aapl)
	if pos.Quantity != -5 || !pos.AvgPrice.Equal(d("105")) {
		t.Errorf("position = %+v, want -5 @ 105", pos)
	}
	if !p.RealizedPnL().Equal(d("50")) {
		t.Errorf("realized = %s, want 50", p.RealizedPnL())
	}
}

func TestApplyFill_ShortCover(t *testing.T) {
	p := newTestPortfolio(nil)
	p.ApplyFill(fill(aapl, -10, "100", "0"))
	p.ApplyFill(fill(aapl, 10, "80", "0"))

	if !p.RealizedPnL().Equal(d("200")) {
		t.Errorf("realized = %s, want 200", p.RealizedPnL())
	}
	if !p.Cash().Equal(d("10200")) {
		t.Errorf("cash = %s, want 10200", p.Cash())
	}
}

func TestPortfolioValue(t *testing.T) {
	prices := mapPrices{aapl: 110, spy: math.NaN()}
	p := newTestPortfolio(prices)
	p.ApplyFill(fill(aapl, 10, "100", "0"))
	p.ApplyFill(fill(spy, 5, "400", "0"))

	// cash 10000 - 1000 - 2000 = 7000; AAPL 10 x 110; SPY at cost 5 x 400.
	v, err := p.PortfolioValue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(d("10100")) {
		t.Errorf("value = %s, want 10100", v)
	}
}

type failingPrices struct{ err error }

func (f failingPrices) LastAvailablePrices(context.Context, []model.Contract) (map[model.Contract]float64, error) {
	return nil, f.err
}

func TestPortfolioValue_ErrorsPropagate(t *testing.T) {
	boom := errors.New("feed down")
	p := portfolio.New(d("10000"), failingPrices{boom}, timer.NewSettableTimer(t0), nil)
	p.ApplyFill(fill(aapl, 10, "100", "0"))

	if _, err := p.PortfolioValue(context.Background()); !errors.Is(err, boom) {
		t.Errorf("PortfolioValue error = %v, want wrapped %v", err, boom)
	}
	if _, err := p.Snapshot(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Snapshot error = %v, want wrapped %v", err, boom)
	}
}

func TestSnapshot(t *testing.T) {
	p := newTestPortfolio(mapPrices{})
	s, err := p.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !s.Time.Equal(t0) || !s.Value.Equal(d("10000")) || !s.Cash.Equal(d("10000")) {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestExposures(t *testing.T) {
	p := newTestPortfolio(nil)
	p.ApplyFill(fill(aapl, -10, "100", "0"))
	p.ApplyFill(fill(spy, 2, "400", "0"))

	exp := p.Exposures(map[model.Contract]decimal.Decimal{aapl: d("90")})
	if !exp[aapl].Equal(d("-900")) {
		t.Errorf("AAPL exposure = %s, want -900", exp[aapl])
	}
	if !exp[spy].Equal(d("800")) {
		t.Errorf("SPY exposure = %s, want 800 (at cost)", exp[spy])
	}
}
