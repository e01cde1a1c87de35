package pricing

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/atmx/session-engine/internal/model"
	"github.com/atmx/session-engine/internal/timer"
)

var (
	aapl = model.Contract{Symbol: "AAPL", SecType: "STK", Exchange: "NASDAQ"}
	spy  = model.Contract{Symbol: "SPY", SecType: "STK", Exchange: "ARCA"}
	day1 = time.Date(2024, 1, 2, 20, 0, 0, 0, time.UTC)
)

func TestSeries_NoLookAhead(t *testing.T) {
	clock := timer.NewSettableTimer(day1.Add(-time.Hour))
	setter := clock.Claim()
	s := NewSeries(clock)
	s.Add(aapl,
		Bar{Time: day1.AddDate(0, 0, 1), Close: 102},
		Bar{Time: day1, Close: 101},
	)

	tests := []struct {
		at   time.Time
		want float64
	}{
		{day1.Add(-time.Hour), math.NaN()},
		{day1, 101},
		{day1.Add(12 * time.Hour), 101},
		{day1.AddDate(0, 0, 1), 102},
		{day1.AddDate(0, 0, 5), 102},
	}
	for _, tt := range tests {
		setter.Set(tt.at)
		got, err := s.LastAvailablePrices(context.Background(), []model.Contract{aapl, spy})
		if err != nil {
			t.Fatal(err)
		}
		p := got[aapl]
		if math.IsNaN(tt.want) != math.IsNaN(p) || (!math.IsNaN(tt.want) && p != tt.want) {
			t.Errorf("at %s: price = %v, want %v", tt.at, p, tt.want)
		}
		if !math.IsNaN(got[spy]) {
			t.Errorf("at %s: unknown contract price = %v, want NaN", tt.at, got[spy])
		}
	}
}

func TestRandomWalk_Deterministic(t *testing.T) {
	a := RandomWalk(42, day1, 24*time.Hour, 50, 100, 0.02)
	b := RandomWalk(42, day1, 24*time.Hour, 50, 100, 0.02)
	if len(a) != 50 {
		t.Fatalf("got %d bars, want 50", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("bar %d differs between runs with the same seed", i)
		}
		if a[i].Close <= 0 || a[i].Low > a[i].High {
			t.Errorf("bar %d malformed: %+v", i, a[i])
		}
		if i > 0 && a[i].Open != a[i-1].Close {
			t.Errorf("bar %d does not open at previous close", i)
		}
	}
}
