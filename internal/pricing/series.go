// Package pricing provides last-available-price sources for the session.
package pricing

import (
	"context"
	"math"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/atmx/session-engine/internal/model"
	"github.com/atmx/session-engine/internal/timer"
)

// Bar is one OHLCV bar. Time is the bar's close time: its prices become
// available at Time, not before.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Series holds bar histories in memory and serves the last close at or
// before the session's current time, so a backtest never sees the future.
type Series struct {
	clock timer.Timer

	mu   sync.RWMutex
	bars map[model.Contract][]Bar
}

// NewSeries creates an empty series bound to clock.
func NewSeries(clock timer.Timer) *Series {
	return &Series{clock: clock, bars: make(map[model.Contract][]Bar)}
}

// Add appends bars for c, keeping them sorted by time.
func (s *Series) Add(c model.Contract, bars ...Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append(s.bars[c], bars...)
	slices.SortStableFunc(all, func(a, b Bar) int { return a.Time.Compare(b.Time) })
	s.bars[c] = all
}

// Bars returns the full history of c.
func (s *Series) Bars(c model.Contract) []Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.bars[c])
}

// LastAvailablePrices returns the last close at or before now for each
// contract; NaN when no bar is available yet.
func (s *Series) LastAvailablePrices(_ context.Context, contracts []model.Contract) (map[model.Contract]float64, error) {
	now := s.clock.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[model.Contract]float64, len(contracts))
	for _, c := range contracts {
		bars := s.bars[c]
		// First bar strictly after now.
		i, _ := slices.BinarySearchFunc(bars, now, func(b Bar, t time.Time) int {
			if b.Time.After(t) {
				return 1
			}
			return -1
		})
		if i == 0 {
			out[c] = math.NaN()
			continue
		}
		out[c] = bars[i-1].Close
	}
	return out, nil
}

// RandomWalk generates n bars spaced by step starting at start, following a
// geometric random walk from price with the given per-bar volatility.
func RandomWalk(seed int64, start time.Time, step time.Duration, n int, price, volatility float64) []Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]Bar, 0, n)
	last := price
	for i := 0; i < n; i++ {
		open := last
		closePx := open * math.Exp(volatility*rng.NormFloat64())
		spread := math.Abs(closePx-open) + open*volatility*rng.Float64()/2
		bars = append(bars, Bar{
			Time:   start.Add(time.Duration(i) * step),
			Open:   open,
			High:   math.Max(open, closePx) + spread/2,
			Low:    math.Max(math.Min(open, closePx)-spread/2, 0),
			Close:  closePx,
			Volume: math.Round(1000 + 9000*rng.Float64()),
		})
		last = closePx
	}
	return bars
}
