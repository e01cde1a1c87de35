// Package timer provides the engine's notion of "now".
//
// Strategy, execution and reporting code only ever see the read-only Timer
// interface. The backtest clock can be moved, but only through the Setter
// handed out once by SettableTimer.Claim, so live code cannot accidentally
// rewrite wall-clock time and nobody but the owning controller can move a
// simulated clock.
package timer

import (
	"fmt"
	"sync"
	"time"
)

// Timer reports the current notional time.
type Timer interface {
	Now() time.Time
}

// RealTimer reads the wall clock.
type RealTimer struct{}

// NewRealTimer creates a wall-clock timer.
func NewRealTimer() RealTimer { return RealTimer{} }

// Now returns the current UTC wall-clock time.
func (RealTimer) Now() time.Time { return time.Now().UTC() }

// SettableTimer holds a simulated time that only its owner may advance.
// Reads are safe from any goroutine.
type SettableTimer struct {
	mu      sync.RWMutex
	now     time.Time
	claimed bool
}

// NewSettableTimer creates a simulated clock starting at start.
func NewSettableTimer(start time.Time) *SettableTimer {
	return &SettableTimer{now: start}
}

// Now returns the current simulated time.
func (t *SettableTimer) Now() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.now
}

// Claim hands out the only Setter for this timer. Claiming twice panics:
// two writers would break the time-ordering guarantees of the session.
func (t *SettableTimer) Claim() *Setter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.claimed {
		panic("timer: settable timer already claimed by another owner")
	}
	t.claimed = true
	return &Setter{t: t}
}

// Setter is the exclusive write handle of a SettableTimer.
type Setter struct {
	t *SettableTimer
}

// Set moves the simulated time to ts. Moving backwards panics.
func (s *Setter) Set(ts time.Time) {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if ts.Before(s.t.now) {
		panic(fmt.Sprintf("timer: cannot move time backwards from %s to %s",
			s.t.now.Format(time.RFC3339Nano), ts.Format(time.RFC3339Nano)))
	}
	s.t.now = ts
}
