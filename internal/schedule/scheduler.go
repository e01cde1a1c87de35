package schedule

import (
	"errors"
	"sync"
	"time"

	"github.com/atmx/session-engine/internal/event"
)

// ErrNoMoreEvents is returned when no registered rule has a future
// occurrence. It is terminal: retrying will not produce an event.
var ErrNoMoreEvents = errors.New("schedule: no more time events")

// TimeEvent is a scheduled occurrence produced by a Rule.
type TimeEvent struct {
	At   time.Time
	Rule Rule
}

func (e TimeEvent) Time() time.Time { return e.At }
func (TimeEvent) Kind() event.Kind  { return event.KindTime }

// RuleName returns the name of the rule that produced the event.
func (e TimeEvent) RuleName() string {
	if e.Rule == nil {
		return ""
	}
	return e.Rule.Name()
}

type entry struct {
	rule Rule
	next time.Time
	ok   bool
}

// Scheduler merges registered rules into a single ordered stream of time
// events. Each rule's pending occurrence is kept, so every occurrence is
// emitted exactly once.
//
// When several rules are due at the same instant NextTimeEvent returns the
// one registered first; the caller re-queries to get the others.
type Scheduler struct {
	mu      sync.Mutex
	start   time.Time
	entries []*entry
}

// New creates a scheduler whose rules fire from start (inclusive).
func New(start time.Time) *Scheduler {
	return &Scheduler{start: start}
}

// Register adds rules in tie-break order.
func (s *Scheduler) Register(rules ...Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rules {
		next, ok := r.Next(s.start.Add(-time.Nanosecond))
		s.entries = append(s.entries, &entry{rule: r, next: next, ok: ok})
	}
}

// Rules returns the registered rules in registration order.
func (s *Scheduler) Rules() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := make([]Rule, len(s.entries))
	for i, e := range s.entries {
		rules[i] = e.rule
	}
	return rules
}

// NextTimeEvent returns the nearest pending occurrence across all rules.
// Occurrences that are already in the past relative to now are skipped.
// Successive calls with a non-decreasing now never go back in time.
func (s *Scheduler) NextTimeEvent(now time.Time) (TimeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *entry
	for _, e := range s.entries {
		if e.ok && e.next.Before(now) {
			e.next, e.ok = e.rule.Next(now.Add(-time.Nanosecond))
		}
		if !e.ok {
			continue
		}
		if best == nil || e.next.Before(best.next) {
			best = e
		}
	}
	if best == nil {
		return TimeEvent{}, ErrNoMoreEvents
	}

	ev := TimeEvent{At: best.next, Rule: best.rule}
	best.next, best.ok = best.rule.Next(best.next)
	return ev, nil
}
