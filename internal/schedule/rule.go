// Package schedule defines recurring time rules and the scheduler that turns
// them into the session's stream of time events.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Names of the regular market rules.
const (
	BeforeMarketOpen = "before_market_open"
	MarketOpen       = "market_open"
	MarketClose      = "market_close"
	AfterMarketClose = "after_market_close"
)

// ErrInvalidClock is returned for malformed HH:MM[:SS] strings.
var ErrInvalidClock = errors.New("schedule: invalid clock time")

// Rule is a recurrence that can name its next occurrence.
type Rule interface {
	Name() string
	// Next returns the first occurrence strictly after after, or false when
	// the rule has no further occurrences.
	Next(after time.Time) (time.Time, bool)
}

// Clock is a time of day.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

var clockRegex = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)

// ParseClock parses "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	m := clockRegex.FindStringSubmatch(s)
	if m == nil {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	sec := 0
	if m[3] != "" {
		sec, _ = strconv.Atoi(m[3])
	}
	if h > 23 || mi > 59 || sec > 59 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Clock{Hour: h, Minute: mi, Second: sec}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// Weekdays is Monday through Friday.
var Weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// Daily fires once a day at a clock time, optionally only on some weekdays.
type Daily struct {
	RuleName string
	At       Clock
	Location *time.Location // nil means UTC
	Days     []time.Weekday // empty means every day
}

func (d Daily) Name() string { return d.RuleName }

func (d Daily) Next(after time.Time) (time.Time, bool) {
	loc := location(d.Location)
	local := after.In(loc)
	day := midnight(local)
	// A week plus one day always contains an allowed weekday if any exists.
	for i := 0; i < 8; i++ {
		cand := atClock(day, d.At)
		if cand.After(after) && allowed(d.Days, cand.Weekday()) {
			return cand, true
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}

// Periodic fires every Every within an intraday window [From, To]. A zero
// To means until midnight.
type Periodic struct {
	RuleName string
	Every    time.Duration
	From     Clock
	To       Clock
	Location *time.Location
	Days     []time.Weekday
}

func (p Periodic) Name() string { return p.RuleName }

func (p Periodic) Next(after time.Time) (time.Time, bool) {
	if p.Every <= 0 {
		return time.Time{}, false
	}
	loc := location(p.Location)
	day := midnight(after.In(loc))
	for i := 0; i < 8; i++ {
		if allowed(p.Days, day.Weekday()) {
			first := atClock(day, p.From)
			last := day.AddDate(0, 0, 1).Add(-time.Nanosecond)
			if p.To != (Clock{}) {
				last = atClock(day, p.To)
			}

			cand := first
			if !cand.After(after) {
				steps := after.Sub(first)/p.Every + 1
				cand = first.Add(steps * p.Every)
			}
			if !cand.After(last) {
				return cand, true
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}

// Once fires a single time.
type Once struct {
	RuleName string
	At       time.Time
}

func (o Once) Name() string { return o.RuleName }

func (o Once) Next(after time.Time) (time.Time, bool) {
	if o.At.After(after) {
		return o.At, true
	}
	return time.Time{}, false
}

// MarketTimes holds the clock times of the regular market rules.
type MarketTimes struct {
	BeforeOpen Clock
	Open       Clock
	Close      Clock
	AfterClose Clock
}

// DefaultMarketTimes are UTC trigger times for a US equity session.
var DefaultMarketTimes = MarketTimes{
	BeforeOpen: Clock{Hour: 8},
	Open:       Clock{Hour: 13, Minute: 30},
	Close:      Clock{Hour: 20},
	AfterClose: Clock{Hour: 23},
}

// MarketRules returns the four regular market rules in chronological order.
func MarketRules(t MarketTimes, loc *time.Location, days []time.Weekday) []Rule {
	return []Rule{
		Daily{RuleName: BeforeMarketOpen, At: t.BeforeOpen, Location: loc, Days: days},
		Daily{RuleName: MarketOpen, At: t.Open, Location: loc, Days: days},
		Daily{RuleName: MarketClose, At: t.Close, Location: loc, Days: days},
		Daily{RuleName: AfterMarketClose, At: t.AfterClose, Location: loc, Days: days},
	}
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func atClock(day time.Time, c Clock) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, c.Second, 0, day.Location())
}

func allowed(days []time.Weekday, wd time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if d == wd {
			return true
		}
	}
	return false
}
