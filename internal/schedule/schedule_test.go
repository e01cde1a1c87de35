package schedule

import (
	"errors"
	"testing"
	"time"
)

func utc(y int, m time.Month, d, h, mi int) time.Time {
	return time.Date(y, m, d, h, mi, 0, 0, time.UTC)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{"13:30", Clock{Hour: 13, Minute: 30}, false},
		{"8:00", Clock{Hour: 8}, false},
		{"23:59:59", Clock{Hour: 23, Minute: 59, Second: 59}, false},
		{"24:00", Clock{}, true},
		{"12:60", Clock{}, true},
		{"noon", Clock{}, true},
		{"", Clock{}, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidClock) {
				t.Errorf("ParseClock(%q) error = %v, want ErrInvalidClock", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClock(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDaily_NextSameDayAndFollowingDay(t *testing.T) {
	open := Daily{RuleName: MarketOpen, At: Clock{Hour: 13, Minute: 30}}

	// Tuesday morning -> same day.
	got, ok := open.Next(utc(2024, 1, 2, 9, 0))
	if !ok || !got.Equal(utc(2024, 1, 2, 13, 30)) {
		t.Errorf("Next = %s, want 2024-01-02 13:30", got)
	}

	// Exactly at the occurrence -> strictly after, next day.
	got, ok = open.Next(utc(2024, 1, 2, 13, 30))
	if !ok || !got.Equal(utc(2024, 1, 3, 13, 30)) {
		t.Errorf("Next = %s, want 2024-01-03 13:30", got)
	}
}

func TestDaily_SkipsWeekend(t *testing.T) {
	open := Daily{RuleName: MarketOpen, At: Clock{Hour: 13, Minute: 30}, Days: Weekdays}

	// Friday after the open -> Monday.
	got, ok := open.Next(utc(2024, 1, 5, 14, 0))
	if !ok || !got.Equal(utc(2024, 1, 8, 13, 30)) {
		t.Errorf("Next = %s, want Monday 2024-01-08 13:30", got)
	}
}

func TestDaily_RespectsLocation(t *testing.T) {
	ny := time.FixedZone("EST", -5*3600)
	open := Daily{RuleName: MarketOpen, At: Clock{Hour: 9, Minute: 30}, Location: ny}

	got, ok := open.Next(utc(2024, 1, 2, 0, 0))
	if !ok || !got.Equal(utc(2024, 1, 2, 14, 30)) {
		t.Errorf("Next = %s, want 14:30 UTC", got.UTC())
	}
}

func TestPeriodic_Window(t *testing.T) {
	hourly := Periodic{
		RuleName: "hourly",
		Every:    time.Hour,
		From:     Clock{Hour: 13, Minute: 30},
		To:       Clock{Hour: 15, Minute: 30},
	}

	tests := []struct {
		after time.Time
		want  time.Time
	}{
		{utc(2024, 1, 2, 0, 0), utc(2024, 1, 2, 13, 30)},
		{utc(2024, 1, 2, 13, 30), utc(2024, 1, 2, 14, 30)},
		{utc(2024, 1, 2, 14, 45), utc(2024, 1, 2, 15, 30)},
		{utc(2024, 1, 2, 15, 30), utc(2024, 1, 3, 13, 30)},
	}
	for _, tt := range tests {
		got, ok := hourly.Next(tt.after)
		if !ok || !got.Equal(tt.want) {
			t.Errorf("Next(%s) = %s, want %s", tt.after, got, tt.want)
		}
	}
}

func TestPeriodic_ZeroIntervalNeverFires(t *testing.T) {
	if _, ok := (Periodic{RuleName: "bad"}).Next(utc(2024, 1, 2, 0, 0)); ok {
		t.Error("expected no occurrence for zero interval")
	}
}

func TestOnce(t *testing.T) {
	at := utc(2024, 1, 2, 12, 0)
	once := Once{RuleName: "once", At: at}

	if got, ok := once.Next(at.Add(-time.Minute)); !ok || !got.Equal(at) {
		t.Errorf("Next before = %s, %v", got, ok)
	}
	if _, ok := once.Next(at); ok {
		t.Error("expected no occurrence at or after At")
	}
}

func TestScheduler_OrdersAcrossRules(t *testing.T) {
	s := New(utc(2024, 1, 2, 0, 0))
	s.Register(MarketRules(DefaultMarketTimes, nil, Weekdays)...)

	want := []string{BeforeMarketOpen, MarketOpen, MarketClose, AfterMarketClose, BeforeMarketOpen}
	now := utc(2024, 1, 2, 0, 0)
	for i, name := range want {
		ev, err := s.NextTimeEvent(now)
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if ev.RuleName() != name {
			t.Errorf("event %d rule = %s, want %s", i, ev.RuleName(), name)
		}
		now = ev.At
	}
}

func TestScheduler_StartIsInclusive(t *testing.T) {
	start := utc(2024, 1, 2, 13, 30)
	s := New(start)
	s.Register(Daily{RuleName: MarketOpen, At: Clock{Hour: 13, Minute: 30}})

	ev, err := s.NextTimeEvent(start)
	if err != nil {
		t.Fatal(err)
	}
	if !ev.At.Equal(start) {
		t.Errorf("first event at %s, want %s", ev.At, start)
	}
}

func TestScheduler_TieBreakByRegistrationOrder(t *testing.T) {
	at := utc(2024, 1, 2, 13, 30)
	s := New(utc(2024, 1, 2, 0, 0))
	s.Register(
		Once{RuleName: "first", At: at},
		Once{RuleName: "second", At: at},
		Once{RuleName: "third", At: at},
	)

	for _, name := range []string{"first", "second", "third"} {
		ev, err := s.NextTimeEvent(at)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if ev.RuleName() != name || !ev.At.Equal(at) {
			t.Errorf("got %s at %s, want %s at %s", ev.RuleName(), ev.At, name, at)
		}
	}

	if _, err := s.NextTimeEvent(at); !errors.Is(err, ErrNoMoreEvents) {
		t.Errorf("expected ErrNoMoreEvents, got %v", err)
	}
}

func TestScheduler_Monotonic(t *testing.T) {
	s := New(utc(2024, 1, 1, 0, 0))
	s.Register(MarketRules(DefaultMarketTimes, nil, Weekdays)...)
	s.Register(Periodic{RuleName: "half_hourly", Every: 30 * time.Minute, From: Clock{Hour: 13, Minute: 30}, To: Clock{Hour: 20}, Days: Weekdays})

	now := utc(2024, 1, 1, 0, 0)
	var last time.Time
	for i := 0; i < 500; i++ {
		ev, err := s.NextTimeEvent(now)
		if err != nil {
			t.Fatal(err)
		}
		if ev.At.Before(last) {
			t.Fatalf("event %d at %s is before previous %s", i, ev.At, last)
		}
		last = ev.At
		now = ev.At
	}
}

func TestScheduler_SkipsMissedOccurrences(t *testing.T) {
	s := New(utc(2024, 1, 2, 0, 0))
	s.Register(Daily{RuleName: MarketOpen, At: Clock{Hour: 13, Minute: 30}})

	// The clock is already past Tuesday's and Wednesday's open.
	ev, err := s.NextTimeEvent(utc(2024, 1, 3, 15, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !ev.At.Equal(utc(2024, 1, 4, 13, 30)) {
		t.Errorf("got %s, want 2024-01-04 13:30", ev.At)
	}
}

func TestScheduler_EmptyIsExhausted(t *testing.T) {
	s := New(utc(2024, 1, 2, 0, 0))
	if _, err := s.NextTimeEvent(utc(2024, 1, 2, 0, 0)); !errors.Is(err, ErrNoMoreEvents) {
		t.Errorf("expected ErrNoMoreEvents, got %v", err)
	}
}
