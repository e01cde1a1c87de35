package timeflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/session-engine/internal/metrics"
	"github.com/atmx/session-engine/internal/schedule"
	"github.com/atmx/session-engine/internal/timer"
)

// ErrScheduleExhausted is returned by a live controller whose schedule has no
// future occurrence. A live session cannot continue without one.
var ErrScheduleExhausted = errors.New("timeflow: live schedule has no future events")

// Live waits in real time for each scheduled event. It has no end date; the
// session runs until its context is cancelled.
type Live struct {
	source Source
	bus    Bus
	clock  timer.Timer
	logger *slog.Logger
}

// NewLive subscribes a live controller to bus.
func NewLive(source Source, bus Bus, clock timer.Timer, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Live{source: source, bus: bus, clock: clock, logger: logger}
	attach(bus, l)
	return l
}

// GenerateTimeEvent sleeps until the next scheduled event and publishes it.
// A cancelled ctx interrupts the sleep and its error is returned.
func (l *Live) GenerateTimeEvent(ctx context.Context) error {
	ev, err := l.source.NextTimeEvent(l.clock.Now())
	if errors.Is(err, schedule.ErrNoMoreEvents) {
		return ErrScheduleExhausted
	}
	if err != nil {
		return fmt.Errorf("timeflow: next time event: %w", err)
	}

	start := time.Now()
	l.logger.Debug("waiting for time event", "rule", ev.RuleName(), "at", ev.At)
	if err := l.waitUntil(ctx, ev.At); err != nil {
		return err
	}
	metrics.LiveWait.Observe(time.Since(start).Seconds())
	metrics.SessionTime.Set(float64(ev.At.Unix()))
	metrics.TimeEvents.WithLabelValues(ev.RuleName()).Inc()
	return l.bus.Publish(ev)
}

// waitUntil returns once the clock reaches at. A timer that fires early is
// re-armed for the remainder.
func (l *Live) waitUntil(ctx context.Context, at time.Time) error {
	for {
		d := at.Sub(l.clock.Now())
		if d <= 0 {
			return nil
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
