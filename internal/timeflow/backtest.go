package timeflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/session-engine/internal/event"
	"github.com/atmx/session-engine/internal/metrics"
	"github.com/atmx/session-engine/internal/schedule"
	"github.com/atmx/session-engine/internal/timer"
)

// Backtest fast-forwards a simulated clock to each scheduled event until the
// end date. It never sleeps.
type Backtest struct {
	source Source
	bus    Bus
	clock  *timer.SettableTimer
	setter *timer.Setter
	end    time.Time
	logger *slog.Logger
	done   bool
}

// NewBacktest claims clock, so no other component can move it, and
// subscribes the controller to bus.
func NewBacktest(source Source, bus Bus, clock *timer.SettableTimer, end time.Time, logger *slog.Logger) *Backtest {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backtest{
		source: source,
		bus:    bus,
		clock:  clock,
		setter: clock.Claim(),
		end:    end,
		logger: logger,
	}
	attach(bus, b)
	return b
}

// Done reports whether the end of trading has been published.
func (b *Backtest) Done() bool { return b.done }

// GenerateTimeEvent publishes the next time event, or a single EndTrading
// event once the schedule passes the end date. After that it does nothing.
func (b *Backtest) GenerateTimeEvent(_ context.Context) error {
	if b.done {
		return nil
	}

	ev, err := b.source.NextTimeEvent(b.clock.Now())
	switch {
	case errors.Is(err, schedule.ErrNoMoreEvents):
		return b.finish("schedule exhausted")
	case err != nil:
		return fmt.Errorf("timeflow: next time event: %w", err)
	case ev.At.After(b.end):
		return b.finish("end date reached")
	}

	b.setter.Set(ev.At)
	metrics.SessionTime.Set(float64(ev.At.Unix()))
	metrics.TimeEvents.WithLabelValues(ev.RuleName()).Inc()
	return b.bus.Publish(ev)
}

func (b *Backtest) finish(reason string) error {
	b.done = true
	// The end event has to be due, otherwise the manager would never deliver it.
	if b.end.After(b.clock.Now()) {
		b.setter.Set(b.end)
		metrics.SessionTime.Set(float64(b.end.Unix()))
	}
	b.logger.Info("backtest finished", "end", b.end, "reason", reason)
	return b.bus.Publish(event.EndTrading{At: b.end})
}
