// Package timeflow moves a session from one scheduled time event to the
// next. Backtest sessions jump the simulated clock; live sessions sleep.
package timeflow

import (
	"context"
	"time"

	"github.com/atmx/session-engine/internal/event"
	"github.com/atmx/session-engine/internal/schedule"
)

// Controller produces the next time event of a session.
type Controller interface {
	GenerateTimeEvent(ctx context.Context) error
}

// Bus is the part of the event manager a controller needs.
type Bus interface {
	Publish(ev event.Event) error
	Subscribe(kind event.Kind, h event.Handler)
}

// Source yields scheduled time events. *schedule.Scheduler implements it.
type Source interface {
	NextTimeEvent(now time.Time) (schedule.TimeEvent, error)
}

// attach makes the empty-queue signal the only trigger of c.
func attach(bus Bus, c Controller) {
	bus.Subscribe(event.KindEmptyQueue, event.HandlerFunc(func(ctx context.Context, _ event.Event) error {
		return c.GenerateTimeEvent(ctx)
	}))
}
