// Package event implements the session's event queue and the manager that
// publishes events to subscribers.
package event

import (
	"fmt"
	"time"
)

// Kind tags an event. Kinds from KindUser upward are free for callers.
type Kind int

const (
	// KindAll subscribes a handler to every kind. It is never an event's kind.
	KindAll Kind = iota - 1
	// KindTime is a scheduled time event.
	KindTime
	// KindEmptyQueue signals that no event is due; it drives the clock.
	KindEmptyQueue
	// KindEndTrading is the terminal event of a session.
	KindEndTrading
	// KindUser is the first kind available for user-defined events.
	KindUser Kind = 100
)

func (k Kind) String() string {
	switch k {
	case KindAll:
		return "all"
	case KindTime:
		return "time"
	case KindEmptyQueue:
		return "empty_queue"
	case KindEndTrading:
		return "end_trading"
	}
	return fmt.Sprintf("user_%d", int(k))
}

// Event is an immutable, timestamped occurrence.
type Event interface {
	Time() time.Time
	Kind() Kind
}

// EmptyQueue is published when the queue holds no due events.
type EmptyQueue struct {
	At time.Time
}

func (e EmptyQueue) Time() time.Time { return e.At }
func (EmptyQueue) Kind() Kind        { return KindEmptyQueue }

// EndTrading terminates a session. Subscribers must stop time-based
// processing on receipt; non-time cleanup may still run.
type EndTrading struct {
	At time.Time
}

func (e EndTrading) Time() time.Time { return e.At }
func (EndTrading) Kind() Kind        { return KindEndTrading }
