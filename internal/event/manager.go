package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atmx/session-engine/internal/metrics"
	"github.com/atmx/session-engine/internal/timer"
)

var (
	// ErrSessionEnded is returned by Publish once EndTrading was delivered.
	ErrSessionEnded = errors.New("event: session has ended")

	// ErrStalled is returned by Run when an empty queue signal was delivered
	// twice in a row without anything becoming due, i.e. no controller is
	// advancing the clock.
	ErrStalled = errors.New("event: no subscriber advanced the session clock")
)

// Handler receives delivered events.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type subscription struct {
	kind    Kind
	handler Handler
}

// Manager owns the session's event queue. It publishes events into the
// queue and delivers due events to subscribers.
//
// Each event is delivered to every matching subscriber in the order the
// subscriptions were made, across kinds: there is no kind priority. Events
// are delivered in timestamp order, FIFO among equal timestamps. Publish is
// safe for concurrent use.
type Manager struct {
	timer  timer.Timer
	logger *slog.Logger

	mu    sync.Mutex
	q     queue
	seq   uint64
	subs  []subscription
	ended bool
}

// NewManager creates the event manager of one session. Events are due once
// their timestamp is at or before t.Now().
func NewManager(t timer.Timer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{timer: t, logger: logger}
}

// Subscribe registers h for events of kind (or KindAll).
func (m *Manager) Subscribe(kind Kind, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, subscription{kind: kind, handler: h})
}

// SubscribeFunc registers fn for events of kind (or KindAll).
func (m *Manager) SubscribeFunc(kind Kind, fn func(ctx context.Context, ev Event) error) {
	m.Subscribe(kind, HandlerFunc(fn))
}

// Publish inserts ev into the queue.
func (m *Manager) Publish(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return ErrSessionEnded
	}
	m.seq++
	m.q.push(ev, m.seq)
	metrics.EventsPublished.WithLabelValues(ev.Kind().String()).Inc()
	return nil
}

// Pending returns the number of queued events.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Len()
}

// Ended reports whether EndTrading has been delivered.
func (m *Manager) Ended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ended
}

// Dispatch delivers every event due at or before the timer's current time
// and returns how many were delivered. Events published by handlers are
// delivered in the same call if they are due. Dispatch stops right after an
// EndTrading event.
func (m *Manager) Dispatch(ctx context.Context) (int, error) {
	delivered := 0
	for {
		ev, ok := m.nextDue()
		if !ok {
			return delivered, nil
		}
		if err := m.deliver(ctx, ev); err != nil {
			return delivered, err
		}
		delivered++
		if ev.Kind() == KindEndTrading {
			return delivered, nil
		}
	}
}

// Run drives the session loop until EndTrading is delivered. Whenever no
// event is due an EmptyQueue event is published, which is what lets the
// time-flow controller produce the next time event without polling.
//
// When ctx is cancelled Run delivers a terminal EndTrading event with a
// context that is no longer cancelled, so cleanup subscribers still run, and
// returns ctx.Err().
func (m *Manager) Run(ctx context.Context) error {
	signalled := false
	bare := 0
	for {
		if ctx.Err() != nil {
			return m.stop(ctx)
		}

		n, err := m.Dispatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return m.stop(ctx)
			}
			return err
		}
		if m.Ended() {
			return nil
		}

		if signalled {
			// n == 1 means only the empty-queue signal itself was delivered.
			if n <= 1 {
				bare++
			} else {
				bare = 0
			}
			if bare > 1 {
				return ErrStalled
			}
		}

		if err := m.Publish(EmptyQueue{At: m.timer.Now()}); err != nil {
			return err
		}
		signalled = true
	}
}

// stop ends the session after an external stop signal.
func (m *Manager) stop(ctx context.Context) error {
	cause := ctx.Err()
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return cause
	}
	m.q = m.q[:0]
	m.mu.Unlock()

	end := EndTrading{At: m.timer.Now()}
	metrics.EventsPublished.WithLabelValues(end.Kind().String()).Inc()
	m.logger.Info("session stopped, delivering end of trading", "at", end.At, "cause", cause)
	if err := m.deliver(context.WithoutCancel(ctx), end); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (m *Manager) nextDue() (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return nil, false
	}
	ev, ok := m.q.peek()
	if !ok || ev.Time().After(m.timer.Now()) {
		return nil, false
	}
	return m.q.pop(), true
}

func (m *Manager) deliver(ctx context.Context, ev Event) error {
	m.mu.Lock()
	subs := make([]subscription, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	kind := ev.Kind()
	for _, s := range subs {
		if s.kind != KindAll && s.kind != kind {
			continue
		}
		metrics.EventsDelivered.WithLabelValues(kind.String()).Inc()
		if err := s.handler.Handle(ctx, ev); err != nil {
			return fmt.Errorf("event: deliver %s at %s: %w", kind, ev.Time().Format(time.RFC3339), err)
		}
	}

	if kind == KindEndTrading {
		m.mu.Lock()
		m.ended = true
		m.q = m.q[:0]
		m.mu.Unlock()
	}
	return nil
}
