// Package session assembles and runs one trading session: clock, event
// manager, scheduler, time-flow controller, portfolio, broker, execution
// and strategies.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/session-engine/internal/broker"
	"github.com/atmx/session-engine/internal/event"
	"github.com/atmx/session-engine/internal/execution"
	"github.com/atmx/session-engine/internal/model"
	"github.com/atmx/session-engine/internal/order"
	"github.com/atmx/session-engine/internal/portfolio"
	"github.com/atmx/session-engine/internal/risk"
	"github.com/atmx/session-engine/internal/schedule"
	"github.com/atmx/session-engine/internal/slippage"
	"github.com/atmx/session-engine/internal/store"
	"github.com/atmx/session-engine/internal/strategy"
	"github.com/atmx/session-engine/internal/timeflow"
	"github.com/atmx/session-engine/internal/timer"
)

// Mode selects the clock of a session.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

// State is the lifecycle state of a session.
type State string

const (
	StateReady    State = "ready"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

var (
	ErrNoMode      = errors.New("session: mode not set, call Backtest or Live")
	ErrNoPrices    = errors.New("session: price source is required")
	ErrInvalidSpan = errors.New("session: backtest end must be after start")
	ErrBuilt       = errors.New("session: builder already used")
)

// PriceSource returns last available prices for the session's clock.
type PriceSource interface {
	LastAvailablePrices(ctx context.Context, contracts []model.Contract) (map[model.Contract]float64, error)
}

// Session is one assembled trading session. Handlers run on the goroutine
// calling Run; Status and the read accessors are safe from other goroutines.
type Session struct {
	name   string
	mode   Mode
	start  time.Time
	end    time.Time
	clock  timer.Timer
	events *event.Manager
	sched  *schedule.Scheduler

	portfolio *portfolio.Portfolio
	broker    *broker.Broker
	exec      *execution.Simulated
	factory   *order.Factory
	store     store.Store
	logger    *slog.Logger

	mu         sync.RWMutex
	state      State
	lastEvent  time.Time
	timeEvents int
	strategies int
	runErr     error
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// Mode returns the session mode.
func (s *Session) Mode() Mode { return s.mode }

// Timer returns the session clock.
func (s *Session) Timer() timer.Timer { return s.clock }

// Portfolio returns the session portfolio.
func (s *Session) Portfolio() *portfolio.Portfolio { return s.portfolio }

// Broker returns the session broker.
func (s *Session) Broker() *broker.Broker { return s.broker }

// OrderFactory returns the order factory bound to the session broker.
func (s *Session) OrderFactory() *order.Factory { return s.factory }

// Store returns the session store.
func (s *Session) Store() store.Store { return s.store }

// Subscribe registers h on the session's event manager.
func (s *Session) Subscribe(kind event.Kind, h event.Handler) {
	s.events.Subscribe(kind, h)
}

// AddFillSink forwards every fill to sink.
func (s *Session) AddFillSink(sink execution.FillSink) {
	s.exec.AddSink(sink)
}

// AddStrategy calls st on every time event of the named rules. Without
// rule names the strategy runs at market open.
func (s *Session) AddStrategy(st strategy.Strategy, rules ...string) {
	if len(rules) == 0 {
		rules = []string{schedule.MarketOpen}
	}
	s.mu.Lock()
	s.strategies++
	s.mu.Unlock()

	s.events.Subscribe(event.KindTime, event.HandlerFunc(func(ctx context.Context, ev event.Event) error {
		te, ok := ev.(schedule.TimeEvent)
		if !ok || !slices.Contains(rules, te.RuleName()) {
			return nil
		}
		return st.CalculateAndPlaceOrders(ctx)
	}))
}

// Run drives the session until the end of trading or until ctx is
// cancelled. Cancelling a live session is its normal way to stop; Run then
// returns nil.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return fmt.Errorf("session: cannot run in state %s", s.state)
	}
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Info("session started", "mode", s.mode, "start", s.start, "end", s.end)
	err := s.events.Run(ctx)
	if s.mode == ModeLive && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = nil
	}

	s.mu.Lock()
	s.runErr = err
	if err != nil {
		s.state = StateFailed
	} else {
		s.state = StateFinished
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("session failed", "error", err)
		return err
	}
	s.logger.Info("session finished",
		"time_events", s.timeEventCount(),
		"cash", s.portfolio.Cash().String(),
		"realized_pnl", s.portfolio.RealizedPnL().String(),
	)
	return nil
}

// Status is a point-in-time summary of a session.
type Status struct {
	Name        string          `json:"name"`
	Mode        Mode            `json:"mode"`
	State       State           `json:"state"`
	Now         time.Time       `json:"now"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end,omitempty"`
	LastEvent   time.Time       `json:"last_event,omitempty"`
	TimeEvents  int             `json:"time_events"`
	Strategies  int             `json:"strategies"`
	Pending     int             `json:"pending_events"`
	OpenOrders  int             `json:"open_orders"`
	Cash        decimal.Decimal `json:"cash"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Error       string          `json:"error,omitempty"`
}

// Status returns the current session summary.
func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{
		Name:       s.name,
		Mode:       s.mode,
		State:      s.state,
		Start:      s.start,
		End:        s.end,
		LastEvent:  s.lastEvent,
		TimeEvents: s.timeEvents,
		Strategies: s.strategies,
	}
	if s.runErr != nil {
		st.Error = s.runErr.Error()
	}
	s.mu.RUnlock()

	st.Now = s.clock.Now()
	st.Pending = s.events.Pending()
	st.OpenOrders = len(s.broker.OpenOrders())
	st.Cash = s.portfolio.Cash()
	st.RealizedPnL = s.portfolio.RealizedPnL()
	return st
}

func (s *Session) timeEventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeEvents
}

// track records time events for Status.
func (s *Session) track(_ context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEvent = ev.Time()
	s.timeEvents++
	return nil
}

// snapshot stores the portfolio value after the close and at the end of
// trading.
func (s *Session) snapshot(ctx context.Context, ev event.Event) error {
	if te, ok := ev.(schedule.TimeEvent); ok && te.RuleName() != schedule.MarketClose {
		return nil
	}
	snap, err := s.portfolio.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("session: snapshot: %w", err)
	}
	if err := s.store.InsertSnapshot(ctx, s.name, snap); err != nil {
		return fmt.Errorf("session: store snapshot: %w", err)
	}
	s.logger.Debug("portfolio snapshot", "time", snap.Time, "value", snap.Value.String())
	return nil
}

// Builder assembles a Session.
type Builder struct {
	name   string
	logger *slog.Logger

	mode     Mode
	start    time.Time
	end      time.Time
	settable *timer.SettableTimer
	clock    timer.Timer

	marketTimes schedule.MarketTimes
	location    *time.Location
	days        []time.Weekday
	extraRules  []schedule.Rule
	execRules   []string

	initialCash decimal.Decimal
	prices      PriceSource
	slippage    slippage.Model
	commission  execution.CommissionModel
	limiter     *risk.PositionLimiter
	store       store.Store
	built       bool
}

// NewBuilder starts assembling a session with the default market times,
// Monday to Friday, trading at market open and close.
func NewBuilder(name string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		name:        name,
		logger:      logger.With("session", name),
		marketTimes: schedule.DefaultMarketTimes,
		days:        schedule.Weekdays,
		execRules:   []string{schedule.MarketOpen, schedule.MarketClose},
		initialCash: decimal.NewFromInt(100000),
	}
}

// Backtest selects a simulated clock running from start to end.
func (b *Builder) Backtest(start, end time.Time) *Builder {
	b.mode = ModeBacktest
	b.start, b.end = start.UTC(), end.UTC()
	b.settable = timer.NewSettableTimer(b.start)
	b.clock = b.settable
	return b
}

// Live selects the wall clock. The session starts now and has no end.
func (b *Builder) Live() *Builder {
	b.mode = ModeLive
	rt := timer.NewRealTimer()
	b.clock = rt
	b.start = rt.Now()
	b.end = time.Time{}
	return b
}

// Timer returns the clock chosen by Backtest or Live, for price sources
// that need it. It is nil before a mode is selected.
func (b *Builder) Timer() timer.Timer { return b.clock }

// WithMarketTimes replaces the market rule times, location and trading days.
func (b *Builder) WithMarketTimes(t schedule.MarketTimes, loc *time.Location, days []time.Weekday) *Builder {
	b.marketTimes, b.location, b.days = t, loc, days
	return b
}

// WithRules registers additional rules after the market rules.
func (b *Builder) WithRules(rules ...schedule.Rule) *Builder {
	b.extraRules = append(b.extraRules, rules...)
	return b
}

// WithExecutionRules sets the rules on which open orders are matched.
func (b *Builder) WithExecutionRules(names ...string) *Builder {
	b.execRules = names
	return b
}

// WithInitialCash sets the starting cash.
func (b *Builder) WithInitialCash(cash decimal.Decimal) *Builder {
	b.initialCash = cash
	return b
}

// WithPrices sets the price source used for sizing, execution and valuation.
func (b *Builder) WithPrices(p PriceSource) *Builder {
	b.prices = p
	return b
}

// WithSlippage sets the slippage model.
func (b *Builder) WithSlippage(m slippage.Model) *Builder {
	b.slippage = m
	return b
}

// WithCommission sets the commission model.
func (b *Builder) WithCommission(m execution.CommissionModel) *Builder {
	b.commission = m
	return b
}

// WithLimiter enables pre-trade position limits.
func (b *Builder) WithLimiter(l *risk.PositionLimiter) *Builder {
	b.limiter = l
	return b
}

// WithStore sets where fills and snapshots are persisted. Defaults to an
// in-memory store.
func (b *Builder) WithStore(st store.Store) *Builder {
	b.store = st
	return b
}

// Build wires the session. Subscription order, and so delivery order on
// each event, is: time-flow controller, execution, status tracking,
// snapshots, then components added later (strategies, sinks). Orders placed
// by a strategy are therefore matched on the next execution rule, never on
// the event that produced them.
func (b *Builder) Build() (*Session, error) {
	if b.built {
		return nil, ErrBuilt
	}
	if b.mode == "" {
		return nil, ErrNoMode
	}
	if b.prices == nil {
		return nil, ErrNoPrices
	}
	if b.mode == ModeBacktest && !b.end.After(b.start) {
		return nil, fmt.Errorf("%w: %s .. %s", ErrInvalidSpan, b.start, b.end)
	}
	b.built = true

	st := b.store
	if st == nil {
		st = store.NewMemoryStore()
	}

	sched := schedule.New(b.start)
	sched.Register(schedule.MarketRules(b.marketTimes, b.location, b.days)...)
	sched.Register(b.extraRules...)

	events := event.NewManager(b.clock, b.logger)
	switch b.mode {
	case ModeBacktest:
		timeflow.NewBacktest(sched, events, b.settable, b.end, b.logger)
	case ModeLive:
		timeflow.NewLive(sched, events, b.clock, b.logger)
	}

	pf := portfolio.New(b.initialCash, b.prices, b.clock, b.logger)
	exec := execution.NewSimulated(b.prices, b.slippage, b.commission, pf, b.clock, b.logger)
	exec.SetLocation(b.location)
	exec.Attach(events, b.execRules...)
	brk := broker.New(pf, exec, b.prices, b.limiter, b.clock, b.logger)

	s := &Session{
		name:      b.name,
		mode:      b.mode,
		start:     b.start,
		end:       b.end,
		clock:     b.clock,
		events:    events,
		sched:     sched,
		portfolio: pf,
		broker:    brk,
		exec:      exec,
		factory:   order.NewFactory(brk, b.prices, b.logger),
		store:     st,
		logger:    b.logger,
		state:     StateReady,
	}

	exec.AddSink(execution.FillSinkFunc(func(ctx context.Context, f model.Fill) error {
		return st.InsertFill(ctx, s.name, f)
	}))
	events.SubscribeFunc(event.KindTime, s.track)
	events.SubscribeFunc(event.KindTime, s.snapshot)
	events.SubscribeFunc(event.KindEndTrading, s.snapshot)
	return s, nil
}
