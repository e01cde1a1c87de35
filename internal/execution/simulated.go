// Package execution simulates order execution against last available prices.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/session-engine/internal/event"
	"github.com/atmx/session-engine/internal/metrics"
	"github.com/atmx/session-engine/internal/model"
	"github.com/atmx/session-engine/internal/schedule"
	"github.com/atmx/session-engine/internal/slippage"
	"github.com/atmx/session-engine/internal/timer"
)

// ErrOrderNotFound is returned when cancelling an order that is not open.
var ErrOrderNotFound = errors.New("execution: order not found")

// PriceSource returns the last available price of each contract.
type PriceSource interface {
	LastAvailablePrices(ctx context.Context, contracts []model.Contract) (map[model.Contract]float64, error)
}

// Ledger books executed fills.
type Ledger interface {
	ApplyFill(f model.Fill)
}

// Subscriber is the part of the event manager the handler listens on.
type Subscriber interface {
	Subscribe(kind event.Kind, h event.Handler)
}

// FillSink receives every fill after it has been booked.
type FillSink interface {
	OnFill(ctx context.Context, f model.Fill) error
}

// FillSinkFunc is a function adapter for FillSink.
type FillSinkFunc func(ctx context.Context, f model.Fill) error

func (fn FillSinkFunc) OnFill(ctx context.Context, f model.Fill) error { return fn(ctx, f) }

// Simulated matches open orders on the time events of its execution rules.
// Market orders fill at the last price, stop orders once the price crosses
// the stop, limit orders at the limit once the price reaches it. DAY and
// OPG orders expire when the trading day changes. An order without a
// usable price stays open.
type Simulated struct {
	prices     PriceSource
	slippage   slippage.Model
	commission CommissionModel
	ledger     Ledger
	clock      timer.Timer
	location   *time.Location
	logger     *slog.Logger

	mu    sync.Mutex
	open  []model.Order
	sinks []FillSink
}

// NewSimulated creates a simulated execution handler. A nil slippage model
// or commission model means none.
func NewSimulated(prices PriceSource, sm slippage.Model, cm CommissionModel, ledger Ledger, clock timer.Timer, logger *slog.Logger) *Simulated {
	if logger == nil {
		logger = slog.Default()
	}
	if sm == nil {
		sm = slippage.NewPriceBased(0, logger)
	}
	if cm == nil {
		cm = FixedCommission{}
	}
	return &Simulated{
		prices:     prices,
		slippage:   sm,
		commission: cm,
		ledger:     ledger,
		clock:      clock,
		location:   time.UTC,
		logger:     logger,
	}
}

// SetLocation sets the time zone whose calendar days bound DAY and OPG
// orders. Nil means UTC.
func (s *Simulated) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = loc
}

// AddSink registers a fill sink.
func (s *Simulated) AddSink(sink FillSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Attach subscribes the handler to bus. Orders are matched on time events
// of the named rules; end of trading cancels every open order.
func (s *Simulated) Attach(bus Subscriber, rules ...string) {
	bus.Subscribe(event.KindTime, event.HandlerFunc(func(ctx context.Context, ev event.Event) error {
		te, ok := ev.(schedule.TimeEvent)
		if !ok || !slices.Contains(rules, te.RuleName()) {
			return nil
		}
		return s.Execute(ctx)
	}))
	bus.Subscribe(event.KindEndTrading, event.HandlerFunc(func(context.Context, event.Event) error {
		if n := s.CancelAll(); n > 0 {
			s.logger.Info("cancelled open orders at end of trading", "count", n)
		}
		return nil
	}))
}

// Accept queues orders for execution.
func (s *Simulated) Accept(orders ...model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = append(s.open, orders...)
	metrics.OpenOrders.Set(float64(len(s.open)))
}

// OpenOrders returns the orders waiting for execution.
func (s *Simulated) OpenOrders() []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.open)
}

// Cancel removes an open order.
func (s *Simulated) Cancel(orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.open, func(o model.Order) bool { return o.ID == orderID })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	s.open = slices.Delete(s.open, i, i+1)
	metrics.OpenOrders.Set(float64(len(s.open)))
	return nil
}

// CancelAll removes every open order and returns how many there were.
func (s *Simulated) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.open)
	s.open = nil
	metrics.OpenOrders.Set(0)
	return n
}

// Execute matches open orders at the current time and books the fills.
func (s *Simulated) Execute(ctx context.Context) error {
	now := s.clock.Now()

	s.mu.Lock()
	s.expire(now)
	pending := slices.Clone(s.open)
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	last, err := s.prices.LastAvailablePrices(ctx, contractsOf(pending))
	if err != nil {
		return fmt.Errorf("execution: last prices: %w", err)
	}

	var (
		matched      []model.Order
		theoreticals []float64
	)
	for _, o := range pending {
		px, ok := last[o.Contract]
		if !ok || math.IsNaN(px) || math.IsInf(px, 0) || px <= 0 {
			s.logger.Warn("no usable price, order stays open", "order_id", o.ID, "contract", o.Contract.String())
			metrics.OrdersSkipped.WithLabelValues("missing_price").Inc()
			continue
		}
		if fillPx, ok := match(o, px); ok {
			matched = append(matched, o)
			theoreticals = append(theoreticals, fillPx)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	fillPrices, volumes, err := s.slippage.Apply(matched, theoreticals)
	if err != nil {
		return fmt.Errorf("execution: slippage: %w", err)
	}

	candidates := make([]model.Fill, 0, len(matched))
	for i, o := range matched {
		if math.IsNaN(fillPrices[i]) || volumes[i] == 0 {
			continue
		}
		price := decimal.NewFromFloat(fillPrices[i])
		candidates = append(candidates, model.Fill{
			ID:         uuid.New().String(),
			OrderID:    o.ID,
			Time:       now,
			Contract:   o.Contract,
			Quantity:   volumes[i],
			Price:      price,
			Commission: s.commission.Commission(volumes[i], price),
		})
	}

	// Orders cancelled while prices were fetched must not be booked.
	s.mu.Lock()
	still := make(map[string]bool, len(s.open))
	for _, o := range s.open {
		still[o.ID] = true
	}
	fills := make([]model.Fill, 0, len(candidates))
	done := make(map[string]bool, len(candidates))
	for _, f := range candidates {
		if !still[f.OrderID] {
			s.logger.Info("order cancelled before fill, dropping", "order_id", f.OrderID)
			continue
		}
		fills = append(fills, f)
		done[f.OrderID] = true
	}
	s.open = slices.DeleteFunc(s.open, func(o model.Order) bool { return done[o.ID] })
	metrics.OpenOrders.Set(float64(len(s.open)))
	sinks := slices.Clone(s.sinks)
	s.mu.Unlock()

	for _, f := range fills {
		s.ledger.ApplyFill(f)
		side := metrics.Side(f.Quantity)
		metrics.FillsTotal.WithLabelValues(side).Inc()
		metrics.FillVolume.WithLabelValues(f.Contract.Symbol, side).Add(float64(abs(f.Quantity)))
		s.logger.Info("order filled",
			"order_id", f.OrderID,
			"contract", f.Contract.String(),
			"quantity", f.Quantity,
			"price", f.Price.String(),
			"commission", f.Commission.String(),
		)
		for _, sink := range sinks {
			if err := sink.OnFill(ctx, f); err != nil {
				s.logger.Error("fill sink failed", "fill_id", f.ID, "error", err)
			}
		}
	}
	return nil
}

// expire drops DAY and OPG orders created on an earlier calendar day of
// the session location.
// s.mu must be held.
func (s *Simulated) expire(now time.Time) {
	today := day(now, s.location)
	kept := s.open[:0]
	for _, o := range s.open {
		if (o.TIF == model.DAY || o.TIF == model.OPG) && day(o.CreatedAt, s.location).Before(today) {
			s.logger.Info("order expired", "order_id", o.ID, "tif", o.TIF.String())
			metrics.OrdersSkipped.WithLabelValues("expired").Inc()
			continue
		}
		kept = append(kept, o)
	}
	clear(s.open[len(kept):])
	s.open = kept
	metrics.OpenOrders.Set(float64(len(s.open)))
}

// match reports whether o executes at last price px and at which
// theoretical price.
func match(o model.Order, px float64) (float64, bool) {
	switch st := o.Style.(type) {
	case model.MarketOrder:
		return px, true
	case model.StopOrder:
		if o.IsBuy() && px >= st.StopPrice || !o.IsBuy() && px <= st.StopPrice {
			return px, true
		}
	case model.LimitOrder:
		if o.IsBuy() && px <= st.LimitPrice || !o.IsBuy() && px >= st.LimitPrice {
			return st.LimitPrice, true
		}
	}
	return 0, false
}

func contractsOf(orders []model.Order) []model.Contract {
	seen := make(map[model.Contract]bool, len(orders))
	out := make([]model.Contract, 0, len(orders))
	for _, o := range orders {
		if !seen[o.Contract] {
			seen[o.Contract] = true
			out = append(out, o.Contract)
		}
	}
	return out
}

func day(t time.Time, loc *time.Location) time.Time {
	y, m, dd := t.In(loc).Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, loc)
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
