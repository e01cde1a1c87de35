package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/atmx/session-engine/internal/api"
	"github.com/atmx/session-engine/internal/event"
	"github.com/atmx/session-engine/internal/execution"
	"github.com/atmx/session-engine/internal/model"
	"github.com/atmx/session-engine/internal/schedule"
	"github.com/atmx/session-engine/internal/session"
	"github.com/atmx/session-engine/internal/store"
)

var (
	aapl = model.Contract{Symbol: "AAPL", SecType: "STK", Exchange: "NASDAQ"}
	spy  = model.Contract{Symbol: "SPY", SecType: "STK", Exchange: "ARCA"}
	t0   = time.Date(2024, 1, 2, 20, 0, 0, 0, time.UTC)
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeStatus struct{}

func (fakeStatus) Name() string { return "test" }

func (fakeStatus) Status() session.Status {
	return session.Status{Name: "test", Mode: session.ModeBacktest, State: session.StateRunning, Now: t0, TimeEvents: 7}
}

type fakeAccount struct{}

func (fakeAccount) Positions(context.Context) ([]model.Position, error) {
	return []model.Position{{Contract: aapl, Quantity: 10, AvgPrice: d("100")}}, nil
}
func (fakeAccount) PortfolioValue(context.Context) (decimal.Decimal, error) { return d("101000"), nil }
func (fakeAccount) Cash() decimal.Decimal                                   { return d("99000") }
func (fakeAccount) InitialCash() decimal.Decimal                            { return d("100000") }
func (fakeAccount) RealizedPnL() decimal.Decimal                            { return decimal.Zero }

type fakeOrders struct {
	open []model.Order
}

func (f *fakeOrders) OpenOrders() []model.Order { return f.open }

func (f *fakeOrders) CancelOrder(id string) error {
	for i, o := range f.open {
		if o.ID == id {
			f.open = append(f.open[:i], f.open[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", execution.ErrOrderNotFound, id)
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, *fakeOrders, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	orders := &fakeOrders{open: []model.Order{
		{ID: "o1", Contract: aapl, Quantity: 5, Style: model.LimitOrder{LimitPrice: 99.5}, TIF: model.GTC, CreatedAt: t0},
	}}
	svc := api.NewService(fakeStatus{}, fakeAccount{}, orders, ms, nil, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return ms, orders, r
}

func do(t *testing.T, router chi.Router, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetSession(t *testing.T) {
	_, _, router := newTestEnv(t)
	w := do(t, router, "GET", "/api/v1/session")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var st session.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Name != "test" || st.State != session.StateRunning || st.TimeEvents != 7 {
		t.Errorf("status = %+v", st)
	}
}

func TestGetPortfolio(t *testing.T) {
	_, _, router := newTestEnv(t)
	w := do(t, router, "GET", "/api/v1/portfolio")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.PortfolioResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Value.Equal(d("101000")) || !resp.Return.Equal(d("1")) {
		t.Errorf("value = %s return = %s, want 101000 and 1%%", resp.Value, resp.Return)
	}
	if len(resp.Positions) != 1 || resp.Positions[0].Contract != aapl {
		t.Errorf("positions = %+v", resp.Positions)
	}
}

func TestListFills(t *testing.T) {
	ms, _, router := newTestEnv(t)
	ctx := context.Background()
	ms.InsertFill(ctx, "test", model.Fill{ID: "f1", Contract: aapl, Quantity: 10, Price: d("100"), Time: t0})
	ms.InsertFill(ctx, "test", model.Fill{ID: "f2", Contract: spy, Quantity: 2, Price: d("400"), Time: t0})
	ms.InsertFill(ctx, "other", model.Fill{ID: "f3", Contract: aapl, Quantity: 1, Price: d("100"), Time: t0})

	tests := []struct {
		path string
		code int
		want int
	}{
		{"/api/v1/fills", http.StatusOK, 2},
		{"/api/v1/fills?contract=AAPL:STK:NASDAQ", http.StatusOK, 1},
		{"/api/v1/fills?contract=MSFT:STK:NASDAQ", http.StatusOK, 0},
		{"/api/v1/fills?contract=garbage", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		w := do(t, router, "GET", tt.path)
		if w.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.code, w.Code)
			continue
		}
		if tt.code != http.StatusOK {
			continue
		}
		var fills []model.Fill
		if err := json.NewDecoder(w.Body).Decode(&fills); err != nil {
			t.Fatal(err)
		}
		if len(fills) != tt.want {
			t.Errorf("%s: got %d fills, want %d", tt.path, len(fills), tt.want)
		}
	}
}

func TestListSnapshots_Empty(t *testing.T) {
	_, _, router := newTestEnv(t)
	w := do(t, router, "GET", "/api/v1/snapshots")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("got %d %q, want 200 []", w.Code, w.Body.String())
	}
}

func TestListOrders(t *testing.T) {
	_, _, router := newTestEnv(t)
	w := do(t, router, "GET", "/api/v1/orders")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var views []struct {
		ID    string `json:"id"`
		Style string `json:"style"`
		TIF   string `json:"time_in_force"`
	}
	if err := json.NewDecoder(w.Body).Decode(&views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].ID != "o1" || views[0].Style != "LMT(99.5)" || views[0].TIF != "GTC" {
		t.Errorf("orders = %+v", views)
	}
}

func TestCancelOrder(t *testing.T) {
	_, orders, router := newTestEnv(t)

	if w := do(t, router, "DELETE", "/api/v1/orders/o1"); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(orders.open) != 0 {
		t.Errorf("order still open")
	}

	w := do(t, router, "DELETE", "/api/v1/orders/o1")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["error"] != "order not found" {
		t.Errorf("error body = %v", body)
	}
}

func TestWSHub_BroadcastsFillsAndEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.NewWSHub("test", nil)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.OnFill(ctx, model.Fill{ID: "f1", Contract: aapl, Quantity: 10, Price: d("100"), Time: t0})
	hub.Handle(ctx, event.EmptyQueue{At: t0})
	hub.Handle(ctx, schedule.TimeEvent{At: t0, Rule: schedule.Daily{RuleName: schedule.MarketClose}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var fill api.WSMessage
	if err := conn.ReadJSON(&fill); err != nil {
		t.Fatalf("read fill: %v", err)
	}
	if fill.Type != "fill" || fill.Fill == nil || fill.Fill.ID != "f1" || fill.Session != "test" {
		t.Errorf("fill message = %+v", fill)
	}

	// The empty-queue signal is not broadcast.
	var ev api.WSMessage
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != "event" || ev.Event == nil || ev.Event.Rule != schedule.MarketClose || ev.Event.Kind != "time" {
		t.Errorf("event message = %+v", ev)
	}
}
