// Package api serves the read-mostly HTTP surface of a running session:
// status, portfolio, fills, snapshots and open orders, plus a WebSocket feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/session-engine/internal/contract"
	"github.com/atmx/session-engine/internal/execution"
	"github.com/atmx/session-engine/internal/model"
	"github.com/atmx/session-engine/internal/session"
	"github.com/atmx/session-engine/internal/store"
)

// StatusSource reports the session status.
type StatusSource interface {
	Name() string
	Status() session.Status
}

// Account is the portfolio view served by the API.
type Account interface {
	Positions(ctx context.Context) ([]model.Position, error)
	PortfolioValue(ctx context.Context) (decimal.Decimal, error)
	Cash() decimal.Decimal
	InitialCash() decimal.Decimal
	RealizedPnL() decimal.Decimal
}

// OrderBook lists and cancels open orders.
type OrderBook interface {
	OpenOrders() []model.Order
	CancelOrder(orderID string) error
}

// Service handles the session API.
type Service struct {
	status StatusSource
	acct   Account
	orders OrderBook
	store  store.Store
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
	logger *slog.Logger
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(status StatusSource, acct Account, orders OrderBook, st store.Store, hub *WSHub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{status: status, acct: acct, orders: orders, store: st, wsHub: hub, logger: logger}
}

// Routes mounts the /api/v1 handlers on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/session", s.GetSession)
	r.Get("/portfolio", s.GetPortfolio)
	r.Get("/fills", s.ListFills)
	r.Get("/snapshots", s.ListSnapshots)
	r.Get("/orders", s.ListOrders)
	r.Delete("/orders/{orderID}", s.CancelOrder)
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Response types ---

// PortfolioResponse is the JSON body returned from GET /portfolio.
type PortfolioResponse struct {
	Session     string           `json:"session"`
	Cash        decimal.Decimal  `json:"cash"`
	InitialCash decimal.Decimal  `json:"initial_cash"`
	Value       decimal.Decimal  `json:"value"`
	RealizedPnL decimal.Decimal  `json:"realized_pnl"`
	Return      decimal.Decimal  `json:"return_pct"`
	Positions   []model.Position `json:"positions"`
}

// OrderView is an open order with its execution style spelled out.
type OrderView struct {
	model.Order
	Style string `json:"style"`
	TIF   string `json:"time_in_force"`
}

// GetSession handles GET /api/v1/session
func (s *Service) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status.Status())
}

// GetPortfolio handles GET /api/v1/portfolio
// Returns cash, marked value, realized P&L and positions.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	positions, err := s.acct.Positions(ctx)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	value, err := s.acct.PortfolioValue(ctx)
	if err != nil {
		s.logger.Error("portfolio value failed", "err", err)
		writeError(w, "failed to value portfolio", http.StatusInternalServerError)
		return
	}

	initial := s.acct.InitialCash()
	ret := decimal.Zero
	if initial.IsPositive() {
		ret = value.Sub(initial).Div(initial).Mul(decimal.NewFromInt(100)).Round(2)
	}
	if positions == nil {
		positions = []model.Position{}
	}

	writeJSON(w, PortfolioResponse{
		Session:     s.status.Name(),
		Cash:        s.acct.Cash(),
		InitialCash: initial,
		Value:       value,
		RealizedPnL: s.acct.RealizedPnL(),
		Return:      ret,
		Positions:   positions,
	})
}

// ListFills handles GET /api/v1/fills?contract=AAPL:STK:NASDAQ
func (s *Service) ListFills(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := s.status.Name()

	var fills []model.Fill
	var err error
	if id := r.URL.Query().Get("contract"); id != "" {
		c, perr := contract.Parse(id)
		if perr != nil {
			writeError(w, perr.Error(), http.StatusBadRequest)
			return
		}
		fills, err = s.store.ListFillsByContract(ctx, name, c)
	} else {
		fills, err = s.store.ListFills(ctx, name)
	}
	if err != nil {
		s.logger.Error("list fills failed", "err", err)
		writeError(w, "failed to load fills", http.StatusInternalServerError)
		return
	}
	if fills == nil {
		fills = []model.Fill{}
	}
	writeJSON(w, fills)
}

// ListSnapshots handles GET /api/v1/snapshots
func (s *Service) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.store.ListSnapshots(r.Context(), s.status.Name())
	if err != nil {
		s.logger.Error("list snapshots failed", "err", err)
		writeError(w, "failed to load snapshots", http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []model.PortfolioSnapshot{}
	}
	writeJSON(w, snaps)
}

// ListOrders handles GET /api/v1/orders
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	open := s.orders.OpenOrders()
	views := make([]OrderView, 0, len(open))
	for _, o := range open {
		v := OrderView{Order: o, TIF: o.TIF.String()}
		if o.Style != nil {
			v.Style = o.Style.String()
		}
		views = append(views, v)
	}
	writeJSON(w, views)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	if err := s.orders.CancelOrder(orderID); err != nil {
		if errors.Is(err, execution.ErrOrderNotFound) {
			writeError(w, "order not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to cancel order", http.StatusInternalServerError)
		return
	}
	s.logger.Info("order cancelled via api", "order_id", orderID)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
