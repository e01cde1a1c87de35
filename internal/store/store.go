// Package store defines the persistence interface for session results.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for backtests and testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/session-engine/internal/model"
)

// ErrDuplicateFill is returned when a fill ID is stored twice.
var ErrDuplicateFill = errors.New("store: duplicate fill")

// Store is the persistence interface. Records are scoped by session name so
// one database can hold many runs. Fills and snapshots are append-only.
type Store interface {
	// --- Trade log ---

	// InsertFill appends an immutable fill record.
	InsertFill(ctx context.Context, session string, f model.Fill) error

	// ListFills returns all fills of a session in time order.
	ListFills(ctx context.Context, session string) ([]model.Fill, error)

	// ListFillsByContract returns the fills of one contract in time order.
	ListFillsByContract(ctx context.Context, session string, c model.Contract) ([]model.Fill, error)

	// --- Portfolio time series ---

	// InsertSnapshot appends a portfolio value record.
	InsertSnapshot(ctx context.Context, session string, s model.PortfolioSnapshot) error

	// ListSnapshots returns the portfolio value series of a session.
	ListSnapshots(ctx context.Context, session string) ([]model.PortfolioSnapshot, error)
}
