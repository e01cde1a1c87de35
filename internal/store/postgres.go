package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/session-engine/internal/model"
)

// Schema creates the tables used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS fills (
	id          TEXT PRIMARY KEY,
	session     TEXT NOT NULL,
	order_id    TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	sec_type    TEXT NOT NULL,
	exchange    TEXT NOT NULL,
	quantity    BIGINT NOT NULL,
	price       NUMERIC NOT NULL,
	commission  NUMERIC NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS fills_session_ts ON fills (session, timestamp);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	session     TEXT NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL,
	cash        NUMERIC NOT NULL,
	value       NUMERIC NOT NULL
);
CREATE INDEX IF NOT EXISTS snapshots_session_ts ON portfolio_snapshots (session, timestamp);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates missing tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertFill(ctx context.Context, session string, f model.Fill) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fills (id, session, order_id, symbol, sec_type, exchange, quantity, price, commission, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10)`,
		f.ID, session, f.OrderID,
		f.Contract.Symbol, f.Contract.SecType, f.Contract.Exchange,
		f.Quantity, f.Price.String(), f.Commission.String(),
		f.Time,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateFill, f.ID)
	}
	return err
}

func (s *PostgresStore) ListFills(ctx context.Context, session string) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, symbol, sec_type, exchange,
		        quantity, price::TEXT, commission::TEXT, timestamp
		 FROM fills WHERE session = $1 ORDER BY timestamp, id`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFills(rows)
}

func (s *PostgresStore) ListFillsByContract(ctx context.Context, session string, c model.Contract) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, symbol, sec_type, exchange,
		        quantity, price::TEXT, commission::TEXT, timestamp
		 FROM fills
		 WHERE session = $1 AND symbol = $2 AND sec_type = $3 AND exchange = $4
		 ORDER BY timestamp, id`,
		session, c.Symbol, c.SecType, c.Exchange)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFills(rows)
}

func (s *PostgresStore) InsertSnapshot(ctx context.Context, session string, snap model.PortfolioSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portfolio_snapshots (session, timestamp, cash, value)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)`,
		session, snap.Time, snap.Cash.String(), snap.Value.String(),
	)
	return err
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, session string) ([]model.PortfolioSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT timestamp, cash::TEXT, value::TEXT
		 FROM portfolio_snapshots WHERE session = $1 ORDER BY timestamp`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.PortfolioSnapshot
	for rows.Next() {
		var snap model.PortfolioSnapshot
		var cashS, valueS string
		if err := rows.Scan(&snap.Time, &cashS, &valueS); err != nil {
			return nil, err
		}
		snap.Cash, _ = decimal.NewFromString(cashS)
		snap.Value, _ = decimal.NewFromString(valueS)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// scanFills reads pgx rows into Fill slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanFills(rows pgxRows) ([]model.Fill, error) {
	var fills []model.Fill
	for rows.Next() {
		var f model.Fill
		var priceS, commissionS string

		if err := rows.Scan(&f.ID, &f.OrderID,
			&f.Contract.Symbol, &f.Contract.SecType, &f.Contract.Exchange,
			&f.Quantity, &priceS, &commissionS, &f.Time); err != nil {
			return nil, err
		}

		f.Price, _ = decimal.NewFromString(priceS)
		f.Commission, _ = decimal.NewFromString(commissionS)

		fills = append(fills, f)
	}
	return fills, rows.Err()
}
