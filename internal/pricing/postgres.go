package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/session-engine/internal/model"
)

// BarsSchema creates the table read by LoadBars.
const BarsSchema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol    TEXT NOT NULL,
	sec_type  TEXT NOT NULL,
	exchange  TEXT NOT NULL,
	time      TIMESTAMPTZ NOT NULL,
	open      DOUBLE PRECISION NOT NULL,
	high      DOUBLE PRECISION NOT NULL,
	low       DOUBLE PRECISION NOT NULL,
	close     DOUBLE PRECISION NOT NULL,
	volume    DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, sec_type, exchange, time)
);
`

// LoadBars reads the bars of each contract in [from, to] into s.
func LoadBars(ctx context.Context, pool *pgxpool.Pool, s *Series, contracts []model.Contract, from, to time.Time) (int, error) {
	total := 0
	for _, c := range contracts {
		rows, err := pool.Query(ctx,
			`SELECT time, open, high, low, close, volume
			 FROM bars
			 WHERE symbol = $1 AND sec_type = $2 AND exchange = $3
			   AND time BETWEEN $4 AND $5
			 ORDER BY time`,
			c.Symbol, c.SecType, c.Exchange, from, to)
		if err != nil {
			return total, fmt.Errorf("load bars %s: %w", c, err)
		}

		var bars []Bar
		for rows.Next() {
			var b Bar
			if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
				rows.Close()
				return total, fmt.Errorf("scan bar %s: %w", c, err)
			}
			bars = append(bars, b)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return total, fmt.Errorf("load bars %s: %w", c, err)
		}

		s.Add(c, bars...)
		total += len(bars)
	}
	return total, nil
}
