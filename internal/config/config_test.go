package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/session-engine/internal/model"
	"github.com/atmx/session-engine/internal/schedule"
)

const sample = `
session:
  name: demo
  mode: backtest
  start: 2024-01-01T00:00:00Z
  end: 2024-03-29T21:00:00Z
  initial_cash: "250000"
contracts:
  - AAPL:STK:NASDAQ
  - SPY:STK:ARCA
schedule:
  timezone: America/New_York
  market_open: "09:30"
  market_close: "16:00"
  rules:
    - name: hourly
      every: 1h
      from: "10:00"
      to: "15:00"
execution:
  slippage:
    model: price
    rate: 0.001
  commission:
    model: rate
    rate: "0.0005"
    minimum: "1"
risk:
  max_per_contract: "50000"
strategy:
  weights:
    AAPL:STK:NASDAQ: "0.4"
    SPY:STK:ARCA: "0.5"
database:
  url: ${TEST_SESSION_DB_URL}
http:
  port: 8080
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	t.Setenv("TEST_SESSION_DB_URL", "postgres://localhost/session")
	cfg, err := LoadAndValidate(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("LoadAndValidate: %v", err)
	}

	if cfg.Database.URL != "postgres://localhost/session" {
		t.Errorf("database url = %q, env not expanded", cfg.Database.URL)
	}
	if !cfg.Session.Start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %s", cfg.Session.Start)
	}
	if !cfg.InitialCash().Equal(decimal.NewFromInt(250000)) {
		t.Errorf("initial cash = %s", cfg.InitialCash())
	}

	mt, err := cfg.MarketTimes()
	if err != nil {
		t.Fatal(err)
	}
	if mt.Open != (schedule.Clock{Hour: 9, Minute: 30}) || mt.BeforeOpen != schedule.DefaultMarketTimes.BeforeOpen {
		t.Errorf("market times = %+v", mt)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "America/New_York" {
		t.Errorf("location = %v, %v", loc, err)
	}

	rules, err := cfg.ExtraRules()
	if err != nil || len(rules) != 1 || rules[0].Name() != "hourly" {
		t.Errorf("rules = %v, %v", rules, err)
	}

	weights, err := cfg.Weights()
	if err != nil {
		t.Fatal(err)
	}
	spy := model.Contract{Symbol: "SPY", SecType: "STK", Exchange: "ARCA"}
	if !weights[spy].Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("SPY weight = %s", weights[spy])
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg, err := Parse([]byte("session:\n  mode: live\n"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.applyDefaults()

	if cfg.Session.Name != "default" || cfg.Session.InitialCash != "100000" {
		t.Errorf("session defaults = %+v", cfg.Session)
	}
	if cfg.Data.Source != "random" || cfg.Data.Step != time.Hour {
		t.Errorf("data defaults = %+v", cfg.Data)
	}
	if len(cfg.Schedule.ExecutionRules) != 2 || cfg.Strategy.Rules[0] != schedule.MarketOpen {
		t.Errorf("rule defaults = %v, %v", cfg.Schedule.ExecutionRules, cfg.Strategy.Rules)
	}
	days, err := cfg.Weekdays()
	if err != nil || len(days) != 5 || days[0] != time.Monday {
		t.Errorf("days = %v, %v", days, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate live defaults: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown mode", "session:\n  mode: paper\n", "unknown mode"},
		{"backtest without span", "session:\n  mode: backtest\n", "needs start and end"},
		{"inverted span", "session:\n  start: 2024-02-01T00:00:00Z\n  end: 2024-01-01T00:00:00Z\n", "end must be after start"},
		{"bad cash", "session:\n  mode: live\n  initial_cash: lots\n", "session.initial_cash"},
		{"bad contract", "session:\n  mode: live\ncontracts: [AAPL]\n", "contracts"},
		{"bad clock", "session:\n  mode: live\nschedule:\n  market_open: \"25:00\"\n", "schedule.market_open"},
		{"bad day", "session:\n  mode: live\nschedule:\n  days: [funday]\n", "unknown day"},
		{"weights over one", "session:\n  mode: live\nstrategy:\n  weights:\n    A:STK:X: \"0.7\"\n    B:STK:X: \"0.6\"\n", "exceeds 1"},
		{"weight not traded", "session:\n  mode: live\nstrategy:\n  weights:\n    A:STK:X: \"0.5\"\n", "not in contracts"},
		{"postgres without url", "session:\n  mode: live\ndata:\n  source: postgres\n", "database.url"},
		{"unknown slippage", "session:\n  mode: live\nexecution:\n  slippage:\n    model: magic\n", "execution.slippage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			cfg.applyDefaults()
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
