package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/session-engine/internal/contract"
	"github.com/atmx/session-engine/internal/model"
	"github.com/atmx/session-engine/internal/schedule"
)

// Config is the root configuration of a session-engine instance.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Contracts []string        `yaml:"contracts"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Execution ExecutionConfig `yaml:"execution"`
	Risk      RiskConfig      `yaml:"risk"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Data      DataConfig      `yaml:"data"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// SessionConfig selects the clock and the trading span.
type SessionConfig struct {
	Name        string    `yaml:"name"`
	Mode        string    `yaml:"mode"` // backtest | live
	Start       time.Time `yaml:"start"`
	End         time.Time `yaml:"end"`
	InitialCash string    `yaml:"initial_cash"`
}

// ScheduleConfig holds market rule times (HH:MM) and extra periodic rules.
type ScheduleConfig struct {
	Timezone       string       `yaml:"timezone"`
	Days           []string     `yaml:"days"`
	BeforeOpen     string       `yaml:"before_market_open"`
	Open           string       `yaml:"market_open"`
	Close          string       `yaml:"market_close"`
	AfterClose     string       `yaml:"after_market_close"`
	Rules          []RuleConfig `yaml:"rules"`
	ExecutionRules []string     `yaml:"execution_rules"`
}

// RuleConfig is an intraday periodic rule.
type RuleConfig struct {
	Name  string        `yaml:"name"`
	Every time.Duration `yaml:"every"`
	From  string        `yaml:"from"`
	To    string        `yaml:"to"`
}

// ExecutionConfig holds the simulated execution cost models.
type ExecutionConfig struct {
	Slippage   SlippageConfig   `yaml:"slippage"`
	Commission CommissionConfig `yaml:"commission"`
}

// SlippageConfig selects a slippage model: none, price or fixed.
type SlippageConfig struct {
	Model  string  `yaml:"model"`
	Rate   float64 `yaml:"rate"`
	Amount float64 `yaml:"amount"`
}

// CommissionConfig selects a commission model: none, fixed or rate.
type CommissionConfig struct {
	Model   string `yaml:"model"`
	Amount  string `yaml:"amount"`
	Rate    string `yaml:"rate"`
	Minimum string `yaml:"minimum"`
}

// RiskConfig holds notional position limits. Empty or zero disables a limit.
type RiskConfig struct {
	MaxPerContract string `yaml:"max_per_contract"`
	MaxPerExchange string `yaml:"max_per_exchange"`
}

// StrategyConfig configures the rebalancing strategy.
type StrategyConfig struct {
	Rules     []string          `yaml:"rules"`
	Weights   map[string]string `yaml:"weights"`
	Tolerance string            `yaml:"tolerance"`
}

// DataConfig selects the price source: random, postgres or redis.
type DataConfig struct {
	Source     string        `yaml:"source"`
	Seed       int64         `yaml:"seed"`
	Step       time.Duration `yaml:"step"`
	Price      float64       `yaml:"price"`
	Volatility float64       `yaml:"volatility"`
}

// DatabaseConfig holds the PostgreSQL connection.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Migrate  bool   `yaml:"migrate"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig holds the Redis connection used for caching and live prices.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// KafkaConfig holds the fill and event stream settings. No brokers disables
// streaming.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	FillsTopic  string   `yaml:"fills_topic"`
	EventsTopic string   `yaml:"events_topic"`
}

// HTTPConfig holds the status API settings. Port 0 disables the API.
type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

const (
	ModeBacktest = "backtest"
	ModeLive     = "live"
)

func (c *Config) applyDefaults() {
	if c.Session.Name == "" {
		c.Session.Name = "default"
	}
	if c.Session.Mode == "" {
		c.Session.Mode = ModeBacktest
	}
	if c.Session.InitialCash == "" {
		c.Session.InitialCash = "100000"
	}

	d := schedule.DefaultMarketTimes
	if c.Schedule.BeforeOpen == "" {
		c.Schedule.BeforeOpen = clockString(d.BeforeOpen)
	}
	if c.Schedule.Open == "" {
		c.Schedule.Open = clockString(d.Open)
	}
	if c.Schedule.Close == "" {
		c.Schedule.Close = clockString(d.Close)
	}
	if c.Schedule.AfterClose == "" {
		c.Schedule.AfterClose = clockString(d.AfterClose)
	}
	if len(c.Schedule.Days) == 0 {
		c.Schedule.Days = []string{"mon", "tue", "wed", "thu", "fri"}
	}
	if len(c.Schedule.ExecutionRules) == 0 {
		c.Schedule.ExecutionRules = []string{schedule.MarketOpen, schedule.MarketClose}
	}

	if c.Execution.Slippage.Model == "" {
		c.Execution.Slippage.Model = "none"
	}
	if c.Execution.Commission.Model == "" {
		c.Execution.Commission.Model = "none"
	}

	if len(c.Strategy.Rules) == 0 {
		c.Strategy.Rules = []string{schedule.MarketOpen}
	}
	if c.Strategy.Tolerance == "" {
		c.Strategy.Tolerance = "0.01"
	}

	if c.Data.Source == "" {
		c.Data.Source = "random"
	}
	if c.Data.Step == 0 {
		c.Data.Step = time.Hour
	}
	if c.Data.Price == 0 {
		c.Data.Price = 100
	}
	if c.Data.Volatility == 0 {
		c.Data.Volatility = 0.01
	}

	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = 30 * time.Second
	}
	if c.Kafka.FillsTopic == "" {
		c.Kafka.FillsTopic = "session.fills"
	}
	if c.Kafka.EventsTopic == "" {
		c.Kafka.EventsTopic = "session.events"
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 5 * time.Second
	}
}

// Validate checks that every field parses and that the combination is
// usable. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Session.Mode {
	case ModeBacktest:
		if c.Session.Start.IsZero() || c.Session.End.IsZero() {
			add(errors.New("session: backtest needs start and end"))
		} else if !c.Session.End.After(c.Session.Start) {
			add(errors.New("session: end must be after start"))
		}
	case ModeLive:
	default:
		add(fmt.Errorf("session: unknown mode %q", c.Session.Mode))
	}
	if cash, err := parseDecimal("session.initial_cash", c.Session.InitialCash); err != nil {
		add(err)
	} else if !cash.IsPositive() {
		add(errors.New("session.initial_cash: must be positive"))
	}

	_, err := c.ContractList()
	add(err)
	_, err = c.MarketTimes()
	add(err)
	_, err = c.Location()
	add(err)
	_, err = c.Weekdays()
	add(err)
	_, err = c.ExtraRules()
	add(err)

	switch c.Execution.Slippage.Model {
	case "none", "price", "fixed":
	default:
		add(fmt.Errorf("execution.slippage: unknown model %q", c.Execution.Slippage.Model))
	}
	if c.Execution.Slippage.Rate < 0 || c.Execution.Slippage.Amount < 0 {
		add(errors.New("execution.slippage: rate and amount must not be negative"))
	}
	switch c.Execution.Commission.Model {
	case "none", "fixed", "rate":
	default:
		add(fmt.Errorf("execution.commission: unknown model %q", c.Execution.Commission.Model))
	}
	for name, v := range map[string]string{
		"execution.commission.amount":  c.Execution.Commission.Amount,
		"execution.commission.rate":    c.Execution.Commission.Rate,
		"execution.commission.minimum": c.Execution.Commission.Minimum,
		"risk.max_per_contract":        c.Risk.MaxPerContract,
		"risk.max_per_exchange":        c.Risk.MaxPerExchange,
		"strategy.tolerance":           c.Strategy.Tolerance,
	} {
		_, err := parseDecimal(name, v)
		add(err)
	}

	if weights, err := c.Weights(); err != nil {
		add(err)
	} else if contracts, err := c.ContractList(); err == nil {
		for ct := range weights {
			if !slices.Contains(contracts, ct) {
				add(fmt.Errorf("strategy.weights: %s is not in contracts", ct))
			}
		}
	}

	switch c.Data.Source {
	case "random":
	case "postgres":
		if c.Database.URL == "" {
			add(errors.New("data: postgres source needs database.url"))
		}
	case "redis":
		if c.Redis.URL == "" {
			add(errors.New("data: redis source needs redis.url"))
		}
	default:
		add(fmt.Errorf("data: unknown source %q", c.Data.Source))
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		add(fmt.Errorf("http: invalid port %d", c.HTTP.Port))
	}

	return errors.Join(errs...)
}

// ContractList parses the configured contract IDs.
func (c *Config) ContractList() ([]model.Contract, error) {
	cs, err := contract.ParseAll(c.Contracts)
	if err != nil {
		return nil, fmt.Errorf("contracts: %w", err)
	}
	return cs, nil
}

// InitialCash returns the starting cash.
func (c *Config) InitialCash() decimal.Decimal {
	v, _ := parseDecimal("", c.Session.InitialCash)
	return v
}

// MarketTimes parses the four market rule times.
func (c *Config) MarketTimes() (schedule.MarketTimes, error) {
	var t schedule.MarketTimes
	for _, f := range []struct {
		name string
		in   string
		out  *schedule.Clock
	}{
		{schedule.BeforeMarketOpen, c.Schedule.BeforeOpen, &t.BeforeOpen},
		{schedule.MarketOpen, c.Schedule.Open, &t.Open},
		{schedule.MarketClose, c.Schedule.Close, &t.Close},
		{schedule.AfterMarketClose, c.Schedule.AfterClose, &t.AfterClose},
	} {
		clk, err := schedule.ParseClock(f.in)
		if err != nil {
			return schedule.MarketTimes{}, fmt.Errorf("schedule.%s: %w", f.name, err)
		}
		*f.out = clk
	}
	return t, nil
}

// Location loads the schedule time zone; empty means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// Weekdays parses the trading days (three-letter names).
func (c *Config) Weekdays() ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(c.Schedule.Days))
	for _, s := range c.Schedule.Days {
		key := strings.ToLower(strings.TrimSpace(s))
		if len(key) > 3 {
			key = key[:3]
		}
		wd, ok := weekdays[key]
		if !ok {
			return nil, fmt.Errorf("schedule.days: unknown day %q", s)
		}
		days = append(days, wd)
	}
	return days, nil
}

// ExtraRules builds the configured periodic rules on the trading days.
func (c *Config) ExtraRules() ([]schedule.Rule, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	days, err := c.Weekdays()
	if err != nil {
		return nil, err
	}
	rules := make([]schedule.Rule, 0, len(c.Schedule.Rules))
	for i, rc := range c.Schedule.Rules {
		if rc.Name == "" {
			return nil, fmt.Errorf("schedule.rules[%d]: name is required", i)
		}
		if rc.Every <= 0 {
			return nil, fmt.Errorf("schedule.rules[%d]: every must be positive", i)
		}
		p := schedule.Periodic{RuleName: rc.Name, Every: rc.Every, Location: loc, Days: days}
		if rc.From != "" {
			if p.From, err = schedule.ParseClock(rc.From); err != nil {
				return nil, fmt.Errorf("schedule.rules[%d].from: %w", i, err)
			}
		}
		if rc.To != "" {
			if p.To, err = schedule.ParseClock(rc.To); err != nil {
				return nil, fmt.Errorf("schedule.rules[%d].to: %w", i, err)
			}
		}
		rules = append(rules, p)
	}
	return rules, nil
}

// Weights parses the strategy target weights, keyed by contract ID.
func (c *Config) Weights() (map[model.Contract]decimal.Decimal, error) {
	out := make(map[model.Contract]decimal.Decimal, len(c.Strategy.Weights))
	sum := decimal.Zero
	for id, s := range c.Strategy.Weights {
		ct, err := contract.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("strategy.weights: %w", err)
		}
		w, err := parseDecimal("strategy.weights."+id, s)
		if err != nil {
			return nil, err
		}
		if w.IsNegative() {
			return nil, fmt.Errorf("strategy.weights.%s: must not be negative", id)
		}
		out[ct] = w
		sum = sum.Add(w)
	}
	if sum.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("strategy.weights: sum %s exceeds 1", sum)
	}
	return out, nil
}

// Decimal parses one of the optional decimal fields; empty is zero.
func Decimal(s string) decimal.Decimal {
	v, _ := parseDecimal("", s)
	return v
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func clockString(c schedule.Clock) string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
