package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/session-engine/internal/api"
	"github.com/atmx/session-engine/internal/config"
	"github.com/atmx/session-engine/internal/event"
	"github.com/atmx/session-engine/internal/execution"
	"github.com/atmx/session-engine/internal/metrics"
	"github.com/atmx/session-engine/internal/model"
	"github.com/atmx/session-engine/internal/pricing"
	"github.com/atmx/session-engine/internal/risk"
	"github.com/atmx/session-engine/internal/session"
	"github.com/atmx/session-engine/internal/slippage"
	"github.com/atmx/session-engine/internal/store"
	"github.com/atmx/session-engine/internal/strategy"
	"github.com/atmx/session-engine/internal/stream"
	"github.com/atmx/session-engine/internal/timer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the session config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("config failed", "path", *configPath, "err", err)
		os.Exit(1)
	}
	logger = logger.With("service", "session-engine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Connections ---
	var pool *pgxpool.Pool
	if cfg.Database.URL != "" {
		pcfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			fatal("invalid database url", err)
		}
		pcfg.MaxConns = cfg.Database.MaxConns
		pool, err = pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			fatal("database connection failed", err)
		}
		cleanup = append(cleanup, pool.Close)
		slog.Info("connected to PostgreSQL")
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			fatal("invalid redis url", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		slog.Info("connected to Redis")
	}

	// --- Initialize store ---
	var st store.Store
	if pool != nil {
		ps := store.NewPostgresStore(pool)
		if cfg.Database.Migrate {
			if err := ps.Migrate(ctx); err != nil {
				fatal("store migration failed", err)
			}
			if _, err := pool.Exec(ctx, pricing.BarsSchema); err != nil {
				fatal("bars migration failed", err)
			}
		}
		st = ps

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Session ---
	b := session.NewBuilder(cfg.Session.Name, logger)
	if cfg.Session.Mode == config.ModeLive {
		b.Live()
	} else {
		b.Backtest(cfg.Session.Start, cfg.Session.End)
	}

	contracts, _ := cfg.ContractList()
	prices, err := priceSource(ctx, cfg, b.Timer(), pool, rdb, contracts)
	if err != nil {
		fatal("price source failed", err)
	}

	times, _ := cfg.MarketTimes()
	loc, _ := cfg.Location()
	days, _ := cfg.Weekdays()
	rules, _ := cfg.ExtraRules()

	b.WithMarketTimes(times, loc, days).
		WithRules(rules...).
		WithExecutionRules(cfg.Schedule.ExecutionRules...).
		WithInitialCash(cfg.InitialCash()).
		WithPrices(prices).
		WithSlippage(slippageModel(cfg.Execution.Slippage, logger)).
		WithCommission(commissionModel(cfg.Execution.Commission)).
		WithStore(st)

	maxContract := config.Decimal(cfg.Risk.MaxPerContract)
	maxExchange := config.Decimal(cfg.Risk.MaxPerExchange)
	if maxContract.IsPositive() || maxExchange.IsPositive() {
		b.WithLimiter(risk.NewPositionLimiter(maxContract, maxExchange))
	}

	sess, err := b.Build()
	if err != nil {
		fatal("session build failed", err)
	}

	if weights, _ := cfg.Weights(); len(weights) > 0 {
		tolerance := config.Decimal(cfg.Strategy.Tolerance)
		reb := strategy.NewRebalance(sess.OrderFactory(), sess.Broker(), weights, tolerance, logger)
		sess.AddStrategy(reb, cfg.Strategy.Rules...)
		slog.Info("rebalance strategy enabled", "contracts", len(weights), "rules", cfg.Strategy.Rules)
	}

	// --- Kafka stream ---
	if len(cfg.Kafka.Brokers) > 0 {
		producer := stream.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.FillsTopic, cfg.Kafka.EventsTopic, cfg.Session.Name)
		cleanup = append(cleanup, func() { producer.Close() })
		sess.AddFillSink(producer)
		sess.Subscribe(event.KindAll, producer)
		slog.Info("kafka stream enabled", "brokers", cfg.Kafka.Brokers)
	}

	// --- HTTP API ---
	var srv *http.Server
	if cfg.HTTP.Port > 0 {
		wsHub := api.NewWSHub(cfg.Session.Name, logger)
		go wsHub.Run(ctx)
		sess.AddFillSink(wsHub)
		sess.Subscribe(event.KindAll, wsHub)

		svc := api.NewService(sess, sess.Portfolio(), sess.Broker(), st, wsHub, logger)
		srv = &http.Server{
			Addr:         ":" + strconv.Itoa(cfg.HTTP.Port),
			Handler:      router(svc),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			slog.Info("session-engine listening", "port", cfg.HTTP.Port)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("server error", "err", err)
				stop()
			}
		}()
	}

	runErr := sess.Run(ctx)
	if runErr != nil {
		slog.Error("session failed", "err", runErr)
	}

	// Keep serving results of a finished backtest until asked to stop.
	if srv != nil {
		if ctx.Err() == nil {
			slog.Info("session finished, serving results until interrupted")
			<-ctx.Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		slog.Info("shutting down session-engine...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}
	fmt.Println("session-engine stopped")
	if runErr != nil {
		os.Exit(1)
	}
}

func router(svc *api.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"session-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)
	return r
}

// priceSource builds the configured price source. Series-backed sources
// read through the session clock so a backtest never sees future bars.
func priceSource(ctx context.Context, cfg *config.Config, clock timer.Timer, pool *pgxpool.Pool, rdb *redis.Client, contracts []model.Contract) (session.PriceSource, error) {
	switch cfg.Data.Source {
	case "redis":
		return pricing.NewRedisPrices(rdb), nil

	case "postgres":
		from, to := cfg.Session.Start, cfg.Session.End
		if cfg.Session.Mode == config.ModeLive {
			from, to = clock.Now().AddDate(0, 0, -7), clock.Now().AddDate(1, 0, 0)
		}
		series := pricing.NewSeries(clock)
		n, err := pricing.LoadBars(ctx, pool, series, contracts, from, to)
		if err != nil {
			return nil, err
		}
		slog.Info("bars loaded", "bars", n, "contracts", len(contracts))
		return series, nil

	default:
		from, to := cfg.Session.Start, cfg.Session.End
		if cfg.Session.Mode == config.ModeLive {
			from, to = clock.Now().AddDate(0, 0, -1), clock.Now().AddDate(0, 0, 30)
		}
		series := pricing.NewSeries(clock)
		n := int(to.Sub(from)/cfg.Data.Step) + 1
		for i, c := range contracts {
			series.Add(c, pricing.RandomWalk(cfg.Data.Seed+int64(i), from, cfg.Data.Step, n, cfg.Data.Price, cfg.Data.Volatility)...)
		}
		slog.Info("random walk prices generated", "bars_per_contract", n, "contracts", len(contracts))
		return series, nil
	}
}

func slippageModel(c config.SlippageConfig, logger *slog.Logger) slippage.Model {
	switch c.Model {
	case "price":
		return slippage.NewPriceBased(c.Rate, logger)
	case "fixed":
		return slippage.NewFixed(c.Amount, logger)
	}
	return nil
}

func commissionModel(c config.CommissionConfig) execution.CommissionModel {
	switch c.Model {
	case "fixed":
		return execution.FixedCommission{Amount: config.Decimal(c.Amount)}
	case "rate":
		return execution.RateCommission{Rate: config.Decimal(c.Rate), Minimum: config.Decimal(c.Minimum)}
	}
	return nil
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
