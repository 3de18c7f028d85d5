// Package main runs the full wallet tracking service:
// - Ingest (continuous): buy event intake over HTTP
// - Scheduler (continuous): delayed performance measurement
// - Orchestrator (scheduled): aggregation and keep/replace decisions
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"solana-wallet-lab/internal/aggregator"
	"solana-wallet-lab/internal/config"
	"solana-wallet-lab/internal/decision"
	"solana-wallet-lab/internal/discovery"
	"solana-wallet-lab/internal/gateway"
	"solana-wallet-lab/internal/ingest"
	"solana-wallet-lab/internal/observability"
	"solana-wallet-lab/internal/orchestrator"
	"solana-wallet-lab/internal/report"
	"solana-wallet-lab/internal/scheduler"
	"solana-wallet-lab/internal/storage"
	chstore "solana-wallet-lab/internal/storage/clickhouse"
	"solana-wallet-lab/internal/storage/memory"
	"solana-wallet-lab/internal/storage/migrations"
	pgstore "solana-wallet-lab/internal/storage/postgres"
)

type stores struct {
	events  storage.EventStore
	tasks   storage.TaskStore
	records storage.RecordStore
	candles storage.CandleStore
	close   func()
}

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "Path to YAML config file")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (overrides config)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if *debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	if *postgresDSN != "" {
		cfg.Postgres.DSN = *postgresDSN
	}
	if *clickhouseDSN != "" {
		cfg.Storage.ClickHouseDSN = *clickhouseDSN
	}
	if *useMemory {
		cfg.Storage.Backend = "memory"
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := buildStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup storage")
	}
	defer st.close()

	metrics := observability.NewMetrics(cfg.Server.MetricsNamespace)

	gw, stream := buildGateway(ctx, cfg, logger, metrics)

	webhook := report.NewWebhook(
		cfg.Report.MeasurementWebhookURL,
		cfg.Report.VerdictWebhookURL,
		logger,
		report.WithLivePrices(gw),
	)

	sched := scheduler.New(
		scheduler.Config{
			MeasurementDelay: cfg.Scheduler.MeasurementDelay(),
			Lookback:         cfg.Scheduler.Lookback(),
			MaxAttempts:      cfg.Scheduler.MaxAttempts,
			RetryBackoff:     cfg.Scheduler.RetryBackoff(),
			MaxBackoff:       cfg.Scheduler.MaxBackoff(),
			TickInterval:     cfg.Scheduler.TickInterval(),
			Workers:          cfg.Scheduler.Workers,
			ClaimBatch:       cfg.Scheduler.ClaimBatch,
		},
		st.events, st.tasks, st.records, gw,
		scheduler.WithNotifier(webhook),
		scheduler.WithLogger(logger),
		scheduler.WithCandleArchive(st.candles),
		scheduler.WithMetrics(metrics),
	)

	reset, err := sched.Recover(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("recover orphaned tasks")
	}
	if reset > 0 {
		logger.Info().Int("tasks", reset).Msg("reset orphaned tasks")
	}

	agg := aggregator.New(aggregator.Config{
		WinRateWeight:    cfg.Scoring.WinRateWeight,
		PnlWeight:        cfg.Scoring.PnlWeight,
		SampleWeight:     cfg.Scoring.SampleWeight,
		PnlScale:         cfg.Scoring.PnlScale,
		SampleSaturation: cfg.Scoring.SampleSaturation,
		MinSamples:       cfg.Scoring.MinSamples,
	}, st.events, st.records)

	engine := decision.New(decision.Config{
		InactivityThresholdMs: cfg.Decision.InactivityThreshold().Milliseconds(),
		PoorScoreThreshold:    cfg.Decision.PoorScoreThreshold,
	})

	var source discovery.CandidateSource
	if cfg.Discovery.DuneAPIKey != "" && cfg.Discovery.DuneQueryID != "" {
		source = discovery.NewDuneSource(
			cfg.Discovery.DuneAPIKey,
			cfg.Discovery.DuneQueryID,
			discovery.WithMinROI(cfg.Discovery.MinROI),
		)
	}
	var validator discovery.Validator
	if len(cfg.Discovery.ValidatedWallets) > 0 {
		validator = discovery.NewAllowlistValidator(cfg.Discovery.ValidatedWallets)
	}

	orch := orchestrator.New(agg, engine, source, validator,
		orchestrator.WithCycleInterval(cfg.Decision.Cycle()),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithNotifier(webhook),
	)

	ingestOpts := []ingest.ServiceOption{
		ingest.WithMetrics(metrics),
		ingest.WithPriceQuoter(gw),
	}
	if stream != nil {
		ingestOpts = append(ingestOpts, ingest.WithMintSubscriber(stream))
	}
	svc := ingest.NewService(st.events, sched, logger, ingestOpts...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.Handle("/", svc.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("scheduler stopped")
		}
	}()
	go func() {
		if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("orchestrator stopped")
		}
	}()
	go func() {
		logger.Info().Str("addr", cfg.Server.ListenAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}

func buildStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	st := &stores{close: func() {}}

	switch cfg.Storage.Backend {
	case "memory":
		logger.Warn().Msg("using in-memory storage, state is lost on restart")
		st.events = memory.NewEventStore()
		st.tasks = memory.NewTaskStore()
		st.records = memory.NewRecordStore()
		st.candles = memory.NewCandleStore()
		return st, nil

	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN,
			pgstore.WithMaxConns(cfg.Postgres.MaxConns),
			pgstore.WithMinConns(cfg.Postgres.MinConns),
		)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		st.events = pgstore.NewEventStore(pool)
		st.tasks = pgstore.NewTaskStore(pool)
		st.records = pgstore.NewRecordStore(pool)
		st.close = pool.Close

		if cfg.Storage.ClickHouseDSN != "" {
			conn, err := chstore.NewConn(ctx, cfg.Storage.ClickHouseDSN)
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("connect clickhouse: %w", err)
			}
			if err := migrations.RunClickHouseMigrations(ctx, conn); err != nil {
				conn.Close()
				pool.Close()
				return nil, fmt.Errorf("clickhouse migrations: %w", err)
			}
			st.candles = chstore.NewCandleStore(conn)
			closePool := st.close
			st.close = func() {
				conn.Close()
				closePool()
			}
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// buildGateway assembles the market data gateway. Price sources are
// registered in the order cfg.Gateway.Providers lists them; the
// websocket stream is also returned so ingest can subscribe mints.
func buildGateway(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*gateway.Gateway, *gateway.PriceStream) {
	gw := gateway.New(
		gateway.WithRequestTimeout(cfg.Gateway.RequestTimeout()),
		gateway.WithPriceCacheTTL(cfg.Gateway.PriceCacheTTL()),
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
	)

	limit := rate.Limit(cfg.Gateway.RateLimitPerSecond)
	burst := cfg.Gateway.RateBurst

	var bq *gateway.BitqueryClient
	if cfg.Gateway.BitqueryAPIKey != "" {
		bq = gateway.NewBitqueryClient(cfg.Gateway.BitqueryAPIKey)
		gw.RegisterCandleSource(bq, limit, burst)
	} else {
		logger.Warn().Msg("no bitquery api key, candle fetches will report unavailable")
	}

	var stream *gateway.PriceStream
	for _, name := range cfg.Gateway.Providers {
		switch name {
		case "stream":
			if cfg.Gateway.StreamEndpoint == "" {
				continue
			}
			s, err := gateway.NewPriceStream(ctx, cfg.Gateway.StreamEndpoint, nil, logger)
			if err != nil {
				logger.Warn().Err(err).Msg("price stream unavailable, using HTTP providers only")
				continue
			}
			stream = s
			gw.RegisterPriceSource(stream, limit, burst)

		case "jupiter":
			jup := gateway.NewJupiterClient()
			if cfg.Gateway.JupiterEndpoint != "" {
				jup = gateway.NewJupiterClient(gateway.WithJupiterEndpoint(cfg.Gateway.JupiterEndpoint))
			}
			gw.RegisterPriceSource(jup, limit, burst)

		case "dexscreener":
			ds := gateway.NewDexScreenerClient()
			if cfg.Gateway.DexScreenerEndpoint != "" {
				ds = gateway.NewDexScreenerClient(gateway.WithDexScreenerEndpoint(cfg.Gateway.DexScreenerEndpoint))
			}
			gw.RegisterPriceSource(ds, limit, burst)

		case "bitquery":
			if bq == nil {
				continue
			}
			gw.RegisterPriceSource(bq, limit, burst)
		}
	}

	return gw, stream
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
