// Package main re-runs measurements for completed tasks and reports
// divergences between stored records and freshly evaluated ones.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"solana-wallet-lab/internal/config"
	"solana-wallet-lab/internal/gateway"
	"solana-wallet-lab/internal/idhash"
	"solana-wallet-lab/internal/replay"
	"solana-wallet-lab/internal/scheduler"
	"solana-wallet-lab/internal/storage"
	chstore "solana-wallet-lab/internal/storage/clickhouse"
	"solana-wallet-lab/internal/storage/migrations"
	pgstore "solana-wallet-lab/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "Path to YAML config file")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (overrides config)")
	taskID := flag.String("task", "", "Replay a single task by ID")
	signature := flag.String("signature", "", "Replay a single task by buy transaction signature")
	useMarket := flag.Bool("fetch", false, "Fetch candles from providers when no archived series exists")
	resume := flag.Bool("resume", false, "Rebuild the task table: enqueue events lacking a task, reset stuck tasks")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	if *postgresDSN != "" {
		cfg.Postgres.DSN = *postgresDSN
	}
	if cfg.Postgres.DSN == "" {
		logger.Fatal().Msg("postgres dsn is required, replay reads the primary store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("postgres migrations")
	}

	var candles storage.CandleStore
	if cfg.Storage.ClickHouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.Storage.ClickHouseDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect clickhouse")
		}
		defer conn.Close()
		candles = chstore.NewCandleStore(conn)
	}

	opts := []replay.Option{
		replay.WithLookback(cfg.Scheduler.Lookback()),
		replay.WithLogger(logger),
	}
	if *useMarket {
		gw := gateway.New(
			gateway.WithRequestTimeout(cfg.Gateway.RequestTimeout()),
			gateway.WithLogger(logger),
		)
		if cfg.Gateway.BitqueryAPIKey != "" {
			gw.RegisterCandleSource(
				gateway.NewBitqueryClient(cfg.Gateway.BitqueryAPIKey),
				rate.Limit(cfg.Gateway.RateLimitPerSecond),
				cfg.Gateway.RateBurst,
			)
		}
		opts = append(opts, replay.WithMarketData(gw))
	}

	events := pgstore.NewEventStore(pool)
	tasks := pgstore.NewTaskStore(pool)
	records := pgstore.NewRecordStore(pool)

	if *resume {
		if err := resumeTasks(ctx, cfg, events, tasks, records, logger); err != nil {
			logger.Fatal().Err(err).Msg("resume failed")
		}
		return
	}

	replayer := replay.New(events, tasks, records, candles, opts...)

	switch {
	case *taskID != "" || *signature != "":
		id := *taskID
		if id == "" {
			id = idhash.ComputeTaskID(*signature)
		}
		result, err := replayer.ReplayTask(ctx, id)
		if err != nil {
			logger.Fatal().Err(err).Str("task_id", id).Msg("replay failed")
		}
		printResult(result)
		if !result.Matches() {
			os.Exit(1)
		}

	default:
		diverged, err := replayer.ReplayAll(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("replay failed")
		}
		if len(diverged) == 0 {
			logger.Info().Msg("all completed tasks replayed identically")
			return
		}
		for _, result := range diverged {
			printResult(result)
		}
		os.Exit(1)
	}
}

// resumeTasks re-derives the task table from the event store. Enqueue
// is idempotent, so events that already have a task are untouched;
// tasks orphaned mid-claim are reset to pending.
func resumeTasks(ctx context.Context, cfg *config.Config, events storage.EventStore, tasks storage.TaskStore, records storage.RecordStore, logger zerolog.Logger) error {
	sched := scheduler.New(
		scheduler.Config{
			MeasurementDelay: cfg.Scheduler.MeasurementDelay(),
			Lookback:         cfg.Scheduler.Lookback(),
		},
		events, tasks, records, nil,
		scheduler.WithLogger(logger),
	)

	all, err := events.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	for _, event := range all {
		if _, err := sched.Enqueue(ctx, event); err != nil {
			return fmt.Errorf("enqueue %s: %w", event.TxSignature, err)
		}
	}

	reset, err := sched.Recover(ctx)
	if err != nil {
		return err
	}
	logger.Info().Int("events", len(all)).Int("reset", reset).Msg("task table rebuilt")
	return nil
}

func printResult(result *replay.Result) {
	if result.Matches() {
		fmt.Printf("%s\tmatch\n", result.TaskID)
		return
	}
	for _, d := range result.Divergences {
		fmt.Printf("%s\t%s\tstored=%s\treplayed=%s\n", result.TaskID, d.Field, d.Stored, d.Replayed)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
