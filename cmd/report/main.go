// Package main renders offline reports from the primary store:
// performance records and wallet statistics as CSV, plus an optional
// decision run rendered as Markdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"solana-wallet-lab/internal/aggregator"
	"solana-wallet-lab/internal/config"
	"solana-wallet-lab/internal/decision"
	"solana-wallet-lab/internal/report"
	"solana-wallet-lab/internal/storage/migrations"
	pgstore "solana-wallet-lab/internal/storage/postgres"
	"solana-wallet-lab/internal/verification"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "Path to YAML config file")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (overrides config)")
	outputDir := flag.String("output-dir", "", "Output directory (overrides config)")
	withDecision := flag.Bool("decision", false, "Also render a decision run as Markdown")
	verify := flag.Bool("verify", false, "Run store consistency checks and print violations")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	if *postgresDSN != "" {
		cfg.Postgres.DSN = *postgresDSN
	}
	if *outputDir != "" {
		cfg.Report.CSVOutputDir = *outputDir
	}
	if cfg.Postgres.DSN == "" {
		logger.Fatal().Msg("postgres dsn is required, reports read the primary store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("postgres migrations")
	}

	events := pgstore.NewEventStore(pool)
	tasks := pgstore.NewTaskStore(pool)
	records := pgstore.NewRecordStore(pool)

	if err := os.MkdirAll(cfg.Report.CSVOutputDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("create output dir")
	}

	allRecords, err := records.GetAll(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load records")
	}
	recordsPath := filepath.Join(cfg.Report.CSVOutputDir, "performance_records.csv")
	if err := os.WriteFile(recordsPath, []byte(report.RenderRecordsCSV(allRecords)), 0o644); err != nil {
		logger.Fatal().Err(err).Msg("write records csv")
	}
	logger.Info().Str("path", recordsPath).Int("records", len(allRecords)).Msg("wrote performance records")

	agg := aggregator.New(aggregator.Config{
		WinRateWeight:    cfg.Scoring.WinRateWeight,
		PnlWeight:        cfg.Scoring.PnlWeight,
		SampleWeight:     cfg.Scoring.SampleWeight,
		PnlScale:         cfg.Scoring.PnlScale,
		SampleSaturation: cfg.Scoring.SampleSaturation,
		MinSamples:       cfg.Scoring.MinSamples,
	}, events, records)

	stats, err := agg.RecomputeAll(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("recompute wallet stats")
	}
	statsPath := filepath.Join(cfg.Report.CSVOutputDir, "wallet_stats.csv")
	if err := os.WriteFile(statsPath, []byte(report.RenderStatsCSV(stats)), 0o644); err != nil {
		logger.Fatal().Err(err).Msg("write stats csv")
	}
	logger.Info().Str("path", statsPath).Int("wallets", len(stats)).Msg("wrote wallet stats")

	if *withDecision {
		engine := decision.New(decision.Config{
			InactivityThresholdMs: cfg.Decision.InactivityThreshold().Milliseconds(),
			PoorScoreThreshold:    cfg.Decision.PoorScoreThreshold,
		})
		verdicts := engine.Decide(stats, nil, time.Now().UnixMilli())
		result := decision.NewRunResult(time.Now().UnixMilli(), stats, verdicts)

		mdPath := filepath.Join(cfg.Report.CSVOutputDir, "decision_run.md")
		if err := os.WriteFile(mdPath, []byte(decision.RenderMarkdown(result)), 0o644); err != nil {
			logger.Fatal().Err(err).Msg("write decision markdown")
		}
		logger.Info().Str("path", mdPath).Int("replacements", result.ReplaceCount()).Msg("wrote decision run")
	}

	if *verify {
		rep, err := verification.New(events, tasks, records).VerifyAll(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("verification")
		}
		if rep.Clean() {
			logger.Info().Int("tasks", rep.TasksChecked).Int("records", rep.RecordsChecked).Msg("stores consistent")
		} else {
			for _, v := range rep.Violations {
				fmt.Printf("%s\ttask=%s\t%s\n", v.Kind, v.TaskID, v.Detail)
			}
			logger.Error().Int("violations", len(rep.Violations)).Msg("stores inconsistent")
			os.Exit(1)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
