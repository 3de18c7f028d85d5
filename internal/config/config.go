// Package config loads the YAML configuration file. Values containing
// ${VAR} are expanded from the environment so secrets stay out of the
// file itself.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Storage   StorageConfig   `yaml:"storage"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Decision  DecisionConfig  `yaml:"decision"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Report    ReportConfig    `yaml:"report"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	ListenAddr       string `yaml:"listen_addr"`
	MetricsNamespace string `yaml:"metrics_namespace"`
}

// PostgresConfig configures the primary store. Zero conn bounds fall
// back to the pool's defaults.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// StorageConfig selects backends.
type StorageConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `yaml:"backend"`
	// ClickHouseDSN enables the candle archive when non-empty.
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
}

// GatewayConfig configures market data providers.
type GatewayConfig struct {
	// Providers lists the price sources in preference order. Valid
	// names are "stream", "jupiter", "dexscreener", and "bitquery".
	Providers             []string `yaml:"providers"`
	BitqueryAPIKey        string   `yaml:"bitquery_api_key"`
	JupiterEndpoint       string   `yaml:"jupiter_endpoint"`
	DexScreenerEndpoint   string   `yaml:"dexscreener_endpoint"`
	StreamEndpoint        string   `yaml:"stream_endpoint"`
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
	RateLimitPerSecond    float64  `yaml:"rate_limit_per_second"`
	RateBurst             int      `yaml:"rate_burst"`
	PriceCacheTTLSeconds  int      `yaml:"price_cache_ttl_seconds"`
}

// RequestTimeout returns the per-provider call timeout.
func (c GatewayConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// PriceCacheTTL returns how long fetched prices are reused.
func (c GatewayConfig) PriceCacheTTL() time.Duration {
	return time.Duration(c.PriceCacheTTLSeconds) * time.Second
}

// SchedulerConfig configures the measurement pipeline.
type SchedulerConfig struct {
	MeasurementDelayMinutes int `yaml:"measurement_delay_minutes"`
	LookbackMinutes         int `yaml:"lookback_minutes"`
	MaxAttempts             int `yaml:"max_attempts"`
	RetryBackoffSeconds     int `yaml:"retry_backoff_seconds"`
	MaxBackoffSeconds       int `yaml:"max_backoff_seconds"`
	TickIntervalSeconds     int `yaml:"tick_interval_seconds"`
	Workers                 int `yaml:"workers"`
	ClaimBatch              int `yaml:"claim_batch"`
}

// MeasurementDelay returns how long after observation a task is due.
func (c SchedulerConfig) MeasurementDelay() time.Duration {
	return time.Duration(c.MeasurementDelayMinutes) * time.Minute
}

// Lookback returns the fetch-window extension before the observation.
func (c SchedulerConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackMinutes) * time.Minute
}

// RetryBackoff returns the base retry delay.
func (c SchedulerConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

// MaxBackoff returns the retry delay cap.
func (c SchedulerConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

// TickInterval returns the due-task poll cadence.
func (c SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// ScoringConfig configures the wallet aggregator.
type ScoringConfig struct {
	WinRateWeight    float64 `yaml:"win_rate_weight"`
	PnlWeight        float64 `yaml:"pnl_weight"`
	SampleWeight     float64 `yaml:"sample_weight"`
	PnlScale         float64 `yaml:"pnl_scale"`
	SampleSaturation int     `yaml:"sample_saturation"`
	MinSamples       int     `yaml:"min_samples"`
}

// DecisionConfig configures the decision engine and its cycle.
type DecisionConfig struct {
	InactivityThresholdHours int     `yaml:"inactivity_threshold_hours"`
	PoorScoreThreshold       float64 `yaml:"poor_score_threshold"`
	CycleHours               int     `yaml:"cycle_hours"`
}

// InactivityThreshold returns the staleness bound for tracked wallets.
func (c DecisionConfig) InactivityThreshold() time.Duration {
	return time.Duration(c.InactivityThresholdHours) * time.Hour
}

// Cycle returns the aggregation/decision cadence.
func (c DecisionConfig) Cycle() time.Duration {
	return time.Duration(c.CycleHours) * time.Hour
}

// DiscoveryConfig configures the candidate source.
type DiscoveryConfig struct {
	DuneAPIKey       string   `yaml:"dune_api_key"`
	DuneQueryID      string   `yaml:"dune_query_id"`
	MinROI           float64  `yaml:"min_roi"`
	ValidatedWallets []string `yaml:"validated_wallets"`
}

// ReportConfig configures outbound notification.
type ReportConfig struct {
	MeasurementWebhookURL string `yaml:"measurement_webhook_url"`
	VerdictWebhookURL     string `yaml:"verdict_webhook_url"`
	CSVOutputDir          string `yaml:"csv_output_dir"`
}

// Default returns a configuration with sane defaults for everything
// that is not deployment-specific.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:       ":8080",
			MetricsNamespace: "solana_wallet_lab",
		},
		Storage: StorageConfig{
			Backend: "postgres",
		},
		Gateway: GatewayConfig{
			Providers:             []string{"stream", "jupiter", "dexscreener", "bitquery"},
			RequestTimeoutSeconds: 15,
			RateLimitPerSecond:    5,
			RateBurst:             5,
			PriceCacheTTLSeconds:  30,
		},
		Scheduler: SchedulerConfig{
			MeasurementDelayMinutes: 180,
			LookbackMinutes:         60,
			MaxAttempts:             3,
			RetryBackoffSeconds:     60,
			MaxBackoffSeconds:       1800,
			TickIntervalSeconds:     5,
			Workers:                 4,
			ClaimBatch:              16,
		},
		Scoring: ScoringConfig{
			WinRateWeight:    0.5,
			PnlWeight:        0.3,
			SampleWeight:     0.2,
			PnlScale:         100,
			SampleSaturation: 20,
			MinSamples:       3,
		},
		Decision: DecisionConfig{
			InactivityThresholdHours: 336,
			PoorScoreThreshold:       0.35,
			CycleHours:               48,
		},
		Report: ReportConfig{
			CSVOutputDir: "data",
		},
	}
}

// Load reads and validates a YAML config file, layered over defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres backend requires postgres.dsn")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Scheduler.MeasurementDelayMinutes <= 0 {
		return fmt.Errorf("scheduler.measurement_delay_minutes must be positive")
	}
	if c.Scheduler.MaxAttempts <= 0 {
		return fmt.Errorf("scheduler.max_attempts must be positive")
	}
	if c.Gateway.RateLimitPerSecond <= 0 {
		return fmt.Errorf("gateway.rate_limit_per_second must be positive")
	}
	if len(c.Gateway.Providers) == 0 {
		return fmt.Errorf("gateway.providers must not be empty")
	}
	for _, name := range c.Gateway.Providers {
		switch name {
		case "stream", "jupiter", "dexscreener", "bitquery":
		default:
			return fmt.Errorf("unknown gateway provider %q", name)
		}
	}
	if c.Scoring.MinSamples <= 0 {
		return fmt.Errorf("scoring.min_samples must be positive")
	}
	if c.Decision.PoorScoreThreshold <= 0 || c.Decision.PoorScoreThreshold >= 1 {
		return fmt.Errorf("decision.poor_score_threshold must be in (0, 1)")
	}
	if c.Decision.CycleHours <= 0 {
		return fmt.Errorf("decision.cycle_hours must be positive")
	}
	return nil
}
