// Package config loads engine configuration from an optional YAML file
// with HALFPIPE_* environment overrides on top of process-local defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the halfpipe engine.
type Config struct {
	// Underlying is the asset the engine tracks, e.g. "BTC".
	Underlying string `yaml:"underlying"`

	Ingest      IngestConfig      `yaml:"ingest"`
	Engine      EngineConfig      `yaml:"engine"`
	Liquidation LiquidationConfig `yaml:"liquidation"`
	Iceberg     IcebergConfig     `yaml:"iceberg"`
	HTTP        HTTPConfig        `yaml:"http"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Log         LogConfig         `yaml:"log"`
}

// IngestConfig holds exchange endpoints and polling cadence.
type IngestConfig struct {
	// OptionsWSURL streams option mark prices and tickers.
	OptionsWSURL string `yaml:"options_ws_url"`
	// FuturesWSURL streams depth, liquidations and the underlying index.
	FuturesWSURL string `yaml:"futures_ws_url"`
	// RESTURL serves greeks, open interest and the instrument list.
	RESTURL string `yaml:"rest_url"`

	GreeksPollInterval     time.Duration `yaml:"greeks_poll_interval"`
	OIPollInterval         time.Duration `yaml:"oi_poll_interval"`
	InstrumentPollInterval time.Duration `yaml:"instrument_poll_interval"`
	ReconnectDelay         time.Duration `yaml:"reconnect_delay"`

	// RESTRateLimit is the request budget (per second) shared by pollers.
	RESTRateLimit float64 `yaml:"rest_rate_limit"`
	RESTBurst     int     `yaml:"rest_burst"`
}

// EngineConfig holds detector cadence and metric cache settings.
type EngineConfig struct {
	MetricCacheTTL   time.Duration `yaml:"metric_cache_ttl"`
	EscapeInterval   time.Duration `yaml:"escape_interval"`
	SnapshotSchedule string        `yaml:"snapshot_schedule"`
}

// LiquidationConfig holds tracker thresholds.
type LiquidationConfig struct {
	CascadeThreshold int `yaml:"cascade_threshold"`
}

// IcebergConfig holds per-signal detection thresholds.
type IcebergConfig struct {
	RefillingMinOccurrences      int     `yaml:"refilling_min_occurrences"`
	VolumeAnomalyRatio           float64 `yaml:"volume_anomaly_ratio"`
	RejectionMinCount            int     `yaml:"rejection_min_count"`
	RegenMinDrop                 float64 `yaml:"regen_min_drop"`
	RegenMinRecovery             float64 `yaml:"regen_min_recovery"`
	ConsistentSizeMinOccurrences int     `yaml:"consistent_size_min_occurrences"`
}

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// PostgresConfig holds the persistence sink settings. An empty DSN
// disables persistence entirely.
type PostgresConfig struct {
	DSN          string        `yaml:"dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
}

// RedisConfig holds the shared cache settings. An empty Addr selects
// the in-process memory cache.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Underlying: "BTC",
		Ingest: IngestConfig{
			OptionsWSURL:           "wss://nbstream.binance.com/eoptions/ws",
			FuturesWSURL:           "wss://fstream.binance.com/ws",
			RESTURL:                "https://eapi.binance.com",
			GreeksPollInterval:     30 * time.Second,
			OIPollInterval:         time.Minute,
			InstrumentPollInterval: 5 * time.Minute,
			ReconnectDelay:         5 * time.Second,
			RESTRateLimit:          5,
			RESTBurst:              10,
		},
		Engine: EngineConfig{
			MetricCacheTTL:   5 * time.Second,
			EscapeInterval:   time.Second,
			SnapshotSchedule: "@every 1m",
		},
		Liquidation: LiquidationConfig{
			CascadeThreshold: 10,
		},
		Iceberg: IcebergConfig{
			RefillingMinOccurrences:      5,
			VolumeAnomalyRatio:           2.0,
			RejectionMinCount:            3,
			RegenMinDrop:                 0.20,
			RegenMinRecovery:             0.15,
			ConsistentSizeMinOccurrences: 5,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Postgres: PostgresConfig{
			QueryTimeout: 10 * time.Second,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration: .env bootstrap, optional
// YAML file, then HALFPIPE_* environment overrides. A missing file at
// the default path is fine; an explicit path that cannot be read is an
// error.
func Load(path string) (*Config, error) {
	// Populate the process environment from .env before reading it.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides fields from HALFPIPE_* environment variables.
// Unparseable values are ignored in favor of the current setting.
func applyEnv(cfg *Config) {
	setString(&cfg.Underlying, "HALFPIPE_UNDERLYING")
	setString(&cfg.Ingest.OptionsWSURL, "HALFPIPE_OPTIONS_WS_URL")
	setString(&cfg.Ingest.FuturesWSURL, "HALFPIPE_FUTURES_WS_URL")
	setString(&cfg.Ingest.RESTURL, "HALFPIPE_REST_URL")
	setDuration(&cfg.Ingest.GreeksPollInterval, "HALFPIPE_GREEKS_POLL_INTERVAL")
	setDuration(&cfg.Ingest.OIPollInterval, "HALFPIPE_OI_POLL_INTERVAL")
	setDuration(&cfg.Ingest.InstrumentPollInterval, "HALFPIPE_INSTRUMENT_POLL_INTERVAL")
	setDuration(&cfg.Ingest.ReconnectDelay, "HALFPIPE_RECONNECT_DELAY")
	setFloat(&cfg.Ingest.RESTRateLimit, "HALFPIPE_REST_RATE_LIMIT")
	setInt(&cfg.Ingest.RESTBurst, "HALFPIPE_REST_BURST")

	setDuration(&cfg.Engine.MetricCacheTTL, "HALFPIPE_METRIC_CACHE_TTL")
	setDuration(&cfg.Engine.EscapeInterval, "HALFPIPE_ESCAPE_INTERVAL")
	setString(&cfg.Engine.SnapshotSchedule, "HALFPIPE_SNAPSHOT_SCHEDULE")

	setInt(&cfg.Liquidation.CascadeThreshold, "HALFPIPE_CASCADE_THRESHOLD")

	setInt(&cfg.Iceberg.RefillingMinOccurrences, "HALFPIPE_ICEBERG_REFILLING_MIN_OCCURRENCES")
	setFloat(&cfg.Iceberg.VolumeAnomalyRatio, "HALFPIPE_ICEBERG_VOLUME_ANOMALY_RATIO")
	setInt(&cfg.Iceberg.RejectionMinCount, "HALFPIPE_ICEBERG_REJECTION_MIN_COUNT")
	setFloat(&cfg.Iceberg.RegenMinDrop, "HALFPIPE_ICEBERG_REGEN_MIN_DROP")
	setFloat(&cfg.Iceberg.RegenMinRecovery, "HALFPIPE_ICEBERG_REGEN_MIN_RECOVERY")
	setInt(&cfg.Iceberg.ConsistentSizeMinOccurrences, "HALFPIPE_ICEBERG_CONSISTENT_SIZE_MIN_OCCURRENCES")

	setString(&cfg.HTTP.Addr, "HALFPIPE_HTTP_ADDR")
	setString(&cfg.Postgres.DSN, "HALFPIPE_PG_DSN")
	setDuration(&cfg.Postgres.QueryTimeout, "HALFPIPE_PG_QUERY_TIMEOUT")
	setString(&cfg.Redis.Addr, "HALFPIPE_REDIS_ADDR")
	setInt(&cfg.Redis.DB, "HALFPIPE_REDIS_DB")
	setString(&cfg.Log.Level, "HALFPIPE_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate checks settings the engine cannot start without.
func (c *Config) Validate() error {
	if c.Underlying == "" {
		return fmt.Errorf("underlying symbol is required")
	}
	if c.Ingest.ReconnectDelay <= 0 {
		return fmt.Errorf("ingest reconnect_delay must be positive")
	}
	if c.Engine.MetricCacheTTL <= 0 {
		return fmt.Errorf("engine metric_cache_ttl must be positive")
	}
	if c.Engine.EscapeInterval <= 0 {
		return fmt.Errorf("engine escape_interval must be positive")
	}
	if c.Liquidation.CascadeThreshold <= 0 {
		return fmt.Errorf("liquidation cascade_threshold must be positive")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http addr is required")
	}
	if c.Postgres.DSN != "" && c.Postgres.QueryTimeout <= 0 {
		return fmt.Errorf("postgres query_timeout must be positive when a DSN is set")
	}
	return nil
}
