package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"cryptoDataPipe/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration.
type Config struct {
	Exchange   ExchangeConfig   `envPrefix:"BINANCE_"`
	Stream     StreamConfig     `envPrefix:"STREAM_"`
	Collector  CollectorConfig  `envPrefix:"COLLECT_"`
	Signals    SignalsConfig    `envPrefix:"SIGNALS_"`
	Candidates CandidatesConfig `envPrefix:"CANDIDATES_"`
	Cache      CacheConfig      `envPrefix:"CACHE_"`
	Pipeline   PipelineConfig   `envPrefix:"PIPELINE_"`

	// Logging
	LogLevelName string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogLevel     logger.LogLevel

	// Metrics endpoint, disabled when empty (e.g. ":9102")
	MetricsAddr string `env:"METRICS_ADDR"`
}

// ExchangeConfig configures the REST fallback source.
type ExchangeConfig struct {
	APIKey      string        `env:"API_KEY"`
	SecretKey   string        `env:"API_SECRET"`
	IsTestnet   bool          `env:"TESTNET" envDefault:"false"`
	RESTTimeout time.Duration `env:"REST_TIMEOUT" envDefault:"10s"`
}

// StreamConfig configures the websocket transport.
type StreamConfig struct {
	URL               string        `env:"URL" envDefault:"wss://fstream.binance.com/ws"`
	ReconnectDelay    time.Duration `env:"RECONNECT_DELAY" envDefault:"5s"`
	MaxReconnectDelay time.Duration `env:"MAX_RECONNECT_DELAY" envDefault:"60s"`
	HandshakeTimeout  time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`
	SeriesCapacity    int           `env:"SERIES_CAPACITY" envDefault:"500"`
	BackfillOnAdd     bool          `env:"BACKFILL" envDefault:"true"`
}

// CollectorConfig configures the data collection orchestrator.
type CollectorConfig struct {
	ShortInterval    string        `env:"SHORT_INTERVAL" envDefault:"3m"`
	LongInterval     string        `env:"LONG_INTERVAL" envDefault:"4h"`
	KlineLimit       int           `env:"KLINE_LIMIT" envDefault:"200"`
	SubscribeTimeout time.Duration `env:"SUBSCRIBE_TIMEOUT" envDefault:"5s"`
	Concurrency      int           `env:"CONCURRENCY" envDefault:"8"`
}

// SignalsConfig configures the signal stage.
type SignalsConfig struct {
	SeriesLength       int     `env:"SERIES_LENGTH" envDefault:"10"`
	MinKlines          int     `env:"MIN_KLINES" envDefault:"20"`
	LiquidityFilter    bool    `env:"LIQUIDITY_FILTER" envDefault:"true"`
	PositionMinOIValue float64 `env:"POSITION_MIN_OI_USD" envDefault:"5000000"`
	NewMinOIValue      float64 `env:"NEW_MIN_OI_USD" envDefault:"15000000"`
}

// CandidatesConfig configures the ranked-symbol sources and scoring.
type CandidatesConfig struct {
	CoinPoolURL     string        `env:"COIN_POOL_URL"`
	OITopURL        string        `env:"OI_TOP_URL"`
	UseDefaultCoins bool          `env:"USE_DEFAULT_COINS" envDefault:"false"`
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	ScoreBatchSize  int           `env:"SCORE_BATCH_SIZE" envDefault:"10"`
}

// CacheConfig configures the tiered external cache.
type CacheConfig struct {
	Backend      string        `env:"BACKEND" envDefault:"file"` // "file" or "sqlite"
	Dir          string        `env:"DIR" envDefault:"./data/cache"`
	DBPath       string        `env:"DB_PATH" envDefault:"./data/cache.db"`
	TTL          time.Duration `env:"TTL" envDefault:"1h"`
	ScoreTTL     time.Duration `env:"SCORE_TTL" envDefault:"1h"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	RetryDelay   time.Duration `env:"RETRY_DELAY" envDefault:"2s"`
	StaleWarnAge time.Duration `env:"STALE_WARN_AGE" envDefault:"24h"`
}

// PipelineConfig configures the scheduled collection cycle.
type PipelineConfig struct {
	Schedule        string   `env:"SCHEDULE" envDefault:"@every 3m"`
	PositionSymbols []string `env:"POSITION_SYMBOLS" envSeparator:","`
	RunOnStart      bool     `env:"RUN_ON_START" envDefault:"true"`
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.LogLevel = logger.ParseLevel(cfg.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field constraints, reporting every
// problem found at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Stream.URL == "" {
		errs = append(errs, "STREAM_URL must be set")
	}
	if c.Stream.ReconnectDelay <= 0 {
		errs = append(errs, "STREAM_RECONNECT_DELAY must be positive")
	}
	if c.Stream.MaxReconnectDelay < c.Stream.ReconnectDelay {
		errs = append(errs, "STREAM_MAX_RECONNECT_DELAY must not be less than STREAM_RECONNECT_DELAY")
	}
	if c.Stream.SeriesCapacity < 200 {
		errs = append(errs, "STREAM_SERIES_CAPACITY must be at least 200")
	}

	if c.Collector.ShortInterval == "" || c.Collector.LongInterval == "" {
		errs = append(errs, "COLLECT_SHORT_INTERVAL and COLLECT_LONG_INTERVAL must be set")
	}
	if c.Collector.KlineLimit <= 0 {
		errs = append(errs, "COLLECT_KLINE_LIMIT must be positive")
	} else if c.Collector.KlineLimit > c.Stream.SeriesCapacity {
		errs = append(errs, "COLLECT_KLINE_LIMIT cannot exceed STREAM_SERIES_CAPACITY")
	}
	if c.Collector.SubscribeTimeout <= 0 {
		errs = append(errs, "COLLECT_SUBSCRIBE_TIMEOUT must be positive")
	}
	if c.Collector.Concurrency <= 0 {
		errs = append(errs, "COLLECT_CONCURRENCY must be positive")
	}
	if c.Exchange.RESTTimeout <= 0 {
		errs = append(errs, "BINANCE_REST_TIMEOUT must be positive")
	}

	if c.Signals.SeriesLength <= 0 {
		errs = append(errs, "SIGNALS_SERIES_LENGTH must be positive")
	}
	if c.Signals.MinKlines < 0 {
		errs = append(errs, "SIGNALS_MIN_KLINES cannot be negative")
	}

	if c.Candidates.ScoreBatchSize <= 0 {
		errs = append(errs, "CANDIDATES_SCORE_BATCH_SIZE must be positive")
	}

	switch strings.ToLower(c.Cache.Backend) {
	case "file":
		if c.Cache.Dir == "" {
			errs = append(errs, "CACHE_DIR must be set for the file backend")
		}
	case "sqlite":
		if c.Cache.DBPath == "" {
			errs = append(errs, "CACHE_DB_PATH must be set for the sqlite backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported CACHE_BACKEND '%s' (want file or sqlite)", c.Cache.Backend))
	}
	if c.Cache.TTL <= 0 || c.Cache.ScoreTTL <= 0 {
		errs = append(errs, "CACHE_TTL and CACHE_SCORE_TTL must be positive")
	}
	if c.Cache.MaxAttempts <= 0 {
		errs = append(errs, "CACHE_MAX_ATTEMPTS must be positive")
	}
	if c.Cache.RetryDelay <= 0 {
		errs = append(errs, "CACHE_RETRY_DELAY must be positive")
	}

	if c.Pipeline.Schedule == "" {
		errs = append(errs, "PIPELINE_SCHEDULE must be set")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
