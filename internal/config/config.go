package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the monitor.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	YouTube   YouTubeConfig   `yaml:"youtube"`
	Provider  ProviderConfig  `yaml:"provider"`
	Sheets    SheetsConfig    `yaml:"sheets"`
	Dataset   DatasetConfig   `yaml:"dataset"`
	Cadence   CadenceConfig   `yaml:"cadence"`
}

// ServerConfig holds HTTP server configuration for the operator API.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis connection used for sheet locks.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// YouTubeConfig holds the stats source (YouTube Data API v3) settings.
type YouTubeConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c YouTubeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ProviderConfig holds the engagement order provider (SMM panel) settings.
type ProviderConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SheetsConfig holds Google Sheets access for comment inventories.
type SheetsConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	BaseURL         string `yaml:"base_url"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c SheetsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DatasetConfig selects the historical sample source used to fit ratio
// models. "csv" reads per-tier CSV files from Dir; "snowflake" queries the
// warehouse table.
type DatasetConfig struct {
	Source    string            `yaml:"source"`
	Dir       string            `yaml:"dir"`
	Tiers     map[string]string `yaml:"tiers"` // tier name → CSV filename
	Snowflake SnowflakeConfig   `yaml:"snowflake"`
}

// SnowflakeConfig holds warehouse credentials for the historical dataset.
type SnowflakeConfig struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	Table     string `yaml:"table"`
}

// CadenceConfig holds the runner's ordering cadence policy. Zero values are
// replaced with the defaults the control loop was tuned against.
type CadenceConfig struct {
	TickSeconds                  int   `yaml:"tick_seconds"`
	MinEngagementDeltaViews      int64 `yaml:"min_engagement_delta_views"`
	LongIntervalThresholdSeconds int64 `yaml:"long_interval_threshold_seconds"`
	LongIntervalSleepMinSeconds  int64 `yaml:"long_interval_sleep_min_seconds"`
	LongIntervalSleepMaxSeconds  int64 `yaml:"long_interval_sleep_max_seconds"`
	PerBatchCeiling              int   `yaml:"per_batch_ceiling"`
	LikeLongIntervalMin          int   `yaml:"like_long_interval_min"`
	LikeLongIntervalMax          int   `yaml:"like_long_interval_max"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.YouTube.BaseURL == "" {
		cfg.YouTube.BaseURL = "https://www.googleapis.com/youtube/v3"
	}
	if cfg.YouTube.TimeoutSeconds == 0 {
		cfg.YouTube.TimeoutSeconds = 30
	}
	if cfg.Provider.TimeoutSeconds == 0 {
		cfg.Provider.TimeoutSeconds = 60
	}
	if cfg.Sheets.BaseURL == "" {
		cfg.Sheets.BaseURL = "https://sheets.googleapis.com/v4"
	}
	if cfg.Sheets.TimeoutSeconds == 0 {
		cfg.Sheets.TimeoutSeconds = 30
	}
	if cfg.Dataset.Source == "" {
		cfg.Dataset.Source = "csv"
	}
	if cfg.Dataset.Snowflake.Table == "" {
		cfg.Dataset.Snowflake.Table = "ENGAGEMENT_HISTORY"
	}
	applyCadenceDefaults(&cfg.Cadence)

	return &cfg, nil
}

func applyCadenceDefaults(c *CadenceConfig) {
	if c.TickSeconds == 0 {
		c.TickSeconds = 300
	}
	if c.MinEngagementDeltaViews == 0 {
		c.MinEngagementDeltaViews = 1000
	}
	if c.LongIntervalThresholdSeconds == 0 {
		c.LongIntervalThresholdSeconds = 43200
	}
	if c.LongIntervalSleepMinSeconds == 0 {
		c.LongIntervalSleepMinSeconds = 10800
	}
	if c.LongIntervalSleepMaxSeconds == 0 {
		c.LongIntervalSleepMaxSeconds = 18000
	}
	if c.PerBatchCeiling == 0 {
		c.PerBatchCeiling = 10
	}
	if c.LikeLongIntervalMin == 0 {
		c.LikeLongIntervalMin = 35
	}
	if c.LikeLongIntervalMax == 0 {
		c.LikeLongIntervalMax = 65
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first so secrets can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		cfg.YouTube.APIKey = v
	}
	if v := os.Getenv("PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("SHEETS_CREDENTIALS_FILE"); v != "" {
		cfg.Sheets.CredentialsFile = v
	}
	if v := os.Getenv("SNOWFLAKE_PASSWORD"); v != "" {
		cfg.Dataset.Snowflake.Password = v
	}

	return cfg, nil
}
