package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the legislative tracking core
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Router    RouterConfig    `mapstructure:"router"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
}

// RouterConfig controls message dispatch behaviour
type RouterConfig struct {
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	StrictRegistry  bool          `mapstructure:"strict_registry"`
}

// SchedulerConfig controls source polling cadence and backoff
type SchedulerConfig struct {
	MaxConcurrentFetches int           `mapstructure:"max_concurrent_fetches"`
	BackoffBase          time.Duration `mapstructure:"backoff_base"`
	BackoffCap           time.Duration `mapstructure:"backoff_cap"`
	Tick                 time.Duration `mapstructure:"tick"`
}

// SourcesConfig contains per-source settings. The priority list is the
// explicit tie-break order used by the merge engine when two sources report
// the same last-action date; it is configuration, never registration order.
type SourcesConfig struct {
	Priority      []string            `mapstructure:"priority"`
	LegiScan      LegiScanConfig      `mapstructure:"legiscan"`
	OpenStates    OpenStatesConfig    `mapstructure:"openstates"`
	WALegislature WALegislatureConfig `mapstructure:"wa_legislature"`
	LocalDocs     LocalDocsConfig     `mapstructure:"local_docs"`
}

// LegiScanConfig contains LegiScan API settings
type LegiScanConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
	State    string `mapstructure:"state"`
	Schedule string `mapstructure:"schedule"`
	PageSize int    `mapstructure:"page_size"`
}

// OpenStatesConfig contains OpenStates API settings
type OpenStatesConfig struct {
	APIKey       string `mapstructure:"api_key"`
	Endpoint     string `mapstructure:"endpoint"`
	Jurisdiction string `mapstructure:"jurisdiction"`
	Schedule     string `mapstructure:"schedule"`
	PageSize     int    `mapstructure:"page_size"`
}

// WALegislatureConfig contains settings for the WA Legislature feed
type WALegislatureConfig struct {
	FeedURL       string `mapstructure:"feed_url"`
	Schedule      string `mapstructure:"schedule"`
	Authoritative bool   `mapstructure:"authoritative"`
}

// LocalDocsConfig contains settings for the local document tracker
type LocalDocsConfig struct {
	Dir      string `mapstructure:"dir"`
	Schedule string `mapstructure:"schedule"`
}

// AnalysisConfig contains AI analysis provider settings
type AnalysisConfig struct {
	Provider string        `mapstructure:"provider"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxAge   time.Duration `mapstructure:"max_age"`
	County   string        `mapstructure:"county"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == 0 {
		port = 5432
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("legistrack")
	viper.SetConfigType("yaml")
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("LEGISTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Config file is optional; defaults plus env cover the common case
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.http_addr", ":10020")

	viper.SetDefault("router.dispatch_timeout", "30s")
	viper.SetDefault("router.strict_registry", false)

	viper.SetDefault("scheduler.max_concurrent_fetches", 4)
	viper.SetDefault("scheduler.backoff_base", "30s")
	viper.SetDefault("scheduler.backoff_cap", "30m")
	viper.SetDefault("scheduler.tick", "1m")

	viper.SetDefault("sources.priority", []string{"wa_legislature", "legiscan", "openstates", "local_docs"})
	viper.SetDefault("sources.legiscan.endpoint", "https://api.legiscan.com/")
	viper.SetDefault("sources.legiscan.state", "WA")
	viper.SetDefault("sources.legiscan.schedule", "@daily")
	viper.SetDefault("sources.legiscan.page_size", 50)
	viper.SetDefault("sources.openstates.endpoint", "https://v3.openstates.org")
	viper.SetDefault("sources.openstates.jurisdiction", "Washington")
	viper.SetDefault("sources.openstates.schedule", "@daily")
	viper.SetDefault("sources.openstates.page_size", 20)
	viper.SetDefault("sources.wa_legislature.feed_url", "https://wslwebservices.leg.wa.gov/legislationservice.asmx")
	viper.SetDefault("sources.wa_legislature.schedule", "@hourly")
	viper.SetDefault("sources.wa_legislature.authoritative", true)
	viper.SetDefault("sources.local_docs.dir", "./data/bills")
	viper.SetDefault("sources.local_docs.schedule", "@daily")

	viper.SetDefault("analysis.provider", "anthropic")
	viper.SetDefault("analysis.model", "claude-3-5-sonnet-20241022")
	viper.SetDefault("analysis.timeout", "60s")
	viper.SetDefault("analysis.max_age", "0")
	viper.SetDefault("analysis.county", "Benton")

	viper.SetDefault("storage.postgres.port", 5432)
	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.postgres.timeout", "5s")
	viper.SetDefault("storage.redis.host", "localhost")
	viper.SetDefault("storage.redis.port", 6379)
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.timeout", "5s")

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.periodic_logs", false)
}

// overrideFromEnv overrides configuration with environment variables for
// sensitive data that operators typically supply outside the config file.
func overrideFromEnv() {
	if apiKey := os.Getenv("LEGISCAN_API_KEY"); apiKey != "" {
		viper.Set("sources.legiscan.api_key", apiKey)
	}
	if apiKey := os.Getenv("OPENSTATES_API_KEY"); apiKey != "" {
		viper.Set("sources.openstates.api_key", apiKey)
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		viper.Set("analysis.api_key", apiKey)
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		viper.Set("storage.postgres.url", url)
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		viper.Set("storage.postgres.host", host)
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.postgres.port", p)
		}
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		viper.Set("storage.postgres.user", user)
	}
	if pass := os.Getenv("POSTGRES_PASSWORD"); pass != "" {
		viper.Set("storage.postgres.password", pass)
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		viper.Set("storage.postgres.dbname", db)
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		viper.Set("storage.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.redis.port", p)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		viper.Set("storage.redis.password", password)
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Router.DispatchTimeout <= 0 {
		return fmt.Errorf("router.dispatch_timeout must be positive")
	}
	if config.Scheduler.MaxConcurrentFetches <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_fetches must be positive")
	}
	if config.Scheduler.BackoffBase <= 0 || config.Scheduler.BackoffCap < config.Scheduler.BackoffBase {
		return fmt.Errorf("scheduler backoff_base must be positive and backoff_cap >= backoff_base")
	}
	if len(config.Sources.Priority) == 0 {
		return fmt.Errorf("sources.priority must list at least one source")
	}
	seen := make(map[string]bool, len(config.Sources.Priority))
	for _, s := range config.Sources.Priority {
		if seen[s] {
			return fmt.Errorf("sources.priority lists %q twice", s)
		}
		seen[s] = true
	}
	return nil
}
