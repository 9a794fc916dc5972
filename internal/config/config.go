// Package config provides configuration management for the MLS sync service.
// It loads configuration from environment variables, .env files and an optional sources YAML file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Sync      SyncConfig
	Sources   []SourceConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration.
// The status event sink is disabled when Enabled is false.
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// SyncConfig holds sync orchestration configuration
type SyncConfig struct {
	Lookback               time.Duration // reference window when no successful run exists (default: 24h)
	PageSize               int           // records per page request (default: 200)
	MaxPages               int           // page ceiling for full scans per status filter (default: 1000)
	MaxIncrementalPages    int           // page ceiling for incremental scans per status filter (default: 50)
	RequestDelay           time.Duration // fixed delay between successive provider requests (default: 250ms)
	RetryDelay             time.Duration // delay before the single page retry (default: 2s)
	BatchSize              int           // rows per pgx batch chunk (default: 500)
	EnrichConcurrency      int           // width of concurrent member lookups (default: 5)
	StaleRunAfter          time.Duration // in-progress rows older than this are abandoned (default: 6h)
	LockTTL                time.Duration // Redis run lock expiry (default: 2h)
	IncrementalInterval    time.Duration // scheduler tick (default: 1h)
	FullEvery              time.Duration // full sync cadence, 0 disables (default: 24h)
	StatusFilters          []string      // provider statuses queried separately
	HTTPTimeout            time.Duration // provider HTTP client timeout (default: 60s)
	CircuitBreakerFailures int           // consecutive lookup failures before enrichment short-circuits (default: 5)
}

// SourceConfig describes one MLS provider feed
type SourceConfig struct {
	Name          string   `yaml:"name"`
	BaseURL       string   `yaml:"base_url"`
	TokenURL      string   `yaml:"token_url"`
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	StaticToken   string   `yaml:"static_token"`
	ListingShape  string   `yaml:"listing_shape"`
	MemberShape   string   `yaml:"member_shape"`
	StatusFilters []string `yaml:"status_filters"`
}

// sourcesFile is the on-disk layout of MLS_SOURCES_FILE
type sourcesFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

// RateLimitConfig holds inbound API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "mls_sync"),
				User:           getEnv("POSTGRES_USER", "mls"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "mls_sync"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Sync: SyncConfig{
			Lookback:               getEnvAsDuration("SYNC_LOOKBACK", 24*time.Hour),
			PageSize:               getEnvAsInt("SYNC_PAGE_SIZE", 200),
			MaxPages:               getEnvAsInt("SYNC_MAX_PAGES", 1000),
			MaxIncrementalPages:    getEnvAsInt("SYNC_MAX_INCREMENTAL_PAGES", 50),
			RequestDelay:           getEnvAsDuration("SYNC_REQUEST_DELAY", 250*time.Millisecond),
			RetryDelay:             getEnvAsDuration("SYNC_RETRY_DELAY", 2*time.Second),
			BatchSize:              getEnvAsInt("SYNC_BATCH_SIZE", 500),
			EnrichConcurrency:      getEnvAsInt("SYNC_ENRICH_CONCURRENCY", 5),
			StaleRunAfter:          getEnvAsDuration("SYNC_STALE_RUN_AFTER", 6*time.Hour),
			LockTTL:                getEnvAsDuration("SYNC_LOCK_TTL", 2*time.Hour),
			IncrementalInterval:    getEnvAsDuration("SYNC_INTERVAL", time.Hour),
			FullEvery:              getEnvAsDuration("SYNC_FULL_EVERY", 24*time.Hour),
			StatusFilters:          getEnvAsList("SYNC_STATUS_FILTERS", []string{"Active", "Pending"}),
			HTTPTimeout:            getEnvAsDuration("MLS_HTTP_TIMEOUT", 60*time.Second),
			CircuitBreakerFailures: getEnvAsInt("SYNC_ENRICH_MAX_FAILURES", 5),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	sources, err := loadSources()
	if err != nil {
		return nil, err
	}
	config.Sources = sources

	return config, nil
}

// Source returns the configured source with the given name
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return SourceConfig{}, false
}

// SourceNames returns the names of all configured sources in declaration order
func (c *Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for _, src := range c.Sources {
		names = append(names, src.Name)
	}
	return names
}

// loadSources reads MLS_SOURCES_FILE when set, otherwise a single source from MLS_* variables
func loadSources() ([]SourceConfig, error) {
	if path := getEnv("MLS_SOURCES_FILE", ""); path != "" {
		return LoadSourcesFile(path)
	}

	name := getEnv("MLS_SOURCE", "")
	if name == "" {
		return nil, nil
	}

	src := SourceConfig{
		Name:          name,
		BaseURL:       getEnv("MLS_BASE_URL", ""),
		TokenURL:      getEnv("MLS_TOKEN_URL", ""),
		ClientID:      getEnv("MLS_CLIENT_ID", ""),
		ClientSecret:  getEnv("MLS_CLIENT_SECRET", ""),
		Username:      getEnv("MLS_USERNAME", ""),
		Password:      getEnv("MLS_PASSWORD", ""),
		StaticToken:   getEnv("MLS_ACCESS_TOKEN", ""),
		ListingShape:  getEnv("MLS_LISTING_SHAPE", "reso"),
		MemberShape:   getEnv("MLS_MEMBER_SHAPE", "reso"),
		StatusFilters: getEnvAsList("MLS_STATUS_FILTERS", nil),
	}
	if err := validateSource(src); err != nil {
		return nil, err
	}
	return []SourceConfig{src}, nil
}

// LoadSourcesFile reads and validates a sources YAML file.
// Unknown keys are rejected so typos surface at startup.
func LoadSourcesFile(path string) ([]SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var file sourcesFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}

	seen := make(map[string]bool, len(file.Sources))
	for i := range file.Sources {
		src := &file.Sources[i]
		if src.ListingShape == "" {
			src.ListingShape = "reso"
		}
		if src.MemberShape == "" {
			src.MemberShape = "reso"
		}
		if err := validateSource(*src); err != nil {
			return nil, err
		}
		if seen[src.Name] {
			return nil, fmt.Errorf("duplicate source %q in sources file", src.Name)
		}
		seen[src.Name] = true
	}

	return file.Sources, nil
}

func validateSource(src SourceConfig) error {
	if src.Name == "" {
		return fmt.Errorf("source name is required")
	}
	if src.BaseURL == "" {
		return fmt.Errorf("source %s: base_url is required", src.Name)
	}
	if src.StaticToken == "" && src.TokenURL == "" {
		return fmt.Errorf("source %s: either static_token or token_url is required", src.Name)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList gets a comma-separated environment variable as a trimmed list
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
