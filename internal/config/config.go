// Package config provides configuration management for the valuation engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Search    SearchConfig
	Valuation ValuationConfig
	Dedup     DedupConfig
	Scoring   ScoringConfig
	Retry     RetryConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Backend is "postgres" or "memory"; memory keeps everything in process
	// and needs neither Postgres nor Redis.
	Backend        string
	MigrationsPath string
	Postgres       PostgresConfig
	ClickHouse     ClickHouseConfig
	Redis          RedisConfig
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

// URL returns the connection URL used by the migration runner.
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration. An empty Host disables
// the observation history sink.
type ClickHouseConfig struct {
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

// SearchConfig holds search provider configuration
type SearchConfig struct {
	Provider     string
	BaseURL      string
	APIKey       string
	Engine       string
	Locale       string
	Country      string
	Marketplaces []string
	QueryDelay   time.Duration // fixed pause between successive provider queries
	QueryTimeout time.Duration
	MaxResults   int
	EnrichPages  int
	CacheTTL     time.Duration
	DailyBudget  int // 0 disables the shared daily quota
}

// ValuationConfig holds job and plausibility settings
type ValuationConfig struct {
	Workers        int
	JobTimeout     time.Duration
	MinPrice       int
	MaxPrice       int
	MinYear        int
	MaxMileage     int
	Country        string
	DepreciationKm float64 // price adjustment per km of mileage difference
}

// DedupConfig holds the duplicate-detection tolerances of the market store
type DedupConfig struct {
	PriceTolerance   int
	MileageTolerance int
	DateWindowDays   int
}

// ScoringConfig holds the relevance weights of the comparable search
type ScoringConfig struct {
	Base         int
	BrandMention int
	ModelMention int
	Price        int
	YearMatch    int
	Mileage      int
	Marketplace  int
	YearWindow   int
	Cap          int
}

// RetryConfig holds retry policy settings for external calls
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Backend:        getEnv("STORAGE_BACKEND", "postgres"),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "valuation"),
				User:           getEnv("POSTGRES_USER", "valuation"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", ""),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "valuation"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Search: SearchConfig{
			Provider:     getEnv("SEARCH_PROVIDER", "serpapi"),
			BaseURL:      getEnv("SEARCH_BASE_URL", "https://serpapi.com"),
			APIKey:       getEnv("SEARCH_API_KEY", ""),
			Engine:       getEnv("SEARCH_ENGINE", "google"),
			Locale:       getEnv("SEARCH_LOCALE", "es"),
			Country:      getEnv("SEARCH_COUNTRY", "es"),
			Marketplaces: getEnvAsList("SEARCH_MARKETPLACES", []string{"wallapop.com", "milanuncios.com", "coches.net"}),
			QueryDelay:   getEnvAsDuration("SEARCH_QUERY_DELAY", 1*time.Second),
			QueryTimeout: getEnvAsDuration("SEARCH_QUERY_TIMEOUT", 15*time.Second),
			MaxResults:   getEnvAsInt("SEARCH_MAX_RESULTS", 10),
			EnrichPages:  getEnvAsInt("SEARCH_ENRICH_PAGES", 3),
			CacheTTL:     getEnvAsDuration("SEARCH_CACHE_TTL", 6*time.Hour),
			DailyBudget:  getEnvAsInt("SEARCH_DAILY_BUDGET", 0),
		},
		Valuation: ValuationConfig{
			Workers:        getEnvAsInt("VALUATION_WORKERS", 4),
			JobTimeout:     getEnvAsDuration("VALUATION_JOB_TIMEOUT", 5*time.Minute),
			MinPrice:       getEnvAsInt("VALUATION_MIN_PRICE", 1000),
			MaxPrice:       getEnvAsInt("VALUATION_MAX_PRICE", 500000),
			MinYear:        getEnvAsInt("VALUATION_MIN_YEAR", 1950),
			MaxMileage:     getEnvAsInt("VALUATION_MAX_MILEAGE", 1500000),
			Country:        getEnv("VALUATION_COUNTRY", "ES"),
			DepreciationKm: getEnvAsFloat("VALUATION_DEPRECIATION_KM", 0.05),
		},
		Dedup: DedupConfig{
			PriceTolerance:   getEnvAsInt("DEDUP_PRICE_TOLERANCE", 500),
			MileageTolerance: getEnvAsInt("DEDUP_MILEAGE_TOLERANCE", 1000),
			DateWindowDays:   getEnvAsInt("DEDUP_DATE_WINDOW_DAYS", 1),
		},
		Scoring: ScoringConfig{
			Base:         getEnvAsInt("SCORE_BASE", 50),
			BrandMention: getEnvAsInt("SCORE_BRAND_MENTION", 20),
			ModelMention: getEnvAsInt("SCORE_MODEL_MENTION", 20),
			Price:        getEnvAsInt("SCORE_PRICE", 15),
			YearMatch:    getEnvAsInt("SCORE_YEAR_MATCH", 15),
			Mileage:      getEnvAsInt("SCORE_MILEAGE", 10),
			Marketplace:  getEnvAsInt("SCORE_MARKETPLACE", 10),
			YearWindow:   getEnvAsInt("SCORE_YEAR_WINDOW", 2),
			Cap:          getEnvAsInt("SCORE_CAP", 100),
		},
		Retry: RetryConfig{
			MaxAttempts:  getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			InitialDelay: getEnvAsDuration("RETRY_INITIAL_DELAY", 500*time.Millisecond),
			MaxDelay:     getEnvAsDuration("RETRY_MAX_DELAY", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate reports the first configuration value that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.Valuation.Workers < 1:
		return fmt.Errorf("VALUATION_WORKERS must be at least 1, got %d", c.Valuation.Workers)
	case c.Valuation.MinPrice < 0 || c.Valuation.MinPrice >= c.Valuation.MaxPrice:
		return fmt.Errorf("price bounds are invalid: min=%d max=%d", c.Valuation.MinPrice, c.Valuation.MaxPrice)
	case c.Valuation.MinYear < 1900:
		return fmt.Errorf("VALUATION_MIN_YEAR must be 1900 or later, got %d", c.Valuation.MinYear)
	case c.Dedup.PriceTolerance < 0 || c.Dedup.MileageTolerance < 0 || c.Dedup.DateWindowDays < 0:
		return fmt.Errorf("dedup tolerances must not be negative")
	case c.Search.MaxResults < 1:
		return fmt.Errorf("SEARCH_MAX_RESULTS must be at least 1, got %d", c.Search.MaxResults)
	case c.Scoring.Cap < 1:
		return fmt.Errorf("SCORE_CAP must be positive, got %d", c.Scoring.Cap)
	case c.Database.Backend != "postgres" && c.Database.Backend != "memory":
		return fmt.Errorf("STORAGE_BACKEND must be postgres or memory, got %q", c.Database.Backend)
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.Retry.MaxAttempts)
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

// getEnvAsList splits a comma-separated variable, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
