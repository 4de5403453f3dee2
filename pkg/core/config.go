package core

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for an Engram engine.
//
// Example:
//
//	config := &core.Config{
//	    Storage: core.StorageConfig{
//	        Provider: "sqlite",
//	        SQLite:   core.SQLiteConfig{Path: "./engram.db"},
//	    },
//	    Embedder: core.EmbedderConfig{
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-3-small",
//	        Dimensions: 1536,
//	    },
//	}
type Config struct {
	// Storage selects and configures the durable backend.
	Storage StorageConfig `json:"storage"`

	// Embedder configures the embedding provider. An empty APIKey runs
	// the engine without semantic search (lexical retrieval only).
	Embedder EmbedderConfig `json:"embedder"`

	// Consolidation configures background maintenance.
	Consolidation ConsolidationConfig `json:"consolidation"`
}

// StorageConfig selects the storage backend.
//
// Supported providers: sqlite, postgres, mysql.
type StorageConfig struct {
	// Provider is the backend name: sqlite, postgres, or mysql.
	Provider string `json:"provider"`

	// SQLite configures the sqlite provider.
	SQLite SQLiteConfig `json:"sqlite,omitempty"`

	// Postgres configures the postgres provider.
	Postgres PostgresConfig `json:"postgres,omitempty"`

	// MySQL configures the mysql provider.
	MySQL MySQLConfig `json:"mysql,omitempty"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string `json:"path"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode,omitempty"`
}

// MySQLConfig configures the MySQL backend.
type MySQLConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
}

// EmbedderConfig configures the embedding provider (OpenAI-compatible).
type EmbedderConfig struct {
	// APIKey is the provider API key. Empty disables semantic search.
	APIKey string `json:"api_key"`

	// Model is the embedding model name.
	Model string `json:"model,omitempty"`

	// BaseURL overrides the API endpoint for compatible providers.
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the embedding vector dimension.
	Dimensions int `json:"dimensions,omitempty"`

	// Timeout bounds each embedding call. Zero uses the default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ConsolidationConfig configures the background sweeper.
type ConsolidationConfig struct {
	// SweepInterval is how often the background sweep runs. Zero uses
	// the default interval.
	SweepInterval time.Duration `json:"sweep_interval,omitempty"`
}

// DefaultConfig returns a local-development configuration: SQLite in the
// working directory and no embedding provider.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Provider: "sqlite",
			SQLite:   SQLiteConfig{Path: "./engram.db"},
		},
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	switch c.Storage.Provider {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("%w: sqlite path is required", ErrInvalidConfig)
		}
	case "postgres":
		p := c.Storage.Postgres
		if p.Host == "" || p.User == "" || p.DBName == "" {
			return fmt.Errorf("%w: postgres host, user, and db_name are required", ErrInvalidConfig)
		}
	case "mysql":
		m := c.Storage.MySQL
		if m.Host == "" || m.User == "" || m.DBName == "" {
			return fmt.Errorf("%w: mysql host, user, and db_name are required", ErrInvalidConfig)
		}
	case "":
		return fmt.Errorf("%w: storage provider is required", ErrInvalidConfig)
	default:
		return fmt.Errorf("%w: unknown storage provider %q", ErrInvalidConfig, c.Storage.Provider)
	}

	if c.Embedder.Dimensions < 0 {
		return fmt.Errorf("%w: embedder dimensions must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// LoadConfigFromEnv loads configuration from environment variables,
// first loading a .env file from the working directory when present.
//
// Supported variables:
//   - ENGRAM_STORAGE_PROVIDER (sqlite, postgres, mysql; default sqlite)
//   - ENGRAM_SQLITE_PATH
//   - ENGRAM_POSTGRES_HOST, ENGRAM_POSTGRES_PORT, ENGRAM_POSTGRES_USER,
//     ENGRAM_POSTGRES_PASSWORD, ENGRAM_POSTGRES_DATABASE, ENGRAM_POSTGRES_SSLMODE
//   - ENGRAM_MYSQL_HOST, ENGRAM_MYSQL_PORT, ENGRAM_MYSQL_USER,
//     ENGRAM_MYSQL_PASSWORD, ENGRAM_MYSQL_DATABASE
//   - ENGRAM_EMBEDDING_API_KEY (falls back to OPENAI_API_KEY),
//     ENGRAM_EMBEDDING_MODEL, ENGRAM_EMBEDDING_BASE_URL,
//     ENGRAM_EMBEDDING_DIMENSIONS
//   - ENGRAM_SWEEP_INTERVAL (Go duration, e.g. "30m")
func LoadConfigFromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Storage: StorageConfig{
			Provider: getEnvOrDefault("ENGRAM_STORAGE_PROVIDER", "sqlite"),
		},
	}

	switch cfg.Storage.Provider {
	case "sqlite":
		cfg.Storage.SQLite.Path = getEnvOrDefault("ENGRAM_SQLITE_PATH", "./engram.db")
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("ENGRAM_POSTGRES_PORT", "5432"))
		cfg.Storage.Postgres = PostgresConfig{
			Host:     getEnvOrDefault("ENGRAM_POSTGRES_HOST", "localhost"),
			Port:     port,
			User:     getEnvOrDefault("ENGRAM_POSTGRES_USER", "postgres"),
			Password: os.Getenv("ENGRAM_POSTGRES_PASSWORD"),
			DBName:   getEnvOrDefault("ENGRAM_POSTGRES_DATABASE", "engram"),
			SSLMode:  getEnvOrDefault("ENGRAM_POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("ENGRAM_MYSQL_PORT", "3306"))
		cfg.Storage.MySQL = MySQLConfig{
			Host:     getEnvOrDefault("ENGRAM_MYSQL_HOST", "localhost"),
			Port:     port,
			User:     getEnvOrDefault("ENGRAM_MYSQL_USER", "root"),
			Password: os.Getenv("ENGRAM_MYSQL_PASSWORD"),
			DBName:   getEnvOrDefault("ENGRAM_MYSQL_DATABASE", "engram"),
		}
	}

	apiKey := os.Getenv("ENGRAM_EMBEDDING_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	dims, _ := strconv.Atoi(getEnvOrDefault("ENGRAM_EMBEDDING_DIMENSIONS", "1536"))
	cfg.Embedder = EmbedderConfig{
		APIKey:     apiKey,
		Model:      getEnvOrDefault("ENGRAM_EMBEDDING_MODEL", "text-embedding-3-small"),
		BaseURL:    os.Getenv("ENGRAM_EMBEDDING_BASE_URL"),
		Dimensions: dims,
	}

	if raw := os.Getenv("ENGRAM_SWEEP_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: ENGRAM_SWEEP_INTERVAL: %v", ErrInvalidConfig, err)
		}
		cfg.Consolidation.SweepInterval = interval
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromFile loads a JSON configuration file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
