package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Validation ValidationConfig `mapstructure:"validation"`
	VAT        VATConfig        `mapstructure:"vat"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Export     ExportConfig     `mapstructure:"export"`
	Reload     ReloadConfig     `mapstructure:"reload"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database configuration.
// Driver is "sqlite" or "memory"; the memory store loses everything on exit.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// OpenAIConfig holds OpenAI API configuration for transcribing scanned pages
type OpenAIConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// ExtractionConfig controls field extraction and amount resolution
type ExtractionConfig struct {
	PatternsFile    string `mapstructure:"patterns_file"`
	ContextWindow   int    `mapstructure:"context_window"`
	DefaultCurrency string `mapstructure:"default_currency"`
	Direction       string `mapstructure:"direction"`
	MaxPages        int    `mapstructure:"max_pages"`
}

// ValidationConfig controls the cross-field checks
type ValidationConfig struct {
	Tolerance string `mapstructure:"tolerance"`
	Strict    bool   `mapstructure:"strict"`
}

// ToleranceDecimal parses Tolerance; Validate has already rejected bad values
func (v ValidationConfig) ToleranceDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(v.Tolerance)
	if err != nil {
		return decimal.New(2, -2)
	}
	return d
}

// VATConfig points at an optional rate table overriding the built-in one
type VATConfig struct {
	RatesFile string `mapstructure:"rates_file"`
}

// LedgerConfig holds chart and balance settings
type LedgerConfig struct {
	ChartFile      string            `mapstructure:"chart_file"`
	BalanceWorkers int               `mapstructure:"balance_workers"`
	ExpenseAccount map[string]string `mapstructure:"expense_accounts"`
	AutoBook       bool              `mapstructure:"auto_book"`
}

// WorkerConfig holds background ingestion settings
type WorkerConfig struct {
	Count          int           `mapstructure:"count"`
	QueueSize      int           `mapstructure:"queue_size"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// StorageConfig holds the document file location
type StorageConfig struct {
	DocumentDir string `mapstructure:"document_dir"`
}

// ExportConfig holds XLSX export settings
type ExportConfig struct {
	CompanyName string `mapstructure:"company_name"`
}

// ReloadConfig controls hot reload of the pattern, rate and chart files
type ReloadConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// Load loads configuration from file and environment variables.
// An empty path uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DOCLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/docledger.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("openai.enabled", false)
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.max_tokens", 2000)
	v.SetDefault("openai.timeout", 60*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("extraction.context_window", 50)
	v.SetDefault("extraction.default_currency", "CHF")
	v.SetDefault("extraction.direction", "PURCHASE")
	v.SetDefault("extraction.max_pages", 4)

	v.SetDefault("validation.tolerance", "0.02")
	v.SetDefault("validation.strict", false)

	v.SetDefault("ledger.balance_workers", 0)
	v.SetDefault("ledger.auto_book", false)

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.queue_size", 100)
	v.SetDefault("worker.fetch_timeout", 90*time.Second)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.initial_backoff", time.Second)
	v.SetDefault("worker.max_backoff", 10*time.Second)

	v.SetDefault("storage.document_dir", "data/documents")

	v.SetDefault("export.company_name", "")

	v.SetDefault("reload.enabled", true)
	v.SetDefault("reload.debounce", 200*time.Millisecond)
}

// bindEnvVars binds the unprefixed variables kept for compatibility with common tooling
func bindEnvVars(v *viper.Viper) error {
	return errors.Join(
		v.BindEnv("openai.api_key", "DOCLEDGER_OPENAI_API_KEY", "OPENAI_API_KEY"),
		v.BindEnv("openai.base_url", "DOCLEDGER_OPENAI_BASE_URL", "OPENAI_BASE_URL"),
		v.BindEnv("export.company_name", "DOCLEDGER_EXPORT_COMPANY_NAME", "COMPANY_NAME"),
	)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode must be debug, release or test, got %q", c.Server.Mode)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite or memory, got %q", c.Database.Driver)
	}

	if c.OpenAI.Enabled && c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required when openai.enabled is set")
	}

	switch strings.ToUpper(c.Extraction.Direction) {
	case "PURCHASE", "SALE":
	default:
		return fmt.Errorf("extraction.direction must be PURCHASE or SALE, got %q", c.Extraction.Direction)
	}
	if len(c.Extraction.DefaultCurrency) != 3 {
		return fmt.Errorf("extraction.default_currency must be an ISO 4217 code, got %q", c.Extraction.DefaultCurrency)
	}
	if c.Extraction.ContextWindow < 0 {
		return fmt.Errorf("extraction.context_window must not be negative")
	}

	tol, err := decimal.NewFromString(c.Validation.Tolerance)
	if err != nil {
		return fmt.Errorf("validation.tolerance: %w", err)
	}
	if tol.IsNegative() {
		return fmt.Errorf("validation.tolerance must not be negative")
	}

	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker.count must be positive")
	}
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be positive")
	}

	if c.Storage.DocumentDir == "" {
		return fmt.Errorf("storage.document_dir is required")
	}

	return nil
}
