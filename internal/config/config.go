package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" envconfig:"SERVER"`
	Logging       LoggingConfig       `yaml:"logging" envconfig:"LOGGING"`
	Database      DatabaseConfig      `yaml:"database" envconfig:"DATABASE"`
	Paths         PathsConfig         `yaml:"paths" envconfig:"PATHS"`
	Consolidation ConsolidationConfig `yaml:"consolidation" envconfig:"CONSOLIDATION"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	// RateLimitRPS bounds the request rate; zero disables rate limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS" default:"10"`
	RateLimitBurst int     `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST" default:"20"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/qworker.log"`
}

// DatabaseConfig contains the analytical store configuration.
// An empty DSN selects the in-memory store, which keeps the engine
// runnable without a database at the cost of durability.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" envconfig:"DSN"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	OutputDir  string `yaml:"output_dir" envconfig:"OUTPUT_DIR" default:"output"`
	ScratchDir string `yaml:"scratch_dir" envconfig:"SCRATCH_DIR" default:"temp_extract"`
	ArchiveDir string `yaml:"archive_dir" envconfig:"ARCHIVE_DIR" default:"Archive"`
	LogsDir    string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// ConsolidationConfig contains the consolidation engine tunables
type ConsolidationConfig struct {
	// ChunkYears is the number of years covered by one master-workbook sheet.
	ChunkYears int `yaml:"chunk_years" envconfig:"CHUNK_YEARS" default:"4"`
	// SplitByYearTINs lists taxpayers whose master workbooks are split one
	// sheet per year regardless of ChunkYears.
	SplitByYearTINs []string `yaml:"split_by_year_tins" envconfig:"SPLIT_BY_YEAR_TINS"`
	// HeaderRows is the number of leading rows (title plus two header rows)
	// skipped before data in every source spreadsheet.
	HeaderRows int `yaml:"header_rows" envconfig:"HEADER_ROWS" default:"3"`
	// Columns overrides the positional column-index table used by the row
	// normalizer. Keys are declaration field names, values are zero-based
	// column indexes. Empty means the built-in layout.
	Columns map[string]int `yaml:"columns" envconfig:"COLUMNS"`
	// ProgressRetention caps how many completed runs the progress registry
	// keeps before evicting the oldest.
	ProgressRetention int `yaml:"progress_retention" envconfig:"PROGRESS_RETENTION" default:"256"`
}

// Load loads configuration from environment variables and an optional
// YAML config file. Environment variables take precedence.
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom loads configuration using the given config file path.
func LoadFrom(configFile string) (*Config, error) {
	var cfg Config

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileCfg, err := loadFromFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			cfg = *fileCfg
		}
	}

	// Environment overrides the file; envconfig also fills defaults for
	// anything neither source set.
	if err := envconfig.Process("QWORKER", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills zero values that envconfig defaults do not reach
// when a YAML file provided a partial section.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "console"
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = filepath.Join("logs", "qworker.log")
	}
	if cfg.Paths.OutputDir == "" {
		cfg.Paths.OutputDir = "output"
	}
	if cfg.Paths.ScratchDir == "" {
		cfg.Paths.ScratchDir = "temp_extract"
	}
	if cfg.Paths.ArchiveDir == "" {
		cfg.Paths.ArchiveDir = "Archive"
	}
	if cfg.Paths.LogsDir == "" {
		cfg.Paths.LogsDir = "logs"
	}
	if cfg.Consolidation.ChunkYears == 0 {
		cfg.Consolidation.ChunkYears = 4
	}
	if cfg.Consolidation.SplitByYearTINs == nil {
		cfg.Consolidation.SplitByYearTINs = []string{"L001-100044638"}
	}
	if cfg.Consolidation.HeaderRows == 0 {
		cfg.Consolidation.HeaderRows = 3
	}
	if cfg.Consolidation.ProgressRetention == 0 {
		cfg.Consolidation.ProgressRetention = 256
	}
}

// validate checks configuration values
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Consolidation.ChunkYears < 1 {
		return fmt.Errorf("chunk_years must be positive, got %d", c.Consolidation.ChunkYears)
	}
	if c.Consolidation.HeaderRows < 0 {
		return fmt.Errorf("header_rows must not be negative, got %d", c.Consolidation.HeaderRows)
	}
	return nil
}

// SplitByYear reports whether the taxpayer's master workbook is split one
// sheet per year.
func (c *ConsolidationConfig) SplitByYear(tin string) bool {
	for _, t := range c.SplitByYearTINs {
		if t == tin {
			return true
		}
	}
	return false
}

// ChunkWidth returns the year-chunk width for the taxpayer.
func (c *ConsolidationConfig) ChunkWidth(tin string) int {
	if c.SplitByYear(tin) {
		return 1
	}
	return c.ChunkYears
}

// getConfigFilePath returns the config file path, honoring QWORKER_CONFIG
func getConfigFilePath() string {
	if path := os.Getenv("QWORKER_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}
