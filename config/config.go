package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. LISTINGS_PATHS_INPUT_DIR.
// Only prefixed names are consulted.
const EnvPrefix = "LISTINGS"

type Config struct {
	Paths     PathsConfig     `yaml:"paths" split_words:"true"`
	Logging   LoggingConfig   `yaml:"logging" split_words:"true"`
	Quality   QualityConfig   `yaml:"quality" split_words:"true"`
	Table     TableConfig     `yaml:"table" split_words:"true"`
	Publish   PublishConfig   `yaml:"publish" split_words:"true"`
	Warehouse WarehouseConfig `yaml:"warehouse" split_words:"true"`
	Metrics   MetricsConfig   `yaml:"metrics" split_words:"true"`
}

type PathsConfig struct {
	InputDir    string `yaml:"input_dir" split_words:"true" validate:"required"`
	Ledger      string `yaml:"ledger" split_words:"true" validate:"required"`
	Merged      string `yaml:"merged" split_words:"true" validate:"required"`
	Partitioned string `yaml:"partitioned" split_words:"true" validate:"required"`
	WorkDir     string `yaml:"work_dir" split_words:"true" validate:"required"`
	StateDB     string `yaml:"state_db" split_words:"true" validate:"required"`
}

type LoggingConfig struct {
	File   string `yaml:"file" split_words:"true"`
	Level  string `yaml:"level" split_words:"true" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" split_words:"true" validate:"oneof=text json"`
	Stderr bool   `yaml:"stderr" split_words:"true"`
}

type QualityConfig struct {
	// ExpectedRows overrides the computed expectation when > 0.
	ExpectedRows    int      `yaml:"expected_rows" split_words:"true" validate:"gte=0"`
	CriticalColumns []string `yaml:"critical_columns" split_words:"true" validate:"required,min=1"`
}

type TableConfig struct {
	RetainSnapshots int `yaml:"retain_snapshots" split_words:"true" validate:"gte=1"`
}

type PublishConfig struct {
	// Kind selects the mirror target: "", "local" or "s3".
	Kind     string `yaml:"kind" split_words:"true" validate:"omitempty,oneof=local s3"`
	LocalDir string `yaml:"local_dir" split_words:"true" validate:"required_if=Kind local"`
	S3       struct {
		Bucket          string `yaml:"bucket" split_words:"true"`
		Prefix          string `yaml:"prefix" split_words:"true"`
		Region          string `yaml:"region" split_words:"true"`
		Endpoint        string `yaml:"endpoint" split_words:"true"`
		AccessKeyID     string `yaml:"access_key_id" split_words:"true"`
		SecretAccessKey string `yaml:"secret_access_key" split_words:"true"`
		PathStyle       bool   `yaml:"path_style" split_words:"true"`
	} `yaml:"s3" split_words:"true"`
}

type WarehouseConfig struct {
	Enabled  bool   `yaml:"enabled" split_words:"true"`
	Host     string `yaml:"host" split_words:"true"`
	Port     int    `yaml:"port" split_words:"true"`
	User     string `yaml:"user" split_words:"true"`
	Password string `yaml:"password" split_words:"true"`
	Database string `yaml:"database" split_words:"true"`
	Table    string `yaml:"table" split_words:"true"`
}

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" split_words:"true" validate:"omitempty,url"`
	Job            string `yaml:"job" split_words:"true"`
}

// Default returns a config rooted at dir. Every path can be overridden.
func Default(dir string) *Config {
	cfg := &Config{
		Paths: PathsConfig{
			InputDir:    filepath.Join(dir, "raw"),
			Ledger:      filepath.Join(dir, "processed", "processed_files.log"),
			Merged:      filepath.Join(dir, "processed", "merged"),
			Partitioned: filepath.Join(dir, "processed", "partitioned"),
			WorkDir:     filepath.Join(dir, "processed", "work"),
			StateDB:     filepath.Join(dir, "processed", "state.db"),
		},
		Logging: LoggingConfig{
			File:   filepath.Join(dir, "processed", "logs.log"),
			Level:  "info",
			Format: "text",
		},
		Quality: QualityConfig{
			CriticalColumns: []string{"price", "minimum_nights", "availability_365"},
		},
		Table: TableConfig{
			RetainSnapshots: 2,
		},
		Warehouse: WarehouseConfig{
			Host:  "localhost",
			Port:  5432,
			Table: "airbnb_listings",
		},
		Metrics: MetricsConfig{
			Job: "listings_etl",
		},
	}
	return cfg
}

// LoadConfig reads path on top of the defaults, then applies .env and
// environment overrides and validates the result. A missing file at path is
// only an error when path was given explicitly.
func LoadConfig(path string) (*Config, error) {
	cfg := Default(".")

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Publish.Kind == "s3" && c.Publish.S3.Bucket == "" {
		return fmt.Errorf("invalid config: publish.s3.bucket is required when publish.kind is s3")
	}
	if c.Warehouse.Enabled && (c.Warehouse.Database == "" || c.Warehouse.User == "") {
		return fmt.Errorf("invalid config: warehouse.database and warehouse.user are required when the warehouse is enabled")
	}
	return nil
}

// DSN returns the warehouse connection string.
func (w WarehouseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(w.User, w.Password),
		Host:   net.JoinHostPort(w.Host, strconv.Itoa(w.Port)),
		Path:   "/" + w.Database,
	}
	return u.String()
}
