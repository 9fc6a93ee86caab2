// Package config loads run configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/roach88/denorm/internal/logger"
	"github.com/roach88/denorm/internal/policy"
)

// Config holds all run configuration.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	Source SourceConfig
	Target TargetConfig
	Run    RunConfig
}

// SourceConfig holds PostgreSQL connection settings. URL wins over the
// individual POSTGRES_* fields when set.
type SourceConfig struct {
	URL      string `env:"SOURCE_DATABASE_URL"`
	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:""`
	Database string `env:"POSTGRES_DB" envDefault:"postgres"`
	SSLMode  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	PageSize int    `env:"EXTRACT_PAGE_SIZE" envDefault:"1000"`
}

// DSN returns the PostgreSQL connection string.
func (s *SourceConfig) DSN() string {
	if s.URL != "" {
		return s.URL
	}
	return s.url().String()
}

// Redacted returns the DSN with its password masked, for logs.
func (s *SourceConfig) Redacted() string {
	if s.URL != "" {
		u, err := url.Parse(s.URL)
		if err != nil {
			return "<invalid url>"
		}
		return u.Redacted()
	}
	return s.url().Redacted()
}

func (s *SourceConfig) url() *url.URL {
	u := &url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:     "/" + s.Database,
		RawQuery: url.Values{"sslmode": {s.SSLMode}}.Encode(),
	}
	if s.Password != "" {
		u.User = url.UserPassword(s.User, s.Password)
	} else {
		u.User = url.User(s.User)
	}
	return u
}

// TargetConfig holds MongoDB connection settings.
type TargetConfig struct {
	URI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"MONGO_DB" envDefault:"denorm"`
}

// RunConfig tunes the migration itself.
type RunConfig struct {
	BatchSize  int    `env:"BATCH_SIZE" envDefault:"1000"`
	Workers    int    `env:"WORKERS" envDefault:"4"`
	SampleSize int    `env:"VALIDATE_SAMPLE_SIZE" envDefault:"5"`
	LedgerPath string `env:"LEDGER_PATH" envDefault:"denorm.db"`

	// Overflow overrides the overflow policy of every embedded relationship
	// when set. Empty keeps the policy table's own settings.
	Overflow string `env:"OVERFLOW_POLICY"`

	// PolicyFile is an optional CUE file merged onto the default policy.
	PolicyFile string `env:"POLICY_FILE"`

	Strict bool `env:"STRICT_REFERENCES" envDefault:"false"`
}

// Load reads envFile (if it exists) into the process environment and parses
// the configuration. Variables already set take precedence over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Parse builds a configuration from an explicit environment, ignoring the
// process environment.
func Parse(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate rejects values no run could use.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != logger.FormatText && c.LogFormat != logger.FormatJSON {
		errs = append(errs, fmt.Errorf("LOG_FORMAT: unknown format %q", c.LogFormat))
	}
	if c.Run.Overflow != "" {
		if _, err := policy.ParseOverflow(c.Run.Overflow); err != nil {
			errs = append(errs, fmt.Errorf("OVERFLOW_POLICY: %w", err))
		}
	}
	positive := []struct {
		name  string
		value int
	}{
		{"BATCH_SIZE", c.Run.BatchSize},
		{"WORKERS", c.Run.Workers},
		{"EXTRACT_PAGE_SIZE", c.Source.PageSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.value))
		}
	}
	if c.Run.SampleSize < 0 {
		errs = append(errs, fmt.Errorf("VALIDATE_SAMPLE_SIZE must not be negative, got %d", c.Run.SampleSize))
	}
	if c.Run.LedgerPath == "" {
		errs = append(errs, errors.New("LEDGER_PATH must not be empty"))
	}
	return errors.Join(errs...)
}

// Policy returns the relationship policy for the run: the default table,
// merged with PolicyFile when set, with Overflow applied last.
func (c *Config) Policy() (*policy.Table, error) {
	table := policy.Default()
	if c.Run.PolicyFile != "" {
		var err error
		if table, err = policy.LoadFile(c.Run.PolicyFile); err != nil {
			return nil, err
		}
	}
	if c.Run.Overflow != "" {
		o, err := policy.ParseOverflow(c.Run.Overflow)
		if err != nil {
			return nil, fmt.Errorf("OVERFLOW_POLICY: %w", err)
		}
		table = table.WithOverflow(o)
	}
	return table, nil
}
