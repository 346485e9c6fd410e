package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultRunTimeout bounds a run when no timeout is configured.
const DefaultRunTimeout = 5 * time.Minute

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Config holds the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	GitHub    GitHubConfig    `yaml:"github"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Runs      RunsConfig      `yaml:"runs"`
	Transform TransformConfig `yaml:"transform"`
	Workdir   WorkdirConfig   `yaml:"workdir"`
	Notify    NotifyConfig    `yaml:"notify"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"` // when set, /api requires an HS256 bearer token
	RateLimit int    `yaml:"rate_limit"` // run requests per minute per client, 0 = unlimited
}

// GitHubConfig holds the bot credential for the source host.
type GitHubConfig struct {
	Token   string `yaml:"token"`
	Login   string `yaml:"login"`    // resolved from the token when empty
	BaseURL string `yaml:"base_url"` // GitHub Enterprise API root
}

// LedgerConfig holds the run ledger connection settings.
type LedgerConfig struct {
	URL                string `yaml:"url"` // postgres://... or memory://
	Table              string `yaml:"table"`
	FailOrphansOnStart bool   `yaml:"fail_orphans_on_start"`
}

// RunsConfig holds settings for run execution.
type RunsConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	DefaultBranch string        `yaml:"default_branch"`
	MaxConcurrent int           `yaml:"max_concurrent"` // 0 = unbounded
	MaxPerRepo    int           `yaml:"max_per_repo"`   // 0 = unbounded
	Admission     string        `yaml:"admission"`      // expr rule over the run parameters
	Retry         RetryConfig   `yaml:"retry"`
}

// RetryConfig controls retries of steps that fail transiently.
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"` // 0 disables retries
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// TransformConfig describes the external syntax upgrade command.
type TransformConfig struct {
	Command  []string `yaml:"command"`
	Versions []string `yaml:"versions"`
}

// WorkdirConfig holds settings for temporary working copies.
type WorkdirConfig struct {
	Root          string        `yaml:"root"`
	SweepSchedule string        `yaml:"sweep_schedule"`
	MaxAge        time.Duration `yaml:"max_age"`
}

// NotifyConfig holds run event sinks. Empty values disable a sink.
type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	NATSURL         string `yaml:"nats_url"`
	NATSSubject     string `yaml:"nats_subject"`
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Ledger: LedgerConfig{
			Table: "upgrade_runs",
		},
		Runs: RunsConfig{
			Timeout:       DefaultRunTimeout,
			DefaultBranch: "main",
			Retry: RetryConfig{
				MaxRetries:    3,
				InitialDelay:  time.Second,
				MaxDelay:      30 * time.Second,
				BackoffFactor: 2.0,
			},
		},
		Transform: TransformConfig{
			Command: []string{"npx", "--yes", "ts-upgrade", "--target", "{version}", "{dir}"},
		},
		Workdir: WorkdirConfig{
			SweepSchedule: "0 * * * *",
			MaxAge:        6 * time.Hour,
		},
		Notify: NotifyConfig{
			NATSSubject: "tsupgrade.runs",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "tsupgrade",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML configuration file at path, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}

// LoadDefault loads ".env" when present, then tries "config.yaml" from the
// current directory. If the file does not exist, defaults are used.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	cfg, err := loadFile("config.yaml")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = defaults()
	}
	return finish(cfg)
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if cfg.Runs.Timeout <= 0 {
		cfg.Runs.Timeout = DefaultRunTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with the process environment.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("GITHUB_TOKEN", &cfg.GitHub.Token)
	str("GITHUB_LOGIN", &cfg.GitHub.Login)
	str("LEDGER_URL", &cfg.Ledger.URL)
	str("LEDGER_TABLE", &cfg.Ledger.Table)
	str("SLACK_WEBHOOK_URL", &cfg.Notify.SlackWebhookURL)
	str("NATS_URL", &cfg.Notify.NATSURL)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)

	if v, ok := lookup("RUN_TIMEOUT"); ok && v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("RUN_TIMEOUT: %w", err)
		}
		cfg.Runs.Timeout = d
	}
	return nil
}

// parseTimeout accepts a Go duration ("90s") or a bare number of seconds.
func parseTimeout(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate rejects settings that would fail later at runtime.
func (c *Config) Validate() error {
	if !tableNamePattern.MatchString(c.Ledger.Table) {
		return fmt.Errorf("ledger.table %q is not a valid table name", c.Ledger.Table)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Runs.Timeout < 0 {
		return fmt.Errorf("runs.timeout must not be negative")
	}
	if c.Runs.MaxConcurrent < 0 || c.Runs.MaxPerRepo < 0 {
		return fmt.Errorf("runs concurrency limits must not be negative")
	}
	if c.Runs.Retry.MaxRetries < 0 {
		return fmt.Errorf("runs.retry.max_retries must not be negative")
	}
	if c.Runs.Retry.MaxRetries > 0 && c.Runs.Retry.BackoffFactor < 1 {
		return fmt.Errorf("runs.retry.backoff_factor must be at least 1")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if len(c.Transform.Command) == 0 {
		return fmt.Errorf("transform.command is required")
	}
	// The sweeper would otherwise remove working copies of runs still in flight.
	if c.Workdir.MaxAge <= c.Runs.Timeout {
		return fmt.Errorf("workdir.max_age %s must exceed runs.timeout %s", c.Workdir.MaxAge, c.Runs.Timeout)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
