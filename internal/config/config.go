package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Environment variables (optionally from a .env file next to
// the config) override file values.

// LocationConfig is the fixed geographic position used for solar times.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude" json:"latitude" env:"LATITUDE" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"longitude" json:"longitude" env:"LONGITUDE" validate:"gte=-180,lte=180"`
	Elevation float64 `yaml:"elevation" json:"elevation" env:"ELEVATION"`
}

// WindowConfig sizes the rolling materialization window.
type WindowConfig struct {
	// PastWeeks is P in [today - P weeks, today + F weeks].
	PastWeeks int `yaml:"past_weeks" json:"past_weeks" env:"WINDOW_PAST_WEEKS" validate:"gte=0"`
	// FutureWeeks is F in [today - P weeks, today + F weeks].
	FutureWeeks int `yaml:"future_weeks" json:"future_weeks" env:"WINDOW_FUTURE_WEEKS" validate:"gte=1"`
	// RetentionWeeks keeps imported entries this long past the window start
	// before the cleanup sweep deletes them.
	RetentionWeeks int `yaml:"retention_weeks" json:"retention_weeks" env:"WINDOW_RETENTION_WEEKS" validate:"gte=0"`
}

// ImportConfig controls outbound calendar fetches.
type ImportConfig struct {
	UserAgent      string        `yaml:"user_agent" json:"user_agent" env:"IMPORT_USER_AGENT" validate:"required"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" env:"IMPORT_CONNECT_TIMEOUT" validate:"gt=0"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" env:"IMPORT_READ_TIMEOUT" validate:"gt=0"`
	// OrgPause is the politeness delay between organizations' fetches.
	OrgPause time.Duration `yaml:"org_pause" json:"org_pause" env:"IMPORT_ORG_PAUSE" validate:"gte=0"`
	// InsecureTLS disables certificate verification for third-party calendar
	// hosts. Off by default.
	InsecureTLS  bool  `yaml:"insecure_tls" json:"insecure_tls" env:"IMPORT_INSECURE_TLS"`
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes" env:"IMPORT_MAX_BODY_BYTES" validate:"gt=0"`
}

// BrowserConfig controls the headless-browser fallback strategy.
type BrowserConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled" env:"BROWSER_ENABLED"`
	ExecPath        string        `yaml:"exec_path" json:"exec_path" env:"BROWSER_EXEC_PATH"`
	PageLoadTimeout time.Duration `yaml:"page_load_timeout" json:"page_load_timeout" env:"BROWSER_PAGE_LOAD_TIMEOUT" validate:"gt=0"`
	RenderWait      time.Duration `yaml:"render_wait" json:"render_wait" env:"BROWSER_RENDER_WAIT" validate:"gte=0"`
}

// ScheduleConfig drives the periodic pipeline.
type ScheduleConfig struct {
	// Cron is a standard 5-field cron spec evaluated in Config.Timezone.
	Cron         string `yaml:"cron" json:"cron" env:"SCHEDULE_CRON" validate:"required"`
	RunOnStartup bool   `yaml:"run_on_startup" json:"run_on_startup" env:"SCHEDULE_RUN_ON_STARTUP"`
}

// LogConfig mirrors log.Options.
type LogConfig struct {
	Level      string `yaml:"level" json:"level" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	File       string `yaml:"file" json:"file" env:"LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the admin API.
// PasswordHash is a bcrypt hash.
type BasicAuthConfig struct {
	Username     string `yaml:"username" json:"username" env:"ADMIN_USERNAME"`
	PasswordHash string `yaml:"password_hash" json:"password_hash" env:"ADMIN_PASSWORD_HASH"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" env:"LISTEN" validate:"required"`

	// Timezone is the IANA timezone for dates, solar times and the cron spec.
	Timezone string `yaml:"timezone" json:"timezone" env:"TIMEZONE" validate:"required"`

	// Database is the sqlite file path.
	Database string `yaml:"database" json:"database" env:"DATABASE" validate:"required"`

	// Diaspora selects two-day festivals.
	Diaspora bool `yaml:"diaspora" json:"diaspora" env:"DIASPORA"`

	Location LocationConfig `yaml:"location" json:"location"`
	Window   WindowConfig   `yaml:"window" json:"window"`
	Import   ImportConfig   `yaml:"import" json:"import"`
	Browser  BrowserConfig  `yaml:"browser" json:"browser"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	Log      LogConfig      `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, protects the /api/admin endpoints.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const envPrefix = "MINYANCAL_"

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "America/New_York",
		Database: "/var/lib/minyancal/minyancal.db",
		Diaspora: true,
		Location: LocationConfig{
			Latitude:  40.0957,
			Longitude: -74.2227,
		},
		Window: WindowConfig{
			PastWeeks:      2,
			FutureWeeks:    8,
			RetentionWeeks: 26,
		},
		Import: ImportConfig{
			UserAgent:      "minyancal/1.0 (+calendar import)",
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    30 * time.Second,
			OrgPause:       2 * time.Second,
			MaxBodyBytes:   8 << 20,
		},
		Browser: BrowserConfig{
			Enabled:         true,
			PageLoadTimeout: 45 * time.Second,
			RenderWait:      3 * time.Second,
		},
		Schedule: ScheduleConfig{
			Cron:         "0 3 * * 0",
			RunOnStartup: true,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.Database == "" {
		c.Database = def.Database
	}
	if c.Window.FutureWeeks <= 0 {
		c.Window.FutureWeeks = def.Window.FutureWeeks
	}
	if c.Window.PastWeeks < 0 {
		c.Window.PastWeeks = def.Window.PastWeeks
	}
	if c.Window.RetentionWeeks < 0 {
		c.Window.RetentionWeeks = def.Window.RetentionWeeks
	}
	if c.Import.UserAgent == "" {
		c.Import.UserAgent = def.Import.UserAgent
	}
	if c.Import.ConnectTimeout <= 0 {
		c.Import.ConnectTimeout = def.Import.ConnectTimeout
	}
	if c.Import.ReadTimeout <= 0 {
		c.Import.ReadTimeout = def.Import.ReadTimeout
	}
	if c.Import.OrgPause < 0 {
		c.Import.OrgPause = 0
	}
	if c.Import.MaxBodyBytes <= 0 {
		c.Import.MaxBodyBytes = def.Import.MaxBodyBytes
	}
	if c.Browser.PageLoadTimeout <= 0 {
		c.Browser.PageLoadTimeout = def.Browser.PageLoadTimeout
	}
	if c.Browser.RenderWait < 0 {
		c.Browser.RenderWait = 0
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = def.Schedule.Cron
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// Validate checks field constraints and that the timezone resolves.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600 perms.
//   - A .env file in the config directory (if any) is loaded into the process
//     environment without overriding already-set variables.
//   - MINYANCAL_* variables override file values.
//   - The result is normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := readOrCreate(path)
	if err != nil {
		return cfg, err
	}

	dotenv := filepath.Join(filepath.Dir(path), ".env")
	if _, statErr := os.Stat(dotenv); statErr == nil {
		if err := godotenv.Load(dotenv); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", dotenv, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readOrCreate(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".minyancal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
