// Package config loads and validates the calsync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// ServerURL is the base URL of the CalDAV server
	// (e.g. "https://caldav.example.com").
	ServerURL string `yaml:"server_url"`

	// Username and Password authenticate against the CalDAV server using
	// HTTP basic auth. App-specific passwords are recommended.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// UserEmail identifies the current user among event participants. An
	// organizer or attendee with this email is flagged as the current user.
	UserEmail string `yaml:"user_email"`

	// Calendars lists the provider calendar tracking ids (CalDAV collection
	// paths) selected for sync. At least one entry is required.
	Calendars []string `yaml:"calendars"`

	// Window controls how far around "now" each sync pass reaches.
	Window WindowConfig `yaml:"window"`

	// SyncSchedule is a standard cron expression controlling daemon-mode
	// passes. Defaults to every five minutes.
	SyncSchedule string `yaml:"sync_schedule"`

	// Timezone is the IANA zone used when expanding recurring events.
	// Defaults to the system zone when empty.
	Timezone string `yaml:"timezone,omitempty"`

	// FetchTimeout bounds each per-calendar provider request.
	// Defaults to 30s.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// DBPath overrides the default events database location.
	DBPath string `yaml:"db_path,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// WindowConfig defines the sync window as offsets from the moment a pass
// starts: [now-Past, now+Future].
type WindowConfig struct {
	Past   time.Duration `yaml:"past"`
	Future time.Duration `yaml:"future"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "calsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

const (
	defaultSchedule     = "*/5 * * * *"
	defaultWindowPast   = 7 * 24 * time.Hour
	defaultWindowFuture = 30 * 24 * time.Hour
	defaultFetchTimeout = 30 * time.Second
)

// DefaultPath returns the default config file path: ~/.config/calsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "calsync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Location resolves the configured timezone, falling back to the system zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	u, err := url.ParseRequestURI(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("server_url %q must be a valid http or https URL", c.ServerURL)
	}

	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.Password == "" {
		return fmt.Errorf("password is required")
	}

	if len(c.Calendars) == 0 {
		return fmt.Errorf("calendars must contain at least one entry")
	}
	for i, cal := range c.Calendars {
		if cal == "" {
			return fmt.Errorf("calendars[%d] is empty", i)
		}
	}

	if c.SyncSchedule == "" {
		c.SyncSchedule = defaultSchedule
	}
	if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
		return fmt.Errorf("sync_schedule %q is not a valid cron expression: %w", c.SyncSchedule, err)
	}

	if c.Window.Past == 0 {
		c.Window.Past = defaultWindowPast
	}
	if c.Window.Future == 0 {
		c.Window.Future = defaultWindowFuture
	}
	if c.Window.Past < 0 || c.Window.Future < 0 {
		return fmt.Errorf("window offsets must be positive (past=%v, future=%v)", c.Window.Past, c.Window.Future)
	}

	if c.FetchTimeout == 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.FetchTimeout < time.Second {
		return fmt.Errorf("fetch_timeout %v is too short (minimum 1s)", c.FetchTimeout)
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("timezone %q is not a valid IANA zone: %w", c.Timezone, err)
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
