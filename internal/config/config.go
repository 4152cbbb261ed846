package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	defaultListen       = "127.0.0.1:5001"
	defaultLogLevel     = "info"
	defaultCalendarID   = "timetable-organizer"
	defaultCalendarName = "My University Timetable"
	defaultModel        = "gemini-2.5-flash"
	defaultCacheDir     = "./var/extract-cache"
	defaultMaxBytes     = 4 << 20
	defaultTTLMinutes   = 120
	defaultSweep        = "*/10 * * * *"
)

// CalendarConfig controls the generated iCalendar document.
type CalendarConfig struct {
	// ID is the domain part of every event UID.
	ID string `yaml:"id" json:"id"`
	// Name is written as X-WR-CALNAME.
	Name string `yaml:"name" json:"name"`
}

// ExtractorConfig configures the vision model provider.
type ExtractorConfig struct {
	// Model is the Gemini model name.
	Model string `yaml:"model" json:"model"`
	// APIKey authenticates against the Gemini API. GEMINI_API_KEY or
	// GOOGLE_API_KEY in the environment take precedence.
	APIKey string `yaml:"api_key" json:"-"`
	// TimeoutSeconds bounds one extraction call. 0 means no extra timeout.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	// CacheDir stores extraction results keyed by file hash. Empty disables
	// the cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// Timeout returns TimeoutSeconds as a duration.
func (e ExtractorConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// UploadConfig limits accepted files.
type UploadConfig struct {
	MaxBytes int64 `yaml:"max_bytes" json:"max_bytes"`
}

// SessionConfig controls in-memory session lifetime.
type SessionConfig struct {
	// TTLMinutes is how long an idle session is kept.
	TTLMinutes int `yaml:"ttl_minutes" json:"ttl_minutes"`
	// Sweep is a cron-style schedule for dropping idle sessions.
	Sweep string `yaml:"sweep" json:"sweep"`
}

// TTL returns TTLMinutes as a duration.
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone class times are interpreted in
	// (e.g. "Europe/Berlin"). Empty means the host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Calendar  CalendarConfig  `yaml:"calendar" json:"calendar"`
	Extractor ExtractorConfig `yaml:"extractor" json:"extractor"`
	Upload    UploadConfig    `yaml:"upload" json:"upload"`
	Session   SessionConfig   `yaml:"session" json:"session"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		LogLevel: defaultLogLevel,
		Calendar: CalendarConfig{
			ID:   defaultCalendarID,
			Name: defaultCalendarName,
		},
		Extractor: ExtractorConfig{
			Model:    defaultModel,
			CacheDir: defaultCacheDir,
		},
		Upload: UploadConfig{
			MaxBytes: defaultMaxBytes,
		},
		Session: SessionConfig{
			TTLMinutes: defaultTTLMinutes,
			Sweep:      defaultSweep,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.Calendar.ID == "" {
		c.Calendar.ID = defaultCalendarID
	}
	if c.Calendar.Name == "" {
		c.Calendar.Name = defaultCalendarName
	}
	if c.Extractor.Model == "" {
		c.Extractor.Model = defaultModel
	}
	if c.Extractor.TimeoutSeconds < 0 {
		c.Extractor.TimeoutSeconds = 0
	}
	if c.Upload.MaxBytes <= 0 {
		c.Upload.MaxBytes = defaultMaxBytes
	}
	if c.Session.TTLMinutes <= 0 {
		c.Session.TTLMinutes = defaultTTLMinutes
	}
	if c.Session.Sweep == "" {
		c.Session.Sweep = defaultSweep
	}
}

// ApplyEnv overrides file values with environment variables:
//   - GEMINI_API_KEY, then GOOGLE_API_KEY -> Extractor.APIKey
//   - TIMETABLECAL_LISTEN -> Listen
func (c *Config) ApplyEnv() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Extractor.APIKey = v
	} else if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.Extractor.APIKey = v
	}
	if v := os.Getenv("TIMETABLECAL_LISTEN"); v != "" {
		c.Listen = v
	}
}

// Location resolves Timezone, falling back to time.Local when it is empty
// or unknown.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides are applied in both cases but never written back.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Read loads configuration from path without creating it. A missing file
// yields the defaults; environment overrides are applied in both cases.
func Read(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := DefaultConfig()
		cfg.ApplyEnv()
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()
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

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".timetablecal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
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
