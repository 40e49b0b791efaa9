package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingFeed        = errors.New("feed_url is not set")
	ErrMissingCredentials = errors.New("slack token and cookie are required")
)

// Environment variables that override the file. The names are the ones the
// tool has always read from .env.
const (
	EnvFeedURL     = "ICAL"
	EnvSlackToken  = "SLACK_TOKEN"
	EnvSlackCookie = "SLACK_COOKIE"
)

const (
	DefaultEventName   = "Werk"
	DefaultRefreshCron = "*/15 * * * *"
	DefaultCacheDir    = "./var/ics-cache"
	DefaultEnvFile     = ".env"
	DefaultStatusText  = "Out of office"
	DefaultStatusEmoji = ":no_entry:"
)

// SlackConfig is the publisher's destination and credentials.
type SlackConfig struct {
	// WorkspaceURL is the workspace base URL, e.g. "https://acme.slack.com".
	WorkspaceURL string `yaml:"workspace_url" json:"workspace_url"`
	Token        string `yaml:"token" json:"-"`
	Cookie       string `yaml:"cookie" json:"-"`
	StatusText   string `yaml:"status_text" json:"status_text"`
	StatusEmoji  string `yaml:"status_emoji" json:"status_emoji"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// FeedURL is the ICS feed: http(s)://, webcal://, file:// or a path.
	FeedURL string `yaml:"feed_url" json:"-"`

	// EventName is the event SUMMARY that counts as busy time.
	EventName string `yaml:"event_name" json:"event_name"`

	// Timezone is the IANA zone for week boundaries and weekdays. Empty
	// means the process's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is the cron schedule used by `watch`.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Listen is the status server address for `watch`. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// CacheDir stores HTTP validators and the last feed body.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// EnvFile is loaded before environment overrides are applied.
	EnvFile string `yaml:"env_file" json:"env_file"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Slack SlackConfig `yaml:"slack" json:"slack"`

	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		EventName:   DefaultEventName,
		RefreshCron: DefaultRefreshCron,
		CacheDir:    DefaultCacheDir,
		EnvFile:     DefaultEnvFile,
		LogLevel:    "info",
		Slack: SlackConfig{
			WorkspaceURL: "https://slack.com",
			StatusText:   DefaultStatusText,
			StatusEmoji:  DefaultStatusEmoji,
		},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.EventName) == "" {
		c.EventName = DefaultEventName
	}
	if c.RefreshCron == "" {
		c.RefreshCron = DefaultRefreshCron
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.EnvFile == "" {
		c.EnvFile = DefaultEnvFile
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Slack.WorkspaceURL == "" {
		c.Slack.WorkspaceURL = "https://slack.com"
	}
	if c.Slack.StatusText == "" {
		c.Slack.StatusText = DefaultStatusText
	}
	if c.Slack.StatusEmoji == "" {
		c.Slack.StatusEmoji = DefaultStatusEmoji
	}
}

// ApplyEnv loads c.EnvFile (if it exists) into the process environment
// without overriding variables that are already set, then copies ICAL,
// SLACK_TOKEN and SLACK_COOKIE over the file values.
func (c *Config) ApplyEnv() error {
	if c.EnvFile != "" {
		if _, err := os.Stat(c.EnvFile); err == nil {
			if err := gotenv.Load(c.EnvFile); err != nil {
				return fmt.Errorf("load %s: %w", c.EnvFile, err)
			}
		}
	}
	if v, ok := os.LookupEnv(EnvFeedURL); ok && v != "" {
		c.FeedURL = v
	}
	if v, ok := os.LookupEnv(EnvSlackToken); ok && v != "" {
		c.Slack.Token = v
	}
	if v, ok := os.LookupEnv(EnvSlackCookie); ok && v != "" {
		c.Slack.Cookie = v
	}
	return nil
}

// Location resolves Timezone. An empty Timezone is time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks what a run needs. Credentials are only required when the
// run publishes.
func (c *Config) Validate(publish bool) error {
	var errs []error
	if strings.TrimSpace(c.FeedURL) == "" {
		errs = append(errs, ErrMissingFeed)
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if publish && (c.Slack.Token == "" || c.Slack.Cookie == "") {
		errs = append(errs, ErrMissingCredentials)
	}
	return errors.Join(errs...)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there with
//     0600 perms (parent directory created) and returned.
//   - Otherwise the YAML is read and normalized.
//
// Environment overrides are not applied here; call ApplyEnv.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Return cfg with the error so the caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
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

	tmp, err := os.CreateTemp(dir, ".caldnd-config-*.tmp")
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
