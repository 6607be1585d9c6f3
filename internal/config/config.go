// Package config handles loading and managing taskmail configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ClickUpConfig holds ClickUp API configuration.
type ClickUpConfig struct {
	AccessToken   string `toml:"access_token"`    // Personal or OAuth token
	SpaceID       string `toml:"space_id"`        // Space scanned for task correlation
	ThreadFieldID string `toml:"thread_field_id"` // Custom field holding the Gmail thread id
	DefaultListID string `toml:"default_list_id"` // List for auto-created tasks
	TaskStatus    string `toml:"task_status"`     // Optional status for auto-created tasks
}

// SyncConfig holds synchronization behavior configuration.
type SyncConfig struct {
	AutoCreateTasks      bool   `toml:"auto_create_tasks"`      // Create a task when no match exists
	RecencyWindowMinutes int    `toml:"recency_window_minutes"` // Subject-match window (default 120)
	CursorSeed           string `toml:"cursor_seed"`            // historyId seed for warm starts
	Schedule             string `toml:"schedule"`               // Cron expression for ticks
	RateLimitQPS         int    `toml:"rate_limit_qps"`         // Gmail API rate limit
	MaxDeadLetterRetries int    `toml:"max_dead_letter_retries"`
}

// RenderConfig controls how message content is formatted into comments.
type RenderConfig struct {
	Timezone string `toml:"timezone"` // IANA zone for timestamp lines
	Locale   string `toml:"locale"`   // "es" or "en"
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort int    `toml:"api_port"` // HTTP server port (default: 8080)
	APIKey  string `toml:"api_key"`  // API authentication key
}

// OAuthConfig holds Google OAuth configuration.
type OAuthConfig struct {
	ClientSecrets string `toml:"client_secrets"` // Path to client_secret.json
	Account       string `toml:"account"`        // Monitored mailbox address
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// Config represents the taskmail configuration.
type Config struct {
	Data    DataConfig    `toml:"data"`
	OAuth   OAuthConfig   `toml:"oauth"`
	ClickUp ClickUpConfig `toml:"clickup"`
	Sync    SyncConfig    `toml:"sync"`
	Render  RenderConfig  `toml:"render"`
	Server  ServerConfig  `toml:"server"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DefaultHome returns the default taskmail home directory.
// Respects the TASKMAIL_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("TASKMAIL_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskmail"
	}
	return filepath.Join(home, ".taskmail")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.taskmail/config.toml).
// Environment variables override file values, keeping the env-only
// configuration surface intact for container platforms.
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir: homeDir,
		},
		Sync: SyncConfig{
			RecencyWindowMinutes: 120,
			Schedule:             "*/1 * * * *",
			RateLimitQPS:         5,
			MaxDeadLetterRetries: 5,
		},
		Render: RenderConfig{
			Timezone: "Europe/Madrid",
			Locale:   "es",
		},
		Server: ServerConfig{
			APIPort: 8080,
		},
	}

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyEnv()

	// Expand ~ in paths
	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	cfg.OAuth.ClientSecrets = expandPath(cfg.OAuth.ClientSecrets)

	return cfg, nil
}

// applyEnv overlays recognized environment variables onto the config.
func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.ClickUp.AccessToken, "CLICKUP_ACCESS_TOKEN")
	setString(&c.ClickUp.SpaceID, "CLICKUP_SPACE_ID")
	setString(&c.ClickUp.ThreadFieldID, "CLICKUP_THREAD_FIELD_ID")
	setString(&c.ClickUp.DefaultListID, "CLICKUP_DEFAULT_LIST_ID")
	setString(&c.ClickUp.TaskStatus, "CLICKUP_TASK_STATUS")
	setString(&c.Sync.CursorSeed, "GMAIL_LAST_HISTORY_ID")
	setString(&c.OAuth.Account, "GMAIL_ACCOUNT")
	setString(&c.Server.APIKey, "TASKMAIL_API_KEY")

	if v := os.Getenv("AUTO_CREATE_TASKS"); v != "" {
		c.Sync.AutoCreateTasks = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("RECENCY_WINDOW_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sync.RecencyWindowMinutes = n
		}
	}
}

// Validate checks that required identifiers are present.
// Called before the engine starts ticking; failures here are fatal.
func (c *Config) Validate() error {
	var missing []string
	if c.ClickUp.AccessToken == "" {
		missing = append(missing, "clickup.access_token (CLICKUP_ACCESS_TOKEN)")
	}
	if c.ClickUp.SpaceID == "" {
		missing = append(missing, "clickup.space_id (CLICKUP_SPACE_ID)")
	}
	if c.ClickUp.ThreadFieldID == "" {
		missing = append(missing, "clickup.thread_field_id (CLICKUP_THREAD_FIELD_ID)")
	}
	if c.OAuth.Account == "" {
		missing = append(missing, "oauth.account (GMAIL_ACCOUNT)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Sync.AutoCreateTasks && c.ClickUp.DefaultListID == "" {
		return fmt.Errorf("auto_create_tasks is enabled but clickup.default_list_id (CLICKUP_DEFAULT_LIST_ID) is not set")
	}
	return nil
}

// RecencyWindow returns the subject-match window as a duration.
func (c *Config) RecencyWindow() time.Duration {
	return time.Duration(c.Sync.RecencyWindowMinutes) * time.Minute
}

// RenderLocation resolves the configured render timezone.
// Falls back to UTC when the zone name is unknown.
func (c *Config) RenderLocation() *time.Location {
	loc, err := time.LoadLocation(c.Render.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "taskmail.db")
}

// TokensDir returns the path to the OAuth tokens directory.
func (c *Config) TokensDir() string {
	return filepath.Join(c.Data.DataDir, "tokens")
}

// EnsureHomeDir creates the data directory if it does not exist.
func (c *Config) EnsureHomeDir() error {
	return os.MkdirAll(c.Data.DataDir, 0700)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
