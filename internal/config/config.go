// Package config handles loading and managing relgraph configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// AccountSchedule defines the ingestion schedule for a single account.
type AccountSchedule struct {
	Email    string `toml:"email"`
	Schedule string `toml:"schedule"` // cron expression (e.g. "*/15 * * * *")
	Enabled  bool   `toml:"enabled"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	DatabaseURL string `toml:"database_url"`
}

// OAuthConfig holds OAuth configuration for the mail provider.
type OAuthConfig struct {
	ClientSecrets string `toml:"client_secrets"`
}

// IngestConfig holds ingestion tuning.
type IngestConfig struct {
	RateLimitQPS  float64 `toml:"rate_limit_qps"`
	RunBudgetSecs int     `toml:"run_budget_secs"`
	Concurrency   int     `toml:"concurrency"`
}

// ServerConfig holds the query HTTP surface's configuration.
type ServerConfig struct {
	BindAddr        string   `toml:"bind_addr"`
	APIPort         int      `toml:"api_port"`
	APIKey          string   `toml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins"`
	CORSCredentials bool     `toml:"cors_credentials"`
	CORSMaxAge      int      `toml:"cors_max_age"`
	AllowInsecure   bool     `toml:"allow_insecure"`
}

// ValidateSecure rejects configurations that would bind to a non-loopback
// address without an API key, unless explicitly overridden.
func (sc ServerConfig) ValidateSecure() error {
	if sc.APIKey != "" || sc.AllowInsecure {
		return nil
	}
	if isLoopbackAddr(sc.BindAddr) {
		return nil
	}
	return fmt.Errorf("server.bind_addr %q requires server.api_key to be set (or server.allow_insecure = true)", sc.BindAddr)
}

func isLoopbackAddr(addr string) bool {
	if addr == "" || addr == "localhost" {
		return true
	}
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// Config is the full relgraph configuration.
type Config struct {
	Data     DataConfig        `toml:"data"`
	OAuth    OAuthConfig       `toml:"oauth"`
	Ingest   IngestConfig      `toml:"ingest"`
	Server   ServerConfig      `toml:"server"`
	Accounts []AccountSchedule `toml:"accounts"`

	// HomeDir is computed, not read from the file.
	HomeDir string `toml:"-"`
}

// DefaultHome returns the default relgraph home directory, respecting
// RELGRAPH_HOME.
func DefaultHome() string {
	if h := os.Getenv("RELGRAPH_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relgraph"
	}
	return filepath.Join(home, ".relgraph")
}

// Load reads configuration from path, or the default location
// (<home>/config.toml) if path is empty. A missing file is not an error;
// defaults apply.
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
		Ingest: IngestConfig{
			RateLimitQPS:  5,
			RunBudgetSecs: 300,
			Concurrency:   10,
		},
		Server: ServerConfig{
			APIPort: 8080,
		},
		Accounts: []AccountSchedule{},
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	cfg.OAuth.ClientSecrets = expandPath(cfg.OAuth.ClientSecrets)

	return cfg, nil
}

// EnsureHomeDir creates the data directory and the tokens directory if
// they don't already exist.
func (c *Config) EnsureHomeDir() error {
	if err := os.MkdirAll(c.Data.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(c.TokensDir(), 0o700); err != nil {
		return fmt.Errorf("create tokens dir: %w", err)
	}
	return nil
}

// ConfigFilePath returns config.toml under the home directory. A different
// path passed explicitly to Load is not reflected here.
func (c *Config) ConfigFilePath() string {
	return filepath.Join(c.HomeDir, "config.toml")
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	if c.Data.DatabaseURL != "" {
		return c.Data.DatabaseURL
	}
	return filepath.Join(c.Data.DataDir, "relgraph.db")
}

// TokensDir returns the path to the OAuth tokens directory.
func (c *Config) TokensDir() string {
	return filepath.Join(c.Data.DataDir, "tokens")
}

// ScheduledAccounts returns accounts with scheduling enabled.
func (c *Config) ScheduledAccounts() []AccountSchedule {
	var scheduled []AccountSchedule
	for _, acc := range c.Accounts {
		if acc.Enabled && acc.Schedule != "" {
			scheduled = append(scheduled, acc)
		}
	}
	return scheduled
}

// GetAccountSchedule returns the schedule for email, or nil if
// unconfigured.
func (c *Config) GetAccountSchedule(email string) *AccountSchedule {
	for i := range c.Accounts {
		if c.Accounts[i].Email == email {
			return &c.Accounts[i]
		}
	}
	return nil
}

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
