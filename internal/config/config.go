package config

import (
	"fmt"
	"time"

	"github.com/usagedeck/usagedeck/internal/models"
)

// Config represents the complete application configuration.
type Config struct {
	Version     string            `yaml:"version"`
	Server      ServerConfig      `yaml:"server"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Credentials CredentialsConfig `yaml:"credentials"`
	History     HistoryConfig     `yaml:"history"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Pricing     map[string]Price  `yaml:"pricing,omitempty"`
	Accounts    []AccountConfig   `yaml:"accounts,omitempty"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
}

// MonitoringConfig contains fetch-cycle configuration. Enabled and
// AllowedAccounts seed the runtime monitoring switch; after startup the
// switch changes only through administrative calls.
type MonitoringConfig struct {
	Enabled         bool          `yaml:"enabled"`
	AllowedAccounts []string      `yaml:"allowed_accounts,omitempty"`
	Window          time.Duration `yaml:"window"`
	SnapshotTTL     time.Duration `yaml:"snapshot_ttl"`
	CycleTimeout    time.Duration `yaml:"cycle_timeout"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	RefreshBuffer   time.Duration `yaml:"refresh_buffer"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	Retry           RetryConfig   `yaml:"retry"`
}

// RetryConfig contains retry behavior for single external calls.
type RetryConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
}

// CredentialsConfig contains credential store configuration.
type CredentialsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// HistoryConfig contains rolling usage log configuration.
type HistoryConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Path         string        `yaml:"path"`
	Retention    time.Duration `yaml:"retention"`
	TrimInterval time.Duration `yaml:"trim_interval"`
}

// AlertsConfig contains alerting configuration.
type AlertsConfig struct {
	Enabled          bool           `yaml:"enabled"`
	LowQuotaPercent  float64        `yaml:"low_quota_percent"`
	ErrorTransitions bool           `yaml:"error_transitions"`
	Throttle         time.Duration  `yaml:"throttle"`
	Telegram         TelegramConfig `yaml:"telegram"`
}

// TelegramConfig contains Telegram delivery configuration.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// Price contains per-model token pricing used for cost estimation.
// Cache reads and cache writes are billed at different rates than
// regular input tokens.
type Price struct {
	InputPerMillion       float64 `yaml:"input_per_million"`
	OutputPerMillion      float64 `yaml:"output_per_million"`
	CacheReadPerMillion   float64 `yaml:"cache_read_per_million"`
	CacheCreatePerMillion float64 `yaml:"cache_create_per_million"`
}

// AccountConfig describes one external account.
type AccountConfig struct {
	ID             string          `yaml:"id"`
	DisplayName    string          `yaml:"display_name"`
	Provider       string          `yaml:"provider"`
	Tier           string          `yaml:"tier"`
	Sources        []string        `yaml:"sources"`
	CredentialsRef string          `yaml:"credentials_ref"`
	QuotaCeiling   uint64          `yaml:"quota_ceiling"`
	Endpoints      EndpointsConfig `yaml:"endpoints"`
}

// EndpointsConfig contains per-account endpoint overrides. Empty fields
// fall back to the provider's well-known URLs.
type EndpointsConfig struct {
	SessionURL string `yaml:"session_url,omitempty"`
	UsageURL   string `yaml:"usage_url,omitempty"`
	TokenURL   string `yaml:"token_url,omitempty"`
	ProbeURL   string `yaml:"probe_url,omitempty"`
	StatsPath  string `yaml:"stats_path,omitempty"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Monitoring.Validate(); err != nil {
		return fmt.Errorf("monitoring: %w", err)
	}
	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if err := c.Alerts.Validate(); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	for i := range c.Accounts {
		if err := c.Accounts[i].Validate(); err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if _, dup := seen[c.Accounts[i].ID]; dup {
			return fmt.Errorf("accounts[%d]: duplicate account ID %s", i, c.Accounts[i].ID)
		}
		seen[c.Accounts[i].ID] = struct{}{}
	}
	for _, id := range c.Monitoring.AllowedAccounts {
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("monitoring: allowed account %s is not configured", id)
		}
	}
	return nil
}

// Validate checks the server configuration.
func (s *ServerConfig) Validate() error {
	if s.HTTPPort < 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 0 and 65535")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout cannot be negative")
	}
	switch s.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", s.LogLevel)
	}
	return nil
}

// Validate checks the monitoring configuration.
func (m *MonitoringConfig) Validate() error {
	if m.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if m.SnapshotTTL <= 0 {
		return fmt.Errorf("snapshot_ttl must be positive")
	}
	if m.CycleTimeout <= 0 {
		return fmt.Errorf("cycle_timeout must be positive")
	}
	if m.FetchTimeout <= 0 || m.FetchTimeout > m.CycleTimeout {
		return fmt.Errorf("fetch_timeout must be positive and not exceed cycle_timeout")
	}
	if m.RefreshBuffer < 0 {
		return fmt.Errorf("refresh_buffer cannot be negative")
	}
	if m.Retry.Attempts < 0 {
		return fmt.Errorf("retry attempts cannot be negative")
	}
	if m.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry base_delay cannot be negative")
	}
	return nil
}

// Validate checks the history configuration.
func (h *HistoryConfig) Validate() error {
	if !h.Enabled {
		return nil
	}
	if h.Path == "" {
		return fmt.Errorf("path is required when history is enabled")
	}
	if h.Retention <= 0 {
		return fmt.Errorf("retention must be positive")
	}
	return nil
}

// Validate checks the alerts configuration.
func (a *AlertsConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.LowQuotaPercent < 0 || a.LowQuotaPercent > 100 {
		return fmt.Errorf("low_quota_percent must be between 0 and 100")
	}
	if a.Telegram.Token == "" || a.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram token and chat_id are required when alerts are enabled")
	}
	return nil
}

// Validate checks one account configuration.
func (a *AccountConfig) Validate() error {
	acct := a.Account()
	return acct.Validate()
}

// Account converts the config entry into the immutable account value.
func (a *AccountConfig) Account() models.Account {
	sources := make([]models.SourceKind, 0, len(a.Sources))
	for _, s := range a.Sources {
		sources = append(sources, models.SourceKind(s))
	}
	return models.Account{
		ID:             a.ID,
		DisplayName:    a.DisplayName,
		Provider:       models.Provider(a.Provider),
		Tier:           a.Tier,
		Sources:        sources,
		CredentialsRef: a.CredentialsRef,
		QuotaCeiling:   a.QuotaCeiling,
	}
}

// AccountList converts all configured accounts.
func (c *Config) AccountList() models.AccountSlice {
	accounts := make(models.AccountSlice, 0, len(c.Accounts))
	for i := range c.Accounts {
		accounts = append(accounts, c.Accounts[i].Account())
	}
	return accounts
}
