// Package config implements TOML configuration loading, validation, and
// defaults for the employee folder engine. It supports a three-layer
// override chain (defaults -> config file -> CLI flags). Durations are
// stored as strings in the file and parsed through accessor methods so
// that validation can report every bad value in one pass.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Store          StoreConfig          `toml:"store"`
	Provider       ProviderConfig       `toml:"provider"`
	Token          TokenConfig          `toml:"token"`
	Classification ClassificationConfig `toml:"classification"`
	Lock           LockConfig           `toml:"lock"`
	Sync           SyncConfig           `toml:"sync"`
	Retention      RetentionConfig      `toml:"retention"`
	Logging        LoggingConfig        `toml:"logging"`
	Metrics        MetricsConfig        `toml:"metrics"`
}

// StoreConfig locates the SQLite metadata database.
type StoreConfig struct {
	Path string `toml:"path"`
}

// ProviderConfig describes the remote file-storage provider application:
// OAuth endpoints, API base, and the tenant folder hierarchy names.
// AuthURL/TokenURL/RevokeURL/APIBaseURL are overridable for tests and for
// regional endpoints; empty values fall back to the provider defaults.
type ProviderConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	Scopes       []string `toml:"scopes"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	RevokeURL    string   `toml:"revoke_url"`
	APIBaseURL   string   `toml:"api_base_url"`

	// Folder hierarchy: tenant root plus one branch per classification.
	RootFolder        string `toml:"root_folder"`
	PersonalBranch    string `toml:"personal_branch"`
	EnterpriseBranch  string `toml:"enterprise_branch"`
	NonEligibleBranch string `toml:"non_eligible_branch"`

	// RatePerSecond caps provider API calls; 0 disables pacing.
	RatePerSecond float64 `toml:"rate_per_second"`
	RateBurst     int     `toml:"rate_burst"`

	// WatchAddress is the HTTPS endpoint registered for change
	// notifications on new folders. Empty disables watch registration.
	WatchAddress string `toml:"watch_address"`
}

// TokenConfig tunes the credential refresh policy.
type TokenConfig struct {
	RefreshThreshold string `toml:"refresh_threshold"`
	RefreshAttempts  int    `toml:"refresh_attempts"`
	RefreshBackoff   string `toml:"refresh_backoff"`
}

// ClassificationConfig holds the consumer-mail domain set and the
// per-tenant enterprise allow-lists. Enterprise detection is allow-list
// only; there is no heuristic fallback.
type ClassificationConfig struct {
	ConsumerDomains     []string            `toml:"consumer_domains"`
	EnterpriseAllowlist map[string][]string `toml:"enterprise_allowlist"`
}

// LockConfig tunes the lease-based mutex.
type LockConfig struct {
	MaxAttempts   int    `toml:"max_attempts"`
	BaseBackoff   string `toml:"base_backoff"`
	TTL           string `toml:"ttl"`
	PreventiveTTL string `toml:"preventive_ttl"`
	SweepInterval string `toml:"sweep_interval"`
}

// SyncConfig tunes the batch sync engine.
type SyncConfig struct {
	ChunkSize        int    `toml:"chunk_size"`
	ChunkPause       string `toml:"chunk_pause"`
	BreakerThreshold int    `toml:"breaker_threshold"`
	BreakerCooldown  string `toml:"breaker_cooldown"`
	JobRetention     string `toml:"job_retention"`
}

// RetentionConfig controls hard-purge of soft-deleted folder rows.
type RetentionConfig struct {
	PurgeAfterDays int `toml:"purge_after_days"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// MetricsConfig controls the Prometheus listener of long-running commands.
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// Duration accessors. All inputs are validated by Validate(), so parse
// errors here fall back to the documented default rather than panicking.

func (t TokenConfig) RefreshThresholdDuration() time.Duration {
	return parseDurationOr(t.RefreshThreshold, defaultRefreshThreshold)
}

func (t TokenConfig) RefreshBackoffDuration() time.Duration {
	return parseDurationOr(t.RefreshBackoff, defaultRefreshBackoff)
}

func (l LockConfig) BaseBackoffDuration() time.Duration {
	return parseDurationOr(l.BaseBackoff, defaultLockBaseBackoff)
}

func (l LockConfig) TTLDuration() time.Duration {
	return parseDurationOr(l.TTL, defaultLockTTL)
}

func (l LockConfig) PreventiveTTLDuration() time.Duration {
	return parseDurationOr(l.PreventiveTTL, defaultPreventiveTTL)
}

func (l LockConfig) SweepIntervalDuration() time.Duration {
	return parseDurationOr(l.SweepInterval, defaultSweepInterval)
}

func (s SyncConfig) ChunkPauseDuration() time.Duration {
	return parseDurationOr(s.ChunkPause, defaultChunkPause)
}

func (s SyncConfig) BreakerCooldownDuration() time.Duration {
	return parseDurationOr(s.BreakerCooldown, defaultBreakerCooldown)
}

func (s SyncConfig) JobRetentionDuration() time.Duration {
	return parseDurationOr(s.JobRetention, defaultJobRetention)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}
