package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation range constants.
const (
	minChunkSize        = 1
	maxChunkSize        = 25
	minLockAttempts     = 1
	maxLockAttempts     = 100
	minLockTTL          = 5 * time.Second
	minRefreshAttempts  = 1
	maxRefreshAttempts  = 10
	minRefreshThreshold = 30 * time.Second
	minPurgeDays        = 1
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateProvider(&cfg.Provider)...)
	errs = append(errs, validateToken(&cfg.Token)...)
	errs = append(errs, validateClassification(&cfg.Classification)...)
	errs = append(errs, validateLock(&cfg.Lock)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateRetention(&cfg.Retention)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateProvider(p *ProviderConfig) []error {
	var errs []error

	if p.RootFolder == "" {
		errs = append(errs, errors.New("provider.root_folder must not be empty"))
	}

	for name, v := range map[string]string{
		"provider.personal_branch":     p.PersonalBranch,
		"provider.enterprise_branch":   p.EnterpriseBranch,
		"provider.non_eligible_branch": p.NonEligibleBranch,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", name))
		}
	}

	if p.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("provider.rate_per_second must be >= 0, got %v", p.RatePerSecond))
	}

	return errs
}

func validateToken(t *TokenConfig) []error {
	var errs []error

	errs = appendDurationErr(errs, "token.refresh_threshold", t.RefreshThreshold, minRefreshThreshold)
	errs = appendDurationErr(errs, "token.refresh_backoff", t.RefreshBackoff, 0)

	if t.RefreshAttempts < minRefreshAttempts || t.RefreshAttempts > maxRefreshAttempts {
		errs = append(errs, fmt.Errorf("token.refresh_attempts must be %d-%d, got %d",
			minRefreshAttempts, maxRefreshAttempts, t.RefreshAttempts))
	}

	return errs
}

func validateClassification(c *ClassificationConfig) []error {
	var errs []error

	for _, d := range c.ConsumerDomains {
		if strings.TrimSpace(d) == "" || strings.Contains(d, "@") {
			errs = append(errs, fmt.Errorf("classification.consumer_domains entry %q is not a bare domain", d))
		}
	}

	for tenant, domains := range c.EnterpriseAllowlist {
		for _, d := range domains {
			if strings.TrimSpace(d) == "" || strings.Contains(d, "@") {
				errs = append(errs, fmt.Errorf("classification.enterprise_allowlist[%s] entry %q is not a bare domain", tenant, d))
			}
		}
	}

	return errs
}

func validateLock(l *LockConfig) []error {
	var errs []error

	if l.MaxAttempts < minLockAttempts || l.MaxAttempts > maxLockAttempts {
		errs = append(errs, fmt.Errorf("lock.max_attempts must be %d-%d, got %d",
			minLockAttempts, maxLockAttempts, l.MaxAttempts))
	}

	errs = appendDurationErr(errs, "lock.base_backoff", l.BaseBackoff, 0)
	errs = appendDurationErr(errs, "lock.ttl", l.TTL, minLockTTL)
	errs = appendDurationErr(errs, "lock.preventive_ttl", l.PreventiveTTL, minLockTTL)
	errs = appendDurationErr(errs, "lock.sweep_interval", l.SweepInterval, 0)

	// A preventive lock shorter than the regular TTL defeats its purpose.
	if ttl, err1 := time.ParseDuration(valueOr(l.TTL, defaultLockTTL.String())); err1 == nil {
		if pttl, err2 := time.ParseDuration(valueOr(l.PreventiveTTL, defaultPreventiveTTL.String())); err2 == nil && pttl < ttl {
			errs = append(errs, fmt.Errorf("lock.preventive_ttl (%s) must be >= lock.ttl (%s)", pttl, ttl))
		}
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.ChunkSize < minChunkSize || s.ChunkSize > maxChunkSize {
		errs = append(errs, fmt.Errorf("sync.chunk_size must be %d-%d, got %d",
			minChunkSize, maxChunkSize, s.ChunkSize))
	}

	if s.BreakerThreshold < 1 {
		errs = append(errs, fmt.Errorf("sync.breaker_threshold must be >= 1, got %d", s.BreakerThreshold))
	}

	errs = appendDurationErr(errs, "sync.chunk_pause", s.ChunkPause, 0)
	errs = appendDurationErr(errs, "sync.breaker_cooldown", s.BreakerCooldown, 0)
	errs = appendDurationErr(errs, "sync.job_retention", s.JobRetention, 0)

	return errs
}

func validateRetention(r *RetentionConfig) []error {
	if r.PurgeAfterDays < minPurgeDays {
		return []error{fmt.Errorf("retention.purge_after_days must be >= %d, got %d",
			minPurgeDays, r.PurgeAfterDays)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if l.LogLevel != "" && !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level must be debug/info/warn/error, got %q", l.LogLevel))
	}

	if l.LogFormat != "" && l.LogFormat != "text" && l.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("logging.log_format must be text or json, got %q", l.LogFormat))
	}

	return errs
}

// appendDurationErr validates a duration string, enforcing a minimum when
// min > 0. Empty strings are allowed (accessors substitute the default).
func appendDurationErr(errs []error, name, raw string, min time.Duration) []error {
	if raw == "" {
		return errs
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return append(errs, fmt.Errorf("%s: invalid duration %q", name, raw))
	}

	if d < 0 {
		return append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
	}

	if min > 0 && d < min {
		return append(errs, fmt.Errorf("%s must be >= %s, got %s", name, min, d))
	}

	return errs
}

func valueOr(raw, fallback string) string {
	if raw == "" {
		return fallback
	}

	return raw
}
