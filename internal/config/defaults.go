package config

import "time"

// Default values for configuration options. Layer 0 of the override chain;
// chosen so the engine works against a fresh tenant with only provider
// credentials supplied.
const (
	defaultStorePath = "folders.db"

	defaultRootFolder        = "Employee Folders"
	defaultPersonalBranch    = "Personal Accounts"
	defaultEnterpriseBranch  = "Enterprise Accounts"
	defaultNonEligibleBranch = "Unsupported Accounts"

	defaultRatePerSecond = 8.0
	defaultRateBurst     = 16

	defaultRefreshThreshold = 5 * time.Minute
	defaultRefreshAttempts  = 3
	defaultRefreshBackoff   = 1 * time.Second

	defaultLockMaxAttempts = 10
	defaultLockBaseBackoff = 200 * time.Millisecond
	defaultLockTTL         = 2 * time.Minute
	defaultPreventiveTTL   = 10 * time.Minute
	defaultSweepInterval   = 1 * time.Minute

	defaultChunkSize        = 3
	defaultChunkPause       = 500 * time.Millisecond
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultJobRetention     = 10 * time.Minute

	defaultPurgeAfterDays = 30

	defaultLogLevel  = "info"
	defaultLogFormat = "text"

	defaultMetricsAddr = ":9464"
)

// defaultConsumerDomains is the fixed consumer-mail domain set. Tenants may
// replace it in [classification], not extend it implicitly.
var defaultConsumerDomains = []string{"gmail.com", "googlemail.com"}

// defaultScopes cover folder management, sharing, and change notifications.
var defaultScopes = []string{
	"https://www.googleapis.com/auth/drive",
	"https://www.googleapis.com/auth/drive.metadata",
}

// DefaultConfig returns a Config populated with all default values. Used as
// the starting point for TOML decoding so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{Path: defaultStorePath},
		Provider: ProviderConfig{
			Scopes:            append([]string(nil), defaultScopes...),
			RootFolder:        defaultRootFolder,
			PersonalBranch:    defaultPersonalBranch,
			EnterpriseBranch:  defaultEnterpriseBranch,
			NonEligibleBranch: defaultNonEligibleBranch,
			RatePerSecond:     defaultRatePerSecond,
			RateBurst:         defaultRateBurst,
		},
		Token: TokenConfig{
			RefreshThreshold: defaultRefreshThreshold.String(),
			RefreshAttempts:  defaultRefreshAttempts,
			RefreshBackoff:   defaultRefreshBackoff.String(),
		},
		Classification: ClassificationConfig{
			ConsumerDomains:     append([]string(nil), defaultConsumerDomains...),
			EnterpriseAllowlist: make(map[string][]string),
		},
		Lock: LockConfig{
			MaxAttempts:   defaultLockMaxAttempts,
			BaseBackoff:   defaultLockBaseBackoff.String(),
			TTL:           defaultLockTTL.String(),
			PreventiveTTL: defaultPreventiveTTL.String(),
			SweepInterval: defaultSweepInterval.String(),
		},
		Sync: SyncConfig{
			ChunkSize:        defaultChunkSize,
			ChunkPause:       defaultChunkPause.String(),
			BreakerThreshold: defaultBreakerThreshold,
			BreakerCooldown:  defaultBreakerCooldown.String(),
			JobRetention:     defaultJobRetention.String(),
		},
		Retention: RetentionConfig{PurgeAfterDays: defaultPurgeAfterDays},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Metrics: MetricsConfig{ListenAddr: defaultMetricsAddr},
	}
}
