package main

import (
	"log/slog"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/audit"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/config"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/drive"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/lock"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/obs"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/provision"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/store"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/syncer"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/token"
)

// defaultAPIBaseURL is the provider files API root used when the config
// leaves api_base_url empty.
const defaultAPIBaseURL = "https://www.googleapis.com/drive/v3"

// app wires the engine's services for one CLI invocation. Everything is
// constructed explicitly and injected; there are no package-level
// singletons.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *obs.Metrics

	store       *store.Store
	tokens      *token.Manager
	locks       *lock.Service
	drive       *drive.Client
	perms       *provision.PermissionManager
	provisioner *provision.Provisioner
	registry    *syncer.Registry
	engine      *syncer.Engine
	auditor     *audit.Auditor
}

// newApp loads config, opens the store, and wires every service for the
// given principal. Callers must Close().
func newApp(principalID string) (*app, error) {
	cfg, err := loadCLIConfig()
	if err != nil {
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logger := buildLogger(cfg)
	metrics := obs.New()

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}

	tokens := token.NewManager(st.Credentials(), token.Options{
		ClientID:         cfg.Provider.ClientID,
		ClientSecret:     cfg.Provider.ClientSecret,
		Scopes:           cfg.Provider.Scopes,
		AuthURL:          cfg.Provider.AuthURL,
		TokenURL:         cfg.Provider.TokenURL,
		RevokeURL:        cfg.Provider.RevokeURL,
		RefreshThreshold: cfg.Token.RefreshThresholdDuration(),
		RefreshAttempts:  cfg.Token.RefreshAttempts,
		RefreshBackoff:   cfg.Token.RefreshBackoffDuration(),
	}, defaultHTTPClient(), metrics, logger)

	locks := lock.NewService(st.DB(), lock.Options{
		MaxAttempts:   cfg.Lock.MaxAttempts,
		BaseBackoff:   cfg.Lock.BaseBackoffDuration(),
		TTL:           cfg.Lock.TTLDuration(),
		PreventiveTTL: cfg.Lock.PreventiveTTLDuration(),
	}, metrics, logger)

	apiBaseURL := cfg.Provider.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}

	client := drive.NewClient(apiBaseURL, defaultHTTPClient(), tokens.Source(principalID),
		cfg.Provider.RatePerSecond, cfg.Provider.RateBurst, logger)

	perms := provision.NewPermissionManager(client, st.Folders(), logger)

	hierarchy := provision.Hierarchy{
		Root:              cfg.Provider.RootFolder,
		PersonalBranch:    cfg.Provider.PersonalBranch,
		EnterpriseBranch:  cfg.Provider.EnterpriseBranch,
		NonEligibleBranch: cfg.Provider.NonEligibleBranch,
	}

	provisioner := provision.NewProvisioner(client, perms, st.Folders(), st.NonEligible(), locks,
		provision.Options{
			Hierarchy:           hierarchy,
			ConsumerDomains:     cfg.Classification.ConsumerDomains,
			EnterpriseAllowlist: cfg.Classification.EnterpriseAllowlist,
			WatchAddress:        cfg.Provider.WatchAddress,
		}, metrics, logger)

	registry := syncer.NewRegistry(cfg.Sync.JobRetentionDuration())
	engine := syncer.NewEngine(client, provisioner, st.Folders(), locks, registry,
		cfg.Sync.BreakerThreshold, cfg.Sync.BreakerCooldownDuration(), metrics, logger)

	auditor := audit.NewAuditor(client, st.Folders(), hierarchy, metrics, logger)

	return &app{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		store:       st,
		tokens:      tokens,
		locks:       locks,
		drive:       client,
		perms:       perms,
		provisioner: provisioner,
		registry:    registry,
		engine:      engine,
		auditor:     auditor,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
