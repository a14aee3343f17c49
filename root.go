package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagPrincipal  string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// defaultPrincipal is the tenant identity used when --principal is not set.
const defaultPrincipal = "default"

// httpClientTimeout bounds every outbound HTTP request so a hung provider
// connection cannot block a CLI command indefinitely.
const httpClientTimeout = 30 * time.Second

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds the fully-assembled root command with all subcommands
// registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "brify-folders",
		Short:   "Employee folder provisioning and sync engine",
		Long:    "Provision, share, sync, and audit per-employee folders on the remote file-storage provider.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagPrincipal, "principal", defaultPrincipal, "tenant principal whose credential is used")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newConnectCmd())
	cmd.AddCommand(newDisconnectCmd())
	cmd.AddCommand(newProvisionCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newRecoverCmd())
	cmd.AddCommand(newShareAllCmd())
	cmd.AddCommand(newPurgeCmd())
	cmd.AddCommand(newSweepCmd())

	return cmd
}

// loadCLIConfig resolves the effective configuration for the invocation.
// An explicit --config path must exist; without the flag, a missing file
// yields defaults.
func loadCLIConfig() (*config.Config, error) {
	if flagConfigPath != "" {
		cfg, err := config.Load(flagConfigPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}

		return cfg, nil
	}

	cfg, err := config.LoadOrDefault("brify-folders.toml")
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return cfg, nil
}

// buildLogger creates an slog.Logger configured by the config file and CLI
// flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.Logging.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Logging.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
