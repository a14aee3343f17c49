package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPurgeCmd() *cobra.Command {
	var flagOlderThanDays int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Hard-delete folder records soft-deleted past retention",
		Long: `Permanently remove local rows that have been soft-deleted for longer than
the retention window. The remote provider is never touched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPurge(cmd, flagOlderThanDays)
		},
	}

	cmd.Flags().IntVar(&flagOlderThanDays, "older-than-days", 0,
		"retention in days (0 uses the configured default)")

	return cmd
}

func runPurge(cmd *cobra.Command, olderThanDays int) error {
	a, err := newApp(flagPrincipal)
	if err != nil {
		return err
	}
	defer a.Close()

	if olderThanDays <= 0 {
		olderThanDays = a.cfg.Retention.PurgeAfterDays
	}

	purged, err := a.auditor.PurgeDeleted(cmd.Context(), time.Duration(olderThanDays)*24*time.Hour)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(map[string]any{
			"purged":          purged,
			"older_than_days": olderThanDays,
		})
	}

	statusf("Purged %d records soft-deleted more than %d days ago.\n", purged, olderThanDays)

	if purged > 0 {
		fmt.Println(purged)
	}

	return nil
}
