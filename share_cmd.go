package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/drive"
)

func newShareAllCmd() *cobra.Command {
	var flagRole string

	cmd := &cobra.Command{
		Use:   "share-all",
		Short: "Grant folder access to every employee lacking it",
		Long: `Scan all active shareable folders and share each with its employee at the
given role unless an equal or better grant already exists. Per-item
failures are reported at the end and never abort the scan.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShareAll(cmd, flagRole)
		},
	}

	cmd.Flags().StringVar(&flagRole, "role", drive.RoleWriter,
		"role to grant: reader, commenter, or writer")

	return cmd
}

func runShareAll(cmd *cobra.Command, role string) error {
	if drive.RoleRank(role) == 0 {
		return fmt.Errorf("invalid --role %q", role)
	}

	a, err := newApp(flagPrincipal)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.perms.ShareAllWithoutAccess(cmd.Context(), role)
	if err != nil {
		return err
	}

	if flagJSON {
		errs := make([]map[string]string, 0, len(report.Errors))
		for _, itemErr := range report.Errors {
			errs = append(errs, map[string]string{
				"email": itemErr.Email,
				"error": itemErr.Err.Error(),
			})
		}

		return printJSON(map[string]any{
			"scanned": report.Scanned,
			"shared":  report.Shared,
			"skipped": report.Skipped,
			"failed":  report.Failed,
			"errors":  errs,
		})
	}

	statusf("Share-all: %d scanned, %d shared, %d skipped, %d failed.\n",
		report.Scanned, report.Shared, report.Skipped, report.Failed)

	for _, itemErr := range report.Errors {
		fmt.Fprintf(os.Stderr, "%s: %v\n", itemErr.Email, itemErr.Err)
	}

	if report.Failed > 0 {
		return fmt.Errorf("%d of %d folders failed", report.Failed, report.Scanned)
	}

	return nil
}
