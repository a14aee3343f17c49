package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/audit"
)

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Compare local folder records against the remote hierarchy",
		Long: `Full-scan consistency check. Reports local rows whose remote folder is
gone (missing_in_remote) and remote folders no local row references
(orphaned_in_remote). Read-only; changes nothing.`,
		RunE: runAudit,
	}
}

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Recreate local records for orphaned remote folders",
		Long: `Audit, then create a local record for every orphaned remote folder whose
name yields a valid employee email. Never deletes anything.`,
		RunE: runRecover,
	}
}

func runAudit(cmd *cobra.Command, _ []string) error {
	a, err := newApp(flagPrincipal)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.auditor.Audit(cmd.Context())
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(auditSummary(report))
	}

	statusf("Audit: %d local rows, %d remote folders checked.\n",
		report.CheckedLocal, report.CheckedRemote)

	if len(report.MissingInRemote) == 0 && len(report.OrphanedInRemote) == 0 {
		statusf("Stores are consistent.\n")

		return nil
	}

	rows := make([][]string, 0, len(report.MissingInRemote)+len(report.OrphanedInRemote))

	for _, f := range report.MissingInRemote {
		rows = append(rows, []string{"missing_in_remote", f.Email, f.FolderID})
	}

	for _, f := range report.OrphanedInRemote {
		email := f.Email
		if email == "" {
			email = "(unparseable: " + f.FolderName + ")"
		}

		rows = append(rows, []string{"orphaned_in_remote", email, f.FolderID})
	}

	printTable(os.Stdout, []string{"FINDING", "EMAIL", "FOLDER ID"}, rows)

	return nil
}

func runRecover(cmd *cobra.Command, _ []string) error {
	a, err := newApp(flagPrincipal)
	if err != nil {
		return err
	}
	defer a.Close()

	recovery, err := a.auditor.RecoverOrphans(cmd.Context())
	if err != nil {
		return err
	}

	if flagJSON {
		errs := make([]string, 0, len(recovery.Errors))
		for _, recErr := range recovery.Errors {
			errs = append(errs, recErr.Error())
		}

		return printJSON(map[string]any{
			"orphans":   recovery.Orphans,
			"recovered": recovery.Recovered,
			"skipped":   recovery.Skipped,
			"failed":    recovery.Failed,
			"errors":    errs,
		})
	}

	statusf("Recovery: %d orphans, %d recovered, %d skipped, %d failed.\n",
		recovery.Orphans, recovery.Recovered, recovery.Skipped, recovery.Failed)

	for _, recErr := range recovery.Errors {
		fmt.Fprintf(os.Stderr, "%v\n", recErr)
	}

	if recovery.Failed > 0 {
		return fmt.Errorf("%d orphans failed to recover", recovery.Failed)
	}

	return nil
}

// auditSummary is the JSON schema for `audit --json`.
func auditSummary(report *audit.Report) map[string]any {
	missing := make([]map[string]string, 0, len(report.MissingInRemote))
	for _, f := range report.MissingInRemote {
		missing = append(missing, map[string]string{
			"email":     f.Email,
			"folder_id": f.FolderID,
		})
	}

	orphaned := make([]map[string]string, 0, len(report.OrphanedInRemote))
	for _, f := range report.OrphanedInRemote {
		orphaned = append(orphaned, map[string]string{
			"email":       f.Email,
			"folder_id":   f.FolderID,
			"folder_name": f.FolderName,
		})
	}

	return map[string]any{
		"checked_local":      report.CheckedLocal,
		"checked_remote":     report.CheckedRemote,
		"missing_in_remote":  missing,
		"orphaned_in_remote": orphaned,
	}
}
