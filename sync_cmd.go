package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/syncer"
)

func newSyncCmd() *cobra.Command {
	var (
		flagDirection     string
		flagChunkSize     int
		flagCreateMissing bool
		flagEmails        []string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync employee folders between local and remote",
		Long: `Process all active employee folders (or the ones given with --email) in
chunks, each item under its per-employee lock. Per-item failures are
reported at the end and never abort the batch.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, flagDirection, flagChunkSize, flagCreateMissing, flagEmails)
		},
	}

	cmd.Flags().StringVar(&flagDirection, "direction", string(syncer.DirectionBidirectional),
		"sync direction: remote_to_local, local_to_remote, or bidirectional")
	cmd.Flags().IntVar(&flagChunkSize, "chunk-size", 0, "items per chunk (0 uses the configured default)")
	cmd.Flags().BoolVar(&flagCreateMissing, "create-missing", false, "recreate remote folders that have gone missing")
	cmd.Flags().StringArrayVar(&flagEmails, "email", nil, "limit the batch to these employees (repeatable)")

	return cmd
}

func runSync(cmd *cobra.Command, direction string, chunkSize int, createMissing bool, emails []string) error {
	switch syncer.Direction(direction) {
	case syncer.DirectionRemoteToLocal, syncer.DirectionLocalToRemote, syncer.DirectionBidirectional:
	default:
		return fmt.Errorf("invalid --direction %q", direction)
	}

	a, err := newApp(flagPrincipal)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	rows, err := a.store.Folders().ListActive(ctx)
	if err != nil {
		return err
	}

	if len(emails) > 0 {
		wanted := make(map[string]bool, len(emails))
		for _, email := range emails {
			wanted[email] = true
		}

		filtered := rows[:0]

		for _, row := range rows {
			if wanted[row.EmployeeEmail] {
				filtered = append(filtered, row)
			}
		}

		rows = filtered
	}

	if len(rows) == 0 {
		statusf("Nothing to sync.\n")

		return nil
	}

	opts := syncer.Options{
		Direction:     syncer.Direction(direction),
		CreateMissing: createMissing,
		ChunkSize:     chunkSize,
		ChunkPause:    a.cfg.Sync.ChunkPauseDuration(),
		OnProgress: func(_ string, completed, failed, total int) {
			progressf("\rsynced %d/%d (%d failed)", completed+failed, total, failed)
		},
	}

	if chunkSize <= 0 {
		opts.ChunkSize = a.cfg.Sync.ChunkSize
	}

	job := a.engine.SyncBatch(ctx, rows, opts)

	select {
	case <-job.Done():
	case <-ctx.Done():
		job.Cancel()
		<-job.Done()
	}

	progressf("\n")

	snap := job.Snapshot()

	if flagJSON {
		return printJSON(syncSummary(snap))
	}

	statusf("Sync %s: %d completed, %d failed of %d.\n",
		snap.Status, snap.Completed, snap.Failed, snap.Total)

	for _, itemErr := range snap.Errors {
		fmt.Printf("%s: %v\n", itemErr.Email, itemErr.Err)
	}

	if snap.Failed > 0 {
		return fmt.Errorf("%d of %d items failed", snap.Failed, snap.Total)
	}

	return nil
}

// syncSummary is the JSON schema for `sync --json`.
func syncSummary(snap syncer.Snapshot) map[string]any {
	errs := make([]map[string]string, 0, len(snap.Errors))
	for _, itemErr := range snap.Errors {
		errs = append(errs, map[string]string{
			"email": itemErr.Email,
			"error": itemErr.Err.Error(),
		})
	}

	results := make([]map[string]string, 0, len(snap.Results))
	for _, res := range snap.Results {
		results = append(results, map[string]string{
			"email":     res.Email,
			"folder_id": res.FolderID,
			"action":    res.Action,
		})
	}

	return map[string]any{
		"job_id":    snap.ID,
		"status":    snap.Status,
		"total":     snap.Total,
		"completed": snap.Completed,
		"failed":    snap.Failed,
		"results":   results,
		"errors":    errs,
	}
}
