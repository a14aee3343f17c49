// Package audit implements the consistency auditor and reconciler: a
// full-scan comparison of local employee folder rows against the remote
// hierarchy. The auditor only reads and recreates; it never deletes
// anything, locally or remotely.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/classify"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/drive"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/obs"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/provision"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/store"
)

const driveRootAlias = "root"

// FolderAPI is the slice of the provider client the auditor needs.
// Satisfied by *drive.Client.
type FolderAPI interface {
	GetFolder(ctx context.Context, folderID string) (*drive.Folder, error)
	FindChildFolder(ctx context.Context, parentID, name string) (*drive.Folder, error)
	ListChildFolders(ctx context.Context, parentID string) ([]drive.Folder, error)
}

// Finding identifies one inconsistency between the stores.
type Finding struct {
	Email          string
	EmployeeName   string
	FolderID       string
	FolderName     string
	Classification classify.Class
}

// Report is the result of one full audit pass.
type Report struct {
	CheckedLocal  int
	CheckedRemote int
	// MissingInRemote lists local rows whose remote folder no longer
	// exists.
	MissingInRemote []Finding
	// OrphanedInRemote lists remote folders no local row references.
	// Email is empty when the folder name does not follow the naming
	// convention.
	OrphanedInRemote []Finding
	StartedAt        time.Time
	FinishedAt       time.Time
}

// RecoveryReport aggregates one orphan-recovery pass.
type RecoveryReport struct {
	Orphans   int
	Recovered int
	Skipped   int
	Failed    int
	Errors    []error
}

// Auditor compares the local folder store against the remote hierarchy.
type Auditor struct {
	api       FolderAPI
	folders   *store.FolderStore
	hierarchy provision.Hierarchy
	metrics   *obs.Metrics
	logger    *slog.Logger
	nowFunc   func() time.Time
}

// NewAuditor wires an auditor over the given hierarchy.
func NewAuditor(api FolderAPI, folders *store.FolderStore, hierarchy provision.Hierarchy, metrics *obs.Metrics, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Auditor{
		api:       api,
		folders:   folders,
		hierarchy: hierarchy,
		metrics:   metrics,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Audit probes every live local row's remote folder and walks the remote
// hierarchy for folders no local row references.
func (a *Auditor) Audit(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: a.nowFunc()}

	rows, err := a.folders.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	report.CheckedLocal = len(rows)
	referenced := make(map[string]bool, len(rows))

	for i := range rows {
		row := &rows[i]
		if row.RemoteFolderID == "" {
			report.MissingInRemote = append(report.MissingInRemote, Finding{
				Email:          row.EmployeeEmail,
				EmployeeName:   row.EmployeeName,
				Classification: classify.Class(row.Classification),
			})
			a.metrics.AuditFinding("missing_in_remote")

			continue
		}

		referenced[row.RemoteFolderID] = true

		if _, err := a.api.GetFolder(ctx, row.RemoteFolderID); err != nil {
			if !errors.Is(err, drive.ErrNotFound) {
				return nil, fmt.Errorf("audit: probing folder for %s: %w", row.EmployeeEmail, err)
			}

			report.MissingInRemote = append(report.MissingInRemote, Finding{
				Email:          row.EmployeeEmail,
				EmployeeName:   row.EmployeeName,
				FolderID:       row.RemoteFolderID,
				Classification: classify.Class(row.Classification),
			})
			a.metrics.AuditFinding("missing_in_remote")
		}
	}

	if err := a.scanRemote(ctx, referenced, report); err != nil {
		return nil, err
	}

	report.FinishedAt = a.nowFunc()

	a.logger.Info("audit completed",
		slog.Int("checked_local", report.CheckedLocal),
		slog.Int("checked_remote", report.CheckedRemote),
		slog.Int("missing_in_remote", len(report.MissingInRemote)),
		slog.Int("orphaned_in_remote", len(report.OrphanedInRemote)),
	)

	return report, nil
}

// scanRemote walks root -> branches -> leaves and flags unreferenced
// leaf folders. A missing root or branch simply means nothing was ever
// provisioned there.
func (a *Auditor) scanRemote(ctx context.Context, referenced map[string]bool, report *Report) error {
	root, err := a.api.FindChildFolder(ctx, driveRootAlias, a.hierarchy.Root)
	if err != nil {
		if errors.Is(err, drive.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("audit: locating hierarchy root: %w", err)
	}

	branches := []struct {
		name  string
		class classify.Class
	}{
		{a.hierarchy.PersonalBranch, classify.PersonalConsumer},
		{a.hierarchy.EnterpriseBranch, classify.EnterpriseConsumer},
		{a.hierarchy.NonEligibleBranch, classify.NonEligible},
	}

	for _, branch := range branches {
		folder, err := a.api.FindChildFolder(ctx, root.ID, branch.name)
		if err != nil {
			if errors.Is(err, drive.ErrNotFound) {
				continue
			}

			return fmt.Errorf("audit: locating branch %q: %w", branch.name, err)
		}

		leaves, err := a.api.ListChildFolders(ctx, folder.ID)
		if err != nil {
			return fmt.Errorf("audit: listing branch %q: %w", branch.name, err)
		}

		report.CheckedRemote += len(leaves)

		for i := range leaves {
			leaf := &leaves[i]
			if referenced[leaf.ID] {
				continue
			}

			finding := Finding{
				FolderID:       leaf.ID,
				FolderName:     leaf.Name,
				Classification: branch.class,
			}

			if name, email, ok := provision.ParseFolderName(leaf.Name); ok {
				finding.EmployeeName = name
				finding.Email = email
			}

			report.OrphanedInRemote = append(report.OrphanedInRemote, finding)
			a.metrics.AuditFinding("orphaned_in_remote")
		}
	}

	return nil
}

// RecoverOrphans recreates local rows for remote orphans whose folder
// name yields a valid email. Orphans without an extractable email are
// skipped. Nothing is deleted.
func (a *Auditor) RecoverOrphans(ctx context.Context) (*RecoveryReport, error) {
	report, err := a.Audit(ctx)
	if err != nil {
		return nil, err
	}

	recovery := &RecoveryReport{Orphans: len(report.OrphanedInRemote)}

	for _, orphan := range report.OrphanedInRemote {
		if orphan.Email == "" {
			recovery.Skipped++

			continue
		}

		// A live row for the email may exist pointing at a different
		// folder; adopting the orphan would clobber it. Skip those.
		if _, err := a.folders.GetByEmail(ctx, orphan.Email); err == nil {
			recovery.Skipped++

			continue
		} else if !errors.Is(err, store.ErrFolderNotFound) {
			recovery.Failed++
			recovery.Errors = append(recovery.Errors,
				fmt.Errorf("audit: checking local row for %s: %w", orphan.Email, err))

			continue
		}

		insertErr := a.folders.Insert(ctx, &store.EmployeeFolder{
			EmployeeEmail:  orphan.Email,
			EmployeeName:   orphan.EmployeeName,
			Classification: string(orphan.Classification),
			RemoteFolderID: orphan.FolderID,
		})
		if insertErr != nil {
			recovery.Failed++
			recovery.Errors = append(recovery.Errors, insertErr)

			continue
		}

		recovery.Recovered++

		a.logger.Info("orphan recovered",
			slog.String("email", orphan.Email),
			slog.String("folder_id", orphan.FolderID),
		)
	}

	a.logger.Info("orphan recovery completed",
		slog.Int("orphans", recovery.Orphans),
		slog.Int("recovered", recovery.Recovered),
		slog.Int("skipped", recovery.Skipped),
		slog.Int("failed", recovery.Failed),
	)

	return recovery, nil
}

// PurgeDeleted hard-deletes rows soft-deleted for longer than the
// retention window. The remote provider is never touched.
func (a *Auditor) PurgeDeleted(ctx context.Context, olderThan time.Duration) (int, error) {
	return a.folders.PurgeDeleted(ctx, olderThan)
}
