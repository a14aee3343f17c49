package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/classify"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/drive"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/store"
)

// PermissionAPI is the slice of the provider client the permission manager
// needs. Satisfied by *drive.Client.
type PermissionAPI interface {
	CreatePermission(ctx context.Context, folderID, granteeEmail, role string) (*drive.Permission, error)
	ListPermissions(ctx context.Context, folderID string) ([]drive.Permission, error)
	DeletePermission(ctx context.Context, folderID, permissionID string) error
	FindPermission(ctx context.Context, folderID, granteeEmail string) (*drive.Permission, error)
}

// PermissionManager grants, revokes, and reconciles sharing permissions on
// remote folders. The provider is the source of truth for grants — this
// manager queries and compares, it never caches.
type PermissionManager struct {
	api     PermissionAPI
	folders *store.FolderStore
	logger  *slog.Logger
}

// NewPermissionManager creates a PermissionManager. folders may be nil for
// callers that never use the bulk operation.
func NewPermissionManager(api PermissionAPI, folders *store.FolderStore, logger *slog.Logger) *PermissionManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &PermissionManager{api: api, folders: folders, logger: logger}
}

// Share grants role on folderID to granteeEmail.
func (p *PermissionManager) Share(ctx context.Context, folderID, granteeEmail, role string) error {
	if _, err := p.api.CreatePermission(ctx, folderID, granteeEmail, role); err != nil {
		return fmt.Errorf("provision: sharing %s with %s: %w", folderID, granteeEmail, err)
	}

	p.logger.Info("folder shared",
		slog.String("folder_id", folderID),
		slog.String("grantee", granteeEmail),
		slog.String("role", role),
	)

	return nil
}

// Revoke removes the grantee's permission, resolving the permission id via
// the listing first. A grantee without a grant is not an error.
func (p *PermissionManager) Revoke(ctx context.Context, folderID, granteeEmail string) error {
	perm, err := p.api.FindPermission(ctx, folderID, granteeEmail)
	if err != nil {
		if errors.Is(err, drive.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("provision: resolving permission for %s on %s: %w", granteeEmail, folderID, err)
	}

	if err := p.api.DeletePermission(ctx, folderID, perm.ID); err != nil {
		return fmt.Errorf("provision: revoking %s from %s: %w", granteeEmail, folderID, err)
	}

	p.logger.Info("permission revoked",
		slog.String("folder_id", folderID),
		slog.String("grantee", granteeEmail),
	)

	return nil
}

// ListPermissions returns the current grants on a folder.
func (p *PermissionManager) ListPermissions(ctx context.Context, folderID string) ([]drive.Permission, error) {
	return p.api.ListPermissions(ctx, folderID)
}

// EnsureAccess shares folderID with granteeEmail at minimumRole unless the
// grantee already holds that role or better. Returns whether a new grant
// was issued — the common case is none, avoiding a redundant provider call.
func (p *PermissionManager) EnsureAccess(ctx context.Context, folderID, granteeEmail, minimumRole string) (granted bool, err error) {
	perm, err := p.api.FindPermission(ctx, folderID, granteeEmail)
	if err != nil && !errors.Is(err, drive.ErrNotFound) {
		return false, fmt.Errorf("provision: checking access for %s on %s: %w", granteeEmail, folderID, err)
	}

	if perm != nil && drive.RoleRank(perm.Role) >= drive.RoleRank(minimumRole) {
		return false, nil
	}

	if err := p.Share(ctx, folderID, granteeEmail, minimumRole); err != nil {
		return false, err
	}

	return true, nil
}

// BulkShareReport aggregates per-item outcomes of a bulk remediation run.
type BulkShareReport struct {
	Scanned int
	Shared  int
	Skipped int
	Failed  int
	Errors  []ItemError
}

// ItemError attaches an item identity to its failure.
type ItemError struct {
	Email string
	Err   error
}

// ShareAllWithoutAccess scans all active shareable folders and grants
// defaultRole to every employee currently lacking access. Per-item
// failures are aggregated; a single failure never aborts the batch.
func (p *PermissionManager) ShareAllWithoutAccess(ctx context.Context, defaultRole string) (*BulkShareReport, error) {
	if p.folders == nil {
		return nil, errors.New("provision: permission manager has no folder store")
	}

	rows, err := p.folders.ListActiveByClassification(ctx,
		string(classify.PersonalConsumer), string(classify.EnterpriseConsumer))
	if err != nil {
		return nil, err
	}

	report := &BulkShareReport{Scanned: len(rows)}

	for i := range rows {
		row := &rows[i]
		if row.RemoteFolderID == "" {
			report.Skipped++

			continue
		}

		granted, shareErr := p.EnsureAccess(ctx, row.RemoteFolderID, row.EmployeeEmail, defaultRole)
		if shareErr != nil {
			report.Failed++
			report.Errors = append(report.Errors, ItemError{Email: row.EmployeeEmail, Err: shareErr})

			p.logger.Warn("bulk share item failed",
				slog.String("email", row.EmployeeEmail),
				slog.String("folder_id", row.RemoteFolderID),
				slog.String("error", shareErr.Error()),
			)

			continue
		}

		if granted {
			report.Shared++
		} else {
			report.Skipped++
		}
	}

	p.logger.Info("bulk share completed",
		slog.Int("scanned", report.Scanned),
		slog.Int("shared", report.Shared),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	)

	return report, nil
}
