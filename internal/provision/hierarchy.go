package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/classify"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/drive"
)

// driveRootAlias addresses the top of the drive in parent references.
const driveRootAlias = "root"

// Hierarchy names the tenant's three-tier folder tree: a root folder with
// one branch per classification. The employee leaf lives under its branch.
type Hierarchy struct {
	Root              string
	PersonalBranch    string
	EnterpriseBranch  string
	NonEligibleBranch string
}

// branchFor maps a classification to its branch name.
func (h Hierarchy) branchFor(class classify.Class) string {
	switch class {
	case classify.PersonalConsumer:
		return h.PersonalBranch
	case classify.EnterpriseConsumer:
		return h.EnterpriseBranch
	default:
		return h.NonEligibleBranch
	}
}

// ensureBranch walks root -> branch, idempotently creating any missing
// tier. Each tier is probed by name first and only created on a true miss,
// so concurrent provisions for different employees converge on the same
// folders.
func (p *Provisioner) ensureBranch(ctx context.Context, class classify.Class) (*drive.Folder, error) {
	root, err := p.ensureChild(ctx, driveRootAlias, p.hierarchy.Root)
	if err != nil {
		return nil, err
	}

	return p.ensureChild(ctx, root.ID, p.hierarchy.branchFor(class))
}

func (p *Provisioner) ensureChild(ctx context.Context, parentID, name string) (*drive.Folder, error) {
	folder, err := p.api.FindChildFolder(ctx, parentID, name)
	if err == nil {
		return folder, nil
	}

	if !errors.Is(err, drive.ErrNotFound) {
		return nil, fmt.Errorf("provision: probing for folder %q under %s: %w", name, parentID, err)
	}

	folder, err = p.api.CreateFolder(ctx, parentID, name)
	if err != nil {
		return nil, fmt.Errorf("provision: creating folder %q under %s: %w", name, parentID, err)
	}

	p.logger.Info("hierarchy folder created",
		slog.String("name", name),
		slog.String("folder_id", folder.ID),
	)

	return folder, nil
}
