// Package provision implements the folder provisioning orchestrator and
// the permission manager. Provisioning is idempotent end to end: running
// it twice for the same employee, sequentially or concurrently, converges
// on exactly one remote folder and one local record. The distributed lock
// is what makes the check-then-act sequence safe — it is mandatory on this
// path, not an optimization.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/classify"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/drive"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/lock"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/obs"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/store"
)

// Outcome describes how a provision call converged.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeAlreadyExists Outcome = "already_exists"
	OutcomeReconciled    Outcome = "reconciled"
	OutcomeNonEligible   Outcome = "non_eligible"
)

// FolderAPI is the slice of the provider client the orchestrator needs.
// Satisfied by *drive.Client.
type FolderAPI interface {
	GetFolder(ctx context.Context, folderID string) (*drive.Folder, error)
	FindChildFolder(ctx context.Context, parentID, name string) (*drive.Folder, error)
	CreateFolder(ctx context.Context, parentID, name string) (*drive.Folder, error)
	RegisterWatch(ctx context.Context, folderID, channelID, address string) (*drive.WatchChannel, error)
}

// Locker is the mutex surface the orchestrator depends on. Satisfied by
// *lock.Service.
type Locker interface {
	AcquireGuarded(ctx context.Context, key, operation string, precheck func(context.Context) (bool, error)) (*lock.Lease, error)
	WithLock(ctx context.Context, key, operation string, fn func(context.Context) error) error
}

// Request carries one provisioning trigger from the UI/API layer.
type Request struct {
	EmployeeEmail string
	EmployeeName  string
	CompanyName   string
	CompanyID     string
	EmployeeData  map[string]string
}

// Result is the converged state reported back to the trigger.
type Result struct {
	Outcome        Outcome
	Classification classify.Class
	FolderID       string
	FolderURL      string
	Shared         bool
}

// Options configures a Provisioner.
type Options struct {
	Hierarchy       Hierarchy
	ConsumerDomains []string
	// EnterpriseAllowlist maps a company name to its enterprise domains.
	EnterpriseAllowlist map[string][]string
	// WatchAddress is the webhook endpoint for change notifications.
	// Empty disables watch registration.
	WatchAddress string
	// ShareRole is the role granted to the employee on their folder.
	ShareRole string
}

// Provisioner is the folder provisioning orchestrator.
type Provisioner struct {
	api         FolderAPI
	perms       *PermissionManager
	folders     *store.FolderStore
	nonEligible *store.NonEligibleStore
	locks       Locker
	hierarchy   Hierarchy
	opts        Options
	metrics     *obs.Metrics
	logger      *slog.Logger
}

// NewProvisioner wires the orchestrator. All collaborators are injected;
// there is no package-level state.
func NewProvisioner(
	api FolderAPI,
	perms *PermissionManager,
	folders *store.FolderStore,
	nonEligible *store.NonEligibleStore,
	locks Locker,
	opts Options,
	metrics *obs.Metrics,
	logger *slog.Logger,
) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.ShareRole == "" {
		opts.ShareRole = drive.RoleWriter
	}

	return &Provisioner{
		api:         api,
		perms:       perms,
		folders:     folders,
		nonEligible: nonEligible,
		locks:       locks,
		hierarchy:   opts.Hierarchy,
		opts:        opts,
		metrics:     metrics,
		logger:      logger,
	}
}

// Provision ensures exactly one remote folder and one local record exist
// for the employee. Acquisition is guarded: when the folder demonstrably
// exists already, racing callers fail fast on a preventive lock and only
// perform an access check. All mutation happens under the lease.
func (p *Provisioner) Provision(ctx context.Context, req Request) (*Result, error) {
	email := strings.ToLower(strings.TrimSpace(req.EmployeeEmail))
	if email == "" || !strings.Contains(email, "@") {
		return nil, &ProvisioningError{Email: req.EmployeeEmail, Op: "validating request",
			Err: errors.New("employee email is not a valid address")}
	}

	class := classify.Classify(email, p.rulesFor(req.CompanyName))

	lease, err := p.locks.AcquireGuarded(ctx, email, "provision", func(ctx context.Context) (bool, error) {
		return p.folderIsLive(ctx, email)
	})
	if errors.Is(err, lock.ErrResourceExists) {
		return p.confirmExisting(ctx, email, class)
	}

	if err != nil {
		p.metrics.Provision("lock_failed")

		return nil, err
	}

	defer func() {
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			p.logger.Warn("provision lock release failed",
				slog.String("email", email),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	result, err := p.provisionLocked(ctx, req, email, class)
	if err != nil {
		p.metrics.Provision("failed")

		return nil, err
	}

	p.metrics.Provision(string(result.Outcome))

	return result, nil
}

// folderIsLive is the guarded-acquire precheck: a local row referencing a
// remote folder that still exists means provisioning already converged.
func (p *Provisioner) folderIsLive(ctx context.Context, email string) (bool, error) {
	row, err := p.folders.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrFolderNotFound) {
			return false, nil
		}

		return false, err
	}

	if row.RemoteFolderID == "" {
		return false, nil
	}

	if _, err := p.api.GetFolder(ctx, row.RemoteFolderID); err != nil {
		if errors.Is(err, drive.ErrNotFound) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// confirmExisting is the fast path for callers rejected by a preventive
// lock: the folder exists, so only an access check remains.
func (p *Provisioner) confirmExisting(ctx context.Context, email string, class classify.Class) (*Result, error) {
	row, err := p.folders.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	shared := false

	if class.Shareable() && row.RemoteFolderID != "" {
		granted, accessErr := p.perms.EnsureAccess(ctx, row.RemoteFolderID, email, p.opts.ShareRole)
		if accessErr != nil {
			return nil, accessErr
		}

		shared = granted
	}

	p.metrics.Provision(string(OutcomeAlreadyExists))

	return &Result{
		Outcome:        OutcomeAlreadyExists,
		Classification: classify.Class(row.Classification),
		FolderID:       row.RemoteFolderID,
		FolderURL:      row.RemoteFolderURL,
		Shared:         shared,
	}, nil
}

// provisionLocked runs the check-then-act sequence under the lease.
func (p *Provisioner) provisionLocked(ctx context.Context, req Request, email string, class classify.Class) (*Result, error) {
	if class == classify.NonEligible {
		return p.provisionNonEligible(ctx, req, email)
	}

	row, err := p.folders.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrFolderNotFound) {
		return nil, err
	}

	// Present locally with a live remote folder: only an access check.
	if row != nil && row.RemoteFolderID != "" {
		if _, getErr := p.api.GetFolder(ctx, row.RemoteFolderID); getErr == nil {
			granted, accessErr := p.perms.EnsureAccess(ctx, row.RemoteFolderID, email, p.opts.ShareRole)
			if accessErr != nil {
				return nil, accessErr
			}

			return &Result{
				Outcome:        OutcomeAlreadyExists,
				Classification: class,
				FolderID:       row.RemoteFolderID,
				FolderURL:      row.RemoteFolderURL,
				Shared:         granted,
			}, nil
		} else if !errors.Is(getErr, drive.ErrNotFound) {
			return nil, &ProvisioningError{Email: email, Op: "probing remote folder", Err: getErr}
		}
	}

	branch, err := p.ensureBranch(ctx, class)
	if err != nil {
		return nil, &ProvisioningError{Email: email, Op: "ensuring hierarchy", Err: err}
	}

	leafName := FolderName(req.EmployeeName, email)

	// Name-probe: the remote folder may exist without a local reference
	// (partial failure of an earlier run). Reconcile instead of duplicating.
	remote, err := p.api.FindChildFolder(ctx, branch.ID, leafName)
	if err != nil && !errors.Is(err, drive.ErrNotFound) {
		return nil, &ProvisioningError{Email: email, Op: "name-probing remote folder", Err: err}
	}

	created := false

	if remote == nil {
		remote, err = p.api.CreateFolder(ctx, branch.ID, leafName)
		if err != nil {
			return nil, &ProvisioningError{Email: email, Op: "creating folder", Err: err}
		}

		created = true

		p.logger.Info("employee folder created",
			slog.String("email", email),
			slog.String("folder_id", remote.ID),
			slog.String("classification", string(class)),
		)
	}

	granted, err := p.perms.EnsureAccess(ctx, remote.ID, email, p.opts.ShareRole)
	if err != nil {
		return nil, &ProvisioningError{Email: email, Op: "sharing folder", Err: err}
	}

	if err := p.writeLocal(ctx, req, email, class, remote); err != nil {
		return nil, err
	}

	p.registerWatch(ctx, email, remote.ID)

	outcome := OutcomeCreated
	if !created || row != nil {
		outcome = OutcomeReconciled
	}

	return &Result{
		Outcome:        outcome,
		Classification: class,
		FolderID:       remote.ID,
		FolderURL:      remote.WebURL,
		Shared:         granted,
	}, nil
}

// provisionNonEligible creates the folder under the non-shareable branch
// and registers the employee; no permission is ever granted.
func (p *Provisioner) provisionNonEligible(ctx context.Context, req Request, email string) (*Result, error) {
	branch, err := p.ensureBranch(ctx, classify.NonEligible)
	if err != nil {
		return nil, &ProvisioningError{Email: email, Op: "ensuring non-eligible hierarchy", Err: err}
	}

	leafName := FolderName(req.EmployeeName, email)

	remote, err := p.api.FindChildFolder(ctx, branch.ID, leafName)
	if err != nil {
		if !errors.Is(err, drive.ErrNotFound) {
			return nil, &ProvisioningError{Email: email, Op: "name-probing non-eligible folder", Err: err}
		}

		remote, err = p.api.CreateFolder(ctx, branch.ID, leafName)
		if err != nil {
			return nil, &ProvisioningError{Email: email, Op: "creating non-eligible folder", Err: err}
		}
	}

	inserted, err := p.nonEligible.Register(ctx, &store.NonEligibleEmployee{
		EmployeeEmail: email,
		EmployeeName:  req.EmployeeName,
		CompanyName:   req.CompanyName,
		Reason:        "domain " + classify.Domain(email) + " is not eligible for sharing",
	})
	if err != nil {
		return nil, err
	}

	if inserted {
		p.logger.Info("non-eligible employee registered",
			slog.String("email", email),
			slog.String("company", req.CompanyName),
		)
	}

	if err := p.writeLocal(ctx, req, email, classify.NonEligible, remote); err != nil {
		return nil, err
	}

	return &Result{
		Outcome:        OutcomeNonEligible,
		Classification: classify.NonEligible,
		FolderID:       remote.ID,
		FolderURL:      remote.WebURL,
	}, nil
}

// writeLocal upserts the employee folder row. An existing live row is
// updated with the remote reference rather than duplicated.
func (p *Provisioner) writeLocal(ctx context.Context, req Request, email string, class classify.Class, remote *drive.Folder) error {
	err := p.folders.Insert(ctx, &store.EmployeeFolder{
		EmployeeEmail:   email,
		EmployeeName:    req.EmployeeName,
		CompanyID:       req.CompanyID,
		Classification:  string(class),
		RemoteFolderID:  remote.ID,
		RemoteFolderURL: remote.WebURL,
	})
	if err == nil {
		return nil
	}

	// Duplicate-detected is success-with-existing-row; refresh its remote
	// reference so a reconciled folder is recorded.
	if updateErr := p.folders.UpdateRemote(ctx, email, remote.ID, remote.WebURL); updateErr != nil {
		return fmt.Errorf("provision: recording folder for %s: %w", email, errors.Join(err, updateErr))
	}

	return nil
}

// registerWatch best-effort registers a change-notification channel.
// Failures are logged and never fail provisioning.
func (p *Provisioner) registerWatch(ctx context.Context, email, folderID string) {
	if p.opts.WatchAddress == "" {
		return
	}

	if _, err := p.api.RegisterWatch(ctx, folderID, uuid.NewString(), p.opts.WatchAddress); err != nil {
		p.logger.Warn("watch registration failed",
			slog.String("email", email),
			slog.String("folder_id", folderID),
			slog.String("error", err.Error()),
		)
	}
}

// RecreateFolder rebuilds the remote folder for an existing local row:
// ensure the classification branch, then find-or-create the leaf. Used by
// the sync engine when a referenced remote folder has gone missing. The
// caller holds the per-email lock and writes back the new reference.
func (p *Provisioner) RecreateFolder(ctx context.Context, row *store.EmployeeFolder) (*drive.Folder, error) {
	branch, err := p.ensureBranch(ctx, classify.Class(row.Classification))
	if err != nil {
		return nil, &ProvisioningError{Email: row.EmployeeEmail, Op: "ensuring hierarchy", Err: err}
	}

	folder, err := p.ensureChild(ctx, branch.ID, FolderName(row.EmployeeName, row.EmployeeEmail))
	if err != nil {
		return nil, &ProvisioningError{Email: row.EmployeeEmail, Op: "recreating folder", Err: err}
	}

	if classify.Class(row.Classification).Shareable() {
		if _, err := p.perms.EnsureAccess(ctx, folder.ID, row.EmployeeEmail, p.opts.ShareRole); err != nil {
			return nil, err
		}
	}

	return folder, nil
}

func (p *Provisioner) rulesFor(companyName string) classify.Rules {
	return classify.Rules{
		ConsumerDomains:   p.opts.ConsumerDomains,
		EnterpriseDomains: p.opts.EnterpriseAllowlist[companyName],
	}
}
