package provision

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/classify"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/drive"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/lock"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testHierarchy = Hierarchy{
	Root:              "Employee Folders",
	PersonalBranch:    "Personal Accounts",
	EnterpriseBranch:  "Enterprise Accounts",
	NonEligibleBranch: "Unsupported Accounts",
}

type testEnv struct {
	api         *fakeDrive
	store       *store.Store
	provisioner *Provisioner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	locks := lock.NewService(st.DB(), lock.Options{
		MaxAttempts:   50,
		BaseBackoff:   time.Millisecond,
		TTL:           time.Minute,
		PreventiveTTL: 10 * time.Minute,
	}, nil, testLogger())

	api := newFakeDrive()
	perms := NewPermissionManager(api, st.Folders(), testLogger())

	provisioner := NewProvisioner(api, perms, st.Folders(), st.NonEligible(), locks,
		Options{
			Hierarchy:       testHierarchy,
			ConsumerDomains: []string{"gmail.com", "googlemail.com"},
			EnterpriseAllowlist: map[string][]string{
				"Acme": {"corp.example.com"},
			},
			WatchAddress: "https://hooks.example.com/drive",
		}, nil, testLogger())

	return &testEnv{api: api, store: st, provisioner: provisioner}
}

func TestProvision_PersonalConsumerCreatesAndShares(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.provisioner.Provision(ctx, Request{
		EmployeeEmail: "ana@gmail.com",
		EmployeeName:  "Ana",
		CompanyName:   "Acme",
		CompanyID:     "acme-1",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, result.Outcome)
	assert.Equal(t, classify.PersonalConsumer, result.Classification)
	assert.True(t, result.Shared)
	require.NotEmpty(t, result.FolderID)

	// The employee holds writer on the new folder.
	grants := env.api.permissionsFor(result.FolderID)
	require.Len(t, grants, 1)
	assert.Equal(t, "ana@gmail.com", grants[0].EmailAddress)
	assert.Equal(t, drive.RoleWriter, grants[0].Role)

	// One active local row referencing the remote folder.
	row, err := env.store.Folders().GetByEmail(ctx, "ana@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, result.FolderID, row.RemoteFolderID)
	assert.Equal(t, store.FolderStatusActive, row.Status)
	assert.Equal(t, "acme-1", row.CompanyID)

	// The leaf sits under root -> personal branch.
	folder, err := env.api.GetFolder(ctx, result.FolderID)
	require.NoError(t, err)
	assert.Equal(t, "Ana – ana@gmail.com", folder.Name)

	branch, err := env.api.GetFolder(ctx, folder.Parents[0])
	require.NoError(t, err)
	assert.Equal(t, "Personal Accounts", branch.Name)

	// Watch registered best-effort.
	assert.Contains(t, env.api.watched, result.FolderID)
}

func TestProvision_EnterpriseAllowlist(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.provisioner.Provision(context.Background(), Request{
		EmployeeEmail: "eve@corp.example.com",
		EmployeeName:  "Eve",
		CompanyName:   "Acme",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, result.Outcome)
	assert.Equal(t, classify.EnterpriseConsumer, result.Classification)
	assert.True(t, result.Shared)

	folder, err := env.api.GetFolder(context.Background(), result.FolderID)
	require.NoError(t, err)

	branch, err := env.api.GetFolder(context.Background(), folder.Parents[0])
	require.NoError(t, err)
	assert.Equal(t, "Enterprise Accounts", branch.Name)
}

func TestProvision_NonEligibleGetsFolderButNoGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.provisioner.Provision(ctx, Request{
		EmployeeEmail: "bob@acme.org",
		EmployeeName:  "Bob",
		CompanyName:   "Acme",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeNonEligible, result.Outcome)
	assert.Equal(t, classify.NonEligible, result.Classification)
	assert.False(t, result.Shared)

	// Folder exists under the unsupported branch with zero grants.
	assert.Empty(t, env.api.permissionsFor(result.FolderID))

	folder, err := env.api.GetFolder(ctx, result.FolderID)
	require.NoError(t, err)

	branch, err := env.api.GetFolder(ctx, folder.Parents[0])
	require.NoError(t, err)
	assert.Equal(t, "Unsupported Accounts", branch.Name)

	// The employee is registered exactly once, even across reruns.
	_, err = env.provisioner.Provision(ctx, Request{
		EmployeeEmail: "bob@acme.org", EmployeeName: "Bob", CompanyName: "Acme",
	})
	require.NoError(t, err)

	list, err := env.store.NonEligible().List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob@acme.org", list[0].EmployeeEmail)
}

func TestProvision_RerunIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := Request{EmployeeEmail: "ana@gmail.com", EmployeeName: "Ana"}

	first, err := env.provisioner.Provision(ctx, req)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, first.Outcome)

	second, err := env.provisioner.Provision(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, OutcomeAlreadyExists, second.Outcome)
	assert.Equal(t, first.FolderID, second.FolderID)
	// The existing grant satisfies the access check; nothing re-shared.
	assert.False(t, second.Shared)
	assert.Equal(t, 1, env.api.leafCreateCount("Ana – ana@gmail.com"))
}

func TestProvision_ConcurrentCallsConvergeToOneFolder(t *testing.T) {
	env := newTestEnv(t)
	req := Request{EmployeeEmail: "carol@gmail.com", EmployeeName: "Carol"}

	const workers = 2

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []Outcome
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			result, err := env.provisioner.Provision(context.Background(), req)
			if err != nil {
				t.Errorf("provision: %v", err)

				return
			}

			mu.Lock()
			outcomes = append(outcomes, result.Outcome)
			mu.Unlock()
		}()
	}

	wg.Wait()

	// Exactly one worker creates; the other observes the existing folder.
	require.Len(t, outcomes, workers)
	created := 0

	for _, outcome := range outcomes {
		if outcome == OutcomeCreated {
			created++
		}
	}

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, env.api.leafCreateCount("Carol – carol@gmail.com"))

	rows, err := env.store.Folders().ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestProvision_RecreatesWhenRemoteVanished(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := Request{EmployeeEmail: "ana@gmail.com", EmployeeName: "Ana"}

	first, err := env.provisioner.Provision(ctx, req)
	require.NoError(t, err)

	env.api.removeFolder(first.FolderID)

	second, err := env.provisioner.Provision(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, OutcomeReconciled, second.Outcome)
	assert.NotEqual(t, first.FolderID, second.FolderID)

	// The local row now references the new remote folder.
	row, err := env.store.Folders().GetByEmail(ctx, "ana@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, second.FolderID, row.RemoteFolderID)
}

func TestProvision_AdoptsRemoteFolderWithoutLocalRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A previous partially-failed run left the remote folder behind.
	root, err := env.api.CreateFolder(ctx, "root", "Employee Folders")
	require.NoError(t, err)
	branch, err := env.api.CreateFolder(ctx, root.ID, "Personal Accounts")
	require.NoError(t, err)
	orphan, err := env.api.CreateFolder(ctx, branch.ID, "Ana – ana@gmail.com")
	require.NoError(t, err)

	result, err := env.provisioner.Provision(ctx, Request{
		EmployeeEmail: "ana@gmail.com", EmployeeName: "Ana",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeReconciled, result.Outcome)
	assert.Equal(t, orphan.ID, result.FolderID)
	assert.Equal(t, 1, env.api.leafCreateCount("Ana – ana@gmail.com"))

	row, err := env.store.Folders().GetByEmail(ctx, "ana@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, orphan.ID, row.RemoteFolderID)
}

func TestProvision_WatchFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	env.api.watchErr = errors.New("push endpoint unreachable")

	result, err := env.provisioner.Provision(context.Background(), Request{
		EmployeeEmail: "ana@gmail.com", EmployeeName: "Ana",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, result.Outcome)
	assert.Empty(t, env.api.watched)
}

func TestProvision_InvalidEmail(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.provisioner.Provision(context.Background(), Request{EmployeeEmail: "not-an-email"})
	require.Error(t, err)

	var provErr *ProvisioningError
	assert.ErrorAs(t, err, &provErr)
	assert.ErrorIs(t, err, ErrProvisioning)
}

func TestRecreateFolder_SharesShareableClass(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	folder, err := env.provisioner.RecreateFolder(ctx, &store.EmployeeFolder{
		EmployeeEmail:  "ana@gmail.com",
		EmployeeName:   "Ana",
		Classification: string(classify.PersonalConsumer),
	})
	require.NoError(t, err)

	grants := env.api.permissionsFor(folder.ID)
	require.Len(t, grants, 1)
	assert.Equal(t, drive.RoleWriter, grants[0].Role)
}
