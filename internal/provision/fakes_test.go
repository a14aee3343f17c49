package provision

import (
	"context"
	"fmt"
	"sync"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/drive"
)

// fakeDrive is an in-memory provider: a folder tree plus per-folder
// permission grants. Safe for concurrent use.
type fakeDrive struct {
	mu       sync.Mutex
	folders  map[string]drive.Folder
	children map[string]map[string]string // parentID -> name -> folderID
	perms    map[string][]drive.Permission
	nextID   int

	createCalls map[string]int // folder name -> CreateFolder count
	watchErr    error
	watched     []string
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		folders:     make(map[string]drive.Folder),
		children:    make(map[string]map[string]string),
		perms:       make(map[string][]drive.Permission),
		createCalls: make(map[string]int),
	}
}

func (f *fakeDrive) GetFolder(_ context.Context, folderID string) (*drive.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	folder, ok := f.folders[folderID]
	if !ok {
		return nil, fmt.Errorf("%w: folder %s", drive.ErrNotFound, folderID)
	}

	return &folder, nil
}

func (f *fakeDrive) FindChildFolder(_ context.Context, parentID, name string) (*drive.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if id, ok := f.children[parentID][name]; ok {
		folder := f.folders[id]

		return &folder, nil
	}

	return nil, fmt.Errorf("%w: no child named %q under %s", drive.ErrNotFound, name, parentID)
}

func (f *fakeDrive) ListChildFolders(_ context.Context, parentID string) ([]drive.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []drive.Folder
	for _, id := range f.children[parentID] {
		out = append(out, f.folders[id])
	}

	return out, nil
}

func (f *fakeDrive) CreateFolder(_ context.Context, parentID, name string) (*drive.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls[name]++
	f.nextID++

	id := fmt.Sprintf("f-%d", f.nextID)
	folder := drive.Folder{
		ID:      id,
		Name:    name,
		WebURL:  "https://example.com/" + id,
		Parents: []string{parentID},
	}

	f.folders[id] = folder

	if f.children[parentID] == nil {
		f.children[parentID] = make(map[string]string)
	}

	f.children[parentID][name] = id

	return &folder, nil
}

func (f *fakeDrive) RegisterWatch(_ context.Context, folderID, channelID, _ string) (*drive.WatchChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.watchErr != nil {
		return nil, f.watchErr
	}

	f.watched = append(f.watched, folderID)

	return &drive.WatchChannel{ChannelID: channelID, ResourceID: folderID}, nil
}

// removeFolder simulates remote deletion out from under the engine.
func (f *fakeDrive) removeFolder(folderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	folder, ok := f.folders[folderID]
	if !ok {
		return
	}

	delete(f.folders, folderID)

	for _, parentID := range folder.Parents {
		delete(f.children[parentID], folder.Name)
	}
}

func (f *fakeDrive) CreatePermission(_ context.Context, folderID, granteeEmail, role string) (*drive.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	perm := drive.Permission{
		ID:           fmt.Sprintf("p-%d", len(f.perms[folderID])+1),
		EmailAddress: granteeEmail,
		Role:         role,
		Type:         "user",
	}

	f.perms[folderID] = append(f.perms[folderID], perm)

	return &perm, nil
}

func (f *fakeDrive) ListPermissions(_ context.Context, folderID string) ([]drive.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]drive.Permission(nil), f.perms[folderID]...), nil
}

func (f *fakeDrive) DeletePermission(_ context.Context, folderID, permissionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.perms[folderID][:0]

	for _, perm := range f.perms[folderID] {
		if perm.ID != permissionID {
			kept = append(kept, perm)
		}
	}

	f.perms[folderID] = kept

	return nil
}

func (f *fakeDrive) FindPermission(_ context.Context, folderID, granteeEmail string) (*drive.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, perm := range f.perms[folderID] {
		if perm.EmailAddress == granteeEmail {
			p := perm

			return &p, nil
		}
	}

	return nil, fmt.Errorf("%w: no permission for %s", drive.ErrNotFound, granteeEmail)
}

func (f *fakeDrive) permissionsFor(folderID string) []drive.Permission {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]drive.Permission(nil), f.perms[folderID]...)
}

func (f *fakeDrive) leafCreateCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.createCalls[name]
}
