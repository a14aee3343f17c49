package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Folder status values for employee_folders.status.
const (
	FolderStatusActive  = "active"
	FolderStatusDeleted = "deleted"
)

// ErrFolderNotFound is returned when no live folder row exists for an email.
var ErrFolderNotFound = errors.New("store: employee folder not found")

// EmployeeFolder mirrors one employee_folders row. employee_email is the
// natural key among rows with status != deleted. A non-empty RemoteFolderID
// implies a corresponding remote folder is expected to exist — the auditor
// verifies that expectation, the store cannot enforce it.
type EmployeeFolder struct {
	ID              int64
	EmployeeEmail   string
	EmployeeName    string
	CompanyID       string
	Classification  string
	RemoteFolderID  string
	RemoteFolderURL string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// FolderStore persists employee folder metadata. Writes flow through the
// provisioning orchestrator and sync engine, serialized per-email by the
// lock service (single-writer-per-key discipline).
type FolderStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

const folderSelectCols = `SELECT id, employee_email, employee_name, company_id,
	classification, remote_folder_id, remote_folder_url, status,
	created_at, updated_at, deleted_at
 FROM employee_folders `

// GetByEmail returns the live (non-deleted) folder row for an email.
func (f *FolderStore) GetByEmail(ctx context.Context, email string) (*EmployeeFolder, error) {
	row := f.db.QueryRowContext(ctx,
		folderSelectCols+`WHERE employee_email = ? AND status != ?`,
		email, FolderStatusDeleted)

	folder, err := scanFolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, email)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading folder for %s: %w", email, err)
	}

	return folder, nil
}

// Insert creates a live folder row. The partial unique index rejects a
// second live row for the same email; callers treat that as
// duplicate-detected, not failure.
func (f *FolderStore) Insert(ctx context.Context, folder *EmployeeFolder) error {
	now := f.nowFunc().Unix()

	result, err := f.db.ExecContext(ctx,
		`INSERT INTO employee_folders
		   (employee_email, employee_name, company_id, classification,
		    remote_folder_id, remote_folder_url, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		folder.EmployeeEmail, folder.EmployeeName, folder.CompanyID,
		folder.Classification, folder.RemoteFolderID, folder.RemoteFolderURL,
		FolderStatusActive, now, now)
	if err != nil {
		return fmt.Errorf("store: inserting folder for %s: %w", folder.EmployeeEmail, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: folder insert id for %s: %w", folder.EmployeeEmail, err)
	}

	folder.ID = id
	folder.Status = FolderStatusActive
	folder.CreatedAt = time.Unix(now, 0).UTC()
	folder.UpdatedAt = folder.CreatedAt

	return nil
}

// UpdateRemote records the remote folder id/url for an existing live row.
// Used by cross-store reconciliation and by the sync engine's write-back.
func (f *FolderStore) UpdateRemote(ctx context.Context, email, remoteID, remoteURL string) error {
	result, err := f.db.ExecContext(ctx,
		`UPDATE employee_folders SET remote_folder_id = ?, remote_folder_url = ?,
		   updated_at = ?
		 WHERE employee_email = ? AND status != ?`,
		remoteID, remoteURL, f.nowFunc().Unix(), email, FolderStatusDeleted)
	if err != nil {
		return fmt.Errorf("store: updating remote ref for %s: %w", email, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: updating remote ref for %s: rows affected: %w", email, err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrFolderNotFound, email)
	}

	return nil
}

// SoftDelete marks the live row deleted, freeing the email for a future
// provision. The row lingers until PurgeDeleted removes it.
func (f *FolderStore) SoftDelete(ctx context.Context, email string) error {
	now := f.nowFunc().Unix()

	result, err := f.db.ExecContext(ctx,
		`UPDATE employee_folders SET status = ?, deleted_at = ?, updated_at = ?
		 WHERE employee_email = ? AND status != ?`,
		FolderStatusDeleted, now, now, email, FolderStatusDeleted)
	if err != nil {
		return fmt.Errorf("store: soft-deleting folder for %s: %w", email, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: soft-deleting folder for %s: rows affected: %w", email, err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrFolderNotFound, email)
	}

	return nil
}

// ListActive returns all live rows, ordered by email for stable batches.
func (f *FolderStore) ListActive(ctx context.Context) ([]EmployeeFolder, error) {
	return f.list(ctx, `WHERE status != ? ORDER BY employee_email`, FolderStatusDeleted)
}

// ListActiveByClassification returns live rows for the given classes.
// Used by bulk permission remediation over shareable folders.
func (f *FolderStore) ListActiveByClassification(ctx context.Context, classes ...string) ([]EmployeeFolder, error) {
	if len(classes) == 0 {
		return nil, nil
	}

	placeholders := "?"
	args := []any{FolderStatusDeleted}

	for i, c := range classes {
		if i > 0 {
			placeholders += ", ?"
		}

		args = append(args, c)
	}

	return f.list(ctx,
		`WHERE status != ? AND classification IN (`+placeholders+`) ORDER BY employee_email`,
		args...)
}

// PurgeDeleted permanently removes rows soft-deleted before the cutoff.
// Returns the number of purged rows. Never touches the remote provider.
func (f *FolderStore) PurgeDeleted(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := f.nowFunc().Add(-olderThan).Unix()

	result, err := f.db.ExecContext(ctx,
		`DELETE FROM employee_folders
		 WHERE status = ? AND deleted_at IS NOT NULL AND deleted_at < ?`,
		FolderStatusDeleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: purging deleted folders: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: purging deleted folders: rows affected: %w", err)
	}

	return int(n), nil
}

func (f *FolderStore) list(ctx context.Context, whereClause string, args ...any) ([]EmployeeFolder, error) {
	rows, err := f.db.QueryContext(ctx, folderSelectCols+whereClause, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing folders: %w", err)
	}
	defer rows.Close()

	var result []EmployeeFolder

	for rows.Next() {
		folder, scanErr := scanFolder(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("store: scanning folder row: %w", scanErr)
		}

		result = append(result, *folder)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating folder rows: %w", err)
	}

	return result, nil
}

// scanTarget is satisfied by both *sql.Row and *sql.Rows.
type scanTarget interface {
	Scan(dest ...any) error
}

func scanFolder(row scanTarget) (*EmployeeFolder, error) {
	var (
		folder    EmployeeFolder
		createdAt int64
		updatedAt int64
		deletedAt sql.NullInt64
	)

	err := row.Scan(&folder.ID, &folder.EmployeeEmail, &folder.EmployeeName,
		&folder.CompanyID, &folder.Classification, &folder.RemoteFolderID,
		&folder.RemoteFolderURL, &folder.Status, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	folder.CreatedAt = time.Unix(createdAt, 0).UTC()
	folder.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if deletedAt.Valid {
		t := time.Unix(deletedAt.Int64, 0).UTC()
		folder.DeletedAt = &t
	}

	return &folder, nil
}
