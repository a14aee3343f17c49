package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCredentialNotFound is returned when no credential row exists for a
// principal. Callers surface it as a "reconnect required" condition.
var ErrCredentialNotFound = errors.New("store: credential not found")

// Credential is one OAuth credential row. One active credential per
// principal per integration. Access and refresh token values are SENSITIVE
// and must never be logged.
type Credential struct {
	PrincipalID  string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        []string
	ExpiresAt    time.Time
	Invalid      bool
	UpdatedAt    time.Time
}

// CredentialStore persists OAuth credentials. Mutated only by the token
// manager (refresh path) and the OAuth callback boundary (brand-new rows).
type CredentialStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// Get loads the credential for a principal.
func (c *CredentialStore) Get(ctx context.Context, principalID string) (*Credential, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT principal_id, access_token, refresh_token, token_type, scope,
		        expires_at, invalid, updated_at
		   FROM credentials WHERE principal_id = ?`, principalID)

	var (
		cred      Credential
		scope     string
		expiresAt int64
		invalid   int
		updatedAt int64
	)

	err := row.Scan(&cred.PrincipalID, &cred.AccessToken, &cred.RefreshToken,
		&cred.TokenType, &scope, &expiresAt, &invalid, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: principal %s", ErrCredentialNotFound, principalID)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading credential for %s: %w", principalID, err)
	}

	if scope != "" {
		cred.Scope = strings.Split(scope, " ")
	}

	cred.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	cred.Invalid = invalid != 0
	cred.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &cred, nil
}

// Put inserts or replaces the credential for a principal. Only the OAuth
// callback boundary writes brand-new rows; refresh goes through
// UpdateTokens so an in-flight refresh never clobbers scope or metadata.
func (c *CredentialStore) Put(ctx context.Context, cred *Credential) error {
	now := c.nowFunc().Unix()

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO credentials
		   (principal_id, access_token, refresh_token, token_type, scope,
		    expires_at, invalid, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT(principal_id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   token_type = excluded.token_type,
		   scope = excluded.scope,
		   expires_at = excluded.expires_at,
		   invalid = 0,
		   updated_at = excluded.updated_at`,
		cred.PrincipalID, cred.AccessToken, cred.RefreshToken, cred.TokenType,
		strings.Join(cred.Scope, " "), cred.ExpiresAt.Unix(), now)
	if err != nil {
		return fmt.Errorf("store: saving credential for %s: %w", cred.PrincipalID, err)
	}

	return nil
}

// UpdateTokens persists a refreshed access token. refreshToken must be the
// token to keep — the caller preserves the stored one when the provider
// did not rotate it.
func (c *CredentialStore) UpdateTokens(ctx context.Context, principalID, accessToken, refreshToken, tokenType string, expiresAt time.Time) error {
	result, err := c.db.ExecContext(ctx,
		`UPDATE credentials SET access_token = ?, refresh_token = ?,
		   token_type = ?, expires_at = ?, invalid = 0, updated_at = ?
		 WHERE principal_id = ?`,
		accessToken, refreshToken, tokenType, expiresAt.Unix(),
		c.nowFunc().Unix(), principalID)
	if err != nil {
		return fmt.Errorf("store: updating tokens for %s: %w", principalID, err)
	}

	return c.requireRow(result, principalID, "updating tokens")
}

// MarkInvalid flags the credential after refresh exhaustion so subsequent
// callers fail fast with a re-authentication signal.
func (c *CredentialStore) MarkInvalid(ctx context.Context, principalID string) error {
	result, err := c.db.ExecContext(ctx,
		`UPDATE credentials SET invalid = 1, updated_at = ? WHERE principal_id = ?`,
		c.nowFunc().Unix(), principalID)
	if err != nil {
		return fmt.Errorf("store: marking credential invalid for %s: %w", principalID, err)
	}

	return c.requireRow(result, principalID, "marking invalid")
}

// Delete removes the credential unconditionally. Used by revoke; a missing
// row is not an error (already revoked).
func (c *CredentialStore) Delete(ctx context.Context, principalID string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE principal_id = ?`, principalID)
	if err != nil {
		return fmt.Errorf("store: deleting credential for %s: %w", principalID, err)
	}

	return nil
}

func (c *CredentialStore) requireRow(result sql.Result, principalID, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s for %s: rows affected: %w", op, principalID, err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: principal %s", ErrCredentialNotFound, principalID)
	}

	return nil
}
