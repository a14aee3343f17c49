package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// permissionResource mirrors the provider's permission JSON.
type permissionResource struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Role         string `json:"role"`
	EmailAddress string `json:"emailAddress"`
}

type permissionListResponse struct {
	Permissions   []permissionResource `json:"permissions"`
	NextPageToken string               `json:"nextPageToken"`
}

type createPermissionRequest struct {
	Type         string `json:"type"`
	Role         string `json:"role"`
	EmailAddress string `json:"emailAddress"`
}

// CreatePermission grants role on folderID to granteeEmail without sending
// a notification email.
func (c *Client) CreatePermission(ctx context.Context, folderID, granteeEmail, role string) (*Permission, error) {
	payload, err := json.Marshal(createPermissionRequest{
		Type:         "user",
		Role:         role,
		EmailAddress: granteeEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("drive: encoding permission request: %w", err)
	}

	path := "/files/" + url.PathEscape(folderID) +
		"/permissions?sendNotificationEmail=false&fields=id,type,role,emailAddress"

	resp, err := c.Do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res permissionResource
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("drive: decoding created permission: %w", err)
	}

	return &Permission{
		ID:           res.ID,
		EmailAddress: res.EmailAddress,
		Role:         res.Role,
		Type:         res.Type,
	}, nil
}

// ListPermissions returns all grants on folderID, following pagination.
func (c *Client) ListPermissions(ctx context.Context, folderID string) ([]Permission, error) {
	var (
		perms     []Permission
		pageToken string
	)

	for {
		path := "/files/" + url.PathEscape(folderID) +
			"/permissions?fields=" + url.QueryEscape("nextPageToken,permissions(id,type,role,emailAddress)")
		if pageToken != "" {
			path += "&pageToken=" + url.QueryEscape(pageToken)
		}

		resp, err := c.Do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}

		var page permissionListResponse

		decodeErr := json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()

		if decodeErr != nil {
			return nil, fmt.Errorf("drive: decoding permission listing: %w", decodeErr)
		}

		for _, p := range page.Permissions {
			perms = append(perms, Permission{
				ID:           p.ID,
				EmailAddress: p.EmailAddress,
				Role:         p.Role,
				Type:         p.Type,
			})
		}

		if page.NextPageToken == "" {
			return perms, nil
		}

		pageToken = page.NextPageToken
	}
}

// DeletePermission removes a grant by permission id. A missing permission
// is not an error (already revoked).
func (c *Client) DeletePermission(ctx context.Context, folderID, permissionID string) error {
	path := "/files/" + url.PathEscape(folderID) + "/permissions/" + url.PathEscape(permissionID)

	resp, err := c.Do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}

		return err
	}

	resp.Body.Close()

	return nil
}

// FindPermission resolves the grant for granteeEmail on folderID via
// ListPermissions. Email comparison is case-insensitive per RFC 5321
// common practice. Returns ErrNotFound when the grantee has no grant.
func (c *Client) FindPermission(ctx context.Context, folderID, granteeEmail string) (*Permission, error) {
	perms, err := c.ListPermissions(ctx, folderID)
	if err != nil {
		return nil, err
	}

	for i := range perms {
		if strings.EqualFold(perms[i].EmailAddress, granteeEmail) {
			return &perms[i], nil
		}
	}

	return nil, fmt.Errorf("%w: no permission for %s on %s", ErrNotFound, granteeEmail, folderID)
}
