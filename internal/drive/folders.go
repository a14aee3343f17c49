package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// listPageSize is the pageSize value for folder listings. 100 keeps
// responses small while the tenant hierarchies stay shallow.
const listPageSize = 100

// folderFields is the fields projection requested on every folder response.
const folderFields = "id,name,webViewLink,parents,trashed"

// fileResource mirrors the provider's file JSON exactly. Unexported —
// callers use Folder via toFolder() normalization.
type fileResource struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	MimeType    string   `json:"mimeType"`
	WebViewLink string   `json:"webViewLink"`
	Parents     []string `json:"parents"`
	Trashed     bool     `json:"trashed"`
}

type fileListResponse struct {
	Files         []fileResource `json:"files"`
	NextPageToken string         `json:"nextPageToken"`
}

type createFolderRequest struct {
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType"`
	Parents  []string `json:"parents,omitempty"`
}

func (f *fileResource) toFolder() Folder {
	return Folder{
		ID:      f.ID,
		Name:    f.Name,
		WebURL:  f.WebViewLink,
		Parents: f.Parents,
		Trashed: f.Trashed,
	}
}

// GetFolder fetches a folder by id. Trashed folders are reported as
// ErrNotFound — a trashed remote folder is missing for provisioning
// purposes.
func (c *Client) GetFolder(ctx context.Context, folderID string) (*Folder, error) {
	path := "/files/" + url.PathEscape(folderID) + "?fields=" + url.QueryEscape(folderFields)

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res fileResource
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("drive: decoding folder %s: %w", folderID, err)
	}

	if res.Trashed {
		return nil, fmt.Errorf("%w: folder %s is trashed", ErrNotFound, folderID)
	}

	folder := res.toFolder()

	return &folder, nil
}

// ListChildFolders returns all non-trashed child folders of parentID,
// following pagination to the end.
func (c *Client) ListChildFolders(ctx context.Context, parentID string) ([]Folder, error) {
	query := fmt.Sprintf("'%s' in parents and mimeType = '%s' and trashed = false",
		escapeQueryValue(parentID), folderMimeType)

	return c.listFolders(ctx, query)
}

// FindChildFolder probes parentID for a child folder named name. The
// comparison is NFC-normalized on both sides because the provider may
// return decomposed unicode for names containing accents. Returns
// ErrNotFound when no child matches.
func (c *Client) FindChildFolder(ctx context.Context, parentID, name string) (*Folder, error) {
	query := fmt.Sprintf("'%s' in parents and name = '%s' and mimeType = '%s' and trashed = false",
		escapeQueryValue(parentID), escapeQueryValue(name), folderMimeType)

	folders, err := c.listFolders(ctx, query)
	if err != nil {
		return nil, err
	}

	want := norm.NFC.String(name)
	for i := range folders {
		if norm.NFC.String(folders[i].Name) == want {
			return &folders[i], nil
		}
	}

	return nil, fmt.Errorf("%w: no child named %q under %s", ErrNotFound, name, parentID)
}

// CreateFolder creates a folder under parentID (empty for the drive root).
func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (*Folder, error) {
	reqBody := createFolderRequest{
		Name:     name,
		MimeType: folderMimeType,
	}
	if parentID != "" {
		reqBody.Parents = []string{parentID}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("drive: encoding create folder request: %w", err)
	}

	path := "/files?fields=" + url.QueryEscape(folderFields)

	resp, err := c.Do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res fileResource
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("drive: decoding created folder: %w", err)
	}

	folder := res.toFolder()

	return &folder, nil
}

func (c *Client) listFolders(ctx context.Context, query string) ([]Folder, error) {
	var (
		folders   []Folder
		pageToken string
	)

	for {
		params := url.Values{}
		params.Set("q", query)
		params.Set("pageSize", fmt.Sprint(listPageSize))
		params.Set("fields", "nextPageToken,files("+folderFields+")")

		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		resp, err := c.Do(ctx, http.MethodGet, "/files?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var page fileListResponse

		decodeErr := json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()

		if decodeErr != nil {
			return nil, fmt.Errorf("drive: decoding folder listing: %w", decodeErr)
		}

		for i := range page.Files {
			if page.Files[i].Trashed {
				continue
			}

			folders = append(folders, page.Files[i].toFolder())
		}

		if page.NextPageToken == "" {
			return folders, nil
		}

		pageToken = page.NextPageToken
	}
}

// escapeQueryValue escapes single quotes and backslashes for interpolation
// into a provider search query string.
func escapeQueryValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)

	return strings.ReplaceAll(v, `'`, `\'`)
}
