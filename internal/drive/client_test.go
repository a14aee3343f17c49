package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// staticToken satisfies TokenSource with a fixed value.
type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

// newTestClient wires a Client against an httptest server, with rate
// pacing off and sleeps recorded instead of performed.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *[]time.Duration) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, srv.Client(), staticToken("test-token"), 0, 0, testLogger())

	var sleeps []time.Duration

	client.sleepFunc = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)

		return nil
	}

	return client, &sleeps
}

func writeFolderJSON(w http.ResponseWriter, id, name string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":%q,"name":%q,"mimeType":"application/vnd.google-apps.folder","webViewLink":"https://example.com/%s"}`,
		id, name, id)
}

func writeListJSON(w http.ResponseWriter, files ...map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"files": files})
}

func TestDo_SetsAuthHeader(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		writeFolderJSON(w, "f-1", "Folder")
	}))

	folder, err := client.GetFolder(context.Background(), "f-1")
	require.NoError(t, err)
	assert.Equal(t, "f-1", folder.ID)
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	client, sleeps := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		writeFolderJSON(w, "f-1", "Folder")
	}))

	folder, err := client.GetFolder(context.Background(), "f-1")
	require.NoError(t, err)
	assert.Equal(t, "f-1", folder.ID)
	assert.Equal(t, int32(3), calls.Load())
	// Exponential backoff: the second wait is longer than the first.
	require.Len(t, *sleeps, 2)
	assert.Greater(t, (*sleeps)[1], (*sleeps)[0])
}

func TestDo_HonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32

	client, sleeps := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		writeFolderJSON(w, "f-1", "Folder")
	}))

	_, err := client.GetFolder(context.Background(), "f-1")
	require.NoError(t, err)
	require.Len(t, *sleeps, 1)
	assert.Equal(t, 7*time.Second, (*sleeps)[0])
}

func TestDo_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32

	client, sleeps := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := client.GetFolder(context.Background(), "f-1")
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *sleeps)
}

func TestDo_ErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))

			_, err := client.GetFolder(context.Background(), "f-1")
			require.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestGetFolder_TrashedIsNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"f-1","name":"Gone","trashed":true}`)
	}))

	_, err := client.GetFolder(context.Background(), "f-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindChildFolder_NormalizedComparison(t *testing.T) {
	// Provider returns the name in decomposed form (n + combining tilde);
	// the caller asks with the precomposed form.
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeListJSON(w, map[string]any{"id": "f-1", "name": "Nin\u0303o \u2013 nino@gmail.com"})
	}))

	folder, err := client.FindChildFolder(context.Background(), "root", "Niño – nino@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "f-1", folder.ID)
}

func TestFindChildFolder_Miss(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeListJSON(w)
	}))

	_, err := client.FindChildFolder(context.Background(), "root", "Absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListChildFolders_FollowsPagination(t *testing.T) {
	var calls atomic.Int32

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if calls.Add(1) == 1 {
			assert.Empty(t, r.URL.Query().Get("pageToken"))
			fmt.Fprint(w, `{"files":[{"id":"f-1","name":"A"}],"nextPageToken":"page-2"}`)

			return
		}

		assert.Equal(t, "page-2", r.URL.Query().Get("pageToken"))
		fmt.Fprint(w, `{"files":[{"id":"f-2","name":"B"}]}`)
	}))

	folders, err := client.ListChildFolders(context.Background(), "root")
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, "f-1", folders[0].ID)
	assert.Equal(t, "f-2", folders[1].ID)
}

func TestCreateFolder(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Ana – ana@gmail.com", req["name"])
		assert.Equal(t, "application/vnd.google-apps.folder", req["mimeType"])
		assert.Equal(t, []any{"parent-1"}, req["parents"])

		writeFolderJSON(w, "f-new", "Ana – ana@gmail.com")
	}))

	folder, err := client.CreateFolder(context.Background(), "parent-1", "Ana – ana@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "f-new", folder.ID)
	assert.Equal(t, "https://example.com/f-new", folder.WebURL)
}

func TestCreateFolder_RetryResendsFullBody(t *testing.T) {
	// A transient 500 on a create must not lose the payload: an empty
	// retried body would make the provider create a nameless folder
	// outside the hierarchy.
	var (
		calls  atomic.Int32
		bodies []string
	)

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		bodies = append(bodies, string(raw))

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		writeFolderJSON(w, "f-new", "Ana – ana@gmail.com")
	}))

	folder, err := client.CreateFolder(context.Background(), "parent-1", "Ana – ana@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "f-new", folder.ID)

	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1])

	var req map[string]any
	require.NoError(t, json.Unmarshal([]byte(bodies[1]), &req))
	assert.Equal(t, "Ana – ana@gmail.com", req["name"])
	assert.Equal(t, []any{"parent-1"}, req["parents"])
}

func TestEscapeQueryValue(t *testing.T) {
	assert.Equal(t, `O\'Brien`, escapeQueryValue(`O'Brien`))
	assert.Equal(t, `a\\b`, escapeQueryValue(`a\b`))
}
