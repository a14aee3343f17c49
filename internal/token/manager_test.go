package token

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/obs"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestCreds(t *testing.T) *store.CredentialStore {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return st.Credentials()
}

// newTestManager wires a Manager against the given token endpoint handler.
func newTestManager(t *testing.T, creds *store.CredentialStore, handler http.Handler) *Manager {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewManager(creds, Options{
		ClientID:         "client-id",
		ClientSecret:     "client-secret",
		AuthURL:          srv.URL + "/auth",
		TokenURL:         srv.URL + "/token",
		RevokeURL:        srv.URL + "/revoke",
		ValidateURL:      srv.URL + "/tokeninfo",
		RefreshThreshold: 5 * time.Minute,
		RefreshAttempts:  3,
		RefreshBackoff:   time.Millisecond,
	}, srv.Client(), nil, testLogger())
}

func putTestCredential(t *testing.T, creds *store.CredentialStore, expiresAt time.Time) {
	t.Helper()

	require.NoError(t, creds.Put(context.Background(), &store.Credential{
		PrincipalID:  "default",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
	}))
}

func tokenJSON(w http.ResponseWriter, accessToken, refreshToken string) {
	w.Header().Set("Content-Type", "application/json")

	if refreshToken != "" {
		fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":3600,"refresh_token":%q}`,
			accessToken, refreshToken)

		return
	}

	fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":3600}`, accessToken)
}

func TestValidToken_ServesStoredTokenOutsideThreshold(t *testing.T) {
	creds := newTestCreds(t)
	mgr := newTestManager(t, creds, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("provider must not be called for a fresh token")
		w.WriteHeader(http.StatusInternalServerError)
	}))

	putTestCredential(t, creds, time.Now().Add(time.Hour))

	got, err := mgr.ValidToken(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "old-access", got)
}

func TestValidToken_RefreshesInsideThreshold(t *testing.T) {
	// Expiry in 2m with a 5m threshold forces a refresh. The provider does
	// not rotate the refresh token, so the stored one must survive.
	creds := newTestCreds(t)
	mgr := newTestManager(t, creds, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))

		tokenJSON(w, "new-access", "")
	}))

	putTestCredential(t, creds, time.Now().Add(2*time.Minute))

	got, err := mgr.ValidToken(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "new-access", got)

	stored, err := creds.Get(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "new-access", stored.AccessToken)
	assert.Equal(t, "old-refresh", stored.RefreshToken)
	assert.True(t, stored.ExpiresAt.After(time.Now().Add(30*time.Minute)))
}

func TestValidToken_AdoptsRotatedRefreshToken(t *testing.T) {
	creds := newTestCreds(t)
	mgr := newTestManager(t, creds, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		tokenJSON(w, "new-access", "rotated-refresh")
	}))

	putTestCredential(t, creds, time.Now().Add(time.Minute))

	_, err := mgr.ValidToken(context.Background(), "default")
	require.NoError(t, err)

	stored, err := creds.Get(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh", stored.RefreshToken)
}

// newMeteredManager is newTestManager with a live metrics instance and a
// single refresh attempt.
func newMeteredManager(t *testing.T, creds *store.CredentialStore, metrics *obs.Metrics, handler http.Handler) *Manager {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewManager(creds, Options{
		ClientID:         "client-id",
		ClientSecret:     "client-secret",
		TokenURL:         srv.URL + "/token",
		RefreshThreshold: 5 * time.Minute,
		RefreshAttempts:  1,
		RefreshBackoff:   time.Millisecond,
	}, srv.Client(), metrics, testLogger())
}

func scrapeMetrics(t *testing.T, metrics *obs.Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	return rec.Body.String()
}

func TestValidToken_CountsSuccessfulRefresh(t *testing.T) {
	creds := newTestCreds(t)
	metrics := obs.New()
	mgr := newMeteredManager(t, creds, metrics, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		tokenJSON(w, "new-access", "")
	}))

	putTestCredential(t, creds, time.Now().Add(time.Minute))

	_, err := mgr.ValidToken(context.Background(), "default")
	require.NoError(t, err)

	assert.Contains(t, scrapeMetrics(t, metrics),
		`folder_token_refreshes_total{result="refreshed"} 1`)
}

func TestValidToken_CountsRefreshExhaustion(t *testing.T) {
	creds := newTestCreds(t)
	metrics := obs.New()
	mgr := newMeteredManager(t, creds, metrics, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	putTestCredential(t, creds, time.Now().Add(time.Minute))

	_, err := mgr.ValidToken(context.Background(), "default")
	require.ErrorIs(t, err, ErrReauthRequired)

	assert.Contains(t, scrapeMetrics(t, metrics),
		`folder_token_refreshes_total{result="exhausted"} 1`)
}

func TestValidToken_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32

	creds := newTestCreds(t)
	mgr := newTestManager(t, creds, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		tokenJSON(w, "new-access", "")
	}))

	putTestCredential(t, creds, time.Now().Add(time.Minute))

	got, err := mgr.ValidToken(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "new-access", got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestValidToken_FatalRejectionSkipsRetries(t *testing.T) {
	var calls atomic.Int32

	creds := newTestCreds(t)
	mgr := newTestManager(t, creds, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))

	putTestCredential(t, creds, time.Now().Add(time.Minute))

	_, err := mgr.ValidToken(context.Background(), "default")
	require.ErrorIs(t, err, ErrReauthRequired)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")

	// Exhaustion marks the credential invalid; the next call fails fast.
	stored, err := creds.Get(context.Background(), "default")
	require.NoError(t, err)
	assert.True(t, stored.Invalid)

	calls.Store(0)

	_, err = mgr.ValidToken(context.Background(), "default")
	require.ErrorIs(t, err, ErrReauthRequired)
	assert.Zero(t, calls.Load())
}

func TestValidToken_ExhaustionReturnsAuthError(t *testing.T) {
	var calls atomic.Int32

	creds := newTestCreds(t)
	mgr := newTestManager(t, creds, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	putTestCredential(t, creds, time.Now().Add(time.Minute))

	_, err := mgr.ValidToken(context.Background(), "default")
	require.ErrorIs(t, err, ErrReauthRequired)
	assert.Equal(t, int32(3), calls.Load())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "default", authErr.PrincipalID)
}

func TestValidToken_MissingCredential(t *testing.T) {
	creds := newTestCreds(t)
	mgr := newTestManager(t, creds, http.NotFoundHandler())

	_, err := mgr.ValidToken(context.Background(), "default")
	assert.ErrorIs(t, err, ErrReauthRequired)
}

func TestRevoke_BestEffortRemoteAndLocalDelete(t *testing.T) {
	var revoked atomic.Bool

	creds := newTestCreds(t)
	mgr := newTestManager(t, creds, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/revoke", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "old-refresh", r.Form.Get("token"))
		revoked.Store(true)
		w.WriteHeader(http.StatusOK)
	}))

	putTestCredential(t, creds, time.Now().Add(time.Hour))

	require.NoError(t, mgr.Revoke(context.Background(), "default"))
	assert.True(t, revoked.Load())

	_, err := creds.Get(context.Background(), "default")
	assert.ErrorIs(t, err, store.ErrCredentialNotFound)
}

func TestRevoke_RemoteFailureStillDeletesLocally(t *testing.T) {
	creds := newTestCreds(t)
	mgr := newTestManager(t, creds, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	putTestCredential(t, creds, time.Now().Add(time.Hour))

	require.NoError(t, mgr.Revoke(context.Background(), "default"))

	_, err := creds.Get(context.Background(), "default")
	assert.ErrorIs(t, err, store.ErrCredentialNotFound)
}

func TestHandleCallback_StateMismatch(t *testing.T) {
	creds := newTestCreds(t)
	mgr := newTestManager(t, creds, http.NotFoundHandler())

	err := mgr.HandleCallback(context.Background(), CallbackRequest{
		Code: "code", State: "evil", PrincipalID: "default",
	}, "expected")
	assert.ErrorIs(t, err, ErrStateMismatch)
}

func TestHandleCallback_CreatesCredential(t *testing.T) {
	creds := newTestCreds(t)
	mgr := newTestManager(t, creds, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))

		tokenJSON(w, "fresh-access", "fresh-refresh")
	}))

	err := mgr.HandleCallback(context.Background(), CallbackRequest{
		Code: "the-code", State: "s", PrincipalID: "default",
	}, "s")
	require.NoError(t, err)

	stored, err := creds.Get(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", stored.AccessToken)
	assert.Equal(t, "fresh-refresh", stored.RefreshToken)
	assert.Equal(t, "Bearer", stored.TokenType)
}

func TestValidate(t *testing.T) {
	creds := newTestCreds(t)
	mgr := newTestManager(t, creds, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") == "live" {
			w.WriteHeader(http.StatusOK)

			return
		}

		w.WriteHeader(http.StatusBadRequest)
	}))

	assert.NoError(t, mgr.Validate(context.Background(), "live"))
	assert.Error(t, mgr.Validate(context.Background(), "dead"))
}
