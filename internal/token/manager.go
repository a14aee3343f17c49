// Package token implements the OAuth credential lifecycle: serving valid
// access tokens with automatic refresh, revocation, diagnostics, and the
// authorization-code callback boundary. Token values are SENSITIVE and are
// never logged; log lines carry principal ids and expiry times only.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/obs"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/store"
)

// Provider endpoint defaults. Overridable through Options for tests and
// regional deployments.
const (
	defaultAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultTokenURL    = "https://oauth2.googleapis.com/token"
	defaultRevokeURL   = "https://oauth2.googleapis.com/revoke"
	defaultValidateURL = "https://oauth2.googleapis.com/tokeninfo"
)

// ErrReauthRequired signals that the credential cannot be refreshed and the
// tenant must re-run the authorization flow. Callers must not retry past
// this error.
var ErrReauthRequired = errors.New("token: re-authentication required")

// AuthError carries the principal whose credential failed along with the
// underlying cause. errors.Is(err, ErrReauthRequired) matches it.
type AuthError struct {
	PrincipalID string
	Err         error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token: re-authentication required for %s: %v", e.PrincipalID, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is makes AuthError match the ErrReauthRequired sentinel.
func (e *AuthError) Is(target error) bool { return target == ErrReauthRequired }

// Options configures a Manager. Zero-value endpoint fields fall back to
// the provider defaults.
type Options struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	ValidateURL  string

	// RefreshThreshold is how close to expiry a token may get before a
	// refresh is attempted. RefreshAttempts bounds refresh retries;
	// RefreshBackoff is the linear step between attempts.
	RefreshThreshold time.Duration
	RefreshAttempts  int
	RefreshBackoff   time.Duration
}

// Manager owns the credential lifecycle for all principals. Constructed
// once per process and injected into callers; it holds no per-principal
// state outside the credential store.
type Manager struct {
	creds       *store.CredentialStore
	oauthCfg    *oauth2.Config
	httpClient  *http.Client
	revokeURL   string
	validateURL string

	refreshThreshold time.Duration
	refreshAttempts  int
	refreshBackoff   time.Duration

	metrics *obs.Metrics
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewManager creates a Manager over the given credential store.
func NewManager(creds *store.CredentialStore, opts Options, httpClient *http.Client, metrics *obs.Metrics, logger *slog.Logger) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	authURL := valueOr(opts.AuthURL, defaultAuthURL)
	tokenURL := valueOr(opts.TokenURL, defaultTokenURL)

	return &Manager{
		creds: creds,
		oauthCfg: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Scopes:       opts.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
		httpClient:       httpClient,
		revokeURL:        valueOr(opts.RevokeURL, defaultRevokeURL),
		validateURL:      valueOr(opts.ValidateURL, defaultValidateURL),
		refreshThreshold: opts.RefreshThreshold,
		refreshAttempts:  opts.RefreshAttempts,
		refreshBackoff:   opts.RefreshBackoff,
		metrics:          metrics,
		logger:           logger,
		nowFunc:          time.Now,
	}
}

// ValidToken returns an access token guaranteed to be live for at least
// the refresh threshold. A token inside the threshold triggers exactly one
// refresh cycle; outside it, the stored token is served without any
// provider call. Refresh exhaustion marks the credential invalid and
// returns an AuthError — callers surface re-authentication, never retry.
func (m *Manager) ValidToken(ctx context.Context, principalID string) (string, error) {
	cred, err := m.creds.Get(ctx, principalID)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return "", &AuthError{PrincipalID: principalID, Err: err}
		}

		return "", err
	}

	if cred.Invalid {
		return "", &AuthError{PrincipalID: principalID, Err: errors.New("credential marked invalid")}
	}

	if m.nowFunc().Add(m.refreshThreshold).Before(cred.ExpiresAt) {
		return cred.AccessToken, nil
	}

	if cred.RefreshToken == "" {
		// Expiring and nothing to refresh with. Serving it anyway would
		// violate the expires_at contract.
		if markErr := m.creds.MarkInvalid(ctx, principalID); markErr != nil {
			m.logger.Warn("failed to mark credential invalid",
				slog.String("principal_id", principalID),
				slog.String("error", markErr.Error()),
			)
		}

		return "", &AuthError{PrincipalID: principalID, Err: errors.New("no refresh token")}
	}

	return m.refresh(ctx, cred)
}

// refresh exchanges the refresh token with bounded, linearly backed-off
// retries. Transient failures (network, 5xx) are retried; a provider
// rejection (4xx, e.g. invalid_grant) is fatal immediately.
func (m *Manager) refresh(ctx context.Context, cred *store.Credential) (string, error) {
	m.logger.Info("refreshing access token",
		slog.String("principal_id", cred.PrincipalID),
		slog.Time("expires_at", cred.ExpiresAt),
	)

	var refreshed *oauth2.Token

	backoff := retry.WithMaxRetries(uint64(m.refreshAttempts-1), linearBackoff(m.refreshBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		src := m.oauthCfg.TokenSource(m.oauthContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})

		tok, tokErr := src.Token()
		if tokErr != nil {
			if isTransientOAuthErr(tokErr) {
				return retry.RetryableError(tokErr)
			}

			return tokErr
		}

		refreshed = tok

		return nil
	})
	if err != nil {
		m.metrics.TokenRefresh("exhausted")

		if markErr := m.creds.MarkInvalid(ctx, cred.PrincipalID); markErr != nil {
			m.logger.Warn("failed to mark credential invalid after refresh exhaustion",
				slog.String("principal_id", cred.PrincipalID),
				slog.String("error", markErr.Error()),
			)
		}

		return "", &AuthError{PrincipalID: cred.PrincipalID, Err: err}
	}

	// Preserve the stored refresh token unless the provider rotated it.
	refreshToken := cred.RefreshToken
	if refreshed.RefreshToken != "" {
		refreshToken = refreshed.RefreshToken
	}

	tokenType := refreshed.TokenType
	if tokenType == "" {
		tokenType = cred.TokenType
	}

	if err := m.creds.UpdateTokens(ctx, cred.PrincipalID, refreshed.AccessToken,
		refreshToken, tokenType, refreshed.Expiry); err != nil {
		return "", err
	}

	m.metrics.TokenRefresh("refreshed")

	m.logger.Info("access token refreshed",
		slog.String("principal_id", cred.PrincipalID),
		slog.Time("new_expiry", refreshed.Expiry),
		slog.Bool("refresh_token_rotated", refreshed.RefreshToken != ""),
	)

	return refreshed.AccessToken, nil
}

// Revoke calls the provider's revoke endpoint (best-effort) and deletes
// the local credential unconditionally.
func (m *Manager) Revoke(ctx context.Context, principalID string) error {
	cred, err := m.creds.Get(ctx, principalID)
	if err != nil && !errors.Is(err, store.ErrCredentialNotFound) {
		return err
	}

	if cred != nil {
		revokeTarget := cred.RefreshToken
		if revokeTarget == "" {
			revokeTarget = cred.AccessToken
		}

		if revokeErr := m.revokeRemote(ctx, revokeTarget); revokeErr != nil {
			m.logger.Warn("provider revoke failed, deleting local credential anyway",
				slog.String("principal_id", principalID),
				slog.String("error", revokeErr.Error()),
			)
		}
	}

	return m.creds.Delete(ctx, principalID)
}

func (m *Manager) revokeRemote(ctx context.Context, tokenValue string) error {
	form := url.Values{"token": {tokenValue}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.revokeURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("token: building revoke request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token: revoke request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token: revoke returned HTTP %d", resp.StatusCode)
	}

	return nil
}

// Validate performs a lightweight tokeninfo round-trip to confirm the
// access token is live. Diagnostics only — never on the hot path.
func (m *Manager) Validate(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		m.validateURL+"?access_token="+url.QueryEscape(accessToken), nil)
	if err != nil {
		return fmt.Errorf("token: building validate request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token: validate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token: validate returned HTTP %d", resp.StatusCode)
	}

	return nil
}

// oauthContext threads the manager's HTTP client into the oauth2 library,
// which reads it from the context rather than taking it as a parameter.
func (m *Manager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// Source returns a per-principal adapter satisfying the drive client's
// TokenSource interface.
func (m *Manager) Source(principalID string) *PrincipalSource {
	return &PrincipalSource{manager: m, principalID: principalID}
}

// PrincipalSource binds a Manager to one principal.
type PrincipalSource struct {
	manager     *Manager
	principalID string
}

// Token implements drive.TokenSource.
func (s *PrincipalSource) Token(ctx context.Context) (string, error) {
	return s.manager.ValidToken(ctx, s.principalID)
}

// SetNowFunc overrides the clock for tests.
func (m *Manager) SetNowFunc(now func() time.Time) {
	m.nowFunc = now
}

// linearBackoff returns a go-retry Backoff with linearly increasing delays
// (step, 2*step, 3*step, ...). The library ships constant, fibonacci, and
// exponential strategies; the refresh policy calls for linear.
func linearBackoff(step time.Duration) retry.Backoff {
	var attempt int64

	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++

		return time.Duration(attempt) * step, false
	})
}

// isTransientOAuthErr reports whether a token endpoint failure is worth
// retrying. oauth2 wraps non-2xx responses in *oauth2.RetrieveError; 5xx
// is transient, 4xx is a definitive rejection. Anything that is not a
// RetrieveError is a transport failure and transient.
func isTransientOAuthErr(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response == nil {
			return true
		}

		return retrieveErr.Response.StatusCode >= http.StatusInternalServerError
	}

	return true
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}

	return v
}
