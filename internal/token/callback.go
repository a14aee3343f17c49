package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/store"
)

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// ErrStateMismatch indicates the callback state did not match the one
// issued for this authorization attempt (possible CSRF).
var ErrStateMismatch = errors.New("token: OAuth2 state mismatch")

// CallbackRequest carries the fields delivered by the provider's redirect.
type CallbackRequest struct {
	Code        string
	State       string
	PrincipalID string
}

// HandleCallback is the OAuth callback boundary: it validates the state,
// exchanges the authorization code for tokens, and writes a brand-new
// credential row. This is the only code path that creates credentials —
// everything else only refreshes them.
func (m *Manager) HandleCallback(ctx context.Context, req CallbackRequest, expectedState string) error {
	if req.State != expectedState {
		return ErrStateMismatch
	}

	tok, err := m.oauthCfg.Exchange(m.oauthContext(ctx), req.Code)
	if err != nil {
		return fmt.Errorf("token: code exchange for %s: %w", req.PrincipalID, err)
	}

	cred := &store.Credential{
		PrincipalID:  req.PrincipalID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    valueOr(tok.TokenType, "Bearer"),
		Scope:        m.oauthCfg.Scopes,
		ExpiresAt:    tok.Expiry,
	}

	if err := m.creds.Put(ctx, cred); err != nil {
		return err
	}

	m.logger.Info("credential stored",
		slog.String("principal_id", req.PrincipalID),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("has_refresh_token", tok.RefreshToken != ""),
	)

	return nil
}

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// Authorize performs the interactive authorization-code flow for a
// principal:
//  1. Binds a localhost HTTP server on a random port
//  2. Opens the browser to the provider's consent page
//  3. Receives the redirect with the authorization code
//  4. Hands the code to HandleCallback
//
// openURL is called with the authorization URL; the CLI uses it to launch
// the default browser. If openURL fails, the URL is printed to stderr so
// the user can open it manually.
func (m *Manager) Authorize(ctx context.Context, principalID string, openURL func(string) error) error {
	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, m.logger)
	if err != nil {
		return err
	}

	defer shutdownCallbackServer(srv, m.logger)

	m.oauthCfg.RedirectURL = fmt.Sprintf("http://localhost:%d", port)

	state, err := generateState()
	if err != nil {
		return fmt.Errorf("token: generating state token: %w", err)
	}

	registerCallbackHandler(mux, state, resultCh)

	// offline access so the provider issues a refresh token; consent prompt
	// forces re-issue for principals that authorized before.
	authURL := m.oauthCfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	m.logger.Info("opening browser for authorization",
		slog.String("principal_id", principalID),
	)

	if openErr := openURL(authURL); openErr != nil {
		m.logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return err
	}

	return m.HandleCallback(ctx, CallbackRequest{
		Code:        code,
		State:       state,
		PrincipalID: principalID,
	}, state)
}

// startCallbackServer binds to 127.0.0.1:0 and starts an HTTP server with
// the given mux. Returns the server, the port, and any error.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("token: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("token: listener address is not TCP")
	}

	port := tcpAddr.Port
	logger.Info("callback server listening", slog.Int("port", port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			resultCh <- callbackResult{err: fmt.Errorf("token: callback server error: %w", serveErr)}
		}
	}()

	return srv, port, nil
}

// registerCallbackHandler adds the callback route to the mux.
// Must be called before the browser redirects back.
func registerCallbackHandler(mux *http.ServeMux, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		handleRedirect(w, r, state, resultCh)
	})
}

// handleRedirect validates the state, extracts the code, and sends the result.
func handleRedirect(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	if r.URL.Query().Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		resultCh <- callbackResult{err: ErrStateMismatch}

		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		desc := r.URL.Query().Get("error_description")
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("token: authorization failed: %s: %s", errParam, desc)}

		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("token: callback missing authorization code")}

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authorization successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	resultCh <- callbackResult{code: code}
}

// shutdownCallbackServer gracefully shuts down the callback HTTP server.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Best-effort shutdown — log but don't propagate since we're in a defer.
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("token: authorization canceled: %w", ctx.Err())
	}
}

// generateState produces a cryptographically random hex string for the
// OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
