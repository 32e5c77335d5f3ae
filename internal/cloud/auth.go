package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/jacoelt/backrecorder/internal/vault"
)

// ErrNotSignedIn means no usable credentials exist; the user must run the
// sign-in flow again before cloud operations can proceed.
var ErrNotSignedIn = errors.New("not signed in to cloud storage")

// Auth states.
const (
	StateSignedOut            = "SIGNED_OUT"
	StateAuthorizationPending = "AUTHORIZATION_PENDING"
	StateSignedIn             = "SIGNED_IN"
	StateReady                = "READY"
)

// SignInURL returns the authorization URL the user must visit and moves the
// manager to the pending state. The redirect lands on the auth callback
// handler, which calls HandleAuthCode.
func (m *Manager) SignInURL() string {
	m.stateMu.Lock()
	m.state = StateAuthorizationPending
	m.stateMu.Unlock()
	return m.oauth.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
}

// HandleAuthCode exchanges the authorization code for tokens and persists
// them. On failure the manager returns to signed-out; nothing is retried.
func (m *Manager) HandleAuthCode(ctx context.Context, code string) error {
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		m.setState(StateSignedOut)
		return fmt.Errorf("token exchange failed: %w", err)
	}

	if err := m.vault.Set(vault.KeyAccessToken, tok.AccessToken); err != nil {
		m.setState(StateSignedOut)
		return err
	}
	if tok.RefreshToken != "" {
		if err := m.vault.Set(vault.KeyRefreshToken, tok.RefreshToken); err != nil {
			m.setState(StateSignedOut)
			return err
		}
	}

	m.setState(StateSignedIn)
	log.Printf("Cloud sign-in completed")
	return nil
}

// State returns the current auth state.
func (m *Manager) State() string {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

func (m *Manager) setState(s string) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

// getValidAccessToken returns the persisted access token, refreshing it
// from the refresh token when absent. Token expiry is not tracked: a stale
// token is only discovered when a Drive call fails, and the failed call is
// not replayed after a refresh. A retry-once-after-refresh loop would be a
// reasonable enhancement.
func (m *Manager) getValidAccessToken(ctx context.Context) (string, error) {
	tok, ok, err := m.vault.Get(vault.KeyAccessToken)
	if err != nil {
		return "", err
	}
	if ok && tok != "" {
		return tok, nil
	}
	return m.refreshAccessToken(ctx)
}

// refreshAccessToken exchanges the persisted refresh token for a new access
// token and persists it. The whole sequence is a critical section so two
// concurrent refreshes cannot lose each other's update.
func (m *Manager) refreshAccessToken(ctx context.Context) (string, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if tok, ok, err := m.vault.Get(vault.KeyAccessToken); err != nil {
		return "", err
	} else if ok && tok != "" {
		return tok, nil
	}

	refresh, ok, err := m.vault.Get(vault.KeyRefreshToken)
	if err != nil {
		return "", err
	}
	if !ok || refresh == "" {
		return "", ErrNotSignedIn
	}

	form := url.Values{
		"client_id":     {m.oauth.ClientID},
		"client_secret": {m.oauth.ClientSecret},
		"refresh_token": {refresh},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.oauth.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token refresh returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("token refresh returned no access token")
	}

	if err := m.vault.Set(vault.KeyAccessToken, payload.AccessToken); err != nil {
		return "", err
	}

	log.Printf("Access token refreshed")
	return payload.AccessToken, nil
}

// invalidateAccessToken drops the cached access token so the next operation
// refreshes. Called when a Drive call reports an auth failure.
func (m *Manager) invalidateAccessToken() {
	if err := m.vault.Delete(vault.KeyAccessToken); err != nil {
		log.Printf("Failed to drop stale access token: %v", err)
	}
}
