package pms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"staybook/internal/core"
)

const (
	DefaultSafetyMargin   = 60 * time.Second
	DefaultRefreshTimeout = 10 * time.Second
)

var (
	ErrNoCredentials     = errors.New("no PMS credentials configured - set a long-lived token or a refresh token")
	ErrLongLivedRejected = errors.New("long-lived token was rejected by the PMS")
)

// Auth modes
const (
	AuthModeLongLived = "long_lived"
	AuthModeRefresh   = "refresh_token"
)

// TokenConfig contains PMS authentication settings
type TokenConfig struct {
	BaseURL        string
	LongLivedToken string        // when set, used as-is and never refreshed
	RefreshToken   string        // seed refresh token; a stored one takes precedence
	SafetyMargin   time.Duration // a token expiring within this margin is never used
	RefreshTimeout time.Duration
}

// Credential is an access token and its expiry
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenProvider supplies access tokens to the PMS client
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context, staleToken string) (string, error)
}

// TokenStatus is a snapshot of the token manager state
type TokenStatus struct {
	Mode             string     `json:"mode"`
	Cached           bool       `json:"cached"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	ExpiresInSeconds int        `json:"expires_in_seconds,omitempty"`
	Refreshes        int64      `json:"refreshes"`
}

// TokenManager hands out valid PMS access tokens and refreshes them when needed
type TokenManager struct {
	config     TokenConfig
	storage    TokenStorage // optional
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.RWMutex // protects cred and seed
	cred      *Credential
	seed      string
	group     singleflight.Group
	refreshes atomic.Int64
}

// NewTokenManager creates a token manager. storage may be nil.
func NewTokenManager(config TokenConfig, storage TokenStorage, logger *slog.Logger) *TokenManager {
	if config.SafetyMargin <= 0 {
		config.SafetyMargin = DefaultSafetyMargin
	}
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = DefaultRefreshTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenManager{
		config:  config,
		storage: storage,
		httpClient: &http.Client{
			Timeout: config.RefreshTimeout,
		},
		logger: logger.With("component", "pms.tokens"),
		now:    time.Now,
		seed:   config.RefreshToken,
	}
}

// Mode returns the configured auth mode
func (m *TokenManager) Mode() string {
	if m.config.LongLivedToken != "" {
		return AuthModeLongLived
	}
	return AuthModeRefresh
}

// Token returns a valid access token, refreshing it if it is missing or about to expire
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if m.config.LongLivedToken != "" {
		return m.config.LongLivedToken, nil
	}

	m.mu.RLock()
	cred := m.cred
	m.mu.RUnlock()
	if m.usable(cred) {
		return cred.AccessToken, nil
	}

	return m.refresh(ctx, "")
}

// ForceRefresh replaces a token the PMS rejected. If another caller already
// replaced staleToken, the newer token is returned without another refresh.
func (m *TokenManager) ForceRefresh(ctx context.Context, staleToken string) (string, error) {
	if m.config.LongLivedToken != "" {
		return "", fmt.Errorf("%w: %w", core.ErrAuth, ErrLongLivedRejected)
	}

	m.mu.RLock()
	cred := m.cred
	m.mu.RUnlock()
	if m.usable(cred) && cred.AccessToken != staleToken {
		return cred.AccessToken, nil
	}

	return m.refresh(ctx, staleToken)
}

// SetRefreshToken replaces the refresh token and drops the cached access token
func (m *TokenManager) SetRefreshToken(ctx context.Context, refreshToken string) error {
	m.mu.Lock()
	m.seed = refreshToken
	m.cred = nil
	m.mu.Unlock()

	if m.storage == nil {
		return nil
	}

	now := m.now()
	tokens, err := m.storage.GetPMSTokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to get tokens from storage: %w", err)
	}
	if tokens == nil {
		tokens = &Tokens{CreatedAt: now}
	}
	tokens.RefreshToken = refreshToken
	tokens.AccessToken = ""
	tokens.AccessTokenExpiresAt = nil
	tokens.UpdatedAt = now

	return m.storage.SavePMSTokens(ctx, tokens)
}

// Status returns a snapshot for diagnostics
func (m *TokenManager) Status() TokenStatus {
	status := TokenStatus{
		Mode:      m.Mode(),
		Refreshes: m.refreshes.Load(),
	}
	if status.Mode == AuthModeLongLived {
		status.Cached = true
		return status
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred != nil {
		expiresAt := m.cred.ExpiresAt
		status.Cached = true
		status.ExpiresAt = &expiresAt
		status.ExpiresInSeconds = max(0, int(expiresAt.Sub(m.now()).Seconds()))
	}
	return status
}

// usable reports whether a credential is valid beyond the safety margin
func (m *TokenManager) usable(cred *Credential) bool {
	return cred != nil && cred.AccessToken != "" &&
		m.now().Before(cred.ExpiresAt.Add(-m.config.SafetyMargin))
}

// refresh runs at most one token exchange at a time; concurrent callers share its result
func (m *TokenManager) refresh(ctx context.Context, staleToken string) (string, error) {
	ch := m.group.DoChan("refresh", func() (interface{}, error) {
		// Double-check: another refresh may have finished while we were waiting
		m.mu.RLock()
		cred := m.cred
		m.mu.RUnlock()
		if m.usable(cred) && cred.AccessToken != staleToken {
			return cred.AccessToken, nil
		}

		// The exchange must not be cut short by the first caller leaving
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.RefreshTimeout)
		defer cancel()

		return m.exchange(rctx, staleToken)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for token refresh: %w", core.ErrAuth, ctx.Err())
	}
}

// exchange trades the refresh token for a new access token and stores it
func (m *TokenManager) exchange(ctx context.Context, staleToken string) (string, error) {
	refreshToken, err := m.currentRefreshToken(ctx, staleToken)
	if err != nil {
		return "", err
	}
	if refreshToken == "" {
		// A stored access token may have been adopted instead
		m.mu.RLock()
		defer m.mu.RUnlock()
		if m.usable(m.cred) && m.cred.AccessToken != staleToken {
			return m.cred.AccessToken, nil
		}
		return "", fmt.Errorf("%w: %w", core.ErrAuth, ErrNoCredentials)
	}

	start := m.now()
	cred, err := m.requestToken(ctx, refreshToken)
	if err != nil {
		m.logger.Error("PMS token refresh failed", "error", err)
		return "", err
	}
	m.refreshes.Add(1)

	m.mu.Lock()
	m.cred = cred
	m.seed = cred.RefreshToken
	m.mu.Unlock()

	m.logger.Info("PMS access token refreshed",
		"expires_at", cred.ExpiresAt,
		"duration", time.Since(start))

	if m.storage != nil {
		expiresAt := cred.ExpiresAt
		tokens := &Tokens{
			RefreshToken:         cred.RefreshToken,
			AccessToken:          cred.AccessToken,
			AccessTokenExpiresAt: &expiresAt,
			CreatedAt:            start,
			UpdatedAt:            start,
		}
		if err := m.storage.SavePMSTokens(ctx, tokens); err != nil {
			// The token is usable from memory
			m.logger.Warn("Failed to save refreshed PMS tokens", "error", err)
		}
	}

	return cred.AccessToken, nil
}

// currentRefreshToken resolves the refresh token to use, preferring storage.
// A still-valid stored access token is adopted and "" is returned.
func (m *TokenManager) currentRefreshToken(ctx context.Context, staleToken string) (string, error) {
	m.mu.RLock()
	seed := m.seed
	haveCred := m.cred != nil
	m.mu.RUnlock()

	if m.storage == nil {
		return seed, nil
	}

	tokens, err := m.storage.GetPMSTokens(ctx)
	if err != nil {
		m.logger.Warn("Failed to get PMS tokens from storage", "error", err)
		return seed, nil
	}
	if tokens == nil || tokens.RefreshToken == "" {
		return seed, nil
	}

	if !haveCred && tokens.AccessToken != "" && tokens.AccessTokenExpiresAt != nil &&
		tokens.AccessToken != staleToken {
		stored := &Credential{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			ExpiresAt:    *tokens.AccessTokenExpiresAt,
		}
		if m.usable(stored) {
			m.mu.Lock()
			m.cred = stored
			m.seed = stored.RefreshToken
			m.mu.Unlock()
			return "", nil
		}
	}

	return tokens.RefreshToken, nil
}

// requestToken calls the PMS auth endpoint
func (m *TokenManager) requestToken(ctx context.Context, refreshToken string) (*Credential, error) {
	url := fmt.Sprintf("%s/authentication/token", m.config.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create refresh request: %w", core.ErrAuth, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("refreshToken", refreshToken)

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send refresh request: %w", core.ErrAuth, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read refresh response: %w", core.ErrAuth, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: refresh failed with status %d: %s", core.ErrAuth, resp.StatusCode, string(respBody))
	}

	var apiResp struct {
		Token        string `json:"token"`
		ExpiresIn    int    `json:"expiresIn"` // seconds
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse refresh response: %w", core.ErrAuth, err)
	}
	if apiResp.Token == "" || apiResp.ExpiresIn <= 0 {
		return nil, fmt.Errorf("%w: refresh response has no usable token", core.ErrAuth)
	}

	// Some PMS accounts rotate refresh tokens, others keep the original
	if apiResp.RefreshToken == "" {
		apiResp.RefreshToken = refreshToken
	}

	return &Credential{
		AccessToken:  apiResp.Token,
		RefreshToken: apiResp.RefreshToken,
		ExpiresAt:    m.now().Add(time.Duration(apiResp.ExpiresIn) * time.Second),
	}, nil
}
