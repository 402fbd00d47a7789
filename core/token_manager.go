package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

type ExchangeGrantRequest struct {
	UserID       string
	GrantCode    string
	GranteeToken string
	ClientID     string
	ClientSecret string
}

func (r ExchangeGrantRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return NewValidationError("userId", "user id is required")
	}
	if strings.TrimSpace(r.GrantCode) == "" {
		return NewValidationError("grantCode", "grant code is required")
	}
	if strings.TrimSpace(r.ClientID) == "" || strings.TrimSpace(r.ClientSecret) == "" {
		return NewClientCredentialsError()
	}
	return nil
}

// TokenManager keeps one credential per user and hands out access tokens
// that are valid for at least the expiry buffer.
type TokenManager struct {
	credentials     CredentialStore
	authServer      AuthorizationServer
	expiryBuffer    time.Duration
	issueMargin     time.Duration
	refreshAttempts int
	lockTTL         time.Duration
	backoff         RefreshBackoffScheduler
	locker          CredentialLocker
	now             func() time.Time
	obs             *observer
}

func NewTokenManager(credentials CredentialStore, authServer AuthorizationServer, cfg TokenConfig) *TokenManager {
	return &TokenManager{
		credentials:     credentials,
		authServer:      authServer,
		expiryBuffer:    cfg.ExpiryBuffer,
		issueMargin:     cfg.IssueMargin,
		refreshAttempts: cfg.RefreshAttempts,
		lockTTL:         cfg.RefreshLockTTL,
		backoff:         ExponentialBackoffScheduler{Initial: cfg.RefreshBackoff},
		locker:          NewMemoryCredentialLocker(),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// ExchangeGrant trades an AcceptGrant code for tokens and stores them for
// the user, replacing any previous credential.
func (m *TokenManager) ExchangeGrant(ctx context.Context, req ExchangeGrantRequest) (cred Credential, err error) {
	startedAt := time.Now().UTC()
	defer func() {
		m.obs.observe(ctx, startedAt, "exchange_grant", err, map[string]any{"user_id": req.UserID})
	}()

	if err := req.Validate(); err != nil {
		return Credential{}, err
	}
	if m.authServer == nil {
		return Credential{}, NewAuthError("core: authorization server is not configured", nil)
	}
	if m.credentials == nil {
		return Credential{}, NewStorageError("credential put", errors.New("core: credential store is not configured"))
	}

	grant, err := m.authServer.ExchangeCode(ctx, strings.TrimSpace(req.GrantCode), req.ClientID, req.ClientSecret)
	if err != nil {
		return Credential{}, NewAuthError("core: authorization code exchange failed", err)
	}
	if strings.TrimSpace(grant.AccessToken) == "" {
		return Credential{}, NewAuthError("core: authorization server returned no access token", nil)
	}

	cred = Credential{
		UserID:        strings.TrimSpace(req.UserID),
		AccessToken:   grant.AccessToken,
		RefreshToken:  grant.RefreshToken,
		TokenType:     firstNonEmpty(grant.TokenType, DefaultTokenType),
		ClientID:      req.ClientID,
		ClientSecret:  req.ClientSecret,
		ExpirationUTC: grant.ExpirationFrom(m.now(), m.issueMargin),
		GrantCode:     strings.TrimSpace(req.GrantCode),
		GranteeToken:  strings.TrimSpace(req.GranteeToken),
	}
	if err := m.credentials.Put(ctx, cred); err != nil {
		return Credential{}, NewStorageError("credential put", err)
	}
	return cred, nil
}

// IssueDevelopmentCredential stores the placeholder credential used when a
// directive carries the development grantee token. No authorization
// server is contacted.
func (m *TokenManager) IssueDevelopmentCredential(ctx context.Context, grantCode, clientID, clientSecret string) (Credential, error) {
	if m.credentials == nil {
		return Credential{}, NewStorageError("credential put", errors.New("core: credential store is not configured"))
	}
	grant := TokenGrant{
		AccessToken:  DevelopmentTokenValue,
		RefreshToken: DevelopmentTokenValue,
		TokenType:    DefaultTokenType,
		ExpiresIn:    DevelopmentExpiresIn,
	}
	cred := Credential{
		UserID:        DevelopmentUserID,
		AccessToken:   grant.AccessToken,
		RefreshToken:  grant.RefreshToken,
		TokenType:     grant.TokenType,
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		ExpirationUTC: grant.ExpirationFrom(m.now(), m.issueMargin),
		GrantCode:     strings.TrimSpace(grantCode),
		GranteeToken:  DevelopmentGranteeToken,
	}
	if err := m.credentials.Put(ctx, cred); err != nil {
		return Credential{}, NewStorageError("credential put", err)
	}
	m.obs.logWarn(ctx, "stored development credential", map[string]any{"user_id": DevelopmentUserID})
	return cred, nil
}

// StoreCredential persists a credential as is.
func (m *TokenManager) StoreCredential(ctx context.Context, cred Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	if m.credentials == nil {
		return NewStorageError("credential put", errors.New("core: credential store is not configured"))
	}
	if err := m.credentials.Put(ctx, cred); err != nil {
		return NewStorageError("credential put", err)
	}
	return nil
}

// GetValidAccessToken returns a token that stays valid for at least the
// expiry buffer, refreshing and persisting a new one when needed.
func (m *TokenManager) GetValidAccessToken(ctx context.Context, userID string) (token string, err error) {
	startedAt := time.Now().UTC()
	refreshed := false
	defer func() {
		m.obs.observe(ctx, startedAt, "get_valid_access_token", err, map[string]any{
			"user_id":   userID,
			"refreshed": refreshed,
		})
	}()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", NewValidationError("userId", "user id is required")
	}
	if m.credentials == nil {
		return "", NewStorageError("credential get", errors.New("core: credential store is not configured"))
	}
	cred, err := m.credentials.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return "", NewNoCredentialError(userID)
		}
		return "", NewStorageError("credential get", err)
	}

	state := ResolveCredentialTokenState(m.now(), cred, m.expiryBuffer)
	if !ShouldRefreshCredential(state) {
		return cred.AccessToken, nil
	}
	if !state.HasRefreshToken {
		return "", NewRefreshFailedError(userID, errors.New("core: credential has no refresh token"))
	}
	if m.authServer == nil {
		return "", NewRefreshFailedError(userID, errors.New("core: authorization server is not configured"))
	}

	token, refreshed, err = m.refreshLocked(ctx, cred)
	return token, err
}

// refreshLocked refreshes under the per user lock. A caller that finds the
// lock held waits one backoff step and reuses the credential the lock
// holder stored.
func (m *TokenManager) refreshLocked(ctx context.Context, cred Credential) (string, bool, error) {
	userID := cred.UserID
	if m.locker != nil {
		handle, lockErr := m.locker.Acquire(ctx, userID, m.lockTTL)
		if lockErr != nil {
			if waitErr := waitWithContext(ctx, m.backoff.NextDelay(1)); waitErr != nil {
				return "", false, NewRefreshFailedError(userID, waitErr)
			}
			current, err := m.credentials.Get(ctx, userID)
			if err == nil && ResolveCredentialTokenState(m.now(), current, m.expiryBuffer).Usable() {
				return current.AccessToken, false, nil
			}
			return "", false, NewRefreshFailedError(userID, lockErr)
		}
		defer func() { _ = handle.Unlock(ctx) }()

		// another caller may have finished a refresh before the lock was taken
		if current, err := m.credentials.Get(ctx, userID); err == nil {
			if ResolveCredentialTokenState(m.now(), current, m.expiryBuffer).Usable() {
				return current.AccessToken, false, nil
			}
			cred = current
		}
	}

	grant, attempts, err := m.refreshWithRetry(ctx, cred)
	if err != nil {
		m.obs.logError(ctx, "token refresh failed", map[string]any{
			"user_id":  userID,
			"attempts": attempts,
			"error":    err.Error(),
		})
		return "", false, NewRefreshFailedError(userID, err)
	}
	if strings.TrimSpace(grant.AccessToken) == "" {
		return "", false, NewRefreshFailedError(userID, errors.New("core: refresh returned no access token"))
	}

	updated := cred
	updated.AccessToken = grant.AccessToken
	if strings.TrimSpace(grant.RefreshToken) != "" {
		updated.RefreshToken = grant.RefreshToken
	}
	updated.TokenType = firstNonEmpty(grant.TokenType, cred.TokenType, DefaultTokenType)
	updated.ExpirationUTC = grant.ExpirationFrom(m.now(), m.issueMargin)
	if err := m.credentials.Put(ctx, updated); err != nil {
		return "", false, NewStorageError("credential put", err)
	}
	return updated.AccessToken, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
