package core

import (
	"strings"
	"time"
)

// CredentialTokenState captures the access token lifecycle state derived
// from a stored credential.
type CredentialTokenState struct {
	ExpiresAt       time.Time
	Remaining       time.Duration
	HasAccessToken  bool
	HasRefreshToken bool
	IsExpired       bool
	IsExpiringSoon  bool
}

// Usable reports whether the stored access token may be handed out as is.
func (s CredentialTokenState) Usable() bool {
	return s.HasAccessToken && !s.IsExpired && !s.IsExpiringSoon
}

// ResolveCredentialTokenState evaluates a credential against now. A token
// is expired when now >= expiration and expiring soon when less than
// expiryBuffer remains. A zero expiration counts as expired.
func ResolveCredentialTokenState(now time.Time, credential Credential, expiryBuffer time.Duration) CredentialTokenState {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	if expiryBuffer < 0 {
		expiryBuffer = 0
	}

	state := CredentialTokenState{
		HasAccessToken:  strings.TrimSpace(credential.AccessToken) != "",
		HasRefreshToken: strings.TrimSpace(credential.RefreshToken) != "",
	}
	if credential.ExpirationUTC.IsZero() {
		state.IsExpired = true
		return state
	}
	state.ExpiresAt = credential.ExpirationUTC.UTC()
	state.Remaining = state.ExpiresAt.Sub(now)
	if !now.Before(state.ExpiresAt) {
		state.IsExpired = true
		return state
	}
	state.IsExpiringSoon = state.Remaining < expiryBuffer
	return state
}

// ShouldRefreshCredential returns true when the access token must be
// refreshed before use.
func ShouldRefreshCredential(state CredentialTokenState) bool {
	return !state.Usable()
}
