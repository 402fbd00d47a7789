package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultRefreshMaxAttempts    = 3
	defaultRefreshInitialBackoff = 500 * time.Millisecond
	defaultRefreshMaxBackoff     = 10 * time.Second
	defaultRefreshLockTTL        = 30 * time.Second
)

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// CredentialLocker serializes refreshes of one user's credential. Login
// with Amazon rotates refresh tokens, so two concurrent refreshes would
// leave one caller holding a revoked token.
type CredentialLocker interface {
	Acquire(ctx context.Context, userID string, ttl time.Duration) (LockHandle, error)
}

type RefreshBackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoffScheduler doubles Initial per attempt, capped at Max.
type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	delay, ceiling := s.Initial, s.Max
	if delay <= 0 {
		delay = defaultRefreshInitialBackoff
	}
	if ceiling <= 0 {
		ceiling = defaultRefreshMaxBackoff
	}
	for n := 1; n < attempt && delay < ceiling; n++ {
		delay *= 2
	}
	return min(delay, ceiling)
}

// refreshWithRetry returns the grant and the number of calls it took.
// Rejections of the grant or client end the loop at once.
func (m *TokenManager) refreshWithRetry(ctx context.Context, cred Credential) (TokenGrant, int, error) {
	attempts := max(m.refreshAttempts, 1)
	for attempt := 1; ; attempt++ {
		grant, err := m.authServer.Refresh(ctx, cred.RefreshToken, cred.ClientID, cred.ClientSecret)
		if err == nil {
			return grant, attempt, nil
		}
		if attempt >= attempts || isUnrecoverableRefreshError(err) {
			return TokenGrant{}, attempt, err
		}
		m.obs.logWarn(ctx, "token refresh attempt failed", map[string]any{
			"user_id": cred.UserID,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if err := waitWithContext(ctx, m.backoff.NextDelay(attempt)); err != nil {
			return TokenGrant{}, attempt, err
		}
	}
}

// OAuth error codes after which repeating the same refresh cannot succeed.
var unrecoverableOAuthCodes = []string{
	"invalid_grant",
	"invalid_client",
	"unauthorized_client",
	"unsupported_grant_type",
}

func isUnrecoverableRefreshError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		switch rich.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryValidation, goerrors.CategoryBadInput:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, code := range unrecoverableOAuthCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var errRefreshLockHeld = errors.New("core: refresh lock already held")

// MemoryCredentialLocker is a process local CredentialLocker built on
// expiring leases. Acquire never blocks. Unlocking an expired lease that was
// since taken over leaves the new holder in place.
type MemoryCredentialLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	seq    uint64
	nowFn  func() time.Time
}

type memoryLease struct {
	id      uint64
	expires time.Time
}

func NewMemoryCredentialLocker() *MemoryCredentialLocker {
	return &MemoryCredentialLocker{
		leases: make(map[string]memoryLease),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryCredentialLocker) Acquire(_ context.Context, userID string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: credential locker is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, NewValidationError("userId", "user id is required to lock a credential")
	}
	if ttl <= 0 {
		ttl = defaultRefreshLockTTL
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFn()
	if held, ok := l.leases[userID]; ok && now.Before(held.expires) {
		return nil, errRefreshLockHeld
	}
	l.seq++
	lease := memoryLease{id: l.seq, expires: now.Add(ttl)}
	l.leases[userID] = lease
	return &memoryLockHandle{locker: l, userID: userID, leaseID: lease.id}, nil
}

func (l *MemoryCredentialLocker) release(userID string, leaseID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.leases[userID]; ok && held.id == leaseID {
		delete(l.leases, userID)
	}
}

type memoryLockHandle struct {
	locker  *MemoryCredentialLocker
	userID  string
	leaseID uint64
}

func (h *memoryLockHandle) Unlock(context.Context) error {
	if h != nil && h.locker != nil {
		h.locker.release(h.userID, h.leaseID)
	}
	return nil
}
