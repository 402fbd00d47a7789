package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-smarthome/core"
)

const (
	defaultRequestTimeout   = 10 * time.Second
	maxProfileResponseBytes = 1 << 20 // 1 MiB
)

var ErrProfileNotFound = errors.New("identity: profile not found")

// ProfileError is a rejected or unusable profile lookup. Code and
// Description carry the provider's error/error_description pair when the
// endpoint returned one.
type ProfileError struct {
	StatusCode  int
	Code        string
	Description string
	Cause       error
}

func (e *ProfileError) Error() string {
	if e == nil {
		return ErrProfileNotFound.Error()
	}
	parts := []string{ErrProfileNotFound.Error()}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	if e.Description != "" {
		parts = append(parts, e.Description)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *ProfileError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return ErrProfileNotFound
	}
	return errors.Join(ErrProfileNotFound, e.Cause)
}

// ToServiceError maps the lookup failure to an auth error.
func (e *ProfileError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{}
	if e != nil {
		if e.StatusCode > 0 {
			metadata["status_code"] = e.StatusCode
		}
		if e.Code != "" {
			metadata["error"] = e.Code
		}
	}
	return goerrors.Wrap(e, goerrors.CategoryAuth, "identity: user lookup failed").
		WithCode(http.StatusUnauthorized).
		WithTextCode(core.ErrorAuthFailed).
		WithMetadata(metadata)
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// UserProfile is the subset of the Login with Amazon profile the bridge
// uses. UserID is the stable account identifier endpoints are owned by.
type UserProfile struct {
	UserID     string
	Name       string
	Email      string
	PostalCode string
	Raw        map[string]any
}

type Config struct {
	ProfileURL     string
	HTTPClient     HTTPDoer
	RequestTimeout time.Duration
}

// Resolver resolves bearer tokens against a profile endpoint.
type Resolver struct {
	profileURL     string
	httpClient     HTTPDoer
	requestTimeout time.Duration
}

func NewResolver(cfg Config) *Resolver {
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	profileURL := strings.TrimSpace(cfg.ProfileURL)
	if profileURL == "" {
		profileURL = core.DefaultLWAProfileURL
	}
	return &Resolver{
		profileURL:     profileURL,
		httpClient:     httpClient,
		requestTimeout: requestTimeout,
	}
}

func DefaultResolver() *Resolver {
	return NewResolver(Config{})
}

// ResolveUserID returns the profile user id for token.
func (r *Resolver) ResolveUserID(ctx context.Context, token string) (string, error) {
	profile, err := r.Resolve(ctx, token)
	if err != nil {
		return "", err
	}
	return profile.UserID, nil
}

func (r *Resolver) Resolve(ctx context.Context, token string) (UserProfile, error) {
	if r == nil {
		return UserProfile{}, fmt.Errorf("identity: resolver is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return UserProfile{}, core.NewValidationError("token", "access token is required")
	}

	payload, statusCode, err := r.fetchProfile(ctx, token)
	if err != nil {
		if core.IsTimeoutError(err) {
			return UserProfile{}, core.NewTimeoutError("identity lookup", err)
		}
		return UserProfile{}, (&ProfileError{StatusCode: statusCode, Cause: err}).ToServiceError()
	}
	if code := readString(payload["error"]); code != "" {
		return UserProfile{}, (&ProfileError{
			StatusCode:  statusCode,
			Code:        code,
			Description: readString(payload["error_description"]),
		}).ToServiceError()
	}
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return UserProfile{}, (&ProfileError{
			StatusCode: statusCode,
			Cause:      fmt.Errorf("identity: profile endpoint returned status %d", statusCode),
		}).ToServiceError()
	}

	profile := UserProfile{
		UserID:     readString(payload["user_id"]),
		Name:       readString(payload["name"]),
		Email:      readString(payload["email"]),
		PostalCode: readString(payload["postal_code"]),
		Raw:        payload,
	}
	if profile.UserID == "" {
		return UserProfile{}, (&ProfileError{StatusCode: statusCode}).ToServiceError()
	}
	return profile, nil
}

func (r *Resolver) fetchProfile(ctx context.Context, token string) (map[string]any, int, error) {
	requestCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, r.profileURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := r.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()
	body, readErr := io.ReadAll(io.LimitReader(res.Body, maxProfileResponseBytes+1))
	if readErr != nil {
		return nil, res.StatusCode, fmt.Errorf("identity: read profile response: %w", readErr)
	}
	if int64(len(body)) > maxProfileResponseBytes {
		return nil, res.StatusCode, fmt.Errorf("identity: profile response exceeds %d bytes", maxProfileResponseBytes)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, res.StatusCode, fmt.Errorf("identity: decode profile response: %w", err)
	}
	return payload, res.StatusCode, nil
}

func readString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

var _ core.IdentityResolver = (*Resolver)(nil)
