package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-smarthome/core"
)

const (
	defaultTokenRequestTimeout = 10 * time.Second
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB

	ErrorTokenEndpoint = "SMARTHOME_TOKEN_ENDPOINT_ERROR"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type OAuth2Config struct {
	ID       string
	TokenURL string
	// ClientSecretInBody posts the client credentials as form fields instead
	// of HTTP basic auth.
	ClientSecretInBody bool
	RequestTimeout     time.Duration
	HTTPClient         HTTPDoer
}

// OAuth2Client talks to an OAuth2 token endpoint on behalf of the token
// manager. Client credentials are passed per call because each stored
// credential remembers the pair it was issued with.
type OAuth2Client struct {
	cfg        OAuth2Config
	httpClient HTTPDoer
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
}

func NewOAuth2Client(cfg OAuth2Config) (*OAuth2Client, error) {
	cfg.ID = strings.TrimSpace(strings.ToLower(cfg.ID))
	if cfg.ID == "" {
		return nil, fmt.Errorf("providers: provider id is required")
	}
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("providers: token url is required for provider %q", cfg.ID)
	}
	if _, err := url.ParseRequestURI(cfg.TokenURL); err != nil {
		return nil, fmt.Errorf("providers: invalid token url for provider %q: %w", cfg.ID, err)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTokenRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &OAuth2Client{cfg: cfg, httpClient: httpClient}, nil
}

func (c *OAuth2Client) ID() string {
	if c == nil {
		return ""
	}
	return c.cfg.ID
}

func (c *OAuth2Client) TokenURL() string {
	if c == nil {
		return ""
	}
	return c.cfg.TokenURL
}

// ExchangeCode performs the authorization_code grant.
func (c *OAuth2Client) ExchangeCode(ctx context.Context, code, clientID, clientSecret string) (core.TokenGrant, error) {
	if c == nil {
		return core.TokenGrant{}, fmt.Errorf("providers: oauth2 client is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenGrant{}, core.NewValidationError("code", "authorization code is required")
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	return c.fetchToken(ctx, form, clientID, clientSecret)
}

// Refresh performs the refresh_token grant. Token endpoint rejections are
// auth errors so callers stop retrying; transport failures are not.
func (c *OAuth2Client) Refresh(ctx context.Context, refreshToken, clientID, clientSecret string) (core.TokenGrant, error) {
	if c == nil {
		return core.TokenGrant{}, fmt.Errorf("providers: oauth2 client is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenGrant{}, core.NewAuthError("providers: refresh token is required", nil)
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.fetchToken(ctx, form, clientID, clientSecret)
}

func (c *OAuth2Client) fetchToken(ctx context.Context, form url.Values, clientID, clientSecret string) (core.TokenGrant, error) {
	if c.httpClient == nil {
		return core.TokenGrant{}, fmt.Errorf("providers: oauth2 http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	clientID = strings.TrimSpace(clientID)
	clientSecret = strings.TrimSpace(clientSecret)
	if clientID == "" || clientSecret == "" {
		return core.TokenGrant{}, core.NewClientCredentialsError()
	}

	if c.cfg.ClientSecretInBody {
		form.Set("client_id", clientID)
		form.Set("client_secret", clientSecret)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		c.cfg.TokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return core.TokenGrant{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	httpReq.Header.Set("Accept", "application/json")
	if !c.cfg.ClientSecretInBody {
		httpReq.SetBasicAuth(clientID, clientSecret)
	}

	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || core.IsTimeoutError(err) {
			return core.TokenGrant{}, core.NewTimeoutError("token request", err)
		}
		return core.TokenGrant{}, unavailableError(0, fmt.Errorf("providers: token request failed: %w", err))
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return core.TokenGrant{}, unavailableError(response.StatusCode, fmt.Errorf("providers: read token response: %w", readErr))
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return core.TokenGrant{}, unavailableError(response.StatusCode, fmt.Errorf("providers: token response exceeds %d bytes", maxTokenResponseBodyBytes))
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if response.StatusCode >= http.StatusInternalServerError {
		return core.TokenGrant{}, unavailableError(response.StatusCode, fmt.Errorf(
			"providers: token endpoint error (%d): %s", response.StatusCode, describeTokenError(payload),
		))
	}
	if parseErr != nil {
		return core.TokenGrant{}, unavailableError(response.StatusCode, fmt.Errorf("providers: decode token response: %w", parseErr))
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices || payload.ErrorCode != "" {
		return core.TokenGrant{}, rejectedError(response.StatusCode, payload)
	}
	if payload.AccessToken == "" {
		return core.TokenGrant{}, core.NewAuthError("providers: token endpoint response missing access token", nil)
	}
	return core.TokenGrant{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenType:    normalizeTokenType(payload.TokenType),
		ExpiresIn:    payload.ExpiresIn,
	}, nil
}

func rejectedError(statusCode int, payload tokenEndpointPayload) error {
	err := core.NewAuthError(fmt.Sprintf("providers: token endpoint rejected request: %s", describeTokenError(payload)), nil)
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		metadata := map[string]any{"status_code": statusCode}
		if payload.ErrorCode != "" {
			metadata["error"] = payload.ErrorCode
		}
		return rich.WithMetadata(metadata)
	}
	return err
}

func unavailableError(statusCode int, cause error) error {
	err := goerrors.Wrap(cause, goerrors.CategoryExternal, "providers: token endpoint unavailable").
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorTokenEndpoint)
	if statusCode > 0 {
		err = err.WithMetadata(map[string]any{"status_code": statusCode})
	}
	return err
}

func describeTokenError(payload tokenEndpointPayload) string {
	if payload.ErrorDescription != "" {
		if payload.ErrorCode != "" {
			return payload.ErrorCode + ": " + payload.ErrorDescription
		}
		return payload.ErrorDescription
	}
	if payload.ErrorCode != "" {
		return payload.ErrorCode
	}
	return "unknown error"
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func normalizeTokenType(value string) string {
	normalized := strings.TrimSpace(value)
	if normalized == "" || strings.EqualFold(normalized, "bearer") {
		return "bearer"
	}
	return normalized
}

func readAnyString(value any) string {
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

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			return parsed
		}
		if parsed, err := typed.Float64(); err == nil {
			return int64(parsed)
		}
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

var _ core.AuthorizationServer = (*OAuth2Client)(nil)
