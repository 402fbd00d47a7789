package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/goliatone/go-smarthome/core"
)

func TestOAuth2Client_ExchangeCodeAndRefresh(t *testing.T) {
	var forms []url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		forms = append(forms, r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			_, _ = w.Write([]byte(`{"access_token":"Atza|first","refresh_token":"Atzr|first","token_type":"bearer","expires_in":3600}`))
		case "refresh_token":
			_, _ = w.Write([]byte(`{"access_token":"Atza|second","refresh_token":"Atzr|second","token_type":"bearer","expires_in":"1800"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"unsupported_grant_type"}`))
		}
	}))
	defer server.Close()

	client, err := NewOAuth2Client(OAuth2Config{ID: "LWA", TokenURL: server.URL, ClientSecretInBody: true})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.ID() != "lwa" {
		t.Fatalf("expected normalized id, got %q", client.ID())
	}

	grant, err := client.ExchangeCode(context.Background(), " code-1 ", "client-1", "secret-1")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if grant.AccessToken != "Atza|first" || grant.RefreshToken != "Atzr|first" || grant.ExpiresIn != 3600 {
		t.Fatalf("unexpected grant %+v", grant)
	}
	first := forms[0]
	if first.Get("code") != "code-1" || first.Get("client_id") != "client-1" || first.Get("client_secret") != "secret-1" {
		t.Fatalf("unexpected exchange form %v", first)
	}

	refreshed, err := client.Refresh(context.Background(), "Atzr|first", "client-1", "secret-1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.AccessToken != "Atza|second" || refreshed.ExpiresIn != 1800 {
		t.Fatalf("unexpected refreshed grant %+v", refreshed)
	}
	if forms[1].Get("refresh_token") != "Atzr|first" {
		t.Fatalf("expected refresh token posted, got %v", forms[1])
	}
}

func TestOAuth2Client_BasicAuthWhenSecretNotInBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-1" || pass != "secret-1" {
			t.Fatalf("expected basic auth credentials, got %q %q %t", user, pass, ok)
		}
		_ = r.ParseForm()
		if r.PostForm.Get("client_secret") != "" {
			t.Fatalf("client secret must not be posted in the body")
		}
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		_, _ = w.Write([]byte("access_token=form-token&expires_in=60"))
	}))
	defer server.Close()

	client, err := NewOAuth2Client(OAuth2Config{ID: "basic", TokenURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	grant, err := client.ExchangeCode(context.Background(), "code", "client-1", "secret-1")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if grant.AccessToken != "form-token" || grant.TokenType != "bearer" || grant.ExpiresIn != 60 {
		t.Fatalf("unexpected grant %+v", grant)
	}
}

func TestOAuth2Client_ErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		checkFn func(error) bool
	}{
		{
			name:    "rejected grant is an auth error",
			status:  http.StatusBadRequest,
			body:    `{"error":"invalid_grant","error_description":"The request has an invalid grant parameter : code"}`,
			checkFn: core.IsAuthError,
		},
		{
			name:    "error body with 200 is an auth error",
			status:  http.StatusOK,
			body:    `{"error":"invalid_client"}`,
			checkFn: core.IsAuthError,
		},
		{
			name:   "server failure is retryable",
			status: http.StatusServiceUnavailable,
			body:   `upstream down`,
			checkFn: func(err error) bool {
				return err != nil && !core.IsAuthError(err)
			},
		},
		{
			name:    "missing access token",
			status:  http.StatusOK,
			body:    `{"token_type":"bearer"}`,
			checkFn: core.IsAuthError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client, err := NewOAuth2Client(OAuth2Config{ID: "lwa", TokenURL: server.URL, ClientSecretInBody: true})
			if err != nil {
				t.Fatalf("new client: %v", err)
			}
			_, err = client.ExchangeCode(context.Background(), "code", "id", "secret")
			if err == nil || !tc.checkFn(err) {
				t.Fatalf("unexpected error classification: %v", err)
			}
		})
	}
}

func TestOAuth2Client_TimeoutMapsToTimeoutError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, err := NewOAuth2Client(OAuth2Config{
		ID:             "lwa",
		TokenURL:       server.URL,
		RequestTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Refresh(context.Background(), "refresh", "id", "secret")
	if !core.IsTimeoutError(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if got := core.HTTPStatus(err); got != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", got)
	}
}

func TestOAuth2Client_InputValidation(t *testing.T) {
	client, err := NewOAuth2Client(OAuth2Config{ID: "lwa", TokenURL: "https://example.com/token"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.ExchangeCode(context.Background(), " ", "id", "secret"); !core.IsValidationError(err) {
		t.Fatalf("expected validation error for empty code, got %v", err)
	}
	if _, err := client.Refresh(context.Background(), "", "id", "secret"); !core.IsAuthError(err) {
		t.Fatalf("expected auth error for empty refresh token, got %v", err)
	}
	if _, err := client.ExchangeCode(context.Background(), "code", "", ""); core.HTTPStatus(err) != http.StatusForbidden {
		t.Fatalf("expected missing client credentials to map to 403, got %v", err)
	}
}

func TestNewOAuth2Client_RequiresIDAndTokenURL(t *testing.T) {
	if _, err := NewOAuth2Client(OAuth2Config{}); err == nil {
		t.Fatalf("expected missing id error")
	}
	if _, err := NewOAuth2Client(OAuth2Config{ID: "lwa"}); err == nil {
		t.Fatalf("expected missing token url error")
	}
	if _, err := NewOAuth2Client(OAuth2Config{ID: "lwa", TokenURL: "not a url"}); err == nil {
		t.Fatalf("expected invalid token url error")
	}
}
