package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-smarthome/core"
)

func TestResolver_ResolveUserID(t *testing.T) {
	var authorizationHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorizationHeader = strings.TrimSpace(r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id":     "amzn1.account.AAA",
			"name":        "Sensor Owner",
			"email":       "owner@example.com",
			"postal_code": "10115",
		})
	}))
	defer server.Close()

	resolver := NewResolver(Config{ProfileURL: server.URL})
	profile, err := resolver.Resolve(context.Background(), "Atza|token")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if authorizationHeader != "Bearer Atza|token" {
		t.Fatalf("expected bearer header, got %q", authorizationHeader)
	}
	if profile.UserID != "amzn1.account.AAA" || profile.Email != "owner@example.com" || profile.PostalCode != "10115" {
		t.Fatalf("unexpected profile %+v", profile)
	}

	userID, err := resolver.ResolveUserID(context.Background(), "Atza|token")
	if err != nil || userID != "amzn1.account.AAA" {
		t.Fatalf("expected user id, got %q %v", userID, err)
	}
}

func TestResolver_ErrorPayloadIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_token","error_description":"The request has an invalid parameter : access_token"}`))
	}))
	defer server.Close()

	resolver := NewResolver(Config{ProfileURL: server.URL})
	_, err := resolver.ResolveUserID(context.Background(), "bad")
	if !core.IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid parameter") {
		t.Fatalf("expected error description in message, got %v", err)
	}
}

func TestResolver_RejectsUnusableResponses(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"missing user id": {status: http.StatusOK, body: `{"name":"x"}`},
		"not json":        {status: http.StatusOK, body: `<html></html>`},
		"server error":    {status: http.StatusInternalServerError, body: `{}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := NewResolver(Config{ProfileURL: server.URL}).ResolveUserID(context.Background(), "token")
			if !core.IsAuthError(err) {
				t.Fatalf("expected auth error, got %v", err)
			}
		})
	}
}

func TestResolver_EmptyTokenIsValidationError(t *testing.T) {
	_, err := DefaultResolver().ResolveUserID(context.Background(), "  ")
	if !core.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolver_TimeoutMapsToTimeoutError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	resolver := NewResolver(Config{ProfileURL: server.URL, RequestTimeout: 20 * time.Millisecond})
	_, err := resolver.ResolveUserID(context.Background(), "token")
	if !core.IsTimeoutError(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
