package core

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestErrorKinds_StatusAndTextCodes(t *testing.T) {
	cause := stderrors.New("boom")
	cases := []struct {
		name     string
		err      error
		status   int
		textCode string
		check    func(error) bool
	}{
		{"validation", NewValidationError("userId", "userId is required"), http.StatusBadRequest, ErrorBadInput, IsValidationError},
		{"wrapped validation", WrapValidationError(cause, "bad json"), http.StatusBadRequest, ErrorBadInput, IsValidationError},
		{"no credential", NewNoCredentialError("u1"), http.StatusUnauthorized, ErrorNoCredential, IsNoCredential},
		{"refresh failed", NewRefreshFailedError("u1", cause), http.StatusUnauthorized, ErrorRefreshFailed, IsRefreshFailed},
		{"auth", NewAuthError("lookup failed", cause), http.StatusUnauthorized, ErrorAuthFailed, IsAuthError},
		{"client credentials", NewClientCredentialsError(), http.StatusForbidden, ErrorClientCredentialsMissing, IsClientCredentialsMissing},
		{"storage", NewStorageError("endpoint upsert", cause), http.StatusInternalServerError, ErrorStorage, IsStorageError},
		{"gateway", NewGatewayError("", 503, cause), http.StatusBadGateway, ErrorGateway, IsGatewayError},
		{"unsupported", NewUnsupportedOperationError("update"), http.StatusNotImplemented, ErrorUnsupportedOperation, IsUnsupportedOperation},
		{"timeout", NewTimeoutError("event gateway", context.DeadlineExceeded), http.StatusGatewayTimeout, ErrorTimeout, IsTimeoutError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatus(tc.err); got != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, got)
			}
			mapped := MapError(tc.err)
			if mapped.TextCode != tc.textCode {
				t.Fatalf("expected text code %s, got %s", tc.textCode, mapped.TextCode)
			}
			if !tc.check(tc.err) {
				t.Fatalf("expected predicate to match")
			}
		})
	}
}

func TestErrorKinds_TimeoutCausesAreReclassified(t *testing.T) {
	err := NewAuthError("token exchange", context.DeadlineExceeded)
	if !IsTimeoutError(err) {
		t.Fatalf("expected auth timeout to become timeout error, got %v", err)
	}
	err = NewGatewayError("", 0, fmt.Errorf("send: %w", context.DeadlineExceeded))
	if !IsTimeoutError(err) || IsGatewayError(err) {
		t.Fatalf("expected gateway timeout to become timeout error, got %v", err)
	}
}

func TestErrorKinds_StorageDoesNotDoubleWrap(t *testing.T) {
	inner := NewStorageError("credential put", stderrors.New("disk full"))
	outer := NewStorageError("endpoint upsert", inner)
	if outer != inner {
		t.Fatalf("expected storage error returned as is")
	}
}

func TestServiceErrorMapper_PlainErrors(t *testing.T) {
	cases := []struct {
		err      error
		textCode string
		status   int
	}{
		{ErrCredentialNotFound, ErrorNoCredential, http.StatusUnauthorized},
		{fmt.Errorf("load: %w", ErrEndpointNotFound), ErrorNotFound, http.StatusNotFound},
		{stderrors.New("core: user id is required"), ErrorBadInput, http.StatusBadRequest},
		{stderrors.New("request throttled"), ErrorRateLimited, http.StatusTooManyRequests},
		{stderrors.New("operation not supported"), ErrorUnsupportedOperation, http.StatusNotImplemented},
		{context.DeadlineExceeded, ErrorTimeout, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		mapped := serviceErrorMapper(tc.err)
		if mapped.TextCode != tc.textCode {
			t.Fatalf("%v: expected %s, got %s", tc.err, tc.textCode, mapped.TextCode)
		}
		if mapped.Code != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, mapped.Code)
		}
	}
}

func TestServiceErrorMapper_KeepsRichErrors(t *testing.T) {
	original := goerrors.New("custom", goerrors.CategoryConflict)
	mapped := serviceErrorMapper(original)
	if mapped.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", mapped.Code)
	}
	if mapped.TextCode != ErrorInternal {
		t.Fatalf("expected default text code, got %q", mapped.TextCode)
	}
	if HTTPStatus(nil) != http.StatusOK {
		t.Fatalf("expected 200 for nil error")
	}
}

func TestNewService_MapsConfigErrors(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"storage": map[string]any{"driver": "floppy"},
	}})
	_, err := NewService(Config{}, WithConfigProvider(provider))
	if err == nil {
		t.Fatalf("expected invalid driver to fail")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ErrorBadInput {
		t.Fatalf("expected bad input text code, got %q", richErr.TextCode)
	}
}
