package identity

import (
	"errors"
	"testing"

	"github.com/goliatone/go-smarthome/core"
)

func TestProfileError_ToServiceError(t *testing.T) {
	err := &ProfileError{StatusCode: 400, Code: "invalid_token", Description: "The request has an invalid parameter : access_token"}
	mapped := err.ToServiceError()
	if mapped == nil {
		t.Fatalf("expected mapped error")
	}
	if mapped.TextCode != core.ErrorAuthFailed {
		t.Fatalf("expected %q text code, got %q", core.ErrorAuthFailed, mapped.TextCode)
	}
	if mapped.Code != 401 {
		t.Fatalf("expected status code 401, got %d", mapped.Code)
	}
	if !core.IsAuthError(mapped) {
		t.Fatalf("expected auth error classification")
	}
}

func TestProfileError_PreservesSentinel(t *testing.T) {
	err := &ProfileError{Cause: errors.New("decode failed")}
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected errors.Is(err, ErrProfileNotFound) to be true")
	}
}
