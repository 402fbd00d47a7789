package amazon

import (
	"net/http"
	"testing"
	"time"
)

func TestNormalizeGatewayResponse_ReadsRequestIDAndErrorPayload(t *testing.T) {
	headers := http.Header{}
	headers.Set("X-Amzn-RequestId", "request_1")
	meta := NormalizeGatewayResponse(http.StatusUnauthorized, headers, []byte(
		`{"header":{"namespace":"System","name":"Exception"},"payload":{"code":"INVALID_ACCESS_TOKEN_EXCEPTION","description":"Access token is not valid."}}`,
	))
	if meta.RequestID != "request_1" {
		t.Fatalf("expected request id, got %q", meta.RequestID)
	}
	if meta.ErrorCode != "INVALID_ACCESS_TOKEN_EXCEPTION" || meta.ErrorMessage != "Access token is not valid." {
		t.Fatalf("unexpected error payload %+v", meta)
	}
	if meta.RetryAfter != nil {
		t.Fatalf("expected no retry hint for auth failures")
	}
}

func TestNormalizeGatewayResponse_RetryHints(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "3")
	meta := NormalizeGatewayResponse(http.StatusTooManyRequests, headers, nil)
	if meta.RetryAfter == nil || *meta.RetryAfter != 3*time.Second {
		t.Fatalf("expected retry-after 3s, got %#v", meta.RetryAfter)
	}

	fallback := NormalizeGatewayResponse(http.StatusServiceUnavailable, http.Header{}, []byte(`{"message":"QuotaExceeded"}`))
	if fallback.RetryAfter == nil || *fallback.RetryAfter != defaultRetryAfterThrottle {
		t.Fatalf("expected default retry-after %s, got %#v", defaultRetryAfterThrottle, fallback.RetryAfter)
	}
	if fallback.ErrorCode != "QUOTA_EXCEEDED" {
		t.Fatalf("expected quota classification, got %q", fallback.ErrorCode)
	}

	ok := NormalizeGatewayResponse(http.StatusAccepted, http.Header{}, []byte(`not json`))
	if ok.ErrorCode != "" || ok.Throttled() {
		t.Fatalf("expected clean meta for accepted response, got %+v", ok)
	}
}
