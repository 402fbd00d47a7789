package inbound

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-smarthome/core"
)

func TestRequestErrorEnvelopes(t *testing.T) {
	cause := errors.New("disk full")
	cases := map[string]struct {
		err      error
		status   int
		textCode string
		cause    bool
	}{
		"bad request":   {err: badRequest("inbound: body is not valid base64", nil), status: http.StatusBadRequest, textCode: core.ErrorBadInput},
		"internal":      {err: internalFailure("inbound: claim failed", cause, nil), status: http.StatusInternalServerError, textCode: core.ErrorInternal, cause: true},
		"unknown route": {err: unknownRouteError(http.MethodPatch, "/nowhere"), status: http.StatusInternalServerError, textCode: core.ErrorInternal},
	}
	for name, tc := range cases {
		var rich *goerrors.Error
		if !goerrors.As(tc.err, &rich) {
			t.Fatalf("%s: expected go-errors envelope, got %T", name, tc.err)
		}
		if rich.Code != tc.status || rich.TextCode != tc.textCode {
			t.Fatalf("%s: expected %d/%s, got %d/%s", name, tc.status, tc.textCode, rich.Code, rich.TextCode)
		}
		if errors.Is(tc.err, cause) != tc.cause {
			t.Fatalf("%s: unexpected cause chain for %v", name, tc.err)
		}
	}
}

func TestUnknownRouteResponseBody(t *testing.T) {
	resp := errorResponse(unknownRouteError(http.MethodGet, "/nowhere"))
	body := decodeErrorBody(t, resp)
	if resp.StatusCode != http.StatusInternalServerError || body.Message != "No known path in request" {
		t.Fatalf("unexpected response %d %#v", resp.StatusCode, body)
	}
}

func TestInMemoryClaimStore_BlankKeyIsBadInput(t *testing.T) {
	_, _, err := NewInMemoryClaimStore().Claim(context.Background(), " ", time.Minute)
	if !core.IsValidationError(err) || core.HTTPStatus(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 bad input, got %v", err)
	}
}

func TestDispatcher_NilServiceRendersInternalError(t *testing.T) {
	var d *Dispatcher
	resp := d.Dispatch(context.Background(), Request{Method: http.MethodGet, Path: PathEndpoints})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	body := decodeErrorBody(t, resp)
	if body.TextCode != core.ErrorInternal || body.Result != "ERR" {
		t.Fatalf("unexpected body %#v", body)
	}
}
