package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-smarthome/alexa"
	"github.com/goliatone/go-smarthome/core"
)

func TestGatewayClient_OversizedReplyIsGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(strings.Repeat("x", 32)))
	}))
	defer server.Close()

	client, err := NewGatewayClient(GatewayConfig{URL: server.URL, MaxReplyBytes: 16})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Send(context.Background(), "Atza|access", alexa.NewDeleteReport("token", []string{"e1"}))

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.ErrorGateway || rich.Code != http.StatusBadGateway {
		t.Fatalf("expected gateway error, got %s/%d", rich.TextCode, rich.Code)
	}
	if rich.Metadata["status_code"] != http.StatusAccepted {
		t.Fatalf("expected remote status in metadata, got %#v", rich.Metadata)
	}
}

func TestGatewayClient_UnconfiguredIsGatewayError(t *testing.T) {
	var client *GatewayClient
	if _, err := client.Send(context.Background(), "token", alexa.Envelope{}); !core.IsGatewayError(err) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}
