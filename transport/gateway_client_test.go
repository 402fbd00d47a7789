package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goliatone/go-smarthome/alexa"
	"github.com/goliatone/go-smarthome/core"
	"github.com/goliatone/go-smarthome/ratelimit"
)

func TestGatewayClient_SendPostsEnvelope(t *testing.T) {
	var (
		gotAuth        string
		gotContentType string
		gotCache       string
		gotBody        map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotCache = r.Header.Get("Cache-Control")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("X-Amzn-RequestId", "req-1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client, err := NewGatewayClient(GatewayConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	envelope := alexa.NewDeleteReport("user-token", []string{"e1"})
	ack, err := client.Send(context.Background(), "Atza|access", envelope)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ack.StatusCode != http.StatusAccepted || ack.RequestID != "req-1" {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if gotAuth != "Bearer Atza|access" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	if gotContentType != "application/json;charset=UTF-8" || gotCache != "no-cache" {
		t.Fatalf("unexpected headers content-type=%q cache=%q", gotContentType, gotCache)
	}
	event, _ := gotBody["event"].(map[string]any)
	header, _ := event["header"].(map[string]any)
	if header["name"] != alexa.NameDeleteReport {
		t.Fatalf("expected DeleteReport body, got %#v", gotBody)
	}
}

func TestGatewayClient_RejectionIsGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"header":{"namespace":"System","name":"Exception"},"payload":{"code":"INVALID_ACCESS_TOKEN_EXCEPTION","description":"expired"}}`))
	}))
	defer server.Close()

	client, err := NewGatewayClient(GatewayConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ack, err := client.Send(context.Background(), "token", alexa.NewDeleteReport("token", []string{"e1"}))
	if !core.IsGatewayError(err) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if core.HTTPStatus(err) != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", core.HTTPStatus(err))
	}
	if ack.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected remote status kept on ack, got %d", ack.StatusCode)
	}
}

func TestGatewayClient_TransportFailureIsGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewGatewayClient(GatewayConfig{URL: url})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Send(context.Background(), "token", alexa.NewDeleteReport("token", []string{"e1"}))
	if !core.IsGatewayError(err) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestGatewayClient_TimeoutIsTimeoutError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, err := NewGatewayClient(GatewayConfig{URL: server.URL, RequestTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Send(context.Background(), "token", alexa.NewDeleteReport("token", []string{"e1"}))
	if !core.IsTimeoutError(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if core.HTTPStatus(err) != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", core.HTTPStatus(err))
	}
}

func TestNewGatewayClient_RegionURLs(t *testing.T) {
	cases := map[string]string{
		"na": "https://api.amazonalexa.com/v3/events",
		"eu": "https://api.eu.amazonalexa.com/v3/events",
		"fe": "https://api.fe.amazonalexa.com/v3/events",
	}
	for region, want := range cases {
		client, err := NewGatewayClient(GatewayConfigFrom(core.GatewayConfig{Region: region}))
		if err != nil {
			t.Fatalf("region %s: %v", region, err)
		}
		if client.URL() != want {
			t.Fatalf("region %s: expected %s, got %s", region, want, client.URL())
		}
	}
	if _, err := NewGatewayClient(GatewayConfig{Region: "moon"}); err == nil {
		t.Fatalf("expected unknown region error")
	}
}

func TestGatewayClient_RequiresToken(t *testing.T) {
	client, err := NewGatewayClient(GatewayConfig{Region: "eu"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Send(context.Background(), " ", alexa.Envelope{}); !core.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGatewayClient_ThrottleShortCircuitsAfter429(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewGatewayClient(GatewayConfig{
		URL:      server.URL,
		Throttle: ratelimit.NewGatewayThrottle(ratelimit.NewMemoryWindowStore()),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	envelope := alexa.NewDeleteReport("user-token", []string{"e1"})

	if _, err := client.Send(context.Background(), "Atza|access", envelope); err == nil {
		t.Fatalf("expected rejection for 429")
	}
	_, err = client.Send(context.Background(), "Atza|access", envelope)
	if !ratelimit.IsThrottled(err) {
		t.Fatalf("expected local throttle, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected throttled send to skip the gateway, got %d calls", calls)
	}
	if core.HTTPStatus(err) != http.StatusTooManyRequests {
		t.Fatalf("expected 429 status, got %d", core.HTTPStatus(err))
	}
}
