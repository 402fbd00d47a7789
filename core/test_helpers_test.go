package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-smarthome/alexa"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubAuthServer struct {
	mu           sync.Mutex
	exchangeErr  error
	refreshErrs  []error
	grant        TokenGrant
	refreshGrant TokenGrant
	exchanges    []string
	refreshes    []string
}

func (s *stubAuthServer) ExchangeCode(_ context.Context, code, _, _ string) (TokenGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges = append(s.exchanges, code)
	if s.exchangeErr != nil {
		return TokenGrant{}, s.exchangeErr
	}
	return s.grant, nil
}

func (s *stubAuthServer) Refresh(_ context.Context, refreshToken, _, _ string) (TokenGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes = append(s.refreshes, refreshToken)
	if len(s.refreshErrs) > 0 {
		err := s.refreshErrs[0]
		s.refreshErrs = s.refreshErrs[1:]
		if err != nil {
			return TokenGrant{}, err
		}
	}
	return s.refreshGrant, nil
}

func (s *stubAuthServer) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.exchanges), len(s.refreshes)
}

type stubIdentity struct {
	users map[string]string
	err   error
}

func (s stubIdentity) ResolveUserID(_ context.Context, token string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	userID, ok := s.users[token]
	if !ok {
		return "", errors.New("invalid_token: The access token is invalid")
	}
	return userID, nil
}

type recordingGateway struct {
	mu        sync.Mutex
	err       error
	envelopes []alexa.Envelope
	tokens    []string
}

func (g *recordingGateway) Send(_ context.Context, token string, envelope alexa.Envelope) (GatewayAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens = append(g.tokens, token)
	g.envelopes = append(g.envelopes, envelope)
	if g.err != nil {
		return GatewayAck{StatusCode: 500}, g.err
	}
	return GatewayAck{StatusCode: 202}, nil
}

func (g *recordingGateway) sent() []alexa.Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]alexa.Envelope(nil), g.envelopes...)
}

func (g *recordingGateway) names() []string {
	out := []string{}
	for _, envelope := range g.sent() {
		out = append(out, envelope.Name())
	}
	return out
}

type testHarness struct {
	svc      *Service
	clock    *testClock
	auth     *stubAuthServer
	gateway  *recordingGateway
	registry *MemoryEndpointRegistry
	creds    *MemoryCredentialStore
	outbox   *MemoryOutboxStore
}

func newTestHarness(t *testing.T, opts ...Option) *testHarness {
	t.Helper()
	h := &testHarness{
		clock: newTestClock(testNow),
		auth: &stubAuthServer{
			grant: TokenGrant{
				AccessToken:  "access-1",
				RefreshToken: "refresh-1",
				TokenType:    "bearer",
				ExpiresIn:    3600,
			},
			refreshGrant: TokenGrant{
				AccessToken:  "access-2",
				RefreshToken: "refresh-2",
				TokenType:    "bearer",
				ExpiresIn:    3600,
			},
		},
		gateway:  &recordingGateway{},
		registry: NewMemoryEndpointRegistry(),
		creds:    NewMemoryCredentialStore(),
		outbox:   NewMemoryOutboxStore(),
	}
	cfg := DefaultConfig()
	cfg.Auth.ClientID = "client-id"
	cfg.Auth.ClientSecret = "client-secret"
	base := []Option{
		WithClock(h.clock.Now),
		WithAuthorizationServer(h.auth),
		WithIdentityResolver(stubIdentity{users: map[string]string{
			"token-u1": "u1",
			"token-u2": "u2",
		}}),
		WithEventGateway(h.gateway),
		WithEndpointRegistry(h.registry),
		WithCredentialStore(h.creds),
		WithOutboxStore(h.outbox),
		WithRefreshBackoffScheduler(ExponentialBackoffScheduler{Initial: time.Millisecond, Max: time.Millisecond}),
	}
	svc, err := NewService(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	return h
}

// seedCredential stores a credential for the user valid for ttl from the
// harness clock.
func (h *testHarness) seedCredential(t *testing.T, userID string, ttl time.Duration) {
	t.Helper()
	err := h.creds.Put(context.Background(), Credential{
		UserID:        userID,
		AccessToken:   "stored-" + userID,
		RefreshToken:  "refresh-" + userID,
		TokenType:     DefaultTokenType,
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		ExpirationUTC: h.clock.Now().Add(ttl),
	})
	if err != nil {
		t.Fatalf("seed credential: %v", err)
	}
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}
