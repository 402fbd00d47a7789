package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-smarthome/alexa"
	"github.com/goliatone/go-smarthome/core"
)

func TestDispatcher_MissingClientCredentialsIsForbidden(t *testing.T) {
	svc := &stubService{credentialsErr: core.NewClientCredentialsError()}
	d := NewDispatcher(svc, nil, nil)

	for _, req := range []Request{
		{Method: http.MethodPost, Path: PathDirectives, Body: []byte(`{}`)},
		{Method: http.MethodGet, Path: PathEndpoints},
		{Method: http.MethodGet, Path: "/unknown"},
	} {
		resp := d.Dispatch(context.Background(), req)
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", req.Method, req.Path, resp.StatusCode)
		}
		body := decodeErrorBody(t, resp)
		if body.Result != "ERR" || body.Message != "Environment variable is not set: client_id / client_secret" {
			t.Fatalf("unexpected forbidden body %#v", body)
		}
	}
	if svc.calls != 0 {
		t.Fatalf("expected no service calls behind the guard, got %d", svc.calls)
	}
}

func TestDispatcher_RoutesAndStatuses(t *testing.T) {
	svc := &stubService{
		directive: alexa.NewAcceptGrantResponse(),
		created:   core.EndpointDescriptor{EndpointID: "SAMPLE_ENDPOINT_ABCD1234", UserID: "u1"},
		deleted:   core.DeleteResult{Wildcard: true, Deleted: []string{"e1"}, Message: "Deleted all endpoints"},
		listed:    []core.EndpointDescriptor{{EndpointID: "e1"}, {EndpointID: "e2"}},
		ack:       core.GatewayAck{StatusCode: http.StatusAccepted, RequestID: "req-1"},
	}
	d := NewDispatcher(svc, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		req    Request
		status int
	}{
		{name: "directive", req: Request{Method: "post", Path: "/directives", Body: []byte(`{}`)}, status: http.StatusOK},
		{name: "change report", req: Request{Method: http.MethodPost, Path: "/events", Body: []byte(`{}`)}, status: http.StatusOK},
		{name: "create", req: Request{Method: http.MethodPost, Path: "/endpoints/", Body: []byte(`{"userId":"u1"}`)}, status: http.StatusCreated},
		{name: "read", req: Request{Method: http.MethodGet, Path: "/endpoints"}, status: http.StatusOK},
		{name: "delete", req: Request{Method: http.MethodDelete, Path: "/endpoints", Body: []byte(`["*"]`)}, status: http.StatusOK},
		{name: "update", req: Request{Method: http.MethodPut, Path: "/endpoints"}, status: http.StatusNotImplemented},
		{name: "update states", req: Request{Method: http.MethodPut, Path: "/endpoints/states"}, status: http.StatusNotImplemented},
		{name: "unknown path", req: Request{Method: http.MethodGet, Path: "/nope"}, status: http.StatusInternalServerError},
		{name: "unknown method", req: Request{Method: http.MethodPatch, Path: "/endpoints"}, status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := d.Dispatch(ctx, tt.req)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d (%s)", tt.status, resp.StatusCode, resp.Body)
			}
			if resp.Headers["Content-Type"] != "application/json" {
				t.Fatalf("expected json content type, got %#v", resp.Headers)
			}
		})
	}

	resp := d.Dispatch(ctx, Request{Method: http.MethodGet, Path: "/nope"})
	if body := decodeErrorBody(t, resp); body.Message != "No known path in request" {
		t.Fatalf("unexpected unknown path message %q", body.Message)
	}

	resp = d.Dispatch(ctx, Request{Method: http.MethodDelete, Path: "/endpoints", Body: []byte(`["*"]`)})
	var deleted map[string]any
	if err := json.Unmarshal(resp.Body, &deleted); err != nil {
		t.Fatalf("decode delete body: %v", err)
	}
	if deleted["message"] != "Deleted all endpoints" {
		t.Fatalf("unexpected delete body %s", resp.Body)
	}

	resp = d.Dispatch(ctx, Request{Method: http.MethodPost, Path: "/events", Body: []byte(`{}`)})
	if resp.Headers["X-Amzn-RequestId"] != "req-1" {
		t.Fatalf("expected gateway request id header, got %#v", resp.Headers)
	}
}

func TestDispatcher_DirectiveErrorEnvelopeIs500(t *testing.T) {
	svc := &stubService{directive: alexa.NewInternalError("Empty Body")}
	resp := NewDispatcher(svc, nil, nil).Dispatch(context.Background(), Request{Method: http.MethodPost, Path: PathDirectives})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	var envelope alexa.Envelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.ErrorType() != alexa.ErrorTypeInternal {
		t.Fatalf("expected INTERNAL_ERROR envelope, got %q", envelope.ErrorType())
	}
}

func TestDispatcher_ErrorKindsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "validation", err: core.NewValidationError("userId", "userId is required"), status: http.StatusBadRequest},
		{name: "no credential", err: core.NewNoCredentialError("u1"), status: http.StatusUnauthorized},
		{name: "gateway", err: core.NewGatewayError("gateway rejected event", 400, nil), status: http.StatusBadGateway},
		{name: "timeout", err: core.NewTimeoutError("gateway send", context.DeadlineExceeded), status: http.StatusGatewayTimeout},
		{name: "storage", err: core.NewStorageError("endpoint put", errors.New("disk full")), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{createErr: tt.err, changeErr: tt.err}
			d := NewDispatcher(svc, nil, nil)
			resp := d.Dispatch(context.Background(), Request{Method: http.MethodPost, Path: PathEndpoints, Body: []byte(`{}`)})
			if resp.StatusCode != tt.status {
				t.Fatalf("create: expected %d, got %d", tt.status, resp.StatusCode)
			}
			body := decodeErrorBody(t, resp)
			if body.Code != tt.status || body.TextCode == "" {
				t.Fatalf("unexpected error body %#v", body)
			}
			resp = d.Dispatch(context.Background(), Request{Method: http.MethodPost, Path: PathEvents, Body: []byte(`{}`)})
			if resp.StatusCode != tt.status {
				t.Fatalf("events: expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestDispatcher_IdempotencyKeyReplaysCompletedMutation(t *testing.T) {
	store := NewInMemoryClaimStore()
	store.Now = func() time.Time {
		return time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	}
	svc := &stubService{created: core.EndpointDescriptor{EndpointID: "e1", UserID: "u1"}}
	d := NewDispatcher(svc, store, nil)
	req := Request{
		Method:  http.MethodPost,
		Path:    PathEndpoints,
		Headers: map[string]string{"Idempotency-Key": "create-1"},
		Body:    []byte(`{"userId":"u1"}`),
	}

	first := d.Dispatch(context.Background(), req)
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.StatusCode)
	}
	second := d.Dispatch(context.Background(), req)
	if second.StatusCode != http.StatusCreated || second.Headers["Idempotent-Replayed"] != "true" {
		t.Fatalf("expected replayed 201, got %d %#v", second.StatusCode, second.Headers)
	}
	if string(second.Body) != string(first.Body) {
		t.Fatalf("expected the stored body replayed, got %s want %s", second.Body, first.Body)
	}
	if _, ok := first.Headers["Idempotent-Replayed"]; ok {
		t.Fatalf("replay header must not leak into the stored response")
	}
	if svc.creates != 1 {
		t.Fatalf("expected a single create, got %d", svc.creates)
	}

	// reads are never claimed
	for i := 0; i < 2; i++ {
		d.Dispatch(context.Background(), Request{
			Method:  http.MethodGet,
			Path:    PathEndpoints,
			Headers: map[string]string{"Idempotency-Key": "create-1"},
		})
	}
	if svc.reads != 2 {
		t.Fatalf("expected reads to bypass idempotency, got %d", svc.reads)
	}
}

func TestDispatcher_IdempotentCreateReturnsGeneratedEndpoint(t *testing.T) {
	svc, _ := newTestService(t, true)
	d := NewDispatcher(svc, NewInMemoryClaimStore(), nil)
	req := Request{
		Method:  http.MethodPost,
		Path:    PathEndpoints,
		Headers: map[string]string{"Idempotency-Key": "k"},
		Body:    []byte(`{"userId":"u1"}`),
	}

	first := d.Dispatch(context.Background(), req)
	second := d.Dispatch(context.Background(), req)
	if first.StatusCode != http.StatusCreated || second.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d then %d (%s)", first.StatusCode, second.StatusCode, second.Body)
	}
	var a, b core.EndpointDescriptor
	if err := json.Unmarshal(first.Body, &a); err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if err := json.Unmarshal(second.Body, &b); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if a.EndpointID == "" || a.EndpointID != b.EndpointID {
		t.Fatalf("expected replay to carry endpoint %q, got %q", a.EndpointID, b.EndpointID)
	}
	endpoints, err := svc.ReadEndpoints(context.Background(), PathEndpoints)
	if err != nil || len(endpoints) != 1 {
		t.Fatalf("expected a single stored endpoint, got %d (%v)", len(endpoints), err)
	}
}

func TestDispatcher_IdempotencyFailedMutationIsRetryable(t *testing.T) {
	store := NewInMemoryClaimStore()
	svc := &stubService{createErr: core.NewStorageError("endpoint put", errors.New("unavailable"))}
	d := NewDispatcher(svc, store, nil)
	req := Request{
		Method:  http.MethodPost,
		Path:    PathEndpoints,
		Headers: map[string]string{"idempotency-key": "create-2"},
		Body:    []byte(`{"userId":"u1"}`),
	}

	if resp := d.Dispatch(context.Background(), req); resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 on storage failure, got %d", resp.StatusCode)
	}
	svc.createErr = nil
	svc.created = core.EndpointDescriptor{EndpointID: "e2", UserID: "u1"}
	if resp := d.Dispatch(context.Background(), req); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected retry to run the mutation, got %d", resp.StatusCode)
	}
	if svc.creates != 2 {
		t.Fatalf("expected two create attempts, got %d", svc.creates)
	}
	if got := store.Attempts("POST:/endpoints:create-2"); got != 2 {
		t.Fatalf("expected two claims, got %d", got)
	}
}

func TestInMemoryClaimStore_LeaseAndExpiry(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	store := NewInMemoryClaimStore()
	store.Now = func() time.Time { return now }
	ctx := context.Background()

	claimID, accepted, err := store.Claim(ctx, "k1", time.Minute)
	if err != nil || !accepted {
		t.Fatalf("expected first claim accepted, got %t %v", accepted, err)
	}
	if _, accepted, _ := store.Claim(ctx, "k1", time.Minute); accepted {
		t.Fatalf("expected in-flight claim rejected")
	}
	if err := store.Complete(ctx, claimID, Response{StatusCode: http.StatusCreated}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, accepted, _ := store.Claim(ctx, "k1", time.Minute); accepted {
		t.Fatalf("expected completed key rejected within ttl")
	}
	if resp, found, err := store.Replay(ctx, "k1"); err != nil || !found || resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected stored 201 replayed, got %d %t %v", resp.StatusCode, found, err)
	}
	now = now.Add(2 * time.Minute)
	if _, found, _ := store.Replay(ctx, "k1"); found {
		t.Fatalf("expected no replay after ttl")
	}
	if _, accepted, _ := store.Claim(ctx, "k1", time.Minute); !accepted {
		t.Fatalf("expected key claimable after ttl")
	}
	if _, _, err := store.Claim(ctx, " ", time.Minute); err == nil {
		t.Fatalf("expected blank key rejected")
	}
	if err := store.Complete(ctx, "unknown", Response{}); err != nil {
		t.Fatalf("expected unknown claim ignored, got %v", err)
	}
}

type stubService struct {
	credentialsErr error
	directive      alexa.Envelope
	ack            core.GatewayAck
	changeErr      error
	created        core.EndpointDescriptor
	createErr      error
	deleted        core.DeleteResult
	listed         []core.EndpointDescriptor

	calls   int
	creates int
	reads   int
}

func (s *stubService) CheckClientCredentials() error { return s.credentialsErr }

func (s *stubService) RouteDirective(context.Context, []byte) alexa.Envelope {
	s.calls++
	return s.directive
}

func (s *stubService) ReportChange(context.Context, []byte) (core.GatewayAck, error) {
	s.calls++
	return s.ack, s.changeErr
}

func (s *stubService) CreateEndpoint(context.Context, []byte) (core.EndpointDescriptor, error) {
	s.calls++
	s.creates++
	return s.created, s.createErr
}

func (s *stubService) DeleteEndpoints(context.Context, []byte) (core.DeleteResult, error) {
	s.calls++
	return s.deleted, nil
}

func (s *stubService) UpdateEndpoint(context.Context, []byte) error {
	s.calls++
	return core.NewUnsupportedOperationError("update")
}

func (s *stubService) UpdateEndpointStates(context.Context, []byte) error {
	s.calls++
	return core.NewUnsupportedOperationError("update_states")
}

func (s *stubService) ReadEndpoints(context.Context, string) ([]core.EndpointDescriptor, error) {
	s.calls++
	s.reads++
	return s.listed, nil
}

func decodeErrorBody(t *testing.T, resp Response) ErrorBody {
	t.Helper()
	var body ErrorBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("decode error body %s: %v", resp.Body, err)
	}
	return body
}
