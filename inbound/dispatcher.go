package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-smarthome/alexa"
	"github.com/goliatone/go-smarthome/core"
)

const (
	PathDirectives     = "/directives"
	PathEvents         = "/events"
	PathEndpoints      = core.EndpointsResource
	PathEndpointStates = core.EndpointsResource + "/states"

	defaultKeyTTL = 10 * time.Minute
)

// Service is the slice of core.Service the inbound routes call.
type Service interface {
	CheckClientCredentials() error
	RouteDirective(ctx context.Context, body []byte) alexa.Envelope
	ReportChange(ctx context.Context, raw []byte) (core.GatewayAck, error)
	CreateEndpoint(ctx context.Context, raw []byte) (core.EndpointDescriptor, error)
	DeleteEndpoints(ctx context.Context, raw []byte) (core.DeleteResult, error)
	UpdateEndpoint(ctx context.Context, raw []byte) error
	UpdateEndpointStates(ctx context.Context, raw []byte) error
	ReadEndpoints(ctx context.Context, selector string) ([]core.EndpointDescriptor, error)
}

// ClaimStore tracks idempotency keys for mutating requests. Complete keeps
// the response so Replay can answer later deliveries of the same key.
type ClaimStore interface {
	Claim(ctx context.Context, key string, lease time.Duration) (claimID string, accepted bool, err error)
	Complete(ctx context.Context, claimID string, resp Response) error
	Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error
	Replay(ctx context.Context, key string) (Response, bool, error)
}

type routeHandler func(ctx context.Context, req Request) (Response, error)

type Dispatcher struct {
	Service Service
	Store   ClaimStore
	KeyTTL  time.Duration
	Logger  glog.Logger

	routes map[string]routeHandler
}

func NewDispatcher(service Service, store ClaimStore, logger glog.Logger) *Dispatcher {
	if logger == nil {
		logger = glog.Nop()
	}
	d := &Dispatcher{
		Service: service,
		Store:   store,
		KeyTTL:  defaultKeyTTL,
		Logger:  logger,
	}
	d.routes = map[string]routeHandler{
		routeKey(http.MethodPost, PathDirectives):    d.handleDirective,
		routeKey(http.MethodPost, PathEvents):        d.handleChangeReport,
		routeKey(http.MethodPost, PathEndpoints):     d.handleCreateEndpoint,
		routeKey(http.MethodGet, PathEndpoints):      d.handleReadEndpoints,
		routeKey(http.MethodDelete, PathEndpoints):   d.handleDeleteEndpoints,
		routeKey(http.MethodPut, PathEndpoints):      d.handleUpdateEndpoint,
		routeKey(http.MethodPut, PathEndpointStates): d.handleUpdateEndpointStates,
	}
	return d
}

// Dispatch never returns an error: every failure is rendered as a response
// with the status the error kind maps to.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	if d == nil || d.Service == nil {
		return errorResponse(internalFailure("inbound: dispatcher is not configured", nil, nil))
	}
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	req.Path = normalizePath(req.Path)

	if err := d.Service.CheckClientCredentials(); err != nil {
		d.logger().Warn("inbound request rejected", "method", req.Method, "path", req.Path, "status", http.StatusForbidden)
		return errorResponse(err)
	}

	handler, ok := d.routes[routeKey(req.Method, req.Path)]
	if !ok {
		return errorResponse(unknownRouteError(req.Method, req.Path))
	}
	if !isIdempotentCandidate(req) || d.Store == nil {
		return d.run(ctx, handler, req)
	}
	return d.runClaimed(ctx, handler, req)
}

func (d *Dispatcher) run(ctx context.Context, handler routeHandler, req Request) Response {
	resp, err := handler(ctx, req)
	if err != nil {
		d.logger().Warn("inbound request failed",
			"method", req.Method,
			"path", req.Path,
			"status", core.HTTPStatus(err),
			"error", err.Error(),
		)
		return errorResponse(err)
	}
	return resp
}

// runClaimed guards a mutation with the claim store. A duplicate delivery
// of a completed key gets the stored response back; an in-flight key is
// answered with 200. Neither re-runs the mutation.
func (d *Dispatcher) runClaimed(ctx context.Context, handler routeHandler, req Request) Response {
	key := req.Method + ":" + req.Path + ":" + headerValue(req.Headers, "idempotency-key")
	claimID, accepted, err := d.Store.Claim(ctx, key, d.keyTTL())
	if err != nil {
		return errorResponse(internalFailure(
			"inbound: idempotency claim failed",
			err,
			map[string]any{"method": req.Method, "path": req.Path},
		))
	}
	if !accepted {
		resp, found, err := d.Store.Replay(ctx, key)
		if err != nil {
			d.logger().Warn("inbound idempotency replay failed", "method", req.Method, "path", req.Path, "error", err.Error())
		}
		if !found {
			resp = jsonResponse(http.StatusOK, messageBody{Result: resultOK, Message: "Duplicate request ignored"})
		}
		resp.Headers["Idempotent-Replayed"] = "true"
		return resp
	}

	resp, handlerErr := handler(ctx, req)
	if handlerErr == nil && resp.StatusCode < http.StatusInternalServerError {
		if err := d.Store.Complete(ctx, claimID, resp); err != nil {
			d.logger().Warn("inbound idempotency complete failed", "claim_id", claimID, "error", err.Error())
		}
		return resp
	}

	cause := handlerErr
	if cause == nil {
		cause = fmt.Errorf("inbound: handler returned status %d", resp.StatusCode)
	}
	if err := d.Store.Fail(ctx, claimID, cause, time.Time{}); err != nil {
		cause = errors.Join(cause, internalFailure("inbound: mark idempotency claim failed", err, map[string]any{"claim_id": claimID}))
		d.logger().Warn("inbound idempotency fail failed", "claim_id", claimID, "error", err.Error())
	}
	if handlerErr != nil {
		return errorResponse(cause)
	}
	return resp
}

func (d *Dispatcher) handleDirective(ctx context.Context, req Request) (Response, error) {
	envelope := d.Service.RouteDirective(ctx, req.Body)
	status := http.StatusOK
	if envelope.IsError() {
		status = http.StatusInternalServerError
	}
	return jsonResponse(status, envelope), nil
}

func (d *Dispatcher) handleChangeReport(ctx context.Context, req Request) (Response, error) {
	ack, err := d.Service.ReportChange(ctx, req.Body)
	if err != nil {
		return Response{}, err
	}
	resp := jsonResponse(http.StatusOK, gatewayAckBody(ack))
	if ack.RequestID != "" {
		resp.Headers["X-Amzn-RequestId"] = ack.RequestID
	}
	return resp, nil
}

func (d *Dispatcher) handleCreateEndpoint(ctx context.Context, req Request) (Response, error) {
	endpoint, err := d.Service.CreateEndpoint(ctx, req.Body)
	if err != nil {
		return Response{}, err
	}
	return jsonResponse(http.StatusCreated, endpoint), nil
}

func (d *Dispatcher) handleReadEndpoints(ctx context.Context, req Request) (Response, error) {
	endpoints, err := d.Service.ReadEndpoints(ctx, req.Path)
	if err != nil {
		return Response{}, err
	}
	return jsonResponse(http.StatusOK, endpoints), nil
}

func (d *Dispatcher) handleDeleteEndpoints(ctx context.Context, req Request) (Response, error) {
	result, err := d.Service.DeleteEndpoints(ctx, req.Body)
	if err != nil {
		return Response{}, err
	}
	message := result.Message
	if message == "" {
		message = fmt.Sprintf("Deleted %d endpoints", len(result.Deleted))
	}
	return jsonResponse(http.StatusOK, messageBody{Message: message, Deleted: result.Deleted}), nil
}

func (d *Dispatcher) handleUpdateEndpoint(ctx context.Context, req Request) (Response, error) {
	if err := d.Service.UpdateEndpoint(ctx, req.Body); err != nil {
		return Response{}, err
	}
	return Response{StatusCode: http.StatusNoContent, Headers: map[string]string{}}, nil
}

func (d *Dispatcher) handleUpdateEndpointStates(ctx context.Context, req Request) (Response, error) {
	if err := d.Service.UpdateEndpointStates(ctx, req.Body); err != nil {
		return Response{}, err
	}
	return Response{StatusCode: http.StatusNoContent, Headers: map[string]string{}}, nil
}

func gatewayAckBody(ack core.GatewayAck) any {
	if len(ack.Body) > 0 && json.Valid(ack.Body) {
		return json.RawMessage(ack.Body)
	}
	return messageBody{Result: resultOK, Message: fmt.Sprintf("Gateway accepted event with status %d", ack.StatusCode)}
}

func isIdempotentCandidate(req Request) bool {
	if headerValue(req.Headers, "idempotency-key") == "" {
		return false
	}
	switch routeKey(req.Method, req.Path) {
	case routeKey(http.MethodPost, PathEndpoints),
		routeKey(http.MethodDelete, PathEndpoints),
		routeKey(http.MethodPost, PathEvents):
		return true
	default:
		return false
	}
}

func routeKey(method, path string) string {
	return method + " " + path
}

func (d *Dispatcher) keyTTL() time.Duration {
	if d != nil && d.KeyTTL > 0 {
		return d.KeyTTL
	}
	return defaultKeyTTL
}

func (d *Dispatcher) logger() glog.Logger {
	if d == nil || d.Logger == nil {
		return glog.Nop()
	}
	return d.Logger
}

type claimStatus string

const (
	claimStatusProcessing claimStatus = "processing"
	claimStatusRetryReady claimStatus = "retry_ready"
	claimStatusComplete   claimStatus = "complete"
)

type claimEntry struct {
	Key            string
	Status         claimStatus
	ClaimID        string
	Attempts       int
	KeyTTL         time.Duration
	LeaseExpiresAt time.Time
	RetryAt        time.Time
	Response       *Response
}

// InMemoryClaimStore is a process local ClaimStore. Completed keys are
// remembered for their TTL, failed keys become claimable again at retryAt.
type InMemoryClaimStore struct {
	mu      sync.Mutex
	entries map[string]claimEntry
	claims  map[string]string
	nextID  int
	Now     func() time.Time
}

func NewInMemoryClaimStore() *InMemoryClaimStore {
	return &InMemoryClaimStore{
		entries: map[string]claimEntry{},
		claims:  map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *InMemoryClaimStore) Claim(_ context.Context, key string, lease time.Duration) (string, bool, error) {
	if s == nil {
		return "", false, internalFailure("inbound: idempotency store is nil", nil, nil)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, badRequest("inbound: idempotency key is required", nil)
	}
	now := s.now()
	if lease <= 0 {
		lease = defaultKeyTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(now)
	entry, exists := s.entries[key]
	if !exists {
		claimID := s.nextClaimID()
		s.entries[key] = claimEntry{
			Key:            key,
			Status:         claimStatusProcessing,
			ClaimID:        claimID,
			Attempts:       1,
			KeyTTL:         lease,
			LeaseExpiresAt: now.Add(lease),
		}
		s.claims[claimID] = key
		return claimID, true, nil
	}

	switch entry.Status {
	case claimStatusComplete, claimStatusProcessing:
		if now.Before(entry.LeaseExpiresAt) {
			return "", false, nil
		}
	case claimStatusRetryReady:
		if !entry.RetryAt.IsZero() && now.Before(entry.RetryAt) {
			return "", false, nil
		}
	}

	if entry.ClaimID != "" {
		delete(s.claims, entry.ClaimID)
	}
	claimID := s.nextClaimID()
	entry.Status = claimStatusProcessing
	entry.ClaimID = claimID
	entry.Attempts++
	entry.KeyTTL = lease
	entry.LeaseExpiresAt = now.Add(lease)
	entry.RetryAt = time.Time{}
	s.entries[key] = entry
	s.claims[claimID] = key
	return claimID, true, nil
}

func (s *InMemoryClaimStore) Complete(_ context.Context, claimID string, resp Response) error {
	if s == nil {
		return internalFailure("inbound: idempotency store is nil", nil, nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return badRequest("inbound: claim id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, key, ok := s.processingEntryLocked(claimID)
	if !ok {
		return nil
	}
	ttl := entry.KeyTTL
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	stored := cloneResponse(resp)
	entry.Status = claimStatusComplete
	entry.LeaseExpiresAt = s.now().Add(ttl)
	entry.RetryAt = time.Time{}
	entry.Response = &stored
	s.entries[key] = entry
	delete(s.claims, claimID)
	return nil
}

// Replay returns the response stored for a completed key that is still
// within its TTL.
func (s *InMemoryClaimStore) Replay(_ context.Context, key string) (Response, bool, error) {
	if s == nil {
		return Response{}, false, internalFailure("inbound: idempotency store is nil", nil, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[strings.TrimSpace(key)]
	if !ok || entry.Status != claimStatusComplete || entry.Response == nil || !s.now().Before(entry.LeaseExpiresAt) {
		return Response{}, false, nil
	}
	return cloneResponse(*entry.Response), true, nil
}

func cloneResponse(resp Response) Response {
	out := Response{
		StatusCode: resp.StatusCode,
		Headers:    make(map[string]string, len(resp.Headers)+1),
		Body:       slices.Clone(resp.Body),
	}
	maps.Copy(out.Headers, resp.Headers)
	return out
}

func (s *InMemoryClaimStore) Fail(_ context.Context, claimID string, _ error, retryAt time.Time) error {
	if s == nil {
		return internalFailure("inbound: idempotency store is nil", nil, nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return badRequest("inbound: claim id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, key, ok := s.processingEntryLocked(claimID)
	if !ok {
		return nil
	}
	if retryAt.IsZero() {
		retryAt = s.now()
	}
	entry.Status = claimStatusRetryReady
	entry.RetryAt = retryAt.UTC()
	entry.LeaseExpiresAt = time.Time{}
	s.entries[key] = entry
	delete(s.claims, claimID)
	return nil
}

// Attempts reports how many times key has been claimed.
func (s *InMemoryClaimStore) Attempts(key string) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[strings.TrimSpace(key)].Attempts
}

func (s *InMemoryClaimStore) processingEntryLocked(claimID string) (claimEntry, string, bool) {
	key, ok := s.claims[claimID]
	if !ok {
		return claimEntry{}, "", false
	}
	entry, exists := s.entries[key]
	if !exists || entry.ClaimID != claimID || entry.Status != claimStatusProcessing {
		delete(s.claims, claimID)
		return claimEntry{}, "", false
	}
	return entry, key, true
}

func (s *InMemoryClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *InMemoryClaimStore) nextClaimID() string {
	s.nextID++
	return fmt.Sprintf("claim_%d", s.nextID)
}

func (s *InMemoryClaimStore) evictExpiredLocked(now time.Time) {
	for key, entry := range s.entries {
		if entry.Status != claimStatusComplete {
			continue
		}
		if entry.LeaseExpiresAt.IsZero() || !now.Before(entry.LeaseExpiresAt) {
			if entry.ClaimID != "" {
				delete(s.claims, entry.ClaimID)
			}
			delete(s.entries, key)
		}
	}
}

var (
	_ ClaimStore = (*InMemoryClaimStore)(nil)
	_ Service    = (*core.Service)(nil)
)
