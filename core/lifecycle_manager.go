package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-smarthome/alexa"
)

const lifecycleSource = "lifecycle_manager"

// LifecycleManager owns the CRUD surface over endpoint descriptors. Every
// successful mutation enqueues exactly one lifecycle event per endpoint;
// delivery of those events never fails the mutation.
type LifecycleManager struct {
	registry      EndpointRegistry
	outbox        OutboxStore
	dispatcher    LifecycleDispatcher
	notifier      OutboxNotifier
	discovery     DiscoveryConfig
	deferred      bool
	batchSize     int
	endpointIDs   func() string
	friendlyNames func() string
	now           func() time.Time
	obs           *observer
}

type createEndpointRequest struct {
	UserID            *string            `json:"userId"`
	EndpointID        *string            `json:"endpointId"`
	FriendlyName      *string            `json:"friendlyName"`
	ManufacturerName  *string            `json:"manufacturerName"`
	Description       *string            `json:"description"`
	DisplayCategories []string           `json:"displayCategories"`
	Capabilities      []alexa.Capability `json:"capabilities"`
}

// readSelectorUserPrefix selects the endpoints of one user in Read.
const readSelectorUserPrefix = "user:"

// Create registers a new endpoint. The body is either
// {"event":{"endpoint":{...}}}, {"endpoint":{...}} or the endpoint object
// itself. Only userId is required.
func (m *LifecycleManager) Create(ctx context.Context, raw []byte) (endpoint EndpointDescriptor, err error) {
	startedAt := time.Now().UTC()
	defer func() {
		m.obs.observe(ctx, startedAt, "create_endpoint", err, map[string]any{
			"endpoint_id": endpoint.EndpointID,
			"user_id":     endpoint.UserID,
		})
	}()

	req, err := decodeCreateRequest(raw)
	if err != nil {
		return EndpointDescriptor{}, err
	}
	endpoint, err = m.descriptorFromRequest(req)
	if err != nil {
		return EndpointDescriptor{}, err
	}
	if err := endpoint.Validate(); err != nil {
		return EndpointDescriptor{}, err
	}
	if err := alexa.ValidateCapabilityList(endpoint.Capabilities); err != nil {
		return EndpointDescriptor{}, WrapValidationError(err, "capabilities do not match the Alexa capability schema")
	}
	if err := m.registry.Upsert(ctx, endpoint); err != nil {
		if IsValidationError(err) {
			return EndpointDescriptor{}, err
		}
		return EndpointDescriptor{}, NewStorageError("endpoint upsert", err)
	}

	m.emit(ctx, []LifecycleEvent{m.addOrUpdateEvent(endpoint)})
	return endpoint, nil
}

// Delete removes the listed endpoint ids. A "*" entry sweeps the whole
// registry. Unknown ids are ignored and produce no event.
func (m *LifecycleManager) Delete(ctx context.Context, raw []byte) (result DeleteResult, err error) {
	startedAt := time.Now().UTC()
	defer func() {
		m.obs.observe(ctx, startedAt, "delete_endpoints", err, map[string]any{
			"wildcard": result.Wildcard,
			"deleted":  len(result.Deleted),
		})
	}()

	ids, err := decodeDeleteRequest(raw)
	if err != nil {
		return DeleteResult{}, err
	}
	for _, id := range ids {
		if id == DeleteAllWildcard {
			return m.deleteAll(ctx)
		}
	}

	result = DeleteResult{Deleted: []string{}}
	events := make([]LifecycleEvent, 0, len(ids))
	seen := map[string]bool{}
	var deleteErr error
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		existing, getErr := m.registry.Get(ctx, id)
		if getErr != nil {
			if errors.Is(getErr, ErrEndpointNotFound) {
				continue
			}
			deleteErr = joinErrors(deleteErr, getErr)
			continue
		}
		if delErr := m.registry.Delete(ctx, id); delErr != nil {
			deleteErr = joinErrors(deleteErr, delErr)
			continue
		}
		result.Deleted = append(result.Deleted, id)
		events = append(events, m.deleteEvent(existing))
	}
	m.emit(ctx, events)
	if deleteErr != nil {
		return result, NewStorageError("endpoint delete", deleteErr)
	}
	result.Message = fmt.Sprintf("Deleted %d endpoints", len(result.Deleted))
	return result, nil
}

func (m *LifecycleManager) deleteAll(ctx context.Context) (DeleteResult, error) {
	removed, err := m.registry.DeleteAll(ctx)
	result := DeleteResult{
		Wildcard: true,
		Deleted:  make([]string, 0, len(removed)),
		Message:  "Deleted all endpoints",
	}
	events := make([]LifecycleEvent, 0, len(removed))
	for _, endpoint := range removed {
		result.Deleted = append(result.Deleted, endpoint.EndpointID)
		events = append(events, m.deleteEvent(endpoint))
	}
	m.emit(ctx, events)
	if err != nil {
		return result, NewStorageError("endpoint delete all", err)
	}
	return result, nil
}

// Update is not supported.
func (m *LifecycleManager) Update(ctx context.Context, _ []byte) error {
	err := NewUnsupportedOperationError("update")
	m.obs.observe(ctx, time.Now().UTC(), "update_endpoint", err, nil)
	return err
}

// UpdateStates is not supported.
func (m *LifecycleManager) UpdateStates(ctx context.Context, _ []byte) error {
	err := NewUnsupportedOperationError("update_states")
	m.obs.observe(ctx, time.Now().UTC(), "update_endpoint_states", err, nil)
	return err
}

// Read resolves a selector against the registry:
//
//	"", "/endpoints"      every endpoint
//	"/endpoints/<id>"     the endpoint with that id, if any
//	"user:<id>"           the endpoints owned by that user
//
// Unknown selectors yield an empty result.
func (m *LifecycleManager) Read(ctx context.Context, selector string) (endpoints []EndpointDescriptor, err error) {
	startedAt := time.Now().UTC()
	selector = strings.TrimSpace(selector)
	defer func() {
		m.obs.observe(ctx, startedAt, "read_endpoints", err, map[string]any{
			"selector": selector,
			"count":    len(endpoints),
		})
	}()

	endpoints, err = m.selectEndpoints(ctx, selector)
	if err != nil {
		return nil, err
	}
	if endpoints == nil {
		endpoints = []EndpointDescriptor{}
	}
	return endpoints, nil
}

func (m *LifecycleManager) selectEndpoints(ctx context.Context, selector string) ([]EndpointDescriptor, error) {
	switch {
	case selector == "", selector == EndpointsResource, selector == strings.TrimPrefix(EndpointsResource, "/"):
		endpoints, err := m.registry.List(ctx)
		if err != nil {
			return nil, NewStorageError("endpoint list", err)
		}
		return endpoints, nil
	case strings.HasPrefix(selector, readSelectorUserPrefix):
		userID := strings.TrimSpace(strings.TrimPrefix(selector, readSelectorUserPrefix))
		if userID == "" {
			return nil, nil
		}
		endpoints, err := m.registry.FindByUser(ctx, userID)
		if err != nil {
			return nil, NewStorageError("endpoint find by user", err)
		}
		return endpoints, nil
	case strings.HasPrefix(selector, EndpointsResource+"/"):
		endpointID := strings.Trim(strings.TrimPrefix(selector, EndpointsResource+"/"), "/ ")
		if endpointID == "" || strings.Contains(endpointID, "/") {
			return nil, nil
		}
		endpoint, err := m.registry.Get(ctx, endpointID)
		if errors.Is(err, ErrEndpointNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, NewStorageError("endpoint get", err)
		}
		return []EndpointDescriptor{endpoint}, nil
	default:
		return nil, nil
	}
}

func (m *LifecycleManager) descriptorFromRequest(req createEndpointRequest) (EndpointDescriptor, error) {
	if req.UserID == nil || strings.TrimSpace(*req.UserID) == "" {
		return EndpointDescriptor{}, NewValidationError("userId", "userId is required")
	}
	endpoint := EndpointDescriptor{
		UserID:            strings.TrimSpace(*req.UserID),
		EndpointID:        m.endpointIDs(),
		FriendlyName:      m.friendlyNames(),
		Description:       firstNonEmpty(m.discovery.Description, DefaultEndpointDescription),
		ManufacturerName:  firstNonEmpty(m.discovery.ManufacturerName, DefaultManufacturerName),
		DisplayCategories: []string{DefaultDisplayCategory},
		Capabilities:      DefaultCapabilities(),
	}
	if req.EndpointID != nil {
		endpoint.EndpointID = strings.TrimSpace(*req.EndpointID)
	}
	if req.FriendlyName != nil {
		endpoint.FriendlyName = *req.FriendlyName
	}
	if req.ManufacturerName != nil {
		endpoint.ManufacturerName = *req.ManufacturerName
	}
	if req.Description != nil {
		endpoint.Description = *req.Description
	}
	if req.DisplayCategories != nil {
		endpoint.DisplayCategories = append([]string(nil), req.DisplayCategories...)
	}
	if req.Capabilities != nil {
		endpoint.Capabilities = cloneCapabilities(req.Capabilities)
	}
	return endpoint, nil
}

func (m *LifecycleManager) addOrUpdateEvent(endpoint EndpointDescriptor) LifecycleEvent {
	return LifecycleEvent{
		ID:         uuid.NewString(),
		Name:       EventEndpointAddOrUpdate,
		EndpointID: endpoint.EndpointID,
		UserID:     endpoint.UserID,
		Source:     lifecycleSource,
		OccurredAt: m.now(),
		Payload:    endpoint.Payload(),
		Metadata:   map[string]any{},
	}
}

func (m *LifecycleManager) deleteEvent(endpoint EndpointDescriptor) LifecycleEvent {
	return LifecycleEvent{
		ID:         uuid.NewString(),
		Name:       EventEndpointDelete,
		EndpointID: endpoint.EndpointID,
		UserID:     endpoint.UserID,
		Source:     lifecycleSource,
		OccurredAt: m.now(),
		Payload:    map[string]any{"endpointId": endpoint.EndpointID, "userId": endpoint.UserID},
		Metadata:   map[string]any{},
	}
}

// emit records events in the outbox and triggers delivery. Failures are
// logged only.
func (m *LifecycleManager) emit(ctx context.Context, events []LifecycleEvent) {
	if len(events) == 0 || m.outbox == nil {
		return
	}
	enqueued := 0
	for _, event := range events {
		if err := m.outbox.Enqueue(ctx, event); err != nil {
			m.obs.logError(ctx, "lifecycle event enqueue failed", map[string]any{
				"event_id":    event.ID,
				"event_name":  event.Name,
				"endpoint_id": event.EndpointID,
				"error":       err.Error(),
			})
			continue
		}
		enqueued++
	}
	if enqueued == 0 {
		return
	}

	if m.deferred && m.notifier != nil {
		if err := m.notifier.NotifyPending(ctx); err != nil {
			m.obs.logError(ctx, "outbox notify failed", map[string]any{"error": err.Error()})
		}
		return
	}
	if m.dispatcher == nil {
		return
	}
	stats, err := m.dispatcher.DispatchPending(ctx, m.batchSize)
	fields := map[string]any{
		"claimed":   stats.Claimed,
		"delivered": stats.Delivered,
		"retried":   stats.Retried,
		"failed":    stats.Failed,
	}
	if err != nil {
		fields["error"] = err.Error()
		m.obs.logWarn(ctx, "lifecycle event delivery incomplete", fields)
	}
}

func decodeCreateRequest(raw []byte) (createEndpointRequest, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return createEndpointRequest{}, NewValidationError("body", "request body is required")
	}
	var envelope struct {
		Event *struct {
			Endpoint json.RawMessage `json:"endpoint"`
		} `json:"event"`
		Endpoint json.RawMessage `json:"endpoint"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return createEndpointRequest{}, WrapValidationError(err, "core: request body is not a JSON object")
	}
	body := raw
	switch {
	case envelope.Event != nil:
		body = envelope.Event.Endpoint
		if len(bytes.TrimSpace(body)) == 0 {
			return createEndpointRequest{}, NewValidationError("event.endpoint", "event.endpoint is required")
		}
	case len(envelope.Endpoint) > 0:
		body = envelope.Endpoint
	}
	var req createEndpointRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return createEndpointRequest{}, WrapValidationError(err, "core: endpoint fields have invalid types")
	}
	return req, nil
}

func decodeDeleteRequest(raw []byte) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, NewValidationError("body", "request body is required")
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, WrapValidationError(err, "core: delete body must be a JSON array of endpoint ids")
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}
