package core

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEndpointRegistry is a process-local EndpointRegistry.
type MemoryEndpointRegistry struct {
	mu        sync.RWMutex
	endpoints map[string]EndpointDescriptor
}

func NewMemoryEndpointRegistry() *MemoryEndpointRegistry {
	return &MemoryEndpointRegistry{endpoints: map[string]EndpointDescriptor{}}
}

func (r *MemoryEndpointRegistry) Upsert(_ context.Context, endpoint EndpointDescriptor) error {
	if err := endpoint.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[endpoint.EndpointID] = endpoint.Clone()
	return nil
}

func (r *MemoryEndpointRegistry) Get(_ context.Context, endpointID string) (EndpointDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	endpoint, ok := r.endpoints[strings.TrimSpace(endpointID)]
	if !ok {
		return EndpointDescriptor{}, ErrEndpointNotFound
	}
	return endpoint.Clone(), nil
}

func (r *MemoryEndpointRegistry) Delete(_ context.Context, endpointID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, strings.TrimSpace(endpointID))
	return nil
}

func (r *MemoryEndpointRegistry) DeleteAll(ctx context.Context) ([]EndpointDescriptor, error) {
	snapshot, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	deleted := make([]EndpointDescriptor, 0, len(snapshot))
	var deleteErr error
	for _, endpoint := range snapshot {
		if err := r.Delete(ctx, endpoint.EndpointID); err != nil {
			deleteErr = joinErrors(deleteErr, err)
			continue
		}
		deleted = append(deleted, endpoint)
	}
	return deleted, deleteErr
}

func (r *MemoryEndpointRegistry) List(_ context.Context) ([]EndpointDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(EndpointDescriptor) bool { return true }), nil
}

func (r *MemoryEndpointRegistry) FindByUser(_ context.Context, userID string) ([]EndpointDescriptor, error) {
	userID = strings.TrimSpace(userID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(endpoint EndpointDescriptor) bool {
		return endpoint.UserID == userID
	}), nil
}

func (r *MemoryEndpointRegistry) sortedLocked(keep func(EndpointDescriptor) bool) []EndpointDescriptor {
	out := make([]EndpointDescriptor, 0, len(r.endpoints))
	for _, endpoint := range r.endpoints {
		if keep(endpoint) {
			out = append(out, endpoint.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndpointID < out[j].EndpointID })
	return out
}

type MemoryCredentialStore struct {
	mu          sync.RWMutex
	credentials map[string]Credential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{credentials: map[string]Credential{}}
}

func (s *MemoryCredentialStore) Get(_ context.Context, userID string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.credentials[strings.TrimSpace(userID)]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return cred, nil
}

func (s *MemoryCredentialStore) Put(_ context.Context, credential Credential) error {
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("core: credential user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[strings.TrimSpace(credential.UserID)] = credential
	return nil
}

type memoryOutboxEntry struct {
	event         LifecycleEvent
	nextAttemptAt time.Time
	claimed       bool
	failed        bool
	lastError     string
}

// defaultMemoryOutboxFailedLimit bounds how many parked events a memory
// outbox keeps for inspection.
const defaultMemoryOutboxFailedLimit = 256

// MemoryOutboxStore keeps lifecycle events in insertion order. Only the
// most recent failedLimit failed events are kept.
type MemoryOutboxStore struct {
	mu          sync.Mutex
	entries     []*memoryOutboxEntry
	failedLimit int
	now         func() time.Time
}

func NewMemoryOutboxStore() *MemoryOutboxStore {
	return &MemoryOutboxStore{
		failedLimit: defaultMemoryOutboxFailedLimit,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryOutboxStore) Enqueue(_ context.Context, event LifecycleEvent) error {
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	event.Payload = copyMap(event.Payload)
	event.Metadata = copyMap(event.Metadata)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &memoryOutboxEntry{event: event})
	return nil
}

func (s *MemoryOutboxStore) ClaimBatch(_ context.Context, limit int) ([]LifecycleEvent, error) {
	if limit <= 0 {
		limit = defaultOutboxBatchSize
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LifecycleEvent, 0, limit)
	for _, entry := range s.entries {
		if len(out) >= limit {
			break
		}
		if entry.claimed || entry.failed || entry.nextAttemptAt.After(now) {
			continue
		}
		entry.claimed = true
		event := entry.event
		event.Payload = copyMap(entry.event.Payload)
		event.Metadata = copyMap(entry.event.Metadata)
		out = append(out, event)
	}
	return out, nil
}

func (s *MemoryOutboxStore) Ack(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for idx, entry := range s.entries {
		if entry.event.ID == strings.TrimSpace(eventID) {
			s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
			return nil
		}
	}
	return fmt.Errorf("core: outbox event %q not found", eventID)
}

// Retry releases a claimed event. A zero nextAttemptAt marks it failed.
func (s *MemoryOutboxStore) Retry(_ context.Context, eventID string, cause error, nextAttemptAt time.Time, delivered []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.event.ID != strings.TrimSpace(eventID) {
			continue
		}
		entry.claimed = false
		entry.event.Metadata = copyMap(entry.event.Metadata)
		entry.event.Metadata[MetadataKeyOutboxAttempts] = priorFailures(entry.event) + 1
		if len(delivered) > 0 {
			entry.event.Metadata[MetadataKeyOutboxDelivered] = slices.Clone(delivered)
		}
		if cause != nil {
			entry.lastError = cause.Error()
		}
		if nextAttemptAt.IsZero() {
			entry.failed = true
			s.pruneFailedLocked()
			return nil
		}
		entry.nextAttemptAt = nextAttemptAt.UTC()
		return nil
	}
	return fmt.Errorf("core: outbox event %q not found", eventID)
}

// pruneFailedLocked drops the oldest failed entries beyond failedLimit.
func (s *MemoryOutboxStore) pruneFailedLocked() {
	limit := s.failedLimit
	if limit <= 0 {
		limit = defaultMemoryOutboxFailedLimit
	}
	excess := -limit
	for _, entry := range s.entries {
		if entry.failed {
			excess++
		}
	}
	if excess <= 0 {
		return
	}
	s.entries = slices.DeleteFunc(s.entries, func(entry *memoryOutboxEntry) bool {
		if entry.failed && excess > 0 {
			excess--
			return true
		}
		return false
	})
}

// Pending returns the number of events that are neither delivered nor
// permanently failed.
func (s *MemoryOutboxStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, entry := range s.entries {
		if !entry.failed {
			count++
		}
	}
	return count
}

// Failed returns events that exhausted their attempts.
func (s *MemoryOutboxStore) Failed() []LifecycleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []LifecycleEvent{}
	for _, entry := range s.entries {
		if entry.failed {
			out = append(out, entry.event)
		}
	}
	return out
}

var (
	_ EndpointRegistry = (*MemoryEndpointRegistry)(nil)
	_ CredentialStore  = (*MemoryCredentialStore)(nil)
	_ OutboxStore      = (*MemoryOutboxStore)(nil)
)
