package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-smarthome/alexa"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// EndpointRegistry persists endpoint descriptors keyed by endpoint id.
type EndpointRegistry interface {
	// Upsert replaces the whole record for the endpoint id.
	Upsert(ctx context.Context, endpoint EndpointDescriptor) error
	// Get returns ErrEndpointNotFound when no record exists.
	Get(ctx context.Context, endpointID string) (EndpointDescriptor, error)
	// Delete succeeds for unknown ids.
	Delete(ctx context.Context, endpointID string) error
	// DeleteAll removes every record best-effort and returns the removed
	// descriptors together with the joined per-item failures.
	DeleteAll(ctx context.Context) ([]EndpointDescriptor, error)
	List(ctx context.Context) ([]EndpointDescriptor, error)
	FindByUser(ctx context.Context, userID string) ([]EndpointDescriptor, error)
}

type CredentialStore interface {
	// Get returns ErrCredentialNotFound when the user has no credential.
	Get(ctx context.Context, userID string) (Credential, error)
	Put(ctx context.Context, credential Credential) error
}

type StoreProvider interface {
	EndpointRegistry() EndpointRegistry
	CredentialStore() CredentialStore
	OutboxStore() OutboxStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// AuthorizationServer exchanges grant codes and refresh tokens.
type AuthorizationServer interface {
	ExchangeCode(ctx context.Context, code, clientID, clientSecret string) (TokenGrant, error)
	Refresh(ctx context.Context, refreshToken, clientID, clientSecret string) (TokenGrant, error)
}

// IdentityResolver maps a bearer token to the stable user id.
type IdentityResolver interface {
	ResolveUserID(ctx context.Context, token string) (string, error)
}

type EventGateway interface {
	Send(ctx context.Context, accessToken string, envelope alexa.Envelope) (GatewayAck, error)
}

type EnvelopeValidator interface {
	ValidateEnvelope(envelope alexa.Envelope) error
}

// OutboxNotifier signals a background worker that events are pending.
type OutboxNotifier interface {
	NotifyPending(ctx context.Context) error
}

const (
	EventEndpointAddOrUpdate = "endpoint.add_or_update"
	EventEndpointDelete      = "endpoint.delete"
)

// LifecycleEvent is a durable record of a registry mutation that must be
// reported downstream.
type LifecycleEvent struct {
	ID         string
	Name       string
	EndpointID string
	UserID     string
	Source     string
	OccurredAt time.Time
	Payload    map[string]any
	Metadata   map[string]any
}

type LifecycleEventHandler interface {
	Handle(ctx context.Context, event LifecycleEvent) error
}

type DispatchStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
}

type LifecycleDispatcher interface {
	DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error)
}

type ProjectorRegistry interface {
	Register(name string, handler LifecycleEventHandler)
	Handlers() []LifecycleEventHandler
}

type OutboxStore interface {
	Enqueue(ctx context.Context, event LifecycleEvent) error
	ClaimBatch(ctx context.Context, limit int) ([]LifecycleEvent, error)
	Ack(ctx context.Context, eventID string) error
	// Retry reschedules a claimed event. delivered names the projectors that
	// already handled it; they are skipped when the event is claimed again.
	Retry(ctx context.Context, eventID string, cause error, nextAttemptAt time.Time, delivered []string) error
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
