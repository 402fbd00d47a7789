package smarthome

import "github.com/goliatone/go-smarthome/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type EndpointDescriptor = core.EndpointDescriptor
type Credential = core.Credential
type LifecycleEvent = core.LifecycleEvent
type EndpointRegistry = core.EndpointRegistry
type CredentialStore = core.CredentialStore
type OutboxStore = core.OutboxStore
type AuthorizationServer = core.AuthorizationServer
type IdentityResolver = core.IdentityResolver
type EventGateway = core.EventGateway
type CredentialLocker = core.CredentialLocker
type RefreshBackoffScheduler = core.RefreshBackoffScheduler

type ExchangeGrantRequest = core.ExchangeGrantRequest
type ChangeReportRequest = core.ChangeReportRequest

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorFactory            = core.WithErrorFactory
	WithErrorMapper             = core.WithErrorMapper
	WithPersistenceClient       = core.WithPersistenceClient
	WithRepositoryFactory       = core.WithRepositoryFactory
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithEndpointRegistry        = core.WithEndpointRegistry
	WithCredentialStore         = core.WithCredentialStore
	WithOutboxStore             = core.WithOutboxStore
	WithAuthorizationServer     = core.WithAuthorizationServer
	WithIdentityResolver        = core.WithIdentityResolver
	WithEventGateway            = core.WithEventGateway
	WithEnvelopeValidator       = core.WithEnvelopeValidator
	WithOutboxNotifier          = core.WithOutboxNotifier
	WithProjector               = core.WithProjector
	WithCredentialLocker        = core.WithCredentialLocker
	WithRefreshBackoffScheduler = core.WithRefreshBackoffScheduler
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
