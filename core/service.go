package core

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-smarthome/alexa"
)

// Service wires the token manager, endpoint registry, lifecycle manager and
// directive router behind one facade.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	registry          EndpointRegistry
	credentials       CredentialStore
	outbox            OutboxStore
	projectors        *LifecycleProjectorRegistry
	dispatcher        *OutboxDispatcher
	tokens            *TokenManager
	publisher         *EventPublisher
	lifecycle         *LifecycleManager
	router            *DirectiveRouter
	credentialLocker  CredentialLocker
	now               func() time.Time
	obs               *observer
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	EndpointRegistry  EndpointRegistry
	CredentialStore   CredentialStore
	OutboxStore       OutboxStore
	CredentialLocker  CredentialLocker
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("smarthome", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("smarthome"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}
	if builder.endpointIDs == nil {
		builder.endpointIDs = NewSampleEndpointID
	}
	if builder.friendlyNames == nil {
		builder.friendlyNames = NewSampleFriendlyName
	}
	if builder.credentialLocker == nil {
		builder.credentialLocker = NewMemoryCredentialLocker()
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if err := resolveStores(&builder); err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	if builder.endpointRegistry == nil {
		builder.endpointRegistry = NewMemoryEndpointRegistry()
	}
	if builder.credentialStore == nil {
		builder.credentialStore = NewMemoryCredentialStore()
	}
	if builder.outboxStore == nil {
		builder.outboxStore = NewMemoryOutboxStore()
	}

	if builder.envelopeValidator == nil && !finalConfig.Validation.DisableEnvelopes {
		validator, err := alexa.NewSchemaValidator()
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
		builder.envelopeValidator = validator
	}

	obs := newObserver(logger, builder.metricsRecorder)

	tokens := NewTokenManager(builder.credentialStore, builder.authServer, finalConfig.Tokens)
	tokens.now = builder.clock
	tokens.obs = obs
	tokens.locker = builder.credentialLocker
	if builder.refreshScheduler != nil {
		tokens.backoff = builder.refreshScheduler
	}

	publisher := NewEventPublisher(tokens, builder.eventGateway, builder.envelopeValidator)
	publisher.obs = obs

	projectors := NewLifecycleProjectorRegistry()
	if builder.eventGateway != nil {
		projectors.Register(GatewayProjectorName, NewGatewayProjector(publisher))
	}
	for name, handler := range builder.projectors {
		projectors.Register(name, handler)
	}
	dispatcher, err := NewOutboxDispatcher(builder.outboxStore, projectors, DispatcherConfigFrom(finalConfig.Outbox))
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	dispatcher.now = builder.clock

	lifecycle := &LifecycleManager{
		registry:      builder.endpointRegistry,
		outbox:        builder.outboxStore,
		dispatcher:    dispatcher,
		notifier:      builder.outboxNotifier,
		discovery:     finalConfig.Discovery,
		deferred:      finalConfig.Outbox.Deferred,
		batchSize:     finalConfig.Outbox.BatchSize,
		endpointIDs:   builder.endpointIDs,
		friendlyNames: builder.friendlyNames,
		now:           builder.clock,
		obs:           obs,
	}

	router := &DirectiveRouter{
		registry:  builder.endpointRegistry,
		tokens:    tokens,
		identity:  builder.identityResolver,
		auth:      finalConfig.Auth,
		validator: builder.envelopeValidator,
		now:       builder.clock,
		obs:       obs,
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		registry:          builder.endpointRegistry,
		credentials:       builder.credentialStore,
		outbox:            builder.outboxStore,
		projectors:        projectors,
		dispatcher:        dispatcher,
		tokens:            tokens,
		publisher:         publisher,
		lifecycle:         lifecycle,
		router:            router,
		credentialLocker:  builder.credentialLocker,
		now:               builder.clock,
		obs:               obs,
	}, nil
}

func resolveStores(builder *serviceBuilder) error {
	if builder.repositoryFactory == nil {
		return nil
	}
	var stores StoreProvider
	if factory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
		built, err := factory.BuildStores(builder.persistenceClient)
		if err != nil {
			return err
		}
		stores = built
	} else if provider, ok := builder.repositoryFactory.(StoreProvider); ok {
		stores = provider
	} else {
		return fmt.Errorf("core: unsupported repository factory %T", builder.repositoryFactory)
	}
	if stores == nil {
		return nil
	}
	if builder.endpointRegistry == nil {
		builder.endpointRegistry = stores.EndpointRegistry()
	}
	if builder.credentialStore == nil {
		builder.credentialStore = stores.CredentialStore()
	}
	if builder.outboxStore == nil {
		builder.outboxStore = stores.OutboxStore()
	}
	return nil
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		EndpointRegistry:  s.registry,
		CredentialStore:   s.credentials,
		OutboxStore:       s.outbox,
		CredentialLocker:  s.credentialLocker,
	}
}

func (s *Service) Config() Config {
	return s.config
}

func (s *Service) Logger() Logger {
	return s.logger
}

func (s *Service) LoggerProvider() LoggerProvider {
	return s.loggerProvider
}

func (s *Service) Tokens() *TokenManager {
	return s.tokens
}

func (s *Service) Lifecycle() *LifecycleManager {
	return s.lifecycle
}

func (s *Service) Router() *DirectiveRouter {
	return s.router
}

func (s *Service) Registry() EndpointRegistry {
	return s.registry
}

func (s *Service) Dispatcher() *OutboxDispatcher {
	return s.dispatcher
}

// CheckClientCredentials fails with a 403 mapped error when the skill
// client id or secret is missing.
func (s *Service) CheckClientCredentials() error {
	if s.config.Auth.HasClientCredentials() {
		return nil
	}
	return NewClientCredentialsError()
}

func (s *Service) RouteDirective(ctx context.Context, body []byte) alexa.Envelope {
	return s.router.Route(ctx, body)
}

func (s *Service) CreateEndpoint(ctx context.Context, raw []byte) (EndpointDescriptor, error) {
	return s.lifecycle.Create(ctx, raw)
}

func (s *Service) DeleteEndpoints(ctx context.Context, raw []byte) (DeleteResult, error) {
	return s.lifecycle.Delete(ctx, raw)
}

func (s *Service) UpdateEndpoint(ctx context.Context, raw []byte) error {
	return s.lifecycle.Update(ctx, raw)
}

func (s *Service) UpdateEndpointStates(ctx context.Context, raw []byte) error {
	return s.lifecycle.UpdateStates(ctx, raw)
}

func (s *Service) ReadEndpoints(ctx context.Context, selector string) ([]EndpointDescriptor, error) {
	return s.lifecycle.Read(ctx, selector)
}

func (s *Service) FindEndpointsByUser(ctx context.Context, userID string) ([]EndpointDescriptor, error) {
	endpoints, err := s.registry.FindByUser(ctx, userID)
	if err != nil {
		return nil, NewStorageError("endpoint find by user", err)
	}
	return endpoints, nil
}

func (s *Service) ExchangeGrant(ctx context.Context, req ExchangeGrantRequest) (Credential, error) {
	return s.tokens.ExchangeGrant(ctx, req)
}

func (s *Service) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	return s.tokens.GetValidAccessToken(ctx, userID)
}

// DispatchOutbox drains one batch of pending lifecycle events.
func (s *Service) DispatchOutbox(ctx context.Context, batchSize int) (stats DispatchStats, err error) {
	startedAt := time.Now().UTC()
	defer func() {
		s.obs.observe(ctx, startedAt, "dispatch_outbox", err, map[string]any{
			"claimed":   stats.Claimed,
			"delivered": stats.Delivered,
			"retried":   stats.Retried,
			"failed":    stats.Failed,
		})
	}()
	return s.dispatcher.DispatchPending(ctx, batchSize)
}
