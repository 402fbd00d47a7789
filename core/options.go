package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	endpointRegistry  EndpointRegistry
	credentialStore   CredentialStore
	outboxStore       OutboxStore
	authServer        AuthorizationServer
	identityResolver  IdentityResolver
	eventGateway      EventGateway
	envelopeValidator EnvelopeValidator
	outboxNotifier    OutboxNotifier
	credentialLocker  CredentialLocker
	refreshScheduler  RefreshBackoffScheduler
	projectors        map[string]LifecycleEventHandler
	clock             func() time.Time
	endpointIDs       func() string
	friendlyNames     func() string
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

// WithRepositoryFactory accepts either a RepositoryStoreFactory or a
// StoreProvider.
func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithEndpointRegistry(registry EndpointRegistry) Option {
	return func(b *serviceBuilder) {
		b.endpointRegistry = registry
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *serviceBuilder) {
		b.credentialStore = store
	}
}

func WithOutboxStore(store OutboxStore) Option {
	return func(b *serviceBuilder) {
		b.outboxStore = store
	}
}

func WithAuthorizationServer(server AuthorizationServer) Option {
	return func(b *serviceBuilder) {
		b.authServer = server
	}
}

func WithIdentityResolver(resolver IdentityResolver) Option {
	return func(b *serviceBuilder) {
		b.identityResolver = resolver
	}
}

func WithEventGateway(gateway EventGateway) Option {
	return func(b *serviceBuilder) {
		b.eventGateway = gateway
	}
}

func WithEnvelopeValidator(validator EnvelopeValidator) Option {
	return func(b *serviceBuilder) {
		b.envelopeValidator = validator
	}
}

// WithOutboxNotifier registers the hook used when outbox draining is
// deferred to a background worker.
func WithOutboxNotifier(notifier OutboxNotifier) Option {
	return func(b *serviceBuilder) {
		b.outboxNotifier = notifier
	}
}

// WithProjector adds a lifecycle event handler next to the default
// gateway projector.
func WithProjector(name string, handler LifecycleEventHandler) Option {
	return func(b *serviceBuilder) {
		name = strings.TrimSpace(name)
		if name == "" || handler == nil {
			return
		}
		if b.projectors == nil {
			b.projectors = map[string]LifecycleEventHandler{}
		}
		b.projectors[name] = handler
	}
}

func WithCredentialLocker(locker CredentialLocker) Option {
	return func(b *serviceBuilder) {
		b.credentialLocker = locker
	}
}

func WithRefreshBackoffScheduler(scheduler RefreshBackoffScheduler) Option {
	return func(b *serviceBuilder) {
		b.refreshScheduler = scheduler
	}
}

func WithClock(clock func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

// WithEndpointIDGenerator replaces the SAMPLE_ENDPOINT_ id generator.
func WithEndpointIDGenerator(generator func() string) Option {
	return func(b *serviceBuilder) {
		b.endpointIDs = generator
	}
}

func WithFriendlyNameGenerator(generator func() string) Option {
	return func(b *serviceBuilder) {
		b.friendlyNames = generator
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("smarthome", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		clock:           func() time.Time { return time.Now().UTC() },
		endpointIDs:     NewSampleEndpointID,
		friendlyNames:   NewSampleFriendlyName,
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// NewStaticConfigLoader serves a fixed raw configuration map.
func NewStaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](NormalizeDurations(raw),
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// NormalizeDurations converts duration strings such as "10s" found in raw
// configuration maps into time.Duration values.
func NormalizeDurations(raw map[string]any) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		switch typed := value.(type) {
		case map[string]any:
			out[key] = NormalizeDurations(typed)
		case string:
			if isDurationKey(key) {
				if parsed, err := time.ParseDuration(strings.TrimSpace(typed)); err == nil {
					out[key] = parsed
					continue
				}
			}
			out[key] = typed
		default:
			out[key] = value
		}
	}
	return out
}

func isDurationKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, suffix := range []string{"timeout", "backoff", "ttl", "buffer", "margin"} {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	setSection(layer, "auth", includeZero, map[string]any{
		"client_id":       cfg.Auth.ClientID,
		"client_secret":   cfg.Auth.ClientSecret,
		"token_url":       cfg.Auth.TokenURL,
		"profile_url":     cfg.Auth.ProfileURL,
		"request_timeout": cfg.Auth.RequestTimeout,
	})
	setSection(layer, "tokens", includeZero, map[string]any{
		"expiry_buffer":    cfg.Tokens.ExpiryBuffer,
		"issue_margin":     cfg.Tokens.IssueMargin,
		"refresh_attempts": cfg.Tokens.RefreshAttempts,
		"refresh_backoff":  cfg.Tokens.RefreshBackoff,
		"refresh_lock_ttl": cfg.Tokens.RefreshLockTTL,
	})
	setSection(layer, "gateway", includeZero, map[string]any{
		"region":          cfg.Gateway.Region,
		"url":             cfg.Gateway.URL,
		"request_timeout": cfg.Gateway.RequestTimeout,
	})
	setSection(layer, "discovery", includeZero, map[string]any{
		"manufacturer_name": cfg.Discovery.ManufacturerName,
		"description":       cfg.Discovery.Description,
	})
	setSection(layer, "outbox", includeZero, map[string]any{
		"batch_size":      cfg.Outbox.BatchSize,
		"max_attempts":    cfg.Outbox.MaxAttempts,
		"initial_backoff": cfg.Outbox.InitialBackoff,
		"max_backoff":     cfg.Outbox.MaxBackoff,
		"deferred":        cfg.Outbox.Deferred,
	})
	setSection(layer, "storage", includeZero, map[string]any{
		"driver":          cfg.Storage.Driver,
		"dsn":             cfg.Storage.DSN,
		"endpoints_table": cfg.Storage.EndpointsTable,
		"users_table":     cfg.Storage.UsersTable,
		"cache_ttl":       cfg.Storage.CacheTTL,
	})
	setSection(layer, "mqtt", includeZero, map[string]any{
		"broker":       cfg.MQTT.Broker,
		"client_id":    cfg.MQTT.ClientID,
		"username":     cfg.MQTT.Username,
		"password":     cfg.MQTT.Password,
		"topic_prefix": cfg.MQTT.TopicPrefix,
		"qos":          cfg.MQTT.QoS,
	})
	setSection(layer, "logging", includeZero, map[string]any{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	})
	setSection(layer, "validation", includeZero, map[string]any{
		"disable_envelopes": cfg.Validation.DisableEnvelopes,
	})
	return layer
}

// setSection keeps only non-zero values unless includeZero is set, so a
// sparse runtime layer does not clobber lower layers.
func setSection(layer map[string]any, name string, includeZero bool, values map[string]any) {
	section := map[string]any{}
	for key, value := range values {
		if includeZero || !isZeroLayerValue(value) {
			section[key] = value
		}
	}
	if includeZero || len(section) > 0 {
		layer[name] = section
	}
}

func isZeroLayerValue(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case int:
		return typed == 0
	case bool:
		return !typed
	case time.Duration:
		return typed == 0
	default:
		return false
	}
}
