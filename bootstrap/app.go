package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-smarthome/adapters/gocommand"
	"github.com/goliatone/go-smarthome/adapters/gojob"
	"github.com/goliatone/go-smarthome/adapters/gologger"
	"github.com/goliatone/go-smarthome/adapters/mqtt"
	"github.com/goliatone/go-smarthome/core"
	"github.com/goliatone/go-smarthome/identity"
	"github.com/goliatone/go-smarthome/inbound"
	"github.com/goliatone/go-smarthome/providers/amazon"
	"github.com/goliatone/go-smarthome/ratelimit"
	"github.com/goliatone/go-smarthome/store/dynamo"
	"github.com/goliatone/go-smarthome/transport"
)

// Options tune how an App is assembled. The zero value loads no file and
// reads the process environment.
type Options struct {
	ConfigPath string
	Getenv     func(string) string
	// Migrate applies the embedded SQL migrations before the stores open.
	Migrate bool
	// Deferred forces job-queue draining regardless of the config file.
	Deferred bool
	// CommandBus subscribes the service commands and queries on the
	// go-command dispatcher.
	CommandBus bool
	LogOutput  io.Writer
	// HTTPClient is shared by the LWA, profile and gateway clients.
	HTTPClient   *http.Client
	DynamoClient dynamo.API
	ServiceOpts  []core.Option
}

// App is the assembled runtime shared by the Lambda and server entrypoints.
type App struct {
	Config     core.Config
	Service    *core.Service
	Dispatcher *inbound.Dispatcher
	Logger     glog.Logger
	Queue      *gojob.LocalQueue
	Worker     *gojob.OutboxWorker
	Bus        *gocommand.Bus

	closers []func() error
}

func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := LoadConfig(ctx, opts.ConfigPath, opts.Getenv)
	if err != nil {
		return nil, err
	}
	if opts.Deferred {
		cfg.Outbox.Deferred = true
	}

	provider := gologger.NewSlogProvider(gologger.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: cfg.ServiceName,
		Output:  opts.LogOutput,
	})
	logger := provider.GetLogger("bootstrap")
	app := &App{Config: cfg, Logger: logger}

	stores, err := buildStores(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	if stores.close != nil {
		app.closers = append(app.closers, stores.close)
	}

	serviceOpts := []core.Option{core.WithLoggerProvider(provider)}
	serviceOpts = append(serviceOpts, stores.options...)

	clientOpts, err := buildClients(cfg, opts, provider)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	serviceOpts = append(serviceOpts, clientOpts...)

	if cfg.MQTT.Enabled() {
		projector, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.closers = append(app.closers, func() error {
			projector.Close()
			return nil
		})
		serviceOpts = append(serviceOpts, core.WithProjector(mqtt.ProjectorName, projector))
		logger.Info("mqtt projector connected", "broker", cfg.MQTT.Broker, "topic_prefix", cfg.MQTT.TopicPrefix)
	}

	if cfg.Outbox.Deferred {
		app.Queue = gojob.NewLocalQueue()
		notifier := gojob.NewOutboxNotifier(gojob.NewEnqueuerAdapter(app.Queue), cfg.Outbox.BatchSize)
		serviceOpts = append(serviceOpts, core.WithOutboxNotifier(notifier))
	}
	serviceOpts = append(serviceOpts, opts.ServiceOpts...)

	svc, err := core.NewService(cfg, serviceOpts...)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Service = svc
	app.Config = svc.Config()
	app.Dispatcher = inbound.NewDispatcher(svc, inbound.NewInMemoryClaimStore(), provider.GetLogger("inbound"))

	if opts.CommandBus {
		bus := gocommand.NewBus(nil)
		if err := bus.RegisterService(svc); err != nil {
			_ = app.Close()
			return nil, err
		}
		app.closers = append(app.closers, func() error {
			bus.Close()
			return nil
		})
		if err := bus.Initialize(); err != nil {
			_ = app.Close()
			return nil, err
		}
		app.Bus = bus
	}

	if app.Queue != nil {
		workerLogger := provider.GetLogger("outbox-worker")
		app.Worker = gojob.NewOutboxWorker(
			gojob.NewDequeuerAdapter(app.Queue),
			svc.Dispatcher(),
			gojob.NewLoggingHook(workerLogger),
			workerLogger,
			gojob.WorkerConfig{Redelivery: gojob.RedeliveryPolicyFromOutbox(cfg.Outbox)},
		)
	}

	logger.Info("smarthome assembled",
		"storage", cfg.Storage.Driver,
		"deferred_outbox", cfg.Outbox.Deferred,
		"client_credentials", cfg.Auth.HasClientCredentials(),
	)
	return app, nil
}

func buildClients(cfg core.Config, opts Options, provider glog.LoggerProvider) ([]core.Option, error) {
	authCfg := amazon.ConfigFromAuth(cfg.Auth)
	if opts.HTTPClient != nil {
		authCfg.HTTPClient = opts.HTTPClient
	}
	authServer, err := amazon.New(authCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: lwa client: %w", err)
	}

	identityCfg := identity.Config{
		ProfileURL:     cfg.Auth.ProfileURL,
		RequestTimeout: cfg.Auth.RequestTimeout,
	}
	gatewayCfg := transport.GatewayConfigFrom(cfg.Gateway)
	gatewayCfg.Logger = provider.GetLogger("gateway")
	gatewayCfg.Throttle = ratelimit.NewGatewayThrottle(ratelimit.NewMemoryWindowStore())
	if opts.HTTPClient != nil {
		identityCfg.HTTPClient = opts.HTTPClient
		gatewayCfg.HTTPClient = opts.HTTPClient
	}
	gateway, err := transport.NewGatewayClient(gatewayCfg)
	if err != nil {
		return nil, err
	}

	return []core.Option{
		core.WithAuthorizationServer(authServer),
		core.WithIdentityResolver(identity.NewResolver(identityCfg)),
		core.WithEventGateway(gateway),
	}, nil
}

// Close releases broker connections and database handles in reverse order.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
