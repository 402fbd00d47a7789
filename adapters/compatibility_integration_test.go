package adapters_test

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	"github.com/goliatone/go-smarthome/adapters/gocommand"
	"github.com/goliatone/go-smarthome/adapters/gojob"
	"github.com/goliatone/go-smarthome/adapters/gologger"
	"github.com/goliatone/go-smarthome/alexa"
	smarthomecommand "github.com/goliatone/go-smarthome/command"
	"github.com/goliatone/go-smarthome/core"
	"github.com/goliatone/go-smarthome/inbound"
)

func TestRuntimeCompatibility_GoJobGoCommandGoLogger(t *testing.T) {
	ctx := context.Background()

	var out bytes.Buffer
	provider := gologger.NewSlogProvider(gologger.Options{Level: "debug", Service: "smarthome", Output: &out})

	_, _, jobProvider, jobLogger := gologger.ResolveForJob("smarthome", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	enqueueProbe := &compatEnqueuer{}
	notifier := gojob.NewOutboxNotifier(gojob.NewEnqueuerAdapter(enqueueProbe), 10)
	if err := notifier.NotifyPending(ctx); err != nil {
		t.Fatalf("notify via gojob adapter: %v", err)
	}
	if enqueueProbe.last == nil || enqueueProbe.last.JobID != gojob.JobIDOutboxDispatch {
		t.Fatalf("expected go-job message mapping through enqueuer adapter")
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	bus := gocommand.NewBus(command.NewRegistry())
	defer bus.Close()
	if err := bus.MirrorToQueue(queueRegistry); err != nil {
		t.Fatalf("mirror to queue: %v", err)
	}
	if err := gocommand.RegisterCommand[compatMessage](bus, command.CommandFunc[compatMessage](func(context.Context, compatMessage) error {
		return nil
	})); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get("smarthome.compat.command"); !ok {
		t.Fatalf("expected command resolver hook to mirror command into go-job queue registry")
	}
}

// Deferred outbox mode: a create through the HTTP surface enqueues a
// dispatch job; the worker drains it through the service dispatcher with
// slog backed logging.
func TestRuntimeCompatibility_DeferredOutboxThroughWorker(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	provider := gologger.NewSlogProvider(gologger.Options{Level: "debug", Format: "json", Output: &out})

	queue := &compatQueue{}
	cfg := core.DefaultConfig()
	cfg.Auth.ClientID = "client-id"
	cfg.Auth.ClientSecret = "client-secret"
	cfg.Outbox.Deferred = true

	delivered := 0
	svc, err := core.NewService(cfg,
		core.WithLoggerProvider(provider),
		core.WithOutboxNotifier(gojob.NewOutboxNotifier(gojob.NewEnqueuerAdapter(queue), 5)),
		core.WithProjector("count", compatProjector(func(context.Context, core.LifecycleEvent) error {
			delivered++
			return nil
		})),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	d := inbound.NewDispatcher(svc, inbound.NewInMemoryClaimStore(), provider.GetLogger("inbound"))
	resp := d.Dispatch(ctx, inbound.Request{Method: http.MethodPost, Path: "/endpoints", Body: []byte(`{"userId":"u1"}`)})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", resp.StatusCode, resp.Body)
	}
	if delivered != 0 {
		t.Fatalf("deferred mode must not dispatch inline")
	}
	if len(queue.messages) != 1 {
		t.Fatalf("expected one dispatch job queued, got %d", len(queue.messages))
	}

	worker := gojob.NewOutboxWorker(
		gojob.NewDequeuerAdapter(queue),
		svc.Dispatcher(),
		gojob.NewLoggingHook(provider.GetLogger("worker")),
		provider.GetLogger("worker"),
		gojob.WorkerConfig{},
	)
	processed, err := worker.ProcessNext(ctx)
	if err != nil || !processed {
		t.Fatalf("worker pass: %t %v", processed, err)
	}
	if delivered != 1 {
		t.Fatalf("expected the add-or-update event delivered, got %d", delivered)
	}
	if !strings.Contains(out.String(), "outbox job succeeded") {
		t.Fatalf("expected worker hook log line, got %s", out.String())
	}
}

func TestRuntimeCompatibility_InboundCommandDispatchThroughWrappers(t *testing.T) {
	svc := &compatMutatingService{}
	bus := gocommand.NewBus(command.NewRegistry())
	defer bus.Close()

	if err := gocommand.RegisterCommand[smarthomecommand.CreateEndpointMessage](bus, smarthomecommand.NewCreateEndpointCommand(svc)); err != nil {
		t.Fatalf("register create wrapper: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize adapter: %v", err)
	}

	if err := gocommand.Dispatch(context.Background(), smarthomecommand.CreateEndpointMessage{Body: []byte(`{"userId":"u7"}`)}); err != nil {
		t.Fatalf("dispatch create: %v", err)
	}
	if svc.createCalls != 1 || svc.lastBody != `{"userId":"u7"}` {
		t.Fatalf("expected create wrapper invocation, got %d %q", svc.createCalls, svc.lastBody)
	}
}

type compatMessage struct{}

func (compatMessage) Type() string { return "smarthome.compat.command" }

type compatEnqueuer struct {
	last *job.ExecutionMessage
}

func (e *compatEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	e.last = msg
	return nil
}

type compatProjector func(context.Context, core.LifecycleEvent) error

func (fn compatProjector) Handle(ctx context.Context, event core.LifecycleEvent) error {
	return fn(ctx, event)
}

type compatMutatingService struct {
	createCalls int
	lastBody    string
}

func (s *compatMutatingService) CreateEndpoint(_ context.Context, raw []byte) (core.EndpointDescriptor, error) {
	s.createCalls++
	s.lastBody = string(raw)
	return core.EndpointDescriptor{EndpointID: "e7", UserID: "u7"}, nil
}

func (s *compatMutatingService) DeleteEndpoints(context.Context, []byte) (core.DeleteResult, error) {
	return core.DeleteResult{}, nil
}

func (s *compatMutatingService) UpdateEndpoint(context.Context, []byte) error {
	return core.NewUnsupportedOperationError("update")
}

func (s *compatMutatingService) UpdateEndpointStates(context.Context, []byte) error {
	return core.NewUnsupportedOperationError("update_states")
}

func (s *compatMutatingService) RouteDirective(context.Context, []byte) alexa.Envelope {
	return alexa.Envelope{}
}

func (s *compatMutatingService) SendChangeReport(context.Context, core.ChangeReportRequest) (core.GatewayAck, error) {
	return core.GatewayAck{}, nil
}

func (s *compatMutatingService) ExchangeGrant(context.Context, core.ExchangeGrantRequest) (core.Credential, error) {
	return core.Credential{}, nil
}

func (s *compatMutatingService) DispatchOutbox(context.Context, int) (core.DispatchStats, error) {
	return core.DispatchStats{}, nil
}

type compatQueue struct {
	messages []*job.ExecutionMessage
}

func (q *compatQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	q.messages = append(q.messages, msg)
	return nil
}

func (q *compatQueue) Dequeue(context.Context) (queue.Delivery, error) {
	if len(q.messages) == 0 {
		return nil, nil
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return &compatDelivery{msg: msg, queue: q}, nil
}

type compatDelivery struct {
	msg   *job.ExecutionMessage
	queue *compatQueue
}

func (d *compatDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *compatDelivery) Ack(context.Context) error { return nil }

func (d *compatDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if opts.Requeue {
		d.queue.messages = append(d.queue.messages, d.msg)
	}
	return nil
}
