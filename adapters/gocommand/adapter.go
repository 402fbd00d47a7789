package gocommand

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	smarthomecommand "github.com/goliatone/go-smarthome/command"
	"github.com/goliatone/go-smarthome/core"
	smarthomequery "github.com/goliatone/go-smarthome/query"
)

// QueueResolverKey names the resolver that mirrors registered commands into
// a go-job queue registry.
const QueueResolverKey = "queue"

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

// Bus owns the go-command registry entries and dispatcher subscriptions of
// one smart-home service. Close releases every subscription it made.
type Bus struct {
	registry *command.Registry

	mu   sync.Mutex
	subs []commanddispatcher.Subscription
}

func NewBus(registry *command.Registry) *Bus {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &Bus{registry: registry}
}

func (b *Bus) Registry() *command.Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

func (b *Bus) AddResolver(key string, resolver command.Resolver) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return b.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// MirrorToQueue makes every command registered before Initialize available
// to go-job workers through queueRegistry.
func (b *Bus) MirrorToQueue(queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return b.AddResolver(QueueResolverKey, jobqueuecommand.QueueResolver(queueRegistry))
}

func (b *Bus) Initialize() error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return b.registry.Initialize()
}

// Close unsubscribes everything the bus subscribed.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

func (b *Bus) track(sub commanddispatcher.Subscription) {
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

// RegisterCommand subscribes cmd on the dispatcher and records it in the
// bus registry. A registry failure rolls the subscription back.
func RegisterCommand[T any](b *Bus, cmd command.Commander[T], runnerOpts ...runner.Option) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return fmt.Errorf("gocommand: command is required")
	}
	sub := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := b.registry.RegisterCommand(cmd); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return err
	}
	b.track(sub)
	return nil
}

func RegisterQuery[T any, R any](b *Bus, qry command.Querier[T, R], runnerOpts ...runner.Option) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return fmt.Errorf("gocommand: query is required")
	}
	sub := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := b.registry.RegisterCommand(qry); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return err
	}
	b.track(sub)
	return nil
}

// RegisterService puts every endpoint lifecycle, directive, change report,
// grant and outbox command plus the endpoint and token queries of svc on
// the bus. On failure the subscriptions made so far are released.
func (b *Bus) RegisterService(svc *core.Service, runnerOpts ...runner.Option) error {
	if svc == nil {
		return fmt.Errorf("gocommand: service is required")
	}
	steps := []func() error{
		func() error {
			return RegisterCommand[smarthomecommand.CreateEndpointMessage](b, smarthomecommand.NewCreateEndpointCommand(svc), runnerOpts...)
		},
		func() error {
			return RegisterCommand[smarthomecommand.DeleteEndpointsMessage](b, smarthomecommand.NewDeleteEndpointsCommand(svc), runnerOpts...)
		},
		func() error {
			return RegisterCommand[smarthomecommand.UpdateEndpointMessage](b, smarthomecommand.NewUpdateEndpointCommand(svc), runnerOpts...)
		},
		func() error {
			return RegisterCommand[smarthomecommand.UpdateEndpointStatesMessage](b, smarthomecommand.NewUpdateEndpointStatesCommand(svc), runnerOpts...)
		},
		func() error {
			return RegisterCommand[smarthomecommand.RouteDirectiveMessage](b, smarthomecommand.NewRouteDirectiveCommand(svc), runnerOpts...)
		},
		func() error {
			return RegisterCommand[smarthomecommand.ReportChangeMessage](b, smarthomecommand.NewReportChangeCommand(svc), runnerOpts...)
		},
		func() error {
			return RegisterCommand[smarthomecommand.ExchangeGrantMessage](b, smarthomecommand.NewExchangeGrantCommand(svc), runnerOpts...)
		},
		func() error {
			return RegisterCommand[smarthomecommand.DispatchOutboxMessage](b, smarthomecommand.NewDispatchOutboxCommand(svc), runnerOpts...)
		},
		func() error {
			return RegisterQuery[smarthomequery.ReadEndpointsMessage, []core.EndpointDescriptor](b, smarthomequery.NewReadEndpointsQuery(svc), runnerOpts...)
		},
		func() error {
			return RegisterQuery[smarthomequery.GetEndpointMessage, core.EndpointDescriptor](b, smarthomequery.NewGetEndpointQuery(svc.Registry()), runnerOpts...)
		},
		func() error {
			return RegisterQuery[smarthomequery.FindEndpointsByUserMessage, []core.EndpointDescriptor](b, smarthomequery.NewFindEndpointsByUserQuery(svc), runnerOpts...)
		},
		func() error {
			return RegisterQuery[smarthomequery.GetAccessTokenMessage, string](b, smarthomequery.NewGetAccessTokenQuery(svc), runnerOpts...)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			b.Close()
			return err
		}
	}
	return nil
}

// Dispatch validates msg and hands it to the subscribed command.
func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}
