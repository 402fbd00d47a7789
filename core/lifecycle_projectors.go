package core

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/goliatone/go-smarthome/alexa"
)

const GatewayProjectorName = "alexa-gateway"

type projectorEntry struct {
	name    string
	handler LifecycleEventHandler
}

// LifecycleProjectorRegistry holds projectors sorted by name. Registering an
// existing name replaces its handler in place.
type LifecycleProjectorRegistry struct {
	mu      sync.RWMutex
	entries []projectorEntry
}

func NewLifecycleProjectorRegistry() *LifecycleProjectorRegistry {
	return &LifecycleProjectorRegistry{}
}

// Register ignores blank names and nil handlers.
func (r *LifecycleProjectorRegistry) Register(name string, handler LifecycleEventHandler) {
	name = strings.TrimSpace(name)
	if r == nil || handler == nil || name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i, found := slices.BinarySearchFunc(r.entries, name, func(e projectorEntry, target string) int {
		return strings.Compare(e.name, target)
	})
	if found {
		r.entries[i].handler = handler
		return
	}
	r.entries = slices.Insert(r.entries, i, projectorEntry{name: name, handler: handler})
}

func (r *LifecycleProjectorRegistry) Handlers() []LifecycleEventHandler {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LifecycleEventHandler, len(r.entries))
	for i, entry := range r.entries {
		out[i] = entry.handler
	}
	return out
}

// Names returns the registered projector names in dispatch order.
func (r *LifecycleProjectorRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.entries))
	for i, entry := range r.entries {
		out[i] = entry.name
	}
	return out
}

// GatewayProjector turns lifecycle events into AddOrUpdateReport and
// DeleteReport events on the Alexa event gateway.
type GatewayProjector struct {
	publisher *EventPublisher
}

func NewGatewayProjector(publisher *EventPublisher) *GatewayProjector {
	return &GatewayProjector{publisher: publisher}
}

func (p *GatewayProjector) Handle(ctx context.Context, event LifecycleEvent) error {
	if p == nil || p.publisher == nil {
		return fmt.Errorf("core: gateway projector is not configured")
	}
	userID := strings.TrimSpace(event.UserID)
	switch event.Name {
	case EventEndpointAddOrUpdate:
		descriptor, err := DescriptorFromPayload(event.Payload)
		if err != nil {
			return fmt.Errorf("core: decode endpoint payload for event %q: %w", event.ID, err)
		}
		if userID == "" {
			userID = descriptor.UserID
		}
		_, err = p.publisher.Publish(ctx, userID, func(token string) alexa.Envelope {
			return alexa.NewAddOrUpdateReport(token, []alexa.DiscoveryEndpoint{descriptor.DiscoveryEndpoint()})
		})
		return err
	case EventEndpointDelete:
		endpointID := strings.TrimSpace(event.EndpointID)
		_, err := p.publisher.Publish(ctx, userID, func(token string) alexa.Envelope {
			return alexa.NewDeleteReport(token, []string{endpointID})
		})
		return err
	default:
		return nil
	}
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return maps.Clone(in)
}

var (
	_ ProjectorRegistry     = (*LifecycleProjectorRegistry)(nil)
	_ LifecycleEventHandler = (*GatewayProjector)(nil)
)
