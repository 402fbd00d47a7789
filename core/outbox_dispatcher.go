package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// MetadataKeyOutboxAttempts carries the number of failed deliveries of a
// claimed event. Stores set it on claim.
const MetadataKeyOutboxAttempts = "_outbox_attempts"

// MetadataKeyOutboxDelivered lists the projectors that already handled a
// claimed event.
const MetadataKeyOutboxDelivered = "_outbox_delivered"

const (
	defaultOutboxBatchSize      = 50
	defaultOutboxMaxAttempts    = 5
	defaultOutboxInitialBackoff = 2 * time.Second
	defaultOutboxMaxBackoff     = 5 * time.Minute
)

type OutboxDispatcherConfig struct {
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultOutboxDispatcherConfig() OutboxDispatcherConfig {
	return OutboxDispatcherConfig{
		BatchSize:      defaultOutboxBatchSize,
		MaxAttempts:    defaultOutboxMaxAttempts,
		InitialBackoff: defaultOutboxInitialBackoff,
		MaxBackoff:     defaultOutboxMaxBackoff,
	}
}

// DispatcherConfigFrom maps the outbox configuration section.
func DispatcherConfigFrom(cfg OutboxConfig) OutboxDispatcherConfig {
	return OutboxDispatcherConfig{
		BatchSize:      cfg.BatchSize,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

func (c OutboxDispatcherConfig) withDefaults() OutboxDispatcherConfig {
	defaults := DefaultOutboxDispatcherConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	c.MaxBackoff = max(c.MaxBackoff, c.InitialBackoff)
	return c
}

// backoff is the delay before delivery attempt n+1 after n failures.
func (c OutboxDispatcherConfig) backoff(failures int) time.Duration {
	delay := c.InitialBackoff
	for n := 1; n < failures && delay < c.MaxBackoff; n++ {
		delay *= 2
	}
	return min(delay, c.MaxBackoff)
}

// OutboxDispatcher drains pending lifecycle events through the registered
// projectors in name order. A failed event is rescheduled until it has
// failed MaxAttempts times and is then marked failed.
type OutboxDispatcher struct {
	store    OutboxStore
	registry ProjectorRegistry
	config   OutboxDispatcherConfig
	now      func() time.Time
}

func NewOutboxDispatcher(store OutboxStore, registry ProjectorRegistry, config OutboxDispatcherConfig) (*OutboxDispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("core: outbox store is required")
	}
	return &OutboxDispatcher{
		store:    store,
		registry: registry,
		config:   config.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

type deliveryOutcome int

const (
	outcomeDelivered deliveryOutcome = iota
	outcomeRetried
	outcomeFailed
)

// DispatchPending claims up to batchSize events, or the configured batch
// size when batchSize is not positive. Every event is settled; the returned
// error joins all projector and store failures of the pass.
func (d *OutboxDispatcher) DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error) {
	if d == nil || d.store == nil {
		return DispatchStats{}, fmt.Errorf("core: outbox dispatcher is not configured")
	}
	if batchSize <= 0 {
		batchSize = d.config.BatchSize
	}
	events, err := d.store.ClaimBatch(ctx, batchSize)
	if err != nil {
		return DispatchStats{}, NewStorageError("outbox claim", err)
	}

	stats := DispatchStats{Claimed: len(events)}
	var errs []error
	for _, event := range events {
		outcome, err := d.settle(ctx, event)
		switch outcome {
		case outcomeDelivered:
			if err == nil {
				stats.Delivered++
			}
		case outcomeRetried:
			stats.Retried++
		case outcomeFailed:
			stats.Failed++
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return stats, errors.Join(errs...)
}

func (d *OutboxDispatcher) settle(ctx context.Context, event LifecycleEvent) (deliveryOutcome, error) {
	eventID := strings.TrimSpace(event.ID)
	delivered, deliverErr := d.project(ctx, event)
	if deliverErr == nil {
		if err := d.store.Ack(ctx, eventID); err != nil {
			return outcomeDelivered, NewStorageError("outbox ack", err)
		}
		return outcomeDelivered, nil
	}

	failures := priorFailures(event) + 1
	outcome, next := outcomeRetried, d.now().Add(d.config.backoff(failures))
	if failures >= d.config.MaxAttempts {
		outcome, next = outcomeFailed, time.Time{}
	}
	if err := d.store.Retry(ctx, eventID, deliverErr, next, delivered); err != nil {
		return outcome, errors.Join(deliverErr, NewStorageError("outbox retry", err))
	}
	return outcome, deliverErr
}

// project runs every projector that has not handled the event yet and stops
// at the first failure. It returns the names of all projectors that have
// handled the event, including those from earlier attempts.
func (d *OutboxDispatcher) project(ctx context.Context, event LifecycleEvent) ([]string, error) {
	delivered := deliveredProjectors(event)
	if d.registry == nil {
		return delivered, nil
	}
	handlers := d.registry.Handlers()
	var names []string
	if named, ok := d.registry.(interface{ Names() []string }); ok {
		names = named.Names()
	}
	for i, handler := range handlers {
		if handler == nil {
			continue
		}
		name := strconv.Itoa(i)
		if len(names) == len(handlers) {
			name = names[i]
		}
		if slices.Contains(delivered, name) {
			continue
		}
		if err := handler.Handle(ctx, event); err != nil {
			return delivered, fmt.Errorf("core: projector %s failed for %s event %q: %w", name, event.Name, event.ID, err)
		}
		delivered = append(delivered, name)
	}
	return delivered, nil
}

// deliveredProjectors reads MetadataKeyOutboxDelivered, which comes back
// from JSON columns as []any.
func deliveredProjectors(event LifecycleEvent) []string {
	var out []string
	switch v := event.Metadata[MetadataKeyOutboxDelivered].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if name, ok := item.(string); ok {
				out = append(out, name)
			}
		}
	}
	return out
}

// priorFailures reads MetadataKeyOutboxAttempts, which survives JSON and
// attribute-value round trips as int, int64, float64 or string.
func priorFailures(event LifecycleEvent) int {
	var n int
	switch v := event.Metadata[MetadataKeyOutboxAttempts].(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		n = int(v)
	case string:
		n, _ = strconv.Atoi(strings.TrimSpace(v))
	}
	return max(n, 0)
}

func joinErrors(existing error, next error) error {
	if existing == nil {
		return next
	}
	if next == nil {
		return existing
	}
	return errors.Join(existing, next)
}

var _ LifecycleDispatcher = (*OutboxDispatcher)(nil)
