package gojob

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/goliatone/go-smarthome/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// JobIDOutboxDispatch asks a worker to drain pending lifecycle events.
const JobIDOutboxDispatch = "smarthome.outbox.dispatch"

// RedeliveryPolicy decides what happens to a dispatch job whose drain pass
// failed. Delays grow as InitialBackoff·2^(attempt-1) up to MaxBackoff; the
// job is dead-lettered once MaxAttempts passes have failed.
type RedeliveryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RedeliveryPolicyFromOutbox mirrors the outbox event retry settings so a
// failing drain job backs off at the same pace as the events it carries.
func RedeliveryPolicyFromOutbox(cfg core.OutboxConfig) RedeliveryPolicy {
	return RedeliveryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

func (p RedeliveryPolicy) normalized() RedeliveryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultWorkerMaxAttempt
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultRetryDelay
	}
	if p.MaxBackoff > 0 && p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Backoff returns the redelivery delay after the given failed attempt.
func (p RedeliveryPolicy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	delay := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxBackoff > 0 && delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return delay
}

// Decide returns the nack for a failed attempt.
func (p RedeliveryPolicy) Decide(attempt int, reason string) core.JobNackOptions {
	p = p.normalized()
	reason = strings.TrimSpace(reason)
	if attempt >= p.MaxAttempts {
		return core.JobNackOptions{DeadLetter: true, Reason: reason}
	}
	return core.JobNackOptions{Requeue: true, Delay: p.Backoff(attempt), Reason: reason}
}

func encodeMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func decodeMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

// EnqueuerAdapter puts dispatch jobs on a go-job queue.
type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	return a.enqueuer.Enqueue(ctx, encodeMessage(msg))
}

type deliveryAdapter struct {
	delivery queue.Delivery
}

func (d *deliveryAdapter) Message() *core.JobExecutionMessage {
	return decodeMessage(d.delivery.Message())
}

func (d *deliveryAdapter) Ack(ctx context.Context) error {
	return d.delivery.Ack(ctx)
}

func (d *deliveryAdapter) Nack(ctx context.Context, opts core.JobNackOptions) error {
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.DeadLetter {
		opts.Requeue = false
	}
	return d.delivery.Nack(ctx, queue.NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     opts.Reason,
	})
}

// DequeuerAdapter pulls dispatch jobs off a go-job queue.
type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil || delivery == nil {
		return nil, err
	}
	return &deliveryAdapter{delivery: delivery}, nil
}

func cloneParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	maps.Copy(out, in)
	return out
}

var (
	_ core.JobEnqueuer = (*EnqueuerAdapter)(nil)
	_ core.JobDelivery = (*deliveryAdapter)(nil)
	_ core.JobDequeuer = (*DequeuerAdapter)(nil)
)
