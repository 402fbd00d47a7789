package gojob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-smarthome/core"
)

const (
	ParamBatchSize          = "batch_size"
	outboxDedupPolicy       = "drop"
	defaultPollInterval     = time.Second
	defaultRetryDelay       = 2 * time.Second
	defaultWorkerMaxAttempt = 5
)

// OutboxNotifier enqueues a dispatch job whenever lifecycle events are
// waiting in the outbox. Repeated notifications share one idempotency key
// so the queue can coalesce them.
type OutboxNotifier struct {
	enqueuer  core.JobEnqueuer
	batchSize int
}

func NewOutboxNotifier(enqueuer core.JobEnqueuer, batchSize int) *OutboxNotifier {
	return &OutboxNotifier{enqueuer: enqueuer, batchSize: batchSize}
}

func (n *OutboxNotifier) NotifyPending(ctx context.Context) error {
	if n == nil || n.enqueuer == nil {
		return fmt.Errorf("gojob: outbox notifier is not configured")
	}
	return n.enqueuer.Enqueue(ctx, NewOutboxDispatchMessage(n.batchSize))
}

// NewOutboxDispatchMessage builds the queue message for one drain pass.
func NewOutboxDispatchMessage(batchSize int) *core.JobExecutionMessage {
	params := map[string]any{}
	if batchSize > 0 {
		params[ParamBatchSize] = batchSize
	}
	return &core.JobExecutionMessage{
		JobID:          JobIDOutboxDispatch,
		ScriptPath:     JobIDOutboxDispatch,
		Parameters:     params,
		IdempotencyKey: JobIDOutboxDispatch,
		DedupPolicy:    outboxDedupPolicy,
	}
}

type WorkerConfig struct {
	PollInterval time.Duration
	Redelivery   RedeliveryPolicy
}

// OutboxWorker pulls dispatch jobs off the queue and drains the outbox
// through the lifecycle dispatcher. Failed passes are nacked with a delay
// until the retry policy gives up.
type OutboxWorker struct {
	dequeuer   core.JobDequeuer
	dispatcher core.LifecycleDispatcher
	hook       core.JobWorkerHook
	logger     glog.Logger
	config     WorkerConfig

	mu       sync.Mutex
	attempts map[string]int
}

func NewOutboxWorker(
	dequeuer core.JobDequeuer,
	dispatcher core.LifecycleDispatcher,
	hook core.JobWorkerHook,
	logger glog.Logger,
	cfg WorkerConfig,
) *OutboxWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	cfg.Redelivery = cfg.Redelivery.normalized()
	if logger == nil {
		logger = glog.Nop()
	}
	return &OutboxWorker{
		dequeuer:   dequeuer,
		dispatcher: dispatcher,
		hook:       hook,
		logger:     logger,
		config:     cfg,
		attempts:   map[string]int{},
	}
}

// Run processes jobs until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		processed, err := w.ProcessNext(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("outbox worker pass failed", "error", err)
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.config.PollInterval):
		}
	}
}

// ProcessNext handles at most one queued job. It reports false when the
// queue had nothing to deliver.
func (w *OutboxWorker) ProcessNext(ctx context.Context) (bool, error) {
	if w == nil || w.dequeuer == nil || w.dispatcher == nil {
		return false, fmt.Errorf("gojob: outbox worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if delivery == nil {
		return false, nil
	}
	msg := delivery.Message()
	if msg == nil || msg.JobID != JobIDOutboxDispatch {
		jobID := ""
		if msg != nil {
			jobID = msg.JobID
		}
		return true, delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     fmt.Sprintf("unsupported job %q", jobID),
		})
	}

	key := attemptKey(msg)
	attempt := w.nextAttempt(key)
	startedAt := time.Now().UTC()
	event := core.JobWorkerEvent{Message: msg, Attempt: attempt, StartedAt: startedAt}
	w.emit(ctx, "start", event)

	stats, dispatchErr := w.dispatcher.DispatchPending(ctx, batchSizeParam(msg))
	event.Duration = time.Since(startedAt)
	if dispatchErr == nil {
		w.resetAttempts(key)
		w.emit(ctx, "success", event)
		w.logger.Debug("outbox drained",
			"claimed", stats.Claimed,
			"delivered", stats.Delivered,
			"retried", stats.Retried,
			"failed", stats.Failed,
		)
		return true, delivery.Ack(ctx)
	}

	nack := w.config.Redelivery.Decide(attempt, dispatchErr.Error())
	event.Err = dispatchErr
	event.Delay = nack.Delay
	if nack.DeadLetter {
		w.resetAttempts(key)
		w.emit(ctx, "failure", event)
	} else {
		w.emit(ctx, "retry", event)
	}
	nackErr := delivery.Nack(ctx, nack)
	if nackErr != nil {
		return true, errors.Join(dispatchErr, nackErr)
	}
	return true, dispatchErr
}

func (w *OutboxWorker) emit(ctx context.Context, phase string, event core.JobWorkerEvent) {
	if w.hook == nil {
		return
	}
	switch phase {
	case "start":
		w.hook.OnStart(ctx, event)
	case "success":
		w.hook.OnSuccess(ctx, event)
	case "retry":
		w.hook.OnRetry(ctx, event)
	default:
		w.hook.OnFailure(ctx, event)
	}
}

func (w *OutboxWorker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *OutboxWorker) resetAttempts(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, key)
}

func attemptKey(msg *core.JobExecutionMessage) string {
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return msg.JobID
}

func batchSizeParam(msg *core.JobExecutionMessage) int {
	switch typed := msg.Parameters[ParamBatchSize].(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	case string:
		parsed, _ := strconv.Atoi(strings.TrimSpace(typed))
		return parsed
	}
	return 0
}

// LoggingHook reports worker lifecycle transitions through glog.
type LoggingHook struct {
	logger glog.Logger
}

func NewLoggingHook(logger glog.Logger) *LoggingHook {
	if logger == nil {
		logger = glog.Nop()
	}
	return &LoggingHook{logger: logger}
}

func (h *LoggingHook) OnStart(_ context.Context, event core.JobWorkerEvent) {
	h.logger.Debug("outbox job started", hookFields(event)...)
}

func (h *LoggingHook) OnSuccess(_ context.Context, event core.JobWorkerEvent) {
	h.logger.Info("outbox job succeeded", hookFields(event)...)
}

func (h *LoggingHook) OnFailure(_ context.Context, event core.JobWorkerEvent) {
	h.logger.Error("outbox job failed", hookFields(event)...)
}

func (h *LoggingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.logger.Warn("outbox job retrying", hookFields(event)...)
}

func hookFields(event core.JobWorkerEvent) []any {
	fields := []any{"attempt", event.Attempt, "duration_ms", event.Duration.Milliseconds()}
	if event.Message != nil {
		fields = append(fields, "job_id", event.Message.JobID)
	}
	if event.Delay > 0 {
		fields = append(fields, "delay", event.Delay.String())
	}
	if event.Err != nil {
		fields = append(fields, "error", event.Err.Error())
	}
	return fields
}

var (
	_ core.OutboxNotifier = (*OutboxNotifier)(nil)
	_ core.JobWorkerHook  = (*LoggingHook)(nil)
)
