package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// LocalQueue is a process-local go-job queue. Messages sharing an
// idempotency key with the "drop" policy collapse into the pending one.
// Dead-lettered messages are kept for inspection.
type LocalQueue struct {
	mu         sync.Mutex
	pending    []*localEntry
	inflight   map[*localEntry]struct{}
	deadLetter []*job.ExecutionMessage
	now        func() time.Time
}

type localEntry struct {
	msg         *job.ExecutionMessage
	availableAt time.Time
}

func NewLocalQueue() *LocalQueue {
	return &LocalQueue{
		inflight: map[*localEntry]struct{}{},
		now:      time.Now,
	}
}

func (q *LocalQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" && strings.EqualFold(string(msg.DedupPolicy), outboxDedupPolicy) {
		for _, entry := range q.pending {
			if entry.msg.IdempotencyKey == key {
				return nil
			}
		}
	}
	q.pending = append(q.pending, &localEntry{msg: msg, availableAt: q.now()})
	return nil
}

// Dequeue returns the oldest available message or nil when none is due.
func (q *LocalQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for i, entry := range q.pending {
		if entry.availableAt.After(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.inflight[entry] = struct{}{}
		return &localDelivery{queue: q, entry: entry}, nil
	}
	return nil, nil
}

// Len reports pending plus in-flight messages.
func (q *LocalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.inflight)
}

func (q *LocalQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.deadLetter...)
}

func (q *LocalQueue) settle(entry *localEntry, opts *queue.NackOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[entry]; !ok {
		return fmt.Errorf("gojob: delivery already settled")
	}
	delete(q.inflight, entry)
	if opts == nil {
		return nil
	}
	switch {
	case opts.DeadLetter:
		q.deadLetter = append(q.deadLetter, entry.msg)
	case opts.Requeue:
		delay := opts.Delay
		if delay < 0 {
			delay = 0
		}
		entry.availableAt = q.now().Add(delay)
		q.pending = append(q.pending, entry)
	}
	return nil
}

type localDelivery struct {
	queue *LocalQueue
	entry *localEntry
}

func (d *localDelivery) Message() *job.ExecutionMessage {
	return d.entry.msg
}

func (d *localDelivery) Ack(context.Context) error {
	return d.queue.settle(d.entry, nil)
}

func (d *localDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	return d.queue.settle(d.entry, &opts)
}

var (
	_ queue.Enqueuer = (*LocalQueue)(nil)
	_ queue.Dequeuer = (*LocalQueue)(nil)
)
