package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-smarthome/core"
)

// Outbox row states. pending rows are claimable once next_attempt_at has
// passed; processing rows belong to the worker that claimed them.
const (
	outboxStatusPending    = "pending"
	outboxStatusProcessing = "processing"
	outboxStatusDelivered  = "delivered"
	outboxStatusFailed     = "failed"
)

// OutboxStore is the durable lifecycle outbox.
type OutboxStore struct {
	db   *bun.DB
	repo repository.Repository[*lifecycleOutboxRecord]
	now  func() time.Time
}

func NewOutboxStore(db *bun.DB) (*OutboxStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*lifecycleOutboxRecord](db, outboxHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid outbox repository wiring: %w", err)
		}
	}
	return &OutboxStore{db: db, repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *OutboxStore) ready() error {
	if s == nil || s.db == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: outbox store is not configured")
	}
	return nil
}

// Enqueue stores event as pending. Metadata is redacted before it is
// written; an empty event id is assigned.
func (s *OutboxStore) Enqueue(ctx context.Context, event core.LifecycleEvent) error {
	if err := s.ready(); err != nil {
		return err
	}
	name := strings.TrimSpace(event.Name)
	if name == "" {
		return core.NewValidationError("name", "outbox event name is required")
	}
	endpointID := strings.TrimSpace(event.EndpointID)
	if endpointID == "" {
		return core.NewValidationError("endpointId", "outbox endpoint id is required")
	}
	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		eventID = uuid.NewString()
	}

	now := s.now()
	occurredAt := now
	if !event.OccurredAt.IsZero() {
		occurredAt = event.OccurredAt.UTC()
	}
	_, err := s.repo.Create(ctx, &lifecycleOutboxRecord{
		ID:         uuid.NewString(),
		EventID:    eventID,
		EventName:  name,
		EndpointID: endpointID,
		UserID:     strings.TrimSpace(event.UserID),
		Source:     strings.TrimSpace(event.Source),
		Payload:    copyAnyMap(event.Payload),
		Metadata:   core.RedactSensitiveMap(event.Metadata),
		Delivered:  []string{},
		Status:     outboxStatusPending,
		OccurredAt: occurredAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return core.NewStorageError("outbox enqueue", err)
	}
	return nil
}

// ClaimBatch moves up to limit due rows to processing, oldest first. The
// update re-checks the pending status so a row claimed by a concurrent
// worker between the select and the update is skipped.
func (s *OutboxStore) ClaimBatch(ctx context.Context, limit int) ([]core.LifecycleEvent, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	limit = max(limit, 1)
	now := s.now()

	var claimed []lifecycleOutboxRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var due []string
		err := tx.NewSelect().
			Model((*lifecycleOutboxRecord)(nil)).
			Column("id").
			Where("status = ?", outboxStatusPending).
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("next_attempt_at IS NULL").WhereOr("next_attempt_at <= ?", now)
			}).
			OrderExpr("occurred_at ASC, created_at ASC").
			Limit(limit).
			Scan(ctx, &due)
		if err != nil || len(due) == 0 {
			return err
		}
		return tx.NewUpdate().
			Model((*lifecycleOutboxRecord)(nil)).
			Set("status = ?", outboxStatusProcessing).
			Set("updated_at = ?", now).
			Where("id IN (?)", bun.In(due)).
			Where("status = ?", outboxStatusPending).
			Returning("*").
			Scan(ctx, &claimed)
	})
	if err != nil {
		return nil, core.NewStorageError("outbox claim", err)
	}

	events := make([]core.LifecycleEvent, 0, len(claimed))
	for _, record := range claimed {
		events = append(events, record.toEvent())
	}
	return events, nil
}

func (s *OutboxStore) Ack(ctx context.Context, eventID string) error {
	return s.settle(ctx, "outbox ack", eventID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("status = ?", outboxStatusDelivered).
			Set("last_error = ''").
			Set("next_attempt_at = NULL")
	})
}

// Retry reschedules the event at nextAttemptAt. A zero nextAttemptAt marks
// the event failed for good. delivered replaces the stored projector list.
func (s *OutboxStore) Retry(ctx context.Context, eventID string, cause error, nextAttemptAt time.Time, delivered []string) error {
	lastError := ""
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}
	deliveredJSON, err := json.Marshal(append([]string{}, delivered...))
	if err != nil {
		return core.NewStorageError("outbox retry", err)
	}
	return s.settle(ctx, "outbox retry", eventID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		q = q.Set("attempts = attempts + 1").
			Set("last_error = ?", lastError).
			Set("delivered = ?", string(deliveredJSON))
		if nextAttemptAt.IsZero() {
			return q.Set("status = ?", outboxStatusFailed).Set("next_attempt_at = NULL")
		}
		return q.Set("status = ?", outboxStatusPending).Set("next_attempt_at = ?", nextAttemptAt.UTC())
	})
}

func (s *OutboxStore) settle(ctx context.Context, operation, eventID string, apply func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	if err := s.ready(); err != nil {
		return err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return core.NewValidationError("eventId", "event id is required")
	}
	q := s.db.NewUpdate().
		Model((*lifecycleOutboxRecord)(nil)).
		Set("updated_at = ?", s.now()).
		Where("event_id = ?", eventID)
	if _, err := apply(q).Exec(ctx); err != nil {
		return core.NewStorageError(operation, err)
	}
	return nil
}

// Status returns the delivery status and attempt count recorded for eventID.
func (s *OutboxStore) Status(ctx context.Context, eventID string) (string, int, error) {
	if err := s.ready(); err != nil {
		return "", 0, err
	}
	var record lifecycleOutboxRecord
	err := s.db.NewSelect().
		Model(&record).
		Column("status", "attempts").
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, fmt.Errorf("sqlstore: outbox event %q not found", eventID)
	}
	if err != nil {
		return "", 0, core.NewStorageError("outbox status", err)
	}
	return record.Status, record.Attempts, nil
}

func (r lifecycleOutboxRecord) toEvent() core.LifecycleEvent {
	metadata := copyAnyMap(r.Metadata)
	metadata[core.MetadataKeyOutboxAttempts] = r.Attempts
	if len(r.Delivered) > 0 {
		metadata[core.MetadataKeyOutboxDelivered] = append([]string(nil), r.Delivered...)
	}
	return core.LifecycleEvent{
		ID:         r.EventID,
		Name:       r.EventName,
		EndpointID: r.EndpointID,
		UserID:     r.UserID,
		Source:     r.Source,
		Payload:    copyAnyMap(r.Payload),
		Metadata:   metadata,
		OccurredAt: r.OccurredAt,
	}
}
