package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-smarthome/alexa"
	"github.com/goliatone/go-smarthome/core"
)

// EndpointStore persists endpoint descriptors in smarthome_endpoints. The
// endpoint id is unique; the surrogate uuid id only serves the repository.
type EndpointStore struct {
	db   *bun.DB
	repo repository.Repository[*endpointRecord]
}

func NewEndpointStore(db *bun.DB) (*EndpointStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*endpointRecord](db, endpointHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid endpoint repository wiring: %w", err)
		}
	}
	return &EndpointStore{db: db, repo: repo}, nil
}

func (s *EndpointStore) Upsert(ctx context.Context, endpoint core.EndpointDescriptor) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: endpoint store is not configured")
	}
	endpoint.EndpointID = strings.TrimSpace(endpoint.EndpointID)
	endpoint.UserID = strings.TrimSpace(endpoint.UserID)
	if err := endpoint.Validate(); err != nil {
		return err
	}
	if err := alexa.ValidateCapabilityList(endpoint.Capabilities); err != nil {
		return core.NewStorageError("endpoint upsert", err)
	}

	now := time.Now().UTC()
	record := newEndpointRecord(endpoint, now)
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (endpoint_id) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("friendly_name = EXCLUDED.friendly_name").
		Set("description = EXCLUDED.description").
		Set("manufacturer_name = EXCLUDED.manufacturer_name").
		Set("display_categories = EXCLUDED.display_categories").
		Set("capabilities = EXCLUDED.capabilities").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.NewStorageError("endpoint upsert", err)
	}
	return nil
}

func (s *EndpointStore) Get(ctx context.Context, endpointID string) (core.EndpointDescriptor, error) {
	if s == nil || s.repo == nil {
		return core.EndpointDescriptor{}, fmt.Errorf("sqlstore: endpoint store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("endpoint_id", "=", strings.TrimSpace(endpointID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.EndpointDescriptor{}, core.NewStorageError("endpoint get", err)
	}
	if len(records) == 0 {
		return core.EndpointDescriptor{}, core.ErrEndpointNotFound
	}
	return records[0].toDomain(), nil
}

func (s *EndpointStore) Delete(ctx context.Context, endpointID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: endpoint store is not configured")
	}
	endpointID = strings.TrimSpace(endpointID)
	if endpointID == "" {
		return core.NewValidationError("endpointId", "endpoint id is required")
	}
	_, err := s.db.NewDelete().
		Model((*endpointRecord)(nil)).
		Where("endpoint_id = ?", endpointID).
		Exec(ctx)
	if err != nil {
		return core.NewStorageError("endpoint delete", err)
	}
	return nil
}

// DeleteAll removes records one by one so a failing row does not abort the
// rest; removed descriptors are returned with the joined failures.
func (s *EndpointStore) DeleteAll(ctx context.Context) ([]core.EndpointDescriptor, error) {
	snapshot, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	deleted := make([]core.EndpointDescriptor, 0, len(snapshot))
	var failures []error
	for _, endpoint := range snapshot {
		if err := s.Delete(ctx, endpoint.EndpointID); err != nil {
			failures = append(failures, fmt.Errorf("endpoint %s: %w", endpoint.EndpointID, err))
			continue
		}
		deleted = append(deleted, endpoint)
	}
	return deleted, errors.Join(failures...)
}

func (s *EndpointStore) List(ctx context.Context) ([]core.EndpointDescriptor, error) {
	return s.selectEndpoints(ctx, "endpoint list", nil)
}

func (s *EndpointStore) FindByUser(ctx context.Context, userID string) ([]core.EndpointDescriptor, error) {
	userID = strings.TrimSpace(userID)
	return s.selectEndpoints(ctx, "endpoint find by user", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.user_id = ?", userID)
	})
}

func (s *EndpointStore) selectEndpoints(
	ctx context.Context,
	operation string,
	filter func(*bun.SelectQuery) *bun.SelectQuery,
) ([]core.EndpointDescriptor, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: endpoint store is not configured")
	}
	var records []endpointRecord
	query := s.db.NewSelect().Model(&records)
	if filter != nil {
		query = filter(query)
	}
	if err := query.Order("endpoint_id ASC").Scan(ctx); err != nil {
		return nil, core.NewStorageError(operation, err)
	}
	out := make([]core.EndpointDescriptor, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func newEndpointRecord(endpoint core.EndpointDescriptor, now time.Time) *endpointRecord {
	categories := append([]string{}, endpoint.DisplayCategories...)
	capabilities := endpoint.Clone().Capabilities
	if capabilities == nil {
		capabilities = []alexa.Capability{}
	}
	return &endpointRecord{
		ID:                uuid.NewString(),
		EndpointID:        endpoint.EndpointID,
		UserID:            endpoint.UserID,
		FriendlyName:      endpoint.FriendlyName,
		Description:       endpoint.Description,
		ManufacturerName:  endpoint.ManufacturerName,
		DisplayCategories: categories,
		Capabilities:      capabilities,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (r endpointRecord) toDomain() core.EndpointDescriptor {
	return core.EndpointDescriptor{
		EndpointID:        strings.TrimSpace(r.EndpointID),
		UserID:            strings.TrimSpace(r.UserID),
		FriendlyName:      r.FriendlyName,
		Description:       r.Description,
		ManufacturerName:  r.ManufacturerName,
		DisplayCategories: append([]string(nil), r.DisplayCategories...),
		Capabilities:      r.Capabilities,
	}.Clone()
}
