package sqlstore

import (
	"maps"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// keyedRecord is a row with a surrogate uuid primary key and a natural key
// the repository looks records up by. Methods accept nil receivers.
type keyedRecord interface {
	rowID() string
	setRowID(id string)
	naturalKey() string
}

func (r *endpointRecord) rowID() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *endpointRecord) setRowID(id string) {
	if r != nil {
		r.ID = id
	}
}

func (r *endpointRecord) naturalKey() string {
	if r == nil {
		return ""
	}
	return r.EndpointID
}

func (r *credentialRecord) rowID() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *credentialRecord) setRowID(id string) {
	if r != nil {
		r.ID = id
	}
}

func (r *credentialRecord) naturalKey() string {
	if r == nil {
		return ""
	}
	return r.UserID
}

func (r *lifecycleOutboxRecord) rowID() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *lifecycleOutboxRecord) setRowID(id string) {
	if r != nil {
		r.ID = id
	}
}

func (r *lifecycleOutboxRecord) naturalKey() string {
	if r == nil {
		return ""
	}
	return r.EventID
}

// keyedHandlers wires a record type into go-repository-bun. identifier is
// the natural key column.
func keyedHandlers[T keyedRecord](identifier string, newRecord func() T) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			id, err := uuid.Parse(strings.TrimSpace(record.rowID()))
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(record T, id uuid.UUID) {
			record.setRowID(id.String())
		},
		GetIdentifier: func() string { return identifier },
		GetIdentifierValue: func(record T) string {
			return strings.TrimSpace(record.naturalKey())
		},
	}
}

func endpointHandlers() repository.ModelHandlers[*endpointRecord] {
	return keyedHandlers("endpoint_id", func() *endpointRecord { return &endpointRecord{} })
}

func credentialHandlers() repository.ModelHandlers[*credentialRecord] {
	return keyedHandlers("user_id", func() *credentialRecord { return &credentialRecord{} })
}

func outboxHandlers() repository.ModelHandlers[*lifecycleOutboxRecord] {
	return keyedHandlers("event_id", func() *lifecycleOutboxRecord { return &lifecycleOutboxRecord{} })
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return maps.Clone(in)
}
