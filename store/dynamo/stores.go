package dynamo

import (
	"errors"

	"github.com/goliatone/go-smarthome/core"
)

// Stores bundles the DynamoDB registry and credential store. The lifecycle
// outbox stays in memory since the tables carry no outbox.
type Stores struct {
	endpoints   *EndpointStore
	credentials *CredentialStore
	outbox      core.OutboxStore
}

func NewStores(client API, cfg core.StorageConfig) (*Stores, error) {
	endpoints, err := NewEndpointStore(client, cfg.EndpointsTable)
	if err != nil {
		return nil, err
	}
	credentials, err := NewCredentialStore(client, cfg.UsersTable)
	if err != nil {
		return nil, err
	}
	return &Stores{
		endpoints:   endpoints,
		credentials: credentials,
		outbox:      core.NewMemoryOutboxStore(),
	}, nil
}

func (s *Stores) EndpointRegistry() core.EndpointRegistry { return s.endpoints }

func (s *Stores) CredentialStore() core.CredentialStore { return s.credentials }

func (s *Stores) OutboxStore() core.OutboxStore { return s.outbox }

func joinFailures(failures []error) error {
	if len(failures) == 0 {
		return nil
	}
	return errors.Join(failures...)
}

var (
	_ core.EndpointRegistry = (*EndpointStore)(nil)
	_ core.CredentialStore  = (*CredentialStore)(nil)
	_ core.StoreProvider    = (*Stores)(nil)
)
