package sqlstore

import "github.com/goliatone/go-smarthome/core"

var (
	_ core.EndpointRegistry       = (*EndpointStore)(nil)
	_ core.CredentialStore        = (*CredentialStore)(nil)
	_ core.OutboxStore            = (*OutboxStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
