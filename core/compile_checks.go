package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ EndpointRegistry    = (*MemoryEndpointRegistry)(nil)
	_ CredentialStore     = (*MemoryCredentialStore)(nil)
	_ OutboxStore         = (*MemoryOutboxStore)(nil)
	_ LifecycleDispatcher = (*OutboxDispatcher)(nil)
	_ ProjectorRegistry   = (*LifecycleProjectorRegistry)(nil)
	_ CredentialLocker    = (*MemoryCredentialLocker)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
