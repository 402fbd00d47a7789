package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-smarthome/core"
)

var (
	_ gocmd.Querier[ReadEndpointsMessage, []core.EndpointDescriptor]       = (*ReadEndpointsQuery)(nil)
	_ gocmd.Querier[GetEndpointMessage, core.EndpointDescriptor]           = (*GetEndpointQuery)(nil)
	_ gocmd.Querier[FindEndpointsByUserMessage, []core.EndpointDescriptor] = (*FindEndpointsByUserQuery)(nil)
	_ gocmd.Querier[GetAccessTokenMessage, string]                         = (*GetAccessTokenQuery)(nil)

	_ EndpointReader    = (*core.Service)(nil)
	_ AccessTokenReader = (*core.Service)(nil)
	_ EndpointLookup    = (core.EndpointRegistry)(nil)
)
