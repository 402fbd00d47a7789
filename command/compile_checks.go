package command

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-smarthome/core"
)

var (
	_ gocmd.Commander[CreateEndpointMessage]       = (*CreateEndpointCommand)(nil)
	_ gocmd.Commander[DeleteEndpointsMessage]      = (*DeleteEndpointsCommand)(nil)
	_ gocmd.Commander[UpdateEndpointMessage]       = (*UpdateEndpointCommand)(nil)
	_ gocmd.Commander[UpdateEndpointStatesMessage] = (*UpdateEndpointStatesCommand)(nil)
	_ gocmd.Commander[RouteDirectiveMessage]       = (*RouteDirectiveCommand)(nil)
	_ gocmd.Commander[ReportChangeMessage]         = (*ReportChangeCommand)(nil)
	_ gocmd.Commander[ExchangeGrantMessage]        = (*ExchangeGrantCommand)(nil)
	_ gocmd.Commander[DispatchOutboxMessage]       = (*DispatchOutboxCommand)(nil)

	_ MutatingService = (*core.Service)(nil)
)
