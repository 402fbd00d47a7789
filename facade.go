package smarthome

import (
	"fmt"

	"github.com/goliatone/go-smarthome/command"
	"github.com/goliatone/go-smarthome/core"
	"github.com/goliatone/go-smarthome/query"
)

type CommandQueryService interface {
	command.MutatingService
	query.EndpointReader
	query.AccessTokenReader
}

type Commands struct {
	CreateEndpoint       *command.CreateEndpointCommand
	DeleteEndpoints      *command.DeleteEndpointsCommand
	UpdateEndpoint       *command.UpdateEndpointCommand
	UpdateEndpointStates *command.UpdateEndpointStatesCommand
	RouteDirective       *command.RouteDirectiveCommand
	ReportChange         *command.ReportChangeCommand
	ExchangeGrant        *command.ExchangeGrantCommand
	DispatchOutbox       *command.DispatchOutboxCommand
}

type Queries struct {
	ReadEndpoints       *query.ReadEndpointsQuery
	GetEndpoint         *query.GetEndpointQuery
	FindEndpointsByUser *query.FindEndpointsByUserQuery
	GetAccessToken      *query.GetAccessTokenQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	lookup query.EndpointLookup
}

// WithEndpointLookup overrides the registry used by the GetEndpoint query.
func WithEndpointLookup(lookup query.EndpointLookup) FacadeOption {
	return func(options *facadeOptions) {
		options.lookup = lookup
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("smarthome: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	lookup := cfg.lookup
	if lookup == nil {
		lookup = resolveEndpointLookup(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		CreateEndpoint:       command.NewCreateEndpointCommand(service),
		DeleteEndpoints:      command.NewDeleteEndpointsCommand(service),
		UpdateEndpoint:       command.NewUpdateEndpointCommand(service),
		UpdateEndpointStates: command.NewUpdateEndpointStatesCommand(service),
		RouteDirective:       command.NewRouteDirectiveCommand(service),
		ReportChange:         command.NewReportChangeCommand(service),
		ExchangeGrant:        command.NewExchangeGrantCommand(service),
		DispatchOutbox:       command.NewDispatchOutboxCommand(service),
	}
	facade.queries = Queries{
		ReadEndpoints:       query.NewReadEndpointsQuery(service),
		GetEndpoint:         query.NewGetEndpointQuery(lookup),
		FindEndpointsByUser: query.NewFindEndpointsByUserQuery(service),
		GetAccessToken:      query.NewGetAccessTokenQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

func resolveEndpointLookup(service CommandQueryService) query.EndpointLookup {
	if lookup, ok := service.(query.EndpointLookup); ok {
		return lookup
	}
	if provider, ok := service.(interface{ Registry() core.EndpointRegistry }); ok {
		if registry := provider.Registry(); registry != nil {
			return registry
		}
	}
	if provider, ok := service.(interface {
		Dependencies() core.ServiceDependencies
	}); ok {
		if registry := provider.Dependencies().EndpointRegistry; registry != nil {
			return registry
		}
	}
	return nil
}

var _ CommandQueryService = (*core.Service)(nil)
