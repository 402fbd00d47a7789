package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-smarthome/alexa"
	"github.com/goliatone/go-smarthome/core"
)

// MutatingService is the subset of core.Service the commands drive.
type MutatingService interface {
	CreateEndpoint(ctx context.Context, raw []byte) (core.EndpointDescriptor, error)
	DeleteEndpoints(ctx context.Context, raw []byte) (core.DeleteResult, error)
	UpdateEndpoint(ctx context.Context, raw []byte) error
	UpdateEndpointStates(ctx context.Context, raw []byte) error
	RouteDirective(ctx context.Context, body []byte) alexa.Envelope
	SendChangeReport(ctx context.Context, req core.ChangeReportRequest) (core.GatewayAck, error)
	ExchangeGrant(ctx context.Context, req core.ExchangeGrantRequest) (core.Credential, error)
	DispatchOutbox(ctx context.Context, batchSize int) (core.DispatchStats, error)
}

type CreateEndpointCommand struct {
	service MutatingService
}

func NewCreateEndpointCommand(service MutatingService) *CreateEndpointCommand {
	return &CreateEndpointCommand{service: service}
}

func (c *CreateEndpointCommand) Execute(ctx context.Context, msg CreateEndpointMessage) error {
	if c == nil || c.service == nil {
		return missingService("endpoint")
	}
	out, err := c.service.CreateEndpoint(ctx, msg.Body)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeleteEndpointsCommand struct {
	service MutatingService
}

func NewDeleteEndpointsCommand(service MutatingService) *DeleteEndpointsCommand {
	return &DeleteEndpointsCommand{service: service}
}

func (c *DeleteEndpointsCommand) Execute(ctx context.Context, msg DeleteEndpointsMessage) error {
	if c == nil || c.service == nil {
		return missingService("endpoint")
	}
	out, err := c.service.DeleteEndpoints(ctx, msg.Body)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateEndpointCommand struct {
	service MutatingService
}

func NewUpdateEndpointCommand(service MutatingService) *UpdateEndpointCommand {
	return &UpdateEndpointCommand{service: service}
}

func (c *UpdateEndpointCommand) Execute(ctx context.Context, msg UpdateEndpointMessage) error {
	if c == nil || c.service == nil {
		return missingService("endpoint")
	}
	return c.service.UpdateEndpoint(ctx, msg.Body)
}

type UpdateEndpointStatesCommand struct {
	service MutatingService
}

func NewUpdateEndpointStatesCommand(service MutatingService) *UpdateEndpointStatesCommand {
	return &UpdateEndpointStatesCommand{service: service}
}

func (c *UpdateEndpointStatesCommand) Execute(ctx context.Context, msg UpdateEndpointStatesMessage) error {
	if c == nil || c.service == nil {
		return missingService("endpoint")
	}
	return c.service.UpdateEndpointStates(ctx, msg.Body)
}

// RouteDirectiveCommand stores the response envelope. Routing failures are
// already rendered as ErrorResponse envelopes so Execute only fails on
// missing dependencies.
type RouteDirectiveCommand struct {
	service MutatingService
}

func NewRouteDirectiveCommand(service MutatingService) *RouteDirectiveCommand {
	return &RouteDirectiveCommand{service: service}
}

func (c *RouteDirectiveCommand) Execute(ctx context.Context, msg RouteDirectiveMessage) error {
	if c == nil || c.service == nil {
		return missingService("directive")
	}
	storeResult(ctx, c.service.RouteDirective(ctx, msg.Body))
	return nil
}

type ReportChangeCommand struct {
	service MutatingService
}

func NewReportChangeCommand(service MutatingService) *ReportChangeCommand {
	return &ReportChangeCommand{service: service}
}

func (c *ReportChangeCommand) Execute(ctx context.Context, msg ReportChangeMessage) error {
	if c == nil || c.service == nil {
		return missingService("change report")
	}
	out, err := c.service.SendChangeReport(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ExchangeGrantCommand struct {
	service MutatingService
}

func NewExchangeGrantCommand(service MutatingService) *ExchangeGrantCommand {
	return &ExchangeGrantCommand{service: service}
}

func (c *ExchangeGrantCommand) Execute(ctx context.Context, msg ExchangeGrantMessage) error {
	if c == nil || c.service == nil {
		return missingService("token")
	}
	out, err := c.service.ExchangeGrant(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DispatchOutboxCommand struct {
	service MutatingService
}

func NewDispatchOutboxCommand(service MutatingService) *DispatchOutboxCommand {
	return &DispatchOutboxCommand{service: service}
}

func (c *DispatchOutboxCommand) Execute(ctx context.Context, msg DispatchOutboxMessage) error {
	if c == nil || c.service == nil {
		return missingService("outbox")
	}
	out, err := c.service.DispatchOutbox(ctx, msg.BatchSize)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
