package command

import (
	"bytes"
	"strings"

	"github.com/goliatone/go-smarthome/core"
)

const (
	TypeCreateEndpoint       = "smarthome.command.endpoint.create"
	TypeDeleteEndpoints      = "smarthome.command.endpoint.delete"
	TypeUpdateEndpoint       = "smarthome.command.endpoint.update"
	TypeUpdateEndpointStates = "smarthome.command.endpoint.update_states"
	TypeRouteDirective       = "smarthome.command.directive.route"
	TypeReportChange         = "smarthome.command.change_report.send"
	TypeExchangeGrant        = "smarthome.command.grant.exchange"
	TypeDispatchOutbox       = "smarthome.command.outbox.dispatch"
)

// CreateEndpointMessage carries the raw create body so the lifecycle
// manager can accept every supported envelope shape.
type CreateEndpointMessage struct {
	Body []byte
}

func (CreateEndpointMessage) Type() string { return TypeCreateEndpoint }

func (m CreateEndpointMessage) Validate() error {
	return requireBody(m.Body)
}

type DeleteEndpointsMessage struct {
	Body []byte
}

func (DeleteEndpointsMessage) Type() string { return TypeDeleteEndpoints }

func (m DeleteEndpointsMessage) Validate() error {
	return requireBody(m.Body)
}

type UpdateEndpointMessage struct {
	Body []byte
}

func (UpdateEndpointMessage) Type() string { return TypeUpdateEndpoint }

type UpdateEndpointStatesMessage struct {
	Body []byte
}

func (UpdateEndpointStatesMessage) Type() string { return TypeUpdateEndpointStates }

// RouteDirectiveMessage is not validated: an empty body is answered with
// an ErrorResponse by the router itself.
type RouteDirectiveMessage struct {
	Body []byte
}

func (RouteDirectiveMessage) Type() string { return TypeRouteDirective }

type ReportChangeMessage struct {
	Request core.ChangeReportRequest
}

func (ReportChangeMessage) Type() string { return TypeReportChange }

func (m ReportChangeMessage) Validate() error {
	if strings.TrimSpace(m.Request.UserID) == "" {
		return core.NewValidationError("userId", "userId is required")
	}
	if strings.TrimSpace(m.Request.EndpointID) == "" {
		return core.NewValidationError("endpointId", "endpointId is required")
	}
	return nil
}

type ExchangeGrantMessage struct {
	Request core.ExchangeGrantRequest
}

func (ExchangeGrantMessage) Type() string { return TypeExchangeGrant }

func (m ExchangeGrantMessage) Validate() error {
	if strings.TrimSpace(m.Request.UserID) == "" {
		return core.NewValidationError("userId", "user id is required")
	}
	if strings.TrimSpace(m.Request.GrantCode) == "" {
		return core.NewValidationError("grantCode", "grant code is required")
	}
	return nil
}

type DispatchOutboxMessage struct {
	BatchSize int
}

func (DispatchOutboxMessage) Type() string { return TypeDispatchOutbox }

func (m DispatchOutboxMessage) Validate() error {
	if m.BatchSize < 0 {
		return core.NewValidationError("batchSize", "batch size must be >= 0")
	}
	return nil
}

func requireBody(body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return core.NewValidationError("body", "request body is required")
	}
	return nil
}
