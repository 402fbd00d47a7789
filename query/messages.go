package query

import (
	"strings"

	"github.com/goliatone/go-smarthome/core"
)

const (
	TypeReadEndpoints       = "smarthome.query.endpoints.read"
	TypeGetEndpoint         = "smarthome.query.endpoint.get"
	TypeFindEndpointsByUser = "smarthome.query.endpoints.by_user"
	TypeGetAccessToken      = "smarthome.query.token.access"
)

// ReadEndpointsMessage selects endpoints by resource path. An empty
// selector reads the whole registry.
type ReadEndpointsMessage struct {
	Selector string
}

func (ReadEndpointsMessage) Type() string { return TypeReadEndpoints }

func (ReadEndpointsMessage) Validate() error { return nil }

type GetEndpointMessage struct {
	EndpointID string
}

func (GetEndpointMessage) Type() string { return TypeGetEndpoint }

func (m GetEndpointMessage) Validate() error {
	if strings.TrimSpace(m.EndpointID) == "" {
		return core.NewValidationError("endpointId", "endpoint id is required")
	}
	return nil
}

type FindEndpointsByUserMessage struct {
	UserID string
}

func (FindEndpointsByUserMessage) Type() string { return TypeFindEndpointsByUser }

func (m FindEndpointsByUserMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return core.NewValidationError("userId", "user id is required")
	}
	return nil
}

type GetAccessTokenMessage struct {
	UserID string
}

func (GetAccessTokenMessage) Type() string { return TypeGetAccessToken }

func (m GetAccessTokenMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return core.NewValidationError("userId", "user id is required")
	}
	return nil
}
