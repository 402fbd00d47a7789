package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-smarthome/core"
)

type EndpointReader interface {
	ReadEndpoints(ctx context.Context, selector string) ([]core.EndpointDescriptor, error)
	FindEndpointsByUser(ctx context.Context, userID string) ([]core.EndpointDescriptor, error)
}

type EndpointLookup interface {
	Get(ctx context.Context, endpointID string) (core.EndpointDescriptor, error)
}

type AccessTokenReader interface {
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
}

type ReadEndpointsQuery struct {
	reader EndpointReader
}

func NewReadEndpointsQuery(reader EndpointReader) *ReadEndpointsQuery {
	return &ReadEndpointsQuery{reader: reader}
}

func (q *ReadEndpointsQuery) Query(ctx context.Context, msg ReadEndpointsMessage) ([]core.EndpointDescriptor, error) {
	if q == nil || q.reader == nil {
		return nil, missingDependency("endpoint reader")
	}
	return q.reader.ReadEndpoints(ctx, msg.Selector)
}

// GetEndpointQuery reads a single descriptor straight from the registry.
type GetEndpointQuery struct {
	lookup EndpointLookup
}

func NewGetEndpointQuery(lookup EndpointLookup) *GetEndpointQuery {
	return &GetEndpointQuery{lookup: lookup}
}

func (q *GetEndpointQuery) Query(ctx context.Context, msg GetEndpointMessage) (core.EndpointDescriptor, error) {
	if q == nil || q.lookup == nil {
		return core.EndpointDescriptor{}, missingDependency("endpoint registry")
	}
	endpoint, err := q.lookup.Get(ctx, strings.TrimSpace(msg.EndpointID))
	if err != nil {
		return core.EndpointDescriptor{}, endpointNotFound(err, msg.EndpointID)
	}
	return endpoint, nil
}

type FindEndpointsByUserQuery struct {
	reader EndpointReader
}

func NewFindEndpointsByUserQuery(reader EndpointReader) *FindEndpointsByUserQuery {
	return &FindEndpointsByUserQuery{reader: reader}
}

func (q *FindEndpointsByUserQuery) Query(
	ctx context.Context,
	msg FindEndpointsByUserMessage,
) ([]core.EndpointDescriptor, error) {
	if q == nil || q.reader == nil {
		return nil, missingDependency("endpoint reader")
	}
	return q.reader.FindEndpointsByUser(ctx, strings.TrimSpace(msg.UserID))
}

// GetAccessTokenQuery returns a usable access token, refreshing the stored
// credential when it is inside the expiry buffer.
type GetAccessTokenQuery struct {
	reader AccessTokenReader
}

func NewGetAccessTokenQuery(reader AccessTokenReader) *GetAccessTokenQuery {
	return &GetAccessTokenQuery{reader: reader}
}

func (q *GetAccessTokenQuery) Query(ctx context.Context, msg GetAccessTokenMessage) (string, error) {
	if q == nil || q.reader == nil {
		return "", missingDependency("token reader")
	}
	return q.reader.GetValidAccessToken(ctx, strings.TrimSpace(msg.UserID))
}
