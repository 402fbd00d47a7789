package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-smarthome/alexa"
)

const (
	messageEmptyBody         = "Empty Body"
	messageUnhandled         = "Empty Response: No response processed. Unhandled Directive."
	messageUnsupportedAPI    = "This skill only supports Smart Home API version 3"
	messageUserResolution    = "Unable to resolve user for token"
	messageUnknownEndpoint   = "Endpoint is not registered"
	messageDiscoveryFailed   = "Unable to load endpoints for user"
	messageGrantFailed       = "Unable to complete authorization grant"
	messageReportStateFailed = "Unable to load endpoint state"
)

// DirectiveRouter answers inbound directives. Route never fails: every
// failure is rendered as an Alexa ErrorResponse envelope.
type DirectiveRouter struct {
	registry  EndpointRegistry
	tokens    *TokenManager
	identity  IdentityResolver
	auth      AuthConfig
	validator EnvelopeValidator
	now       func() time.Time
	obs       *observer
}

func (r *DirectiveRouter) Route(ctx context.Context, body []byte) alexa.Envelope {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	var routeErr error

	response := r.route(ctx, body, fields, &routeErr)
	if response.IsError() {
		fields["error_type"] = response.ErrorType()
		if routeErr == nil {
			routeErr = errors.New(response.ErrorMessage())
		}
	}
	r.validateResponse(ctx, response)
	fields["response"] = response.Name()
	r.obs.observe(ctx, startedAt, "route_directive", routeErr, fields)
	return response
}

func (r *DirectiveRouter) route(ctx context.Context, body []byte, fields map[string]any, routeErr *error) alexa.Envelope {
	directive, err := alexa.ParseDirective(body)
	if err != nil {
		*routeErr = err
		if errors.Is(err, alexa.ErrEmptyDirective) {
			return alexa.NewInternalError(messageEmptyBody)
		}
		return alexa.NewInternalError(err.Error())
	}

	header := directive.DirectiveHeader()
	fields["directive"] = header.Namespace + "." + header.Name
	fields["message_id"] = header.MessageID
	if header.PayloadVersion != alexa.PayloadVersion {
		return alexa.NewErrorResponse(alexa.ErrorTypeInvalidVersion, messageUnsupportedAPI, "", "", header.CorrelationToken)
	}

	switch d := directive.(type) {
	case alexa.DiscoverDirective:
		return r.discover(ctx, d, fields, routeErr)
	case alexa.ReportStateDirective:
		return r.reportState(ctx, d, fields, routeErr)
	case alexa.AcceptGrantDirective:
		return r.acceptGrant(ctx, d, fields, routeErr)
	case alexa.UnknownDirective:
		return alexa.NewErrorResponse(alexa.ErrorTypeInternal, messageUnhandled, "", "", header.CorrelationToken)
	default:
		return alexa.NewErrorResponse(alexa.ErrorTypeInternal, messageUnhandled, "", "", header.CorrelationToken)
	}
}

func (r *DirectiveRouter) discover(ctx context.Context, d alexa.DiscoverDirective, fields map[string]any, routeErr *error) alexa.Envelope {
	userID, err := r.resolveUser(ctx, d.Token)
	if err != nil {
		*routeErr = err
		return alexa.NewInternalError(messageUserResolution)
	}
	fields["user_id"] = userID

	endpoints, err := r.registry.FindByUser(ctx, userID)
	if err != nil {
		*routeErr = NewStorageError("endpoint find by user", err)
		return alexa.NewInternalError(messageDiscoveryFailed)
	}
	discovered := make([]alexa.DiscoveryEndpoint, 0, len(endpoints))
	for _, endpoint := range endpoints {
		discovered = append(discovered, endpoint.DiscoveryEndpoint())
	}
	fields["endpoints"] = len(discovered)
	return alexa.NewDiscoverResponse(discovered)
}

func (r *DirectiveRouter) reportState(ctx context.Context, d alexa.ReportStateDirective, fields map[string]any, routeErr *error) alexa.Envelope {
	correlation := d.Header.CorrelationToken
	fields["endpoint_id"] = d.EndpointID
	userID, err := r.resolveUser(ctx, d.Token)
	if err != nil {
		*routeErr = err
		return alexa.NewErrorResponse(alexa.ErrorTypeInternal, messageUserResolution, d.EndpointID, d.Token, correlation)
	}
	fields["user_id"] = userID

	endpoint, err := r.registry.Get(ctx, d.EndpointID)
	if err != nil {
		if errors.Is(err, ErrEndpointNotFound) {
			*routeErr = err
			return alexa.NewErrorResponse(alexa.ErrorTypeNoSuchEndpoint, messageUnknownEndpoint, d.EndpointID, d.Token, correlation)
		}
		*routeErr = NewStorageError("endpoint get", err)
		return alexa.NewErrorResponse(alexa.ErrorTypeInternal, messageReportStateFailed, d.EndpointID, d.Token, correlation)
	}

	sampledAt := r.now()
	properties := make([]alexa.Property, 0, len(endpoint.Capabilities))
	for _, capability := range endpoint.RetrievableCapabilities() {
		name, ok := capability.PrimaryProperty()
		if !ok {
			continue
		}
		value, ok := DefaultStateValues[capability.Interface]
		if !ok {
			continue
		}
		properties = append(properties, alexa.NewProperty(capability.Interface, name, value, sampledAt))
	}
	return alexa.NewStateReport(d.EndpointID, d.Token, correlation, properties)
}

func (r *DirectiveRouter) acceptGrant(ctx context.Context, d alexa.AcceptGrantDirective, fields map[string]any, routeErr *error) alexa.Envelope {
	if d.GranteeToken == DevelopmentGranteeToken {
		fields["user_id"] = DevelopmentUserID
		fields["development"] = true
		if _, err := r.tokens.IssueDevelopmentCredential(ctx, d.GrantCode, r.auth.ClientID, r.auth.ClientSecret); err != nil {
			*routeErr = err
			return alexa.NewInternalError(messageGrantFailed)
		}
		return alexa.NewAcceptGrantResponse()
	}

	if !r.auth.HasClientCredentials() {
		*routeErr = NewClientCredentialsError()
		return alexa.NewInternalError(clientCredentialsMissingDetail)
	}
	userID, err := r.resolveUser(ctx, d.GranteeToken)
	if err != nil {
		*routeErr = err
		return alexa.NewInternalError(messageUserResolution)
	}
	fields["user_id"] = userID

	if _, err := r.tokens.ExchangeGrant(ctx, ExchangeGrantRequest{
		UserID:       userID,
		GrantCode:    d.GrantCode,
		GranteeToken: d.GranteeToken,
		ClientID:     r.auth.ClientID,
		ClientSecret: r.auth.ClientSecret,
	}); err != nil {
		*routeErr = err
		return alexa.NewInternalError(messageGrantFailed)
	}
	return alexa.NewAcceptGrantResponse()
}

// resolveUser maps the development token to the fixed development user
// and everything else through the identity resolver.
func (r *DirectiveRouter) resolveUser(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == DevelopmentGranteeToken {
		r.obs.logWarn(ctx, "using development user id", map[string]any{"user_id": DevelopmentUserID})
		return DevelopmentUserID, nil
	}
	if token == "" {
		return "", NewValidationError("token", "bearer token is required")
	}
	if r.identity == nil {
		return "", NewAuthError("core: identity resolver is not configured", nil)
	}
	userID, err := r.identity.ResolveUserID(ctx, token)
	if err != nil {
		if IsAuthError(err) || IsTimeoutError(err) {
			return "", err
		}
		return "", NewAuthError("core: identity lookup failed", err)
	}
	if strings.TrimSpace(userID) == "" {
		return "", NewAuthError("core: identity lookup returned no user id", nil)
	}
	return strings.TrimSpace(userID), nil
}

// validateResponse logs schema violations; the response is returned
// unchanged either way.
func (r *DirectiveRouter) validateResponse(ctx context.Context, response alexa.Envelope) {
	if r.validator == nil {
		return
	}
	if err := r.validator.ValidateEnvelope(response); err != nil {
		r.obs.logWarn(ctx, "directive response failed schema validation", map[string]any{
			"response": response.Name(),
			"error":    err.Error(),
		})
	}
}
