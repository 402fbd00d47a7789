package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-smarthome/alexa"
)

// EventPublisher sends proactive events to the event gateway on behalf of
// a user, resolving a fresh access token first.
type EventPublisher struct {
	tokens    *TokenManager
	gateway   EventGateway
	validator EnvelopeValidator
	obs       *observer
}

func NewEventPublisher(tokens *TokenManager, gateway EventGateway, validator EnvelopeValidator) *EventPublisher {
	return &EventPublisher{tokens: tokens, gateway: gateway, validator: validator}
}

// Publish builds the envelope with the user's access token and sends it.
// Invalid envelopes are rejected before any network call.
func (p *EventPublisher) Publish(ctx context.Context, userID string, build func(token string) alexa.Envelope) (ack GatewayAck, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"user_id": userID}
	defer func() {
		p.obs.observe(ctx, startedAt, "publish_event", err, fields)
	}()

	if p.gateway == nil {
		return GatewayAck{}, NewGatewayError("core: event gateway is not configured", 0, nil)
	}
	if p.tokens == nil {
		return GatewayAck{}, NewAuthError("core: token manager is not configured", nil)
	}
	if strings.TrimSpace(userID) == "" {
		return GatewayAck{}, NewValidationError("userId", "user id is required to publish events")
	}
	if build == nil {
		return GatewayAck{}, NewValidationError("envelope", "envelope builder is required")
	}

	token, err := p.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return GatewayAck{}, err
	}
	envelope := build(token)
	fields["event_name"] = envelope.Name()
	fields["message_id"] = envelope.Event.Header.MessageID
	if p.validator != nil {
		if verr := p.validator.ValidateEnvelope(envelope); verr != nil {
			return GatewayAck{}, WrapValidationError(verr, "core: outbound event failed schema validation")
		}
	}

	ack, err = p.gateway.Send(ctx, token, envelope)
	if err != nil {
		if IsGatewayError(err) || IsTimeoutError(err) {
			return GatewayAck{}, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return GatewayAck{}, NewTimeoutError("event gateway", err)
		}
		return GatewayAck{}, NewGatewayError("", ack.StatusCode, err)
	}
	fields["status_code"] = ack.StatusCode
	return ack, nil
}
