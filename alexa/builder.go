package alexa

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Builder assembles outbound envelopes. It is not safe for concurrent use.
type Builder struct {
	header     Header
	endpoint   *EndpointRef
	payload    map[string]any
	properties []Property
}

func NewBuilder(namespace, name string) *Builder {
	return &Builder{
		header: Header{
			Namespace:      strings.TrimSpace(namespace),
			Name:           strings.TrimSpace(name),
			MessageID:      uuid.NewString(),
			PayloadVersion: PayloadVersion,
		},
		payload: map[string]any{},
	}
}

func (b *Builder) WithCorrelationToken(token string) *Builder {
	b.header.CorrelationToken = strings.TrimSpace(token)
	return b
}

func (b *Builder) WithMessageID(id string) *Builder {
	if id = strings.TrimSpace(id); id != "" {
		b.header.MessageID = id
	}
	return b
}

// WithEndpoint attaches a BearerToken scoped endpoint. Empty values fall
// back to the INVALID placeholder.
func (b *Builder) WithEndpoint(endpointID, token string) *Builder {
	endpointID = strings.TrimSpace(endpointID)
	if endpointID == "" {
		endpointID = InvalidPlaceholder
	}
	token = strings.TrimSpace(token)
	if token == "" {
		token = InvalidPlaceholder
	}
	b.endpoint = &EndpointRef{
		Scope:      Scope{Type: ScopeTypeBearerToken, Token: token},
		EndpointID: endpointID,
	}
	return b
}

func (b *Builder) WithPayload(payload map[string]any) *Builder {
	b.payload = map[string]any{}
	for key, value := range payload {
		b.payload[key] = value
	}
	return b
}

func (b *Builder) SetPayloadValue(key string, value any) *Builder {
	b.payload[key] = value
	return b
}

func (b *Builder) AddContextProperty(namespace, name string, value any, sampledAt time.Time) *Builder {
	b.properties = append(b.properties, NewProperty(namespace, name, value, sampledAt))
	return b
}

func (b *Builder) AddPayloadEndpoint(endpoint DiscoveryEndpoint) *Builder {
	endpoints, _ := b.payload["endpoints"].([]DiscoveryEndpoint)
	b.payload["endpoints"] = append(endpoints, normalizeDiscoveryEndpoint(endpoint))
	return b
}

func (b *Builder) Envelope() Envelope {
	payload := make(map[string]any, len(b.payload))
	for key, value := range b.payload {
		payload[key] = value
	}
	env := Envelope{
		Event: Event{
			Header:  b.header,
			Payload: payload,
		},
	}
	if b.endpoint != nil {
		ref := *b.endpoint
		env.Event.Endpoint = &ref
	}
	if len(b.properties) > 0 {
		props := make([]Property, len(b.properties))
		copy(props, b.properties)
		env.Context = &Context{Properties: props}
	}
	return env
}

func NewProperty(namespace, name string, value any, sampledAt time.Time) Property {
	if sampledAt.IsZero() {
		sampledAt = time.Now()
	}
	return Property{
		Namespace:    strings.TrimSpace(namespace),
		Name:         strings.TrimSpace(name),
		Value:        value,
		TimeOfSample: FormatTimestamp(sampledAt),
	}
}

func FormatTimestamp(at time.Time) string {
	return at.UTC().Format(TimestampLayout)
}

// NewErrorResponse builds an Alexa.ErrorResponse carrying the given type
// and message. The endpoint reference defaults to INVALID placeholders.
func NewErrorResponse(errorType, message string, endpointID, token, correlationToken string) Envelope {
	errorType = strings.TrimSpace(errorType)
	if errorType == "" {
		errorType = ErrorTypeInternal
	}
	return NewBuilder(NamespaceAlexa, NameErrorResponse).
		WithCorrelationToken(correlationToken).
		WithEndpoint(endpointID, token).
		WithPayload(map[string]any{
			"type":    errorType,
			"message": message,
		}).
		Envelope()
}

func NewInternalError(message string) Envelope {
	return NewErrorResponse(ErrorTypeInternal, message, "", "", "")
}

func NewAcceptGrantResponse() Envelope {
	return NewBuilder(NamespaceAuthorization, NameAcceptGrantResponse).Envelope()
}

func NewDiscoverResponse(endpoints []DiscoveryEndpoint) Envelope {
	builder := NewBuilder(NamespaceDiscovery, NameDiscoverResponse)
	builder.SetPayloadValue("endpoints", []DiscoveryEndpoint{})
	for _, endpoint := range endpoints {
		builder.AddPayloadEndpoint(endpoint)
	}
	return builder.Envelope()
}

// NewStateReport builds the ReportState answer. Properties keep their
// input order.
func NewStateReport(endpointID, token, correlationToken string, properties []Property) Envelope {
	builder := NewBuilder(NamespaceAlexa, NameStateReport).
		WithCorrelationToken(correlationToken).
		WithEndpoint(endpointID, token)
	builder.properties = append(builder.properties, properties...)
	env := builder.Envelope()
	if env.Context == nil {
		env.Context = &Context{Properties: []Property{}}
	}
	return env
}

// NewChangeReport builds a proactive ChangeReport for a physical
// interaction with the endpoint.
func NewChangeReport(endpointID, token string, changed []Property, sampledAt time.Time) Envelope {
	if changed == nil {
		changed = []Property{}
	}
	return NewBuilder(NamespaceAlexa, NameChangeReport).
		WithEndpoint(endpointID, token).
		WithPayload(map[string]any{
			"change": map[string]any{
				"cause":      map[string]any{"type": CausePhysicalInteraction},
				"properties": changed,
			},
		}).
		AddContextProperty(NamespaceEndpointHealth, "connectivity", map[string]any{"value": "OK"}, sampledAt).
		Envelope()
}

func NewAddOrUpdateReport(token string, endpoints []DiscoveryEndpoint) Envelope {
	normalized := make([]DiscoveryEndpoint, 0, len(endpoints))
	for _, endpoint := range endpoints {
		normalized = append(normalized, normalizeDiscoveryEndpoint(endpoint))
	}
	return NewBuilder(NamespaceDiscovery, NameAddOrUpdateReport).
		WithPayload(map[string]any{
			"endpoints": normalized,
			"scope":     bearerScope(token),
		}).
		Envelope()
}

func NewDeleteReport(token string, endpointIDs []string) Envelope {
	endpoints := make([]map[string]string, 0, len(endpointIDs))
	for _, id := range endpointIDs {
		endpoints = append(endpoints, map[string]string{"endpointId": strings.TrimSpace(id)})
	}
	return NewBuilder(NamespaceDiscovery, NameDeleteReport).
		WithPayload(map[string]any{
			"endpoints": endpoints,
			"scope":     bearerScope(token),
		}).
		Envelope()
}

func bearerScope(token string) Scope {
	token = strings.TrimSpace(token)
	if token == "" {
		token = InvalidPlaceholder
	}
	return Scope{Type: ScopeTypeBearerToken, Token: token}
}

// normalizeDiscoveryEndpoint prepends the base Alexa interface when the
// endpoint does not already declare it.
func normalizeDiscoveryEndpoint(endpoint DiscoveryEndpoint) DiscoveryEndpoint {
	out := endpoint
	out.DisplayCategories = append([]string{}, endpoint.DisplayCategories...)
	capabilities := make([]Capability, 0, len(endpoint.Capabilities)+1)
	hasBase := false
	for _, capability := range endpoint.Capabilities {
		if capability.Interface == NamespaceAlexa {
			hasBase = true
		}
	}
	if !hasBase {
		capabilities = append(capabilities, AlexaCapability())
	}
	out.Capabilities = append(capabilities, endpoint.Capabilities...)
	return out
}
