package alexa

import "encoding/json"

const PayloadVersion = "3"

const (
	NamespaceAlexa               = "Alexa"
	NamespaceDiscovery           = "Alexa.Discovery"
	NamespaceAuthorization       = "Alexa.Authorization"
	NamespaceContactSensor       = "Alexa.ContactSensor"
	NamespaceEndpointHealth      = "Alexa.EndpointHealth"
	NameDiscover                 = "Discover"
	NameDiscoverResponse         = "Discover.Response"
	NameReportState              = "ReportState"
	NameStateReport              = "StateReport"
	NameAcceptGrant              = "AcceptGrant"
	NameAcceptGrantResponse      = "AcceptGrant.Response"
	NameErrorResponse            = "ErrorResponse"
	NameChangeReport             = "ChangeReport"
	NameAddOrUpdateReport        = "AddOrUpdateReport"
	NameDeleteReport             = "DeleteReport"
	ScopeTypeBearerToken         = "BearerToken"
	CapabilityTypeAlexaInterface = "AlexaInterface"
)

const (
	ErrorTypeInternal       = "INTERNAL_ERROR"
	ErrorTypeNoSuchEndpoint = "NO_SUCH_ENDPOINT"
	ErrorTypeInvalidVersion = "INVALID_DIRECTIVE"
)

const (
	CausePhysicalInteraction = "PHYSICAL_INTERACTION"
	InvalidPlaceholder       = "INVALID"
)

// TimestampLayout is the UTC layout used for timeOfSample values.
const TimestampLayout = "2006-01-02T15:04:05.00Z"

type Header struct {
	Namespace        string `json:"namespace"`
	Name             string `json:"name"`
	MessageID        string `json:"messageId,omitempty"`
	PayloadVersion   string `json:"payloadVersion"`
	CorrelationToken string `json:"correlationToken,omitempty"`
}

type Scope struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type EndpointRef struct {
	Scope      Scope  `json:"scope"`
	EndpointID string `json:"endpointId"`
}

type Event struct {
	Header   Header         `json:"header"`
	Endpoint *EndpointRef   `json:"endpoint,omitempty"`
	Payload  map[string]any `json:"payload"`
}

type Property struct {
	Namespace                 string `json:"namespace"`
	Name                      string `json:"name"`
	Value                     any    `json:"value"`
	TimeOfSample              string `json:"timeOfSample"`
	UncertaintyInMilliseconds int    `json:"uncertaintyInMilliseconds"`
}

type Context struct {
	Properties []Property `json:"properties"`
}

// Envelope is the outbound message shape shared by responses and
// proactive events.
type Envelope struct {
	Event   Event    `json:"event"`
	Context *Context `json:"context,omitempty"`
}

func (e Envelope) Namespace() string {
	return e.Event.Header.Namespace
}

func (e Envelope) Name() string {
	return e.Event.Header.Name
}

// IsError reports whether the envelope is an ErrorResponse.
func (e Envelope) IsError() bool {
	return e.Event.Header.Name == NameErrorResponse
}

// ErrorType returns payload.type for ErrorResponse envelopes.
func (e Envelope) ErrorType() string {
	if !e.IsError() {
		return ""
	}
	value, _ := e.Event.Payload["type"].(string)
	return value
}

// ErrorMessage returns payload.message for ErrorResponse envelopes.
func (e Envelope) ErrorMessage() string {
	if !e.IsError() {
		return ""
	}
	value, _ := e.Event.Payload["message"].(string)
	return value
}

// AsMap returns the generic JSON form used by schema validation.
func (e Envelope) AsMap() (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type SupportedProperty struct {
	Name string `json:"name"`
}

type CapabilityProperties struct {
	Supported           []SupportedProperty `json:"supported"`
	ProactivelyReported bool                `json:"proactivelyReported"`
	Retrievable         bool                `json:"retrievable"`
}

type Capability struct {
	Type       string                `json:"type"`
	Interface  string                `json:"interface"`
	Version    string                `json:"version"`
	Properties *CapabilityProperties `json:"properties,omitempty"`
}

// IsRetrievable reports whether the capability state can be queried
// through ReportState.
func (c Capability) IsRetrievable() bool {
	return c.Properties != nil && c.Properties.Retrievable
}

// PrimaryProperty returns the first supported property name.
func (c Capability) PrimaryProperty() (string, bool) {
	if c.Properties == nil || len(c.Properties.Supported) == 0 {
		return "", false
	}
	name := c.Properties.Supported[0].Name
	return name, name != ""
}

// AlexaCapability is the base interface every discovered endpoint carries.
func AlexaCapability() Capability {
	return Capability{
		Type:      CapabilityTypeAlexaInterface,
		Interface: NamespaceAlexa,
		Version:   PayloadVersion,
	}
}

// RetrievableCapability builds an AlexaInterface capability with a single
// proactively reported, retrievable property.
func RetrievableCapability(iface, property string) Capability {
	return Capability{
		Type:      CapabilityTypeAlexaInterface,
		Interface: iface,
		Version:   PayloadVersion,
		Properties: &CapabilityProperties{
			Supported:           []SupportedProperty{{Name: property}},
			ProactivelyReported: true,
			Retrievable:         true,
		},
	}
}

type DiscoveryEndpoint struct {
	EndpointID        string       `json:"endpointId"`
	FriendlyName      string       `json:"friendlyName"`
	Description       string       `json:"description"`
	DisplayCategories []string     `json:"displayCategories"`
	ManufacturerName  string       `json:"manufacturerName"`
	Capabilities      []Capability `json:"capabilities"`
}
