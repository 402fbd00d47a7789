package core

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/goliatone/go-smarthome/alexa"
)

var (
	ErrEndpointNotFound   = errors.New("core: endpoint not found")
	ErrCredentialNotFound = errors.New("core: credential not found")
)

const (
	DevelopmentGranteeToken = "access-token-from-skill"
	DevelopmentUserID       = "0"
	DevelopmentTokenValue   = alexa.InvalidPlaceholder
	DevelopmentExpiresIn    = 9000
	DefaultTokenType        = "Bearer"
)

const (
	EndpointIDPrefix           = "SAMPLE_ENDPOINT_"
	EndpointIDSuffixLength     = 8
	DefaultEndpointDescription = "Sample Description"
	DefaultManufacturerName    = "Lukas Patzke"
	DefaultDisplayCategory     = "CONTACT_SENSOR"
	FriendlyNameSuffix         = " Sample Endpoint"
	DeleteAllWildcard          = "*"
	EndpointsResource          = "/endpoints"
)

// ExpirationLayout is the persisted form of credential expirations.
const ExpirationLayout = alexa.TimestampLayout

const (
	DefaultTokenExpiryBuffer = 30 * time.Second
	DefaultTokenIssueMargin  = 5 * time.Second
)

// DefaultStateValues maps retrievable interfaces to the value reported for
// them on ReportState.
var DefaultStateValues = map[string]string{
	alexa.NamespaceContactSensor:  "NOT_DETECTED",
	alexa.NamespaceEndpointHealth: "OK",
}

// DefaultCapabilities returns the capability set assigned to endpoints
// created without an explicit list.
func DefaultCapabilities() []alexa.Capability {
	return []alexa.Capability{
		alexa.RetrievableCapability(alexa.NamespaceContactSensor, "detectionState"),
		alexa.RetrievableCapability(alexa.NamespaceEndpointHealth, "connectivity"),
	}
}

// EndpointDescriptor is the persisted description of a virtual device.
type EndpointDescriptor struct {
	EndpointID        string             `json:"endpointId"`
	UserID            string             `json:"userId"`
	FriendlyName      string             `json:"friendlyName"`
	Description       string             `json:"description"`
	ManufacturerName  string             `json:"manufacturerName"`
	DisplayCategories []string           `json:"displayCategories"`
	Capabilities      []alexa.Capability `json:"capabilities"`
}

func (d EndpointDescriptor) Validate() error {
	if strings.TrimSpace(d.EndpointID) == "" {
		return NewValidationError("endpointId", "endpoint id is required")
	}
	if len(d.EndpointID) > 256 {
		return NewValidationError("endpointId", "endpoint id must be at most 256 characters")
	}
	if strings.TrimSpace(d.UserID) == "" {
		return NewValidationError("userId", "user id is required")
	}
	for idx, capability := range d.Capabilities {
		if strings.TrimSpace(capability.Interface) == "" {
			return NewValidationError(fmt.Sprintf("capabilities[%d].interface", idx), "capability interface is required")
		}
	}
	return nil
}

func (d EndpointDescriptor) Clone() EndpointDescriptor {
	out := d
	out.DisplayCategories = append([]string(nil), d.DisplayCategories...)
	out.Capabilities = cloneCapabilities(d.Capabilities)
	return out
}

// RetrievableCapabilities returns capabilities whose state is reported on
// ReportState, in declaration order.
func (d EndpointDescriptor) RetrievableCapabilities() []alexa.Capability {
	out := make([]alexa.Capability, 0, len(d.Capabilities))
	for _, capability := range d.Capabilities {
		if capability.IsRetrievable() {
			out = append(out, capability)
		}
	}
	return out
}

func (d EndpointDescriptor) DiscoveryEndpoint() alexa.DiscoveryEndpoint {
	return alexa.DiscoveryEndpoint{
		EndpointID:        d.EndpointID,
		FriendlyName:      d.FriendlyName,
		Description:       d.Description,
		DisplayCategories: append([]string(nil), d.DisplayCategories...),
		ManufacturerName:  d.ManufacturerName,
		Capabilities:      cloneCapabilities(d.Capabilities),
	}
}

// Payload renders the descriptor as a generic map for outbox storage.
func (d EndpointDescriptor) Payload() map[string]any {
	raw, err := json.Marshal(d)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func DescriptorFromPayload(payload map[string]any) (EndpointDescriptor, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EndpointDescriptor{}, err
	}
	var descriptor EndpointDescriptor
	if err := json.Unmarshal(raw, &descriptor); err != nil {
		return EndpointDescriptor{}, err
	}
	return descriptor, nil
}

func cloneCapabilities(in []alexa.Capability) []alexa.Capability {
	if in == nil {
		return nil
	}
	out := make([]alexa.Capability, len(in))
	for i, capability := range in {
		out[i] = capability
		if capability.Properties != nil {
			props := *capability.Properties
			props.Supported = append([]alexa.SupportedProperty(nil), capability.Properties.Supported...)
			out[i].Properties = &props
		}
	}
	return out
}

// Credential holds the OAuth tokens stored per user after AcceptGrant.
type Credential struct {
	UserID        string
	AccessToken   string
	RefreshToken  string
	TokenType     string
	ClientID      string
	ClientSecret  string
	ExpirationUTC time.Time
	GrantCode     string
	GranteeToken  string
}

func (c Credential) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return NewValidationError("userId", "credential user id is required")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return NewValidationError("accessToken", "credential access token is required")
	}
	return nil
}

// ExpirationString formats the expiry in the persisted layout.
func (c Credential) ExpirationString() string {
	if c.ExpirationUTC.IsZero() {
		return ""
	}
	return c.ExpirationUTC.UTC().Format(ExpirationLayout)
}

// ParseExpiration accepts the persisted layout and RFC3339 timestamps. An
// empty value yields the zero time, which is always treated as expired.
func ParseExpiration(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(ExpirationLayout, value); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("core: invalid credential expiration %q: %w", value, err)
	}
	return parsed.UTC(), nil
}

// TokenGrant is an authorization server token response.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

// ExpirationFrom returns now + expires_in - margin.
func (g TokenGrant) ExpirationFrom(now time.Time, margin time.Duration) time.Time {
	return now.UTC().Add(time.Duration(g.ExpiresIn)*time.Second - margin)
}

// GatewayAck is the event gateway reply to an accepted event.
type GatewayAck struct {
	StatusCode int
	RequestID  string
	Body       []byte
}

type DeleteResult struct {
	Wildcard bool
	Deleted  []string
	Message  string
}

func NewSampleEndpointID() string {
	return EndpointIDPrefix + randomString(EndpointIDSuffixLength, endpointIDAlphabet)
}

func NewSampleFriendlyName() string {
	idx := randomInt(len(sampleColors))
	return sampleColors[idx] + FriendlyNameSuffix
}

const endpointIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var sampleColors = []string{
	"Amber", "Black", "Blue", "Brown", "Crimson", "Cyan", "Gold", "Gray",
	"Green", "Indigo", "Lime", "Magenta", "Orange", "Pink", "Purple", "Red",
	"Silver", "Teal", "Violet", "White", "Yellow",
}

func randomString(length int, alphabet string) string {
	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		builder.WriteByte(alphabet[randomInt(len(alphabet))])
	}
	return builder.String()
}

func randomInt(limit int) int {
	if limit <= 1 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return int(time.Now().UnixNano() % int64(limit))
	}
	return int(n.Int64())
}
