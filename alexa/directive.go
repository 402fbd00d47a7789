package alexa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyDirective     = errors.New("alexa: empty directive body")
	ErrMalformedDirective = errors.New("alexa: malformed directive")
)

// DirectiveKind tags the directive variants the router understands.
type DirectiveKind string

const (
	KindDiscover    DirectiveKind = "discover"
	KindReportState DirectiveKind = "report_state"
	KindAcceptGrant DirectiveKind = "accept_grant"
	KindUnknown     DirectiveKind = "unknown"
)

// Directive is a parsed inbound directive. The set of implementations is
// closed: DiscoverDirective, ReportStateDirective, AcceptGrantDirective and
// UnknownDirective.
type Directive interface {
	Kind() DirectiveKind
	DirectiveHeader() Header
	directive()
}

type DiscoverDirective struct {
	Header Header
	Token  string
}

type ReportStateDirective struct {
	Header     Header
	EndpointID string
	Token      string
}

type AcceptGrantDirective struct {
	Header       Header
	GrantCode    string
	GranteeToken string
}

// UnknownDirective carries any directive outside the supported set.
type UnknownDirective struct {
	Header Header
}

func (DiscoverDirective) Kind() DirectiveKind    { return KindDiscover }
func (ReportStateDirective) Kind() DirectiveKind { return KindReportState }
func (AcceptGrantDirective) Kind() DirectiveKind { return KindAcceptGrant }
func (UnknownDirective) Kind() DirectiveKind     { return KindUnknown }

func (d DiscoverDirective) DirectiveHeader() Header    { return d.Header }
func (d ReportStateDirective) DirectiveHeader() Header { return d.Header }
func (d AcceptGrantDirective) DirectiveHeader() Header { return d.Header }
func (d UnknownDirective) DirectiveHeader() Header     { return d.Header }

func (DiscoverDirective) directive()    {}
func (ReportStateDirective) directive() {}
func (AcceptGrantDirective) directive() {}
func (UnknownDirective) directive()     {}

type directiveDocument struct {
	Directive *struct {
		Header   Header          `json:"header"`
		Endpoint *EndpointRef    `json:"endpoint"`
		Payload  json.RawMessage `json:"payload"`
	} `json:"directive"`
}

type directivePayload struct {
	Scope *Scope `json:"scope"`
	Grant *struct {
		Type string `json:"type"`
		Code string `json:"code"`
	} `json:"grant"`
	Grantee *Scope `json:"grantee"`
}

// ParseDirective decodes a raw directive body into its variant. A
// well-formed directive with an unsupported namespace/name pair yields an
// UnknownDirective and no error.
func ParseDirective(body []byte) (Directive, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrEmptyDirective
	}
	var doc directiveDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDirective, err)
	}
	if doc.Directive == nil {
		return nil, fmt.Errorf("%w: missing directive", ErrMalformedDirective)
	}
	header := doc.Directive.Header
	header.Namespace = strings.TrimSpace(header.Namespace)
	header.Name = strings.TrimSpace(header.Name)
	if header.Namespace == "" || header.Name == "" {
		return nil, fmt.Errorf("%w: missing header namespace or name", ErrMalformedDirective)
	}

	var payload directivePayload
	if raw := bytes.TrimSpace(doc.Directive.Payload); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("%w: payload: %v", ErrMalformedDirective, err)
		}
	}

	switch {
	case header.Namespace == NamespaceDiscovery && header.Name == NameDiscover:
		if payload.Scope == nil || strings.TrimSpace(payload.Scope.Token) == "" {
			return nil, fmt.Errorf("%w: discover requires payload.scope.token", ErrMalformedDirective)
		}
		return DiscoverDirective{Header: header, Token: strings.TrimSpace(payload.Scope.Token)}, nil
	case header.Namespace == NamespaceAlexa && header.Name == NameReportState:
		endpoint := doc.Directive.Endpoint
		if endpoint == nil || strings.TrimSpace(endpoint.EndpointID) == "" {
			return nil, fmt.Errorf("%w: report state requires endpoint.endpointId", ErrMalformedDirective)
		}
		return ReportStateDirective{
			Header:     header,
			EndpointID: strings.TrimSpace(endpoint.EndpointID),
			Token:      strings.TrimSpace(endpoint.Scope.Token),
		}, nil
	case header.Namespace == NamespaceAuthorization && header.Name == NameAcceptGrant:
		if payload.Grant == nil || strings.TrimSpace(payload.Grant.Code) == "" {
			return nil, fmt.Errorf("%w: accept grant requires payload.grant.code", ErrMalformedDirective)
		}
		if payload.Grantee == nil || strings.TrimSpace(payload.Grantee.Token) == "" {
			return nil, fmt.Errorf("%w: accept grant requires payload.grantee.token", ErrMalformedDirective)
		}
		return AcceptGrantDirective{
			Header:       header,
			GrantCode:    strings.TrimSpace(payload.Grant.Code),
			GranteeToken: strings.TrimSpace(payload.Grantee.Token),
		}, nil
	default:
		return UnknownDirective{Header: header}, nil
	}
}
