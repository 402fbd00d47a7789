package core

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-smarthome/alexa"
)

const (
	DefaultChangeNamespace = alexa.NamespaceContactSensor
	DefaultChangeProperty  = "detectionState"
	DefaultChangeValue     = "DETECTED"
)

// ChangeReportRequest describes a physical state change of one endpoint.
type ChangeReportRequest struct {
	UserID     string
	EndpointID string
	Namespace  string
	Property   string
	Value      any
}

func (r ChangeReportRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return NewValidationError("userId", "userId is required")
	}
	if strings.TrimSpace(r.EndpointID) == "" {
		return NewValidationError("endpointId", "endpointId is required")
	}
	return nil
}

type changeReportEndpoint struct {
	UserID     string `json:"userId"`
	EndpointID string `json:"endpointId"`
	ID         string `json:"id"`
	Namespace  string `json:"namespace"`
	State      string `json:"state"`
	Value      any    `json:"value"`
}

// DecodeChangeReport accepts {"endpoint":{...}} and the scheduler form
// {"event":{"type":"ChangeReport","endpoint":{...}}}.
func DecodeChangeReport(raw []byte) (ChangeReportRequest, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ChangeReportRequest{}, NewValidationError("body", "request body is required")
	}
	var doc struct {
		Event *struct {
			Type     string                `json:"type"`
			Endpoint *changeReportEndpoint `json:"endpoint"`
		} `json:"event"`
		Endpoint *changeReportEndpoint `json:"endpoint"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ChangeReportRequest{}, WrapValidationError(err, "core: change report body is not valid JSON")
	}
	endpoint := doc.Endpoint
	if doc.Event != nil {
		if kind := strings.TrimSpace(doc.Event.Type); kind != "" && kind != alexa.NameChangeReport {
			return ChangeReportRequest{}, NewValidationError("event.type", "only ChangeReport events are accepted")
		}
		if doc.Event.Endpoint != nil {
			endpoint = doc.Event.Endpoint
		}
	}
	if endpoint == nil {
		return ChangeReportRequest{}, NewValidationError("endpoint", "endpoint is required")
	}
	req := ChangeReportRequest{
		UserID:     strings.TrimSpace(endpoint.UserID),
		EndpointID: firstNonEmpty(endpoint.EndpointID, endpoint.ID),
		Namespace:  firstNonEmpty(endpoint.Namespace, DefaultChangeNamespace),
		Property:   firstNonEmpty(endpoint.State, DefaultChangeProperty),
		Value:      endpoint.Value,
	}
	if value, ok := req.Value.(string); req.Value == nil || (ok && strings.TrimSpace(value) == "") {
		req.Value = DefaultChangeValue
	}
	return req, req.Validate()
}

// ReportChange sends a ChangeReport for the endpoint synchronously. Token,
// validation and gateway failures are returned to the caller.
func (s *Service) ReportChange(ctx context.Context, raw []byte) (GatewayAck, error) {
	req, err := DecodeChangeReport(raw)
	if err != nil {
		s.obs.observe(ctx, time.Now().UTC(), "report_change", err, nil)
		return GatewayAck{}, err
	}
	return s.SendChangeReport(ctx, req)
}

func (s *Service) SendChangeReport(ctx context.Context, req ChangeReportRequest) (ack GatewayAck, err error) {
	startedAt := time.Now().UTC()
	defer func() {
		s.obs.observe(ctx, startedAt, "report_change", err, map[string]any{
			"user_id":     req.UserID,
			"endpoint_id": req.EndpointID,
			"namespace":   req.Namespace,
		})
	}()
	if err := req.Validate(); err != nil {
		return GatewayAck{}, err
	}
	sampledAt := s.now()
	return s.publisher.Publish(ctx, req.UserID, func(token string) alexa.Envelope {
		return alexa.NewChangeReport(req.EndpointID, token, []alexa.Property{
			alexa.NewProperty(req.Namespace, req.Property, req.Value, sampledAt),
		}, sampledAt)
	})
}
