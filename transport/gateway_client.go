package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-smarthome/alexa"
	"github.com/goliatone/go-smarthome/core"
	"github.com/goliatone/go-smarthome/providers/amazon"
	"github.com/goliatone/go-smarthome/ratelimit"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	gatewayContentType    = "application/json;charset=UTF-8"
)

type GatewayConfig struct {
	// URL overrides the regional endpoint.
	URL            string
	Region         string
	RequestTimeout time.Duration
	HTTPClient     HTTPDoer
	// MaxReplyBytes bounds the gateway reply body read.
	MaxReplyBytes int64
	Logger         glog.Logger
	// Throttle gates sends after the gateway answered 429. Nil disables it.
	Throttle ratelimit.Policy
}

// GatewayConfigFrom maps the service gateway section.
func GatewayConfigFrom(cfg core.GatewayConfig) GatewayConfig {
	return GatewayConfig{
		URL:            cfg.URL,
		Region:         cfg.Region,
		RequestTimeout: cfg.RequestTimeout,
	}
}

// GatewayClient posts proactive events to the Alexa event gateway.
type GatewayClient struct {
	http          HTTPDoer
	url           string
	timeout       time.Duration
	maxReplyBytes int64
	logger        glog.Logger
	throttle      ratelimit.Policy
}

func NewGatewayClient(cfg GatewayConfig) (*GatewayClient, error) {
	endpoint := core.GatewayConfig{URL: cfg.URL, Region: cfg.Region}.EndpointURL()
	if endpoint == "" {
		return nil, fmt.Errorf("transport: unknown gateway region %q", cfg.Region)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	maxReply := cfg.MaxReplyBytes
	if maxReply <= 0 {
		maxReply = defaultMaxReplyBytes
	}
	return &GatewayClient{
		http:          client,
		url:           endpoint,
		timeout:       timeout,
		maxReplyBytes: maxReply,
		logger:        logger,
		throttle:      cfg.Throttle,
	}, nil
}

func (c *GatewayClient) URL() string {
	if c == nil {
		return ""
	}
	return c.url
}

// Send delivers envelope with accessToken as bearer credentials. Any
// transport failure or non-2xx reply is a gateway error; a timeout is a
// timeout error.
func (c *GatewayClient) Send(ctx context.Context, accessToken string, envelope alexa.Envelope) (core.GatewayAck, error) {
	if c == nil || c.http == nil {
		return core.GatewayAck{}, core.NewGatewayError("transport: gateway client is not configured", 0, nil)
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return core.GatewayAck{}, core.NewValidationError("accessToken", "access token is required")
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return core.GatewayAck{}, core.NewGatewayError("transport: encode event", 0, err)
	}

	key := ratelimit.Key{Target: c.url, Bucket: "events"}
	if c.throttle != nil {
		if err := c.throttle.BeforeCall(ctx, key); err != nil {
			c.logger.Warn("event gateway send throttled", "event", envelope.Name(), "error", err)
			return core.GatewayAck{}, err
		}
	}

	reply, err := c.post(ctx, accessToken, body)
	if err != nil {
		c.logger.Warn("event gateway unreachable", "event", envelope.Name(), "error", err)
		return core.GatewayAck{}, err
	}

	meta := amazon.NormalizeGatewayResponse(reply.status, reply.header, reply.body)
	if c.throttle != nil {
		if err := c.throttle.AfterCall(ctx, key, ratelimit.ResponseMeta{
			StatusCode: reply.status,
			Headers:    flattenHeader(reply.header),
			RetryAfter: meta.RetryAfter,
		}); err != nil {
			c.logger.Warn("event gateway throttle state not saved", "error", err)
		}
	}
	ack := core.GatewayAck{StatusCode: reply.status, RequestID: meta.RequestID, Body: reply.body}
	fields := []any{
		"event", envelope.Name(),
		"status_code", reply.status,
		"request_id", meta.RequestID,
		"duration_ms", reply.elapsed.Milliseconds(),
	}
	if !reply.ok() {
		c.logger.Warn("event gateway rejected event", append(fields, "error_code", meta.ErrorCode)...)
		return ack, gatewayRejection(meta)
	}
	c.logger.Debug("event gateway accepted event", fields...)
	return ack, nil
}

func gatewayRejection(meta amazon.ResponseMeta) error {
	message := fmt.Sprintf("transport: event gateway returned status %d", meta.StatusCode)
	if meta.ErrorCode != "" {
		message += ": " + meta.ErrorCode
	}
	if meta.ErrorMessage != "" {
		message += ": " + meta.ErrorMessage
	}
	return core.NewGatewayError(message, meta.StatusCode, nil)
}

func flattenHeader(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key := range header {
		out[key] = header.Get(key)
	}
	return out
}

var _ core.EventGateway = (*GatewayClient)(nil)
