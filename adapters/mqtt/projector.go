package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/goliatone/go-smarthome/core"
)

const (
	ProjectorName = "mqtt"

	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second
	disconnectQuiesceMS   = 250
)

var (
	ErrNotConnected  = errors.New("mqtt: not connected")
	ErrPublishFailed = errors.New("mqtt: publish failed")
)

// Publisher is the part of pahomqtt.Client the projector needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	IsConnected() bool
}

// Projector mirrors endpoint lifecycle events onto
// <prefix>/endpoints/<endpoint_id>/<event>.
type Projector struct {
	client  Publisher
	prefix  string
	qos     byte
	timeout time.Duration
	closer  func()
}

type ProjectorOption func(*Projector)

func WithPublishTimeout(timeout time.Duration) ProjectorOption {
	return func(p *Projector) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func NewProjector(client Publisher, topicPrefix string, qos int, opts ...ProjectorOption) (*Projector, error) {
	if client == nil {
		return nil, fmt.Errorf("mqtt: publisher is required")
	}
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("mqtt: qos %d is invalid", qos)
	}
	projector := &Projector{
		client:  client,
		prefix:  strings.Trim(strings.TrimSpace(topicPrefix), "/"),
		qos:     byte(qos),
		timeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(projector)
		}
	}
	return projector, nil
}

// Connect dials the broker named in cfg and returns a projector bound to it.
func Connect(cfg core.MQTTConfig, opts ...ProjectorOption) (*Projector, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("mqtt: broker is not configured")
	}
	client := pahomqtt.NewClient(clientOptions(cfg))
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out after %v", cfg.Broker, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}

	projector, err := NewProjector(client, cfg.TopicPrefix, cfg.QoS, opts...)
	if err != nil {
		client.Disconnect(disconnectQuiesceMS)
		return nil, err
	}
	projector.closer = func() { client.Disconnect(disconnectQuiesceMS) }
	return projector, nil
}

func clientOptions(cfg core.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		clientID = "go-smarthome"
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	return opts
}

// Topic returns the topic for event, or "" when the event has no endpoint.
func (p *Projector) Topic(event core.LifecycleEvent) string {
	endpointID := strings.TrimSpace(event.EndpointID)
	if endpointID == "" {
		return ""
	}
	name := strings.TrimPrefix(strings.TrimSpace(event.Name), "endpoint.")
	if name == "" {
		name = "unknown"
	}
	parts := []string{"endpoints", endpointID, name}
	if p.prefix != "" {
		parts = append([]string{p.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func (p *Projector) Handle(ctx context.Context, event core.LifecycleEvent) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("mqtt: projector is not configured")
	}
	topic := p.Topic(event)
	if topic == "" {
		return nil
	}
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	body, err := json.Marshal(lifecycleMessage{
		ID:         event.ID,
		Name:       event.Name,
		EndpointID: event.EndpointID,
		UserID:     event.UserID,
		Source:     event.Source,
		OccurredAt: event.OccurredAt.UTC(),
		Payload:    event.Payload,
		Metadata:   core.RedactSensitiveMap(event.Metadata),
	})
	if err != nil {
		return fmt.Errorf("mqtt: encode event %q: %w", event.ID, err)
	}

	token := p.client.Publish(topic, p.qos, false, body)
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublishFailed, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (p *Projector) Close() {
	if p != nil && p.closer != nil {
		p.closer()
	}
}

type lifecycleMessage struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	EndpointID string         `json:"endpoint_id"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

var _ core.LifecycleEventHandler = (*Projector)(nil)
