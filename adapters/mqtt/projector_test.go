package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/goliatone/go-smarthome/core"
)

func TestProjector_PublishesEndpointTopic(t *testing.T) {
	client := &fakePublisher{connected: true}
	projector, err := NewProjector(client, "/smarthome/", 1)
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}

	err = projector.Handle(context.Background(), core.LifecycleEvent{
		ID:         "evt-1",
		Name:       core.EventEndpointAddOrUpdate,
		EndpointID: "SAMPLE_ENDPOINT_1",
		UserID:     "user-1",
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload:    map[string]any{"friendly_name": "Sensor"},
		Metadata:   map[string]any{"access_token": "secret", "trace_id": "t-1"},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(client.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(client.published))
	}
	msg := client.published[0]
	if msg.topic != "smarthome/endpoints/SAMPLE_ENDPOINT_1/add_or_update" {
		t.Fatalf("unexpected topic %q", msg.topic)
	}
	if msg.qos != 1 || msg.retained {
		t.Fatalf("unexpected qos/retained %d/%v", msg.qos, msg.retained)
	}

	var decoded map[string]any
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	metadata, _ := decoded["metadata"].(map[string]any)
	if metadata["access_token"] != core.RedactedValue {
		t.Fatalf("expected redacted access token, got %+v", metadata)
	}
	if decoded["endpoint_id"] != "SAMPLE_ENDPOINT_1" || decoded["name"] != core.EventEndpointAddOrUpdate {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestProjector_DeleteTopicWithoutPrefix(t *testing.T) {
	projector, err := NewProjector(&fakePublisher{connected: true}, "", 0)
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}
	topic := projector.Topic(core.LifecycleEvent{Name: core.EventEndpointDelete, EndpointID: "abc"})
	if topic != "endpoints/abc/delete" {
		t.Fatalf("unexpected topic %q", topic)
	}
}

func TestProjector_SkipsEventsWithoutEndpoint(t *testing.T) {
	client := &fakePublisher{connected: true}
	projector, err := NewProjector(client, "smarthome", 0)
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}
	if err := projector.Handle(context.Background(), core.LifecycleEvent{ID: "evt", Name: core.EventEndpointDelete}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(client.published) != 0 {
		t.Fatalf("expected no publish, got %+v", client.published)
	}
}

func TestProjector_Errors(t *testing.T) {
	event := core.LifecycleEvent{ID: "evt", Name: core.EventEndpointDelete, EndpointID: "abc"}

	disconnected, _ := NewProjector(&fakePublisher{}, "smarthome", 0)
	if err := disconnected.Handle(context.Background(), event); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}

	failing, _ := NewProjector(&fakePublisher{connected: true, err: errors.New("broker gone")}, "smarthome", 0)
	if err := failing.Handle(context.Background(), event); !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("expected publish failure, got %v", err)
	}

	stuck, _ := NewProjector(&fakePublisher{connected: true, hang: true}, "smarthome", 0, WithPublishTimeout(10*time.Millisecond))
	if err := stuck.Handle(context.Background(), event); !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("expected publish timeout, got %v", err)
	}
}

func TestNewProjector_Validation(t *testing.T) {
	if _, err := NewProjector(nil, "x", 0); err == nil {
		t.Fatalf("expected nil publisher error")
	}
	if _, err := NewProjector(&fakePublisher{}, "x", 3); err == nil {
		t.Fatalf("expected invalid qos error")
	}
	if _, err := Connect(core.MQTTConfig{}); err == nil {
		t.Fatalf("expected disabled broker error")
	}
}

type publishedMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	hang      bool
	published []publishedMessage
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := payload.([]byte)
	f.published = append(f.published, publishedMessage{topic: topic, qos: qos, retained: retained, payload: body})
	done := make(chan struct{})
	if !f.hang {
		close(done)
	}
	return &fakeToken{done: done, err: f.err}
}

func (f *fakePublisher) IsConnected() bool {
	return f.connected
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(timeout time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error { return t.err }
