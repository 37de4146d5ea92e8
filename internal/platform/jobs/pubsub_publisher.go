// Package jobs bridges processed payment notifications onto Pub/Sub for
// downstream consumers (order management, analytics).
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"

	"github.com/briq-connect/api/internal/services"
)

// PubSubNotificationPublisher publishes processed-notification events to a Pub/Sub topic.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	newID   func() string
}

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
		newID:   func() string { return ulid.Make().String() },
	}, nil
}

// PublishProcessed enqueues the event on the configured topic. The generated
// event ID is carried as a message attribute so consumers can deduplicate.
func (p *PubSubNotificationPublisher) PublishProcessed(ctx context.Context, event services.ProcessedNotification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal processed notification: %w", err)
	}

	attrs := make(map[string]string)
	attrs["eventId"] = p.newID()
	setAttr(attrs, "sessionId", event.SessionID)
	setAttr(attrs, "event", event.Event)
	setAttr(attrs, "status", event.Status)
	setAttr(attrs, "captureId", event.CaptureID)
	setAttr(attrs, "refundId", event.RefundID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish processed notification: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
