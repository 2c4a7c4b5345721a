package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// OrderFinalizedMessage is emitted once per order when its terminal payment
// outcome has been resolved and side effects applied.
type OrderFinalizedMessage struct {
	OrderID       string    `json:"orderId"`
	SessionID     string    `json:"sessionId"`
	ShopperID     string    `json:"shopperId"`
	PaymentMethod string    `json:"paymentMethod"`
	PaymentStatus string    `json:"paymentStatus"`
	FinalizedAt   time.Time `json:"finalizedAt"`
}

// PubSubOrderFinalizedPublisher publishes order-finalized events to a Pub/Sub topic.
type PubSubOrderFinalizedPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderFinalizedPublisher constructs a Pub/Sub backed publisher.
func NewPubSubOrderFinalizedPublisher(topic *pubsub.Topic) (*PubSubOrderFinalizedPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order finalized publisher: topic is required")
	}
	return &PubSubOrderFinalizedPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderFinalized enqueues the event on the configured topic.
func (p *PubSubOrderFinalizedPublisher) PublishOrderFinalized(ctx context.Context, message OrderFinalizedMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order finalized publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal order finalized event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "sessionId", message.SessionID)
	setAttr(attrs, "paymentMethod", message.PaymentMethod)
	setAttr(attrs, "paymentStatus", message.PaymentStatus)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order finalized event: %w", err)
	}
	return id, nil
}

// Stop flushes pending publishes and releases topic resources.
func (p *PubSubOrderFinalizedPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
