package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/fajargold/storefront/internal/services"
)

// PubSubEventPublisher publishes order lifecycle events and revenue facts to
// their respective Pub/Sub topics. Either topic may be nil, in which case the
// corresponding publish is a no-op; callers treat publishing as best effort.
type PubSubEventPublisher struct {
	orderTopic   *pubsub.Topic
	revenueTopic *pubsub.Topic
	marshal      func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubEventPublisher(orderTopic, revenueTopic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if orderTopic == nil && revenueTopic == nil {
		return nil, errors.New("pubsub event publisher: at least one topic is required")
	}
	return &PubSubEventPublisher{
		orderTopic:   orderTopic,
		revenueTopic: revenueTopic,
		marshal:      json.Marshal,
	}, nil
}

// PublishOrderEvent enqueues an order lifecycle event on the order topic.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.orderTopic == nil {
		return nil
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "customerId", event.CustomerID)
	setAttr(attrs, "previousStatus", event.PreviousStatus)
	setAttr(attrs, "currentStatus", event.CurrentStatus)
	setAttr(attrs, "actorId", event.ActorID)
	attrs["amount"] = strconv.FormatInt(event.Amount, 10)

	result := p.orderTopic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// PublishRevenueFact enqueues a confirmed-revenue record on the revenue topic.
func (p *PubSubEventPublisher) PublishRevenueFact(ctx context.Context, fact services.RevenueFact) error {
	if p == nil || p.revenueTopic == nil {
		return nil
	}

	data, err := p.marshal(fact)
	if err != nil {
		return fmt.Errorf("marshal revenue fact: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "orderId", fact.OrderID)
	setAttr(attrs, "orderNumber", fact.OrderNumber)
	setAttr(attrs, "adminId", fact.AdminID)
	attrs["amount"] = strconv.FormatInt(fact.Amount, 10)

	result := p.revenueTopic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish revenue fact: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
