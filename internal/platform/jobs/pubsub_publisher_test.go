package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fajargold/storefront/internal/services"
)

func newTestTopics(t *testing.T) (*pubsub.Topic, *pubsub.Topic, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	orderTopic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic order-events: %v", err)
	}
	revenueTopic, err := client.CreateTopic(ctx, "revenue-facts")
	if err != nil {
		t.Fatalf("CreateTopic revenue-facts: %v", err)
	}
	return orderTopic, revenueTopic, srv
}

func TestPubSubEventPublisherPublishesOrderEvent(t *testing.T) {
	ctx := context.Background()
	orderTopic, revenueTopic, srv := newTestTopics(t)

	publisher, err := NewPubSubEventPublisher(orderTopic, revenueTopic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	occurredAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:           "order.confirmed",
		OrderID:        "ord_test",
		OrderNumber:    "FG-2026-000042",
		CustomerID:     "user-1",
		Amount:         3500,
		PreviousStatus: "PENDING_CONFIRMATION",
		CurrentStatus:  "PAID",
		ActorID:        "admin-1",
		OccurredAt:     occurredAt,
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.Type != event.Type {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.CustomerID != "user-1" || payload.Amount != 3500 {
		t.Fatalf("expected customer and amount in payload, got %#v", payload)
	}
	if attr := messages[0].Attributes["eventType"]; attr != "order.confirmed" {
		t.Fatalf("expected eventType attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["currentStatus"]; attr != "PAID" {
		t.Fatalf("expected currentStatus attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["customerId"]; attr != "user-1" {
		t.Fatalf("expected customerId attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["amount"]; attr != "3500" {
		t.Fatalf("expected amount attribute, got %q", attr)
	}
}

func TestPubSubEventPublisherPublishesRevenueFact(t *testing.T) {
	ctx := context.Background()
	orderTopic, revenueTopic, srv := newTestTopics(t)

	publisher, err := NewPubSubEventPublisher(orderTopic, revenueTopic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	fact := services.RevenueFact{
		OrderID:     "ord_test",
		OrderNumber: "FG-2026-000042",
		Amount:      3500,
		AdminID:     "admin-1",
		OccurredAt:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	if err := publisher.PublishRevenueFact(ctx, fact); err != nil {
		t.Fatalf("PublishRevenueFact: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if attr := messages[0].Attributes["amount"]; attr != "3500" {
		t.Fatalf("expected amount attribute, got %q", attr)
	}

	var payload services.RevenueFact
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Amount != 3500 || payload.AdminID != "admin-1" {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestPubSubEventPublisherNilTopicIsNoop(t *testing.T) {
	orderTopic, _, srv := newTestTopics(t)

	publisher, err := NewPubSubEventPublisher(orderTopic, nil)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}
	if err := publisher.PublishRevenueFact(context.Background(), services.RevenueFact{OrderID: "ord_x"}); err != nil {
		t.Fatalf("expected nil topic publish to be a noop, got %v", err)
	}
	if len(srv.Messages()) != 0 {
		t.Fatalf("expected no messages, got %d", len(srv.Messages()))
	}
}
