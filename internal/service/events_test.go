package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestEventPublisherFansOutToRedis(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, "secretaria:events:finance")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	publisher := NewEventPublisher(client, nil, "secretaria:events", testLogger())
	publisher.Publish(ctx, Event{
		Type:       EventPaymentRegistered,
		EntityType: "payment",
		EntityID:   12,
		Data:       map[string]interface{}{"amount": "480"},
	})

	select {
	case msg := <-sub.Channel():
		var event Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		require.Equal(t, EventPaymentRegistered, event.Type)
		require.Equal(t, uint(12), event.EntityID)
		require.NotEmpty(t, event.ID)
		require.False(t, event.OccurredAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}
}

func TestEventPublisherMovesReportGeneration(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	publisher := NewEventPublisher(client, nil, "", testLogger())
	ctx := context.Background()
	for _, eventType := range []string{EventFeeDiscounted, EventChargePaid, EventChargeCancelled} {
		publisher.Publish(ctx, Event{Type: eventType, EntityType: "fee", EntityID: 1})
	}

	generation, err := server.Get(reportGenerationKey)
	require.NoError(t, err)
	require.Equal(t, "3", generation)
}

func TestEventPublisherWithoutTransports(t *testing.T) {
	publisher := NewEventPublisher(nil, nil, "", testLogger())
	require.NotPanics(t, func() {
		publisher.Publish(context.Background(), Event{Type: EventFeesGenerated, EntityType: "student", EntityID: 1})
	})
	require.NotPanics(t, func() {
		NoopEventPublisher().Publish(context.Background(), Event{Type: EventFeeCancelled})
	})
}
