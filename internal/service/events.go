package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Domain event names.
const (
	EventStatementImported = "statement.imported"
	EventStatementLinked   = "statement.linked"
	EventFeesGenerated     = "fees.generated"
	EventFeeCancelled      = "fee.cancelled"
	EventPaymentRegistered = "payment.registered"
	EventFeeDiscounted     = "fee.discounted"
	EventChargeCreated     = "charge.created"
	EventChargePaid        = "charge.paid"
	EventChargeCancelled   = "charge.cancelled"
	EventStudentWithdrawn  = "student.withdrawn"
)

// reportGenerationKey moves on every published event so cached reports never outlive a write.
const reportGenerationKey = reportCachePrefix + "generation"

// Event is the envelope published to the message buses.
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	EntityType string                 `json:"entity_type"`
	EntityID   uint                   `json:"entity_id"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// EventPublisher fans finance events out to Redis pub/sub and NATS. Both transports are
// optional; publishing never fails the operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

type eventPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	now          func() time.Time
}

// NewEventPublisher builds a publisher for channel "<base>:finance" and subject "<base>.finance".
func NewEventPublisher(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) EventPublisher {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":finance"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".finance"
	}

	return &eventPublisher{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "event_publisher").Logger(),
		now:          time.Now,
	}
}

func (p *eventPublisher) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn().Err(err).Str("event", event.Type).Msg("failed to encode event")
		return
	}

	if p.redis != nil {
		if err := p.redis.Incr(ctx, reportGenerationKey).Err(); err != nil {
			p.logger.Warn().Err(err).Str("event", event.Type).Msg("failed to bump report cache generation")
		}
	}

	if p.redis != nil && p.redisChannel != "" {
		if err := p.redis.Publish(ctx, p.redisChannel, payload).Err(); err != nil {
			p.logger.Warn().Err(err).Str("event", event.Type).Msg("failed to publish event to redis")
		}
	}

	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject, payload); err != nil {
			p.logger.Warn().Err(err).Str("event", event.Type).Msg("failed to publish event to nats")
		}
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) {}

// NoopEventPublisher discards events.
func NoopEventPublisher() EventPublisher {
	return noopPublisher{}
}
