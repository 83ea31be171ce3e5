package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/governor/pkg/models"
)

// Publisher broadcasts stream events over Redis pub/sub. It implements
// services.Notifier, so every service-side state change lands here.
// Publishing is best-effort: a Redis hiccup costs subscribers one event but
// must never fail the state change that produced it, so failures are logged
// at Warn and dropped.
type Publisher struct {
	client *redis.Client
	logger *slog.Logger
}

func NewPublisher(client *redis.Client, logger *slog.Logger) *Publisher {
	if client == nil {
		panic("redis client is required")
	}
	return &Publisher{
		client: client,
		logger: logger.With("component", "event-publisher"),
	}
}

// Notify publishes the event to the global channel and, when it concerns a
// session, to that session's channel as well.
func (p *Publisher) Notify(ctx context.Context, event models.StreamEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to marshal stream event", "type", event.Type, "error", err)
		return
	}

	p.publish(ctx, GlobalChannel, payload, &event)
	if event.SessionID != "" {
		p.publish(ctx, SessionChannel(event.SessionID), payload, &event)
	}
}

func (p *Publisher) publish(ctx context.Context, channel string, payload []byte, event *models.StreamEvent) {
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger.Warn("failed to publish stream event",
			"channel", channel,
			"type", event.Type,
			"session_id", event.SessionID,
			"error", err)
	}
}
