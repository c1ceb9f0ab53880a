package push

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/johncarlo20/growlink-sub002/config"
)

// SubscriptionChangedHandler is invoked for every subscription-changed push
// event. Organization filtering is the handler's responsibility.
type SubscriptionChangedHandler func(ctx context.Context, organizationID string)

// Subscriber listens on the server push channel for subscription-changed
// events and forwards them to a handler.
type Subscriber struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewSubscriber creates a push channel subscriber from configuration.
func NewSubscriber(cfg *config.RedisConfig, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channel: cfg.Channel,
		logger:  logger.Named("push_subscriber"),
	}
}

type subscriptionChangedEvent struct {
	OrganizationID string `json:"organization_id"`
}

// decodeEvent parses a push payload. The second return is false for payloads
// that are not valid subscription-changed events.
func decodeEvent(payload string) (string, bool) {
	var event subscriptionChangedEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil || event.OrganizationID == "" {
		return "", false
	}
	return event.OrganizationID, true
}

// Run consumes push events until the context is cancelled. Malformed
// payloads are logged and skipped.
func (s *Subscriber) Run(ctx context.Context, handler SubscriptionChangedHandler) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	// Fail fast when the channel cannot be subscribed at all.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	s.logger.Info("subscribed to push channel", zap.String("channel", s.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			orgID, ok := decodeEvent(msg.Payload)
			if !ok {
				s.logger.Warn("ignoring malformed push event", zap.String("payload", msg.Payload))
				continue
			}
			handler(ctx, orgID)
		}
	}
}

// Close releases the underlying Redis connection.
func (s *Subscriber) Close() error {
	return s.client.Close()
}
