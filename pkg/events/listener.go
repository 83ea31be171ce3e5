package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Listener relays Redis pub/sub messages to the local ConnectionManager.
// One Listener runs per process, holding a single pattern subscription over
// every governor channel. Which clients care about which channel is purely
// local state in the manager.
type Listener struct {
	client  *redis.Client
	manager *ConnectionManager
	logger  *slog.Logger

	pubsub *redis.PubSub
	done   chan struct{}
}

func NewListener(client *redis.Client, manager *ConnectionManager, logger *slog.Logger) *Listener {
	if client == nil {
		panic("redis client is required")
	}
	if manager == nil {
		panic("connection manager is required")
	}
	return &Listener{
		client:  client,
		manager: manager,
		logger:  logger.With("component", "event-listener"),
	}
}

// Start establishes the subscription, then relays messages in the background
// until Stop. The Receive call confirms the subscription is live before Start
// returns, so an event published right after Start is not lost. go-redis
// re-establishes the subscription itself after a connection drop; messages
// published while disconnected are gone, which the no-history delivery
// contract already allows.
func (l *Listener) Start(ctx context.Context) error {
	pubsub := l.client.PSubscribe(ctx, channelPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to establish event subscription: %w", err)
	}

	l.pubsub = pubsub
	l.done = make(chan struct{})
	go l.relay()

	l.logger.Info("event listener started", "pattern", channelPattern)
	return nil
}

func (l *Listener) relay() {
	defer close(l.done)
	for msg := range l.pubsub.Channel() {
		l.manager.Broadcast(msg.Channel, []byte(msg.Payload))
	}
}

// Stop closes the subscription and waits for the relay goroutine to finish.
// Safe to call when Start was never called or failed.
func (l *Listener) Stop() {
	if l.pubsub == nil {
		return
	}
	_ = l.pubsub.Close()
	<-l.done
	l.logger.Info("event listener stopped")
}
