package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/northwind-consulting/portal/internal/adapters/authevents"
	"github.com/northwind-consulting/portal/internal/ports"
)

// DefaultEventChannel is the pub/sub channel carrying auth events.
const DefaultEventChannel = "auth-events"

// EventBus fans auth events out to every instance through Redis pub/sub.
// Publish sends to Redis only; Run receives from Redis and dispatches to
// local subscribers, so the publishing instance also sees its own events
// once they round-trip.
type EventBus struct {
	client  redis.UniversalClient
	channel string
	local   *authevents.LocalBus
	logger  *slog.Logger
}

// EventBusOptions configures NewEventBus.
type EventBusOptions struct {
	Channel string
	Logger  *slog.Logger
}

// NewEventBus creates a Redis-backed bus. Call Run to start receiving.
func NewEventBus(client redis.UniversalClient, opts EventBusOptions) *EventBus {
	channel := opts.Channel
	if channel == "" {
		channel = DefaultEventChannel
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		client:  client,
		channel: channel,
		local:   authevents.NewLocalBus(),
		logger:  logger.With("component", "auth_event_bus"),
	}
}

var _ ports.AuthEventBus = (*EventBus)(nil)

// Publish serializes evt onto the channel.
func (b *EventBus) Publish(ctx context.Context, evt ports.AuthEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal auth event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe registers fn for events on sessionID delivered by Run.
func (b *EventBus) Subscribe(sessionID string, fn func(ports.AuthEvent)) func() {
	return b.local.Subscribe(sessionID, fn)
}

// Run receives events until ctx is done. It returns nil on cancellation.
func (b *EventBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			b.logger.WarnContext(ctx, "failed to close auth event subscription", "error", err)
		}
	}()

	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.InfoContext(ctx, "auth event bus subscribed", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(ctx, msg)
		}
	}
}

func (b *EventBus) handle(ctx context.Context, msg *redis.Message) {
	var evt ports.AuthEvent
	if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
		b.logger.WarnContext(ctx, "dropping malformed auth event", "error", err)
		return
	}
	b.local.Dispatch(evt)
}
