// Package events carries process-wide notifications between the transport
// and the session gate.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// TopicAuthExpired is published whenever the server rejects the credential.
const TopicAuthExpired = "auth.expired"

// AuthExpired describes the request that observed the rejection.
type AuthExpired struct {
	RequestID string    `json:"requestId"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	At        time.Time `json:"at"`
}

// Bus is an in-process pub/sub. Publish returns only after every subscriber
// acknowledged the message.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *slog.Logger
}

// NewBus creates a bus that logs through logger.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		watermill.NewSlogLogger(logger.With("component", "events")),
	)
	return &Bus{pubSub: pubSub, logger: logger}
}

// PublishAuthExpired delivers evt to all auth-expired subscribers.
func (b *Bus) PublishAuthExpired(ctx context.Context, evt AuthExpired) error {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode auth-expired event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := b.pubSub.Publish(TopicAuthExpired, msg); err != nil {
		return fmt.Errorf("publish auth-expired event: %w", err)
	}
	return nil
}

// OnAuthExpired runs handle for every auth-expired event until ctx is done.
// Events are handled one at a time in publication order.
func (b *Bus) OnAuthExpired(ctx context.Context, handle func(context.Context, AuthExpired)) error {
	messages, err := b.pubSub.Subscribe(ctx, TopicAuthExpired)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicAuthExpired, err)
	}

	go func() {
		for msg := range messages {
			var evt AuthExpired
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				b.logger.Warn("dropping malformed event", "topic", TopicAuthExpired, "error", err)
				msg.Ack()
				continue
			}
			handle(msg.Context(), evt)
			msg.Ack()
		}
	}()
	return nil
}

// Close stops delivery to all subscribers.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}
