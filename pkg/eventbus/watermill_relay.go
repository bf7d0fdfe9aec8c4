package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/callchain/pkg/events"
)

// LocalPoster delivers an event to the subscribers of this node only.
type LocalPoster interface {
	PostLocal(ctx context.Context, event events.Event)
}

// WatermillRelay carries lifecycle events between nodes over a watermill pub/sub.
// Messages published by the relay itself are skipped when they come back.
type WatermillRelay struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	nodeID     string
	logger     *slog.Logger
}

func NewWatermillRelay(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillRelay {
	nodeID := watermill.NewULID()

	return &WatermillRelay{
		publisher:  pub,
		subscriber: sub,
		nodeID:     nodeID,
		logger:     logger.With("module", "watermill_relay", "node_id", nodeID),
	}
}

func (r *WatermillRelay) NodeID() string {
	return r.nodeID
}

func (r *WatermillRelay) Forward(_ context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+watermill.NewULID(), payload)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))
	msg.Metadata.Set(events.EventOriginMetadataKey, r.nodeID)

	return r.publisher.Publish(events.Topic, msg)
}

// Listen consumes events published by other nodes and posts them to target.
func (r *WatermillRelay) Listen(ctx context.Context, target LocalPoster) error {
	messages, err := r.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			if msg.Metadata.Get(events.EventOriginMetadataKey) == r.nodeID {
				msg.Ack()

				continue
			}

			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			event, err := events.Decode(eventType, msg.Payload)
			if err != nil {
				r.logger.ErrorContext(ctx, "Dropping undecodable lifecycle event",
					"message_id", msg.UUID,
					"event_type", eventType,
					"error", err,
				)
				msg.Ack()

				continue
			}

			target.PostLocal(ctx, event)
			msg.Ack()
		}
	}()

	return nil
}

// Close closes both sides of the relay, even when the first one fails.
func (r *WatermillRelay) Close() error {
	return errors.Join(r.publisher.Close(), r.subscriber.Close())
}
