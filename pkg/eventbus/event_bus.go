// Package eventbus fans lifecycle events out to registered subscribers over a
// high-priority and a normal-priority channel.
package eventbus

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/callchain/pkg/events"
)

var (
	ErrSubscriberNotRegistered = errors.New("subscriber not registered")
	ErrSubscriberPanic         = errors.New("subscriber panicked")
)

type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}

	return "normal"
}

// Subscriber receives every event posted on the channel it is attached to.
type Subscriber interface {
	SubscriberID() string
	HandleEvent(ctx context.Context, event events.Event) error
}

// ContextBound is implemented by subscribers that only care about one execution
// context, which lets the cache cleaner evict them once that context ends.
type ContextBound interface {
	ContextID() string
}

// Forwarder ships posted events to other nodes.
type Forwarder interface {
	Forward(ctx context.Context, event events.Event) error
}

// EventBus is the dual-priority bus. Post is a broadcast: high-priority subscribers are
// invoked before normal-priority ones, and a failing subscriber never stops delivery.
type EventBus struct {
	logger    *slog.Logger
	high      *Bus
	normal    *Bus
	cache     *SubscriberCache
	forwarder Forwarder
}

func NewEventBus(logger *slog.Logger, cache *SubscriberCache) *EventBus {
	logger = logger.With("module", "event_bus")

	return &EventBus{
		logger: logger,
		high:   NewBus("high-priority", logger),
		normal: NewBus("normal-priority", logger),
		cache:  cache,
	}
}

// SetForwarder makes every locally posted event also leave the node.
func (eb *EventBus) SetForwarder(forwarder Forwarder) {
	eb.forwarder = forwarder
}

func (eb *EventBus) Post(ctx context.Context, event events.Event) {
	if event == nil {
		return
	}

	eb.PostLocal(ctx, event)

	if eb.forwarder == nil {
		return
	}

	err := eb.forwarder.Forward(ctx, event)
	if err != nil {
		eb.logger.ErrorContext(ctx, "Failed to forward event",
			"event_type", event.GetType(),
			"event_id", event.GetBase().ID,
			"error", err,
		)
	}
}

// PostLocal delivers to this node's subscribers only.
func (eb *EventBus) PostLocal(ctx context.Context, event events.Event) {
	if event == nil {
		return
	}

	eb.high.Post(ctx, event)
	eb.normal.Post(ctx, event)
}

func (eb *EventBus) Register(subscriber Subscriber, priority Priority) {
	eb.cache.Add(subscriber, priority)

	if priority == PriorityHigh {
		eb.high.Attach(subscriber)
	} else {
		eb.normal.Attach(subscriber)
	}

	eb.logger.Debug("Subscriber registered",
		"subscriber_id", subscriber.SubscriberID(),
		"priority", priority.String(),
	)
}

// Unregister detaches the subscriber from both channels. Detaching a subscriber that is
// not attached is ignored.
func (eb *EventBus) Unregister(subscriber Subscriber) {
	eb.cache.Remove(subscriber.SubscriberID())

	highErr := eb.high.Detach(subscriber)
	normalErr := eb.normal.Detach(subscriber)

	if highErr != nil && normalErr != nil {
		eb.logger.Debug("Subscriber was not attached", "subscriber_id", subscriber.SubscriberID())
	}
}

// UnregisterNormal detaches the subscriber from the normal-priority channel.
func (eb *EventBus) UnregisterNormal(subscriber Subscriber) {
	eb.cache.Remove(subscriber.SubscriberID())

	err := eb.normal.Detach(subscriber)
	if err != nil {
		eb.logger.Warn("Failed to unregister subscriber from normal-priority bus",
			"subscriber_id", subscriber.SubscriberID(),
			"error", err,
		)
	}
}

// Subscribers lists the lifecycle cache.
func (eb *EventBus) Subscribers() []CacheEntry {
	return eb.cache.Entries()
}
