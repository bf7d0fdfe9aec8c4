package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/callchain/pkg/events"
)

// Bus is one fan-out channel.
type Bus struct {
	name   string
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers []Subscriber
}

func NewBus(name string, logger *slog.Logger) *Bus {
	return &Bus{
		name:   name,
		logger: logger.With("bus", name),
	}
}

func (b *Bus) Name() string {
	return b.name
}

// Attach adds the subscriber unless one with the same ID is attached already.
func (b *Bus) Attach(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subscribers {
		if s.SubscriberID() == subscriber.SubscriberID() {
			return
		}
	}

	b.subscribers = append(b.subscribers, subscriber)
}

func (b *Bus) Detach(subscriber Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subscribers {
		if s.SubscriberID() == subscriber.SubscriberID() {
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)

			return nil
		}
	}

	return fmt.Errorf("%w on %s bus: %s", ErrSubscriberNotRegistered, b.name, subscriber.SubscriberID())
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers)
}

// Post delivers the event to every attached subscriber and returns how many failed.
func (b *Bus) Post(ctx context.Context, event events.Event) int {
	b.mu.RLock()
	subscribers := make([]Subscriber, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	failures := 0

	for _, subscriber := range subscribers {
		err := b.deliver(ctx, subscriber, event)
		if err == nil {
			continue
		}

		failures++

		base := event.GetBase()
		b.logger.ErrorContext(ctx, "Subscriber failed to handle event",
			"subscriber_id", subscriber.SubscriberID(),
			"handler", fmt.Sprintf("%T.HandleEvent", subscriber),
			"event_type", event.GetType(),
			"event_id", base.ID,
			"context_id", base.ContextID,
			"error", err,
			"causes", causeChain(err),
		)
	}

	return failures
}

func (b *Bus) deliver(ctx context.Context, subscriber Subscriber, event events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSubscriberPanic, r)
		}
	}()

	return subscriber.HandleEvent(ctx, event)
}

func causeChain(err error) []string {
	var causes []string

	queue := []error{err}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == nil {
			continue
		}

		causes = append(causes, current.Error())

		switch unwrapped := current.(type) {
		case interface{ Unwrap() []error }:
			queue = append(queue, unwrapped.Unwrap()...)
		default:
			queue = append(queue, errors.Unwrap(current))
		}
	}

	return causes
}
