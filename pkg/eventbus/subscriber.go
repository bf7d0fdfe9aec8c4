package eventbus

import (
	"context"

	"github.com/dukex/callchain/pkg/events"
)

type subscriberFunc struct {
	id      string
	handler func(ctx context.Context, event events.Event) error
}

// NewSubscriberFunc wraps a plain function as a Subscriber.
func NewSubscriberFunc(id string, handler func(ctx context.Context, event events.Event) error) Subscriber {
	return &subscriberFunc{id: id, handler: handler}
}

func (s *subscriberFunc) SubscriberID() string {
	return s.id
}

func (s *subscriberFunc) HandleEvent(ctx context.Context, event events.Event) error {
	return s.handler(ctx, event)
}

type contextSubscriber struct {
	Subscriber

	contextID string
}

// BindToContext marks a subscriber as interested in a single execution context only.
func BindToContext(subscriber Subscriber, contextID string) Subscriber {
	return &contextSubscriber{Subscriber: subscriber, contextID: contextID}
}

func (s *contextSubscriber) ContextID() string {
	return s.contextID
}
