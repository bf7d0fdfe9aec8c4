// Package events defines the lifecycle events published while a call chain runs.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries lifecycle events between nodes.
const Topic = "callchain.lifecycle"

const EventTypeMetadataKey = "event_type"
const EventOriginMetadataKey = "origin_node"

const (
	PausedEvent                 EventType = "context.paused"
	ResumedEvent                EventType = "context.resumed"
	ResumedWithoutContinueEvent EventType = "context.resumed_without_continue"
	ContextUpdatedEvent         EventType = "context.updated"
	NotifiedEvent               EventType = "context.notified"
	TerminatedEvent             EventType = "context.terminated"
)

// Event is an immutable lifecycle notification.
type Event interface {
	GetType() EventType
	GetBase() BaseEvent
}

// BaseEvent holds the routing data shared by every lifecycle event. SubscriberID is the
// target of the notification and ParentSubscriberID its origin.
type BaseEvent struct {
	ID                 string    `json:"id"`
	Type               EventType `json:"type"`
	Timestamp          time.Time `json:"timestamp"`
	ContextID          string    `json:"context_id"`
	ChainID            string    `json:"chain_id,omitempty"`
	SubscriberID       string    `json:"subscriber_id"`
	ParentSubscriberID string    `json:"parent_subscriber_id"`
}

func (b BaseEvent) GetBase() BaseEvent {
	return b
}

type Paused struct {
	BaseEvent
}

func (Paused) GetType() EventType {
	return PausedEvent
}

type Resumed struct {
	BaseEvent
}

func (Resumed) GetType() EventType {
	return ResumedEvent
}

// ResumedWithoutContinue tells the subscriber the reply arrived but the chain must halt.
type ResumedWithoutContinue struct {
	BaseEvent
}

func (ResumedWithoutContinue) GetType() EventType {
	return ResumedWithoutContinueEvent
}

type ContextUpdated struct {
	BaseEvent

	Values map[string]any `json:"values,omitempty"`
}

func (ContextUpdated) GetType() EventType {
	return ContextUpdatedEvent
}

type Notified struct {
	BaseEvent

	Message string `json:"message"`
}

func (Notified) GetType() EventType {
	return NotifiedEvent
}

type Terminated struct {
	BaseEvent

	Reason string `json:"reason"`
}

func (Terminated) GetType() EventType {
	return TerminatedEvent
}

func NewBaseEvent(eventType EventType, contextID, subscriberID, parentSubscriberID string) BaseEvent {
	return BaseEvent{
		ID:                 uuid.New().String(),
		Type:               eventType,
		Timestamp:          time.Now().UTC(),
		ContextID:          contextID,
		SubscriberID:       subscriberID,
		ParentSubscriberID: parentSubscriberID,
	}
}

// Readdress returns a copy of the event, under a new ID, targeted at subscriberID and
// naming parentSubscriberID as its origin. Unknown event types yield nil.
//
//nolint:ireturn // the concrete type follows the input
func Readdress(event Event, subscriberID, parentSubscriberID string) Event {
	switch e := event.(type) {
	case Paused:
		e.BaseEvent = e.readdressed(subscriberID, parentSubscriberID)

		return e
	case Resumed:
		e.BaseEvent = e.readdressed(subscriberID, parentSubscriberID)

		return e
	case ResumedWithoutContinue:
		e.BaseEvent = e.readdressed(subscriberID, parentSubscriberID)

		return e
	case ContextUpdated:
		e.BaseEvent = e.readdressed(subscriberID, parentSubscriberID)

		return e
	case Notified:
		e.BaseEvent = e.readdressed(subscriberID, parentSubscriberID)

		return e
	case Terminated:
		e.BaseEvent = e.readdressed(subscriberID, parentSubscriberID)

		return e
	default:
		return nil
	}
}

func (b BaseEvent) readdressed(subscriberID, parentSubscriberID string) BaseEvent {
	b.ID = uuid.New().String()
	b.SubscriberID = subscriberID
	b.ParentSubscriberID = parentSubscriberID

	return b
}
