package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownEventType = errors.New("unknown event type")

// Decode rebuilds a lifecycle event from its type and JSON payload.
//
//nolint:ireturn // the concrete type depends on eventType
func Decode(eventType EventType, payload []byte) (Event, error) {
	switch eventType {
	case PausedEvent:
		return decodeInto[Paused](payload)
	case ResumedEvent:
		return decodeInto[Resumed](payload)
	case ResumedWithoutContinueEvent:
		return decodeInto[ResumedWithoutContinue](payload)
	case ContextUpdatedEvent:
		return decodeInto[ContextUpdated](payload)
	case NotifiedEvent:
		return decodeInto[Notified](payload)
	case TerminatedEvent:
		return decodeInto[Terminated](payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
}

func decodeInto[T Event](payload []byte) (Event, error) {
	var event T

	err := json.Unmarshal(payload, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %T: %w", event, err)
	}

	return event, nil
}
