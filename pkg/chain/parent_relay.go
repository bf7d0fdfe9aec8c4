package chain

import (
	"context"

	"github.com/dukex/callchain/pkg/events"
)

// parentRelay hands the lifecycle events the runner receives for one context on to the
// subscriber that started the context. Relayed events name the runner as their origin.
type parentRelay struct {
	runnerID  string
	contextID string
	parentID  string
	bus       Subscriptions
}

func newParentRelay(runnerID, contextID, parentID string, bus Subscriptions) *parentRelay {
	return &parentRelay{
		runnerID:  runnerID,
		contextID: contextID,
		parentID:  parentID,
		bus:       bus,
	}
}

func (p *parentRelay) SubscriberID() string {
	return "parent-relay-" + p.contextID
}

func (p *parentRelay) HandleEvent(ctx context.Context, event events.Event) error {
	base := event.GetBase()
	if base.ContextID != p.contextID || base.SubscriberID != p.runnerID {
		return nil
	}

	relayed := events.Readdress(event, p.parentID, p.runnerID)
	if relayed == nil {
		return nil
	}

	p.bus.Post(ctx, relayed)

	return nil
}
