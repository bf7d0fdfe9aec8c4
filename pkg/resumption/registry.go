// Package resumption keeps, per execution context, who waits on the chain and which
// suspended situation a resume must re-enter.
package resumption

import (
	"sync"

	"github.com/dukex/callchain/pkg/models"
)

type record struct {
	subscriber *models.SubscriberData
	deferred   *models.DeferredSituation
}

func (r *record) empty() bool {
	return r.subscriber == nil && r.deferred == nil
}

// Registry holds one record per context ID. Every operation replaces or removes a whole
// field of a record under the lock, never mutating a stored value in place.
type Registry struct {
	mu      sync.Mutex
	records map[string]*record
}

func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*record),
	}
}

// AddSubscriber registers subscriber data for the context, replacing any previous one.
func (r *Registry) AddSubscriber(contextID, subscriberID, parentSubscriberID string, needToContinue bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recordFor(contextID).subscriber = &models.SubscriberData{
		SubscriberID:       subscriberID,
		ParentSubscriberID: parentSubscriberID,
		NeedToContinue:     needToContinue,
	}
}

func (r *Registry) Subscriber(contextID string) (models.SubscriberData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[contextID]
	if !ok || rec.subscriber == nil {
		return models.SubscriberData{}, false
	}

	return *rec.subscriber, true
}

func (r *Registry) RemoveSubscriber(contextID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[contextID]
	if !ok {
		return
	}

	rec.subscriber = nil
	r.dropIfEmpty(contextID, rec)
}

// PutDeferred records the suspended situation a later resume must re-enter.
func (r *Registry) PutDeferred(deferred models.DeferredSituation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recordFor(deferred.ContextID).deferred = &deferred
}

func (r *Registry) Deferred(contextID string) (models.DeferredSituation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[contextID]
	if !ok || rec.deferred == nil {
		return models.DeferredSituation{}, false
	}

	return *rec.deferred, true
}

// TakeDeferred removes and returns the deferred situation. Of several concurrent callers
// for the same context, exactly one receives it.
func (r *Registry) TakeDeferred(contextID string) (models.DeferredSituation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[contextID]
	if !ok || rec.deferred == nil {
		return models.DeferredSituation{}, false
	}

	deferred := *rec.deferred
	rec.deferred = nil
	r.dropIfEmpty(contextID, rec)

	return deferred, true
}

func (r *Registry) RemoveDeferred(contextID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[contextID]
	if !ok {
		return
	}

	rec.deferred = nil
	r.dropIfEmpty(contextID, rec)
}

// Remove drops everything recorded for the context.
func (r *Registry) Remove(contextID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, contextID)
}

func (r *Registry) ContextIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}

	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.records)
}

func (r *Registry) recordFor(contextID string) *record {
	rec, ok := r.records[contextID]
	if !ok {
		rec = &record{}
		r.records[contextID] = rec
	}

	return rec
}

func (r *Registry) dropIfEmpty(contextID string, rec *record) {
	if rec.empty() {
		delete(r.records, contextID)
	}
}
