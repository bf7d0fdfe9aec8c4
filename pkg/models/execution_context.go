// Package models defines the domain models for call chain execution.
package models

import (
	"maps"
	"sync"
	"time"
)

// ContextState represents the lifecycle state of an execution context.
type ContextState string

const (
	ContextStateCreated         ContextState = "created"
	ContextStateRunning         ContextState = "running"
	ContextStatePaused          ContextState = "paused"
	ContextStateFinished        ContextState = "finished"
	ContextStateFailed          ContextState = "failed"
	ContextStateFailedByTimeout ContextState = "failed_by_timeout"
)

// IsTerminal reports whether no further transition is allowed from the state.
func (s ContextState) IsTerminal() bool {
	return s == ContextStateFinished || s == ContextStateFailed || s == ContextStateFailedByTimeout
}

// InitiatorKind identifies what started an execution context.
type InitiatorKind string

const (
	InitiatorCallChain InitiatorKind = "call_chain"
	InitiatorSituation InitiatorKind = "situation"
)

// Initiator references the step container that started a context.
type Initiator struct {
	Kind InitiatorKind `json:"kind" yaml:"kind"`
	ID   string        `json:"id"   yaml:"id"`
	Name string        `json:"name" yaml:"name"`
}

// Lifecycle is a copy of the fields the context state machine changes on a transition.
type Lifecycle struct {
	State     ContextState
	StartedAt *time.Time
	EndedAt   *time.Time
}

// ExecutionContext is the mutable state bag of one call chain run. The identity fields
// are fixed at creation; everything else is guarded by the context's own lock.
type ExecutionContext struct {
	ID                string
	Name              string
	ProjectID         string
	Initiator         *Initiator
	StartedByExternal bool
	NeedsReporting    bool

	mu        sync.RWMutex
	lifecycle Lifecycle
	timeoutAt *time.Time
	values    map[string]any
}

// NewExecutionContext creates a context in the created state.
func NewExecutionContext(id, name, projectID string, initiator *Initiator) *ExecutionContext {
	return &ExecutionContext{
		ID:        id,
		Name:      name,
		ProjectID: projectID,
		Initiator: initiator,
		lifecycle: Lifecycle{State: ContextStateCreated},
		values:    make(map[string]any),
	}
}

// InitiatedByCallChain reports whether a call chain started the context.
func (c *ExecutionContext) InitiatedByCallChain() bool {
	return c.Initiator != nil && c.Initiator.Kind == InitiatorCallChain
}

func (c *ExecutionContext) State() ContextState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lifecycle.State
}

func (c *ExecutionContext) Lifecycle() Lifecycle {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lifecycle
}

func (c *ExecutionContext) SetLifecycle(lifecycle Lifecycle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lifecycle = lifecycle
}

// TimeoutAt returns a copy of the deadline, or nil when the context has none.
func (c *ExecutionContext) TimeoutAt() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.timeoutAt == nil {
		return nil
	}

	deadline := *c.timeoutAt

	return &deadline
}

func (c *ExecutionContext) SetTimeoutAt(deadline time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timeoutAt = &deadline
}

// TightenTimeout sets the deadline unless the current one is earlier, and reports
// whether it changed.
func (c *ExecutionContext) TightenTimeout(deadline time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeoutAt != nil && !deadline.Before(*c.timeoutAt) {
		return false
	}

	c.timeoutAt = &deadline

	return true
}

// Expired reports whether a live context is past its deadline.
func (c *ExecutionContext) Expired(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.lifecycle.State.IsTerminal() || c.timeoutAt == nil {
		return false
	}

	return c.timeoutAt.Before(now)
}

func (c *ExecutionContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.values[key]

	return v, ok
}

func (c *ExecutionContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.values == nil {
		c.values = make(map[string]any)
	}

	c.values[key] = value
}

func (c *ExecutionContext) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.values, key)
}

// Merge overwrites the context values with the given ones.
func (c *ExecutionContext) Merge(values map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.values == nil {
		c.values = make(map[string]any, len(values))
	}

	maps.Copy(c.values, values)
}

// Values returns a shallow copy of the value bag.
func (c *ExecutionContext) Values() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return maps.Clone(c.values)
}
