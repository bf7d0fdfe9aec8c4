package models

import (
	"encoding/json"
	"maps"
	"time"
)

type executionContextJSON struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	ProjectID         string         `json:"project_id"`
	Initiator         *Initiator     `json:"initiator,omitempty"`
	State             ContextState   `json:"state"`
	StartedByExternal bool           `json:"started_by_external"`
	NeedsReporting    bool           `json:"needs_reporting"`
	Values            map[string]any `json:"values"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	EndedAt           *time.Time     `json:"ended_at,omitempty"`
	TimeoutAt         *time.Time     `json:"timeout_at,omitempty"`
}

// MarshalJSON includes the value bag, which is not an exported field.
func (c *ExecutionContext) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	raw := executionContextJSON{
		ID:                c.ID,
		Name:              c.Name,
		ProjectID:         c.ProjectID,
		Initiator:         c.Initiator,
		State:             c.lifecycle.State,
		StartedByExternal: c.StartedByExternal,
		NeedsReporting:    c.NeedsReporting,
		Values:            maps.Clone(c.values),
		StartedAt:         c.lifecycle.StartedAt,
		EndedAt:           c.lifecycle.EndedAt,
		TimeoutAt:         c.timeoutAt,
	}
	c.mu.RUnlock()

	if raw.Values == nil {
		raw.Values = make(map[string]any)
	}

	return json.Marshal(raw)
}

func (c *ExecutionContext) UnmarshalJSON(data []byte) error {
	var raw executionContextJSON

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ID = raw.ID
	c.Name = raw.Name
	c.ProjectID = raw.ProjectID
	c.Initiator = raw.Initiator
	c.StartedByExternal = raw.StartedByExternal
	c.NeedsReporting = raw.NeedsReporting
	c.lifecycle = Lifecycle{State: raw.State, StartedAt: raw.StartedAt, EndedAt: raw.EndedAt}
	c.timeoutAt = raw.TimeoutAt

	c.values = raw.Values
	if c.values == nil {
		c.values = make(map[string]any)
	}

	return nil
}

// Clone returns a deep-enough copy for storage: the value bag is copied, values are shared.
func (c *ExecutionContext) Clone() *ExecutionContext {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &ExecutionContext{
		ID:                c.ID,
		Name:              c.Name,
		ProjectID:         c.ProjectID,
		StartedByExternal: c.StartedByExternal,
		NeedsReporting:    c.NeedsReporting,
		lifecycle:         c.lifecycle,
		timeoutAt:         c.timeoutAt,
		values:            maps.Clone(c.values),
	}

	if c.Initiator != nil {
		initiator := *c.Initiator
		clone.Initiator = &initiator
	}

	if clone.values == nil {
		clone.values = make(map[string]any)
	}

	return clone
}
