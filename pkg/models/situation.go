package models

import "time"

// Situation is a configured request/response exchange with a remote system.
type Situation struct {
	ID           string            `json:"id"                      yaml:"id"                      validate:"required"`
	Name         string            `json:"name"                    yaml:"name"                    validate:"required"`
	Transport    string            `json:"transport"               yaml:"transport"               validate:"required"`
	TemplateID   string            `json:"template_id,omitempty"   yaml:"template_id,omitempty"`
	Body         string            `json:"body,omitempty"          yaml:"body,omitempty"`
	Properties   map[string]any    `json:"properties,omitempty"    yaml:"properties,omitempty"`
	AwaitReply   bool              `json:"await_reply"             yaml:"await_reply"`
	ReplyKeys    map[string]string `json:"reply_keys,omitempty"    yaml:"reply_keys,omitempty"`
	ReplyTimeout time.Duration     `json:"reply_timeout,omitempty" yaml:"reply_timeout,omitempty"`
}

// CallChain is a named, ordered sequence of steps.
type CallChain struct {
	ID        string  `json:"id"                   yaml:"id"                   validate:"required"`
	Name      string  `json:"name"                 yaml:"name"                 validate:"required"`
	ProjectID string  `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Steps     []*Step `json:"steps"                yaml:"steps"                validate:"required,min=1,dive"`
}

// Template is a named, reusable message fragment.
type Template struct {
	ID   string `json:"id"   yaml:"id"   validate:"required"`
	Name string `json:"name" yaml:"name" validate:"required"`
	Text string `json:"text" yaml:"text"`
}

// SubscriberData records who must be told when a context's chain advances.
type SubscriberData struct {
	SubscriberID       string `json:"subscriber_id"`
	ParentSubscriberID string `json:"parent_subscriber_id"`
	NeedToContinue     bool   `json:"need_to_continue"`
}

// DeferredSituation is a situation execution suspended until an asynchronous reply arrives.
type DeferredSituation struct {
	ContextID    string        `json:"context_id"`
	SituationID  string        `json:"situation_id"`
	StepInstance *StepInstance `json:"step_instance"`
	SuspendedAt  time.Time     `json:"suspended_at"`
}
