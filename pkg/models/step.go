package models

import (
	"strings"
	"sync"
	"time"
)

// StepKind identifies the closed set of step kinds. Dotted kinds such as
// "integration.http" are sub-kinds served by their base kind's executor.
type StepKind string

const (
	StepKindSituation   StepKind = "situation"
	StepKindIntegration StepKind = "integration"
	StepKindEmbedded    StepKind = "embedded"
)

// Base returns the kind without any sub-kind suffix.
func (k StepKind) Base() StepKind {
	base, _, _ := strings.Cut(string(k), ".")

	return StepKind(base)
}

// ScriptLanguage selects how a step pre-script is evaluated.
type ScriptLanguage string

const (
	ScriptLanguageTemplate   ScriptLanguage = "template"
	ScriptLanguageJavaScript ScriptLanguage = "javascript"
)

// Step is the immutable configuration of one call chain step.
type Step struct {
	ID                string            `json:"id"                            yaml:"id"                            validate:"required"`
	Name              string            `json:"name"                          yaml:"name"                          validate:"required"`
	Kind              StepKind          `json:"kind"                          yaml:"kind"                          validate:"required"`
	PreScript         string            `json:"pre_script,omitempty"          yaml:"pre_script,omitempty"`
	PreScriptLanguage ScriptLanguage    `json:"pre_script_language,omitempty" yaml:"pre_script_language,omitempty" validate:"omitempty,oneof=template javascript"`
	KeysToRegenerate  map[string]string `json:"keys_to_regenerate,omitempty"  yaml:"keys_to_regenerate,omitempty"`
	SituationID       string            `json:"situation_id,omitempty"        yaml:"situation_id,omitempty"        validate:"required_if=Kind situation"`
	ChainID           string            `json:"chain_id,omitempty"            yaml:"chain_id,omitempty"            validate:"required_if=Kind embedded"`
	Transport         string            `json:"transport,omitempty"           yaml:"transport,omitempty"`
	TemplateID        string            `json:"template_id,omitempty"         yaml:"template_id,omitempty"`
	Body              string            `json:"body,omitempty"                yaml:"body,omitempty"`
	Properties        map[string]any    `json:"properties,omitempty"          yaml:"properties,omitempty"`
}

// StepStatus is the execution status of a step instance.
type StepStatus string

const (
	StepStatusNotStarted StepStatus = "not_started"
	StepStatusRunning    StepStatus = "running"
	StepStatusWaiting    StepStatus = "waiting"
	StepStatusPassed     StepStatus = "passed"
	StepStatusFailed     StepStatus = "failed"
)

// StepInstance is a run-time occurrence of a Step within one execution context. A waiting
// instance is completed by whichever goroutine delivers the reply, so status changes go
// through the methods below.
type StepInstance struct {
	ID         string     `json:"id"`
	Step       *Step      `json:"step"`
	ContextID  string     `json:"context_id"`
	Status     StepStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	mu sync.Mutex
}

// NewStepInstance creates a not-started instance of step for the context.
func NewStepInstance(id string, step *Step, contextID string) *StepInstance {
	return &StepInstance{
		ID:        id,
		Step:      step,
		ContextID: contextID,
		Status:    StepStatusNotStarted,
	}
}

func (s *StepInstance) Start(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Status = StepStatusRunning
	s.StartedAt = &now
	s.FinishedAt = nil
	s.Error = ""
}

func (s *StepInstance) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Status = StepStatusWaiting
}

func (s *StepInstance) Pass(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Status = StepStatusPassed
	s.FinishedAt = &now
}

// Settle passes a running instance. It reports false when the instance was handed to
// an asynchronous reply instead.
func (s *StepInstance) Settle(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status != StepStatusRunning {
		return false
	}

	s.Status = StepStatusPassed
	s.FinishedAt = &now

	return true
}

func (s *StepInstance) CurrentStatus() StepStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.Status
}

func (s *StepInstance) Fail(now time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Status = StepStatusFailed
	s.FinishedAt = &now

	if err != nil {
		s.Error = err.Error()
	}
}
