package contexts

import (
	"errors"
	"fmt"

	"github.com/dukex/callchain/pkg/models"
)

var (
	ErrContextNotFound   = errors.New("execution context not found")
	ErrInvalidTransition = errors.New("invalid context state transition")
	ErrInvalidContextID  = errors.New("invalid execution context ID")
)

// TransitionError reports a state change the state machine does not allow.
type TransitionError struct {
	ContextID string
	From      models.ContextState
	To        models.ContextState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("context %s: %s from %s to %s", e.ContextID, ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
