package dispatch

import (
	"errors"
	"fmt"

	"github.com/dukex/callchain/pkg/models"
)

var ErrNoExecutor = errors.New("no executor registered for step kind")

// ConfigurationError is returned when a step instance cannot be mapped to an executor.
// It is never retried.
type ConfigurationError struct {
	StepInstanceID string
	Kind           models.StepKind
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("step instance %s: %s %q", e.StepInstanceID, ErrNoExecutor, e.Kind)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrNoExecutor
}

func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError

	return errors.As(err, &cfgErr)
}
