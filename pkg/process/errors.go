package process

import "errors"

var (
	// ErrNothingToResume is logged when a resume arrives for a context without a deferred situation.
	ErrNothingToResume = errors.New("no deferred situation to resume")
)
