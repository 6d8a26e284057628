package sampler

import (
	"errors"
	"fmt"
)

// Sentinels usable with errors.Is.
var (
	ErrConfig       = &ConfigError{}
	ErrInvalidState = &InvalidStateError{}
	ErrClosed       = errors.New("scheduler closed")
)

// ConfigError reports an unusable scheduler configuration.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	if e == nil || e.Reason == "" {
		return "invalid scheduler configuration"
	}
	return "invalid scheduler configuration: " + e.Reason
}

// Is matches any *ConfigError.
func (e *ConfigError) Is(target error) bool {
	_, ok := target.(*ConfigError)
	return ok
}

// InvalidStateError reports an operation attempted in the wrong lifecycle state.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	if e == nil || e.Op == "" {
		return "invalid scheduler state"
	}
	return fmt.Sprintf("cannot %s scheduler in state %s", e.Op, e.State)
}

// Is matches any *InvalidStateError.
func (e *InvalidStateError) Is(target error) bool {
	_, ok := target.(*InvalidStateError)
	return ok
}
