package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfig is returned when a workflow definition is malformed
	ErrConfig = errors.New("invalid workflow configuration")

	// ErrInvalidTransition is returned when a transition is not legal from the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrUnauthorized is returned when the actor may not invoke a transition
	ErrUnauthorized = errors.New("actor not authorized")

	// ErrConditionNotMet is returned when a transition's condition evaluates false
	ErrConditionNotMet = errors.New("transition condition not met")

	// ErrConcurrentModification is returned when an optimistic version check fails
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrRoutingResolution is returned when no routing rule matches and no default chain exists
	ErrRoutingResolution = errors.New("routing resolution failure")

	// ErrCalendarUnavailable is returned by calendars that cannot answer
	ErrCalendarUnavailable = errors.New("business calendar unavailable")

	// ErrEscalationChainExhausted marks the end of an escalation chain
	ErrEscalationChainExhausted = errors.New("escalation chain exhausted")

	// ErrNotFound is returned when a workflow or instance does not exist
	ErrNotFound = errors.New("not found")
)

// ConfigError collects every problem found while validating a definition
type ConfigError struct {
	Workflow string
	Version  int
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s v%d: %s", ErrConfig, e.Workflow, e.Version, strings.Join(e.Problems, "; "))
}

// Is reports ErrConfig for errors.Is checks
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

func (e *ConfigError) add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ConfigError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// ConditionError surfaces the condition that failed to the caller
type ConditionError struct {
	Transition string
	Condition  string
	Cause      error
}

func (e *ConditionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s requires %s: %v", ErrConditionNotMet, e.Transition, e.Condition, e.Cause)
	}
	return fmt.Sprintf("%s: %s requires %s", ErrConditionNotMet, e.Transition, e.Condition)
}

func (e *ConditionError) Unwrap() error {
	return ErrConditionNotMet
}
