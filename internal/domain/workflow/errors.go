package workflow

import "errors"

var (
	// ErrInvalidTransition is returned for a trigger with no edge from the current state
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidState is returned for an entry status outside the lifecycle
	ErrInvalidState = errors.New("invalid state")
	// ErrGuardFailed is returned when every guarded edge refused the trigger
	ErrGuardFailed = errors.New("guard condition failed")
)
