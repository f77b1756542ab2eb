package domain

import "errors"

var (
	// ErrNotFound is returned when a requested entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when a state transition is not allowed.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrInvalidArgument is returned when an argument is invalid.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDuplicateDefinition is returned when an operator or method name
	// collides with an existing definition in the same domain.
	ErrDuplicateDefinition = errors.New("duplicate definition")

	// ErrUnknownTask is returned when no operator or method is registered
	// for a task name.
	ErrUnknownTask = errors.New("unknown task")

	// ErrUnknownDomain is returned when a domain id or version is not registered.
	ErrUnknownDomain = errors.New("unknown domain")

	// ErrFrozen is returned when mutating a plan that has been accepted.
	ErrFrozen = errors.New("plan is frozen")

	// ErrCyclicDependency is returned when a dependency cycle is detected.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)
