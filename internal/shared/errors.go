package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates a malformed administrative request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSelfDelegation occurs when a user delegates a role to themselves.
	ErrSelfDelegation = errors.New("cannot delegate to self")
	// ErrInsufficientAuthority occurs when the actor lacks the required role.
	ErrInsufficientAuthority = errors.New("insufficient authority")
	// ErrProtectedRole occurs when revoking a system-critical role without
	// supreme authority.
	ErrProtectedRole = errors.New("protected role")
	// ErrAlreadyActive occurs when an override is activated for a pair that
	// already has one running.
	ErrAlreadyActive = errors.New("override already active")
	// ErrInvalidDuration occurs when an override duration is out of range.
	ErrInvalidDuration = errors.New("duration out of range")
	// ErrInvalidScope occurs when a scope entry names an unknown entity type.
	ErrInvalidScope = errors.New("invalid scope entity type")
	// ErrCyclicInheritance occurs when a permission-set parent edit would
	// close a cycle.
	ErrCyclicInheritance = errors.New("permission set inheritance cycle")
)
