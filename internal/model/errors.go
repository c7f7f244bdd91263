// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// ERROR TYPES
// =============================================================================

// InvalidRequestError reports a request the engine rejects synchronously
// before any provider call is made: empty prompt, no models, or duplicate
// model ids. The conversation is untouched when this is returned.
type InvalidRequestError struct {
	Reason string
}

// Error implements the error interface.
func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

// Is implements errors.Is support; any two InvalidRequestErrors match.
func (e *InvalidRequestError) Is(target error) bool {
	_, ok := target.(*InvalidRequestError)
	return ok
}

// InvalidStateError reports a mutation attempted on a conversation that is
// not in the required lifecycle state, such as sending to an ended
// conversation or ending one twice.
type InvalidStateError struct {
	Op    string
	State State
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return "invalid state: cannot " + e.Op + " while " + e.State.String()
}

// Is implements errors.Is support; any two InvalidStateErrors match.
func (e *InvalidStateError) Is(target error) bool {
	_, ok := target.(*InvalidStateError)
	return ok
}

// ErrInvalidRequest and ErrInvalidState are comparison targets for
// errors.Is checks.
var (
	ErrInvalidRequest = &InvalidRequestError{}
	ErrInvalidState   = &InvalidStateError{}
)
