package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrFederation   = errors.New("federation failed")

	ErrInvalidRequest      = errors.New("invalid request")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrInvalidRegistration = fmt.Errorf("%w: registration", ErrInvalidRequest)
	ErrInvalidLoginState   = fmt.Errorf("%w: login state missing or mismatched", ErrUnauthorized)
)

// StateError reports a registration state machine precondition failure.
// It matches ErrInvalidState, and ErrConflict when the identity is already ACTIVE.
type StateError struct {
	ID    uuid.UUID
	State IdentityState
}

func (e *StateError) Error() string {
	if e.State == StateActive {
		return fmt.Sprintf("identity %s: registration already completed", e.ID)
	}
	return fmt.Sprintf("identity %s: cannot complete registration from state %s", e.ID, e.State)
}

func (e *StateError) Is(target error) bool {
	switch target {
	case ErrInvalidState:
		return true
	case ErrConflict:
		return e.State == StateActive
	}
	return false
}
