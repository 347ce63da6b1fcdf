package replica

import (
	"errors"
	"fmt"

	"poolselect/pkg/types"
)

var (
	// ErrIllegalTransition marks a state change the entry's current flags do not allow.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrPersistence marks an I/O failure while reading or writing a control record.
	ErrPersistence = errors.New("replica state persistence failed")

	// ErrMalformedInput marks an unreadable control record header.
	ErrMalformedInput = errors.New("malformed control record")

	ErrUnsupportedVersion = errors.New("unsupported control record version")
	ErrNotFound           = errors.New("replica not found")
	ErrAlreadyExists      = errors.New("replica already exists")
)

// TransitionError reports a rejected transition. The entry is unchanged.
type TransitionError struct {
	ID     types.PnfsID
	Op     Op
	Flags  Flags
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s on %s [%s]: %s", e.Op, e.ID, e.Flags, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// PersistenceError wraps a store failure for one entry
type PersistenceError struct {
	ID  types.PnfsID
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s control record of %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}
