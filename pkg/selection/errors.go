package selection

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationReference marks mutations that name a missing entity,
	// duplicate an existing one or would leave a dangling reference.
	ErrConfigurationReference = errors.New("configuration reference error")

	// ErrMalformedInput marks unparsable patterns, addresses and requests.
	ErrMalformedInput = errors.New("malformed input")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("duplicated entry")
	ErrInUse         = errors.New("still referenced")
	ErrKindMismatch  = errors.New("unit kind mismatch")
)

// ReferenceError describes a configuration graph integrity violation
type ReferenceError struct {
	Kind   string
	Name   string
	Err    error
	Detail string
}

func (e *ReferenceError) Error() string {
	msg := fmt.Sprintf("%s %q: %v", e.Kind, e.Name, e.Err)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *ReferenceError) Unwrap() []error {
	return []error{ErrConfigurationReference, e.Err}
}

// InputError describes a value that failed to parse
type InputError struct {
	Field string
	Value string
	Err   error
}

func (e *InputError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *InputError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedInput}
	}
	return []error{ErrMalformedInput, e.Err}
}

func notFound(kind, name string) error {
	return &ReferenceError{Kind: kind, Name: name, Err: ErrNotFound}
}

func alreadyExists(kind, name string) error {
	return &ReferenceError{Kind: kind, Name: name, Err: ErrAlreadyExists}
}

func inUse(kind, name, detail string) error {
	return &ReferenceError{Kind: kind, Name: name, Err: ErrInUse, Detail: detail}
}

func badInput(field, value string, err error) error {
	return &InputError{Field: field, Value: value, Err: err}
}
