package store

import "fmt"

// ErrSnippetNotFound is returned when no snippet exists under an id,
// including snippets that have passed their TTL.
type ErrSnippetNotFound struct {
	ID string
}

func (e *ErrSnippetNotFound) Error() string {
	return fmt.Sprintf("snippet not found: %s", e.ID)
}

// ErrInternal wraps storage failures that are not the caller's fault.
type ErrInternal struct {
	Err error
}

func (e *ErrInternal) Error() string {
	return fmt.Sprintf("internal error: %v", e.Err)
}

func (e *ErrInternal) Unwrap() error {
	return e.Err
}
