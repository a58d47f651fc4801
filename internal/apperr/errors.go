// Package apperr defines the error taxonomy shared by all services.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound marks an artifact or tier that is absent.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an operation blocked by undeclared local changes.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyExists marks a create colliding with an existing artifact.
	ErrAlreadyExists = errors.New("already exists")
	// ErrUpstreamUnavailable marks an unreachable or timed-out source.
	// A timeout and an unreachable host are deliberately indistinguishable.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUnsupported marks an operation this design intentionally does not
	// implement (e.g. project-to-collection push).
	ErrUnsupported = errors.New("operation not supported")
)

// WriteFailure reports a failed filesystem write or atomic replace.
type WriteFailure struct {
	Path string
	Err  error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("write failed for %s: %v", e.Path, e.Err)
}

func (e *WriteFailure) Unwrap() error { return e.Err }

// ItemError is a single failed item inside a batch operation.
type ItemError struct {
	Key string // artifact identity or path
	Err error
}

// PartialBatch aggregates per-item failures from a bulk operation that
// continued past them. It is informational when at least one item
// succeeded; callers treat the batch as failed only when Total == failed.
type PartialBatch struct {
	Op    string
	Items []ItemError
}

func (e *PartialBatch) Error() string {
	keys := make([]string, len(e.Items))
	for i, it := range e.Items {
		keys[i] = it.Key
	}
	return fmt.Sprintf("%s: %d item(s) failed: %s", e.Op, len(e.Items), strings.Join(keys, ", "))
}

// Failed returns the keys of all failed items.
func (e *PartialBatch) Failed() []string {
	keys := make([]string, len(e.Items))
	for i, it := range e.Items {
		keys[i] = it.Key
	}
	return keys
}
