// Package core provides the Engram engine: a single client facade over
// memory storage, hybrid retrieval, the knowledge graph, conversation
// and episodic memory, user profiles, and background consolidation.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested memory was not found.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates that a connection to the storage
	// backend failed.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrEmbeddingFailed indicates that embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")
)

// MemoryError wraps errors with operation context.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "Remember",
//	    Err: ErrEmbeddingFailed,
//	}
//	// Error() returns: "engram: Remember: embedding generation failed"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
func (e *MemoryError) Error() string {
	return fmt.Sprintf("engram: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error, enabling errors.Is and errors.As.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a MemoryError wrapping the given error, or nil
// when err is nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewMemoryError("Remember", err)
//	}
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{Op: op, Err: err}
}
