// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/hatchery/lib/agentstore"
	"github.com/bureau-foundation/hatchery/lib/bundle"
	"github.com/bureau-foundation/hatchery/lib/manifest"
	"github.com/bureau-foundation/hatchery/lib/objectstore"
	"github.com/bureau-foundation/hatchery/lib/pairing"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
	"github.com/bureau-foundation/hatchery/lib/secretstore"
)

// ErrorCategory classifies command errors so that scripts can make
// decisions (retry, fix input, escalate) without parsing error text.
type ErrorCategory string

const (
	// CategoryValidation indicates the caller provided invalid input:
	// missing required parameters, wrong argument count, unparseable
	// values. The caller should fix the input and retry.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound indicates a referenced resource does not exist:
	// unknown agent, step, secret or template.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryForbidden indicates a rejected credential, such as an
	// expired or forged download URL.
	CategoryForbidden ErrorCategory = "forbidden"

	// CategoryConflict indicates the operation conflicts with existing
	// state: duplicate resource, invalid step transition, a pairing
	// session already running.
	CategoryConflict ErrorCategory = "conflict"

	// CategoryTransient indicates a temporary failure: network error,
	// timeout, a worker that is not running yet. The caller should
	// back off and retry.
	CategoryTransient ErrorCategory = "transient"

	// CategoryInternal indicates an unexpected error: bugs, I/O
	// failures, corrupt stored data. The caller should report the
	// error rather than retry.
	CategoryInternal ErrorCategory = "internal"
)

// exitCodes maps categories to process exit codes.
var exitCodes = map[ErrorCategory]int{
	CategoryInternal:   1,
	CategoryValidation: 2,
	CategoryNotFound:   3,
	CategoryConflict:   4,
	CategoryTransient:  5,
	CategoryForbidden:  6,
}

// ToolError is a categorized error returned by CLI commands. It wraps
// an inner error, preserving the chain for errors.Is and errors.As.
// Use the category constructors rather than constructing it directly.
type ToolError struct {
	// Category classifies the error for programmatic handling.
	Category ErrorCategory

	// Err is the underlying error with the human-readable message.
	Err error
}

// Error returns the underlying error message.
func (e *ToolError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error { return e.Err }

// ExitCode selects the process exit code for the category.
func (e *ToolError) ExitCode() int {
	if code, ok := exitCodes[e.Category]; ok {
		return code
	}
	return 1
}

// Validation creates a validation error: the caller provided bad input.
func Validation(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound creates a not-found error: a referenced resource does not exist.
func NotFound(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Forbidden creates a forbidden error: a credential was rejected.
func Forbidden(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryForbidden, Err: fmt.Errorf(format, args...)}
}

// Conflict creates a conflict error: the operation conflicts with existing state.
func Conflict(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryConflict, Err: fmt.Errorf(format, args...)}
}

// Transient creates a transient error: a temporary failure that may succeed on retry.
func Transient(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryTransient, Err: fmt.Errorf(format, args...)}
}

// Internal creates an internal error: an unexpected failure, bug, or I/O error.
func Internal(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}

// Classify returns err as a ToolError. An error that already carries a
// category keeps it; otherwise the category is chosen from the
// sentinel errors in err's chain, defaulting to internal. Classify(nil)
// is nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var toolError *ToolError
	if errors.As(err, &toolError) {
		return err
	}
	return &ToolError{Category: categoryOf(err), Err: err}
}

func categoryOf(err error) ErrorCategory {
	switch {
	case errors.Is(err, hatching.ErrNotFound),
		errors.Is(err, secretstore.ErrNotFound),
		errors.Is(err, objectstore.ErrNotFound):
		return CategoryNotFound

	case errors.Is(err, agentstore.ErrConflict),
		errors.Is(err, manifest.ErrInvalidTransition),
		errors.Is(err, pairing.ErrSessionActive),
		errors.Is(err, pairing.ErrAlreadyPaired),
		errors.Is(err, pairing.ErrNotStarted):
		return CategoryConflict

	case errors.Is(err, manifest.ErrDuplicateStep),
		errors.Is(err, pairing.ErrChannelNotEnabled),
		errors.Is(err, bundle.ErrDecryptionFailed):
		return CategoryValidation

	case errors.Is(err, objectstore.ErrExpired),
		errors.Is(err, objectstore.ErrInvalidSignature):
		return CategoryForbidden

	case errors.Is(err, pairing.ErrWorkerNotRunning),
		errors.Is(err, context.DeadlineExceeded):
		return CategoryTransient
	}
	return CategoryInternal
}
