// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Warden.
// Every fault surface of the admission and execution pipeline is expressed
// as a WardenError so callers can tell a missing capability from a broken one.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies Warden errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeParseError indicates an artifact could not be read or parsed.
	CodeParseError ErrorCode = "PARSE_ERROR"

	// CodePolicyViolation indicates an artifact was rejected by the admission policy.
	CodePolicyViolation ErrorCode = "POLICY_VIOLATION"

	// CodeLoadError indicates an artifact or manifest was structurally invalid at load time.
	CodeLoadError ErrorCode = "LOAD_ERROR"

	// CodeNotFound indicates a capability or skill was not registered.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeMissingEntry indicates a loaded skill does not expose its dispatch function.
	CodeMissingEntry ErrorCode = "MISSING_ENTRY_FUNCTION"

	// CodeExecutionFault indicates the capability's own logic failed.
	CodeExecutionFault ErrorCode = "EXECUTION_FAULT"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"
)

// WardenError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type WardenError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	StatusCode  int // For HTTP responses
}

// Error implements the error interface.
func (e *WardenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *WardenError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *WardenError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new WardenError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *WardenError {
	return &WardenError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		StatusCode: codeToStatusCode(code),
	}
}

// Newf creates a WardenError without a cause using a format string.
func Newf(code ErrorCode, format string, args ...any) *WardenError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *WardenError) WithContext(key string, value interface{}) *WardenError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *WardenError) WithRecoverable(recoverable bool) *WardenError {
	e.Recoverable = recoverable
	return e
}

// AsWardenError attempts to convert an error to a WardenError.
// Returns the error as WardenError if one is in the chain, or wraps it otherwise.
func AsWardenError(err error) *WardenError {
	if err == nil {
		return nil
	}
	var we *WardenError
	if stderrors.As(err, &we) {
		return we
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first WardenError in the chain, or empty.
func CodeOf(err error) ErrorCode {
	var we *WardenError
	if stderrors.As(err, &we) {
		return we.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *WardenError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeInvalidInput:
		return 400
	case CodeTimeout:
		return 408
	case CodePolicyViolation, CodeParseError:
		return 422
	default:
		return 500
	}
}
