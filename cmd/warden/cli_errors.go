// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the Warden CLI.
package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/jllopis/warden/pkg/errors"
)

// CLIError wraps WardenError with CLI-specific formatting and hints.
type CLIError struct {
	*errors.WardenError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(we *errors.WardenError, hint string) *CLIError {
	return &CLIError{
		WardenError: we,
		Hint:        hint,
	}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.WardenError == nil {
		return "unknown error"
	}

	msg := e.WardenError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the wrapped WardenError.
func (e *CLIError) Unwrap() error {
	if e.WardenError == nil {
		return nil
	}
	return e.WardenError
}

// PrintError prints the error with appropriate formatting.
func (e *CLIError) PrintError(asJSON bool) {
	if asJSON {
		payload, _ := json.Marshal(map[string]any{"error": map[string]string{
			"code":    string(e.WardenError.Code),
			"message": e.WardenError.Message,
			"hint":    e.Hint,
		}})
		fmt.Fprintln(os.Stderr, string(payload))
		return
	}

	fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", FormatErrorCode(e.WardenError.Code), e.WardenError.Message)
	if e.WardenError.Err != nil {
		fmt.Fprintf(os.Stderr, "  Cause: %v\n", e.WardenError.Err)
	}
	if e.Hint != "" {
		fmt.Fprintf(os.Stderr, "  Hint: %s\n", e.Hint)
	}
}

// NewNotFoundError creates a not found error with CLI hints.
func NewNotFoundError(resource, name string) *CLIError {
	we := errors.New(errors.CodeNotFound, fmt.Sprintf("%s '%s' not found", resource, name), nil).
		WithContext("resource", resource).
		WithContext("name", name).
		WithRecoverable(false)
	return NewCLIError(we, fmt.Sprintf("run 'warden %ss list' to see what is loaded", resource))
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	we := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithContext("reason", reason).
		WithRecoverable(false)
	return NewCLIError(we, "run 'warden help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	we := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)

	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(we, hint)
}

// NewRejectedError reports an artifact the admission gate refused.
func NewRejectedError(name, summary string) *CLIError {
	we := errors.New(errors.CodePolicyViolation, fmt.Sprintf("%s rejected: %s", name, summary), nil).
		WithContext("artifact", name)
	return NewCLIError(we, "remove the forbidden imports or calls and inspect again")
}

// WrapError attaches a hint matching the code of err.
func WrapError(err error) *CLIError {
	var cliErr *CLIError
	if stderrors.As(err, &cliErr) {
		return cliErr
	}
	we := errors.AsWardenError(err)
	hint := ""
	switch we.Code {
	case errors.CodeMissingEntry:
		hint = "the entry file must define func Run(params map[string]any) map[string]any"
	case errors.CodeLoadError:
		hint = "check the manifest and entry point of the skill"
	case errors.CodeTimeout:
		hint = "raise execution.timeout or set it to 0 to wait indefinitely"
	case errors.CodeParseError:
		hint = "the artifact is not valid Go source"
	}
	return NewCLIError(we, hint)
}

// PrintSimpleError prints a simple error message (for non-WardenError cases).
func PrintSimpleError(err error, asJSON bool) {
	if asJSON {
		payload, _ := json.Marshal(map[string]any{"error": map[string]string{
			"code":    "UNKNOWN",
			"message": err.Error(),
		}})
		fmt.Fprintln(os.Stderr, string(payload))
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
}

// FormatErrorCode returns a user-friendly name for error codes.
func FormatErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInternal:
		return "Internal Error"
	case errors.CodeInvalidInput:
		return "Invalid Input"
	case errors.CodeParseError:
		return "Parse Error"
	case errors.CodePolicyViolation:
		return "Policy Violation"
	case errors.CodeLoadError:
		return "Load Error"
	case errors.CodeNotFound:
		return "Not Found"
	case errors.CodeMissingEntry:
		return "Missing Entry Function"
	case errors.CodeExecutionFault:
		return "Execution Fault"
	case errors.CodeTimeout:
		return "Timeout"
	default:
		return string(code)
	}
}

// exitCode maps an error to the process exit status. Rejections exit with 2
// so scripts can tell them from operational failures.
func exitCode(err error) int {
	if errors.Is(err, errors.CodePolicyViolation) || errors.Is(err, errors.CodeParseError) {
		return 2
	}
	return 1
}
