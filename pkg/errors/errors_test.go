// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cause := errors.New("disk unavailable")
	we := New(CodeLoadError, "artifact could not be loaded", cause)

	assert.Equal(t, CodeLoadError, we.Code)
	assert.Equal(t, "artifact could not be loaded", we.Message)
	assert.Same(t, cause, we.Err)
	assert.True(t, errors.Is(we, cause), "errors.Is should see the wrapped cause")
}

func TestWithContext(t *testing.T) {
	we := New(CodeNotFound, "skill not found", nil).
		WithContext("id", "hello_world").
		WithContext("params", map[string]interface{}{"user_name": "X"})

	assert.Equal(t, "hello_world", we.Context["id"])
	assert.NotNil(t, we.Context["params"])
}

func TestWithRecoverable(t *testing.T) {
	we := New(CodeExecutionFault, "tool panicked", nil)
	assert.False(t, we.Recoverable)
	assert.Equal(t, "false", we.RecoverableString())

	we.WithRecoverable(true)
	assert.True(t, we.Recoverable)
	assert.Equal(t, "true", we.RecoverableString())
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		we       *WardenError
		expected string
	}{
		{
			name:     "with cause",
			we:       New(CodeTimeout, "invocation timed out", errors.New("deadline exceeded")),
			expected: "[TIMEOUT] invocation timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			we:       Newf(CodeNotFound, "capability %q not found", "echo_tool"),
			expected: `[NOT_FOUND] capability "echo_tool" not found`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.we.Error())
		})
	}
}

func TestCodeOfThroughWrapping(t *testing.T) {
	base := New(CodeMissingEntry, "skill has no Run function", nil)
	wrapped := fmt.Errorf("execute skill: %w", base)

	assert.Equal(t, CodeMissingEntry, CodeOf(wrapped))
	assert.True(t, Is(wrapped, CodeMissingEntry))
	assert.False(t, Is(wrapped, CodeNotFound))
	assert.False(t, Is(nil, CodeMissingEntry))
	assert.Same(t, base, AsWardenError(wrapped))
}

func TestAsWardenErrorWrapsUnknown(t *testing.T) {
	assert.Nil(t, AsWardenError(nil))

	we := AsWardenError(errors.New("boom"))
	require.NotNil(t, we)
	assert.Equal(t, CodeInternal, we.Code)
}

func TestMarshalJSON(t *testing.T) {
	we := New(CodeExecutionFault, "tool failed", errors.New("index out of range")).
		WithContext("tool", "echo_tool").
		WithRecoverable(true)

	payload, err := json.Marshal(we)
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Equal(t, "EXECUTION_FAULT", result["code"])
	assert.Equal(t, "index out of range", result["error"])
	assert.Equal(t, true, result["recoverable"])
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected int
	}{
		{CodeNotFound, 404},
		{CodeInvalidInput, 400},
		{CodeTimeout, 408},
		{CodePolicyViolation, 422},
		{CodeParseError, 422},
		{CodeExecutionFault, 500},
		{CodeInternal, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.code, "test", nil).StatusCode)
		})
	}
}
