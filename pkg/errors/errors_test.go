package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeBackendNotFound, "backend not registered"),
			expected: "[BACKEND_NOT_FOUND] backend not registered",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeAllocation, "allocation failed", errors.New("out of memory")),
			expected: "[ALLOCATION_ERROR] allocation failed: out of memory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeReshape, "reshape failed", underlying)

	unwrapped := err.Unwrap()
	assert.Equal(t, underlying, unwrapped)
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeBroadcast, "error 1")
	err2 := New(CodeBroadcast, "error 2")
	err3 := New(CodeReshape, "error 3")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestIsBroadcastError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "broadcast error",
			err:      ErrBroadcast,
			expected: true,
		},
		{
			name:     "wrapped broadcast error",
			err:      Wrap(CodeBroadcast, "shape mismatch", errors.New("dims 3 vs 5")),
			expected: true,
		},
		{
			name:     "other error",
			err:      ErrReshape,
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsBroadcastError(tt.err))
		})
	}
}

func TestIsBackendNotFound(t *testing.T) {
	assert.True(t, IsBackendNotFound(ErrBackendNotFound))
	assert.False(t, IsBackendNotFound(ErrBroadcast))
}

func TestIsCycleDetected(t *testing.T) {
	assert.True(t, IsCycleDetected(ErrCycleDetected))
	assert.False(t, IsCycleDetected(ErrBroadcast))
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "app error",
			err:      New(CodeBackendMismatch, "backend mismatch"),
			expected: CodeBackendMismatch,
		},
		{
			name:     "wrapped app error",
			err:      Wrap(CodeTooManyInputs, "too many inputs", errors.New("inner")),
			expected: CodeTooManyInputs,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: CodeUnknown,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: CodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorCode(tt.err))
		})
	}
}

func TestGetErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "app error",
			err:      New(CodeIndexOutOfBounds, "index out of bounds"),
			expected: "index out of bounds",
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: "standard error",
		},
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorMessage(tt.err))
		})
	}
}
