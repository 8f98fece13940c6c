// Package errors defines common error types for the tensor engine.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the tensor engine.
const (
	CodeUnknown             = "UNKNOWN_ERROR"
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeAllocation          = "ALLOCATION_ERROR"
	CodeBroadcast           = "BROADCAST_ERROR"
	CodeReshape             = "RESHAPE_ERROR"
	CodeIndexOutOfBounds    = "INDEX_OUT_OF_BOUNDS"
	CodeBackendNotFound     = "BACKEND_NOT_FOUND"
	CodeBackendMismatch     = "BACKEND_MISMATCH"
	CodeParentNotRegistered = "PARENT_NOT_REGISTERED"
	CodeBucketNotEmpty      = "BUCKET_NOT_EMPTY"
	CodeNodeNotFound        = "NODE_NOT_FOUND"
	CodeTooManyInputs       = "TOO_MANY_INPUTS"
	CodeCycleDetected       = "CYCLE_DETECTED"
	CodeForwardNotExecuted  = "FORWARD_NOT_EXECUTED"
	CodeNotImplemented      = "NOT_IMPLEMENTED"
	CodeConfigError         = "CONFIG_ERROR"
)

// AppError represents an engine error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target by code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code string, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances, matched by code via Is/errors.Is.
var (
	ErrInvalidArgument     = New(CodeInvalidArgument, "invalid argument")
	ErrAllocation          = New(CodeAllocation, "allocation failed")
	ErrBroadcast           = New(CodeBroadcast, "shapes are not broadcast-compatible")
	ErrReshape             = New(CodeReshape, "layout cannot be reshaped")
	ErrIndexOutOfBounds    = New(CodeIndexOutOfBounds, "index out of bounds")
	ErrBackendNotFound     = New(CodeBackendNotFound, "backend not registered")
	ErrBackendMismatch     = New(CodeBackendMismatch, "operands use different backends")
	ErrParentNotRegistered = New(CodeParentNotRegistered, "parent storage not found in registry")
	ErrBucketNotEmpty      = New(CodeBucketNotEmpty, "bucket still has live aliases")
	ErrNodeNotFound        = New(CodeNodeNotFound, "graph node not found")
	ErrTooManyInputs       = New(CodeTooManyInputs, "operation exceeds max input count")
	ErrCycleDetected       = New(CodeCycleDetected, "cycle detected in compute graph")
	ErrForwardNotExecuted  = New(CodeForwardNotExecuted, "node has not been executed")
	ErrNotImplemented      = New(CodeNotImplemented, "operation not implemented")
	ErrConfigError         = New(CodeConfigError, "configuration error")
)

// IsBroadcastError checks if the error is a broadcast-compatibility error.
func IsBroadcastError(err error) bool {
	return errors.Is(err, ErrBroadcast)
}

// IsBackendNotFound checks if the error is an unregistered-backend error.
func IsBackendNotFound(err error) bool {
	return errors.Is(err, ErrBackendNotFound)
}

// IsCycleDetected checks if the error reports a cycle in the graph.
func IsCycleDetected(err error) bool {
	return errors.Is(err, ErrCycleDetected)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
