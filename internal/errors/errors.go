// Package errors classifies failures of the kernels, storage and Flight
// layers so callers can branch on kind and the service can pick a gRPC code.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeComputation   ErrorType = "computation"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeUnavailable   ErrorType = "unavailable"
)

// grpcCodes lists the non-Internal mappings used by ToGRPCStatus.
var grpcCodes = map[ErrorType]codes.Code{
	ErrorTypeValidation:    codes.InvalidArgument,
	ErrorTypeNotFound:      codes.NotFound,
	ErrorTypeConfiguration: codes.FailedPrecondition,
	ErrorTypeNetwork:       codes.Unavailable,
	ErrorTypeUnavailable:   codes.Unavailable,
}

// StructuredError names the operation that failed. Context holds extra
// key/values such as the offending index or dataset.
type StructuredError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]any
}

func (e *StructuredError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Type, e.Operation, e.Message)
	if e.Cause == nil {
		return msg
	}
	return msg + ": " + e.Cause.Error()
}

func (e *StructuredError) Unwrap() error { return e.Cause }

// WithContext records key=value on e and returns e for chaining.
func (e *StructuredError) WithContext(key string, value any) *StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]any, 1)
	}
	e.Context[key] = value
	return e
}

func New(errType ErrorType, operation, message string) *StructuredError {
	return &StructuredError{Type: errType, Operation: operation, Message: message}
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(err error, errType ErrorType, operation, message string) *StructuredError {
	if err == nil {
		return nil
	}
	e := New(errType, operation, message)
	e.Cause = err
	return e
}

func NewValidationError(operation, message string) *StructuredError {
	return New(ErrorTypeValidation, operation, message)
}

func NewNotFoundError(operation, message string) *StructuredError {
	return New(ErrorTypeNotFound, operation, message)
}

func NewStorageError(operation, message string) *StructuredError {
	return New(ErrorTypeStorage, operation, message)
}

func NewComputationError(operation, message string) *StructuredError {
	return New(ErrorTypeComputation, operation, message)
}

func NewConfigurationError(operation, message string) *StructuredError {
	return New(ErrorTypeConfiguration, operation, message)
}

// NewUnavailableError reports a dependency that is temporarily refusing work.
func NewUnavailableError(operation, message string) *StructuredError {
	return New(ErrorTypeUnavailable, operation, message)
}

func WrapValidationError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeValidation, operation, message)
}

func WrapStorageError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeStorage, operation, message)
}

func WrapNetworkError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeNetwork, operation, message)
}

func WrapComputationError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeComputation, operation, message)
}

func WrapConfigurationError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeConfiguration, operation, message)
}

// TypeOf returns the kind of the outermost StructuredError in err's chain,
// or "" when there is none.
func TypeOf(err error) ErrorType {
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Type
	}
	return ""
}

func IsValidation(err error) bool { return TypeOf(err) == ErrorTypeValidation }

func IsNotFound(err error) bool { return TypeOf(err) == ErrorTypeNotFound }

// ToGRPCStatus turns err into a status error. Errors that already carry a
// status pass through, context errors keep their Canceled/DeadlineExceeded
// code and unclassified errors become Internal.
func ToGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	code, ok := grpcCodes[TypeOf(err)]
	if !ok {
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
