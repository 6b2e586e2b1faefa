package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStructuredError_Error(t *testing.T) {
	err := New(ErrorTypeValidation, "quantize", "sample contains NaN")
	assert.Equal(t, "[validation] quantize: sample contains NaN", err.Error())

	cause := errors.New("disk full")
	err = Wrap(cause, ErrorTypeStorage, "export", "failed to write report")
	assert.Contains(t, err.Error(), "[storage] export: failed to write report")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, cause, err.Unwrap())
}

func TestStructuredError_WithContext(t *testing.T) {
	err := NewValidationError("check_finite", "non-finite value").
		WithContext("index", 3).
		WithContext("dataset", "weights")

	assert.Equal(t, 3, err.Context["index"])
	assert.Equal(t, "weights", err.Context["dataset"])
}

func TestErrorConstructors(t *testing.T) {
	assert.Equal(t, ErrorTypeValidation, NewValidationError("op", "msg").Type)
	assert.Equal(t, ErrorTypeNotFound, NewNotFoundError("op", "msg").Type)
	assert.Equal(t, ErrorTypeStorage, NewStorageError("op", "msg").Type)
	assert.Equal(t, ErrorTypeComputation, NewComputationError("op", "msg").Type)
	assert.Equal(t, ErrorTypeConfiguration, NewConfigurationError("op", "msg").Type)
}

func TestErrorWrapping(t *testing.T) {
	originalErr := errors.New("original error")

	wrapped := WrapValidationError(originalErr, "validate", "validation failed")
	assert.Equal(t, ErrorTypeValidation, wrapped.Type)
	assert.Equal(t, "validate", wrapped.Operation)
	assert.Equal(t, originalErr, wrapped.Unwrap())

	assert.Nil(t, Wrap(nil, ErrorTypeStorage, "op", "msg"))
	assert.Equal(t, ErrorTypeNetwork, WrapNetworkError(originalErr, "dial", "x").Type)
	assert.Equal(t, ErrorTypeComputation, WrapComputationError(originalErr, "run", "x").Type)
	assert.Equal(t, ErrorTypeConfiguration, WrapConfigurationError(originalErr, "load", "x").Type)
	assert.Equal(t, ErrorTypeStorage, WrapStorageError(originalErr, "open", "x").Type)
}

func TestTypeOf_ThroughFmtWrap(t *testing.T) {
	inner := NewNotFoundError("get", "dataset missing")
	outer := fmt.Errorf("doget: %w", inner)

	assert.Equal(t, ErrorTypeNotFound, TypeOf(outer))
	assert.True(t, IsNotFound(outer))
	assert.False(t, IsValidation(outer))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}

func TestToGRPCStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"validation", NewValidationError("op", "bad"), codes.InvalidArgument},
		{"not found", NewNotFoundError("op", "missing"), codes.NotFound},
		{"configuration", NewConfigurationError("op", "bad"), codes.FailedPrecondition},
		{"network", WrapNetworkError(errors.New("refused"), "op", "dial"), codes.Unavailable},
		{"computation", NewComputationError("op", "bad"), codes.Internal},
		{"unavailable", NewUnavailableError("op", "open"), codes.Unavailable},
		{"plain", errors.New("boom"), codes.Internal},
		{"canceled", context.Canceled, codes.Canceled},
		{"deadline", WrapComputationError(context.DeadlineExceeded, "op", "slow"), codes.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, ok := status.FromError(ToGRPCStatus(tt.err))
			require.True(t, ok)
			assert.Equal(t, tt.want, st.Code())
		})
	}

	assert.NoError(t, ToGRPCStatus(nil))

	already := status.Error(codes.ResourceExhausted, "slow down")
	assert.Equal(t, already, ToGRPCStatus(already))
}
