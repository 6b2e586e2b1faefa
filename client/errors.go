package client

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrNotFound is returned when the named dataset does not exist.
	ErrNotFound = errors.New("dataset not found")
	// ErrInvalidInput is returned when the server rejected the request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrThrottled is returned when the server's rate limiter refused the call.
	ErrThrottled = errors.New("rate limited")
)

// RemoteError carries the gRPC status of a failed call. It matches the
// sentinel errors above with errors.Is.
type RemoteError struct {
	Op      string
	Code    codes.Code
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == codes.NotFound
	case ErrInvalidInput:
		return e.Code == codes.InvalidArgument
	case ErrThrottled:
		return e.Code == codes.ResourceExhausted
	}
	return false
}

// GRPCStatus lets status.Code and status.FromError see the original code.
func (e *RemoteError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// wrapRemote converts a gRPC error into a *RemoteError. Errors without a
// status are returned unchanged.
func wrapRemote(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &RemoteError{Op: op, Code: st.Code(), Message: st.Message()}
}
