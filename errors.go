package emberql

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code is the client-visible error taxonomy from the wire protocol.
type Code int

const (
	Internal Code = iota
	InvalidArgument
	NotFound
	Unavailable
	InvalidPlan
	UpstreamLost
	Canceled
)

func (c Code) String() string {
	switch c {
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case Unavailable:
		return "Unavailable"
	case InvalidPlan:
		return "InvalidPlan"
	case UpstreamLost:
		return "UpstreamLost"
	case Canceled:
		return "Canceled"
	default:
		return "Internal"
	}
}

func (c Code) grpcCode() codes.Code {
	switch c {
	case InvalidArgument:
		return codes.InvalidArgument
	case NotFound:
		return codes.NotFound
	case Unavailable:
		return codes.Unavailable
	case InvalidPlan:
		return codes.InvalidArgument
	case UpstreamLost:
		return codes.Aborted
	case Canceled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// Error is an emberql taxonomy error with an optional cause and the
// structured details clients see on ReportTaskStatus/ExecutePlanResponse.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// GRPCStatus lets the gRPC server/transport layers turn an *Error into a
// status.Status automatically via status.FromError.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code.grpcCode(), e.Error())
}

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Retriable reports whether a failure cause should drive the scheduler's
// retry policy (worker loss, upstream loss, transient unavailability) as
// opposed to a deterministic failure that should fail the job immediately.
func (c Code) Retriable() bool {
	switch c {
	case Unavailable, UpstreamLost:
		return true
	default:
		return false
	}
}
