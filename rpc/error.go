package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an RPC failure
type Code string

// Failure codes understood by the core
const (
	CodeOK                Code = "ok"
	CodeCanceled          Code = "canceled"
	CodeUnknown           Code = "unknown"
	CodeInvalidArgument   Code = "invalid_argument"
	CodeDeadlineExceeded  Code = "deadline_exceeded"
	CodeNotFound          Code = "not_found"
	CodeAlreadyExists     Code = "already_exists"
	CodePermissionDenied  Code = "permission_denied"
	CodeResourceExhausted Code = "resource_exhausted"
	CodeInternal          Code = "internal"
	CodeUnavailable       Code = "unavailable"
	CodeUnauthenticated   Code = "unauthenticated"
)

// Error is a typed RPC failure
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`

	// HTTPStatus is the transport status, when the failure came from an HTTP response
	HTTPStatus int `json:"-"`

	// cause is the underlying transport error, if any
	cause error
}

// NewError creates an Error with the given code and message
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying transport error
func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the failure code of err. Context errors map to canceled and
// deadline_exceeded; unknown errors map to unknown; nil maps to ok.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}

	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}

	switch {
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadlineExceeded
	default:
		return CodeUnknown
	}
}

// codeFromHTTPStatus maps an HTTP status to a code when the body carries none
func codeFromHTTPStatus(status int) Code {
	switch status {
	case http.StatusBadRequest:
		return CodeInvalidArgument
	case http.StatusUnauthorized:
		return CodeUnauthenticated
	case http.StatusForbidden:
		return CodePermissionDenied
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeAlreadyExists
	case http.StatusTooManyRequests:
		return CodeResourceExhausted
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return CodeDeadlineExceeded
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return CodeUnavailable
	}
	if status >= 500 {
		return CodeInternal
	}
	return CodeUnknown
}
