package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// lifecycle
	CodeIllegalTransition  Code = "ILLEGAL_TRANSITION"
	CodeVerificationFailed Code = "VERIFICATION_FAILED"
)

// Metadata describes how a code is surfaced over HTTP.
type Metadata struct {
	HTTPStatus    int
	Retryable     bool
	PublicMessage string
	// ExposeMessage lets the error's own message replace PublicMessage.
	ExposeMessage  bool
	DetailsAllowed bool
}

const (
	exposeMessage = 1 << iota
	allowDetails
	retryable
)

func meta(status int, public string, flags int) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  public,
		ExposeMessage:  flags&exposeMessage != 0,
		DetailsAllowed: flags&allowDetails != 0,
		Retryable:      flags&retryable != 0,
	}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:         meta(http.StatusBadRequest, "validation failed", exposeMessage|allowDetails),
	CodeUnauthorized:       meta(http.StatusUnauthorized, "authentication required", exposeMessage),
	CodeForbidden:          meta(http.StatusForbidden, "access denied", exposeMessage),
	CodeNotFound:           meta(http.StatusNotFound, "resource not found", exposeMessage),
	CodeConflict:           meta(http.StatusConflict, "conflict detected", exposeMessage),
	CodeStateConflict:      meta(http.StatusUnprocessableEntity, "state transition disallowed", exposeMessage|allowDetails),
	CodeIllegalTransition:  meta(http.StatusConflict, "status transition not allowed", exposeMessage|allowDetails),
	CodeVerificationFailed: meta(http.StatusBadRequest, "signature verification failed", exposeMessage),
	CodeIdempotency:        meta(http.StatusConflict, "idempotency key reused", exposeMessage|allowDetails),
	CodeRateLimit:          meta(http.StatusTooManyRequests, "rate limit exceeded", exposeMessage|retryable),
	CodeInternal:           meta(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:         meta(http.StatusServiceUnavailable, "dependency unavailable", allowDetails|retryable),
}

func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded application error. The message is meant for callers when
// the code exposes it; the cause is only ever logged.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// PublicMessage is the message safe to return to an HTTP client.
func (e *Error) PublicMessage() string {
	m := MetadataFor(e.Code())
	if m.ExposeMessage && e.Message() != "" {
		return e.message
	}
	return m.PublicMessage
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// IsRetryable reports whether a client may repeat the failed call unchanged.
// Errors without a code are treated as internal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(As(err).Code()).Retryable
}

func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
