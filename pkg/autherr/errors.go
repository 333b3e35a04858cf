// Package autherr defines the closed set of domain errors returned by the
// authentication core and the mapping from identity provider errors onto it.
package autherr

import (
	"errors"
	"net/http"
)

// Kind identifies a domain error category
type Kind string

const (
	KindValidation              Kind = "ValidationError"
	KindUserAlreadyExists       Kind = "UserAlreadyExists"
	KindUserNotFound            Kind = "UserNotFound"
	KindInvalidCredentials      Kind = "InvalidCredentials"
	KindInvalidVerificationCode Kind = "InvalidVerificationCode"
	KindPasswordPolicy          Kind = "PasswordPolicyViolation"
	KindChallengeMismatch       Kind = "ChallengeMismatch"
	KindProviderTimeout         Kind = "ProviderTimeout"
	KindUnknownProvider         Kind = "UnknownProviderError"
)

// safeMessages are the only messages ever shown to callers.
var safeMessages = map[Kind]string{
	KindValidation:              "invalid request",
	KindUserAlreadyExists:       "user already exists",
	KindUserNotFound:            "user not found",
	KindInvalidCredentials:      "invalid username or password",
	KindInvalidVerificationCode: "invalid or expired verification code",
	KindPasswordPolicy:          "password does not meet policy",
	KindChallengeMismatch:       "no matching challenge is pending for this session",
	KindProviderTimeout:         "identity provider unavailable, try again",
	KindUnknownProvider:         "identity provider error",
}

// Error is a domain error. Message is safe to return to callers; the wrapped
// cause may carry provider detail and is for server-side logging only.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New creates a domain error of the given kind with its default safe message.
func New(kind Kind) *Error {
	return &Error{Kind: kind, Message: safeMessages[kind]}
}

// Validation creates a ValidationError with a caller-facing detail.
func Validation(detail string) *Error {
	return &Error{Kind: KindValidation, Message: detail}
}

// Wrap creates a domain error that retains cause for logging.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: safeMessages[kind], cause: cause}
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable reports whether the caller may retry the same request.
func (e *Error) Retryable() bool {
	return e.Kind == KindProviderTimeout
}

// HTTPStatus returns the response status for this error
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindChallengeMismatch, KindInvalidCredentials,
		KindInvalidVerificationCode, KindPasswordPolicy, KindUserNotFound:
		return http.StatusBadRequest
	case KindUserAlreadyExists:
		return http.StatusConflict
	case KindProviderTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the domain kind of err, or KindUnknownProvider when err is
// not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknownProvider
}

// Is reports whether err is a domain error of the given kind.
func Is(err error, kind Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}
