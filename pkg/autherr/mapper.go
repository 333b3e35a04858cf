package autherr

import (
	"context"
	"errors"

	"github.com/platinummonkey/idpgate/pkg/idp"
)

// providerCodes maps provider error identifiers onto domain kinds.
// Codes not listed here map to KindUnknownProvider.
var providerCodes = map[string]Kind{
	"UsernameExistsException": KindUserAlreadyExists,
	"AliasExistsException":    KindUserAlreadyExists,

	"UserNotFoundException": KindUserNotFound,

	"NotAuthorizedException":         KindInvalidCredentials,
	"PasswordResetRequiredException": KindInvalidCredentials,
	"UserNotConfirmedException":      KindInvalidCredentials,

	"CodeMismatchException": KindInvalidVerificationCode,
	"ExpiredCodeException":  KindInvalidVerificationCode,

	"InvalidPasswordException": KindPasswordPolicy,

	"InvalidParameterException": KindValidation,

	"TooManyRequestsException":       KindProviderTimeout,
	"LimitExceededException":         KindProviderTimeout,
	"TooManyFailedAttemptsException": KindProviderTimeout,
	"RequestTimeoutException":        KindProviderTimeout,
}

// Map translates an error from an idp.Client call into a domain error. It is
// total: nil maps to nil, domain errors pass through, context expiry and
// provider timeouts become ProviderTimeout, and anything unrecognized becomes
// UnknownProviderError with the original error kept as the cause.
func Map(err error) *Error {
	if err == nil {
		return nil
	}

	var de *Error
	if errors.As(err, &de) {
		return de
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(KindProviderTimeout, err)
	}

	pe, ok := idp.AsProviderError(err)
	if !ok {
		return Wrap(KindUnknownProvider, err)
	}
	if pe.Timeout {
		return Wrap(KindProviderTimeout, err)
	}
	if kind, ok := providerCodes[pe.Code]; ok {
		return Wrap(kind, err)
	}
	return Wrap(KindUnknownProvider, err)
}
