package autherr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/platinummonkey/idpgate/pkg/idp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"username exists", &idp.ProviderError{Code: "UsernameExistsException"}, KindUserAlreadyExists},
		{"alias exists", &idp.ProviderError{Code: "AliasExistsException"}, KindUserAlreadyExists},
		{"user not found", &idp.ProviderError{Code: "UserNotFoundException"}, KindUserNotFound},
		{"not authorized", &idp.ProviderError{Code: "NotAuthorizedException"}, KindInvalidCredentials},
		{"not confirmed", &idp.ProviderError{Code: "UserNotConfirmedException"}, KindInvalidCredentials},
		{"code mismatch", &idp.ProviderError{Code: "CodeMismatchException"}, KindInvalidVerificationCode},
		{"expired code", &idp.ProviderError{Code: "ExpiredCodeException"}, KindInvalidVerificationCode},
		{"weak password", &idp.ProviderError{Code: "InvalidPasswordException"}, KindPasswordPolicy},
		{"invalid parameter", &idp.ProviderError{Code: "InvalidParameterException"}, KindValidation},
		{"throttled", &idp.ProviderError{Code: "TooManyRequestsException"}, KindProviderTimeout},
		{"timeout flag", &idp.ProviderError{Code: "", Timeout: true}, KindProviderTimeout},
		{"unknown code", &idp.ProviderError{Code: "InternalErrorException"}, KindUnknownProvider},
		{"plain error", errors.New("boom"), KindUnknownProvider},
		{"deadline", context.DeadlineExceeded, KindProviderTimeout},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindProviderTimeout},
		{"provider wrapping deadline", &idp.ProviderError{Code: "X", Err: context.DeadlineExceeded}, KindProviderTimeout},
		{"domain passthrough", New(KindChallengeMismatch), KindChallengeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Map(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
		})
	}
}

func TestMap_Nil(t *testing.T) {
	assert.Nil(t, Map(nil))
}

func TestMap_DoesNotLeakProviderMessage(t *testing.T) {
	err := &idp.ProviderError{
		Op:      "Authenticate",
		Code:    "InternalErrorException",
		Message: "pool us-east-1_secret misconfigured for client abc",
	}

	got := Map(err)

	assert.Equal(t, "identity provider error", got.Message)
	assert.NotContains(t, got.Error(), "us-east-1_secret")
	// Cause stays reachable for server-side logging
	assert.ErrorIs(t, got, err)
}

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindChallengeMismatch, http.StatusBadRequest},
		{KindInvalidCredentials, http.StatusBadRequest},
		{KindInvalidVerificationCode, http.StatusBadRequest},
		{KindPasswordPolicy, http.StatusBadRequest},
		{KindUserNotFound, http.StatusBadRequest},
		{KindUserAlreadyExists, http.StatusConflict},
		{KindProviderTimeout, http.StatusServiceUnavailable},
		{KindUnknownProvider, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.kind).HTTPStatus())
		})
	}
}

func TestError_Retryable(t *testing.T) {
	assert.True(t, New(KindProviderTimeout).Retryable())
	assert.False(t, New(KindUnknownProvider).Retryable())
	assert.False(t, New(KindInvalidCredentials).Retryable())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUserNotFound, KindOf(fmt.Errorf("wrapped: %w", New(KindUserNotFound))))
	assert.Equal(t, KindUnknownProvider, KindOf(errors.New("other")))
	assert.True(t, Is(New(KindValidation), KindValidation))
	assert.False(t, Is(New(KindValidation), KindUserNotFound))
}
