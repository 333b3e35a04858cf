// Package idp defines the capability interface the authentication core uses to
// reach an external identity provider, together with the raw response and
// error shapes every provider adapter must produce.
package idp

import (
	"context"
	"errors"
	"fmt"
)

// Client wraps the identity provider's primitive operations. Each call is an
// independent network round trip; implementations hold no per-user state and
// must be safe for concurrent use.
type Client interface {
	// Register creates a self-service account.
	Register(ctx context.Context, username, password, email string) (*RegistrationOutcome, error)

	// Authenticate performs a self-service username/password exchange.
	Authenticate(ctx context.Context, username, password string) (*AuthResponse, error)

	// BeginPasswordReset asks the provider to deliver a verification code.
	BeginPasswordReset(ctx context.Context, username string) (*CodeDelivery, error)

	// ConfirmPasswordReset sets a new password using a delivered code.
	ConfirmPasswordReset(ctx context.Context, username, code, newPassword string) error

	// AdminCreateUser creates an account with a temporary password. The
	// provider must not send the temporary password to the user.
	AdminCreateUser(ctx context.Context, username, email, temporaryPassword string) (*CreatedUser, error)

	// AdminInitiateAuth authenticates on the user's behalf using admin credentials.
	AdminInitiateAuth(ctx context.Context, username, password string) (*AuthResponse, error)

	// RespondToChallenge answers an outstanding challenge. sessionToken must be
	// passed exactly as the provider issued it.
	RespondToChallenge(ctx context.Context, username, sessionToken, challengeName string, responses map[string]string) (*AuthResponse, error)
}

// Provider challenge names as reported on the wire.
const (
	ChallengeNewPasswordRequired = "NEW_PASSWORD_REQUIRED"
)

// Challenge parameter keys.
const (
	ParamUserAttributes     = "userAttributes"
	ParamRequiredAttributes = "requiredAttributes"
)

// Challenge response keys.
const (
	ResponseUsername        = "USERNAME"
	ResponseNewPassword     = "NEW_PASSWORD"
	ResponseAttributePrefix = "userAttributes."
)

// TokenSet is the token bundle returned by a completed authentication.
type TokenSet struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	TokenType    string
	ExpiresIn    int32 // seconds
}

// AuthResponse is the raw outcome of an authentication call: either Tokens is
// set, or ChallengeName (with Session and ChallengeParameters) is.
type AuthResponse struct {
	Tokens              *TokenSet
	ChallengeName       string
	ChallengeParameters map[string]string
	Session             string
}

// HasTokens reports whether authentication completed.
func (r *AuthResponse) HasTokens() bool {
	return r != nil && r.Tokens != nil && r.Tokens.AccessToken != ""
}

// RegistrationOutcome is the provider's acknowledgment of a sign-up.
type RegistrationOutcome struct {
	UserSub       string
	UserConfirmed bool
	Delivery      *CodeDelivery
}

// CodeDelivery describes how a verification code was sent. Destination is
// masked by the provider and must not be surfaced to unauthenticated callers.
type CodeDelivery struct {
	Medium        string
	AttributeName string
	Destination   string
}

// CreatedUser is the provider's view of an admin-created account.
type CreatedUser struct {
	Username string
	Status   string
	Enabled  bool
}

// ProviderError is the uniform error shape returned by every adapter. Code is
// the provider's error identifier (for Cognito, the exception name).
type ProviderError struct {
	Op      string
	Code    string
	Message string
	Timeout bool
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("idp %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("idp %s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// AsProviderError extracts a *ProviderError from err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
