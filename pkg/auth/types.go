package auth

import (
	"time"

	"github.com/platinummonkey/idpgate/pkg/challenge"
)

// UserCredentials are the credentials of a self-service request. Password is
// write-only.
type UserCredentials struct {
	Username string `json:"username"`
	Password string `json:"-"`
	Email    string `json:"email,omitempty"`
}

// AdminAuthRequest is an administrator-initiated authentication on behalf of
// a user. It is a privileged, audited path.
type AdminAuthRequest struct {
	Username string `json:"username"`
	Password string `json:"-"`
	Email    string `json:"email,omitempty"`
}

// AuthSession correlates a challenge-issuing call with its follow-up reply.
// The caller holds it between requests; SessionToken is opaque and must be
// passed back unmodified.
type AuthSession struct {
	SessionToken string               `json:"session"`
	Challenge    *challenge.Challenge `json:"challenge,omitempty"`
}

// Tokens are the credentials issued on successful authentication
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Status is the outcome of an authentication step
type Status string

const (
	StatusAuthenticated     Status = "authenticated"
	StatusChallengeRequired Status = "challenge_required"
)

// AuthResult is either Authenticated (Tokens set) or ChallengeRequired
// (Session set). Failures are reported as the operation's error.
type AuthResult struct {
	Status  Status       `json:"status"`
	Tokens  *Tokens      `json:"tokens,omitempty"`
	Session *AuthSession `json:"session,omitempty"`
}

// Registration acknowledges a new account
type Registration struct {
	Username      string `json:"username"`
	UserSub       string `json:"user_sub,omitempty"`
	UserConfirmed bool   `json:"user_confirmed"`
}

// ResetAcceptance is returned for every well-formed reset request, whether or
// not the account exists
type ResetAcceptance struct {
	Accepted bool `json:"accepted"`
}

// AdminCreation reports an administrator-created account. The temporary
// password is never part of it.
type AdminCreation struct {
	Username string `json:"username"`
	Status   string `json:"status,omitempty"`
	Enabled  bool   `json:"enabled"`
}
