// Package challenge implements the authentication challenge-response state
// machine. It is pure: it never calls the identity provider, it only
// interprets provider responses and builds the follow-up request for a
// pending challenge.
//
// States:
//
//	Unauthenticated --tokens--------------> Authenticated
//	Unauthenticated --named challenge-----> ChallengePending(kind, session)
//	ChallengePending --matching reply-----> Authenticated
//	any --provider error------------------> Failed
//
// Failed and Authenticated are terminal. The machine holds no state between
// requests: a pending challenge is rebuilt from the caller-held session with
// Pending.
package challenge

import (
	"encoding/json"
	"strings"

	"github.com/platinummonkey/idpgate/pkg/autherr"
	"github.com/platinummonkey/idpgate/pkg/idp"
)

// State is a node of the challenge state machine
type State int

const (
	StateUnauthenticated State = iota
	StateChallengePending
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateChallengePending:
		return "challenge_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Kind is the closed set of challenges surfaced to callers
type Kind string

const (
	KindNewPasswordRequired  Kind = "NEW_PASSWORD_REQUIRED"
	KindPasswordResetPending Kind = "PASSWORD_RESET_PENDING"
)

// ParseKind converts a caller-supplied challenge name into a Kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindNewPasswordRequired:
		return KindNewPasswordRequired, true
	case KindPasswordResetPending:
		return KindPasswordResetPending, true
	default:
		return "", false
	}
}

// Challenge is an outstanding, caller-answerable challenge.
type Challenge struct {
	Kind               Kind              `json:"kind"`
	RequiredAttributes map[string]string `json:"required_attributes"`
}

// Transition is the state reached after feeding a provider response (or a
// caller reply) through the machine.
type Transition struct {
	State     State
	Tokens    *idp.TokenSet
	Challenge *Challenge
	Session   string
	Err       *autherr.Error
}

// Begin applies the result of an Authenticate or AdminInitiateAuth call to the
// Unauthenticated state.
func Begin(resp *idp.AuthResponse, err error) Transition {
	if err != nil {
		return failed(autherr.Map(err))
	}
	if resp == nil {
		return failed(autherr.New(autherr.KindUnknownProvider))
	}
	if resp.HasTokens() {
		return Transition{State: StateAuthenticated, Tokens: resp.Tokens}
	}
	if resp.ChallengeName == "" {
		return failed(autherr.New(autherr.KindUnknownProvider))
	}

	c, ok := fromProvider(resp.ChallengeName, resp.ChallengeParameters)
	if !ok {
		return failed(autherr.New(autherr.KindUnknownProvider))
	}
	if resp.Session == "" {
		return failed(autherr.New(autherr.KindUnknownProvider))
	}
	return Transition{State: StateChallengePending, Challenge: c, Session: resp.Session}
}

// Pending rebuilds the ChallengePending state from a session the caller
// received earlier. A missing token or challenge yields a state that rejects
// every reply.
func Pending(session string, c *Challenge) Transition {
	if session == "" || c == nil {
		return Transition{State: StateUnauthenticated}
	}
	return Transition{State: StateChallengePending, Challenge: c, Session: session}
}

// Reply checks that kind answers the pending challenge and builds the provider
// challenge name and responses for the follow-up call. A reply to anything but
// a pending challenge of the same kind is a ChallengeMismatch, decided without
// contacting the provider.
func (t Transition) Reply(kind Kind, username, newPassword string, attrs map[string]string) (string, map[string]string, error) {
	if t.State != StateChallengePending || t.Challenge == nil || t.Challenge.Kind != kind {
		return "", nil, autherr.New(autherr.KindChallengeMismatch)
	}

	switch kind {
	case KindNewPasswordRequired:
		if newPassword == "" {
			return "", nil, autherr.Validation("new password is required")
		}
		responses := map[string]string{
			idp.ResponseUsername:    username,
			idp.ResponseNewPassword: newPassword,
		}
		supplied := Sanitize(attrs)
		for name, current := range t.Challenge.RequiredAttributes {
			if v, ok := supplied[name]; ok && v != "" {
				continue
			}
			if current == "" {
				return "", nil, autherr.Validation("attribute " + name + " is required")
			}
		}
		for name, v := range supplied {
			responses[idp.ResponseAttributePrefix+name] = v
		}
		return idp.ChallengeNewPasswordRequired, responses, nil

	default:
		// Password reset is an out-of-band code flow, never an in-session reply.
		return "", nil, autherr.New(autherr.KindChallengeMismatch)
	}
}

// Complete applies the result of a RespondToChallenge call to the pending
// state. Only a token result completes; anything else fails.
func (t Transition) Complete(resp *idp.AuthResponse, err error) Transition {
	if t.State != StateChallengePending {
		return failed(autherr.New(autherr.KindChallengeMismatch))
	}
	if err != nil {
		return failed(autherr.Map(err))
	}
	if !resp.HasTokens() {
		return failed(autherr.New(autherr.KindUnknownProvider))
	}
	return Transition{State: StateAuthenticated, Tokens: resp.Tokens}
}

func failed(err *autherr.Error) Transition {
	return Transition{State: StateFailed, Err: err}
}

func fromProvider(name string, params map[string]string) (*Challenge, bool) {
	switch name {
	case idp.ChallengeNewPasswordRequired:
		return &Challenge{
			Kind:               KindNewPasswordRequired,
			RequiredAttributes: requiredAttributes(params),
		}, true
	default:
		return nil, false
	}
}

// requiredAttributes returns each attribute the provider lists as required,
// mapped to its current value (empty when unset). Malformed parameters yield
// an empty, non-nil map.
func requiredAttributes(params map[string]string) map[string]string {
	current := map[string]string{}
	if raw := params[idp.ParamUserAttributes]; raw != "" {
		var attrs map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &attrs); err == nil {
			for k, v := range attrs {
				if s, ok := v.(string); ok {
					current[k] = s
				}
			}
		}
	}

	required := map[string]string{}
	if raw := params[idp.ParamRequiredAttributes]; raw != "" {
		var names []string
		if err := json.Unmarshal([]byte(raw), &names); err == nil {
			for _, n := range names {
				n = strings.TrimPrefix(n, idp.ResponseAttributePrefix)
				required[n] = current[n]
			}
		}
	}
	return Sanitize(required)
}

// Sanitize drops attributes the caller cannot and must not set: provider
// computed verification flags and the immutable subject identifier.
func Sanitize(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if isServerComputed(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func isServerComputed(name string) bool {
	name = strings.TrimPrefix(name, idp.ResponseAttributePrefix)
	return name == "sub" || strings.HasSuffix(name, "_verified")
}
