// Package idptest provides an in-memory identity provider for tests.
package idptest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/platinummonkey/idpgate/pkg/idp"
)

// Operation names used for call counting and error injection.
const (
	OpRegister             = "Register"
	OpAuthenticate         = "Authenticate"
	OpBeginPasswordReset   = "BeginPasswordReset"
	OpConfirmPasswordReset = "ConfirmPasswordReset"
	OpAdminCreateUser      = "AdminCreateUser"
	OpAdminInitiateAuth    = "AdminInitiateAuth"
	OpRespondToChallenge   = "RespondToChallenge"
)

// DefaultResetCode is the verification code the fake "delivers".
const DefaultResetCode = "123456"

var signingKey = []byte("idptest-signing-key")

type user struct {
	sub        string
	password   string
	email      string
	mustRotate bool
}

// ChallengeCall records the arguments of a RespondToChallenge call.
type ChallengeCall struct {
	Username      string
	Session       string
	ChallengeName string
	Responses     map[string]string
}

// Fake is a concurrency-safe idp.Client backed by maps.
type Fake struct {
	mu             sync.Mutex
	users          map[string]*user
	codes          map[string]string
	sessions       map[string]string
	calls          map[string]int
	failNext       map[string]error
	challengeCalls []ChallengeCall
	tempPasswords  []string
	delay          time.Duration
}

var _ idp.Client = (*Fake)(nil)

// New creates an empty fake provider
func New() *Fake {
	return &Fake{
		users:    make(map[string]*user),
		codes:    make(map[string]string),
		sessions: make(map[string]string),
		calls:    make(map[string]int),
		failNext: make(map[string]error),
	}
}

// AddUser seeds an account.
func (f *Fake) AddUser(username, password, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[username] = &user{sub: uuid.NewString(), password: password, email: email}
}

// RequireRotation flags an account for a forced password change.
func (f *Fake) RequireRotation(username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[username]; ok {
		u.mustRotate = true
	}
}

// FailNext makes the next call of op return err.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op] = err
}

// SetDelay makes every call block for d or until its context ends.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls returns the number of provider calls of any kind.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// ChallengeCalls returns every RespondToChallenge invocation in order.
func (f *Fake) ChallengeCalls() []ChallengeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ChallengeCall(nil), f.challengeCalls...)
}

// TemporaryPasswords returns the temporary passwords received by AdminCreateUser.
func (f *Fake) TemporaryPasswords() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tempPasswords...)
}

// Password returns the stored password of username.
func (f *Fake) Password(username string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return "", false
	}
	return u.password, true
}

// enter counts the call and returns an injected error, if any. The caller
// must hold f.mu; enter may release it while waiting on the configured delay.
func (f *Fake) enter(ctx context.Context, op string) error {
	f.calls[op]++
	if err, ok := f.failNext[op]; ok {
		delete(f.failNext, op)
		return err
	}
	if f.delay > 0 {
		d := f.delay
		f.mu.Unlock()
		defer f.mu.Lock()
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return &idp.ProviderError{Op: op, Message: "request canceled", Timeout: true, Err: ctx.Err()}
		}
	}
	return nil
}

// Register implements idp.Client
func (f *Fake) Register(ctx context.Context, username, password, email string) (*idp.RegistrationOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, OpRegister); err != nil {
		return nil, err
	}

	if _, exists := f.users[username]; exists {
		return nil, providerErr(OpRegister, "UsernameExistsException", "User already exists")
	}
	u := &user{sub: uuid.NewString(), password: password, email: email}
	f.users[username] = u
	return &idp.RegistrationOutcome{UserSub: u.sub, UserConfirmed: true}, nil
}

// Authenticate implements idp.Client
func (f *Fake) Authenticate(ctx context.Context, username, password string) (*idp.AuthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, OpAuthenticate); err != nil {
		return nil, err
	}
	return f.authenticate(OpAuthenticate, username, password)
}

// AdminInitiateAuth implements idp.Client
func (f *Fake) AdminInitiateAuth(ctx context.Context, username, password string) (*idp.AuthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, OpAdminInitiateAuth); err != nil {
		return nil, err
	}
	return f.authenticate(OpAdminInitiateAuth, username, password)
}

func (f *Fake) authenticate(op, username, password string) (*idp.AuthResponse, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, providerErr(op, "UserNotFoundException", "User does not exist.")
	}
	if u.password != password {
		return nil, providerErr(op, "NotAuthorizedException", "Incorrect username or password.")
	}

	if u.mustRotate {
		session := "AYABe" + uuid.NewString() + "+/=="
		f.sessions[session] = username
		attrs, _ := json.Marshal(map[string]string{
			"email":          u.email,
			"email_verified": "true",
		})
		return &idp.AuthResponse{
			ChallengeName: idp.ChallengeNewPasswordRequired,
			Session:       session,
			ChallengeParameters: map[string]string{
				idp.ParamUserAttributes:     string(attrs),
				idp.ParamRequiredAttributes: "[]",
			},
		}, nil
	}

	return &idp.AuthResponse{Tokens: issueTokens(u)}, nil
}

// BeginPasswordReset implements idp.Client
func (f *Fake) BeginPasswordReset(ctx context.Context, username string) (*idp.CodeDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, OpBeginPasswordReset); err != nil {
		return nil, err
	}

	u, ok := f.users[username]
	if !ok {
		return nil, providerErr(OpBeginPasswordReset, "UserNotFoundException", "Username/client id combination not found.")
	}
	f.codes[username] = DefaultResetCode
	return &idp.CodeDelivery{Medium: "EMAIL", AttributeName: "email", Destination: mask(u.email)}, nil
}

// ConfirmPasswordReset implements idp.Client
func (f *Fake) ConfirmPasswordReset(ctx context.Context, username, code, newPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, OpConfirmPasswordReset); err != nil {
		return err
	}

	u, ok := f.users[username]
	if !ok {
		return providerErr(OpConfirmPasswordReset, "UserNotFoundException", "Username/client id combination not found.")
	}
	expected, ok := f.codes[username]
	if !ok || expected != code {
		return providerErr(OpConfirmPasswordReset, "CodeMismatchException", "Invalid verification code provided, please try again.")
	}
	delete(f.codes, username)
	u.password = newPassword
	u.mustRotate = false
	return nil
}

// AdminCreateUser implements idp.Client
func (f *Fake) AdminCreateUser(ctx context.Context, username, email, temporaryPassword string) (*idp.CreatedUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, OpAdminCreateUser); err != nil {
		return nil, err
	}

	if _, exists := f.users[username]; exists {
		return nil, providerErr(OpAdminCreateUser, "UsernameExistsException", "User account already exists")
	}
	f.tempPasswords = append(f.tempPasswords, temporaryPassword)
	f.users[username] = &user{sub: uuid.NewString(), password: temporaryPassword, email: email, mustRotate: true}
	return &idp.CreatedUser{Username: username, Status: "FORCE_CHANGE_PASSWORD", Enabled: true}, nil
}

// RespondToChallenge implements idp.Client
func (f *Fake) RespondToChallenge(ctx context.Context, username, sessionToken, challengeName string, responses map[string]string) (*idp.AuthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	copied := make(map[string]string, len(responses))
	for k, v := range responses {
		copied[k] = v
	}
	f.challengeCalls = append(f.challengeCalls, ChallengeCall{
		Username:      username,
		Session:       sessionToken,
		ChallengeName: challengeName,
		Responses:     copied,
	})

	if err := f.enter(ctx, OpRespondToChallenge); err != nil {
		return nil, err
	}

	owner, ok := f.sessions[sessionToken]
	if !ok || owner != username {
		return nil, providerErr(OpRespondToChallenge, "NotAuthorizedException", "Invalid session for the user.")
	}
	if challengeName != idp.ChallengeNewPasswordRequired {
		return nil, providerErr(OpRespondToChallenge, "InvalidParameterException", "Unsupported challenge")
	}
	newPassword := responses[idp.ResponseNewPassword]
	if len(newPassword) < 4 {
		return nil, providerErr(OpRespondToChallenge, "InvalidPasswordException", "Password does not conform to policy")
	}

	u := f.users[username]
	u.password = newPassword
	u.mustRotate = false
	delete(f.sessions, sessionToken)
	return &idp.AuthResponse{Tokens: issueTokens(u)}, nil
}

func issueTokens(u *user) *idp.TokenSet {
	now := time.Now()
	idToken, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   u.sub,
		"email": u.email,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}).SignedString(signingKey)

	return &idp.TokenSet{
		AccessToken:  "access-" + uuid.NewString(),
		IDToken:      idToken,
		RefreshToken: "refresh-" + uuid.NewString(),
		TokenType:    "Bearer",
		ExpiresIn:    3600,
	}
}

func providerErr(op, code, msg string) error {
	return &idp.ProviderError{Op: op, Code: code, Message: msg}
}

func mask(email string) string {
	if email == "" {
		return ""
	}
	return fmt.Sprintf("%c***", email[0])
}
