package auth

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idpgate/pkg/audit"
	"github.com/platinummonkey/idpgate/pkg/autherr"
	"github.com/platinummonkey/idpgate/pkg/challenge"
	"github.com/platinummonkey/idpgate/pkg/idp"
	"github.com/platinummonkey/idpgate/pkg/idp/idptest"
	"github.com/platinummonkey/idpgate/pkg/observability"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
	err    error
}

func (r *recordingAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingAudit) Close() error { return nil }

func (r *recordingAudit) last() *audit.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

func (r *recordingAudit) dump(t *testing.T) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, e := range r.events {
		data, err := e.ToJSON()
		require.NoError(t, err)
		b.Write(data)
	}
	return b.String()
}

type testEnv struct {
	svc     *Service
	fake    *idptest.Fake
	audit   *recordingAudit
	logs    *bytes.Buffer
	metrics *observability.Metrics
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	logs := &bytes.Buffer{}
	logger := observability.NewLogger("debug", logs)
	rec := &recordingAudit{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	fake := idptest.New()

	base := []Option{
		WithLogger(logger),
		WithAuditLogger(rec),
		WithMetrics(metrics),
	}
	svc := NewService(fake, append(base, opts...)...)
	return &testEnv{svc: svc, fake: fake, audit: rec, logs: logs, metrics: metrics}
}

func TestRegisterUser(t *testing.T) {
	t.Run("unique username succeeds", func(t *testing.T) {
		env := newTestEnv(t)
		reg, err := env.svc.RegisterUser(context.Background(), UserCredentials{
			Username: "alice", Password: "Pw1!", Email: "a@x.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "alice", reg.Username)
		assert.True(t, reg.UserConfirmed)
		assert.NotEmpty(t, reg.UserSub)

		event := env.audit.last()
		require.NotNil(t, event)
		assert.Equal(t, audit.EventTypeRegister, event.EventType)
		assert.Equal(t, audit.EventStatusSuccess, event.Status)
		assert.False(t, event.Privileged)
		assert.Equal(t, reg.UserSub, event.Subject)
	})

	t.Run("duplicate username", func(t *testing.T) {
		env := newTestEnv(t)
		creds := UserCredentials{Username: "alice", Password: "Pw1!", Email: "a@x.com"}
		_, err := env.svc.RegisterUser(context.Background(), creds)
		require.NoError(t, err)

		_, err = env.svc.RegisterUser(context.Background(), creds)
		require.Error(t, err)
		assert.Equal(t, autherr.KindUserAlreadyExists, autherr.KindOf(err))
		assert.Equal(t, 2, env.fake.Calls(idptest.OpRegister))
	})

	t.Run("validation happens before the provider", func(t *testing.T) {
		tests := []struct {
			name  string
			creds UserCredentials
		}{
			{"empty username", UserCredentials{Password: "Pw1!"}},
			{"whitespace username", UserCredentials{Username: "  \t", Password: "Pw1!"}},
			{"empty password", UserCredentials{Username: "alice"}},
			{"malformed email", UserCredentials{Username: "alice", Password: "Pw1!", Email: "not-an-email"}},
			{"display name email", UserCredentials{Username: "alice", Password: "Pw1!", Email: "Alice <a@x.com>"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				env := newTestEnv(t)
				_, err := env.svc.RegisterUser(context.Background(), tt.creds)
				require.Error(t, err)
				assert.Equal(t, autherr.KindValidation, autherr.KindOf(err))
				assert.Equal(t, 0, env.fake.TotalCalls())
			})
		}
	})
}

func TestAuthenticateUser(t *testing.T) {
	t.Run("direct tokens", func(t *testing.T) {
		env := newTestEnv(t)
		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		env.svc.now = func() time.Time { return fixed }
		env.fake.AddUser("bob", "Secret1!", "b@x.com")

		result, err := env.svc.AuthenticateUser(context.Background(), UserCredentials{Username: "bob", Password: "Secret1!"})
		require.NoError(t, err)
		assert.Equal(t, StatusAuthenticated, result.Status)
		require.NotNil(t, result.Tokens)
		assert.NotEmpty(t, result.Tokens.AccessToken)
		assert.NotEmpty(t, result.Tokens.IDToken)
		assert.NotEmpty(t, result.Tokens.RefreshToken)
		assert.Equal(t, fixed.Add(time.Hour), result.Tokens.ExpiresAt)
		assert.Nil(t, result.Session)

		event := env.audit.last()
		require.NotNil(t, event)
		assert.Equal(t, audit.EventTypeLogin, event.EventType)
		assert.NotEmpty(t, event.Subject)
	})

	t.Run("rotation required returns the challenge", func(t *testing.T) {
		env := newTestEnv(t)
		env.fake.AddUser("carol", "Temp1!", "c@x.com")
		env.fake.RequireRotation("carol")

		result, err := env.svc.AuthenticateUser(context.Background(), UserCredentials{Username: "carol", Password: "Temp1!"})
		require.NoError(t, err)
		assert.Equal(t, StatusChallengeRequired, result.Status)
		assert.Nil(t, result.Tokens)
		require.NotNil(t, result.Session)
		assert.NotEmpty(t, result.Session.SessionToken)
		require.NotNil(t, result.Session.Challenge)
		assert.Equal(t, challenge.KindNewPasswordRequired, result.Session.Challenge.Kind)
		for name := range result.Session.Challenge.RequiredAttributes {
			assert.False(t, strings.HasSuffix(name, "_verified"), name)
		}

		// The challenge is surfaced, never answered on the caller's behalf
		assert.Equal(t, 0, env.fake.Calls(idptest.OpRespondToChallenge))
		assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.ChallengesIssuedTotal.WithLabelValues("NEW_PASSWORD_REQUIRED")))
	})

	t.Run("wrong password", func(t *testing.T) {
		env := newTestEnv(t)
		env.fake.AddUser("bob", "Secret1!", "b@x.com")

		_, err := env.svc.AuthenticateUser(context.Background(), UserCredentials{Username: "bob", Password: "nope"})
		require.Error(t, err)
		assert.Equal(t, autherr.KindInvalidCredentials, autherr.KindOf(err))

		event := env.audit.last()
		require.NotNil(t, event)
		assert.Equal(t, audit.EventTypeLoginFailed, event.EventType)
		assert.Equal(t, string(autherr.KindInvalidCredentials), event.ErrorKind)
	})

	t.Run("unknown user", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.AuthenticateUser(context.Background(), UserCredentials{Username: "nobody", Password: "x"})
		require.Error(t, err)
		assert.Equal(t, autherr.KindUserNotFound, autherr.KindOf(err))
	})

	t.Run("empty password is not forwarded", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.AuthenticateUser(context.Background(), UserCredentials{Username: "bob"})
		require.Error(t, err)
		assert.Equal(t, autherr.KindValidation, autherr.KindOf(err))
		assert.Equal(t, 0, env.fake.TotalCalls())
	})

	t.Run("provider timeout", func(t *testing.T) {
		env := newTestEnv(t, WithProviderTimeout(20*time.Millisecond))
		env.fake.AddUser("bob", "Secret1!", "b@x.com")
		env.fake.SetDelay(time.Second)

		_, err := env.svc.AuthenticateUser(context.Background(), UserCredentials{Username: "bob", Password: "Secret1!"})
		require.Error(t, err)
		assert.Equal(t, autherr.KindProviderTimeout, autherr.KindOf(err))

		var de *autherr.Error
		require.True(t, errors.As(err, &de))
		assert.True(t, de.Retryable())
	})

	t.Run("unrecognized provider error", func(t *testing.T) {
		env := newTestEnv(t)
		env.fake.FailNext(idptest.OpAuthenticate, &idp.ProviderError{Op: "Authenticate", Code: "InternalErrorException", Message: "boom at node 7"})

		_, err := env.svc.AuthenticateUser(context.Background(), UserCredentials{Username: "bob", Password: "x"})
		require.Error(t, err)
		assert.Equal(t, autherr.KindUnknownProvider, autherr.KindOf(err))
		assert.NotContains(t, err.Error(), "boom at node 7")
	})
}

func TestEndToEndRotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.RegisterUser(ctx, UserCredentials{Username: "alice", Password: "Pw1!", Email: "a@x.com"})
	require.NoError(t, err)
	env.fake.RequireRotation("alice")

	result, err := env.svc.AuthenticateUser(ctx, UserCredentials{Username: "alice", Password: "Pw1!"})
	require.NoError(t, err)
	require.Equal(t, StatusChallengeRequired, result.Status)
	assert.Empty(t, result.Session.Challenge.RequiredAttributes)
	token := result.Session.SessionToken

	final, err := env.svc.RespondToChallenge(ctx, "alice", *result.Session, "Pw2!", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, final.Status)
	require.NotNil(t, final.Tokens)
	assert.NotEmpty(t, final.Tokens.AccessToken)

	calls := env.fake.ChallengeCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, token, calls[0].Session)
	assert.Equal(t, idp.ChallengeNewPasswordRequired, calls[0].ChallengeName)
	assert.Equal(t, "Pw2!", calls[0].Responses[idp.ResponseNewPassword])
	assert.Equal(t, "alice", calls[0].Responses[idp.ResponseUsername])

	// The new password now works without a challenge
	again, err := env.svc.AuthenticateUser(ctx, UserCredentials{Username: "alice", Password: "Pw2!"})
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, again.Status)

	assert.NotContains(t, env.logs.String(), "Pw1!")
	assert.NotContains(t, env.logs.String(), "Pw2!")
	assert.NotContains(t, env.logs.String(), token)
	assert.NotContains(t, env.audit.dump(t), "Pw1!")
	assert.NotContains(t, env.audit.dump(t), "Pw2!")
}

func TestRespondToChallenge(t *testing.T) {
	pendingSession := func(t *testing.T, env *testEnv) AuthSession {
		env.fake.AddUser("dave", "Temp1!", "d@x.com")
		env.fake.RequireRotation("dave")
		result, err := env.svc.AuthenticateUser(context.Background(), UserCredentials{Username: "dave", Password: "Temp1!"})
		require.NoError(t, err)
		require.NotNil(t, result.Session)
		return *result.Session
	}

	t.Run("mismatched replies never reach the provider", func(t *testing.T) {
		tests := []struct {
			name    string
			session AuthSession
		}{
			{"no challenge", AuthSession{SessionToken: "AYABe-token"}},
			{"empty token", AuthSession{Challenge: &challenge.Challenge{Kind: challenge.KindNewPasswordRequired}}},
			{"password reset kind", AuthSession{SessionToken: "AYABe-token", Challenge: &challenge.Challenge{Kind: challenge.KindPasswordResetPending}}},
			{"zero session", AuthSession{}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				env := newTestEnv(t)
				_, err := env.svc.RespondToChallenge(context.Background(), "dave", tt.session, "NewPw1!", nil)
				require.Error(t, err)
				assert.Equal(t, autherr.KindChallengeMismatch, autherr.KindOf(err))
				assert.Equal(t, 0, env.fake.Calls(idptest.OpRespondToChallenge))
				assert.Equal(t, 0, env.fake.TotalCalls())

				event := env.audit.last()
				require.NotNil(t, event)
				assert.Equal(t, audit.EventTypeChallengeFailed, event.EventType)
			})
		}
	})

	t.Run("session token reaches the provider byte-identical", func(t *testing.T) {
		env := newTestEnv(t)
		session := pendingSession(t, env)

		_, err := env.svc.RespondToChallenge(context.Background(), "dave", session, "NewPw1!", nil)
		require.NoError(t, err)

		calls := env.fake.ChallengeCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, []byte(session.SessionToken), []byte(calls[0].Session))
	})

	t.Run("empty new password", func(t *testing.T) {
		env := newTestEnv(t)
		session := pendingSession(t, env)

		_, err := env.svc.RespondToChallenge(context.Background(), "dave", session, "", nil)
		require.Error(t, err)
		assert.Equal(t, autherr.KindValidation, autherr.KindOf(err))
		assert.Equal(t, 0, env.fake.Calls(idptest.OpRespondToChallenge))
	})

	t.Run("missing input is reported before a missing session", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.svc.RespondToChallenge(context.Background(), "dave", AuthSession{}, "", nil)
		require.Error(t, err)
		assert.Equal(t, autherr.KindValidation, autherr.KindOf(err))
		assert.Equal(t, 0, env.fake.TotalCalls())
	})

	t.Run("verification flags are not forwarded", func(t *testing.T) {
		env := newTestEnv(t)
		session := pendingSession(t, env)

		_, err := env.svc.RespondToChallenge(context.Background(), "dave", session, "NewPw1!", map[string]string{
			"name":           "Dave",
			"email_verified": "true",
		})
		require.NoError(t, err)

		calls := env.fake.ChallengeCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, "Dave", calls[0].Responses["userAttributes.name"])
		assert.NotContains(t, calls[0].Responses, "userAttributes.email_verified")
	})

	t.Run("weak password", func(t *testing.T) {
		env := newTestEnv(t)
		session := pendingSession(t, env)

		_, err := env.svc.RespondToChallenge(context.Background(), "dave", session, "abc", nil)
		require.Error(t, err)
		assert.Equal(t, autherr.KindPasswordPolicy, autherr.KindOf(err))
	})

	t.Run("session owned by another user", func(t *testing.T) {
		env := newTestEnv(t)
		session := pendingSession(t, env)

		_, err := env.svc.RespondToChallenge(context.Background(), "mallory", session, "NewPw1!", nil)
		require.Error(t, err)
		assert.Equal(t, autherr.KindInvalidCredentials, autherr.KindOf(err))
		assert.Equal(t, 1, env.fake.Calls(idptest.OpRespondToChallenge))
	})
}

func TestResetPassword(t *testing.T) {
	t.Run("same result for existing and unknown accounts", func(t *testing.T) {
		env := newTestEnv(t)
		env.fake.AddUser("erin", "Pw1!", "e@x.com")

		existing, err := env.svc.ResetPassword(context.Background(), "erin")
		require.NoError(t, err)
		missing, err := env.svc.ResetPassword(context.Background(), "ghost")
		require.NoError(t, err)

		assert.Equal(t, existing, missing)
		assert.True(t, existing.Accepted)
		assert.Equal(t, 2, env.fake.Calls(idptest.OpBeginPasswordReset))
	})

	t.Run("throttling is hidden", func(t *testing.T) {
		env := newTestEnv(t)
		env.fake.FailNext(idptest.OpBeginPasswordReset, &idp.ProviderError{Code: "LimitExceededException", Message: "Attempt limit exceeded"})

		result, err := env.svc.ResetPassword(context.Background(), "erin")
		require.NoError(t, err)
		assert.True(t, result.Accepted)
	})

	t.Run("errors raised only for existing accounts are hidden", func(t *testing.T) {
		failures := []error{
			&idp.ProviderError{Code: "CodeDeliveryFailureException", Message: "Unable to deliver code"},
			&idp.ProviderError{Code: "UserLambdaValidationException", Message: "PreForgotPassword failed"},
			&idp.ProviderError{Code: "InvalidParameterException", Message: "no verified email"},
			errors.New("connection reset"),
		}
		for _, failure := range failures {
			env := newTestEnv(t)
			env.fake.AddUser("erin", "Pw1!", "e@x.com")

			missing, err := env.svc.ResetPassword(context.Background(), "ghost")
			require.NoError(t, err)

			env.fake.FailNext(idptest.OpBeginPasswordReset, failure)
			existing, err := env.svc.ResetPassword(context.Background(), "erin")
			require.NoError(t, err, failure.Error())
			assert.Equal(t, missing, existing)
		}
	})

	t.Run("provider transport timeout surfaces", func(t *testing.T) {
		env := newTestEnv(t)
		env.fake.FailNext(idptest.OpBeginPasswordReset, &idp.ProviderError{Code: "RequestTimeout", Timeout: true})

		_, err := env.svc.ResetPassword(context.Background(), "erin")
		require.Error(t, err)
		assert.Equal(t, autherr.KindProviderTimeout, autherr.KindOf(err))
	})

	t.Run("timeout surfaces", func(t *testing.T) {
		env := newTestEnv(t, WithProviderTimeout(20*time.Millisecond))
		env.fake.SetDelay(time.Second)

		_, err := env.svc.ResetPassword(context.Background(), "erin")
		require.Error(t, err)
		assert.Equal(t, autherr.KindProviderTimeout, autherr.KindOf(err))
	})

	t.Run("empty username", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.ResetPassword(context.Background(), " ")
		require.Error(t, err)
		assert.Equal(t, autherr.KindValidation, autherr.KindOf(err))
		assert.Equal(t, 0, env.fake.TotalCalls())
	})
}

func TestConfirmPassword(t *testing.T) {
	t.Run("correct code", func(t *testing.T) {
		env := newTestEnv(t)
		env.fake.AddUser("erin", "Old1!", "e@x.com")
		_, err := env.svc.ResetPassword(context.Background(), "erin")
		require.NoError(t, err)

		err = env.svc.ConfirmPassword(context.Background(), "erin", idptest.DefaultResetCode, "New1!")
		require.NoError(t, err)

		pw, ok := env.fake.Password("erin")
		require.True(t, ok)
		assert.Equal(t, "New1!", pw)
	})

	t.Run("wrong code leaves the password unchanged", func(t *testing.T) {
		env := newTestEnv(t)
		env.fake.AddUser("erin", "Old1!", "e@x.com")
		_, err := env.svc.ResetPassword(context.Background(), "erin")
		require.NoError(t, err)

		for _, code := range []string{"000000", "999999", "12345"} {
			err = env.svc.ConfirmPassword(context.Background(), "erin", code, "New1!")
			require.Error(t, err)
			assert.Equal(t, autherr.KindInvalidVerificationCode, autherr.KindOf(err))
		}

		pw, _ := env.fake.Password("erin")
		assert.Equal(t, "Old1!", pw)
		assert.NotContains(t, env.logs.String(), "New1!")
	})

	t.Run("expired code", func(t *testing.T) {
		env := newTestEnv(t)
		env.fake.FailNext(idptest.OpConfirmPasswordReset, &idp.ProviderError{Code: "ExpiredCodeException", Message: "Invalid code provided, please request a code again."})

		err := env.svc.ConfirmPassword(context.Background(), "erin", "123456", "New1!")
		require.Error(t, err)
		assert.Equal(t, autherr.KindInvalidVerificationCode, autherr.KindOf(err))
	})

	t.Run("unknown account looks like a wrong code", func(t *testing.T) {
		env := newTestEnv(t)
		err := env.svc.ConfirmPassword(context.Background(), "ghost", "123456", "New1!")
		require.Error(t, err)
		assert.Equal(t, autherr.KindInvalidVerificationCode, autherr.KindOf(err))
	})

	t.Run("missing fields", func(t *testing.T) {
		env := newTestEnv(t)
		assert.Equal(t, autherr.KindValidation, autherr.KindOf(env.svc.ConfirmPassword(context.Background(), "erin", "", "New1!")))
		assert.Equal(t, autherr.KindValidation, autherr.KindOf(env.svc.ConfirmPassword(context.Background(), "erin", "123456", "")))
		assert.Equal(t, autherr.KindValidation, autherr.KindOf(env.svc.ConfirmPassword(context.Background(), "", "123456", "New1!")))
		assert.Equal(t, 0, env.fake.TotalCalls())
	})
}

func TestAdminFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.AdminCreateUser(ctx, "frank", "f@x.com")
	require.NoError(t, err)
	assert.Equal(t, "frank", created.Username)
	assert.Equal(t, "FORCE_CHANGE_PASSWORD", created.Status)
	assert.True(t, created.Enabled)

	temps := env.fake.TemporaryPasswords()
	require.Len(t, temps, 1)
	temp := temps[0]
	assert.Len(t, temp, TemporaryPasswordLength)

	createEvent := env.audit.last()
	require.NotNil(t, createEvent)
	assert.Equal(t, audit.EventTypeAdminUserCreate, createEvent.EventType)
	assert.True(t, createEvent.Privileged)

	result, err := env.svc.AdminInitiateAuth(ctx, AdminAuthRequest{Username: "frank", Password: temp, Email: "f@x.com"})
	require.NoError(t, err)
	require.Equal(t, StatusChallengeRequired, result.Status)

	issued := env.audit.last()
	require.NotNil(t, issued)
	assert.Equal(t, audit.EventTypeChallengeIssued, issued.EventType)
	assert.True(t, issued.Privileged)

	final, err := env.svc.RespondToChallenge(ctx, "frank", *result.Session, "Rotated1!", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, final.Status)

	direct, err := env.svc.AdminInitiateAuth(ctx, AdminAuthRequest{Username: "frank", Password: "Rotated1!"})
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, direct.Status)

	authEvent := env.audit.last()
	require.NotNil(t, authEvent)
	assert.Equal(t, audit.EventTypeAdminInitiateAuth, authEvent.EventType)
	assert.True(t, authEvent.Privileged)

	assert.NotContains(t, env.logs.String(), temp)
	assert.NotContains(t, env.audit.dump(t), temp)
	assert.NotContains(t, env.audit.dump(t), "Rotated1!")
}

func TestAdminCreateUser(t *testing.T) {
	t.Run("temporary passwords differ", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.AdminCreateUser(context.Background(), "u1", "u1@x.com")
		require.NoError(t, err)
		_, err = env.svc.AdminCreateUser(context.Background(), "u2", "u2@x.com")
		require.NoError(t, err)

		temps := env.fake.TemporaryPasswords()
		require.Len(t, temps, 2)
		assert.NotEqual(t, temps[0], temps[1])
	})

	t.Run("email required", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.AdminCreateUser(context.Background(), "u1", "")
		require.Error(t, err)
		assert.Equal(t, autherr.KindValidation, autherr.KindOf(err))
		assert.Equal(t, 0, env.fake.TotalCalls())

		event := env.audit.last()
		require.NotNil(t, event)
		assert.True(t, event.Privileged)
		assert.Equal(t, audit.EventStatusFailure, event.Status)
	})

	t.Run("existing account", func(t *testing.T) {
		env := newTestEnv(t)
		env.fake.AddUser("u1", "Pw1!", "u1@x.com")
		_, err := env.svc.AdminCreateUser(context.Background(), "u1", "u1@x.com")
		require.Error(t, err)
		assert.Equal(t, autherr.KindUserAlreadyExists, autherr.KindOf(err))
	})

	t.Run("generator failure", func(t *testing.T) {
		env := newTestEnv(t, WithPasswordGenerator(&RandomPasswordGenerator{Length: 2}))
		_, err := env.svc.AdminCreateUser(context.Background(), "u1", "u1@x.com")
		require.Error(t, err)
		assert.Equal(t, autherr.KindUnknownProvider, autherr.KindOf(err))
		assert.Equal(t, 0, env.fake.TotalCalls())
	})
}

func TestAuditFailureDoesNotFailOperation(t *testing.T) {
	env := newTestEnv(t)
	env.audit.err = errors.New("audit sink down")
	env.fake.AddUser("bob", "Secret1!", "b@x.com")

	result, err := env.svc.AuthenticateUser(context.Background(), UserCredentials{Username: "bob", Password: "Secret1!"})
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, result.Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.AuditErrorsTotal))
	assert.Contains(t, env.logs.String(), "failed to write audit event")
}

func TestOperationMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.fake.AddUser("bob", "Secret1!", "b@x.com")

	_, err := env.svc.AuthenticateUser(context.Background(), UserCredentials{Username: "bob", Password: "Secret1!"})
	require.NoError(t, err)
	_, err = env.svc.AuthenticateUser(context.Background(), UserCredentials{Username: "bob", Password: "bad"})
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.AuthOperationsTotal.WithLabelValues(OpAuthenticate, "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.AuthOperationsTotal.WithLabelValues(OpAuthenticate, "InvalidCredentials")))
}

func TestRequestScopedLogger(t *testing.T) {
	env := newTestEnv(t)
	scoped := &bytes.Buffer{}
	logger := observability.NewLogger("info", scoped)

	ctx := observability.WithLogger(context.Background(), logger)
	ctx = observability.WithRequestID(ctx, "req-42")

	_, err := env.svc.ResetPassword(ctx, "ghost")
	require.NoError(t, err)

	assert.Contains(t, scoped.String(), `"request_id":"req-42"`)
	assert.Contains(t, scoped.String(), `"operation":"reset_password"`)
	assert.Empty(t, env.logs.String())
}

func TestServiceConcurrentUse(t *testing.T) {
	env := newTestEnv(t)
	env.fake.AddUser("bob", "Secret1!", "b@x.com")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := env.svc.AuthenticateUser(context.Background(), UserCredentials{Username: "bob", Password: "Secret1!"})
			assert.NoError(t, err)
			if result != nil {
				assert.Equal(t, StatusAuthenticated, result.Status)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, env.fake.Calls(idptest.OpAuthenticate))
}

func TestNewServiceDefaults(t *testing.T) {
	svc := NewService(idptest.New())
	assert.Equal(t, DefaultProviderTimeout, svc.timeout)
	assert.IsType(t, audit.NoOpLogger{}, svc.audit)
	assert.Equal(t, logrus.StandardLogger(), svc.logger)

	svc = NewService(idptest.New(), WithProviderTimeout(0))
	assert.Equal(t, DefaultProviderTimeout, svc.timeout)
}
