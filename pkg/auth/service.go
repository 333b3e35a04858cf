package auth

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/idpgate/pkg/audit"
	"github.com/platinummonkey/idpgate/pkg/autherr"
	"github.com/platinummonkey/idpgate/pkg/challenge"
	"github.com/platinummonkey/idpgate/pkg/idp"
	"github.com/platinummonkey/idpgate/pkg/observability"
)

// DefaultProviderTimeout bounds each identity provider call
const DefaultProviderTimeout = 10 * time.Second

// Operation names used in logs and metrics
const (
	OpRegister           = "register"
	OpAuthenticate       = "authenticate"
	OpResetPassword      = "reset_password"
	OpConfirmPassword    = "confirm_password"
	OpAdminCreateUser    = "admin_create_user"
	OpAdminInitiateAuth  = "admin_initiate_auth"
	OpRespondToChallenge = "respond_to_challenge"
)

const (
	outcomeSuccess   = "success"
	outcomeChallenge = "challenge"
)

// Service orchestrates the authentication flows against an identity
// provider. It holds no per-user state and is safe for concurrent use.
type Service struct {
	client    idp.Client
	audit     audit.Logger
	metrics   *observability.Metrics
	logger    logrus.FieldLogger
	passwords PasswordGenerator
	timeout   time.Duration
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithAuditLogger sets the audit sink
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger used when the request context carries none
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = l }
}

// WithProviderTimeout sets the per-call provider deadline
func WithProviderTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithTracerProvider sets the provider for the spans around identity
// provider calls. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithPasswordGenerator replaces the temporary password generator
func WithPasswordGenerator(g PasswordGenerator) Option {
	return func(s *Service) { s.passwords = g }
}

// NewService creates an orchestrator over client
func NewService(client idp.Client, opts ...Option) *Service {
	s := &Service{
		client:    client,
		audit:     audit.NoOpLogger{},
		logger:    logrus.StandardLogger(),
		passwords: NewRandomPasswordGenerator(),
		timeout:   DefaultProviderTimeout,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterUser creates a self-service account
func (s *Service) RegisterUser(ctx context.Context, creds UserCredentials) (*Registration, error) {
	op := s.begin(ctx, OpRegister, creds.Username)

	if verr := firstInvalid(
		requireUsername(creds.Username),
		requireSecret("password", creds.Password),
		validateEmail(creds.Email, false),
	); verr != nil {
		s.recordFailure(ctx, audit.EventTypeRegister, false, creds.Username, verr)
		return nil, op.fail(verr)
	}

	pctx, finish := s.providerCall(ctx, OpRegister)
	outcome, err := s.client.Register(pctx, creds.Username, creds.Password, creds.Email)
	finish(err)
	if err != nil {
		mapped := autherr.Map(err)
		s.recordFailure(ctx, audit.EventTypeRegister, false, creds.Username, mapped)
		return nil, op.fail(mapped)
	}

	reg := &Registration{Username: creds.Username}
	if outcome != nil {
		reg.UserSub = outcome.UserSub
		reg.UserConfirmed = outcome.UserConfirmed
	}

	event := audit.NewEvent(ctx, audit.EventTypeRegister, audit.EventStatusSuccess)
	event.Username = creds.Username
	event.Subject = reg.UserSub
	event.Message = "user registered"
	event.Metadata["user_confirmed"] = reg.UserConfirmed
	s.record(ctx, event)

	op.succeed(outcomeSuccess)
	return reg, nil
}

// AuthenticateUser performs a self-service login. A pending challenge is
// returned to the caller, never answered here.
func (s *Service) AuthenticateUser(ctx context.Context, creds UserCredentials) (*AuthResult, error) {
	op := s.begin(ctx, OpAuthenticate, creds.Username)

	if verr := firstInvalid(
		requireUsername(creds.Username),
		requireSecret("password", creds.Password),
	); verr != nil {
		s.recordFailure(ctx, audit.EventTypeLoginFailed, false, creds.Username, verr)
		return nil, op.fail(verr)
	}

	pctx, finish := s.providerCall(ctx, OpAuthenticate)
	resp, err := s.client.Authenticate(pctx, creds.Username, creds.Password)
	finish(err)
	return s.authResult(ctx, op, challenge.Begin(resp, err), creds.Username, false)
}

// ResetPassword starts the out-of-band password reset. The result is the
// same whether or not the account exists.
func (s *Service) ResetPassword(ctx context.Context, username string) (*ResetAcceptance, error) {
	op := s.begin(ctx, OpResetPassword, username)

	if verr := requireUsername(username); verr != nil {
		s.recordFailure(ctx, audit.EventTypePasswordResetRequest, false, username, verr)
		return nil, op.fail(verr)
	}

	pctx, finish := s.providerCall(ctx, OpResetPassword)
	_, err := s.client.BeginPasswordReset(pctx, username)
	finish(err)
	if err != nil {
		mapped := autherr.Map(err)
		s.recordFailure(ctx, audit.EventTypePasswordResetRequest, false, username, mapped)
		if surfacesOnReset(err) {
			return nil, op.fail(mapped)
		}
		op.log.WithField("error_kind", mapped.Kind).Info("password reset outcome hidden from caller")
		op.succeed(outcomeSuccess)
		return &ResetAcceptance{Accepted: true}, nil
	}

	event := audit.NewEvent(ctx, audit.EventTypePasswordResetRequest, audit.EventStatusSuccess)
	event.Username = username
	event.Message = "password reset requested"
	s.record(ctx, event)

	op.succeed(outcomeSuccess)
	return &ResetAcceptance{Accepted: true}, nil
}

// surfacesOnReset reports whether a reset error is independent of the
// account's existence. Only an expired deadline or a transport timeout
// qualifies; the provider raises other errors, delivery failures and trigger
// rejections included, for accounts that exist.
func surfacesOnReset(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	pe, ok := idp.AsProviderError(err)
	return ok && pe.Timeout
}

// ConfirmPassword completes a password reset with the delivered code
func (s *Service) ConfirmPassword(ctx context.Context, username, code, newPassword string) error {
	op := s.begin(ctx, OpConfirmPassword, username)

	if verr := firstInvalid(
		requireUsername(username),
		requireSecret("verification code", code),
		requireSecret("new password", newPassword),
	); verr != nil {
		s.recordFailure(ctx, audit.EventTypePasswordResetConfirm, false, username, verr)
		return op.fail(verr)
	}

	pctx, finish := s.providerCall(ctx, OpConfirmPassword)
	err := s.client.ConfirmPasswordReset(pctx, username, code, newPassword)
	finish(err)
	if err != nil {
		mapped := autherr.Map(err)
		// An unknown account is indistinguishable from a wrong code
		if mapped.Kind == autherr.KindUserNotFound {
			mapped = autherr.Wrap(autherr.KindInvalidVerificationCode, err)
		}
		s.recordFailure(ctx, audit.EventTypePasswordResetConfirm, false, username, mapped)
		return op.fail(mapped)
	}

	event := audit.NewEvent(ctx, audit.EventTypePasswordResetConfirm, audit.EventStatusSuccess)
	event.Username = username
	event.Message = "password reset confirmed"
	s.record(ctx, event)

	op.succeed(outcomeSuccess)
	return nil
}

// AdminCreateUser creates an account with a generated temporary password.
// The provider's invitation message is suppressed and the temporary
// password is never returned or recorded.
func (s *Service) AdminCreateUser(ctx context.Context, username, email string) (*AdminCreation, error) {
	op := s.begin(ctx, OpAdminCreateUser, username)

	if verr := firstInvalid(
		requireUsername(username),
		validateEmail(email, true),
	); verr != nil {
		s.recordFailure(ctx, audit.EventTypeAdminUserCreate, true, username, verr)
		return nil, op.fail(verr)
	}

	temporary, err := s.passwords.Generate()
	if err != nil {
		genErr := autherr.Wrap(autherr.KindUnknownProvider, err)
		s.recordFailure(ctx, audit.EventTypeAdminUserCreate, true, username, genErr)
		return nil, op.fail(genErr)
	}

	pctx, finish := s.providerCall(ctx, OpAdminCreateUser)
	created, err := s.client.AdminCreateUser(pctx, username, email, temporary)
	finish(err)
	if err != nil {
		mapped := autherr.Map(err)
		s.recordFailure(ctx, audit.EventTypeAdminUserCreate, true, username, mapped)
		return nil, op.fail(mapped)
	}

	result := &AdminCreation{Username: username}
	if created != nil {
		if created.Username != "" {
			result.Username = created.Username
		}
		result.Status = created.Status
		result.Enabled = created.Enabled
	}

	event := audit.NewEvent(ctx, audit.EventTypeAdminUserCreate, audit.EventStatusSuccess)
	event.Privileged = true
	event.Username = result.Username
	event.Message = "user created by administrator"
	event.Metadata["user_status"] = result.Status
	s.record(ctx, event)

	op.succeed(outcomeSuccess)
	return result, nil
}

// AdminInitiateAuth authenticates on a user's behalf through the privileged
// provider flow. Outcomes are the same as AuthenticateUser.
func (s *Service) AdminInitiateAuth(ctx context.Context, req AdminAuthRequest) (*AuthResult, error) {
	op := s.begin(ctx, OpAdminInitiateAuth, req.Username)

	if verr := firstInvalid(
		requireUsername(req.Username),
		requireSecret("password", req.Password),
		validateEmail(req.Email, false),
	); verr != nil {
		s.recordFailure(ctx, audit.EventTypeAdminInitiateAuth, true, req.Username, verr)
		return nil, op.fail(verr)
	}

	pctx, finish := s.providerCall(ctx, OpAdminInitiateAuth)
	resp, err := s.client.AdminInitiateAuth(pctx, req.Username, req.Password)
	finish(err)
	return s.authResult(ctx, op, challenge.Begin(resp, err), req.Username, true)
}

// RespondToChallenge answers the challenge pending in session with a
// caller-chosen new password and any attributes the challenge requires.
// Replies that do not match a pending challenge are rejected without
// contacting the provider.
func (s *Service) RespondToChallenge(ctx context.Context, username string, session AuthSession, newPassword string, attributes map[string]string) (*AuthResult, error) {
	op := s.begin(ctx, OpRespondToChallenge, username)

	if verr := firstInvalid(
		requireUsername(username),
		requireSecret("new password", newPassword),
	); verr != nil {
		s.recordFailure(ctx, audit.EventTypeChallengeFailed, false, username, verr)
		return nil, op.fail(verr)
	}

	var kind challenge.Kind
	if session.Challenge != nil {
		kind = session.Challenge.Kind
	}

	pending := challenge.Pending(session.SessionToken, session.Challenge)
	name, responses, err := pending.Reply(kind, username, newPassword, attributes)
	if err != nil {
		mapped := autherr.Map(err)
		s.recordFailure(ctx, audit.EventTypeChallengeFailed, false, username, mapped)
		return nil, op.fail(mapped)
	}

	pctx, finish := s.providerCall(ctx, OpRespondToChallenge)
	resp, err := s.client.RespondToChallenge(pctx, username, session.SessionToken, name, responses)
	finish(err)
	next := pending.Complete(resp, err)
	if next.State != challenge.StateAuthenticated {
		s.recordFailure(ctx, audit.EventTypeChallengeFailed, false, username, next.Err)
		return nil, op.fail(next.Err)
	}

	event := audit.NewEvent(ctx, audit.EventTypeChallengeCompleted, audit.EventStatusSuccess)
	event.Username = username
	event.Subject = subjectFromIDToken(next.Tokens.IDToken)
	event.Message = "challenge completed"
	event.Metadata["challenge"] = string(kind)
	s.record(ctx, event)

	op.succeed(outcomeSuccess)
	return &AuthResult{Status: StatusAuthenticated, Tokens: s.tokens(next.Tokens)}, nil
}

// authResult converts the first authentication transition into a result
func (s *Service) authResult(ctx context.Context, op *operation, t challenge.Transition, username string, privileged bool) (*AuthResult, error) {
	successType, failureType := audit.EventTypeLogin, audit.EventTypeLoginFailed
	if privileged {
		successType, failureType = audit.EventTypeAdminInitiateAuth, audit.EventTypeAdminInitiateAuth
	}

	switch t.State {
	case challenge.StateAuthenticated:
		event := audit.NewEvent(ctx, successType, audit.EventStatusSuccess)
		event.Privileged = privileged
		event.Username = username
		event.Subject = subjectFromIDToken(t.Tokens.IDToken)
		event.Message = "authenticated"
		s.record(ctx, event)

		op.succeed(outcomeSuccess)
		return &AuthResult{Status: StatusAuthenticated, Tokens: s.tokens(t.Tokens)}, nil

	case challenge.StateChallengePending:
		event := audit.NewEvent(ctx, audit.EventTypeChallengeIssued, audit.EventStatusSuccess)
		event.Privileged = privileged
		event.Username = username
		event.Message = "challenge issued"
		event.Metadata["challenge"] = string(t.Challenge.Kind)
		s.record(ctx, event)

		s.metrics.ObserveChallenge(string(t.Challenge.Kind))
		op.succeed(outcomeChallenge)
		return &AuthResult{
			Status: StatusChallengeRequired,
			Session: &AuthSession{
				SessionToken: t.Session,
				Challenge:    t.Challenge,
			},
		}, nil

	default:
		s.recordFailure(ctx, failureType, privileged, username, t.Err)
		return nil, op.fail(t.Err)
	}
}

func (s *Service) tokens(ts *idp.TokenSet) *Tokens {
	return &Tokens{
		AccessToken:  ts.AccessToken,
		IDToken:      ts.IDToken,
		RefreshToken: ts.RefreshToken,
		TokenType:    ts.TokenType,
		ExpiresAt:    s.now().Add(time.Duration(ts.ExpiresIn) * time.Second).UTC(),
	}
}

// record writes an audit event. Audit failures are logged and counted but
// never fail the operation.
func (s *Service) record(ctx context.Context, event *audit.AuditEvent) {
	if err := s.audit.Log(ctx, event); err != nil {
		s.metrics.ObserveAuditError()
		s.loggerFor(ctx).WithError(err).WithField("event_type", event.EventType).Error("failed to write audit event")
	}
}

func (s *Service) recordFailure(ctx context.Context, eventType audit.EventType, privileged bool, username string, err *autherr.Error) {
	event := audit.NewEvent(ctx, eventType, audit.EventStatusFailure)
	event.Privileged = privileged
	event.Username = username
	event.ErrorKind = string(err.Kind)
	event.Message = err.Message
	s.record(ctx, event)
}

func (s *Service) loggerFor(ctx context.Context) logrus.FieldLogger {
	if _, ok := ctx.Value(observability.LoggerKey).(logrus.FieldLogger); !ok {
		ctx = observability.WithLogger(ctx, s.logger)
	}
	return observability.FromContext(ctx)
}

// operation tracks one orchestrator call for logging and metrics
type operation struct {
	s     *Service
	name  string
	start time.Time
	log   logrus.FieldLogger
}

func (s *Service) begin(ctx context.Context, name, username string) *operation {
	return &operation{
		s:     s,
		name:  name,
		start: time.Now(),
		log: s.loggerFor(ctx).WithFields(observability.TraceFields(ctx)).WithFields(logrus.Fields{
			"operation": name,
			"username":  username,
		}),
	}
}

func (o *operation) succeed(outcome string) {
	o.s.metrics.ObserveAuth(o.name, outcome, time.Since(o.start))
	o.log.WithField("outcome", outcome).Info("auth operation completed")
}

// fail records a failed operation and returns err as an error value
func (o *operation) fail(err *autherr.Error) error {
	o.s.metrics.ObserveAuth(o.name, string(err.Kind), time.Since(o.start))

	entry := o.log.WithFields(logrus.Fields{
		"outcome":    "failure",
		"error_kind": err.Kind,
	})
	if cause := err.Unwrap(); cause != nil {
		entry = entry.WithField("provider_error", cause.Error())
	}

	switch err.Kind {
	case autherr.KindUnknownProvider:
		entry.Error("auth operation failed")
	case autherr.KindProviderTimeout:
		entry.Warn("auth operation failed")
	default:
		entry.Info("auth operation failed")
	}
	return err
}
