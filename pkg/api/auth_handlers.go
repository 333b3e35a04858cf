package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/idpgate/pkg/audit"
	"github.com/platinummonkey/idpgate/pkg/auth"
	"github.com/platinummonkey/idpgate/pkg/autherr"
	"github.com/platinummonkey/idpgate/pkg/challenge"
	"github.com/platinummonkey/idpgate/pkg/httputil"
	"github.com/platinummonkey/idpgate/pkg/observability"
)

// AdminKeyHeader carries the admin API key
const AdminKeyHeader = "X-Admin-Key"

// AuthHandlers handles authentication-related HTTP requests
type AuthHandlers struct {
	service   *auth.Service
	audit     audit.Logger
	adminKey  string
	openAdmin bool
	limit     func(http.Handler) http.Handler
}

// NewAuthHandlers creates a new auth handlers instance. Admin endpoints
// refuse every request when adminKey is empty unless openAdmin is set. limit
// wraps the credential endpoints; nil leaves them unthrottled.
func NewAuthHandlers(service *auth.Service, auditLogger audit.Logger, adminKey string, openAdmin bool, limit func(http.Handler) http.Handler) *AuthHandlers {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	return &AuthHandlers{
		service:   service,
		audit:     auditLogger,
		adminKey:  adminKey,
		openAdmin: openAdmin,
		limit:     limit,
	}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	open := func(fn http.HandlerFunc) http.Handler { return withAuditRequest(fn) }
	limited := func(fn http.HandlerFunc) http.Handler { return h.limit(withAuditRequest(fn)) }

	router.Handle("/auth/register", open(h.register)).Methods("POST")
	router.Handle("/auth/login", limited(h.login)).Methods("POST")
	router.Handle("/auth/forgotpassword", limited(h.forgotPassword)).Methods("POST")
	router.Handle("/auth/confirmpassword", limited(h.confirmPassword)).Methods("POST")
	router.Handle("/auth/admincreate", open(h.requireAdmin(h.adminCreate))).Methods("POST")
	router.Handle("/auth/initiateauth", limited(h.requireAdmin(h.initiateAuth))).Methods("POST")
	router.Handle("/auth/authresponse", limited(h.respondToChallenge)).Methods("POST")
}

// credentialsRequest is the body shared by most endpoints. Password is
// ignored where an endpoint does not use it.
type credentialsRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type confirmRequest struct {
	Name             string `json:"name"`
	VerificationCode string `json:"verificationCode"`
	NewPassword      string `json:"newPassword"`
}

type challengeRequest struct {
	Session    string            `json:"session"`
	Password   string            `json:"password"`
	Name       string            `json:"name"`
	Challenge  string            `json:"challenge"`
	Attributes map[string]string `json:"attributes"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type registerResponse struct {
	Status        string `json:"status"`
	Username      string `json:"username"`
	UserConfirmed bool   `json:"user_confirmed"`
	UserSub       string `json:"user_sub,omitempty"`
}

type adminCreateResponse struct {
	Status     string `json:"status"`
	Username   string `json:"username"`
	UserStatus string `json:"user_status,omitempty"`
	Enabled    bool   `json:"enabled"`
}

// authResponse flattens an auth.AuthResult for the wire
type authResponse struct {
	Status    auth.Status          `json:"status"`
	Tokens    *auth.Tokens         `json:"tokens,omitempty"`
	Session   string               `json:"session,omitempty"`
	Challenge *challenge.Challenge `json:"challenge,omitempty"`
}

func newAuthResponse(result *auth.AuthResult) authResponse {
	resp := authResponse{Status: result.Status, Tokens: result.Tokens}
	if result.Session != nil {
		resp.Session = result.Session.SessionToken
		resp.Challenge = result.Session.Challenge
	}
	return resp
}

// register handles POST /auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !parseRequest(w, r, &req) {
		return
	}

	reg, err := h.service.RegisterUser(r.Context(), auth.UserCredentials{
		Username: req.Name,
		Password: req.Password,
		Email:    req.Email,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	httputil.WriteCreated(w, registerResponse{
		Status:        "registered",
		Username:      reg.Username,
		UserConfirmed: reg.UserConfirmed,
		UserSub:       reg.UserSub,
	})
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !parseRequest(w, r, &req) {
		return
	}

	result, err := h.service.AuthenticateUser(r.Context(), auth.UserCredentials{
		Username: req.Name,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, newAuthResponse(result))
}

// forgotPassword handles POST /auth/forgotpassword
func (h *AuthHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !parseRequest(w, r, &req) {
		return
	}

	if _, err := h.service.ResetPassword(r.Context(), req.Name); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteAccepted(w, statusResponse{Status: "accepted"})
}

// confirmPassword handles POST /auth/confirmpassword
func (h *AuthHandlers) confirmPassword(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !parseRequest(w, r, &req) {
		return
	}

	if err := h.service.ConfirmPassword(r.Context(), req.Name, req.VerificationCode, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, statusResponse{Status: "confirmed"})
}

// adminCreate handles POST /auth/admincreate
func (h *AuthHandlers) adminCreate(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !parseRequest(w, r, &req) {
		return
	}

	created, err := h.service.AdminCreateUser(r.Context(), req.Name, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	httputil.WriteCreated(w, adminCreateResponse{
		Status:     "created",
		Username:   created.Username,
		UserStatus: created.Status,
		Enabled:    created.Enabled,
	})
}

// initiateAuth handles POST /auth/initiateauth
func (h *AuthHandlers) initiateAuth(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !parseRequest(w, r, &req) {
		return
	}

	result, err := h.service.AdminInitiateAuth(r.Context(), auth.AdminAuthRequest{
		Username: req.Name,
		Password: req.Password,
		Email:    req.Email,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, newAuthResponse(result))
}

// respondToChallenge handles POST /auth/authresponse. The challenge defaults to
// NEW_PASSWORD_REQUIRED; an unrecognised name can never match a pending
// challenge.
func (h *AuthHandlers) respondToChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if !parseRequest(w, r, &req) {
		return
	}

	kind := challenge.KindNewPasswordRequired
	if req.Challenge != "" {
		parsed, ok := challenge.ParseKind(req.Challenge)
		if !ok {
			writeError(w, autherr.New(autherr.KindChallengeMismatch))
			return
		}
		kind = parsed
	}

	session := auth.AuthSession{
		SessionToken: req.Session,
		Challenge:    &challenge.Challenge{Kind: kind},
	}
	result, err := h.service.RespondToChallenge(r.Context(), req.Name, session, req.Password, req.Attributes)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, newAuthResponse(result))
}

// requireAdmin rejects requests without the configured admin key and audits
// the denial. With no key configured every request is denied unless the
// handlers were built with openAdmin.
func (h *AuthHandlers) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.adminKey == "" && h.openAdmin {
			next(w, r)
			return
		}

		supplied := r.Header.Get(AdminKeyHeader)
		if h.adminKey != "" && subtle.ConstantTimeCompare([]byte(supplied), []byte(h.adminKey)) == 1 {
			next(w, r)
			return
		}

		ctx := r.Context()
		event := audit.NewEvent(ctx, audit.EventTypeAdminAccessDenied, audit.EventStatusDenied)
		event.Privileged = true
		event.Message = "admin key missing or invalid"
		event.Metadata["key_supplied"] = supplied != ""
		event.Metadata["key_configured"] = h.adminKey != ""
		if err := h.audit.Log(ctx, event); err != nil {
			observability.FromContext(ctx).WithError(err).Error("failed to write audit event")
		}

		httputil.WriteForbidden(w, "admin access denied")
	}
}

// withAuditRequest attaches the request metadata used by audit events
func withAuditRequest(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next(w, r.WithContext(audit.WithRequest(r.Context(), r)))
	})
}

// parseRequest decodes the body or writes a ValidationError. The decoder's
// message is not echoed since it may quote the body.
func parseRequest(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	err := httputil.ParseJSON(r, dest)
	if err == nil {
		return true
	}

	if errors.Is(err, httputil.ErrBodyTooLarge) {
		httputil.WriteKindError(w, http.StatusRequestEntityTooLarge, string(autherr.KindValidation), "request body too large")
		return false
	}
	httputil.WriteKindError(w, http.StatusBadRequest, string(autherr.KindValidation), "invalid request body")
	return false
}

// writeError maps err onto its domain kind and status
func writeError(w http.ResponseWriter, err error) {
	var de *autherr.Error
	if !errors.As(err, &de) {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteKindError(w, de.HTTPStatus(), string(de.Kind), de.Message)
}
