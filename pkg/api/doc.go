// Package api exposes the authentication gateway over HTTP.
//
// # Overview
//
// Every endpoint is a JSON POST under /auth and is backed by one operation
// of auth.Service:
//
//	POST /auth/register         register a self-service account (201)
//	POST /auth/login            authenticate, possibly yielding a challenge (200)
//	POST /auth/forgotpassword   request a reset code; never reveals the account (202)
//	POST /auth/confirmpassword  finish a reset with the delivered code (200)
//	POST /auth/admincreate      create an account with a temporary password (201)
//	POST /auth/initiateauth     administrator-initiated authentication (200)
//	POST /auth/authresponse     answer a pending challenge (200)
//
// The admin endpoints require the X-Admin-Key header. Without a configured
// key they refuse every request unless AllowUnauthenticatedAdmin is set.
// Credential endpoints are rate limited per client address, where the
// address comes from X-Forwarded-For only when the peer is a trusted proxy.
//
// # Errors
//
// Failures are written as
//
//	{"error": "<safe message>", "kind": "<domain kind>"}
//
// with the status from autherr.Error.HTTPStatus. Provider messages and
// credentials never reach a response body.
//
// # Server
//
//	server := api.NewServer(api.Options{
//		Service:     service,
//		Audit:       auditLogger,
//		Logger:      logger,
//		Metrics:     metrics,
//		Registry:    registry,
//		Health:      checker,
//		AdminAPIKey: cfg.Admin.APIKey,
//		Limiter:     limiter,
//		// optional: server spans, parents of the per-call idp spans
//		TracerProvider: tp,
//		TrustedProxies: proxies,
//	})
//	http.ListenAndServe(cfg.Server.Addr(), server)
//
// Ambient routes: GET /healthz, GET /readyz and GET /metrics.
package api
