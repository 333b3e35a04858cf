// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helpers for JSON encoding/decoding, error responses,
// client address extraction, and the middleware shared by every route.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, result)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteKindError(w, http.StatusBadRequest, "ValidationError", "username is required")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.MaxBytesMiddleware(64<<10),
//	)(router)
//
// RequestIDMiddleware must run first so later middleware log with the
// request-scoped logger.
package httputil
