// Package middleware provides per-client rate limiting for the credential
// endpoints.
//
// Two limiters satisfy the Limiter interface: RateLimiter, an in-memory
// token bucket for single-instance deployments, and DistributedRateLimiter,
// a Redis fixed-window counter shared by every instance.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "idpgate:ratelimit")
//	authRouter.Use(middleware.RateLimitMiddleware(limiter, cfg, metrics))
//
// Clients are keyed by address. A limiter error never blocks a request.
package middleware
