// Package middleware provides HTTP middleware components for the recoguard
// server.
//
// Available middleware:
//   - RateLimiter: Per-client rate limiting using token bucket algorithm
//   - RequestID: X-Request-ID propagation into the request context
//   - CORS: Origin allow-listing
//   - Logging and Recover: request logging and panic recovery
//
// Usage:
//
//	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
//	go rl.Run(ctx)
//	handler = middleware.Chain(mux, middleware.RequestID, rl.Middleware)
package middleware
