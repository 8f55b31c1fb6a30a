// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// AuthMiddleware resolves the request's credential and stores the resulting
// auth.AuthContext on the request context; GetAuthContext reads it back.
//
//	router.Use(middleware.NewAuthMiddleware(resolver, logger).Handler)
//
// RateLimitMiddleware accepts any Limiter. RateLimiter keeps token buckets
// in memory; DistributedRateLimiter counts fixed windows in Redis and is
// shared by every instance. Both key authenticated callers by organization
// and actor (user or API key) and anonymous callers by client IP.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "")
//	router.Use(middleware.NewRateLimitMiddleware(limiter, "redis", cfg.Window, logger, metrics).Handler)
package middleware
