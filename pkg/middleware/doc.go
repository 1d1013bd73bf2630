// Package middleware provides the HTTP middleware that authenticates callers,
// resolves their org context and enforces permissions.
//
// # Middleware Components
//
// RequestID: assigns X-Request-ID and attaches the request logger
//
//	router.Use(middleware.RequestID(logger))
//
// Authenticate: extracts the principal. API keys arrive as
// "Authorization: Bearer crewform_..."; session users arrive as X-User-ID set by
// the authenticating gateway in front of this service.
//
//	router.Use(middleware.Authenticate)
//
// ResolveOrgContext: builds the org context for the {org_id} route variable
// through the org context cache. Principals outside the tenant get 403, store
// failures get 503.
//
//	orgRouter.Use(middleware.ResolveOrgContext(cache))
//
// Guard: permission checks
//
//	guard := middleware.NewGuard(nil, metrics, auditLogger)
//	orgRouter.Handle("/roles", guard.Require("manage_roles")(handler))
//
// RateLimit: per-principal limits for write routes, in memory or in Redis
//
//	limiter := middleware.NewRedisRateLimiter(redisClient, nil, "")
//	writes.Use(middleware.RateLimit(limiter))
//
// # Context Access
//
//	principal, ok := middleware.PrincipalFromContext(r)
//	orgCtx := middleware.OrgContextFromRequest(r)
package middleware
