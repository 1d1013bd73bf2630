// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/crewform/pkg/contextkeys"
//	ctx = context.WithValue(ctx, contextkeys.OrgContextKey, oc)
//	oc := ctx.Value(contextkeys.OrgContextKey).(*rbac.OrgContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains orgcontext.Principal
	// Set by: middleware.Authenticate (pkg/middleware/auth.go)
	// Required by: middleware.ResolveOrgContext
	// Type: orgcontext.Principal
	PrincipalKey Key = "principal"

	// OrgContextKey contains *rbac.OrgContext
	// Set by: middleware.ResolveOrgContext (pkg/middleware/auth.go)
	// Required by: permission checks in pkg/api handlers
	// Type: *rbac.OrgContext
	OrgContextKey Key = "org_context"

	// OrganizationIDKey contains the tenant id of the request
	// Set by: middleware.ResolveOrgContext
	// Used by: audit trail, logger fields
	// Type: int64
	OrganizationIDKey Key = "organization_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, audit trail, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains user ID string
	// Set by: middleware.Authenticate
	// Used by: Logger, audit trail
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.RequestID
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithOrgContext adds the resolved org context to the context
func WithOrgContext(ctx context.Context, oc interface{}) context.Context {
	return context.WithValue(ctx, OrgContextKey, oc)
}

// WithOrganizationID adds the tenant id to the context
func WithOrganizationID(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, OrganizationIDKey, orgID)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetOrganizationID retrieves the tenant id from context
func GetOrganizationID(ctx context.Context) (int64, bool) {
	orgID, ok := ctx.Value(OrganizationIDKey).(int64)
	return orgID, ok
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
