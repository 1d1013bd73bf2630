package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/platinummonkey/crewform/pkg/audit"
	"github.com/platinummonkey/crewform/pkg/httputil"
	"github.com/platinummonkey/crewform/pkg/observability"
	"github.com/platinummonkey/crewform/pkg/permissions"
	"github.com/platinummonkey/crewform/pkg/rbac"
)

// Guard turns permission checks into middleware. Every decision is counted and
// every denial is written to the audit log.
type Guard struct {
	authorizer *rbac.Authorizer
	metrics    *observability.Metrics
	audit      audit.Logger
}

// NewGuard creates a guard. A nil authorizer uses rbac.DefaultAuthorizer and a
// nil audit logger discards events.
func NewGuard(authorizer *rbac.Authorizer, metrics *observability.Metrics, auditLogger audit.Logger) *Guard {
	if authorizer == nil {
		authorizer = rbac.DefaultAuthorizer()
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	return &Guard{authorizer: authorizer, metrics: metrics, audit: auditLogger}
}

// Authorizer returns the authorizer the guard checks with
func (g *Guard) Authorizer() *rbac.Authorizer {
	return g.authorizer
}

// Require rejects requests whose org context lacks key with 403
func (g *Guard) Require(key permissions.Key) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			orgCtx := OrgContextFromRequest(r)
			err := g.authorizer.RequirePermission(orgCtx, key)
			g.metrics.RecordAuthzDecision(string(key), err == nil)
			if err != nil {
				g.deny(r, orgCtx, string(key), err)
				httputil.WriteStatusError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny rejects requests whose org context holds none of keys
func (g *Guard) RequireAny(keys ...permissions.Key) func(http.Handler) http.Handler {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = string(k)
	}
	label := strings.Join(names, "|")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			orgCtx := OrgContextFromRequest(r)
			allowed := g.authorizer.HasAnyPermission(orgCtx, keys...)
			g.metrics.RecordAuthzDecision(label, allowed)
			if !allowed {
				var orgID int64
				if orgCtx != nil {
					orgID = orgCtx.OrganizationID
				}
				var first permissions.Key
				if len(keys) > 0 {
					first = keys[0]
				}
				err := &rbac.AuthorizationError{Permission: first, OrganizationID: orgID, Status: http.StatusForbidden}
				g.deny(r, orgCtx, label, err)
				httputil.WriteStatusError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) deny(r *http.Request, orgCtx *rbac.OrgContext, permission string, cause error) {
	ctx := r.Context()
	var userID *int64
	if orgCtx != nil && orgCtx.TeamMember != nil {
		id := orgCtx.TeamMember.UserID
		userID = &id
	}

	message := fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, cause)
	if err := g.audit.LogAuthorization(ctx, audit.EventTypeAccessDenied, userID, audit.ResourceTypePermission,
		permission, audit.EventStatusDenied, message); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Failed to write audit event")
	}
	observability.FromContext(ctx).
		WithField("permission", permission).
		Info("Permission denied")
}
