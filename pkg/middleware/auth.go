package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/crewform/pkg/contextkeys"
	"github.com/platinummonkey/crewform/pkg/httputil"
	"github.com/platinummonkey/crewform/pkg/observability"
	"github.com/platinummonkey/crewform/pkg/orgcontext"
	"github.com/platinummonkey/crewform/pkg/rbac"
)

const (
	// UserIDHeader carries the user id of a session authenticated by the gateway
	UserIDHeader = "X-User-ID"
	// SessionIDHeader carries the gateway session id, used for logging only
	SessionIDHeader = "X-Session-ID"

	orgIDVar = "org_id"
)

// Authenticate extracts the principal of a request. API keys are presented as
// "Authorization: Bearer crewform_..."; session users arrive as X-User-ID set by
// the gateway that authenticated them. Requests with neither get 401.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, msg := principalFromRequest(r)
		if msg != "" {
			httputil.WriteUnauthorized(w, msg)
			return
		}

		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		if principal.UserID != 0 {
			ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(principal.UserID, 10))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromRequest(r *http.Request) (orgcontext.Principal, string) {
	var principal orgcontext.Principal
	principal.SessionID = r.Header.Get(SessionIDHeader)

	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || !strings.HasPrefix(token, rbac.APIKeyPrefix) {
			return principal, "invalid authorization header format"
		}
		principal.APIKey = token
		return principal, ""
	}

	userHeader := r.Header.Get(UserIDHeader)
	if userHeader == "" {
		return principal, "authentication required"
	}
	userID, err := strconv.ParseInt(userHeader, 10, 64)
	if err != nil || userID <= 0 {
		return principal, "invalid user id"
	}
	principal.UserID = userID
	return principal, ""
}

// PrincipalFromContext returns the principal stored by Authenticate
func PrincipalFromContext(r *http.Request) (orgcontext.Principal, bool) {
	principal, ok := r.Context().Value(contextkeys.PrincipalKey).(orgcontext.Principal)
	return principal, ok
}

// OrgContextResolver builds the org context of a principal
type OrgContextResolver interface {
	Resolve(ctx context.Context, principal orgcontext.Principal) (*rbac.OrgContext, error)
}

// ResolveOrgContext resolves the org context for the organization named by the
// org_id route variable. Resolution failures are answered with the status the
// error carries and never reach the handler.
func ResolveOrgContext(resolver OrgContextResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r)
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			orgID, err := strconv.ParseInt(mux.Vars(r)[orgIDVar], 10, 64)
			if err != nil || orgID <= 0 {
				httputil.WriteBadRequest(w, "invalid organization id")
				return
			}
			principal.OrganizationID = orgID

			ctx := contextkeys.WithOrganizationID(r.Context(), orgID)
			orgCtx, err := resolver.Resolve(ctx, principal)
			if err != nil {
				observability.FromContext(ctx).WithError(err).Warn("Org context resolution failed")
				httputil.WriteStatusError(w, err)
				return
			}

			ctx = contextkeys.WithOrgContext(ctx, orgCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OrgContextFromRequest returns the org context stored by ResolveOrgContext
func OrgContextFromRequest(r *http.Request) *rbac.OrgContext {
	orgCtx, _ := r.Context().Value(contextkeys.OrgContextKey).(*rbac.OrgContext)
	return orgCtx
}
