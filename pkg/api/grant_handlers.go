package api

import (
	"net/http"
	"time"

	"github.com/platinummonkey/crewform/pkg/httputil"
	"github.com/platinummonkey/crewform/pkg/middleware"
	"github.com/platinummonkey/crewform/pkg/permissions"
	"github.com/platinummonkey/crewform/pkg/rbac"
)

// maxGrantDuration caps how long temporary access may last
const maxGrantDuration = 90 * 24 * time.Hour

// listGrants lists stored temporary grants, expired ones included
func (s *Server) listGrants(w http.ResponseWriter, r *http.Request) {
	orgCtx := middleware.OrgContextFromRequest(r)

	grants, err := s.store.ListGrants(r.Context(), orgCtx.OrganizationID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, grants)
}

// createGrant issues temporary permissions to a user
func (s *Server) createGrant(w http.ResponseWriter, r *http.Request) {
	orgCtx := middleware.OrgContextFromRequest(r)

	var req GrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	expiresAt, msg := grantExpiry(req, time.Now())
	if msg != "" {
		httputil.WriteBadRequest(w, msg)
		return
	}

	requested := permissions.KeysFromStrings(req.Permissions)
	if err := s.guard.Authorizer().CheckDelegation(orgCtx, requested); err != nil {
		s.writeDelegationDenied(w, r, orgCtx, err)
		return
	}

	grant := &rbac.TemporaryGrant{
		OrganizationID: orgCtx.OrganizationID,
		UserID:         req.UserID,
		Permissions:    requested,
		ExpiresAt:      expiresAt,
		GrantedBy:      actorID(orgCtx),
		Reason:         req.Reason,
	}

	version, err := s.coordinator.GrantTemporaryPermissions(r.Context(), grant)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteCreated(w, GrantResponse{Grant: grant, Version: version})
}

// deleteGrant removes a temporary grant before it expires
func (s *Server) deleteGrant(w http.ResponseWriter, r *http.Request) {
	orgCtx := middleware.OrgContextFromRequest(r)
	grantID, ok := httputil.ParsePathInt64OrError(w, r, "grant_id")
	if !ok {
		return
	}

	version, err := s.coordinator.DeleteTemporaryGrant(r.Context(), orgCtx.OrganizationID, grantID, actorID(orgCtx))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, VersionResponse{Version: version})
}

// grantExpiry resolves the expiry of a grant request. A non-empty message
// describes why the request is invalid.
func grantExpiry(req GrantRequest, now time.Time) (time.Time, string) {
	switch {
	case req.ExpiresAt != nil && req.Duration != "":
		return time.Time{}, "set either expires_at or duration, not both"
	case req.ExpiresAt != nil:
		if req.ExpiresAt.Sub(now) > maxGrantDuration {
			return time.Time{}, "grant may last at most 90 days"
		}
		return req.ExpiresAt.UTC(), ""
	case req.Duration != "":
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			return time.Time{}, "invalid duration"
		}
		if d > maxGrantDuration {
			return time.Time{}, "grant may last at most 90 days"
		}
		return now.Add(d).UTC(), ""
	default:
		return time.Time{}, "expires_at or duration is required"
	}
}
