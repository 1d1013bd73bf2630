package api

import (
	"net/http"

	"github.com/platinummonkey/crewform/pkg/httputil"
	"github.com/platinummonkey/crewform/pkg/middleware"
)

// listMembers lists the organization's team members
func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	orgCtx := middleware.OrgContextFromRequest(r)

	members, err := s.store.ListTeamMembers(r.Context(), orgCtx.OrganizationID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, members)
}

// assignMemberRole points a member at another role. Callers may only assign
// roles whose permissions they hold themselves.
func (s *Server) assignMemberRole(w http.ResponseWriter, r *http.Request) {
	orgCtx := middleware.OrgContextFromRequest(r)
	memberID, ok := httputil.ParsePathInt64OrError(w, r, "member_id")
	if !ok {
		return
	}

	var req MemberRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.RoleKey, "role_key") {
		return
	}

	target, err := s.store.GetRole(r.Context(), orgCtx.OrganizationID, req.RoleKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	member, err := s.store.GetTeamMemberByID(r.Context(), orgCtx.OrganizationID, memberID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.guard.Authorizer().CheckRoleAssignment(orgCtx, member.RoleKey, target); err != nil {
		s.writeDelegationDenied(w, r, orgCtx, err)
		return
	}

	change, err := s.coordinator.AssignMemberRole(r.Context(), orgCtx.OrganizationID, memberID, req.RoleKey, actorID(orgCtx))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, MemberRoleResponse{Member: change.After, Version: change.Version})
}
