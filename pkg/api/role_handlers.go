package api

import (
	"net/http"

	"github.com/platinummonkey/crewform/pkg/httputil"
	"github.com/platinummonkey/crewform/pkg/middleware"
	"github.com/platinummonkey/crewform/pkg/permissions"
	"github.com/platinummonkey/crewform/pkg/rbac"
)

// listRoles lists the organization's roles
func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	orgCtx := middleware.OrgContextFromRequest(r)

	roles, err := s.store.ListRoles(r.Context(), orgCtx.OrganizationID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, roles)
}

// createRole creates a custom role. Non-admins may only put permissions they
// hold into it.
func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	orgCtx := middleware.OrgContextFromRequest(r)

	var req RoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role := &rbac.Role{
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
		Permissions: permissions.KeysFromStrings(req.Permissions),
	}
	if req.Preset != "" && len(role.Permissions) == 0 {
		preset, ok := s.findPreset(req.Preset)
		if !ok {
			httputil.WriteBadRequest(w, "unknown preset: "+req.Preset)
			return
		}
		fromPreset := rbac.RoleFromPreset(preset)
		role.Permissions = fromPreset.Permissions
		if role.Name == "" {
			role.Name = fromPreset.Name
		}
		if role.Description == "" {
			role.Description = fromPreset.Description
		}
	}
	if err := s.guard.Authorizer().CheckDelegation(orgCtx, role.Permissions); err != nil {
		s.writeDelegationDenied(w, r, orgCtx, err)
		return
	}

	change, err := s.coordinator.ApplyRoleChange(r.Context(), orgCtx.OrganizationID, rbac.RoleMutation{
		Operation: rbac.MutationCreate,
		Role:      role,
		ActorID:   actorID(orgCtx),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteCreated(w, roleResponse(change))
}

// updateRole replaces the name, description and permissions of a role
func (s *Server) updateRole(w http.ResponseWriter, r *http.Request) {
	orgCtx := middleware.OrgContextFromRequest(r)
	roleKey, ok := httputil.ParsePathStringOrError(w, r, "role_key")
	if !ok {
		return
	}

	var req RoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	requested := permissions.KeysFromStrings(req.Permissions)
	if err := s.guard.Authorizer().CheckDelegation(orgCtx, requested); err != nil {
		s.writeDelegationDenied(w, r, orgCtx, err)
		return
	}

	change, err := s.coordinator.ApplyRoleChange(r.Context(), orgCtx.OrganizationID, rbac.RoleMutation{
		Operation: rbac.MutationUpdate,
		RoleKey:   roleKey,
		Role: &rbac.Role{
			Name:        req.Name,
			Description: req.Description,
			Permissions: requested,
		},
		ActorID: actorID(orgCtx),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, roleResponse(change))
}

// deleteRole deletes a role. The admin role is rejected.
func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request) {
	orgCtx := middleware.OrgContextFromRequest(r)
	roleKey, ok := httputil.ParsePathStringOrError(w, r, "role_key")
	if !ok {
		return
	}

	change, err := s.coordinator.ApplyRoleChange(r.Context(), orgCtx.OrganizationID, rbac.RoleMutation{
		Operation: rbac.MutationDelete,
		RoleKey:   roleKey,
		ActorID:   actorID(orgCtx),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, VersionResponse{Version: change.Version})
}

func (s *Server) findPreset(name string) (permissions.Preset, bool) {
	for _, preset := range s.catalog.Presets() {
		if preset.Name == name {
			return preset, true
		}
	}
	return permissions.Preset{}, false
}

func roleResponse(change *rbac.RoleChange) RoleResponse {
	warnings := change.Warnings
	if warnings == nil {
		warnings = []permissions.DependencyWarning{}
	}
	return RoleResponse{Role: change.After, Version: change.Version, Warnings: warnings}
}
