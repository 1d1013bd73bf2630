package api

import (
	"net/http"

	"github.com/platinummonkey/crewform/pkg/httputil"
	"github.com/platinummonkey/crewform/pkg/middleware"
	"github.com/platinummonkey/crewform/pkg/permissions"
	"github.com/platinummonkey/crewform/pkg/rbac"
)

// getCatalog returns the grouped catalog and presets
func (s *Server) getCatalog(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, CatalogResponse{
		Version: s.catalog.Version(),
		Groups:  s.catalog.Groups(),
		Presets: s.catalog.Presets(),
	})
}

// previewPermissions expands a role editor selection without saving anything
func (s *Server) previewPermissions(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	selected := permissions.NewSet(permissions.KeysFromStrings(req.Permissions)...)
	resp := PreviewResponse{
		Selected: selected.Sorted(),
		Expanded: s.catalog.Graph().Expand(selected).Sorted(),
		Warnings: s.catalog.Graph().DependencyWarnings(selected),
	}
	for _, key := range resp.Selected {
		if !s.catalog.Known(key) {
			resp.Unknown = append(resp.Unknown, key)
		}
	}

	httputil.WriteSuccess(w, resp)
}

// getMyPermissions returns the caller's expanded effective permissions
func (s *Server) getMyPermissions(w http.ResponseWriter, r *http.Request) {
	orgCtx := middleware.OrgContextFromRequest(r)
	if orgCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	resp := MyPermissionsResponse{
		OrganizationID: orgCtx.OrganizationID,
		IsAPIKey:       orgCtx.IsAPIKeyContext,
		Permissions:    s.guard.Authorizer().EffectivePermissions(orgCtx).Sorted(),
		Version:        orgCtx.Version,
	}
	if _, ok := orgCtx.Source().(rbac.AdminSource); ok {
		resp.IsAdmin = true
	}
	if !orgCtx.IsAPIKeyContext && orgCtx.TeamMember != nil {
		resp.RoleKey = orgCtx.TeamMember.RoleKey
	}

	httputil.WriteSuccess(w, resp)
}
