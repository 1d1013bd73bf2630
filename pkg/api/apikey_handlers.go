package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/platinummonkey/crewform/pkg/audit"
	"github.com/platinummonkey/crewform/pkg/httputil"
	"github.com/platinummonkey/crewform/pkg/middleware"
	"github.com/platinummonkey/crewform/pkg/permissions"
	"github.com/platinummonkey/crewform/pkg/rbac"
)

// listAPIKeys lists the organization's API keys without secrets
func (s *Server) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	orgCtx := middleware.OrgContextFromRequest(r)

	keys, err := s.store.ListAPIKeys(r.Context(), orgCtx.OrganizationID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, keys)
}

// createAPIKey creates an API key and returns its secret once
func (s *Server) createAPIKey(w http.ResponseWriter, r *http.Request) {
	orgCtx := middleware.OrgContextFromRequest(r)

	var req APIKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}
	keys := permissions.NewSet(permissions.KeysFromStrings(req.Permissions)...)
	if len(keys) == 0 {
		httputil.WriteBadRequest(w, "permissions is required")
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		httputil.WriteBadRequest(w, "expires_at must be in the future")
		return
	}

	// A key can never carry more than its creator holds
	if err := s.guard.Authorizer().CheckDelegation(orgCtx, keys.Sorted()); err != nil {
		s.writeDelegationDenied(w, r, orgCtx, err)
		return
	}

	key := &rbac.APIKey{
		OrganizationID: orgCtx.OrganizationID,
		Name:           req.Name,
		Permissions:    keys.Sorted(),
		ExpiresAt:      req.ExpiresAt,
		CreatedBy:      actorID(orgCtx),
	}
	secret, err := s.store.CreateAPIKey(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.audit.LogDataMutation(r.Context(), audit.EventTypeAPIKeyCreate, key.CreatedBy, audit.ResourceTypeAPIKey,
		strconv.FormatInt(key.ID, 10), &audit.ChangeDetails{After: map[string]interface{}{
			"name":        key.Name,
			"permissions": keys.Strings(),
		}}, fmt.Sprintf("api key %s created", key.Prefix)); err != nil {
		logger(r).WithError(err).Warn("Failed to write audit event")
	}

	httputil.WriteCreated(w, APIKeyResponse{APIKey: key, Secret: secret})
}

// revokeAPIKey revokes an API key
func (s *Server) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	orgCtx := middleware.OrgContextFromRequest(r)
	keyID, ok := httputil.ParsePathInt64OrError(w, r, "key_id")
	if !ok {
		return
	}

	version, err := s.coordinator.RevokeAPIKey(r.Context(), orgCtx.OrganizationID, keyID, actorID(orgCtx))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, VersionResponse{Version: version})
}
