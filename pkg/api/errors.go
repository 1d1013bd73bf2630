package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/crewform/pkg/audit"
	"github.com/platinummonkey/crewform/pkg/httputil"
	"github.com/platinummonkey/crewform/pkg/rbac"
)

// writeError maps authorization data errors to HTTP responses
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rbac.ErrAdminRoleProtected), errors.Is(err, rbac.ErrAdminRoleRestricted):
		httputil.WriteErrorMessage(w, http.StatusForbidden, err.Error())
	case rbac.IsAuthorizationError(err):
		httputil.WriteStatusError(w, err)
	case errors.Is(err, rbac.ErrRoleNotFound),
		errors.Is(err, rbac.ErrMemberNotFound),
		errors.Is(err, rbac.ErrGrantNotFound),
		errors.Is(err, rbac.ErrAPIKeyNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, rbac.ErrRoleExists):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, rbac.ErrInvalidRole), errors.Is(err, rbac.ErrInvalidGrant):
		httputil.WriteBadRequest(w, err.Error())
	default:
		logger(r).WithError(err).Error("Request failed")
		httputil.WriteStatusError(w, err)
	}
}

// writeDelegationDenied records a write refused because the caller would hand
// out permissions it does not hold
func (s *Server) writeDelegationDenied(w http.ResponseWriter, r *http.Request, orgCtx *rbac.OrgContext, err error) {
	if auditErr := s.audit.LogAuthorization(r.Context(), audit.EventTypeAccessDenied, actorID(orgCtx),
		audit.ResourceTypePermission, r.URL.Path, audit.EventStatusDenied, err.Error()); auditErr != nil {
		logger(r).WithError(auditErr).Warn("Failed to write audit event")
	}
	logger(r).WithError(err).Info("Delegation denied")
	writeError(w, r, err)
}
