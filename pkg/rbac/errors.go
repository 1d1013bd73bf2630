package rbac

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/crewform/pkg/permissions"
)

var (
	// ErrAdminRoleProtected is returned when deleting the admin role
	ErrAdminRoleProtected = errors.New("the admin role cannot be deleted")
	// ErrAdminRoleRestricted is returned when a non-admin assigns the admin role
	// or changes the role of an admin
	ErrAdminRoleRestricted = errors.New("only admins may assign or reassign the admin role")
	// ErrRoleNotFound is returned when a role key does not exist in the organization
	ErrRoleNotFound = errors.New("role not found")
	// ErrRoleExists is returned when creating a role whose key is taken
	ErrRoleExists = errors.New("role already exists")
	// ErrInvalidRole is returned for roles missing a key or name
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidGrant is returned for grants without a user, without permissions, or already expired
	ErrInvalidGrant = errors.New("invalid temporary grant")
	// ErrMemberNotFound is returned when a team member does not exist
	ErrMemberNotFound = errors.New("team member not found")
	// ErrGrantNotFound is returned when a temporary grant does not exist
	ErrGrantNotFound = errors.New("temporary grant not found")
	// ErrOrganizationNotFound is returned when an organization does not exist
	ErrOrganizationNotFound = errors.New("organization not found")
	// ErrAPIKeyNotFound is returned when an API key is unknown, revoked or expired
	ErrAPIKeyNotFound = errors.New("api key not found")
)

// AuthorizationError is returned by RequirePermission when the caller lacks a
// permission. It always maps to HTTP 403.
type AuthorizationError struct {
	Permission     permissions.Key
	OrganizationID int64
	Status         int
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("forbidden: missing permission %q in organization %d", e.Permission, e.OrganizationID)
}

// StatusCode returns the HTTP status for the error
func (e *AuthorizationError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusForbidden
	}
	return e.Status
}

// IsAuthorizationError reports whether err is or wraps an AuthorizationError
func IsAuthorizationError(err error) bool {
	var authzErr *AuthorizationError
	return errors.As(err, &authzErr)
}

// ResolutionReason classifies why an org context could not be resolved
type ResolutionReason string

const (
	ReasonIdentity             ResolutionReason = "identity"
	ReasonOrganizationNotFound ResolutionReason = "organization_not_found"
	ReasonMemberNotFound       ResolutionReason = "member_not_found"
	ReasonStoreUnavailable     ResolutionReason = "store_unavailable"
)

// ContextResolutionError means the request cannot be authorized at all. It is
// distinct from "authorized with zero permissions".
type ContextResolutionError struct {
	OrganizationID int64
	Reason         ResolutionReason
	Err            error
}

func (e *ContextResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot resolve org context for organization %d (%s): %v", e.OrganizationID, e.Reason, e.Err)
	}
	return fmt.Sprintf("cannot resolve org context for organization %d (%s)", e.OrganizationID, e.Reason)
}

func (e *ContextResolutionError) Unwrap() error {
	return e.Err
}

// StatusCode maps the failure to an HTTP status: principals that do not belong to
// the tenant get 403, backing store failures get 503.
func (e *ContextResolutionError) StatusCode() int {
	if e.Reason == ReasonStoreUnavailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusForbidden
}

// IsContextResolutionError reports whether err is or wraps a ContextResolutionError
func IsContextResolutionError(err error) bool {
	var resErr *ContextResolutionError
	return errors.As(err, &resErr)
}
