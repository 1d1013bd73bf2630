package rbac

import (
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/crewform/pkg/permissions"
)

// Authorizer computes effective permissions for an org context and answers
// permission predicates. It holds no mutable state and is safe for concurrent use.
type Authorizer struct {
	catalog *permissions.Catalog
	now     func() time.Time
}

// NewAuthorizer creates an authorizer over the given catalog. A nil catalog
// falls back to the embedded default.
func NewAuthorizer(catalog *permissions.Catalog) *Authorizer {
	if catalog == nil {
		catalog = permissions.Default()
	}
	return &Authorizer{catalog: catalog, now: time.Now}
}

// WithClock returns a copy of the authorizer that evaluates grant expiry
// against the given clock
func (a *Authorizer) WithClock(now func() time.Time) *Authorizer {
	c := *a
	c.now = now
	return &c
}

// EffectivePermissions returns the full expanded permission set of the context
// at the authorizer's current time
func (a *Authorizer) EffectivePermissions(oc *OrgContext) permissions.Set {
	return a.EffectivePermissionsAt(oc, a.now())
}

// EffectivePermissionsAt returns the full expanded permission set at the given instant
func (a *Authorizer) EffectivePermissionsAt(oc *OrgContext, now time.Time) permissions.Set {
	graph := a.catalog.Graph()

	switch src := oc.Source().(type) {
	case APIKeySource:
		return graph.Expand(permissions.NewSet(src.Permissions...))
	case AdminSource:
		return permissions.NewSet(a.catalog.Keys()...)
	case RoleSource:
		base := permissions.NewSet()
		if src.Role != nil {
			base.Add(src.Role.Permissions...)
		}
		for _, grant := range src.Grants {
			if grant.ActiveAt(now) {
				base.Add(grant.Permissions...)
			}
		}
		return graph.Expand(base)
	default:
		return permissions.NewSet()
	}
}

// HasPermission reports whether the context holds key after expansion
func (a *Authorizer) HasPermission(oc *OrgContext, key permissions.Key) bool {
	return a.EffectivePermissions(oc).Has(key)
}

// HasAnyPermission reports whether the context holds at least one of keys.
// An empty key list is never satisfied.
func (a *Authorizer) HasAnyPermission(oc *OrgContext, keys ...permissions.Key) bool {
	effective := a.EffectivePermissions(oc)
	for _, key := range keys {
		if effective.Has(key) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether the context holds every one of keys.
// An empty key list is vacuously satisfied.
func (a *Authorizer) HasAllPermissions(oc *OrgContext, keys ...permissions.Key) bool {
	effective := a.EffectivePermissions(oc)
	for _, key := range keys {
		if !effective.Has(key) {
			return false
		}
	}
	return true
}

// RequirePermission returns an *AuthorizationError naming key when the context
// lacks it
func (a *Authorizer) RequirePermission(oc *OrgContext, key permissions.Key) error {
	if a.HasPermission(oc, key) {
		return nil
	}
	return &AuthorizationError{Permission: key, OrganizationID: orgIDOf(oc), Status: http.StatusForbidden}
}

// CheckDelegation fails with an *AuthorizationError naming the first
// permission implied by requested that the context does not hold. Admin
// contexts may hand out anything.
func (a *Authorizer) CheckDelegation(oc *OrgContext, requested []permissions.Key) error {
	if _, ok := oc.Source().(AdminSource); ok {
		return nil
	}

	wanted := permissions.NewSet()
	for _, key := range requested {
		if key = permissions.Key(strings.TrimSpace(string(key))); key != "" {
			wanted.Add(key)
		}
	}

	held := a.EffectivePermissions(oc)
	for _, key := range a.catalog.Graph().Expand(wanted).Sorted() {
		if !held.Has(key) {
			return &AuthorizationError{Permission: key, OrganizationID: orgIDOf(oc), Status: http.StatusForbidden}
		}
	}
	return nil
}

// CheckRoleAssignment reports whether the context may move a member from
// currentRole to target. Only admins assign the admin role or take it away;
// everyone else must hold every permission target grants.
func (a *Authorizer) CheckRoleAssignment(oc *OrgContext, currentRole string, target *Role) error {
	if target == nil {
		return ErrRoleNotFound
	}
	if _, ok := oc.Source().(AdminSource); ok {
		return nil
	}
	if target.Key == AdminRoleKey || currentRole == AdminRoleKey {
		return ErrAdminRoleRestricted
	}
	return a.CheckDelegation(oc, target.Permissions)
}

func orgIDOf(oc *OrgContext) int64 {
	if oc == nil {
		return 0
	}
	return oc.OrganizationID
}

var defaultAuthorizer = NewAuthorizer(nil)

// DefaultAuthorizer returns the wall-clock authorizer over the embedded catalog
func DefaultAuthorizer() *Authorizer {
	return defaultAuthorizer
}

// HasPermission reports whether oc holds key
func HasPermission(oc *OrgContext, key permissions.Key) bool {
	return defaultAuthorizer.HasPermission(oc, key)
}

// HasAnyPermission reports whether oc holds at least one of keys
func HasAnyPermission(oc *OrgContext, keys ...permissions.Key) bool {
	return defaultAuthorizer.HasAnyPermission(oc, keys...)
}

// HasAllPermissions reports whether oc holds all of keys
func HasAllPermissions(oc *OrgContext, keys ...permissions.Key) bool {
	return defaultAuthorizer.HasAllPermissions(oc, keys...)
}

// RequirePermission fails with an *AuthorizationError when oc lacks key
func RequirePermission(oc *OrgContext, key permissions.Key) error {
	return defaultAuthorizer.RequirePermission(oc, key)
}

// GetUserPermissions returns the expanded effective permission set of oc
func GetUserPermissions(oc *OrgContext) permissions.Set {
	return defaultAuthorizer.EffectivePermissions(oc)
}
