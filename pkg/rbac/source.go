package rbac

import "github.com/platinummonkey/crewform/pkg/permissions"

// Source describes where a context's permissions come from. Exactly one of
// APIKeySource, AdminSource or RoleSource applies to any OrgContext.
type Source interface {
	isSource()
}

// APIKeySource grants only the key's explicit permission list. Roles and
// temporary grants are never consulted.
type APIKeySource struct {
	Permissions []permissions.Key
}

// AdminSource grants the entire catalog regardless of stored role permissions
type AdminSource struct{}

// RoleSource grants the member's role permissions plus any temporary grants.
// Role is nil when the member references a role key the organization does not have.
type RoleSource struct {
	Role   *Role
	Grants []TemporaryGrant
}

func (APIKeySource) isSource() {}
func (AdminSource) isSource()  {}
func (RoleSource) isSource()   {}

// Source classifies the context. A nil context, or a context without a team
// member, yields a RoleSource with no role.
func (oc *OrgContext) Source() Source {
	if oc == nil {
		return RoleSource{}
	}
	if oc.IsAPIKeyContext {
		return APIKeySource{Permissions: oc.APIKeyPermissions}
	}
	if oc.TeamMember == nil {
		return RoleSource{}
	}
	if oc.TeamMember.RoleKey == AdminRoleKey {
		return AdminSource{}
	}
	return RoleSource{
		Role:   oc.Organization.FindRole(oc.TeamMember.RoleKey),
		Grants: oc.Organization.GrantsFor(oc.TeamMember.UserID),
	}
}
