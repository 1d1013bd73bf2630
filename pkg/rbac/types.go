package rbac

import (
	"time"

	"github.com/platinummonkey/crewform/pkg/permissions"
)

// AdminRoleKey is the fixed key of the organization admin role. The admin role
// can never be deleted and always holds the whole catalog.
const AdminRoleKey = "admin-role"

// MemberRoleKey is the default role given to newly joined members
const MemberRoleKey = "member"

// Role is a named permission set owned by one organization
type Role struct {
	ID             int64             `json:"id"`
	OrganizationID int64             `json:"organization_id"`
	Key            string            `json:"key"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Permissions    []permissions.Key `json:"permissions"`
	IsSystem       bool              `json:"is_system"`
	IsAdmin        bool              `json:"is_admin"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CreatedBy      *int64            `json:"created_by,omitempty"`
}

// PermissionSet returns the role's stored permissions as a set
func (r *Role) PermissionSet() permissions.Set {
	return permissions.NewSet(r.Permissions...)
}

// Clone returns a deep copy, used for before/after audit snapshots
func (r *Role) Clone() *Role {
	if r == nil {
		return nil
	}
	c := *r
	c.Permissions = append([]permissions.Key(nil), r.Permissions...)
	if r.CreatedBy != nil {
		id := *r.CreatedBy
		c.CreatedBy = &id
	}
	return &c
}

// TeamMember is a user's membership in one organization. A member references
// exactly one role by key.
type TeamMember struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	UserID         int64     `json:"user_id"`
	RoleKey        string    `json:"role_key"`
	Email          string    `json:"email,omitempty"`
	DisplayName    string    `json:"display_name,omitempty"`
	JoinedAt       time.Time `json:"joined_at"`
}

// TemporaryGrant adds permissions to one user in one organization until ExpiresAt.
// Grants are never disabled in place; they stop counting once expired or deleted.
type TemporaryGrant struct {
	ID             int64             `json:"id"`
	OrganizationID int64             `json:"organization_id"`
	UserID         int64             `json:"user_id"`
	Permissions    []permissions.Key `json:"permissions"`
	ExpiresAt      time.Time         `json:"expires_at"`
	GrantedBy      *int64            `json:"granted_by,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// ActiveAt reports whether the grant contributes at the given instant.
// A grant whose ExpiresAt equals now has already expired.
func (g TemporaryGrant) ActiveAt(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// APIKey is an organization-scoped integration credential with an explicit
// permission list. Requests authenticated with a key never consult roles.
type APIKey struct {
	ID             int64             `json:"id"`
	OrganizationID int64             `json:"organization_id"`
	Name           string            `json:"name"`
	Prefix         string            `json:"prefix"`
	KeyHash        string            `json:"-"`
	Permissions    []permissions.Key `json:"permissions"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	RevokedAt      *time.Time        `json:"revoked_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	CreatedBy      *int64            `json:"created_by,omitempty"`
}

// UsableAt reports whether the key can authenticate at the given instant
func (k *APIKey) UsableAt(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// Organization is a tenant together with the authorization data it owns.
// Roles are embedded per organization: equally named roles in two organizations
// are unrelated.
type Organization struct {
	ID                int64            `json:"id"`
	Name              string           `json:"name"`
	Slug              string           `json:"slug"`
	Roles             []Role           `json:"roles"`
	TemporaryGrants   []TemporaryGrant `json:"temporary_grants"`
	PermissionVersion int64            `json:"permission_version"`
}

// FindRole returns the role with the given key, or nil
func (o *Organization) FindRole(key string) *Role {
	if o == nil {
		return nil
	}
	for i := range o.Roles {
		if o.Roles[i].Key == key {
			return &o.Roles[i]
		}
	}
	return nil
}

// GrantsFor returns every stored grant for userID, active or not
func (o *Organization) GrantsFor(userID int64) []TemporaryGrant {
	if o == nil {
		return nil
	}
	var grants []TemporaryGrant
	for _, g := range o.TemporaryGrants {
		if g.UserID == userID {
			grants = append(grants, g)
		}
	}
	return grants
}

// OrgContext is the resolved "who is calling, in which organization" bundle.
// It is built by the org context cache and consumed by the predicates in this
// package; it is never mutated after construction.
type OrgContext struct {
	OrganizationID    int64
	TeamMember        *TeamMember
	Organization      *Organization
	IsAPIKeyContext   bool
	APIKeyID          int64
	APIKeyPermissions []permissions.Key

	// Version is the organization's permission version captured before the
	// context data was loaded.
	Version    int64
	ResolvedAt time.Time
}

// BuiltInRoles returns the system roles seeded into every new organization
func BuiltInRoles() []Role {
	return []Role{
		{
			Key:         AdminRoleKey,
			Name:        "Admin",
			Description: "Full access to the organization",
			IsSystem:    true,
			IsAdmin:     true,
			Permissions: []permissions.Key{},
		},
		{
			Key:         MemberRoleKey,
			Name:        "Member",
			Description: "Default role for new team members",
			IsSystem:    true,
			Permissions: []permissions.Key{"view_organization", "view_team", "view_positions", "view_dashboard"},
		},
	}
}

// RoleFromPreset builds an unsaved custom role from a catalog preset
func RoleFromPreset(preset permissions.Preset) Role {
	return Role{
		Key:         preset.Name,
		Name:        preset.Label,
		Description: preset.Description,
		Permissions: append([]permissions.Key(nil), preset.Permissions...),
	}
}
