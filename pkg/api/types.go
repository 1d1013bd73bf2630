package api

import (
	"time"

	"github.com/platinummonkey/crewform/pkg/permissions"
	"github.com/platinummonkey/crewform/pkg/rbac"
)

// CatalogResponse is the permission catalog as shown in role editors
type CatalogResponse struct {
	Version int                  `json:"version"`
	Groups  []permissions.Group  `json:"groups"`
	Presets []permissions.Preset `json:"presets"`
}

// PreviewRequest holds a permission selection from a role editor
type PreviewRequest struct {
	Permissions []string `json:"permissions"`
}

// PreviewResponse shows what a selection grants once implications are applied
type PreviewResponse struct {
	Selected []permissions.Key               `json:"selected"`
	Expanded []permissions.Key               `json:"expanded"`
	Warnings []permissions.DependencyWarning `json:"warnings"`
	Unknown  []permissions.Key               `json:"unknown,omitempty"`
}

// MyPermissionsResponse describes the caller's effective permissions
type MyPermissionsResponse struct {
	OrganizationID int64             `json:"organization_id"`
	RoleKey        string            `json:"role_key,omitempty"`
	IsAdmin        bool              `json:"is_admin"`
	IsAPIKey       bool              `json:"is_api_key"`
	Permissions    []permissions.Key `json:"permissions"`
	Version        int64             `json:"permission_version"`
}

// RoleRequest creates or updates a custom role. When Preset is set and
// Permissions is empty, the preset's permissions are used.
type RoleRequest struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
	Preset      string   `json:"preset,omitempty"`
}

// RoleResponse is the outcome of a role write
type RoleResponse struct {
	Role     *rbac.Role                      `json:"role,omitempty"`
	Version  int64                           `json:"permission_version"`
	Warnings []permissions.DependencyWarning `json:"warnings"`
}

// MemberRoleRequest reassigns a member's role
type MemberRoleRequest struct {
	RoleKey string `json:"role_key"`
}

// MemberRoleResponse is the outcome of a member role change
type MemberRoleResponse struct {
	Member  *rbac.TeamMember `json:"member"`
	Version int64            `json:"permission_version"`
}

// GrantRequest issues temporary permissions. Exactly one of ExpiresAt and
// Duration must be set.
type GrantRequest struct {
	UserID      int64      `json:"user_id"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// GrantResponse is the outcome of a grant write
type GrantResponse struct {
	Grant   *rbac.TemporaryGrant `json:"grant"`
	Version int64                `json:"permission_version"`
}

// APIKeyRequest creates an API key
type APIKeyRequest struct {
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// APIKeyResponse carries a created key. Secret is only ever returned here.
type APIKeyResponse struct {
	APIKey *rbac.APIKey `json:"api_key"`
	Secret string       `json:"secret"`
}

// VersionResponse reports the permission version after a delete
type VersionResponse struct {
	Version int64 `json:"permission_version"`
}
