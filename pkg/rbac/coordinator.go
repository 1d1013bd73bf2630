package rbac

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/crewform/pkg/audit"
	"github.com/platinummonkey/crewform/pkg/observability"
	"github.com/platinummonkey/crewform/pkg/permissions"
)

// MutationOperation is the kind of role write
type MutationOperation string

const (
	MutationCreate MutationOperation = "create"
	MutationUpdate MutationOperation = "update"
	MutationDelete MutationOperation = "delete"
)

// RoleMutation describes one role write. Role carries the desired state for
// create and update; RoleKey names the target for update and delete.
type RoleMutation struct {
	Operation MutationOperation
	RoleKey   string
	Role      *Role
	ActorID   *int64
}

// RoleChange is the outcome of a coordinated write
type RoleChange struct {
	Operation MutationOperation
	Before    *Role
	After     *Role
	// Version is the organization's permission version after the write
	Version int64
	// Warnings lists implied permissions the role did not select explicitly
	Warnings []permissions.DependencyWarning
}

// RoleStore is the persistence the coordinator writes through
type RoleStore interface {
	GetRole(ctx context.Context, orgID int64, key string) (*Role, error)
	CreateRole(ctx context.Context, role *Role) error
	UpdateRole(ctx context.Context, role *Role) error
	DeleteRole(ctx context.Context, orgID int64, key string) error

	GetTeamMemberByID(ctx context.Context, orgID, memberID int64) (*TeamMember, error)
	UpdateMemberRole(ctx context.Context, orgID, memberID int64, roleKey string) error

	CreateGrant(ctx context.Context, grant *TemporaryGrant) error
	GetGrant(ctx context.Context, orgID, grantID int64) (*TemporaryGrant, error)
	DeleteGrant(ctx context.Context, orgID, grantID int64) error

	RevokeAPIKey(ctx context.Context, orgID, keyID int64) error
}

var _ RoleStore = (*Store)(nil)

// CacheInvalidator drops every cached org context of a tenant
type CacheInvalidator interface {
	Invalidate(orgID int64)
}

// Coordinator applies writes to authorization data in a fixed order: persist,
// invalidate the local org context cache, then bump the tenant's permission
// version. Invalidation makes the writing instance consistent at once; the
// version bump makes every other instance rebuild on its next request.
type Coordinator struct {
	store       RoleStore
	invalidator CacheInvalidator
	versions    VersionCounter
	catalog     *permissions.Catalog
	audit       audit.Logger
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// CoordinatorOption configures optional collaborators
type CoordinatorOption func(*Coordinator)

// WithAuditLogger records before/after snapshots for every write
func WithAuditLogger(logger audit.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.audit = logger }
}

// WithLogger sets the coordinator's logger
func WithLogger(logger *observability.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics counts writes by operation and status
func WithMetrics(metrics *observability.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = metrics }
}

// WithCatalog overrides the catalog used for dependency warnings
func WithCatalog(catalog *permissions.Catalog) CoordinatorOption {
	return func(c *Coordinator) { c.catalog = catalog }
}

// NewCoordinator creates a coordinator
func NewCoordinator(store RoleStore, invalidator CacheInvalidator, versions VersionCounter, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:       store,
		invalidator: invalidator,
		versions:    versions,
		catalog:     permissions.Default(),
		audit:       audit.NewNoOpLogger(),
		logger:      observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ApplyRoleChange creates, updates or deletes a role of orgID. Deleting the
// admin role fails with ErrAdminRoleProtected before anything is persisted.
func (c *Coordinator) ApplyRoleChange(ctx context.Context, orgID int64, mutation RoleMutation) (change *RoleChange, err error) {
	operation := "role_" + string(mutation.Operation)
	ctx, span := observability.StartSpan(ctx, "rbac.ApplyRoleChange",
		observability.AttrOrganizationID.Int64(orgID),
		observability.AttrOperation.String(operation),
	)
	defer func() {
		c.metrics.RecordRoleMutation(operation, err)
		observability.EndSpan(span, err, "")
	}()

	switch mutation.Operation {
	case MutationCreate:
		return c.createRole(ctx, orgID, mutation)
	case MutationUpdate:
		return c.updateRole(ctx, orgID, mutation)
	case MutationDelete:
		return c.deleteRole(ctx, orgID, mutation)
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidRole, mutation.Operation)
	}
}

func (c *Coordinator) createRole(ctx context.Context, orgID int64, mutation RoleMutation) (*RoleChange, error) {
	if mutation.Role == nil {
		return nil, fmt.Errorf("%w: role is required", ErrInvalidRole)
	}
	role := mutation.Role.Clone()
	role.OrganizationID = orgID
	role.Key = strings.TrimSpace(role.Key)
	role.Name = strings.TrimSpace(role.Name)
	if err := validateRole(role); err != nil {
		return nil, err
	}
	role.IsSystem = false
	role.IsAdmin = false
	role.CreatedBy = mutation.ActorID
	role.Permissions = normalizeKeys(role.Permissions)

	if err := c.store.CreateRole(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to create role %s: %w", role.Key, err)
	}

	change := &RoleChange{Operation: MutationCreate, After: role.Clone()}
	return c.finish(ctx, orgID, change, audit.EventTypeRoleCreate, mutation.ActorID, role.Key)
}

func (c *Coordinator) updateRole(ctx context.Context, orgID int64, mutation RoleMutation) (*RoleChange, error) {
	if mutation.Role == nil {
		return nil, fmt.Errorf("%w: role is required", ErrInvalidRole)
	}
	key := mutation.RoleKey
	if key == "" {
		key = mutation.Role.Key
	}

	before, err := c.store.GetRole(ctx, orgID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load role %s: %w", key, err)
	}

	after := before.Clone()
	after.Name = strings.TrimSpace(mutation.Role.Name)
	after.Description = mutation.Role.Description
	after.Permissions = normalizeKeys(mutation.Role.Permissions)
	if err := validateRole(after); err != nil {
		return nil, err
	}

	if err := c.store.UpdateRole(ctx, after); err != nil {
		return nil, fmt.Errorf("failed to update role %s: %w", key, err)
	}

	change := &RoleChange{Operation: MutationUpdate, Before: before, After: after.Clone()}
	return c.finish(ctx, orgID, change, audit.EventTypeRoleUpdate, mutation.ActorID, key)
}

func (c *Coordinator) deleteRole(ctx context.Context, orgID int64, mutation RoleMutation) (*RoleChange, error) {
	key := mutation.RoleKey
	if key == "" && mutation.Role != nil {
		key = mutation.Role.Key
	}
	if key == AdminRoleKey {
		return nil, ErrAdminRoleProtected
	}

	before, err := c.store.GetRole(ctx, orgID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load role %s: %w", key, err)
	}

	if err := c.store.DeleteRole(ctx, orgID, key); err != nil {
		return nil, fmt.Errorf("failed to delete role %s: %w", key, err)
	}

	change := &RoleChange{Operation: MutationDelete, Before: before}
	return c.finish(ctx, orgID, change, audit.EventTypeRoleDelete, mutation.ActorID, key)
}

// finish runs the post-persistence steps shared by every role write
func (c *Coordinator) finish(ctx context.Context, orgID int64, change *RoleChange, event audit.EventType, actorID *int64, roleKey string) (*RoleChange, error) {
	version, err := c.propagate(ctx, orgID)
	if err != nil {
		return nil, err
	}
	change.Version = version

	if change.After != nil {
		change.Warnings = c.catalog.Graph().DependencyWarnings(change.After.PermissionSet())
	}

	changes := &audit.ChangeDetails{
		Before: roleSnapshot(change.Before),
		After:  roleSnapshot(change.After),
	}
	c.recordAudit(ctx, event, actorID, audit.ResourceTypeRole, roleKey, changes, fmt.Sprintf("role %s %sd", roleKey, change.Operation))

	return change, nil
}

// propagate invalidates the local cache and bumps the permission version. A
// failed bump is reported as an error even though the write is already stored:
// other instances would keep serving stale contexts until their TTL expires.
func (c *Coordinator) propagate(ctx context.Context, orgID int64) (version int64, err error) {
	ctx, span := observability.StartSpan(ctx, "rbac.propagate", observability.AttrOrganizationID.Int64(orgID))
	defer func() { observability.EndSpan(span, err, "") }()

	if c.invalidator != nil {
		c.invalidator.Invalidate(orgID)
	}

	version, err = c.versions.IncrementVersion(ctx, orgID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("organization_id", orgID).
			Error("Authorization data persisted but permission version bump failed")
		return 0, fmt.Errorf("failed to bump permission version for organization %d: %w", orgID, err)
	}

	c.logger.WithFields(map[string]interface{}{
		"organization_id":    orgID,
		"permission_version": version,
	}).Debug("Permission version bumped")

	return version, nil
}

func (c *Coordinator) recordAudit(ctx context.Context, event audit.EventType, actorID *int64, resourceType audit.ResourceType, resourceID string, changes *audit.ChangeDetails, message string) {
	if err := c.audit.LogDataMutation(ctx, event, actorID, resourceType, resourceID, changes, message); err != nil {
		c.logger.WithError(err).WithField("event_type", string(event)).Warn("Failed to write audit event")
	}
}

// MemberRoleChange is the outcome of a member role reassignment
type MemberRoleChange struct {
	Before  *TeamMember
	After   *TeamMember
	Version int64
}

// AssignMemberRole points a member at roleKey. The role must exist in the organization.
func (c *Coordinator) AssignMemberRole(ctx context.Context, orgID, memberID int64, roleKey string, actorID *int64) (result *MemberRoleChange, err error) {
	defer func() { c.metrics.RecordRoleMutation("member_role", err) }()

	if _, err := c.store.GetRole(ctx, orgID, roleKey); err != nil {
		return nil, fmt.Errorf("failed to load role %s: %w", roleKey, err)
	}

	before, err := c.store.GetTeamMemberByID(ctx, orgID, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to load team member %d: %w", memberID, err)
	}

	if err := c.store.UpdateMemberRole(ctx, orgID, memberID, roleKey); err != nil {
		return nil, fmt.Errorf("failed to update team member %d: %w", memberID, err)
	}

	after := *before
	after.RoleKey = roleKey

	version, err := c.propagate(ctx, orgID)
	if err != nil {
		return nil, err
	}

	changes := &audit.ChangeDetails{
		Before: map[string]interface{}{"role_key": before.RoleKey},
		After:  map[string]interface{}{"role_key": roleKey},
	}
	c.recordAudit(ctx, audit.EventTypeMemberRoleChange, actorID, audit.ResourceTypeTeamMember,
		strconv.FormatInt(memberID, 10), changes, fmt.Sprintf("member %d assigned role %s", memberID, roleKey))

	return &MemberRoleChange{Before: before, After: &after, Version: version}, nil
}

// GrantTemporaryPermissions stores a temporary grant. Grants that are already
// expired are rejected.
func (c *Coordinator) GrantTemporaryPermissions(ctx context.Context, grant *TemporaryGrant) (version int64, err error) {
	defer func() { c.metrics.RecordRoleMutation("grant_create", err) }()

	if grant == nil || grant.UserID == 0 || len(grant.Permissions) == 0 {
		return 0, fmt.Errorf("%w: grant needs a user and at least one permission", ErrInvalidGrant)
	}
	if !grant.ActiveAt(time.Now()) {
		return 0, fmt.Errorf("%w: grant expires in the past", ErrInvalidGrant)
	}
	grant.Permissions = normalizeKeys(grant.Permissions)

	if err := c.store.CreateGrant(ctx, grant); err != nil {
		return 0, fmt.Errorf("failed to create temporary grant: %w", err)
	}

	version, err = c.propagate(ctx, grant.OrganizationID)
	if err != nil {
		return 0, err
	}

	changes := &audit.ChangeDetails{After: grantSnapshot(grant)}
	c.recordAudit(ctx, audit.EventTypeGrantCreate, grant.GrantedBy, audit.ResourceTypeGrant,
		strconv.FormatInt(grant.ID, 10), changes, fmt.Sprintf("temporary grant for user %d", grant.UserID))

	return version, nil
}

// DeleteTemporaryGrant removes a grant before it expires
func (c *Coordinator) DeleteTemporaryGrant(ctx context.Context, orgID, grantID int64, actorID *int64) (version int64, err error) {
	defer func() { c.metrics.RecordRoleMutation("grant_delete", err) }()

	before, err := c.store.GetGrant(ctx, orgID, grantID)
	if err != nil {
		return 0, fmt.Errorf("failed to load temporary grant %d: %w", grantID, err)
	}

	if err := c.store.DeleteGrant(ctx, orgID, grantID); err != nil {
		return 0, fmt.Errorf("failed to delete temporary grant %d: %w", grantID, err)
	}

	version, err = c.propagate(ctx, orgID)
	if err != nil {
		return 0, err
	}

	changes := &audit.ChangeDetails{Before: grantSnapshot(before)}
	c.recordAudit(ctx, audit.EventTypeGrantDelete, actorID, audit.ResourceTypeGrant,
		strconv.FormatInt(grantID, 10), changes, fmt.Sprintf("temporary grant %d deleted", grantID))

	return version, nil
}

// RevokeAPIKey revokes an API key so cached key contexts stop resolving
func (c *Coordinator) RevokeAPIKey(ctx context.Context, orgID, keyID int64, actorID *int64) (version int64, err error) {
	defer func() { c.metrics.RecordRoleMutation("api_key_revoke", err) }()

	if err := c.store.RevokeAPIKey(ctx, orgID, keyID); err != nil {
		return 0, fmt.Errorf("failed to revoke api key %d: %w", keyID, err)
	}

	version, err = c.propagate(ctx, orgID)
	if err != nil {
		return 0, err
	}

	c.recordAudit(ctx, audit.EventTypeAPIKeyRevoke, actorID, audit.ResourceTypeAPIKey,
		strconv.FormatInt(keyID, 10), nil, fmt.Sprintf("api key %d revoked", keyID))

	return version, nil
}

func validateRole(role *Role) error {
	if role.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidRole)
	}
	if role.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRole)
	}
	if len(role.Key) > 100 {
		return fmt.Errorf("%w: key is longer than 100 characters", ErrInvalidRole)
	}
	return nil
}

// normalizeKeys dedupes and sorts permission keys. Unknown keys are kept; they
// imply nothing and grant nothing beyond themselves.
func normalizeKeys(keys []permissions.Key) []permissions.Key {
	set := permissions.NewSet()
	for _, k := range keys {
		if k = permissions.Key(strings.TrimSpace(string(k))); k != "" {
			set.Add(k)
		}
	}
	return set.Sorted()
}

func roleSnapshot(role *Role) map[string]interface{} {
	if role == nil {
		return nil
	}
	return map[string]interface{}{
		"key":         role.Key,
		"name":        role.Name,
		"description": role.Description,
		"permissions": permissions.NewSet(role.Permissions...).Strings(),
	}
}

func grantSnapshot(grant *TemporaryGrant) map[string]interface{} {
	if grant == nil {
		return nil
	}
	return map[string]interface{}{
		"user_id":     grant.UserID,
		"permissions": permissions.NewSet(grant.Permissions...).Strings(),
		"expires_at":  grant.ExpiresAt.UTC().Format(time.RFC3339),
		"reason":      grant.Reason,
	}
}
