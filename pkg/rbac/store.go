package rbac

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/crewform/pkg/permissions"
)

// APIKeyPrefix starts every generated API key secret
const APIKeyPrefix = "crewform_"

// Store handles persistence of organizations, roles, members, grants and API keys
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new authorization store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func marshalKeys(keys []permissions.Key) (string, error) {
	if keys == nil {
		keys = []permissions.Key{}
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return "", fmt.Errorf("failed to marshal permissions: %w", err)
	}
	return string(data), nil
}

func unmarshalKeys(data string) ([]permissions.Key, error) {
	var keys []permissions.Key
	if data == "" {
		return []permissions.Key{}, nil
	}
	if err := json.Unmarshal([]byte(data), &keys); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	return keys, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// CreateOrganization inserts an organization and seeds its built-in roles
func (s *Store) CreateOrganization(ctx context.Context, org *Organization) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.timestamp()
	err = tx.QueryRowContext(ctx,
		`INSERT INTO organizations (name, slug, permission_version, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		org.Name, org.Slug, 0, now,
	).Scan(&org.ID)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	org.Roles = nil
	for _, role := range BuiltInRoles() {
		role.OrganizationID = org.ID
		if err := insertRole(ctx, tx, &role, now); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", role.Key, err)
		}
		org.Roles = append(org.Roles, role)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit organization: %w", err)
	}
	org.PermissionVersion = 0
	return nil
}

// GetOrganization loads an organization together with its roles and temporary grants
func (s *Store) GetOrganization(ctx context.Context, orgID int64) (*Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, permission_version FROM organizations WHERE id = $1`, orgID,
	).Scan(&org.ID, &org.Name, &org.Slug, &org.PermissionVersion)
	if err == sql.ErrNoRows {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	roles, err := s.ListRoles(ctx, orgID)
	if err != nil {
		return nil, err
	}
	org.Roles = roles

	grants, err := s.ListGrants(ctx, orgID)
	if err != nil {
		return nil, err
	}
	org.TemporaryGrants = grants

	return &org, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func insertRole(ctx context.Context, db queryRower, role *Role, now time.Time) error {
	permissionsJSON, err := marshalKeys(role.Permissions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO org_roles (organization_id, role_key, name, description, permissions, is_system, is_admin, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err = db.QueryRowContext(ctx, query,
		role.OrganizationID,
		role.Key,
		role.Name,
		role.Description,
		permissionsJSON,
		role.IsSystem,
		role.IsAdmin,
		now,
		now,
		nullInt64(role.CreatedBy),
	).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// CreateRole creates a custom role. Returns ErrRoleExists when the key is taken.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	_, err := s.GetRole(ctx, role.OrganizationID, role.Key)
	if err == nil {
		return ErrRoleExists
	}
	if !errors.Is(err, ErrRoleNotFound) {
		return err
	}
	return insertRole(ctx, s.db, role, s.timestamp())
}

const roleColumns = `id, organization_id, role_key, name, description, permissions, is_system, is_admin, created_at, updated_at, created_by`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row scanner) (*Role, error) {
	var role Role
	var permissionsJSON string
	var createdBy sql.NullInt64

	err := row.Scan(
		&role.ID,
		&role.OrganizationID,
		&role.Key,
		&role.Name,
		&role.Description,
		&permissionsJSON,
		&role.IsSystem,
		&role.IsAdmin,
		&role.CreatedAt,
		&role.UpdatedAt,
		&createdBy,
	)
	if err != nil {
		return nil, err
	}

	role.Permissions, err = unmarshalKeys(permissionsJSON)
	if err != nil {
		return nil, err
	}
	role.CreatedBy = int64Ptr(createdBy)
	return &role, nil
}

// GetRole retrieves a role by key within an organization
func (s *Store) GetRole(ctx context.Context, orgID int64, key string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM org_roles WHERE organization_id = $1 AND role_key = $2`,
		orgID, key,
	)
	role, err := scanRole(row)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles lists every role of an organization ordered by key
func (s *Store) ListRoles(ctx context.Context, orgID int64) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roleColumns+` FROM org_roles WHERE organization_id = $1 ORDER BY role_key`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// UpdateRole replaces the name, description and permissions of a role
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	permissionsJSON, err := marshalKeys(role.Permissions)
	if err != nil {
		return err
	}

	now := s.timestamp()
	result, err := s.db.ExecContext(ctx, `
		UPDATE org_roles
		SET name = $1, description = $2, permissions = $3, updated_at = $4
		WHERE organization_id = $5 AND role_key = $6
	`, role.Name, role.Description, permissionsJSON, now, role.OrganizationID, role.Key)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRoleNotFound
	}

	role.UpdatedAt = now
	return nil
}

// DeleteRole deletes a role. Members still referencing the key resolve to no
// role permissions until reassigned.
func (s *Store) DeleteRole(ctx context.Context, orgID int64, key string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM org_roles WHERE organization_id = $1 AND role_key = $2`, orgID, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRoleNotFound
	}
	return nil
}

const memberColumns = `id, organization_id, user_id, role_key, email, display_name, joined_at`

func scanMember(row scanner) (*TeamMember, error) {
	var m TeamMember
	err := row.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.RoleKey, &m.Email, &m.DisplayName, &m.JoinedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AddTeamMember adds a user to an organization
func (s *Store) AddTeamMember(ctx context.Context, member *TeamMember) error {
	if member.RoleKey == "" {
		member.RoleKey = MemberRoleKey
	}
	now := s.timestamp()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO team_members (organization_id, user_id, role_key, email, display_name, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, member.OrganizationID, member.UserID, member.RoleKey, member.Email, member.DisplayName, now).Scan(&member.ID)
	if err != nil {
		return fmt.Errorf("failed to add team member: %w", err)
	}
	member.JoinedAt = now
	return nil
}

// GetTeamMember retrieves the membership of userID in an organization
func (s *Store) GetTeamMember(ctx context.Context, orgID, userID int64) (*TeamMember, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM team_members WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID,
	)
	member, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team member: %w", err)
	}
	return member, nil
}

// GetTeamMemberByID retrieves a membership by its own id
func (s *Store) GetTeamMemberByID(ctx context.Context, orgID, memberID int64) (*TeamMember, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM team_members WHERE organization_id = $1 AND id = $2`,
		orgID, memberID,
	)
	member, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team member: %w", err)
	}
	return member, nil
}

// ListTeamMembers lists the members of an organization
func (s *Store) ListTeamMembers(ctx context.Context, orgID int64) ([]TeamMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM team_members WHERE organization_id = $1 ORDER BY id`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	defer rows.Close()

	members := []TeamMember{}
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		members = append(members, *member)
	}
	return members, rows.Err()
}

// UpdateMemberRole points a member at a different role key
func (s *Store) UpdateMemberRole(ctx context.Context, orgID, memberID int64, roleKey string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE team_members SET role_key = $1 WHERE organization_id = $2 AND id = $3`,
		roleKey, orgID, memberID,
	)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// CreateGrant stores a temporary grant
func (s *Store) CreateGrant(ctx context.Context, grant *TemporaryGrant) error {
	permissionsJSON, err := marshalKeys(grant.Permissions)
	if err != nil {
		return err
	}

	now := s.timestamp()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO temporary_grants (organization_id, user_id, permissions, expires_at, granted_by, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		grant.OrganizationID,
		grant.UserID,
		permissionsJSON,
		grant.ExpiresAt.UTC(),
		nullInt64(grant.GrantedBy),
		grant.Reason,
		now,
	).Scan(&grant.ID)
	if err != nil {
		return fmt.Errorf("failed to create temporary grant: %w", err)
	}
	grant.CreatedAt = now
	return nil
}

const grantColumns = `id, organization_id, user_id, permissions, expires_at, granted_by, reason, created_at`

func scanGrant(row scanner) (*TemporaryGrant, error) {
	var g TemporaryGrant
	var permissionsJSON string
	var grantedBy sql.NullInt64

	err := row.Scan(&g.ID, &g.OrganizationID, &g.UserID, &permissionsJSON, &g.ExpiresAt, &grantedBy, &g.Reason, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	g.Permissions, err = unmarshalKeys(permissionsJSON)
	if err != nil {
		return nil, err
	}
	g.GrantedBy = int64Ptr(grantedBy)
	return &g, nil
}

// GetGrant retrieves a temporary grant by id
func (s *Store) GetGrant(ctx context.Context, orgID, grantID int64) (*TemporaryGrant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM temporary_grants WHERE organization_id = $1 AND id = $2`,
		orgID, grantID,
	)
	grant, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return nil, ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get temporary grant: %w", err)
	}
	return grant, nil
}

// ListGrants lists every stored grant of an organization, expired ones included.
// Expiry is evaluated when permissions are computed.
func (s *Store) ListGrants(ctx context.Context, orgID int64) ([]TemporaryGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+grantColumns+` FROM temporary_grants WHERE organization_id = $1 ORDER BY id`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list temporary grants: %w", err)
	}
	defer rows.Close()

	grants := []TemporaryGrant{}
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan temporary grant: %w", err)
		}
		grants = append(grants, *grant)
	}
	return grants, rows.Err()
}

// DeleteGrant removes a temporary grant
func (s *Store) DeleteGrant(ctx context.Context, orgID, grantID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM temporary_grants WHERE organization_id = $1 AND id = $2`, orgID, grantID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete temporary grant: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// DeleteExpiredGrants removes grants that expired at or before the given instant
// and returns how many rows were deleted
func (s *Store) DeleteExpiredGrants(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM temporary_grants WHERE expires_at <= $1`, before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired grants: %w", err)
	}
	return result.RowsAffected()
}

// HashAPIKey returns the hex SHA-256 digest stored for an API key secret
func HashAPIKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func generateAPIKeySecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(buf), nil
}

// CreateAPIKey stores a new API key and returns the plaintext secret, which is
// never persisted
func (s *Store) CreateAPIKey(ctx context.Context, key *APIKey) (string, error) {
	secret, err := generateAPIKeySecret()
	if err != nil {
		return "", err
	}
	permissionsJSON, err := marshalKeys(key.Permissions)
	if err != nil {
		return "", err
	}

	key.KeyHash = HashAPIKey(secret)
	key.Prefix = secret[:len(APIKeyPrefix)+8]
	now := s.timestamp()

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (organization_id, name, prefix, key_hash, permissions, expires_at, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		key.OrganizationID,
		key.Name,
		key.Prefix,
		key.KeyHash,
		permissionsJSON,
		nullTime(key.ExpiresAt),
		now,
		nullInt64(key.CreatedBy),
	).Scan(&key.ID)
	if err != nil {
		return "", fmt.Errorf("failed to create api key: %w", err)
	}
	key.CreatedAt = now
	return secret, nil
}

const apiKeyColumns = `id, organization_id, name, prefix, key_hash, permissions, expires_at, revoked_at, created_at, created_by`

func scanAPIKey(row scanner) (*APIKey, error) {
	var key APIKey
	var permissionsJSON string
	var expiresAt, revokedAt sql.NullTime
	var createdBy sql.NullInt64

	err := row.Scan(
		&key.ID,
		&key.OrganizationID,
		&key.Name,
		&key.Prefix,
		&key.KeyHash,
		&permissionsJSON,
		&expiresAt,
		&revokedAt,
		&key.CreatedAt,
		&createdBy,
	)
	if err != nil {
		return nil, err
	}

	key.Permissions, err = unmarshalKeys(permissionsJSON)
	if err != nil {
		return nil, err
	}
	key.ExpiresAt = timePtr(expiresAt)
	key.RevokedAt = timePtr(revokedAt)
	key.CreatedBy = int64Ptr(createdBy)
	return &key, nil
}

// GetAPIKeyByHash looks up an API key by the hash of its secret
func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	key, err := scanAPIKey(s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash,
	))
	if err == sql.ErrNoRows {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return key, nil
}

// ListAPIKeys returns the organization's API keys, revoked ones included
func (s *Store) ListAPIKeys(ctx context.Context, orgID int64) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE organization_id = $1 ORDER BY id`, orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := []APIKey{}
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, *key)
	}
	return keys, rows.Err()
}

// RevokeAPIKey marks an API key revoked
func (s *Store) RevokeAPIKey(ctx context.Context, orgID, keyID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = $1 WHERE organization_id = $2 AND id = $3 AND revoked_at IS NULL`,
		s.timestamp(), orgID, keyID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// CurrentVersion returns the organization's permission version
func (s *Store) CurrentVersion(ctx context.Context, orgID int64) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT permission_version FROM organizations WHERE id = $1`, orgID,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, ErrOrganizationNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read permission version: %w", err)
	}
	return version, nil
}

// IncrementVersion bumps the organization's permission version and returns the new value
func (s *Store) IncrementVersion(ctx context.Context, orgID int64) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE organizations SET permission_version = permission_version + 1 WHERE id = $1 RETURNING permission_version`,
		orgID,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, ErrOrganizationNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment permission version: %w", err)
	}
	return version, nil
}
