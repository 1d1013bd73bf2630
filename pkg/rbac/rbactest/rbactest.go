// Package rbactest provides SQLite-backed rbac stores for tests in other packages.
package rbactest

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/crewform/pkg/rbac"
)

// Schema mirrors the PostgreSQL migrations in SQLite syntax
const Schema = `
		CREATE TABLE organizations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			permission_version INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE org_roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			role_key TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			permissions TEXT NOT NULL DEFAULT '[]',
			is_system BOOLEAN NOT NULL DEFAULT 0,
			is_admin BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			created_by INTEGER,
			UNIQUE(organization_id, role_key)
		);

		CREATE TABLE team_members (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			role_key TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			joined_at TIMESTAMP NOT NULL,
			UNIQUE(organization_id, user_id)
		);

		CREATE TABLE temporary_grants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			permissions TEXT NOT NULL DEFAULT '[]',
			expires_at TIMESTAMP NOT NULL,
			granted_by INTEGER,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE api_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			prefix TEXT NOT NULL,
			key_hash TEXT NOT NULL UNIQUE,
			permissions TEXT NOT NULL DEFAULT '[]',
			expires_at TIMESTAMP,
			revoked_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			created_by INTEGER
		);
	`

// NewDB opens an in-memory SQLite database with Schema applied. It is closed
// when the test finishes.
func NewDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(Schema)
	require.NoError(t, err)
	return db
}

// NewStore returns a store on a fresh database together with one organization
func NewStore(t testing.TB) (*rbac.Store, *rbac.Organization) {
	t.Helper()

	store := rbac.NewStore(NewDB(t))
	org := &rbac.Organization{Name: "Acme Hiring", Slug: "acme"}
	require.NoError(t, store.CreateOrganization(context.Background(), org))
	return store, org
}

// AddMember adds userID to org with roleKey
func AddMember(t testing.TB, store *rbac.Store, orgID, userID int64, roleKey string) *rbac.TeamMember {
	t.Helper()

	member := &rbac.TeamMember{OrganizationID: orgID, UserID: userID, RoleKey: roleKey}
	require.NoError(t, store.AddTeamMember(context.Background(), member))
	return member
}
