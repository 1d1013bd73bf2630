//go:build integration

package rbac

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/crewform/pkg/permissions"
)

// setupPostgres starts a PostgreSQL container and applies the migrations
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("crewform_test"),
		postgres.WithUsername("crewform"),
		postgres.WithPassword("crewform_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	require.NoError(t, RunMigrations(ctx, db, nil))

	t.Cleanup(func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	return db
}

func TestPostgresStore(t *testing.T) {
	db := setupPostgres(t)
	store := NewStore(db)
	ctx := context.Background()

	// migrations are idempotent
	require.NoError(t, RunMigrations(ctx, db, nil))

	org := &Organization{Name: "Acme", Slug: "acme"}
	require.NoError(t, store.CreateOrganization(ctx, org))

	t.Run("role lifecycle", func(t *testing.T) {
		role := &Role{OrganizationID: org.ID, Key: "editor", Name: "Editor", Permissions: []permissions.Key{"manage_forms"}}
		require.NoError(t, store.CreateRole(ctx, role))

		got, err := store.GetRole(ctx, org.ID, "editor")
		require.NoError(t, err)
		assert.Equal(t, []permissions.Key{"manage_forms"}, got.Permissions)

		got.Permissions = []permissions.Key{"manage_forms", "export_data"}
		require.NoError(t, store.UpdateRole(ctx, got))

		roles, err := store.ListRoles(ctx, org.ID)
		require.NoError(t, err)
		assert.Len(t, roles, 3)

		require.NoError(t, store.DeleteRole(ctx, org.ID, "editor"))
		_, err = store.GetRole(ctx, org.ID, "editor")
		assert.ErrorIs(t, err, ErrRoleNotFound)
	})

	t.Run("grants and organization load", func(t *testing.T) {
		member := &TeamMember{OrganizationID: org.ID, UserID: 42, Email: "dana@example.com"}
		require.NoError(t, store.AddTeamMember(ctx, member))

		grant := &TemporaryGrant{
			OrganizationID: org.ID,
			UserID:         42,
			Permissions:    []permissions.Key{"export_data"},
			ExpiresAt:      time.Now().Add(time.Hour),
		}
		require.NoError(t, store.CreateGrant(ctx, grant))

		loaded, err := store.GetOrganization(ctx, org.ID)
		require.NoError(t, err)
		assert.NotNil(t, loaded.FindRole(AdminRoleKey))
		assert.Len(t, loaded.GrantsFor(42), 1)

		removed, err := store.DeleteExpiredGrants(ctx, time.Now().Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)
	})

	t.Run("permission version", func(t *testing.T) {
		before, err := store.CurrentVersion(ctx, org.ID)
		require.NoError(t, err)

		after, err := store.IncrementVersion(ctx, org.ID)
		require.NoError(t, err)
		assert.Equal(t, before+1, after)
	})

	t.Run("api keys", func(t *testing.T) {
		key := &APIKey{OrganizationID: org.ID, Name: "ci", Permissions: []permissions.Key{"view_applications"}}
		secret, err := store.CreateAPIKey(ctx, key)
		require.NoError(t, err)

		got, err := store.GetAPIKeyByHash(ctx, HashAPIKey(secret))
		require.NoError(t, err)
		assert.Equal(t, key.ID, got.ID)
		assert.True(t, got.UsableAt(time.Now()))

		require.NoError(t, store.RevokeAPIKey(ctx, org.ID, key.ID))
		got, err = store.GetAPIKeyByHash(ctx, HashAPIKey(secret))
		require.NoError(t, err)
		assert.False(t, got.UsableAt(time.Now()))
	})
}
