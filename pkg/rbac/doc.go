// Package rbac decides what a principal may do inside an organization.
//
// # Overview
//
// Every organization owns a set of roles. A role is a named list of permission
// keys from the catalog in package permissions. Team members point at exactly
// one role by key. Temporary grants add permissions to a single user until they
// expire. API keys carry their own permission list and never inherit roles.
//
// Two roles are seeded for every organization:
//
//	admin-role  - receives every catalog permission, cannot be deleted
//	member      - read access to the organization, team, positions and dashboard
//
// # Checking permissions
//
// Checks run against an OrgContext, the per-request snapshot of the caller,
// their organization and its roles:
//
//	if !rbac.HasPermission(orgCtx, "manage_forms") {
//		return rbac.RequirePermission(orgCtx, "manage_forms")
//	}
//
// The effective permission set is built once per check:
//
//  1. API key contexts use the key's permissions.
//  2. Members holding admin-role get the whole catalog.
//  3. Everyone else gets their role's permissions plus active temporary grants.
//
// The result is then expanded through the implication graph, so a role that
// holds manage_applications also satisfies checks for review_applications,
// view_applications and view_positions. A member whose role key no longer
// exists keeps only their grants.
//
// An Authorizer can be created with a custom catalog or clock:
//
//	authz := rbac.NewAuthorizer(catalog).WithClock(func() time.Time { return fixed })
//
// # Writes
//
// All writes to roles, member assignments, temporary grants and API keys go
// through a Coordinator. It persists the change, drops the tenant's cached org
// contexts on this instance, then bumps the tenant's permission version so other
// instances rebuild their contexts on the next request:
//
//	coordinator := rbac.NewCoordinator(store, cache, versions,
//		rbac.WithAuditLogger(auditLogger),
//		rbac.WithMetrics(metrics),
//	)
//	change, err := coordinator.ApplyRoleChange(ctx, orgID, rbac.RoleMutation{
//		Operation: rbac.MutationUpdate,
//		RoleKey:   "recruiter",
//		Role:      &rbac.Role{Name: "Recruiter", Permissions: keys},
//	})
//
// Deleting admin-role returns ErrAdminRoleProtected without touching storage.
//
// # Storage
//
// Store persists organizations, roles, members, grants and API keys in
// PostgreSQL. Apply the schema with RunMigrations. Permission versions live in
// the organizations table by default; RedisVersionCounter keeps them in Redis
// when several instances share a cache of org contexts.
package rbac
