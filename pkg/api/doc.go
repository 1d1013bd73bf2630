// Package api provides the HTTP API of the authorization engine.
//
// # Overview
//
// Every route lives under /orgs/{org_id}. Requests are authenticated, the
// caller's org context is resolved through the org context cache and then the
// route's permission is checked by a middleware.Guard. Handlers never build
// org contexts themselves.
//
//	server := api.NewServer(store, cache, coordinator,
//		api.WithAuditLogger(auditLogger),
//		api.WithMetrics(metrics),
//		api.WithRateLimiter(limiter),
//	)
//	http.ListenAndServe(":8080", server)
//
// # API Endpoints
//
// Catalog and self inspection (any member or API key of the organization):
//
//	GET    /orgs/{org_id}/permissions/catalog
//	POST   /orgs/{org_id}/permissions/preview
//	GET    /orgs/{org_id}/me/permissions
//
// Roles (view_roles to read, manage_roles to write):
//
//	GET    /orgs/{org_id}/roles
//	POST   /orgs/{org_id}/roles
//	PUT    /orgs/{org_id}/roles/{role_key}
//	DELETE /orgs/{org_id}/roles/{role_key}
//
// Members and temporary grants (view_team to read, manage_team to write):
//
//	GET    /orgs/{org_id}/members
//	PUT    /orgs/{org_id}/members/{member_id}/role
//	GET    /orgs/{org_id}/grants
//	POST   /orgs/{org_id}/grants
//	DELETE /orgs/{org_id}/grants/{grant_id}
//
// API keys (manage_api_keys):
//
//	GET    /orgs/{org_id}/api-keys
//	POST   /orgs/{org_id}/api-keys
//	DELETE /orgs/{org_id}/api-keys/{key_id}
//
// Writes go through rbac.Coordinator, so the response of every mutation carries
// the organization's new permission_version.
//
// # Errors
//
// Errors are JSON {"error": "..."}. Missing permissions are 403; principals
// that do not belong to the organization are 403; an unavailable store is 503;
// deleting the admin role is 403; unknown roles, members, grants and keys are
// 404; duplicate role keys are 409.
package api
