// Package httputil provides JSON response writers, request parsing helpers and
// small HTTP middleware shared by the API handlers.
//
// Errors that carry their own status, such as rbac.AuthorizationError, are
// written with WriteStatusError:
//
//	if err := rbac.RequirePermission(orgCtx, "manage_roles"); err != nil {
//		httputil.WriteStatusError(w, err) // 403 {"error": "forbidden: missing permission ..."}
//		return
//	}
//
// Path parameters are read from gorilla/mux route variables:
//
//	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
//	if !ok {
//		return // 400 already written
//	}
package httputil
