// Package audit records who changed authorization data and what it looked like
// before and after the change.
//
// # Overview
//
// Role edits, member role reassignments, temporary grants and API key revocations
// are all recorded as data mutation events carrying a before/after snapshot:
//
//	logger.LogDataMutation(ctx, audit.EventTypeRoleUpdate, &actorID,
//		audit.ResourceTypeRole, "recruiter",
//		&audit.ChangeDetails{Before: before, After: after},
//		"role updated")
//
// Denied permission checks are recorded with LogAuthorization.
//
// # Loggers
//
// FileLogger keeps one trail per organization under BasePath/org-<id>, with
// events lacking an organization in BasePath/global. Each trail is a JSON lines
// file rotated once it would exceed MaxSize; ReadTrail returns a tenant's
// recent events. With an Archiver configured, rotated files are shipped to
// long term storage (S3Archiver uploads them to a bucket) before old ones are
// pruned. NewNoOpLogger discards every event and is the default when no audit
// directory is configured.
//
// The organization and request ids are taken from the request context
// (see pkg/contextkeys) so callers only pass what changed.
package audit
