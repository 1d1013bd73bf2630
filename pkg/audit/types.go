package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Role events
	EventTypeRoleCreate EventType = "role.create"
	EventTypeRoleUpdate EventType = "role.update"
	EventTypeRoleDelete EventType = "role.delete"

	// Membership and grant events
	EventTypeMemberRoleChange EventType = "member.role_change"
	EventTypeGrantCreate      EventType = "grant.create"
	EventTypeGrantDelete      EventType = "grant.delete"

	// API key events
	EventTypeAPIKeyCreate EventType = "api_key.create"
	EventTypeAPIKeyRevoke EventType = "api_key.revoke"

	// Authorization events
	EventTypeAccessDenied EventType = "authz.access_denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeRole         ResourceType = "role"
	ResourceTypeTeamMember   ResourceType = "team_member"
	ResourceTypeGrant        ResourceType = "temporary_grant"
	ResourceTypeAPIKey       ResourceType = "api_key"
	ResourceTypeOrganization ResourceType = "organization"
	ResourceTypePermission   ResourceType = "permission"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	UserID         *int64 `json:"user_id,omitempty"`
	OrganizationID *int64 `json:"organization_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID string `json:"request_id,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}
