package permissions

// Catalog keys referenced from code. The catalog test keeps this list in sync
// with catalog.yaml.
const (
	ViewOrganization   Key = "view_organization"
	ManageOrganization Key = "manage_organization"

	ViewTeam    Key = "view_team"
	ManageTeam  Key = "manage_team"
	ViewRoles   Key = "view_roles"
	ManageRoles Key = "manage_roles"

	ViewPositions      Key = "view_positions"
	ManagePositions    Key = "manage_positions"
	ViewApplications   Key = "view_applications"
	ReviewApplications Key = "review_applications"
	ManageApplications Key = "manage_applications"
	ViewMessages       Key = "view_messages"
	SendMessages       Key = "send_messages"

	ViewForms   Key = "view_forms"
	ManageForms Key = "manage_forms"

	ViewDashboard Key = "view_dashboard"
	ViewAnalytics Key = "view_analytics"
	ExportData    Key = "export_data"

	ManageAPIKeys  Key = "manage_api_keys"
	ManageWebhooks Key = "manage_webhooks"

	ViewBilling   Key = "view_billing"
	ManageBilling Key = "manage_billing"
)
