package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/crewform/pkg/audit"
	"github.com/platinummonkey/crewform/pkg/middleware"
	"github.com/platinummonkey/crewform/pkg/observability"
	"github.com/platinummonkey/crewform/pkg/permissions"
	"github.com/platinummonkey/crewform/pkg/rbac"
)

// Store is the read side of authorization data used by the handlers. Writes
// that change permissions go through the rbac.Coordinator.
type Store interface {
	ListRoles(ctx context.Context, orgID int64) ([]rbac.Role, error)
	GetRole(ctx context.Context, orgID int64, key string) (*rbac.Role, error)
	GetTeamMemberByID(ctx context.Context, orgID, memberID int64) (*rbac.TeamMember, error)
	ListTeamMembers(ctx context.Context, orgID int64) ([]rbac.TeamMember, error)
	ListGrants(ctx context.Context, orgID int64) ([]rbac.TemporaryGrant, error)
	ListAPIKeys(ctx context.Context, orgID int64) ([]rbac.APIKey, error)
	CreateAPIKey(ctx context.Context, key *rbac.APIKey) (string, error)
}

var _ Store = (*rbac.Store)(nil)

// Server represents our API server
type Server struct {
	router      *mux.Router
	store       Store
	resolver    middleware.OrgContextResolver
	coordinator *rbac.Coordinator
	guard       *middleware.Guard
	limiter     middleware.Limiter
	catalog     *permissions.Catalog
	audit       audit.Logger
	metrics     *observability.Metrics
}

// Option configures optional server collaborators
type Option func(*Server)

// WithGuard sets the guard used for permission checks
func WithGuard(guard *middleware.Guard) Option {
	return func(s *Server) { s.guard = guard }
}

// WithRateLimiter limits mutating routes per principal
func WithRateLimiter(limiter middleware.Limiter) Option {
	return func(s *Server) { s.limiter = limiter }
}

// WithCatalog overrides the permission catalog
func WithCatalog(catalog *permissions.Catalog) Option {
	return func(s *Server) { s.catalog = catalog }
}

// WithAuditLogger records API key creation
func WithAuditLogger(logger audit.Logger) Option {
	return func(s *Server) { s.audit = logger }
}

// WithMetrics records request metrics labelled by route template
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Server) { s.metrics = metrics }
}

// NewServer creates a new API server
func NewServer(store Store, resolver middleware.OrgContextResolver, coordinator *rbac.Coordinator, opts ...Option) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		store:       store,
		resolver:    resolver,
		coordinator: coordinator,
		catalog:     permissions.Default(),
		audit:       audit.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.guard == nil {
		s.guard = middleware.NewGuard(rbac.NewAuthorizer(s.catalog), s.metrics, s.audit)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics, RouteName))
	}
	s.router.Use(middleware.Authenticate)

	org := s.router.PathPrefix("/orgs/{org_id}").Subrouter()
	org.Use(middleware.ResolveOrgContext(s.resolver))

	// Catalog and self inspection, open to every member and key of the tenant
	org.HandleFunc("/permissions/catalog", s.getCatalog).Methods("GET")
	org.Handle("/permissions/preview", s.write(http.HandlerFunc(s.previewPermissions))).Methods("POST")
	org.HandleFunc("/me/permissions", s.getMyPermissions).Methods("GET")

	// Roles
	org.Handle("/roles", s.read(permissions.ViewRoles, s.listRoles)).Methods("GET")
	org.Handle("/roles", s.mutate(permissions.ManageRoles, s.createRole)).Methods("POST")
	org.Handle("/roles/{role_key}", s.mutate(permissions.ManageRoles, s.updateRole)).Methods("PUT")
	org.Handle("/roles/{role_key}", s.mutate(permissions.ManageRoles, s.deleteRole)).Methods("DELETE")

	// Members
	org.Handle("/members", s.read(permissions.ViewTeam, s.listMembers)).Methods("GET")
	org.Handle("/members/{member_id}/role", s.mutate(permissions.ManageTeam, s.assignMemberRole)).Methods("PUT")

	// Temporary grants
	org.Handle("/grants", s.read(permissions.ViewTeam, s.listGrants)).Methods("GET")
	org.Handle("/grants", s.mutate(permissions.ManageTeam, s.createGrant)).Methods("POST")
	org.Handle("/grants/{grant_id}", s.mutate(permissions.ManageTeam, s.deleteGrant)).Methods("DELETE")

	// API keys
	org.Handle("/api-keys", s.read(permissions.ManageAPIKeys, s.listAPIKeys)).Methods("GET")
	org.Handle("/api-keys", s.mutate(permissions.ManageAPIKeys, s.createAPIKey)).Methods("POST")
	org.Handle("/api-keys/{key_id}", s.mutate(permissions.ManageAPIKeys, s.revokeAPIKey)).Methods("DELETE")
}

func (s *Server) read(key permissions.Key, h http.HandlerFunc) http.Handler {
	return s.guard.Require(key)(h)
}

func (s *Server) mutate(key permissions.Key, h http.HandlerFunc) http.Handler {
	return s.write(s.guard.Require(key)(h))
}

func (s *Server) write(h http.Handler) http.Handler {
	if s.limiter == nil {
		return h
	}
	return middleware.RateLimit(s.limiter)(h)
}

// Router returns the server's router
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RouteName returns the route template of r for metric labels
func RouteName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// actorID returns the user behind the request, or nil for API key contexts
func actorID(orgCtx *rbac.OrgContext) *int64 {
	if orgCtx == nil || orgCtx.IsAPIKeyContext || orgCtx.TeamMember == nil {
		return nil
	}
	id := orgCtx.TeamMember.UserID
	return &id
}

func logger(r *http.Request) *observability.Logger {
	return observability.FromContext(r.Context())
}
