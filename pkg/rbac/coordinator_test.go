package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/crewform/pkg/audit"
	"github.com/platinummonkey/crewform/pkg/observability"
	"github.com/platinummonkey/crewform/pkg/permissions"
)

// callLog records the order of calls across the store, cache and version counter
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeRoleStore struct {
	log     *callLog
	roles   map[string]*Role
	members map[int64]*TeamMember
	grants  map[int64]*TemporaryGrant
	nextID  int64
	failOn  string
}

func newFakeRoleStore(log *callLog) *fakeRoleStore {
	return &fakeRoleStore{
		log: log,
		roles: map[string]*Role{
			AdminRoleKey: {Key: AdminRoleKey, Name: "Admin", IsSystem: true, IsAdmin: true},
			"editor":     {Key: "editor", Name: "Editor", Permissions: []permissions.Key{"manage_forms"}},
		},
		members: map[int64]*TeamMember{
			5: {ID: 5, UserID: 50, RoleKey: "editor"},
		},
		grants: map[int64]*TemporaryGrant{},
	}
}

func (s *fakeRoleStore) call(name string) error {
	s.log.add("store." + name)
	if s.failOn == name {
		return errors.New("store failure")
	}
	return nil
}

func (s *fakeRoleStore) GetRole(ctx context.Context, orgID int64, key string) (*Role, error) {
	if err := s.call("GetRole"); err != nil {
		return nil, err
	}
	r, ok := s.roles[key]
	if !ok {
		return nil, ErrRoleNotFound
	}
	c := r.Clone()
	c.OrganizationID = orgID
	return c, nil
}

func (s *fakeRoleStore) CreateRole(ctx context.Context, role *Role) error {
	if err := s.call("CreateRole"); err != nil {
		return err
	}
	if _, ok := s.roles[role.Key]; ok {
		return ErrRoleExists
	}
	s.nextID++
	role.ID = s.nextID
	s.roles[role.Key] = role.Clone()
	return nil
}

func (s *fakeRoleStore) UpdateRole(ctx context.Context, role *Role) error {
	if err := s.call("UpdateRole"); err != nil {
		return err
	}
	s.roles[role.Key] = role.Clone()
	return nil
}

func (s *fakeRoleStore) DeleteRole(ctx context.Context, orgID int64, key string) error {
	if err := s.call("DeleteRole"); err != nil {
		return err
	}
	delete(s.roles, key)
	return nil
}

func (s *fakeRoleStore) GetTeamMemberByID(ctx context.Context, orgID, memberID int64) (*TeamMember, error) {
	if err := s.call("GetTeamMemberByID"); err != nil {
		return nil, err
	}
	m, ok := s.members[memberID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	c := *m
	return &c, nil
}

func (s *fakeRoleStore) UpdateMemberRole(ctx context.Context, orgID, memberID int64, roleKey string) error {
	if err := s.call("UpdateMemberRole"); err != nil {
		return err
	}
	s.members[memberID].RoleKey = roleKey
	return nil
}

func (s *fakeRoleStore) CreateGrant(ctx context.Context, grant *TemporaryGrant) error {
	if err := s.call("CreateGrant"); err != nil {
		return err
	}
	s.nextID++
	grant.ID = s.nextID
	c := *grant
	s.grants[grant.ID] = &c
	return nil
}

func (s *fakeRoleStore) GetGrant(ctx context.Context, orgID, grantID int64) (*TemporaryGrant, error) {
	if err := s.call("GetGrant"); err != nil {
		return nil, err
	}
	g, ok := s.grants[grantID]
	if !ok {
		return nil, ErrGrantNotFound
	}
	c := *g
	return &c, nil
}

func (s *fakeRoleStore) DeleteGrant(ctx context.Context, orgID, grantID int64) error {
	if err := s.call("DeleteGrant"); err != nil {
		return err
	}
	delete(s.grants, grantID)
	return nil
}

func (s *fakeRoleStore) RevokeAPIKey(ctx context.Context, orgID, keyID int64) error {
	return s.call("RevokeAPIKey")
}

type fakeInvalidator struct {
	log  *callLog
	orgs []int64
}

func (f *fakeInvalidator) Invalidate(orgID int64) {
	f.log.add("cache.Invalidate")
	f.orgs = append(f.orgs, orgID)
}

type fakeVersions struct {
	log      *callLog
	versions map[int64]int64
	fail     bool
}

func (f *fakeVersions) CurrentVersion(ctx context.Context, orgID int64) (int64, error) {
	return f.versions[orgID], nil
}

func (f *fakeVersions) IncrementVersion(ctx context.Context, orgID int64) (int64, error) {
	f.log.add("versions.Increment")
	if f.fail {
		return 0, errors.New("redis unavailable")
	}
	f.versions[orgID]++
	return f.versions[orgID], nil
}

type recordingAudit struct {
	events []*audit.AuditEvent
}

func (r *recordingAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAudit) LogAuthorization(ctx context.Context, eventType audit.EventType, userID *int64, resourceType audit.ResourceType, resourceID string, status audit.EventStatus, message string) error {
	return r.Log(ctx, &audit.AuditEvent{EventType: eventType, UserID: userID, ResourceType: resourceType, ResourceID: resourceID, Status: status})
}

func (r *recordingAudit) LogDataMutation(ctx context.Context, eventType audit.EventType, userID *int64, resourceType audit.ResourceType, resourceID string, changes *audit.ChangeDetails, message string) error {
	return r.Log(ctx, &audit.AuditEvent{EventType: eventType, UserID: userID, ResourceType: resourceType, ResourceID: resourceID, Changes: changes})
}

func (r *recordingAudit) Close() error { return nil }

type coordinatorFixture struct {
	log         *callLog
	store       *fakeRoleStore
	invalidator *fakeInvalidator
	versions    *fakeVersions
	audit       *recordingAudit
	metrics     *observability.Metrics
	coordinator *Coordinator
}

func newCoordinatorFixture() *coordinatorFixture {
	log := &callLog{}
	f := &coordinatorFixture{
		log:         log,
		store:       newFakeRoleStore(log),
		invalidator: &fakeInvalidator{log: log},
		versions:    &fakeVersions{log: log, versions: map[int64]int64{}},
		audit:       &recordingAudit{},
		metrics:     observability.NewMetrics(prometheus.NewRegistry()),
	}
	f.coordinator = NewCoordinator(f.store, f.invalidator, f.versions,
		WithAuditLogger(f.audit),
		WithMetrics(f.metrics),
		WithLogger(observability.NopLogger()),
	)
	return f
}

func TestCoordinator_DeleteAdminRoleRejectedBeforePersistence(t *testing.T) {
	f := newCoordinatorFixture()

	_, err := f.coordinator.ApplyRoleChange(context.Background(), 1, RoleMutation{
		Operation: MutationDelete,
		RoleKey:   AdminRoleKey,
	})

	assert.ErrorIs(t, err, ErrAdminRoleProtected)
	assert.Empty(t, f.log.all(), "no store, cache or version call may happen")
	assert.Empty(t, f.audit.events)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RoleMutationsTotal.WithLabelValues("role_delete", "error")))
}

func TestCoordinator_DeleteAdminRoleByRoleField(t *testing.T) {
	f := newCoordinatorFixture()

	_, err := f.coordinator.ApplyRoleChange(context.Background(), 1, RoleMutation{
		Operation: MutationDelete,
		Role:      &Role{Key: AdminRoleKey},
	})

	assert.ErrorIs(t, err, ErrAdminRoleProtected)
	assert.Empty(t, f.log.all())
}

func TestCoordinator_UpdateOrdersPersistInvalidateBump(t *testing.T) {
	f := newCoordinatorFixture()
	actor := int64(9)

	change, err := f.coordinator.ApplyRoleChange(context.Background(), 1, RoleMutation{
		Operation: MutationUpdate,
		RoleKey:   "editor",
		Role:      &Role{Name: "Editor", Permissions: []permissions.Key{"manage_forms", "export_data", "manage_forms"}},
		ActorID:   &actor,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"store.GetRole", "store.UpdateRole", "cache.Invalidate", "versions.Increment"}, f.log.all())
	assert.Equal(t, []int64{1}, f.invalidator.orgs)
	assert.Equal(t, int64(1), change.Version)
	assert.Equal(t, []permissions.Key{"export_data", "manage_forms"}, change.After.Permissions)
	assert.Equal(t, []permissions.Key{"manage_forms"}, change.Before.Permissions)
	assert.NotEmpty(t, change.Warnings)
}

func TestCoordinator_AuditReceivesSnapshots(t *testing.T) {
	f := newCoordinatorFixture()
	actor := int64(9)

	_, err := f.coordinator.ApplyRoleChange(context.Background(), 1, RoleMutation{
		Operation: MutationUpdate,
		RoleKey:   "editor",
		Role:      &Role{Name: "Editor", Permissions: []permissions.Key{"view_forms"}},
		ActorID:   &actor,
	})
	require.NoError(t, err)

	require.Len(t, f.audit.events, 1)
	ev := f.audit.events[0]
	assert.Equal(t, audit.EventTypeRoleUpdate, ev.EventType)
	assert.Equal(t, audit.ResourceTypeRole, ev.ResourceType)
	assert.Equal(t, "editor", ev.ResourceID)
	assert.Equal(t, &actor, ev.UserID)
	require.NotNil(t, ev.Changes)
	assert.Equal(t, []string{"manage_forms"}, ev.Changes.Before["permissions"])
	assert.Equal(t, []string{"view_forms"}, ev.Changes.After["permissions"])
}

func TestCoordinator_CreateRole(t *testing.T) {
	f := newCoordinatorFixture()

	change, err := f.coordinator.ApplyRoleChange(context.Background(), 3, RoleMutation{
		Operation: MutationCreate,
		Role:      &Role{Key: " recruiter ", Name: "Recruiter", IsAdmin: true, Permissions: []permissions.Key{"review_applications", ""}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"store.CreateRole", "cache.Invalidate", "versions.Increment"}, f.log.all())
	assert.Nil(t, change.Before)
	assert.Equal(t, "recruiter", change.After.Key)
	assert.Equal(t, int64(3), change.After.OrganizationID)
	assert.False(t, change.After.IsAdmin, "custom roles never become admin")
	assert.Equal(t, []permissions.Key{"review_applications"}, change.After.Permissions)

	require.Len(t, change.Warnings, 2)
	assert.Equal(t, permissions.Key("view_applications"), change.Warnings[0].Permission)
	assert.Equal(t, permissions.Key("view_positions"), change.Warnings[1].Permission)
}

func TestCoordinator_CreateRoleValidation(t *testing.T) {
	f := newCoordinatorFixture()
	ctx := context.Background()

	_, err := f.coordinator.ApplyRoleChange(ctx, 1, RoleMutation{Operation: MutationCreate})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = f.coordinator.ApplyRoleChange(ctx, 1, RoleMutation{Operation: MutationCreate, Role: &Role{Key: "x"}})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = f.coordinator.ApplyRoleChange(ctx, 1, RoleMutation{Operation: "rename"})
	assert.ErrorIs(t, err, ErrInvalidRole)

	assert.Empty(t, f.log.all())
}

func TestCoordinator_CreateExistingRole(t *testing.T) {
	f := newCoordinatorFixture()

	_, err := f.coordinator.ApplyRoleChange(context.Background(), 1, RoleMutation{
		Operation: MutationCreate,
		Role:      &Role{Key: "editor", Name: "Editor"},
	})

	assert.ErrorIs(t, err, ErrRoleExists)
	assert.Equal(t, []string{"store.CreateRole"}, f.log.all(), "failed writes neither invalidate nor bump")
}

func TestCoordinator_DeleteRole(t *testing.T) {
	f := newCoordinatorFixture()

	change, err := f.coordinator.ApplyRoleChange(context.Background(), 1, RoleMutation{
		Operation: MutationDelete,
		RoleKey:   "editor",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"store.GetRole", "store.DeleteRole", "cache.Invalidate", "versions.Increment"}, f.log.all())
	assert.Equal(t, "editor", change.Before.Key)
	assert.Nil(t, change.After)
	require.Len(t, f.audit.events, 1)
	assert.Nil(t, f.audit.events[0].Changes.After)
}

func TestCoordinator_DeleteUnknownRole(t *testing.T) {
	f := newCoordinatorFixture()

	_, err := f.coordinator.ApplyRoleChange(context.Background(), 1, RoleMutation{
		Operation: MutationDelete,
		RoleKey:   "ghost",
	})
	assert.ErrorIs(t, err, ErrRoleNotFound)
	assert.Equal(t, []string{"store.GetRole"}, f.log.all())
}

func TestCoordinator_VersionBumpFailureIsReported(t *testing.T) {
	f := newCoordinatorFixture()
	f.versions.fail = true

	_, err := f.coordinator.ApplyRoleChange(context.Background(), 1, RoleMutation{
		Operation: MutationUpdate,
		RoleKey:   "editor",
		Role:      &Role{Name: "Editor"},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission version")
	assert.Equal(t, []string{"store.GetRole", "store.UpdateRole", "cache.Invalidate", "versions.Increment"}, f.log.all())
	assert.Empty(t, f.audit.events)
}

func TestCoordinator_PersistFailureSkipsPropagation(t *testing.T) {
	f := newCoordinatorFixture()
	f.store.failOn = "UpdateRole"

	_, err := f.coordinator.ApplyRoleChange(context.Background(), 1, RoleMutation{
		Operation: MutationUpdate,
		RoleKey:   "editor",
		Role:      &Role{Name: "Editor"},
	})

	require.Error(t, err)
	assert.Equal(t, []string{"store.GetRole", "store.UpdateRole"}, f.log.all())
}

func TestCoordinator_AssignMemberRole(t *testing.T) {
	f := newCoordinatorFixture()

	change, err := f.coordinator.AssignMemberRole(context.Background(), 1, 5, AdminRoleKey, nil)
	require.NoError(t, err)

	assert.Equal(t, "editor", change.Before.RoleKey)
	assert.Equal(t, AdminRoleKey, change.After.RoleKey)
	assert.Equal(t, int64(1), change.Version)
	assert.Equal(t, []string{
		"store.GetRole", "store.GetTeamMemberByID", "store.UpdateMemberRole",
		"cache.Invalidate", "versions.Increment",
	}, f.log.all())
	require.Len(t, f.audit.events, 1)
	assert.Equal(t, audit.EventTypeMemberRoleChange, f.audit.events[0].EventType)
}

func TestCoordinator_AssignUnknownRole(t *testing.T) {
	f := newCoordinatorFixture()

	_, err := f.coordinator.AssignMemberRole(context.Background(), 1, 5, "ghost", nil)
	assert.ErrorIs(t, err, ErrRoleNotFound)
	assert.Equal(t, []string{"store.GetRole"}, f.log.all())
}

func TestCoordinator_TemporaryGrants(t *testing.T) {
	f := newCoordinatorFixture()
	ctx := context.Background()
	granter := int64(2)

	grant := &TemporaryGrant{
		OrganizationID: 1,
		UserID:         50,
		Permissions:    []permissions.Key{"export_data", "export_data"},
		ExpiresAt:      time.Now().Add(time.Hour),
		GrantedBy:      &granter,
	}
	version, err := f.coordinator.GrantTemporaryPermissions(ctx, grant)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, []permissions.Key{"export_data"}, grant.Permissions)

	version, err = f.coordinator.DeleteTemporaryGrant(ctx, 1, grant.ID, &granter)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	assert.Equal(t, []string{
		"store.CreateGrant", "cache.Invalidate", "versions.Increment",
		"store.GetGrant", "store.DeleteGrant", "cache.Invalidate", "versions.Increment",
	}, f.log.all())
	require.Len(t, f.audit.events, 2)
	assert.Equal(t, audit.EventTypeGrantCreate, f.audit.events[0].EventType)
	assert.Equal(t, audit.EventTypeGrantDelete, f.audit.events[1].EventType)
}

func TestCoordinator_RejectsInvalidGrants(t *testing.T) {
	f := newCoordinatorFixture()
	ctx := context.Background()

	_, err := f.coordinator.GrantTemporaryPermissions(ctx, &TemporaryGrant{OrganizationID: 1, UserID: 50, ExpiresAt: time.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidGrant)

	_, err = f.coordinator.GrantTemporaryPermissions(ctx, &TemporaryGrant{
		OrganizationID: 1, UserID: 50, Permissions: []permissions.Key{"view_forms"}, ExpiresAt: time.Now().Add(-time.Second),
	})
	assert.ErrorIs(t, err, ErrInvalidGrant)

	assert.Empty(t, f.log.all())
}

func TestCoordinator_RevokeAPIKey(t *testing.T) {
	f := newCoordinatorFixture()

	_, err := f.coordinator.RevokeAPIKey(context.Background(), 1, 77, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"store.RevokeAPIKey", "cache.Invalidate", "versions.Increment"}, f.log.all())
}
