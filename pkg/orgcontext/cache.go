package orgcontext

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/crewform/pkg/observability"
	"github.com/platinummonkey/crewform/pkg/rbac"
)

// Config configures the org context cache
type Config struct {
	// Size is the maximum number of cached contexts across all tenants
	Size int
	// TTL bounds how long a context may be served without being rebuilt,
	// independent of version checks
	TTL     time.Duration
	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// DefaultConfig returns a configuration suitable for a single API instance
func DefaultConfig() *Config {
	return &Config{
		Size: 10000,
		TTL:  5 * time.Minute,
	}
}

type entry struct {
	orgCtx       *rbac.OrgContext
	keyExpiresAt *time.Time
}

func (e *entry) expiredAt(now time.Time) bool {
	return e.keyExpiresAt != nil && !now.Before(*e.keyExpiresAt)
}

// Cache builds and caches org contexts per tenant and principal. Every lookup
// compares the cached context's version with the tenant's live permission
// version, so a write on another instance is picked up on the next request even
// though only the writing instance invalidates its own entries.
//
// Returned contexts are shared between callers and must not be modified.
type Cache struct {
	identities IdentityResolver
	loader     OrganizationLoader
	versions   VersionSource

	entries *lru.LRU[string, *entry]
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time

	// mu orders stores against invalidations. generations counts invalidations
	// per tenant, epoch counts purges.
	mu          sync.Mutex
	generations map[int64]uint64
	epoch       uint64
}

var _ rbac.CacheInvalidator = (*Cache)(nil)

// NewCache creates an org context cache
func NewCache(identities IdentityResolver, loader OrganizationLoader, versions VersionSource, config *Config) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	size := config.Size
	if size <= 0 {
		size = defaults.Size
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = defaults.TTL
	}
	logger := config.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Cache{
		identities:  identities,
		loader:      loader,
		versions:    versions,
		entries:     lru.NewLRU[string, *entry](size, nil, ttl),
		metrics:     config.Metrics,
		logger:      logger,
		now:         time.Now,
		generations: make(map[int64]uint64),
	}
}

// Resolve returns the org context for principal. A cached context is served
// only while its version equals the tenant's live permission version; otherwise
// it is rebuilt before returning. Concurrent rebuilds of the same context share
// one load. Every failure is a *rbac.ContextResolutionError.
func (c *Cache) Resolve(ctx context.Context, principal Principal) (*rbac.OrgContext, error) {
	start := time.Now()
	defer func() { c.metrics.ObserveResolve(time.Since(start)) }()

	ctx, span := observability.StartSpan(ctx, "orgcontext.Resolve",
		observability.AttrOrganizationID.Int64(principal.OrganizationID),
		observability.AttrAPIKey.Bool(principal.IsAPIKey()),
	)

	orgCtx, err := c.resolve(ctx, principal)
	if err != nil {
		reason := rbac.ReasonStoreUnavailable
		var resErr *rbac.ContextResolutionError
		if errors.As(err, &resErr) {
			reason = resErr.Reason
		}
		c.metrics.RecordResolveError(string(reason))
		observability.EndSpan(span, err, string(reason))
		return nil, err
	}

	span.SetAttributes(observability.AttrPermissionVersion.Int64(orgCtx.Version))
	observability.EndSpan(span, nil, "")
	return orgCtx, nil
}

func (c *Cache) resolve(ctx context.Context, principal Principal) (*rbac.OrgContext, error) {
	orgID := principal.OrganizationID
	if orgID <= 0 {
		return nil, resolutionError(orgID, fmt.Errorf("%w: organization id is required", ErrNoPrincipal))
	}
	if !principal.IsAPIKey() && principal.UserID == 0 {
		return nil, resolutionError(orgID, ErrNoPrincipal)
	}
	key := cacheKey(principal)

	live, err := c.versions.CurrentVersion(ctx, orgID)
	if err != nil {
		return nil, resolutionError(orgID, fmt.Errorf("read permission version: %w", err))
	}

	if cached, ok := c.entries.Get(key); ok {
		if cached.orgCtx.Version == live && !cached.expiredAt(c.now()) {
			c.metrics.RecordCacheResult(observability.CacheResultHit)
			return cached.orgCtx, nil
		}
		c.metrics.RecordCacheResult(observability.CacheResultStale)
		c.entries.Remove(key)
	} else {
		c.metrics.RecordCacheResult(observability.CacheResultMiss)
	}

	gen := c.generation(orgID)
	flightKey := key + "#" + strconv.FormatUint(gen, 10) + "#" + strconv.FormatInt(live, 10)
	results := c.group.DoChan(flightKey, func() (interface{}, error) {
		return c.load(context.WithoutCancel(ctx), principal, key, live, gen)
	})

	select {
	case <-ctx.Done():
		return nil, &rbac.ContextResolutionError{OrganizationID: orgID, Reason: rbac.ReasonStoreUnavailable, Err: ctx.Err()}
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*rbac.OrgContext), nil
	}
}

// load builds a context tagged with version, which the caller read before any
// data is loaded. A write landing during the load therefore leaves the entry
// looking stale rather than current.
func (c *Cache) load(ctx context.Context, principal Principal, key string, version int64, gen uint64) (*rbac.OrgContext, error) {
	orgID := principal.OrganizationID

	identity, err := c.identities.ResolveIdentity(ctx, principal)
	if err != nil {
		return nil, resolutionError(orgID, err)
	}

	org, err := c.loader.LoadOrganization(ctx, orgID)
	if err != nil {
		return nil, resolutionError(orgID, err)
	}

	orgCtx := &rbac.OrgContext{
		OrganizationID: orgID,
		Organization:   org,
		Version:        version,
		ResolvedAt:     c.now(),
	}

	if identity.IsAPIKeyContext {
		orgCtx.IsAPIKeyContext = true
		orgCtx.APIKeyID = identity.APIKeyID
		orgCtx.APIKeyPermissions = identity.APIKeyPermissions
	} else {
		member, err := c.loader.LoadTeamMember(ctx, orgID, identity.UserID)
		if err != nil {
			return nil, resolutionError(orgID, err)
		}
		orgCtx.TeamMember = member
	}

	c.store(orgID, gen, key, &entry{orgCtx: orgCtx, keyExpiresAt: identity.APIKeyExpiresAt})

	c.logger.WithFields(map[string]interface{}{
		"organization_id":    orgID,
		"permission_version": version,
		"api_key":            identity.IsAPIKeyContext,
	}).Debug("Org context loaded")

	return orgCtx, nil
}

// store keeps the entry unless the tenant was invalidated after the load started
func (c *Cache) store(orgID int64, gen uint64, key string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch+c.generations[orgID] != gen {
		return
	}
	c.entries.Add(key, e)
}

func (c *Cache) generation(orgID int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch + c.generations[orgID]
}

// Invalidate drops every cached context of orgID on this instance. Loads that
// were in flight when Invalidate ran are not cached.
func (c *Cache) Invalidate(orgID int64) {
	prefix := strconv.FormatInt(orgID, 10) + ":"

	c.mu.Lock()
	c.generations[orgID]++
	removed := 0
	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) && c.entries.Remove(key) {
			removed++
		}
	}
	c.mu.Unlock()

	c.metrics.RecordInvalidation()
	c.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"removed":         removed,
	}).Debug("Org context cache invalidated")
}

// Len returns the number of cached contexts
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge drops every cached context
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.entries.Purge()
}

// cacheKey is "<org>:user:<id>" or "<org>:key:<sha256>". API key secrets are
// never held in the cache.
func cacheKey(principal Principal) string {
	org := strconv.FormatInt(principal.OrganizationID, 10)
	if principal.IsAPIKey() {
		return org + ":key:" + rbac.HashAPIKey(principal.APIKey)
	}
	return org + ":user:" + strconv.FormatInt(principal.UserID, 10)
}

func resolutionError(orgID int64, err error) error {
	var resErr *rbac.ContextResolutionError
	if errors.As(err, &resErr) {
		return err
	}
	return &rbac.ContextResolutionError{OrganizationID: orgID, Reason: reasonFor(err), Err: err}
}

func reasonFor(err error) rbac.ResolutionReason {
	switch {
	case errors.Is(err, ErrNoPrincipal),
		errors.Is(err, ErrAPIKeyUnusable),
		errors.Is(err, ErrWrongOrganization),
		errors.Is(err, rbac.ErrAPIKeyNotFound):
		return rbac.ReasonIdentity
	case errors.Is(err, rbac.ErrOrganizationNotFound):
		return rbac.ReasonOrganizationNotFound
	case errors.Is(err, rbac.ErrMemberNotFound):
		return rbac.ReasonMemberNotFound
	default:
		return rbac.ReasonStoreUnavailable
	}
}
