// Package orgcontext resolves and caches the per-request authorization context
// of a principal within an organization.
//
// A Cache entry is keyed by organization and principal and tagged with the
// organization's permission version read before the entry was built. Each
// Resolve reads the live version again and rebuilds the entry when the two
// differ, so role writes on any instance reach every instance on its next
// request. Invalidate drops a tenant's entries on the local instance
// immediately; rbac.Coordinator calls it after every write.
//
//	source := orgcontext.NewStoreSource(store)
//	cache := orgcontext.NewCache(source, source, versions, &orgcontext.Config{
//		Size:    10000,
//		TTL:     5 * time.Minute,
//		Metrics: metrics,
//	})
//	orgCtx, err := cache.Resolve(ctx, orgcontext.Principal{OrganizationID: orgID, UserID: userID})
//
// Resolution failures are returned as *rbac.ContextResolutionError and never
// produce an empty context.
package orgcontext
