// Package cache provides a generic, embeddable in-process cache whose
// behaviour is composed from independent policies bound to one hashtable.
//
// Design
//
//   - Storage: a bucket-chained hashtable over an entry arena. Lookup and
//     insert are amortized O(1); the bucket array doubles past a 3/4 load.
//
//   - Policies: every cross-cutting behaviour is a policy (package policy
//     and its subpackages). Each policy sees every lifecycle event (insert,
//     access, update, erase, eviction check, sweep) and keeps its own
//     ordering state keyed by entry ref. Policies are consulted in the order
//     of Options.Policies.
//
//   - Capacity: maxsize (FIFO, or LRU with maxsize.AccessOrder / lru.New)
//     or twoq (scan resistant). Pinned entries are skipped, so the entry
//     count may exceed the bound while every other entry is held.
//
//   - Expiry: expireat (deadline taken from the value), maxage (fixed age)
//     and negcache (failures). Expired entries read as misses and are
//     reclaimed on later inserts, by Sweep, or by the optional janitor
//     (Options.SweepInterval).
//
//   - Refresh: policy/refresh asks for an in-place re-resolution once an
//     entry reaches a given age. A failed refresh keeps the old value.
//
//   - Resolution: Get resolves misses through Options.Resolver on the
//     calling goroutine. Failures are *resolver.Failure values; a negative
//     cache policy stores them and Get re-raises the identical error until
//     the failure entry expires.
//
//   - Concurrency: LockCoarse (default) serializes everything, resolution
//     included. LockPerKey resolves outside the mutex with at most one
//     resolution in flight per key. LockNone leaves serialization to the
//     caller.
//
//   - Ownership: Acquire returns a counted Handle (requires policy/shared).
//     Values implementing SelfBinder get a Backref, a weak reference to the
//     cache plus their key, which never counts as a holder.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size/Resolve
//     signals. By default NoopMetrics is used; metrics/prom exports them
//     to Prometheus.
//
//   - Callbacks: Options.OnEvict(k, v, err, reason) is called for every
//     non-explicit removal.
//
// Basic usage
//
//	c, err := cache.New(cache.Options[string, []byte]{
//	    Policies: []policy.Policy[string, []byte]{
//	        maxage.New[string, []byte](time.Minute),
//	        maxsize.New[string, []byte](10_000),
//	    },
//	    Resolver: func(ctx context.Context, k string) ([]byte, error) {
//	        return fetch(ctx, k) // e.g. from a database
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	v, err := c.Get(ctx, "a")
//
// Caching failures
//
//	c := cache.MustNew(cache.Options[uint32, uint64]{
//	    Policies: []policy.Policy[uint32, uint64]{
//	        negcache.New[uint32, uint64](10 * time.Second),
//	    },
//	    Resolver: fibonacci,
//	})
//	_, err := c.Get(ctx, 94) // *resolver.Failure{Kind: resolver.KindRange}
//	_, err2 := c.Get(ctx, 94) // same error, resolver not called
//
// Shared ownership
//
//	c := cache.MustNew(cache.Options[string, *Session]{
//	    Policies: []policy.Policy[string, *Session]{
//	        shared.New[string, *Session](),
//	        maxsize.New[string, *Session](1024),
//	    },
//	    Resolver: openSession,
//	})
//	h, err := c.Acquire(ctx, "user-1")
//	defer h.Release() // the entry is erased when the last handle goes
//
// See package config for building Options from a YAML file with the
// policies in canonical order.
package cache
