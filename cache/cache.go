package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/IvanBrykalov/policycache/internal/hashtable"
	"github.com/IvanBrykalov/policycache/internal/singleflight"
	"github.com/IvanBrykalov/policycache/internal/util"
	"github.com/IvanBrykalov/policycache/policy"
	"github.com/IvanBrykalov/policycache/resolver"
)

// Cache is an in-memory key/value store whose behaviour is composed from
// policies bound to a single hashtable. Unless Options.Locking is LockNone,
// all methods are safe for concurrent use by multiple goroutines.
type Cache[K comparable, V any] struct {
	// ---- guarded by mu (unless LockNone) ----
	mu sync.Mutex
	t  *hashtable.Table[K, V]

	opt    Options[K, V]
	log    zerolog.Logger
	closed atomic.Bool

	// per-key coalescing (LockCoarse, LockPerKey)
	sf singleflight.Group[K, flight[V]]

	// janitor
	stop chan struct{}
	done chan struct{}

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_        util.CacheLinePad
	hits     util.PaddedAtomicUint64
	misses   util.PaddedAtomicUint64
	evicts   util.PaddedAtomicUint64
	resolves util.PaddedAtomicUint64
	failures util.PaddedAtomicUint64
}

// flight is the outcome shared with callers that joined a resolution.
type flight[V any] struct {
	v   V
	hit bool // the leader found the entry resident
}

// lookup outcome
type state uint8

const (
	stateMiss state = iota
	stateHit
	stateStale // hit, but a policy asked for a refresh
)

// New constructs a cache with the provided Options.
// Defaults:
//   - nil Metrics  -> NoopMetrics
//   - nil Logger   -> zerolog.Nop()
//   - nil Hash     -> util.Hash64 (ErrUnhashableKey if K is not supported)
func New[K comparable, V any](opt Options[K, V]) (*Cache[K, V], error) {
	if opt.Hash == nil && !util.CanHash[K]() {
		return nil, fmt.Errorf("%w: %T", ErrUnhashableKey, *new(K))
	}
	for i, p := range opt.Policies {
		if p == nil {
			return nil, fmt.Errorf("%w at position %d", ErrNoPolicy, i)
		}
	}
	if opt.Locking > LockPerKey {
		return nil, fmt.Errorf("cache: invalid locking mode %s", opt.Locking)
	}
	if opt.SweepInterval > 0 && opt.Locking == LockNone {
		return nil, errors.New("cache: SweepInterval requires a locking mode other than none")
	}
	// default Metrics
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}

	c := &Cache[K, V]{opt: opt}
	if opt.Logger != nil {
		c.log = opt.Logger.With().Str("component", "policycache").Logger()
	} else {
		c.log = zerolog.Nop()
	}

	c.t = hashtable.New(hashtable.Config[K, V]{
		Hash:     opt.Hash,
		Equal:    opt.Equal,
		OnErase:  c.onErase,
		SizeHint: opt.SizeHint,
	}, opt.Policies...)

	c.log.Debug().
		Strs("policies", c.t.Names()).
		Stringer("locking", opt.Locking).
		Bool("resolver", opt.Resolver != nil).
		Msg("cache created")

	if opt.SweepInterval > 0 {
		c.startJanitor(opt.SweepInterval)
	}
	return c, nil
}

// MustNew is New that panics on a composition error.
func MustNew[K comparable, V any](opt Options[K, V]) *Cache[K, V] {
	c, err := New(opt)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the value for k. On a miss it resolves k through
// Options.Resolver and stores the outcome. A resolver failure is returned
// as a *resolver.Failure; if a policy retains it, the identical error is
// returned by later calls until the failure entry expires.
func (c *Cache[K, V]) Get(ctx context.Context, k K) (V, error) {
	if c.closed.Load() {
		var zero V
		return zero, ErrClosed
	}
	return c.get(ctx, k)
}

func (c *Cache[K, V]) get(ctx context.Context, k K) (V, error) {
	switch c.opt.Locking {
	case LockPerKey:
		return c.getPerKey(ctx, k)
	case LockCoarse:
		return c.getCoarse(ctx, k)
	}
	v, _, err := c.getLocked(ctx, k)
	return v, err
}

// Count returns the number of resident entries.
func (c *Cache[K, V]) Count() int {
	c.lock()
	defer c.unlock()
	return c.t.Len()
}

// Erase removes k and reports whether it was present. Explicit removals are
// not counted as evictions and do not reach OnEvict.
func (c *Cache[K, V]) Erase(k K) bool {
	if c.closed.Load() {
		return false
	}
	c.lock()
	defer c.unlock()

	r := c.t.Lookup(k)
	if r == policy.Nil {
		return false
	}
	c.t.Erase(r, policy.EvictExplicit)
	c.opt.Metrics.Size(c.t.Len())
	return true
}

// Emplace stores k→v unless k is already present (and not expired). An
// entry that is due for a refresh takes v as its refreshed value. It
// reports whether v was stored.
func (c *Cache[K, V]) Emplace(k K, v V) bool {
	if c.closed.Load() {
		return false
	}
	c.bind(k, v)
	c.lock()
	defer c.unlock()

	h := c.t.Hash(k)
	_, inserted := c.t.Emplace(h, func(x K) bool { return c.equal(x, k) }, k, v, nil, c.now())
	if inserted {
		c.opt.Metrics.Size(c.t.Len())
	}
	return inserted
}

// Sweep asks every policy to reclaim due entries and returns how many
// were removed.
func (c *Cache[K, V]) Sweep() int {
	if c.closed.Load() {
		return 0
	}
	c.lock()
	defer c.unlock()

	n := c.t.Sweep(c.now())
	if n > 0 {
		c.opt.Metrics.Size(c.t.Len())
		c.log.Debug().Int("reclaimed", n).Int("entries", c.t.Len()).Msg("sweep")
	}
	return n
}

// Stats returns a snapshot of the counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evicts.Load(),
		Resolves:  c.resolves.Load(),
		Failures:  c.failures.Load(),
		Entries:   c.Count(),
	}
}

// Policies lists the bound policies in hook order.
func (c *Cache[K, V]) Policies() []string { return c.t.Names() }

// Close stops the janitor, drops every entry and marks the cache closed.
// Later Get/Acquire calls return ErrClosed. Close is idempotent.
func (c *Cache[K, V]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.stopJanitor()

	c.lock()
	defer c.unlock()
	c.t.Clear(policy.EvictExplicit)
	c.opt.Metrics.Size(0)
	c.log.Debug().Msg("cache closed")
	return nil
}

// -------------------- get paths --------------------

// getLocked is the LockNone path, also run inside coarse flights: lookup,
// resolution and store happen without releasing the lock (if any). hit
// reports whether k was resident.
func (c *Cache[K, V]) getLocked(ctx context.Context, k K) (v V, hit bool, err error) {
	h := c.t.Hash(k)
	r, st := c.lookupLocked(h, k, c.now())
	if st == stateHit {
		v, err = c.t.Payload(r)
		return v, true, err
	}
	if st == stateMiss && c.opt.Resolver == nil {
		return v, false, ErrNoResolver
	}
	v, err = c.resolveLocked(ctx, h, k, st == stateStale)
	return v, st == stateStale, err
}

// getCoarse is the LockCoarse path. Callers join the key's flight before
// they take the mutex, so concurrent Gets of one key share a single
// outcome, failures included, while the mutex still serializes every
// resolution. Joined callers count a hit or miss as the leader saw it.
func (c *Cache[K, V]) getCoarse(ctx context.Context, k K) (V, error) {
	led := false
	f, err, _ := c.sf.Do(ctx, k, func() (flight[V], error) {
		led = true
		c.mu.Lock()
		defer c.mu.Unlock()
		v, hit, err := c.getLocked(ctx, k)
		return flight[V]{v: v, hit: hit}, err
	})
	if !led && ctx.Err() == nil {
		if f.hit {
			c.hit()
		} else {
			c.miss()
		}
	}
	return f.v, err
}

// resolveLocked resolves k in the critical section of its lookup and stores
// the outcome. A failed refresh serves the previous payload.
func (c *Cache[K, V]) resolveLocked(ctx context.Context, h uint64, k K, refresh bool) (V, error) {
	var zero V
	if c.closed.Load() {
		return zero, ErrClosed
	}

	v, err := c.load(ctx, k)
	if err != nil {
		if refresh {
			c.refreshFailed(k, err)
			if r := c.t.FindKey(h, k); r != policy.Nil {
				return c.t.Payload(r)
			}
			return zero, err
		}
		if !c.t.RetainsFailure(err) {
			return zero, err
		}
	}
	return c.storeLocked(h, k, v, err, refresh)
}

// getPerKey is the LockPerKey path: table operations take the mutex,
// resolution runs outside it, one flight per key.
func (c *Cache[K, V]) getPerKey(ctx context.Context, k K) (V, error) {
	h := c.t.Hash(k)

	c.mu.Lock()
	r, st := c.lookupLocked(h, k, c.now())
	if st == stateHit {
		v, err := c.t.Payload(r)
		c.mu.Unlock()
		return v, err
	}
	c.mu.Unlock()

	if st == stateMiss && c.opt.Resolver == nil {
		var zero V
		return zero, ErrNoResolver
	}
	refresh := st == stateStale

	f, err, _ := c.sf.Do(ctx, k, func() (flight[V], error) {
		v, err := c.resolvePerKey(ctx, h, k, refresh)
		return flight[V]{v: v}, err
	})
	return f.v, err
}

// resolvePerKey runs one LockPerKey flight: the resolver is called without
// the mutex, which is taken again to store the outcome.
func (c *Cache[K, V]) resolvePerKey(ctx context.Context, h uint64, k K, refresh bool) (V, error) {
	if !refresh {
		// A flight that finished just before ours may have stored k.
		c.mu.Lock()
		if r := c.t.FindKey(h, k); r != policy.Nil {
			v, err := c.t.Payload(r)
			c.mu.Unlock()
			return v, err
		}
		c.mu.Unlock()
	}

	v, err := c.load(ctx, k)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if refresh {
			c.refreshFailed(k, err)
			if r := c.t.FindKey(h, k); r != policy.Nil {
				return c.t.Payload(r)
			}
			var zero V
			return zero, err
		}
		if !c.t.RetainsFailure(err) {
			var zero V
			return zero, err
		}
	}
	return c.storeLocked(h, k, v, err, refresh)
}

// lookupLocked finds k and runs the access hooks. Expired entries are
// erased by the table and reported as a miss.
func (c *Cache[K, V]) lookupLocked(h uint64, k K, now int64) (policy.Ref, state) {
	r := c.t.FindKey(h, k)
	if r == policy.Nil {
		c.miss()
		return policy.Nil, stateMiss
	}
	switch c.t.Access(r, now) {
	case policy.Expire:
		c.miss()
		return policy.Nil, stateMiss
	case policy.Refresh:
		c.hit()
		if c.opt.Resolver == nil {
			return r, stateHit
		}
		return r, stateStale
	}
	c.hit()
	return r, stateHit
}

// storeLocked writes a resolution outcome. A refresh replaces the payload
// of the existing entry in place. Otherwise an entry that appeared
// meanwhile wins and its payload is returned. Once the cache is closed the
// outcome is handed back without being stored.
func (c *Cache[K, V]) storeLocked(h uint64, k K, v V, err error, refresh bool) (V, error) {
	if c.closed.Load() {
		return v, err
	}
	now := c.now()
	if r := c.t.FindKey(h, k); r != policy.Nil {
		if !refresh {
			return c.t.Payload(r)
		}
		c.t.Replace(r, v, err, now)
		return v, err
	}
	c.t.Insert(h, k, v, err, now)
	c.opt.Metrics.Size(c.t.Len())
	if err != nil {
		c.log.Debug().Str("key", fmt.Sprint(k)).Err(err).Msg("failure cached")
	}
	return v, err
}

// load runs the resolver for k and binds self-referencing values.
func (c *Cache[K, V]) load(ctx context.Context, k K) (V, error) {
	start := time.Now()
	v, err := resolver.Call(ctx, c.opt.Resolver, k)
	c.opt.Metrics.Resolve(time.Since(start), err)
	c.resolves.Add(1)
	if err != nil {
		c.failures.Add(1)
		return v, err
	}
	c.bind(k, v)
	return v, nil
}

func (c *Cache[K, V]) refreshFailed(k K, err error) {
	c.log.Warn().Str("key", fmt.Sprint(k)).Err(err).Msg("refresh failed; serving previous value")
}

// -------------------- internals --------------------

// onErase is the table's removal callback (lock held).
func (c *Cache[K, V]) onErase(k K, v V, err error, reason policy.Reason) {
	if reason == policy.EvictExplicit {
		return
	}
	c.evicts.Add(1)
	c.opt.Metrics.Evict(reason)
	if e := c.log.Debug(); e.Enabled() {
		e.Str("key", fmt.Sprint(k)).Stringer("reason", reason).Msg("evicted")
	}
	if c.opt.OnEvict != nil {
		c.opt.OnEvict(k, v, err, reason)
	}
}

func (c *Cache[K, V]) lock() {
	if c.opt.Locking != LockNone {
		c.mu.Lock()
	}
}

func (c *Cache[K, V]) unlock() {
	if c.opt.Locking != LockNone {
		c.mu.Unlock()
	}
}

func (c *Cache[K, V]) equal(a, b K) bool {
	if c.opt.Equal != nil {
		return c.opt.Equal(a, b)
	}
	return a == b
}

func (c *Cache[K, V]) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

func (c *Cache[K, V]) hit() {
	c.hits.Add(1)
	c.opt.Metrics.Hit()
}

func (c *Cache[K, V]) miss() {
	c.misses.Add(1)
	c.opt.Metrics.Miss()
}
