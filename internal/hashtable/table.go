// Package hashtable is the storage core of the cache: a bucket-chained hash
// table over an entry arena, plus lifecycle hook dispatch to the bound
// policies.
//
// The table is not safe for concurrent use; the cache facade serializes
// access according to its locking mode.
package hashtable

import (
	"fmt"

	"github.com/IvanBrykalov/policycache/internal/util"
	"github.com/IvanBrykalov/policycache/policy"
)

// Config carries the per-table functions fixed at construction.
type Config[K comparable, V any] struct {
	// Hash hashes keys. Nil => util.Hash64.
	Hash func(K) uint64
	// Equal compares keys. Nil => ==.
	Equal func(a, b K) bool
	// OnErase observes every removal after the entry is unlinked.
	OnErase func(k K, v V, err error, reason policy.Reason)
	// SizeHint pre-sizes the arena and bucket array.
	SizeHint int
}

// entry is an arena slot. Slot 0 is a sentinel so that policy.Nil never
// names a live entry.
type entry[K comparable, V any] struct {
	key  K
	val  V
	err  error
	hash uint64
	next policy.Ref // bucket chain, or free list when !live
	gen  uint32
	live bool
}

// Table maps keys to entries and drives the policy hooks.
type Table[K comparable, V any] struct {
	cfg     Config[K, V]
	entries []entry[K, V]
	buckets []policy.Ref
	free    policy.Ref
	n       int

	names []string

	// Hooks resolved once in New; a policy lacking a hook is absent from
	// the corresponding slice.
	inserts   []policy.InsertHook
	accesses  []policy.AccessHook
	updates   []policy.UpdateHook
	erases    []policy.EraseHook
	evictions []policy.EvictionHook
	sweeps    []policy.SweepHook
	failures  []policy.FailureHook
	protects  []policy.ProtectHook
	owners    []policy.OwnershipHook
}

const minBuckets = 8

// New builds a table and binds every policy to it, in order.
// A nil policy panics; the facade rejects those before calling New.
func New[K comparable, V any](cfg Config[K, V], pols ...policy.Policy[K, V]) *Table[K, V] {
	if cfg.Hash == nil {
		cfg.Hash = util.Hash64[K]
	}
	if cfg.Equal == nil {
		cfg.Equal = func(a, b K) bool { return a == b }
	}
	hint := cfg.SizeHint
	if hint < 0 {
		hint = 0
	}
	nb := int(util.NextPow2(uint64(hint + hint/3)))
	if nb < minBuckets {
		nb = minBuckets
	}

	t := &Table[K, V]{
		cfg:     cfg,
		entries: make([]entry[K, V], 1, hint+1),
		buckets: make([]policy.Ref, nb),
	}
	for i, p := range pols {
		if p == nil {
			panic(fmt.Sprintf("hashtable: policy %d is nil", i))
		}
		t.bind(p.New(t))
	}
	return t
}

func (t *Table[K, V]) bind(inst policy.Instance) {
	t.names = append(t.names, inst.Name())
	if h, ok := inst.(policy.InsertHook); ok {
		t.inserts = append(t.inserts, h)
	}
	if h, ok := inst.(policy.AccessHook); ok {
		t.accesses = append(t.accesses, h)
	}
	if h, ok := inst.(policy.UpdateHook); ok {
		t.updates = append(t.updates, h)
	}
	if h, ok := inst.(policy.EraseHook); ok {
		t.erases = append(t.erases, h)
	}
	if h, ok := inst.(policy.EvictionHook); ok {
		t.evictions = append(t.evictions, h)
	}
	if h, ok := inst.(policy.SweepHook); ok {
		t.sweeps = append(t.sweeps, h)
	}
	if h, ok := inst.(policy.FailureHook); ok {
		t.failures = append(t.failures, h)
	}
	if h, ok := inst.(policy.ProtectHook); ok {
		t.protects = append(t.protects, h)
	}
	if h, ok := inst.(policy.OwnershipHook); ok {
		t.owners = append(t.owners, h)
	}
}

// -------------------- policy.Table view --------------------

// Len returns the number of resident entries.
func (t *Table[K, V]) Len() int { return t.n }

// Key returns the key of r.
func (t *Table[K, V]) Key(r policy.Ref) K { return t.entries[r].key }

// Value returns the value of r (zero for failure entries).
func (t *Table[K, V]) Value(r policy.Ref) V { return t.entries[r].val }

// Err returns the stored failure of r, or nil.
func (t *Table[K, V]) Err(r policy.Ref) error { return t.entries[r].err }

// Protected reports whether any policy pins r.
func (t *Table[K, V]) Protected(r policy.Ref) bool {
	for _, h := range t.protects {
		if h.Protected(r) {
			return true
		}
	}
	return false
}

// Erase removes r. Every policy's OnErase runs first, then the entry is
// unlinked, reported through Config.OnErase and recycled. Erasing a dead
// ref is a no-op.
func (t *Table[K, V]) Erase(r policy.Ref, reason policy.Reason) {
	if !t.Live(r) {
		return
	}
	for _, h := range t.erases {
		h.OnErase(r)
	}
	e := &t.entries[r]
	t.unlink(r, e.hash)
	k, v, err := e.key, e.val, e.err

	var zero entry[K, V]
	gen := e.gen + 1
	*e = zero
	e.gen = gen
	e.next = t.free
	t.free = r
	t.n--

	if t.cfg.OnErase != nil {
		t.cfg.OnErase(k, v, err, reason)
	}
}

// -------------------- lookup --------------------

// Find returns the entry whose hash matches and whose key satisfies eq,
// or policy.Nil. eq lets callers look up without building a K.
func (t *Table[K, V]) Find(hash uint64, eq func(K) bool) policy.Ref {
	i := util.BucketIndex(hash, len(t.buckets))
	for r := t.buckets[i]; r != policy.Nil; r = t.entries[r].next {
		e := &t.entries[r]
		if e.hash == hash && eq(e.key) {
			return r
		}
	}
	return policy.Nil
}

// Lookup finds k with the configured hash and equality.
func (t *Table[K, V]) Lookup(k K) policy.Ref {
	return t.FindKey(t.cfg.Hash(k), k)
}

// FindKey finds k under a precomputed hash.
func (t *Table[K, V]) FindKey(hash uint64, k K) policy.Ref {
	return t.Find(hash, func(x K) bool { return t.cfg.Equal(x, k) })
}

// Hash hashes k with the configured hasher.
func (t *Table[K, V]) Hash(k K) uint64 { return t.cfg.Hash(k) }

// Access runs the access hooks on r and returns the strongest verdict.
// An Expire verdict erases r (EvictExpired) before Access returns.
func (t *Table[K, V]) Access(r policy.Ref, now int64) policy.Verdict {
	verdict := policy.Keep
	for _, h := range t.accesses {
		if v := h.OnAccess(r, now); v > verdict {
			verdict = v
			if v == policy.Expire {
				break
			}
		}
	}
	if verdict == policy.Expire {
		t.Erase(r, policy.EvictExpired)
	}
	return verdict
}

// -------------------- mutation --------------------

// Emplace inserts key unless a live entry satisfying eq exists. An
// existing entry is accessed: if a policy expires it, a new entry takes its
// place; if a policy asks for a refresh, the payload is replaced in place.
// It returns the entry and whether the new payload was stored.
func (t *Table[K, V]) Emplace(hash uint64, eq func(K) bool, key K, val V, err error, now int64) (policy.Ref, bool) {
	if r := t.Find(hash, eq); r != policy.Nil {
		switch t.Access(r, now) {
		case policy.Keep:
			return r, false
		case policy.Refresh:
			t.Replace(r, val, err, now)
			return r, true
		}
	}
	return t.Insert(hash, key, val, err, now), true
}

// Insert stores a new entry. The caller guarantees key is absent.
// OnInsert runs for every policy, then every EvictionCheck with the new
// entry as fresh.
func (t *Table[K, V]) Insert(hash uint64, key K, val V, err error, now int64) policy.Ref {
	if t.n+1 > len(t.buckets)/4*3 {
		t.rehash(len(t.buckets) * 2)
	}
	r := t.alloc()
	e := &t.entries[r]
	e.key, e.val, e.err, e.hash, e.live = key, val, err, hash, true
	i := util.BucketIndex(hash, len(t.buckets))
	e.next = t.buckets[i]
	t.buckets[i] = r
	t.n++

	for _, h := range t.inserts {
		h.OnInsert(r, now)
	}
	t.evict(now, r)
	return r
}

// Replace swaps the payload of r in place (same ref) and runs the update
// hooks, then every EvictionCheck with r as fresh.
func (t *Table[K, V]) Replace(r policy.Ref, val V, err error, now int64) {
	if !t.Live(r) {
		return
	}
	e := &t.entries[r]
	e.val, e.err = val, err
	for _, h := range t.updates {
		h.OnUpdate(r, now)
	}
	t.evict(now, r)
}

// Sweep lets every policy reclaim entries proactively.
func (t *Table[K, V]) Sweep(now int64) int {
	n := 0
	for _, h := range t.sweeps {
		n += h.Sweep(now)
	}
	return n
}

// Clear erases every live entry with the given reason.
func (t *Table[K, V]) Clear(reason policy.Reason) {
	for r := policy.Ref(1); int(r) < len(t.entries); r++ {
		t.Erase(r, reason)
	}
}

func (t *Table[K, V]) evict(now int64, fresh policy.Ref) {
	for _, h := range t.evictions {
		h.EvictionCheck(now, fresh)
	}
}

// -------------------- failures & ownership --------------------

// RetainsFailure reports whether any policy wants err stored as an entry.
func (t *Table[K, V]) RetainsFailure(err error) bool {
	for _, h := range t.failures {
		if h.RetainFailure(err) {
			return true
		}
	}
	return false
}

// Owned reports whether a policy counts shared holders.
func (t *Table[K, V]) Owned() bool { return len(t.owners) > 0 }

// Acquire registers one external holder of r.
func (t *Table[K, V]) Acquire(r policy.Ref) {
	for _, h := range t.owners {
		h.Acquire(r)
	}
}

// Release drops one external holder of r. A policy may erase r here.
func (t *Table[K, V]) Release(r policy.Ref) {
	for _, h := range t.owners {
		if !t.Live(r) {
			return
		}
		h.Release(r)
	}
}

// -------------------- entry metadata --------------------

// Live reports whether r names a resident entry.
func (t *Table[K, V]) Live(r policy.Ref) bool {
	return r > 0 && int(r) < len(t.entries) && t.entries[r].live
}

// Gen returns the recycle generation of slot r. A (ref, gen) pair names
// one entry for its whole lifetime.
func (t *Table[K, V]) Gen(r policy.Ref) uint32 { return t.entries[r].gen }

// Payload returns the value and stored failure of r.
func (t *Table[K, V]) Payload(r policy.Ref) (V, error) {
	e := &t.entries[r]
	return e.val, e.err
}

// Names lists the bound policies in registration order.
func (t *Table[K, V]) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// -------------------- internals --------------------

func (t *Table[K, V]) alloc() policy.Ref {
	if r := t.free; r != policy.Nil {
		t.free = t.entries[r].next
		t.entries[r].next = policy.Nil
		return r
	}
	t.entries = append(t.entries, entry[K, V]{})
	return policy.Ref(len(t.entries) - 1)
}

func (t *Table[K, V]) unlink(r policy.Ref, hash uint64) {
	i := util.BucketIndex(hash, len(t.buckets))
	prev := policy.Nil
	for at := t.buckets[i]; at != policy.Nil; at = t.entries[at].next {
		if at != r {
			prev = at
			continue
		}
		if prev == policy.Nil {
			t.buckets[i] = t.entries[at].next
		} else {
			t.entries[prev].next = t.entries[at].next
		}
		return
	}
}

func (t *Table[K, V]) rehash(n int) {
	buckets := make([]policy.Ref, n)
	for r := policy.Ref(1); int(r) < len(t.entries); r++ {
		e := &t.entries[r]
		if !e.live {
			continue
		}
		i := util.BucketIndex(e.hash, n)
		e.next = buckets[i]
		buckets[i] = r
	}
	t.buckets = buckets
}

var _ policy.Table[string, int] = (*Table[string, int])(nil)
