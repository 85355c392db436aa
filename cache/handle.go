package cache

import (
	"context"
	"weak"

	"go.uber.org/atomic"

	"github.com/IvanBrykalov/policycache/policy"
)

// Handle is a counted reference to a cached value, returned by Acquire.
// While any Handle for an entry is unreleased the entry is protected from
// capacity eviction; releasing the last one erases it (EvictUnreferenced).
// The cache's own slot is never counted.
type Handle[K comparable, V any] struct {
	c   *Cache[K, V]
	key K
	val V

	ref      policy.Ref // policy.Nil: detached, pins nothing
	gen      uint32
	released atomic.Bool
}

// Key returns the key the handle was acquired for.
func (h *Handle[K, V]) Key() K { return h.key }

// Value returns the value as of Acquire.
func (h *Handle[K, V]) Value() V { return h.val }

// Pinned reports whether the handle still counts as a holder.
func (h *Handle[K, V]) Pinned() bool { return h.ref != policy.Nil && !h.released.Load() }

// Release drops the reference. Only the first call has an effect.
func (h *Handle[K, V]) Release() {
	if h.ref == policy.Nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	c := h.c
	c.lock()
	defer c.unlock()
	// The slot may have been recycled (expiry, Close) since Acquire.
	if c.t.Live(h.ref) && c.t.Gen(h.ref) == h.gen {
		c.t.Release(h.ref)
		c.opt.Metrics.Size(c.t.Len())
	}
}

// Acquire is Get returning a counted Handle. It requires an ownership
// policy (policy/shared) and returns ErrNoOwnership otherwise.
func (c *Cache[K, V]) Acquire(ctx context.Context, k K) (*Handle[K, V], error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if !c.t.Owned() {
		return nil, ErrNoOwnership
	}

	v, err := c.get(ctx, k)
	if err != nil {
		return nil, err
	}
	c.lock()
	defer c.unlock()

	h := &Handle[K, V]{c: c, key: k, val: v}
	// The entry may already be gone, e.g. when nothing retained it.
	if r := c.t.Lookup(k); r != policy.Nil {
		c.t.Acquire(r)
		h.ref, h.gen = r, c.t.Gen(r)
	}
	return h, nil
}

// Backref is a non-counting reference from a value to the cache slot that
// holds it. It never keeps the cache alive and never protects the entry.
type Backref[K comparable, V any] struct {
	c   weak.Pointer[Cache[K, V]]
	key K
}

// SelfBinder is implemented by values that want a Backref to their own
// cache slot. BindBackref is called once per successful resolution or
// Emplace, before the value is stored.
type SelfBinder[K comparable, V any] interface {
	BindBackref(Backref[K, V])
}

// Key returns the key of the slot.
func (b Backref[K, V]) Key() K { return b.key }

// Cache returns the owning cache, or nil once it was garbage collected.
func (b Backref[K, V]) Cache() *Cache[K, V] { return b.c.Value() }

// Get looks the slot's key up again. It returns ErrClosed if the cache is
// gone.
func (b Backref[K, V]) Get(ctx context.Context) (V, error) {
	c := b.c.Value()
	if c == nil {
		var zero V
		return zero, ErrClosed
	}
	return c.Get(ctx, b.key)
}

// Acquire upgrades the back-reference to a counted Handle.
func (b Backref[K, V]) Acquire(ctx context.Context) (*Handle[K, V], error) {
	c := b.c.Value()
	if c == nil {
		return nil, ErrClosed
	}
	return c.Acquire(ctx, b.key)
}

func (c *Cache[K, V]) bind(k K, v V) {
	if sb, ok := any(v).(SelfBinder[K, V]); ok {
		sb.BindBackref(Backref[K, V]{c: weak.Make(c), key: k})
	}
}
