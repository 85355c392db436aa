// Package maxsize bounds the number of resident entries.
package maxsize

import (
	"fmt"

	"github.com/IvanBrykalov/policycache/policy"
	"github.com/IvanBrykalov/policycache/policy/queue"
)

// Option tunes a maxsize policy.
type Option func(*config)

type config struct {
	accessOrder bool
}

// AccessOrder moves an entry to the fresh end whenever it is read, turning
// the default insertion (FIFO) order into recency (LRU) order.
func AccessOrder() Option { return func(c *config) { c.accessOrder = true } }

// New returns a policy that keeps at most n entries. Eviction takes the
// stalest entry that is neither the one just inserted nor protected by
// another policy. New panics if n <= 0.
func New[K comparable, V any](n int, opts ...Option) policy.Policy[K, V] {
	if n <= 0 {
		panic(fmt.Sprintf("maxsize: n must be > 0, got %d", n))
	}
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	return factory[K, V]{n: n, cfg: cfg}
}

type factory[K comparable, V any] struct {
	n   int
	cfg config
}

func (f factory[K, V]) New(t policy.Table[K, V]) policy.Instance {
	return &maxSize[K, V]{t: t, n: f.n, accessOrder: f.cfg.accessOrder}
}

type maxSize[K comparable, V any] struct {
	t           policy.Table[K, V]
	n           int
	accessOrder bool
	q           queue.Queue
}

func (p *maxSize[K, V]) Name() string {
	if p.accessOrder {
		return fmt.Sprintf("maxsize(%d, lru)", p.n)
	}
	return fmt.Sprintf("maxsize(%d)", p.n)
}

func (p *maxSize[K, V]) OnInsert(r policy.Ref, _ int64) { p.q.PushBack(r) }

func (p *maxSize[K, V]) OnAccess(r policy.Ref, _ int64) policy.Verdict {
	if p.accessOrder {
		p.q.MoveToBack(r)
	}
	return policy.Keep
}

func (p *maxSize[K, V]) OnUpdate(r policy.Ref, _ int64) {
	if p.accessOrder {
		p.q.MoveToBack(r)
	}
}

func (p *maxSize[K, V]) OnErase(r policy.Ref) { p.q.Remove(r) }

// EvictionCheck trims from the stale end. If every other entry is
// protected the table stays above n until holders release them.
func (p *maxSize[K, V]) EvictionCheck(_ int64, fresh policy.Ref) {
	r := p.q.Front()
	for p.t.Len() > p.n && r != policy.Nil {
		next := p.q.Next(r)
		if r != fresh && !p.t.Protected(r) {
			p.t.Erase(r, policy.EvictCapacity)
		}
		r = next
	}
}
