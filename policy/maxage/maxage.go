// Package maxage expires entries a fixed duration after they were stored
// or last refreshed.
package maxage

import (
	"fmt"
	"time"

	"github.com/IvanBrykalov/policycache/policy"
	"github.com/IvanBrykalov/policycache/policy/queue"
)

// New returns a policy expiring every entry d after its insert or in-place
// update. New panics if d <= 0.
func New[K comparable, V any](d time.Duration) policy.Policy[K, V] {
	if d <= 0 {
		panic(fmt.Sprintf("maxage: duration must be > 0, got %s", d))
	}
	return factory[K, V]{d: d}
}

type factory[K comparable, V any] struct{ d time.Duration }

func (f factory[K, V]) New(t policy.Table[K, V]) policy.Instance {
	return &maxAge[K, V]{t: t, d: int64(f.d)}
}

type maxAge[K comparable, V any] struct {
	t  policy.Table[K, V]
	d  int64
	dl queue.Deadlines
}

func (p *maxAge[K, V]) Name() string { return "maxage(" + time.Duration(p.d).String() + ")" }

func (p *maxAge[K, V]) OnInsert(r policy.Ref, now int64) { p.dl.Schedule(r, queue.After(now, p.d)) }

func (p *maxAge[K, V]) OnUpdate(r policy.Ref, now int64) { p.dl.Schedule(r, queue.After(now, p.d)) }

func (p *maxAge[K, V]) OnErase(r policy.Ref) { p.dl.Cancel(r) }

func (p *maxAge[K, V]) OnAccess(r policy.Ref, now int64) policy.Verdict {
	if p.dl.Due(r, now) {
		return policy.Expire
	}
	return policy.Keep
}

func (p *maxAge[K, V]) EvictionCheck(now int64, fresh policy.Ref) {
	p.dl.Reclaim(p.t, now, fresh)
}

func (p *maxAge[K, V]) Sweep(now int64) int {
	return p.dl.Reclaim(p.t, now, policy.Nil)
}
