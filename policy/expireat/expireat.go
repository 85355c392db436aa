// Package expireat expires entries at an absolute time chosen by the
// resolved value itself.
package expireat

import (
	"time"

	"github.com/IvanBrykalov/policycache/policy"
	"github.com/IvanBrykalov/policycache/policy/queue"
)

// Func returns the moment key's value stops being valid. The zero Time
// means the value never expires.
type Func[K comparable, V any] func(key K, val V) time.Time

// New returns a policy that expires every value entry at fn(key, value).
// Failure entries are left to the negative cache. New panics on a nil fn.
func New[K comparable, V any](fn Func[K, V]) policy.Policy[K, V] {
	if fn == nil {
		panic("expireat: nil deadline func")
	}
	return factory[K, V]{fn: fn}
}

type factory[K comparable, V any] struct{ fn Func[K, V] }

func (f factory[K, V]) New(t policy.Table[K, V]) policy.Instance {
	return &expireAt[K, V]{t: t, fn: f.fn}
}

type expireAt[K comparable, V any] struct {
	t  policy.Table[K, V]
	fn Func[K, V]
	d  queue.Deadlines
}

func (p *expireAt[K, V]) Name() string { return "expireat" }

func (p *expireAt[K, V]) schedule(r policy.Ref) {
	if p.t.Err(r) != nil {
		p.d.Cancel(r)
		return
	}
	at := p.fn(p.t.Key(r), p.t.Value(r))
	if at.IsZero() {
		p.d.Cancel(r)
		return
	}
	p.d.Schedule(r, at.UnixNano())
}

func (p *expireAt[K, V]) OnInsert(r policy.Ref, _ int64) { p.schedule(r) }

func (p *expireAt[K, V]) OnUpdate(r policy.Ref, _ int64) { p.schedule(r) }

func (p *expireAt[K, V]) OnErase(r policy.Ref) { p.d.Cancel(r) }

func (p *expireAt[K, V]) OnAccess(r policy.Ref, now int64) policy.Verdict {
	if p.d.Due(r, now) {
		return policy.Expire
	}
	return policy.Keep
}

func (p *expireAt[K, V]) EvictionCheck(now int64, fresh policy.Ref) {
	p.d.Reclaim(p.t, now, fresh)
}

func (p *expireAt[K, V]) Sweep(now int64) int {
	return p.d.Reclaim(p.t, now, policy.Nil)
}
