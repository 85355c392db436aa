// Package negcache stores resolver failures for a while so that repeated
// lookups of a failing key do not hammer the resolver.
package negcache

import (
	"fmt"
	"time"

	"github.com/IvanBrykalov/policycache/policy"
	"github.com/IvanBrykalov/policycache/policy/queue"
	"github.com/IvanBrykalov/policycache/resolver"
)

// Option tunes a negcache policy.
type Option func(*config)

type config struct {
	retain func(error) bool
}

// Retain overrides which failures are stored. The default keeps every
// failure except canceled resolutions (resolver.Retainable).
func Retain(pred func(error) bool) Option { return func(c *config) { c.retain = pred } }

// New returns a policy that keeps failure entries for ttl. While such an
// entry lives, lookups re-raise the stored error without resolving.
// New panics if ttl <= 0.
func New[K comparable, V any](ttl time.Duration, opts ...Option) policy.Policy[K, V] {
	if ttl <= 0 {
		panic(fmt.Sprintf("negcache: ttl must be > 0, got %s", ttl))
	}
	cfg := config{retain: resolver.Retainable}
	for _, o := range opts {
		o(&cfg)
	}
	return factory[K, V]{ttl: ttl, cfg: cfg}
}

type factory[K comparable, V any] struct {
	ttl time.Duration
	cfg config
}

func (f factory[K, V]) New(t policy.Table[K, V]) policy.Instance {
	return &negCache[K, V]{t: t, ttl: int64(f.ttl), retain: f.cfg.retain}
}

type negCache[K comparable, V any] struct {
	t      policy.Table[K, V]
	ttl    int64
	retain func(error) bool
	dl     queue.Deadlines
}

func (p *negCache[K, V]) Name() string { return "negcache(" + time.Duration(p.ttl).String() + ")" }

func (p *negCache[K, V]) RetainFailure(err error) bool { return p.retain(err) }

func (p *negCache[K, V]) OnInsert(r policy.Ref, now int64) {
	if p.t.Err(r) != nil {
		p.dl.Schedule(r, queue.After(now, p.ttl))
	}
}

// OnUpdate tracks a payload that switched between value and failure.
func (p *negCache[K, V]) OnUpdate(r policy.Ref, now int64) {
	if p.t.Err(r) == nil {
		p.dl.Cancel(r)
		return
	}
	p.dl.Schedule(r, queue.After(now, p.ttl))
}

func (p *negCache[K, V]) OnErase(r policy.Ref) { p.dl.Cancel(r) }

func (p *negCache[K, V]) OnAccess(r policy.Ref, now int64) policy.Verdict {
	if p.dl.Due(r, now) {
		return policy.Expire
	}
	return policy.Keep
}

func (p *negCache[K, V]) EvictionCheck(now int64, fresh policy.Ref) {
	p.dl.Reclaim(p.t, now, fresh)
}

func (p *negCache[K, V]) Sweep(now int64) int {
	return p.dl.Reclaim(p.t, now, policy.Nil)
}
