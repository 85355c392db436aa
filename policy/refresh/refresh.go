// Package refresh re-resolves entries in place once they reach a given age.
package refresh

import (
	"fmt"
	"time"

	"github.com/IvanBrykalov/policycache/policy"
)

// New returns a policy asking for a refresh of every value entry that was
// stored or last refreshed at least every ago. Failure entries are never
// refreshed. New panics if every <= 0.
func New[K comparable, V any](every time.Duration) policy.Policy[K, V] {
	if every <= 0 {
		panic(fmt.Sprintf("refresh: interval must be > 0, got %s", every))
	}
	return factory[K, V]{every: every}
}

type factory[K comparable, V any] struct{ every time.Duration }

func (f factory[K, V]) New(t policy.Table[K, V]) policy.Instance {
	return &refresher[K, V]{t: t, every: int64(f.every)}
}

type refresher[K comparable, V any] struct {
	t     policy.Table[K, V]
	every int64
	stamp policy.Column[int64] // insert or last refresh attempt
}

func (p *refresher[K, V]) Name() string { return "refresh(" + time.Duration(p.every).String() + ")" }

func (p *refresher[K, V]) OnInsert(r policy.Ref, now int64) { p.stamp.Set(r, now) }

func (p *refresher[K, V]) OnUpdate(r policy.Ref, now int64) { p.stamp.Set(r, now) }

func (p *refresher[K, V]) OnErase(r policy.Ref) { p.stamp.Reset(r) }

// OnAccess restamps the entry when it issues Refresh, so a refresh that
// fails is retried only after another interval.
func (p *refresher[K, V]) OnAccess(r policy.Ref, now int64) policy.Verdict {
	if p.t.Err(r) != nil || now-p.stamp.Get(r) < p.every {
		return policy.Keep
	}
	p.stamp.Set(r, now)
	return policy.Refresh
}
