// Package shared counts external holders of entries. Held entries are
// protected from capacity eviction, and an entry whose last holder lets
// go is erased.
package shared

import "github.com/IvanBrykalov/policycache/policy"

// New returns the shared-ownership policy.
func New[K comparable, V any]() policy.Policy[K, V] { return factory[K, V]{} }

type factory[K comparable, V any] struct{}

func (factory[K, V]) New(t policy.Table[K, V]) policy.Instance {
	return &shared[K, V]{t: t}
}

type shared[K comparable, V any] struct {
	t    policy.Table[K, V]
	refs policy.Column[int32]
}

func (p *shared[K, V]) Name() string { return "shared" }

func (p *shared[K, V]) OnInsert(r policy.Ref, _ int64) { p.refs.Reset(r) }

func (p *shared[K, V]) OnErase(r policy.Ref) { p.refs.Reset(r) }

func (p *shared[K, V]) Protected(r policy.Ref) bool { return p.refs.Get(r) > 0 }

func (p *shared[K, V]) Acquire(r policy.Ref) { *p.refs.At(r)++ }

// Release erases the entry (EvictUnreferenced) when the count reaches zero.
func (p *shared[K, V]) Release(r policy.Ref) {
	n := p.refs.At(r)
	if *n <= 0 {
		return
	}
	*n--
	if *n == 0 {
		p.t.Erase(r, policy.EvictUnreferenced)
	}
}
