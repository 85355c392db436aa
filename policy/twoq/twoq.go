// Package twoq implements the scan-resistant 2Q capacity policy.
package twoq

import (
	"container/list"
	"fmt"

	"github.com/IvanBrykalov/policycache/policy"
	"github.com/IvanBrykalov/policycache/policy/queue"
)

// twoQ implements the 2Q eviction policy.
//
// Resident queues:
//   - A1in (young) admits first-time entries in FIFO order.
//   - Am (mature) holds entries that were re-read or came back from the
//     ghost list, in LRU order.
//
// Ghost A1out: keys only (no values) of entries that left A1in. A key found
// there on insert skips A1in and goes straight to Am.
type twoQ[K comparable, V any] struct {
	t policy.Table[K, V]

	n        int // total resident bound
	capIn    int // A1in target size
	capGhost int // A1out capacity

	in   queue.Queue
	main queue.Queue

	// A1out: MRU at Front() -> LRU at Back()
	ghostList *list.List
	ghostIdx  map[K]*list.Element // element.Value is K
}

// New constructs a 2Q policy bounding the table to n entries.
// Common choices: capIn ≈ 25% of n; capGhost ≈ 50–100% of n. Non-positive
// capIn/capGhost select n/4 and n/2. New panics if n <= 0.
func New[K comparable, V any](n, capIn, capGhost int) policy.Policy[K, V] {
	if n <= 0 {
		panic(fmt.Sprintf("twoq: n must be > 0, got %d", n))
	}
	if capIn < 1 {
		capIn = max(1, n/4)
	}
	if capGhost < 1 {
		capGhost = max(1, n/2)
	}
	return twoQPolicy[K, V]{n: n, capIn: capIn, capGhost: capGhost}
}

type twoQPolicy[K comparable, V any] struct {
	n        int
	capIn    int
	capGhost int
}

func (p twoQPolicy[K, V]) New(t policy.Table[K, V]) policy.Instance {
	return &twoQ[K, V]{
		t:         t,
		n:         p.n,
		capIn:     p.capIn,
		capGhost:  p.capGhost,
		ghostList: list.New(),
		ghostIdx:  make(map[K]*list.Element),
	}
}

func (q *twoQ[K, V]) Name() string {
	return fmt.Sprintf("twoq(%d, in=%d, ghost=%d)", q.n, q.capIn, q.capGhost)
}

// OnInsert admission rules:
//   - A key present in ghosts bypasses A1in and is admitted to Am; the
//     ghost is dropped.
//   - Otherwise the entry enters A1in.
func (q *twoQ[K, V]) OnInsert(r policy.Ref, _ int64) {
	k := q.t.Key(r)
	if ge, ok := q.ghostIdx[k]; ok {
		q.ghostList.Remove(ge)
		delete(q.ghostIdx, k)
		q.main.PushBack(r)
		return
	}
	q.in.PushBack(r)
}

// OnAccess promotes an A1in entry to Am, or refreshes its Am position.
func (q *twoQ[K, V]) OnAccess(r policy.Ref, _ int64) policy.Verdict {
	if q.in.Remove(r) {
		q.main.PushBack(r)
	} else {
		q.main.MoveToBack(r)
	}
	return policy.Keep
}

// OnUpdate follows OnAccess (updates count as recent use).
func (q *twoQ[K, V]) OnUpdate(r policy.Ref, now int64) { q.OnAccess(r, now) }

// OnErase remembers keys leaving A1in as ghosts (bounded by capGhost).
// Removals from Am do NOT populate ghosts.
func (q *twoQ[K, V]) OnErase(r policy.Ref) {
	if !q.in.Remove(r) {
		q.main.Remove(r)
		return
	}
	k := q.t.Key(r)
	if old := q.ghostIdx[k]; old != nil {
		q.ghostList.Remove(old)
	}
	q.ghostIdx[k] = q.ghostList.PushFront(k)

	for q.ghostList.Len() > q.capGhost {
		tail := q.ghostList.Back()
		delete(q.ghostIdx, tail.Value.(K))
		q.ghostList.Remove(tail)
	}
}

// EvictionCheck restores the bound. A1in is drained first while it is
// above its target, otherwise the LRU end of Am goes.
func (q *twoQ[K, V]) EvictionCheck(_ int64, fresh policy.Ref) {
	for q.t.Len() > q.n {
		var r policy.Ref
		reason := policy.EvictCapacity
		if q.in.Len() > q.capIn {
			r, reason = q.victim(&q.in, fresh), policy.EvictPolicy
		}
		if r == policy.Nil {
			r, reason = q.victim(&q.main, fresh), policy.EvictCapacity
		}
		if r == policy.Nil {
			r, reason = q.victim(&q.in, fresh), policy.EvictPolicy
		}
		if r == policy.Nil {
			return // everything else is pinned
		}
		q.t.Erase(r, reason)
	}
}

func (q *twoQ[K, V]) victim(from *queue.Queue, fresh policy.Ref) policy.Ref {
	for r := from.Front(); r != policy.Nil; r = from.Next(r) {
		if r != fresh && !q.t.Protected(r) {
			return r
		}
	}
	return policy.Nil
}
