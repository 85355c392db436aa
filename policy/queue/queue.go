// Package queue provides the intrusive ordering queue shared by
// order-sensitive policies (capacity bound, expiry, negative caching).
//
// Links are stored by Ref in a policy.Column owned by the queue, so an
// entry can be linked into several queues at once (one Queue per policy)
// without any per-link allocation and without holding pointers into the
// table arena.
//
// Orientation: Front is the stale end (oldest / earliest deadline), Back is
// the fresh end. All operations are O(1) except InsertSorted.
package queue

import "github.com/IvanBrykalov/policycache/policy"

type link struct {
	prev, next policy.Ref
	in         bool
}

// Queue is an index-based doubly linked list of entry refs.
// The zero value is an empty queue.
type Queue struct {
	links policy.Column[link]
	head  policy.Ref // stale end
	tail  policy.Ref // fresh end
	n     int
}

// Len returns the number of linked entries.
func (q *Queue) Len() int { return q.n }

// Contains reports whether r is linked into q.
func (q *Queue) Contains(r policy.Ref) bool { return q.links.Get(r).in }

// Front returns the stale end (policy.Nil if empty).
func (q *Queue) Front() policy.Ref { return q.head }

// Back returns the fresh end (policy.Nil if empty).
func (q *Queue) Back() policy.Ref { return q.tail }

// Next returns the neighbour of r towards the fresh end.
func (q *Queue) Next(r policy.Ref) policy.Ref { return q.links.Get(r).next }

// Prev returns the neighbour of r towards the stale end.
func (q *Queue) Prev(r policy.Ref) policy.Ref { return q.links.Get(r).prev }

// PushBack links r at the fresh end. If r is already linked it is moved.
func (q *Queue) PushBack(r policy.Ref) {
	if q.Contains(r) {
		q.MoveToBack(r)
		return
	}
	q.insertAfter(r, q.tail)
}

// PushFront links r at the stale end. If r is already linked it is moved.
func (q *Queue) PushFront(r policy.Ref) {
	if q.Contains(r) {
		q.unlink(r)
	}
	q.insertAfter(r, policy.Nil)
}

// MoveToBack moves a linked r to the fresh end; unlinked refs are ignored.
func (q *Queue) MoveToBack(r policy.Ref) {
	if r == q.tail || !q.Contains(r) {
		return
	}
	q.unlink(r)
	q.insertAfter(r, q.tail)
}

// Remove unlinks r and reports whether it was linked.
func (q *Queue) Remove(r policy.Ref) bool {
	if !q.Contains(r) {
		return false
	}
	q.unlink(r)
	return true
}

// InsertSorted links r keeping the queue ordered by less (stale end first).
// The scan starts at the fresh end, so keys that arrive in roughly
// increasing order are placed in O(1). Equal keys keep arrival order.
func (q *Queue) InsertSorted(r policy.Ref, less func(a, b policy.Ref) bool) {
	if q.Contains(r) {
		q.unlink(r)
	}
	at := q.tail
	for at != policy.Nil && less(r, at) {
		at = q.links.Get(at).prev
	}
	q.insertAfter(r, at)
}

// insertAfter links r right after mark; mark == Nil means at the front.
func (q *Queue) insertAfter(r, mark policy.Ref) {
	l := q.links.At(r)
	l.in = true
	l.prev = mark
	if mark == policy.Nil {
		l.next = q.head
		q.head = r
	} else {
		ml := q.links.At(mark)
		l = q.links.At(r) // At on mark may have grown the column
		l.next = ml.next
		ml.next = r
	}
	next := l.next
	if next == policy.Nil {
		q.tail = r
	} else {
		q.links.At(next).prev = r
	}
	q.n++
}

func (q *Queue) unlink(r policy.Ref) {
	l := q.links.Get(r)
	if l.prev == policy.Nil {
		q.head = l.next
	} else {
		q.links.At(l.prev).next = l.next
	}
	if l.next == policy.Nil {
		q.tail = l.prev
	} else {
		q.links.At(l.next).prev = l.prev
	}
	q.links.Reset(r)
	q.n--
}
