// Package policy defines the lifecycle hook protocol between the hashtable
// core and pluggable cache policies.
//
// A policy is a factory (Policy) that binds to a table view (Table) and
// returns a table-local Instance. The core type-asserts the instance once,
// at construction, against the optional hook interfaces below and only
// dispatches the hooks the instance implements. Hooks are invoked in
// policy-list order for every lifecycle event.
//
// Concurrency: every hook runs while the owning cache serializes access to
// the table (or under the caller's own serialization with LockNone).
package policy

import "fmt"

// Ref identifies a resident entry inside the table arena.
// Refs are recycled after erase; Nil is never a live entry.
type Ref int32

// Nil is the zero Ref.
const Nil Ref = 0

// Verdict is a policy's opinion about an entry on access.
// When several policies answer, the core acts on the largest verdict.
type Verdict uint8

const (
	// Keep serves the entry as a hit.
	Keep Verdict = iota
	// Refresh serves the entry after re-resolving it in place.
	Refresh
	// Expire treats the entry as absent; the core erases it and re-resolves.
	Expire
)

// Reason explains why an entry left the table.
type Reason int

const (
	// EvictPolicy means a policy removed the entry for its own admission rules (e.g. 2Q).
	EvictPolicy Reason = iota
	// EvictExpired means a deadline (absolute, relative or negative) passed.
	EvictExpired
	// EvictCapacity means a capacity bound was exceeded.
	EvictCapacity
	// EvictUnreferenced means the last shared holder released the entry.
	EvictUnreferenced
	// EvictExplicit means the caller erased the key.
	EvictExplicit
)

func (r Reason) String() string {
	switch r {
	case EvictPolicy:
		return "policy"
	case EvictExpired:
		return "expired"
	case EvictCapacity:
		return "capacity"
	case EvictUnreferenced:
		return "unreferenced"
	case EvictExplicit:
		return "explicit"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Table is the view of the hashtable core handed to policies.
// Policies never own entries; they refer to them by Ref and ask the
// table to erase them.
type Table[K comparable, V any] interface {
	// Len returns the number of resident entries.
	Len() int
	// Key returns the key of a live entry.
	Key(r Ref) K
	// Value returns the value of a live entry (zero for failure entries).
	Value(r Ref) V
	// Err returns the stored failure of a live entry, or nil.
	Err(r Ref) error
	// Protected reports whether any policy pins the entry against
	// capacity eviction.
	Protected(r Ref) bool
	// Erase removes the entry, running every policy's OnErase first.
	Erase(r Ref, reason Reason)
}

// Instance is a table-local policy. Name is used in logs and diagnostics.
type Instance interface {
	Name() string
}

// Policy is a factory that binds a policy to one table.
type Policy[K comparable, V any] interface {
	New(t Table[K, V]) Instance
}

// InsertHook observes new entries after they are indexed.
type InsertHook interface {
	OnInsert(r Ref, now int64)
}

// AccessHook inspects an entry found by lookup.
type AccessHook interface {
	OnAccess(r Ref, now int64) Verdict
}

// UpdateHook observes an in-place payload replacement (refresh).
type UpdateHook interface {
	OnUpdate(r Ref, now int64)
}

// EraseHook observes an entry right before it is unlinked.
// It must drop every reference the policy holds to r.
type EraseHook interface {
	OnErase(r Ref)
}

// EvictionHook runs after every insert or update. It may erase other
// entries to restore the policy's invariant but must never erase fresh.
type EvictionHook interface {
	EvictionCheck(now int64, fresh Ref)
}

// SweepHook reclaims entries proactively; it returns the number erased.
type SweepHook interface {
	Sweep(now int64) int
}

// FailureHook decides whether a resolver failure is stored as an entry.
type FailureHook interface {
	RetainFailure(err error) bool
}

// ProtectHook pins entries against capacity eviction.
type ProtectHook interface {
	Protected(r Ref) bool
}

// OwnershipHook counts external shared holders of an entry.
type OwnershipHook interface {
	Acquire(r Ref)
	Release(r Ref)
}
