package cache

import (
	"errors"
	"fmt"
	"strings"

	"github.com/IvanBrykalov/policycache/policy"
)

var (
	// ErrNoResolver is returned by Get on a miss when Options.Resolver is nil.
	ErrNoResolver = errors.New("cache: no resolver configured")
	// ErrClosed is returned by operations on a closed (or collected) cache.
	ErrClosed = errors.New("cache: closed")
	// ErrNoOwnership is returned by Acquire when no policy counts holders.
	ErrNoOwnership = errors.New("cache: no ownership policy configured")
	// ErrUnhashableKey is returned by New when the key type has no default
	// hasher and Options.Hash is nil.
	ErrUnhashableKey = errors.New("cache: key type is not hashable by default")
	// ErrNoPolicy is returned by New when the policy list holds a nil entry.
	ErrNoPolicy = errors.New("cache: nil policy")
)

// EvictReason explains why an entry was removed.
type EvictReason = policy.Reason

const (
	// EvictPolicy: removed by a policy's admission rules (e.g., 2Q).
	EvictPolicy = policy.EvictPolicy
	// EvictExpired: a deadline passed (absolute, relative or negative).
	EvictExpired = policy.EvictExpired
	// EvictCapacity: removed to satisfy a capacity bound.
	EvictCapacity = policy.EvictCapacity
	// EvictUnreferenced: the last Handle was released.
	EvictUnreferenced = policy.EvictUnreferenced
	// EvictExplicit: removed by Erase or Close. Not reported to OnEvict.
	EvictExplicit = policy.EvictExplicit
)

// Locking selects how the cache serializes access.
type Locking uint8

const (
	// LockCoarse holds one mutex across lookup, resolution, insert and
	// eviction. At most one resolution runs at a time.
	LockCoarse Locking = iota
	// LockNone does no synchronization; the caller serializes.
	LockNone
	// LockPerKey guards only table operations; resolution runs outside the
	// mutex with at most one resolution in flight per key.
	LockPerKey
)

func (l Locking) String() string {
	switch l {
	case LockCoarse:
		return "coarse"
	case LockNone:
		return "none"
	case LockPerKey:
		return "per-key"
	default:
		return fmt.Sprintf("locking(%d)", int(l))
	}
}

// ParseLocking parses "coarse", "none" or "per-key". Empty means coarse.
func ParseLocking(s string) (Locking, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "coarse":
		return LockCoarse, nil
	case "none", "unsafe":
		return LockNone, nil
	case "per-key", "perkey", "per_key":
		return LockPerKey, nil
	default:
		return 0, fmt.Errorf("cache: unknown locking mode %q", s)
	}
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Stats is a point-in-time snapshot of the cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64 // excludes explicit erases
	Resolves  uint64
	Failures  uint64 // failed resolutions, retained or not
	Entries   int
}
