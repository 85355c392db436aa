package cache

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/policycache/policy"
	"github.com/IvanBrykalov/policycache/resolver"
)

// Options configures the cache behavior. Zero values are safe;
// sane defaults are applied in New():
//   - no Policies  => unbounded table, entries live until erased
//   - nil Hash     => xxhash-based hasher for the key type
//   - nil Metrics  => NoopMetrics
//   - nil Logger   => disabled logger
type Options[K comparable, V any] struct {
	// Policies are bound to the table in order. Hooks run in this order
	// for every event, so it is also the tie-break between policies that
	// evict. See config.Policies for the canonical order.
	Policies []policy.Policy[K, V]

	// Resolver computes missing values. Nil => Get returns ErrNoResolver
	// on a miss (Emplace still works).
	Resolver resolver.Func[K, V]

	// Locking selects the concurrency discipline (default LockCoarse).
	Locking Locking

	// Hash and Equal override key hashing and comparison. Equal must agree
	// with Hash.
	Hash  func(K) uint64
	Equal func(a, b K) bool

	// SweepInterval > 0 starts a background sweep, stopped by Close.
	// It requires a locking mode other than LockNone.
	SweepInterval time.Duration

	// SizeHint pre-sizes the table.
	SizeHint int

	// Observability
	// OnEvict is called for every non-explicit removal while the table is
	// locked; keep callbacks lightweight and do not call back into the cache.
	OnEvict func(k K, v V, err error, reason EvictReason)
	Metrics Metrics
	Logger  *zerolog.Logger

	// Clock allows overriding time source (tests). Nil => time.Now().
	Clock Clock
}
