package cache

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/policycache/policy"
	"github.com/IvanBrykalov/policycache/policy/expireat"
	"github.com/IvanBrykalov/policycache/policy/maxage"
	"github.com/IvanBrykalov/policycache/policy/maxsize"
	"github.com/IvanBrykalov/policycache/policy/negcache"
	"github.com/IvanBrykalov/policycache/policy/refresh"
	"github.com/IvanBrykalov/policycache/resolver"
)

// countingFib is F(n) with F(0) = 0; it fails with KindRange past F(93).
type countingFib struct{ calls atomic.Int64 }

func (f *countingFib) resolve(_ context.Context, n uint32) (uint64, error) {
	f.calls.Add(1)
	var a, b uint64 = 0, 1
	for i := uint32(0); i < n; i++ {
		if b < a {
			return 0, resolver.Errorf(resolver.KindRange, "fibonacci(%d) too large for uint64", n)
		}
		a, b = b, a+b
	}
	return a, nil
}

func TestCache_ResolvesAndCaches(t *testing.T) {
	t.Parallel()

	fib := &countingFib{}
	c := MustNew(Options[uint32, uint64]{Resolver: fib.resolve})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	v, err := c.Get(ctx, 10)
	require.NoError(t, err)
	require.EqualValues(t, 55, v)

	v, err = c.Get(ctx, 93)
	require.NoError(t, err)
	require.Equal(t, uint64(12200160415121876738), v)

	_, _ = c.Get(ctx, 10)
	require.EqualValues(t, 2, fib.calls.Load())

	st := c.Stats()
	require.EqualValues(t, 1, st.Hits)
	require.EqualValues(t, 2, st.Misses)
	require.EqualValues(t, 2, st.Resolves)
	require.Equal(t, 2, st.Entries)
}

func TestCache_FailurePropagatesWithoutNegativeCache(t *testing.T) {
	t.Parallel()

	fib := &countingFib{}
	c := MustNew(Options[uint32, uint64]{Resolver: fib.resolve})
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), 94)
		var f *resolver.Failure
		require.ErrorAs(t, err, &f)
		require.Equal(t, resolver.KindRange, f.Kind)
		require.Equal(t, "range: fibonacci(94) too large for uint64", err.Error())
	}
	require.EqualValues(t, 3, fib.calls.Load())
	require.Zero(t, c.Count())
	require.EqualValues(t, 3, c.Stats().Failures)
}

func TestCache_NegativeCacheIdempotence(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	fib := &countingFib{}
	c := MustNew(Options[uint32, uint64]{
		Policies: []policy.Policy[uint32, uint64]{negcache.New[uint32, uint64](10 * time.Second)},
		Resolver: fib.resolve,
		Clock:    clk,
	})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	_, err1 := c.Get(ctx, 94)
	require.Error(t, err1)
	clk.add(9 * time.Second)
	_, err2 := c.Get(ctx, 94)
	require.Same(t, err1, err2, "the stored failure must be re-raised as is")
	require.EqualValues(t, 1, fib.calls.Load())

	clk.add(time.Second)
	_, err3 := c.Get(ctx, 94)
	require.Error(t, err3)
	require.NotSame(t, err1, err3)
	require.EqualValues(t, 2, fib.calls.Load(), "resolver must run exactly once more after expiry")
}

func TestCache_CanceledFailuresAreNotRetained(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	c := MustNew(Options[string, int]{
		Policies: []policy.Policy[string, int]{negcache.New[string, int](time.Minute)},
		Resolver: func(ctx context.Context, _ string) (int, error) {
			calls.Add(1)
			return 0, ctx.Err()
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "k")
	require.Equal(t, resolver.KindCanceled, resolver.KindOf(err))
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, c.Count())

	_, _ = c.Get(ctx, "k")
	require.EqualValues(t, 2, calls.Load())
}

func TestCache_ResolverPanicBecomesFailure(t *testing.T) {
	t.Parallel()

	c := MustNew(Options[string, int]{
		Resolver: func(context.Context, string) (int, error) { panic("kaboom") },
	})
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Get(context.Background(), "k")
	require.Equal(t, resolver.KindPanic, resolver.KindOf(err))
	require.Contains(t, err.Error(), "kaboom")
}

type token struct {
	id      int
	expires time.Time
}

func TestCache_ExpireAtFromValue(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(1000, 0).UnixNano()}
	var calls atomic.Int64
	c := MustNew(Options[string, token]{
		Policies: []policy.Policy[string, token]{
			expireat.New[string, token](func(_ string, v token) time.Time { return v.expires }),
		},
		Resolver: func(context.Context, string) (token, error) {
			n := int(calls.Add(1))
			return token{id: n, expires: time.Unix(0, clk.t).Add(time.Minute)}, nil
		},
		Clock: clk,
	})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	v, err := c.Get(ctx, "svc")
	require.NoError(t, err)
	require.Equal(t, 1, v.id)

	clk.add(59 * time.Second)
	v, _ = c.Get(ctx, "svc")
	require.Equal(t, 1, v.id)

	clk.add(time.Second)
	v, _ = c.Get(ctx, "svc")
	require.Equal(t, 2, v.id, "expired entry must be re-resolved exactly once")
	require.EqualValues(t, 2, calls.Load())
}

func TestCache_Refresh(t *testing.T) {
	for _, mode := range []Locking{LockCoarse, LockPerKey} {
		t.Run(mode.String(), func(t *testing.T) {
			clk := &fakeClock{}
			var calls atomic.Int64
			var fail atomic.Bool
			var updates atomic.Int64
			c := MustNew(Options[string, int]{
				Policies: []policy.Policy[string, int]{
					maxage.New[string, int](time.Hour),
					refresh.New[string, int](10 * time.Second),
				},
				Locking: mode,
				Resolver: func(context.Context, string) (int, error) {
					n := calls.Add(1)
					if fail.Load() {
						return 0, resolver.Errorf(resolver.KindUnavailable, "backend down")
					}
					updates.Add(1)
					return int(n), nil
				},
				Clock: clk,
			})
			t.Cleanup(func() { _ = c.Close() })
			ctx := context.Background()

			v, err := c.Get(ctx, "k")
			require.NoError(t, err)
			require.Equal(t, 1, v)

			clk.add(10 * time.Second)
			v, err = c.Get(ctx, "k")
			require.NoError(t, err)
			require.Equal(t, 2, v, "refresh replaces the value in place")
			require.Equal(t, 1, c.Count())

			fail.Store(true)
			clk.add(10 * time.Second)
			v, err = c.Get(ctx, "k")
			require.NoError(t, err, "a failed refresh serves the previous value")
			require.Equal(t, 2, v)
			require.EqualValues(t, 3, calls.Load())

			// Retried only after another interval.
			clk.add(5 * time.Second)
			_, _ = c.Get(ctx, "k")
			require.EqualValues(t, 3, calls.Load())

			fail.Store(false)
			clk.add(5 * time.Second)
			v, _ = c.Get(ctx, "k")
			require.Equal(t, 4, v)
			require.EqualValues(t, 3, updates.Load())
		})
	}
}

// Resolution under LockPerKey does not block other keys.
func TestCache_PerKeyResolvesOtherKeysConcurrently(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	c := MustNew(Options[string, string]{
		Locking: LockPerKey,
		Resolver: func(_ context.Context, k string) (string, error) {
			if k == "slow" {
				close(entered)
				<-release
			}
			return "v:" + k, nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	var g errgroup.Group
	g.Go(func() error {
		_, err := c.Get(context.Background(), "slow")
		return err
	})
	<-entered

	v, err := c.Get(context.Background(), "fast")
	require.NoError(t, err)
	require.Equal(t, "v:fast", v)

	close(release)
	require.NoError(t, g.Wait())
	require.Equal(t, 2, c.Count())
}

// The capacity bound holds after any concurrent workload.
func TestCache_CapacityInvariantUnderConcurrency(t *testing.T) {
	t.Parallel()

	for _, mode := range []Locking{LockCoarse, LockPerKey} {
		c := MustNew(Options[int, int]{
			Policies: []policy.Policy[int, int]{maxsize.New[int, int](64)},
			Locking:  mode,
			Resolver: func(_ context.Context, k int) (int, error) { return k * 2, nil },
		})

		var g errgroup.Group
		for w := 0; w < 8; w++ {
			g.Go(func() error {
				r := rand.New(rand.NewSource(int64(w)))
				for i := 0; i < 2_000; i++ {
					k := r.Intn(1_000)
					v, err := c.Get(context.Background(), k)
					if err != nil {
						return err
					}
					if v != k*2 {
						return errors.New("wrong value for " + strconv.Itoa(k))
					}
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		require.LessOrEqual(t, c.Count(), 64, mode.String())
		_ = c.Close()
	}
}

func TestCache_CompositionErrors(t *testing.T) {
	t.Parallel()

	type point struct{ x, y int }

	_, err := New(Options[point, int]{})
	require.ErrorIs(t, err, ErrUnhashableKey)

	c, err := New(Options[point, int]{
		Hash: func(p point) uint64 { return uint64(p.x)*31 + uint64(p.y) },
	})
	require.NoError(t, err)
	require.True(t, c.Emplace(point{1, 2}, 3))
	v, err := c.Get(context.Background(), point{1, 2})
	require.NoError(t, err)
	require.Equal(t, 3, v)

	_, err = New(Options[string, int]{Policies: []policy.Policy[string, int]{nil}})
	require.ErrorIs(t, err, ErrNoPolicy)

	_, err = New(Options[string, int]{Locking: LockNone, SweepInterval: time.Second})
	require.Error(t, err)

	require.Panics(t, func() { MustNew(Options[string, int]{Policies: []policy.Policy[string, int]{nil}}) })
}

// Durations too long to add to the clock mean "never", not "already due".
func TestCache_HugeDurationsNeverExpire(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	c := MustNew(Options[int, int]{
		Policies: []policy.Policy[int, int]{maxage.New[int, int](time.Duration(math.MaxInt64))},
		Resolver: func(_ context.Context, k int) (int, error) {
			calls.Add(1)
			return k, nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })
	for i := 0; i < 3; i++ {
		v, err := c.Get(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, 1, v)
	}
	require.EqualValues(t, 1, calls.Load())

	fib := &countingFib{}
	nc := MustNew(Options[uint32, uint64]{
		Policies: []policy.Policy[uint32, uint64]{negcache.New[uint32, uint64](time.Duration(math.MaxInt64))},
		Resolver: fib.resolve,
	})
	t.Cleanup(func() { _ = nc.Close() })
	_, err1 := nc.Get(context.Background(), 100)
	require.Error(t, err1)
	for i := 0; i < 2; i++ {
		_, err := nc.Get(context.Background(), 100)
		require.Same(t, err1, err)
	}
	require.EqualValues(t, 1, fib.calls.Load())
}

// Emplace on an entry due for a refresh stores the new value in its place;
// the refresh schedule restarts from there.
func TestCache_EmplaceOnDueRefresh(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	var calls atomic.Int64
	c := MustNew(Options[int, int]{
		Policies: []policy.Policy[int, int]{refresh.New[int, int](time.Second)},
		Resolver: func(context.Context, int) (int, error) { return int(calls.Add(1)), nil },
		Clock:    clk,
	})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	v, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	clk.add(2 * time.Second)
	require.True(t, c.Emplace(1, 99), "a due entry takes the emplaced value")
	v, err = c.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 99, v)
	require.EqualValues(t, 1, calls.Load())

	clk.add(2 * time.Second)
	v, err = c.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, v, "the next interval refreshes through the resolver")
	require.Equal(t, 1, c.Count())
}

// A resolution in flight when Close runs does not repopulate the cache.
func TestCache_CloseDuringResolution(t *testing.T) {
	for _, mode := range []Locking{LockCoarse, LockPerKey} {
		t.Run(mode.String(), func(t *testing.T) {
			entered := make(chan struct{})
			release := make(chan struct{})
			c := MustNew(Options[string, string]{
				Locking: mode,
				Resolver: func(_ context.Context, k string) (string, error) {
					close(entered)
					<-release
					return "v:" + k, nil
				},
			})

			var g errgroup.Group
			g.Go(func() error {
				v, err := c.Get(context.Background(), "k")
				if err == nil && v != "v:k" {
					return errors.New("unexpected value " + v)
				}
				return err
			})
			<-entered

			closed := make(chan struct{})
			go func() {
				_ = c.Close()
				close(closed)
			}()
			require.Eventually(t, c.closed.Load, time.Second, time.Millisecond)

			close(release)
			<-closed
			require.NoError(t, g.Wait())
			require.Zero(t, c.Count())
		})
	}
}

func TestCache_ClosedCache(t *testing.T) {
	t.Parallel()

	c := MustNew(Options[string, int]{
		Resolver: func(context.Context, string) (int, error) { return 1, nil },
	})
	c.Emplace("a", 1)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Get(context.Background(), "a")
	require.ErrorIs(t, err, ErrClosed)
	require.False(t, c.Emplace("b", 2))
	require.False(t, c.Erase("a"))
	require.Zero(t, c.Count())
	require.Zero(t, c.Sweep())
}

func TestCache_LockNone(t *testing.T) {
	t.Parallel()

	c := MustNew(Options[int, int]{
		Locking:  LockNone,
		Policies: []policy.Policy[int, int]{maxsize.New[int, int](2)},
		Resolver: func(_ context.Context, k int) (int, error) { return -k, nil },
	})
	for i := 1; i <= 3; i++ {
		v, err := c.Get(context.Background(), i)
		require.NoError(t, err)
		require.Equal(t, -i, v)
	}
	require.Equal(t, 2, c.Count())
	require.Equal(t, []string{"maxsize(2)"}, c.Policies())
}

type recordingMetrics struct {
	mu       sync.Mutex
	hits     int
	misses   int
	evicts   map[EvictReason]int
	size     int
	resolves int
	failed   int
}

func (m *recordingMetrics) Hit()  { m.mu.Lock(); m.hits++; m.mu.Unlock() }
func (m *recordingMetrics) Miss() { m.mu.Lock(); m.misses++; m.mu.Unlock() }
func (m *recordingMetrics) Evict(r EvictReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.evicts == nil {
		m.evicts = map[EvictReason]int{}
	}
	m.evicts[r]++
}
func (m *recordingMetrics) Size(n int) { m.mu.Lock(); m.size = n; m.mu.Unlock() }
func (m *recordingMetrics) Resolve(_ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolves++
	if err != nil {
		m.failed++
	}
}

func TestCache_MetricsAndEvictCallback(t *testing.T) {
	t.Parallel()

	m := &recordingMetrics{}
	var onEvict []string
	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
	c := MustNew(Options[int, string]{
		Policies: []policy.Policy[int, string]{maxsize.New[int, string](2)},
		Resolver: func(_ context.Context, k int) (string, error) {
			if k < 0 {
				return "", errors.New("negative")
			}
			return strconv.Itoa(k), nil
		},
		Metrics: m,
		Logger:  &logger,
		OnEvict: func(k int, v string, err error, reason EvictReason) {
			onEvict = append(onEvict, v+"/"+reason.String())
		},
	})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	for _, k := range []int{1, 2, 1, 3, -1} {
		_, _ = c.Get(ctx, k)
	}
	c.Erase(2)

	require.Equal(t, 1, m.hits)
	require.Equal(t, 4, m.misses)
	require.Equal(t, 4, m.resolves)
	require.Equal(t, 1, m.failed)
	require.Equal(t, map[EvictReason]int{EvictCapacity: 1}, m.evicts)
	require.Equal(t, 1, m.size)
	require.Equal(t, []string{"1/capacity"}, onEvict, "explicit erase is not reported")
	require.EqualValues(t, 1, c.Stats().Evictions)
}
