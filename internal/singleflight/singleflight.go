// Package singleflight coalesces concurrent resolutions of the same key.
package singleflight

import (
	"context"
	"fmt"
	"sync"
)

// Group coalesces concurrent function calls for the same key K so that
// the supplied fn is executed at most once at a time per key. Other
// concurrent callers wait for the shared result.
//
// Concurrency notes:
//   - The first caller for a given key becomes the leader and runs fn.
//   - Followers wait on c.done. Publishing (val, err) happens-before
//     close(c.done), so reads after <-done observe the final values.
//   - Cancelling ctx in a follower unblocks only that follower; it does
//     NOT cancel the leader's fn.
//   - If fn panics, followers receive a *PanicError and the panic is
//     re-raised in the leader.
//
// The zero value is ready to use.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed when val/err are published
	val  V
	err  error
	dups int
}

// PanicError is returned to followers when the leader's fn panicked.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string { return fmt.Sprintf("singleflight: leader panicked: %v", p.Value) }

// Do runs fn once for the given key. Concurrent calls with the same key
// wait for the shared result. shared reports whether the result was
// delivered to more than one caller.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (v V, err error, shared bool) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		c.dups++
		g.mu.Unlock()

		select {
		case <-c.done:
			return c.val, c.err, true
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err(), false
		}
	}

	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	g.run(c, key, fn)

	g.mu.Lock()
	shared = c.dups > 0
	g.mu.Unlock()
	return c.val, c.err, shared
}

// run executes fn outside the group lock and always publishes a result
// and clears the in-flight marker, even if fn panics.
func (g *Group[K, V]) run(c *call[V], key K, fn func() (V, error)) {
	normal := false
	defer func() {
		if !normal {
			r := recover()
			c.err = &PanicError{Value: r}
			defer panic(r)
		}
		g.mu.Lock()
		delete(g.m, key)
		g.mu.Unlock()
		close(c.done)
	}()

	c.val, c.err = fn()
	normal = true
}

// InFlight reports whether a call for key is currently running.
func (g *Group[K, V]) InFlight(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}
