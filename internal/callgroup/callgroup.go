// Package callgroup provides call deduplication by key.
//
// If multiple goroutines request the same key concurrently, only one
// executes the work. The others wait and receive the same result.
// Once the work finishes, the key is forgotten and future calls
// trigger a new execution.
package callgroup

import (
	"context"
	"sync"
)

// Group deduplicates concurrent work by key.
// The zero value is ready to use.
type Group[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
}

type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Flight is a claim on a key. The caller that started it is the leader and
// must call Finish exactly once; every other claimant only waits.
type Flight[K comparable, V any] struct {
	g      *Group[K, V]
	key    K
	c      *call[V]
	shared bool
}

// Shared reports whether the claim joined work already in flight.
func (f *Flight[K, V]) Shared() bool { return f.shared }

// Wait blocks until the flight finishes or ctx is done. Giving up does not
// affect the flight; other waiters still receive its result.
func (f *Flight[K, V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-f.c.done:
		return f.c.val, f.c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Finish publishes the result to all waiters. Only the leader may call it.
func (f *Flight[K, V]) Finish(v V, err error) {
	if f.shared {
		panic("callgroup: Finish called on a shared flight")
	}
	f.c.val, f.c.err = v, err

	// Forget the key before releasing waiters so a caller that saw the
	// result and retries starts a fresh execution.
	f.g.mu.Lock()
	delete(f.g.calls, f.key)
	f.g.mu.Unlock()

	close(f.c.done)
}

// Claim joins the flight for key, starting one when none is running. Use it
// when the work for several keys is done together, as in a batched fetch.
func (g *Group[K, V]) Claim(key K) *Flight[K, V] {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = make(map[K]*call[V])
	}
	if c, ok := g.calls[key]; ok {
		return &Flight[K, V]{g: g, key: key, c: c, shared: true}
	}
	c := &call[V]{done: make(chan struct{})}
	g.calls[key] = c
	return &Flight[K, V]{g: g, key: key, c: c}
}

// Do runs fn once per key across concurrent callers. The shared call keeps
// running when ctx is done, so other waiters still receive its result; only
// this caller returns early with ctx.Err().
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (V, bool, error) {
	f := g.Claim(key)
	if !f.shared {
		go func() { f.Finish(fn()) }()
	}
	v, err := f.Wait(ctx)
	return v, f.shared, err
}

// InFlight reports the number of keys with work currently executing.
func (g *Group[K, V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
