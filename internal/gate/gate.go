// Package gate provides the single-slot rate gate that serializes all calls
// to the Steam Web API. The backend is polled under one API key identity, so
// at most one request may be outstanding at any time regardless of which
// polling tier issued it.
package gate

import (
	"context"
	"sync"
)

// Gate is a single-slot mutual exclusion primitive. Acquire blocks until the
// slot is free; Release must be called exactly once per successful Acquire,
// on all paths. Waiters are served by condition-variable wakeup, which keeps
// fairness at FIFO-or-better: a tier may lose a race transiently but can
// never be starved indefinitely by a bounded set of other tiers.
type Gate struct {
	held bool
	mu   sync.Mutex
	cond *sync.Cond
}

// New returns an unheld gate.
func New() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Acquire blocks until the gate is free or ctx is done. On success the caller
// holds the gate and must Release it; a typical caller does
//
//	if err := g.Acquire(ctx); err != nil { ... }
//	defer g.Release()
//
// so release happens on all paths including collector faults.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				g.cond.Broadcast()
			case <-done:
			}
		}()
		defer close(done)

		for g.held {
			g.cond.Wait()

			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}

	g.held = true
	return nil
}

// TryAcquire acquires the gate without blocking. It reports whether the gate
// was acquired.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held {
		return false
	}

	g.held = true
	return true
}

// Release frees the gate and wakes one waiter. Releasing an unheld gate is a
// no-op rather than a panic; the engine treats a double release as a caller
// bug but must not crash the timers over it.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.held = false
	g.cond.Signal()
}

// Held reports whether the gate is currently held.
func (g *Gate) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}
