package worker

import (
	"context"
	"sync"
)

// Gate is a pause flag shared by all in-flight operations. It is open by
// default; closing it suspends every caller in Wait until it reopens.
// The invoker closes the gate while a credential refresh is in flight so
// a storm of stale-credential failures triggers one refresh, not many.
type Gate struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewGate creates an open gate.
func NewGate() *Gate {
	g := &Gate{ch: make(chan struct{})}
	close(g.ch)
	return g
}

// Close pauses the gate. Idempotent.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		// Currently open; replace with an unclosed channel.
		g.ch = make(chan struct{})
	default:
		// Already closed.
	}
}

// Open resumes all waiters. Idempotent.
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		// Already open.
	default:
		close(g.ch)
	}
}

// Wait blocks until the gate is open or the context is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
