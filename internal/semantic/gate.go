package semantic

import (
	"context"
	"sync"
)

// gate is a pausable barrier. Indexing loops call wait between batches;
// wait blocks while the gate is paused and returns immediately otherwise.
// Waiters block on a channel rather than polling.
type gate struct {
	mu       sync.Mutex
	unpaused chan struct{} // closed while running
}

func newGate() *gate {
	g := &gate{unpaused: make(chan struct{})}
	close(g.unpaused)
	return g
}

func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.unpaused:
		g.unpaused = make(chan struct{})
	default:
		// already paused
	}
}

func (g *gate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.unpaused:
		// already running
	default:
		close(g.unpaused)
	}
}

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.unpaused
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
