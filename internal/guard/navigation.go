package guard

import (
	"context"
	"sync"
)

// Navigation is one asynchronous guard evaluation. It reports Loading until
// the auth restore and any capability lookup have finished, then settles on
// a terminal outcome exactly once.
type Navigation struct {
	mu    sync.RWMutex
	state Outcome
	done  chan struct{}
}

// Navigate starts evaluating route for s. A lookup that never answers keeps
// the navigation in Loading.
func (g *Guard) Navigate(ctx context.Context, s Subject, route Route) *Navigation {
	if s == nil {
		s = anonymous{}
	}
	n := &Navigation{state: Loading, done: make(chan struct{})}
	go func() {
		select {
		case <-s.Ready():
		case <-ctx.Done():
			return
		}
		n.settle(g.decide(ctx, s, route))
	}()
	return n
}

// State returns the current outcome.
func (n *Navigation) State() Outcome {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Done is closed once the navigation has settled.
func (n *Navigation) Done() <-chan struct{} {
	return n.done
}

// Wait blocks until the navigation settles or ctx ends.
func (n *Navigation) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-n.done:
		return n.State(), nil
	case <-ctx.Done():
		return Loading, ctx.Err()
	}
}

func (n *Navigation) settle(o Outcome) {
	n.mu.Lock()
	n.state = o
	n.mu.Unlock()
	close(n.done)
}
