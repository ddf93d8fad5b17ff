package vfs

import (
	"context"
	"sync"
)

// Gate is a one-shot settled notification for remote-layer initialization.
// Waiters block on a single channel that is closed exactly once; there is no
// polling and at most one initializer runs per gate.
type Gate struct {
	once  sync.Once
	start sync.Once
	done  chan struct{}
	err   error
}

// NewGate creates an unsettled gate.
func NewGate() *Gate {
	return &Gate{done: make(chan struct{})}
}

// Init runs fn at most once per gate; concurrent callers that lose the race
// fall through to Wait. The error from fn settles the gate and is returned
// to every waiter.
func (g *Gate) Init(ctx context.Context, fn func(context.Context) error) error {
	g.start.Do(func() {
		// Detach the initializer from the winning caller's cancellation so
		// that one cancelled compile cannot settle the gate with a context
		// error that every later waiter would then observe.
		initCtx := context.WithoutCancel(ctx)
		go func() {
			g.settle(fn(initCtx))
		}()
	})
	return g.Wait(ctx)
}

// Settled reports whether initialization has finished.
func (g *Gate) Settled() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate settles or the context is cancelled.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) settle(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.done)
	})
}
