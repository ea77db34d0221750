// Package taskgroup runs named tasks concurrently under a limiter shared
// between groups, with a policy deciding what happens to failures.
package taskgroup

import (
	"context"
	"fmt"
	"sync"

	"github.com/torfstack/smog/internal/logging"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
)

type Policy int

const (
	// Suppress logs and counts failures. Wait returns nil.
	Suppress Policy = iota
	// CollectAndRaise lets every task finish, then Wait returns all
	// failures combined.
	CollectAndRaise
)

func (p Policy) String() string {
	if p == CollectAndRaise {
		return "collect-and-raise"
	}
	return "suppress"
}

// Group is a phase: Wait is its barrier. A failing task never cancels the
// others.
type Group struct {
	ctx      context.Context
	limiter  *semaphore.Weighted
	policy   Policy
	progress *Progress

	wg       sync.WaitGroup
	mu       sync.Mutex
	err      error
	failures int
}

func New(ctx context.Context, limiter *semaphore.Weighted, policy Policy) *Group {
	return &Group{ctx: ctx, limiter: limiter, policy: policy}
}

// WithProgress reports every task as it starts, numbered against total.
func (g *Group) WithProgress(total int) *Group {
	g.progress = NewProgress(total)
	return g
}

// Go runs fn once a unit of the limiter is free. The unit is released when
// fn returns, whatever the outcome. A task still waiting for the limiter
// when ctx is done fails with the context error.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.wg.Go(func() {
		if err := g.limiter.Acquire(g.ctx, 1); err != nil {
			g.fail(name, err)
			return
		}
		defer g.limiter.Release(1)

		if g.progress != nil {
			g.progress.Step(name)
		}
		if err := fn(g.ctx); err != nil {
			g.fail(name, err)
		}
	})
}

func (g *Group) fail(name string, err error) {
	logging.Errorf("%s failed: %s", name, err)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
	if g.policy == CollectAndRaise {
		g.err = multierr.Append(g.err, fmt.Errorf("%s: %w", name, err))
	}
}

// Wait blocks until every task has finished.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (g *Group) Failures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}
