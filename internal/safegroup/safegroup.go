// Package safegroup runs goroutines under an errgroup and turns panics into
// errors
package safegroup

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/critters-rs/critters-pack/pkg/logger"
)

// Group is an errgroup.Group whose goroutines cannot crash the process
type Group struct {
	group  *errgroup.Group
	logger logger.Logger
}

// New returns a group and a context cancelled when any member fails
func New(ctx context.Context, log logger.Logger) (*Group, context.Context) {
	if log == nil {
		log = logger.Discard()
	}
	g, ctx := errgroup.WithContext(ctx)
	return &Group{group: g, logger: log}, ctx
}

// Go runs fn in a new goroutine. A panic is logged with its stack and
// returned as the goroutine's error.
func (g *Group) Go(name string, fn func() error) {
	g.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("Goroutine panic recovered",
					logger.WithField("goroutine", name),
					logger.WithField("panic", r),
					logger.WithField("stack_trace", string(debug.Stack())))
				err = fmt.Errorf("%s panicked: %v", name, r)
			}
		}()
		return fn()
	})
}

// Wait blocks until every goroutine has returned and yields the first error
func (g *Group) Wait() error {
	return g.group.Wait()
}
