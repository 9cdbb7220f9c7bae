package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Runner is anything with a blocking Run loop, typically the sched workers.
type Runner interface {
	Run(ctx context.Context) error
}

// Group supervises a set of background runners. Each runner gets its own
// goroutine; Wait blocks until every runner has returned after the shared
// context is cancelled.
type Group struct {
	wg  sync.WaitGroup
	log *zerolog.Logger
}

func NewGroup(logger *zerolog.Logger) *Group {
	grpLog := logger.With().Str("component", "WorkerGroup").Logger()
	return &Group{log: &grpLog}
}

func (g *Group) Go(ctx context.Context, name string, r Runner) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := r.Run(ctx); err != nil && err != context.Canceled {
			g.log.Error().Err(err).Str("worker", name).Msg("worker exited with error")
			return
		}
		g.log.Info().Str("worker", name).Msg("worker stopped")
	}()
}

func (g *Group) Wait() {
	g.wg.Wait()
}
