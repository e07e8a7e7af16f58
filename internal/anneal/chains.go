package anneal

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// ChainSpec wires one chain of a parallel run.
type ChainSpec struct {
	Recorder Recorder
	Progress Progress
}

// RunChains runs len(specs) independent chains. Chain k is seeded with
// cfg.Seed+k and owns its state and recorder; the evaluator is shared and must
// be safe for concurrent use. The first chain failure cancels the rest.
func RunChains(ctx context.Context, cfg Config, space Space, eval Evaluator, specs []ChainSpec) ([]*State, error) {
	if len(specs) == 0 {
		return nil, errors.New("at least one chain is required")
	}
	controllers := make([]*Controller, len(specs))
	for k, spec := range specs {
		c, err := New(cfg, space, eval, WithChain(k), WithProgress(spec.Progress))
		if err != nil {
			return nil, err
		}
		controllers[k] = c
	}

	states := make([]*State, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for k := range controllers {
		k := k
		g.Go(func() error {
			st, err := controllers[k].Run(gctx, specs[k].Recorder)
			states[k] = st
			return err
		})
	}
	err := g.Wait()
	return states, err
}

// Best returns the chain state holding the best feasible candidate.
func Best(states []*State) (*State, bool) {
	var best *State
	for _, st := range states {
		if st == nil || !st.HasBest {
			continue
		}
		if best == nil || st.Best.Score.Better(best.Best.Score) {
			best = st
		}
	}
	return best, best != nil
}
