package evaluate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/floats"

	"mdfcal/internal/model"
	"mdfcal/internal/params"
)

// Simulator produces a full-length trajectory for one parameter vector, laid
// out with six pools and 21 fluxes per step as forward.Adapter guarantees.
type Simulator interface {
	Simulate(ctx context.Context, p model.ParameterVector) (model.Trajectory, error)
}

type Config struct {
	Simulator    Simulator
	Drivers      model.DriverSeries
	Observations model.ObservationSeries
	Limits       Limits
	ParamCount   int
}

// Stats counts evaluator activity. Safe for concurrent use.
type Stats struct {
	Evaluations   int64
	ShortCircuits int64
	Simulations   int64
	Rejected      int64
}

// Evaluator scores parameter vectors against LAI observations. It holds no
// per-candidate state, so one evaluator may serve several chains.
type Evaluator struct {
	sim        Simulator
	drivers    model.DriverSeries
	obs        model.ObservationSeries
	limits     Limits
	paramCount int
	ordering   []ParamCheck
	checks     []TrajectoryCheck

	evaluations   atomic.Int64
	shortCircuits atomic.Int64
	simulations   atomic.Int64
	rejected      atomic.Int64
}

func New(cfg Config) (*Evaluator, error) {
	if cfg.Simulator == nil {
		return nil, errors.New("simulator is required")
	}
	if cfg.Drivers.Steps() == 0 {
		return nil, errors.New("driver series is empty")
	}
	if cfg.Drivers.ScoredSteps() == 0 {
		return nil, errors.New("driver series has no steps after spin-up")
	}
	if off := cfg.Observations.Offset; off < 0 || off >= cfg.Drivers.ScoredSteps() {
		return nil, fmt.Errorf("observation offset %d outside %d scored steps", off, cfg.Drivers.ScoredSteps())
	}
	if cfg.Drivers.StepDays <= 0 {
		return nil, errors.New("step duration must be > 0")
	}
	if cfg.ParamCount == 0 {
		cfg.ParamCount = params.DALECGrassCount
	}
	if cfg.ParamCount < params.DALECGrassCount {
		return nil, fmt.Errorf("parameter count %d below the %d referenced by the checks", cfg.ParamCount, params.DALECGrassCount)
	}
	if err := cfg.Limits.Validate(defaultPools, defaultFluxes); err != nil {
		return nil, fmt.Errorf("limits: %w", err)
	}
	if cfg.Limits.CutDriverRow >= cfg.Drivers.Vars() {
		return nil, fmt.Errorf("cut driver row %d outside %d driver variables", cfg.Limits.CutDriverRow, cfg.Drivers.Vars())
	}
	return &Evaluator{
		sim:        cfg.Simulator,
		drivers:    cfg.Drivers,
		obs:        cfg.Observations,
		limits:     cfg.Limits,
		paramCount: cfg.ParamCount,
		ordering:   OrderingChecks(),
		checks:     FeasibilityChecks(),
	}, nil
}

const (
	defaultPools  = 6
	defaultFluxes = 21
)

// Evaluate runs the ordering checks, the forward model, the feasibility
// checks and finally the LAI fit. Infeasibility is a score, not an error; an
// error means the forward model itself failed.
func (e *Evaluator) Evaluate(ctx context.Context, p model.ParameterVector) (model.Score, error) {
	if len(p) != e.paramCount {
		return model.Score{}, fmt.Errorf("parameter vector has %d values, want %d", len(p), e.paramCount)
	}
	e.evaluations.Add(1)

	if reason := CheckOrdering(e.ordering, p); reason != "" {
		e.shortCircuits.Add(1)
		e.rejected.Add(1)
		return model.Rejected(reason), nil
	}

	traj, err := e.sim.Simulate(ctx, p)
	if err != nil {
		return model.Score{}, err
	}
	e.simulations.Add(1)

	w := Window{
		Params:     p,
		Trajectory: traj.Tail(e.drivers.SpinupSteps),
		CutDriver:  e.drivers.ScoredRow(e.limits.CutDriverRow),
		Dated:      e.obs.Offset,
		StepDays:   e.drivers.StepDays,
		Years:      e.drivers.Years,
		Limits:     e.limits,
	}
	if reason := CheckFeasibility(e.checks, w); reason != "" {
		e.rejected.Add(1)
		return model.Rejected(reason), nil
	}

	rmse, ok := RMSE(after(w.Trajectory.LAI, w.Dated), e.obs.LAI)
	if !ok {
		e.rejected.Add(1)
		return model.Rejected(ReasonNoOverlap), nil
	}
	return model.Fit(rmse), nil
}

func (e *Evaluator) Stats() Stats {
	return Stats{
		Evaluations:   e.evaluations.Load(),
		ShortCircuits: e.shortCircuits.Load(),
		Simulations:   e.simulations.Load(),
		Rejected:      e.rejected.Load(),
	}
}

// RMSE pairs sim[k] with obs[k], drops pairs with a missing observation and
// returns the root-mean-square error of the rest. ok is false when nothing
// is left to compare.
func RMSE(sim, obs []float64) (float64, bool) {
	n := len(sim)
	if len(obs) < n {
		n = len(obs)
	}
	s := make([]float64, 0, n)
	o := make([]float64, 0, n)
	for k := 0; k < n; k++ {
		if math.IsNaN(obs[k]) || math.IsNaN(sim[k]) {
			continue
		}
		s = append(s, sim[k])
		o = append(o, obs[k])
	}
	if len(s) == 0 {
		return 0, false
	}
	return floats.Distance(s, o, 2) / math.Sqrt(float64(len(s))), true
}
