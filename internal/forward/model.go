package forward

import (
	"context"
	"errors"
	"fmt"

	"mdfcal/internal/model"
)

const (
	DefaultPoolCount = 6
	DefaultFluxCount = 21
)

var ErrShape = errors.New("trajectory shape mismatch")

// Call carries one forward model invocation. Start and End are 1-based and
// inclusive, matching the simulator's own indexing.
type Call struct {
	Start          int         `json:"start"`
	End            int         `json:"end"`
	StepDays       []float64   `json:"step_days"`
	Latitude       float64     `json:"latitude"`
	Drivers        [][]float64 `json:"-"`
	Parameters     []float64   `json:"-"`
	PoolCount      int         `json:"pool_count"`
	FluxCount      int         `json:"flux_count"`
	Version        int         `json:"version"`
	StepCount      int         `json:"step_count"`
	ParamCount     int         `json:"param_count"`
	DriverVarCount int         `json:"driver_var_count"`
}

// Model is one simulator version. Simulate must be deterministic for a given
// call; numerical blow-up is reported through the trajectory values, not
// through the error.
type Model interface {
	Version() int
	Name() string
	Simulate(ctx context.Context, call Call) (model.Trajectory, error)
}

// Adapter binds a model to the read-only driver series of one site.
type Adapter struct {
	model     Model
	drivers   model.DriverSeries
	poolCount int
	fluxCount int
	stepDays  []float64
}

func NewAdapter(m Model, drivers model.DriverSeries) (*Adapter, error) {
	if m == nil {
		return nil, errors.New("forward model is required")
	}
	if drivers.Steps() == 0 {
		return nil, errors.New("driver series is empty")
	}
	stepDays := make([]float64, drivers.Steps())
	for i := range stepDays {
		stepDays[i] = drivers.StepDays
	}
	return &Adapter{
		model:     m,
		drivers:   drivers,
		poolCount: DefaultPoolCount,
		fluxCount: DefaultFluxCount,
		stepDays:  stepDays,
	}, nil
}

func (a *Adapter) Model() Model { return a.model }

// Simulate runs the model over the whole driver series, spin-up included,
// and checks the shape of what comes back.
func (a *Adapter) Simulate(ctx context.Context, params model.ParameterVector) (model.Trajectory, error) {
	steps := a.drivers.Steps()
	call := Call{
		Start:          1,
		End:            steps,
		StepDays:       a.stepDays,
		Latitude:       a.drivers.Latitude,
		Drivers:        a.drivers.Rows,
		Parameters:     params,
		PoolCount:      a.poolCount,
		FluxCount:      a.fluxCount,
		Version:        a.model.Version(),
		StepCount:      steps,
		ParamCount:     len(params),
		DriverVarCount: a.drivers.Vars(),
	}
	traj, err := a.model.Simulate(ctx, call)
	if err != nil {
		return model.Trajectory{}, fmt.Errorf("%s: %w", a.model.Name(), err)
	}
	if err := checkShape(traj, steps, a.poolCount, a.fluxCount); err != nil {
		return model.Trajectory{}, fmt.Errorf("%s: %w", a.model.Name(), err)
	}
	return traj, nil
}

func checkShape(t model.Trajectory, steps, pools, fluxes int) error {
	if len(t.LAI) != steps || len(t.GPP) != steps || len(t.NEE) != steps {
		return fmt.Errorf("%w: lai/gpp/nee lengths %d/%d/%d, want %d", ErrShape, len(t.LAI), len(t.GPP), len(t.NEE), steps)
	}
	if len(t.Pools) != steps || len(t.Fluxes) != steps {
		return fmt.Errorf("%w: pools/fluxes rows %d/%d, want %d", ErrShape, len(t.Pools), len(t.Fluxes), steps)
	}
	for i := 0; i < steps; i++ {
		if len(t.Pools[i]) != pools {
			return fmt.Errorf("%w: pools row %d has %d columns, want %d", ErrShape, i, len(t.Pools[i]), pools)
		}
		if len(t.Fluxes[i]) != fluxes {
			return fmt.Errorf("%w: fluxes row %d has %d columns, want %d", ErrShape, i, len(t.Fluxes[i]), fluxes)
		}
	}
	if len(t.Removals) != 2 || len(t.Removals[0]) != steps || len(t.Removals[1]) != steps {
		return fmt.Errorf("%w: removals must be 2x%d", ErrShape, steps)
	}
	return nil
}

// Func adapts a plain function to Model. It is used for in-process models and
// test doubles.
type Func struct {
	ModelName    string
	ModelVersion int
	Fn           func(ctx context.Context, call Call) (model.Trajectory, error)
}

func (f Func) Version() int { return f.ModelVersion }

func (f Func) Name() string {
	if f.ModelName == "" {
		return "func"
	}
	return f.ModelName
}

func (f Func) Simulate(ctx context.Context, call Call) (model.Trajectory, error) {
	if f.Fn == nil {
		return model.Trajectory{}, errors.New("model function is nil")
	}
	return f.Fn(ctx, call)
}
