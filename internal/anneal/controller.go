package anneal

import (
	"context"
	"errors"
	"math"
	"math/rand"

	"mdfcal/internal/model"
	"mdfcal/internal/params"
)

type Config struct {
	Repetitions          int     `json:"repetitions" yaml:"repetitions"`
	InitialTemperature   float64 `json:"initial_temperature" yaml:"initial_temperature"`
	TrialsPerTemperature int     `json:"trials_per_temperature" yaml:"trials_per_temperature"`
	Alpha                float64 `json:"alpha" yaml:"alpha"`
	StepScale            float64 `json:"step_scale" yaml:"step_scale"`
	Seed                 int64   `json:"seed" yaml:"seed"`
}

func DefaultConfig() Config {
	return Config{
		Repetitions:          10_000_000,
		InitialTemperature:   90,
		TrialsPerTemperature: 3000,
		Alpha:                0.99,
		StepScale:            0.1,
		Seed:                 1,
	}
}

func (c Config) Validate() error {
	if c.Repetitions <= 0 {
		return errors.New("repetitions must be > 0")
	}
	if !(c.InitialTemperature > 0) || math.IsInf(c.InitialTemperature, 0) {
		return errors.New("initial temperature must be > 0")
	}
	if c.TrialsPerTemperature <= 0 {
		return errors.New("trials per temperature must be > 0")
	}
	if !(c.Alpha > 0 && c.Alpha < 1) {
		return errors.New("alpha must be in (0,1)")
	}
	if !(c.StepScale > 0) {
		return errors.New("step scale must be > 0")
	}
	return nil
}

type Evaluator interface {
	Evaluate(ctx context.Context, p model.ParameterVector) (model.Score, error)
}

// Space is the parameter domain a chain draws from and perturbs within.
type Space interface {
	Len() int
	Bound(i int) params.Bound
	Sample(rng *rand.Rand) model.ParameterVector
	Clip(v model.ParameterVector) model.ParameterVector
}

// Recorder receives every evaluated sample in generation order.
type Recorder interface {
	Record(ctx context.Context, sample model.Sample) error
}

type RecorderFunc func(ctx context.Context, sample model.Sample) error

func (f RecorderFunc) Record(ctx context.Context, sample model.Sample) error { return f(ctx, sample) }

// Progress observes the chain state after every iteration.
type Progress func(st State)

type Controller struct {
	cfg      Config
	space    Space
	eval     Evaluator
	rng      *rand.Rand
	chain    int
	progress Progress
}

type Option func(*Controller)

func WithChain(chain int) Option { return func(c *Controller) { c.chain = chain } }

func WithProgress(p Progress) Option { return func(c *Controller) { c.progress = p } }

// WithRand replaces the seeded source derived from Config.Seed.
func WithRand(rng *rand.Rand) Option { return func(c *Controller) { c.rng = rng } }

func New(cfg Config, space Space, eval Evaluator, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if space == nil || space.Len() == 0 {
		return nil, errors.New("parameter space is required")
	}
	if eval == nil {
		return nil, errors.New("evaluator is required")
	}
	c := &Controller{cfg: cfg, space: space, eval: eval}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(cfg.Seed + int64(c.chain)))
	}
	return c, nil
}

// Run drives one chain until the repetition budget is spent.
func (c *Controller) Run(ctx context.Context, rec Recorder) (*State, error) {
	st, err := c.Init(ctx, rec)
	if err != nil {
		return st, err
	}
	for st.Phase != Terminated {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if err := c.Step(ctx, st, rec); err != nil {
			return st, err
		}
	}
	return st, nil
}

// Init scores the initial prior draw and records it as iteration 0.
func (c *Controller) Init(ctx context.Context, rec Recorder) (*State, error) {
	st := newState(c.chain, c.cfg.InitialTemperature)
	p := c.space.Sample(c.rng)
	score, err := c.eval.Evaluate(ctx, p)
	if err != nil {
		return st, &Failure{Kind: FailureEvaluate, Chain: c.chain, Iteration: 0, Err: err}
	}
	st.Current = Candidate{Parameters: p, Score: score}
	st.Accepted++
	c.observe(st, st.Current)
	if err := c.record(ctx, rec, st, st.Current, true); err != nil {
		return st, err
	}
	st.Iteration = 1
	st.Phase = AtTemperature
	c.finishIteration(st)
	return st, nil
}

// Step runs one trial. A chain that finished a stage on the previous step
// cools first.
func (c *Controller) Step(ctx context.Context, st *State, rec Recorder) error {
	switch st.Phase {
	case Terminated:
		return nil
	case Initializing:
		return errors.New("chain is not initialized")
	case CoolingStep:
		st.Temperature *= c.cfg.Alpha
		st.Trial = 0
		st.Stage++
		st.Phase = AtTemperature
	}

	neighbor := c.Neighbor(st.Current.Parameters, st.Temperature)
	score, err := c.eval.Evaluate(ctx, neighbor)
	if err != nil {
		return &Failure{Kind: FailureEvaluate, Chain: c.chain, Iteration: st.Iteration, Err: err}
	}
	cand := Candidate{Parameters: neighbor, Score: score}
	accepted := Accept(st.Current.Score, score, st.Temperature, c.rng.Float64())
	c.observe(st, cand)
	if err := c.record(ctx, rec, st, cand, accepted); err != nil {
		return err
	}
	if accepted {
		st.Current = cand
		st.Accepted++
	}

	st.Iteration++
	st.Trial++
	if st.Trial >= c.cfg.TrialsPerTemperature {
		st.Phase = CoolingStep
	}
	c.finishIteration(st)
	return nil
}

// Neighbor perturbs every component with Gaussian noise whose spread shrinks
// with temperature, then clips to the bounds.
func (c *Controller) Neighbor(p model.ParameterVector, temperature float64) model.ParameterVector {
	out := p.Clone()
	ratio := temperature / c.cfg.InitialTemperature
	for i := range out {
		sd := c.cfg.StepScale * c.space.Bound(i).Width() * ratio
		out[i] += c.rng.NormFloat64() * sd
	}
	return c.space.Clip(out)
}

func (c *Controller) observe(st *State, cand Candidate) {
	if cand.Score.Feasible {
		st.Feasible++
	} else {
		st.Rejections[cand.Score.Reason]++
	}
	if cand.Score.Feasible && (!st.HasBest || cand.Score.Better(st.Best.Score)) {
		st.Best = Candidate{Parameters: cand.Parameters.Clone(), Score: cand.Score}
		st.HasBest = true
	}
}

func (c *Controller) record(ctx context.Context, rec Recorder, st *State, cand Candidate, accepted bool) error {
	if rec == nil {
		return nil
	}
	sample := model.Sample{
		Iteration:   st.Iteration,
		Chain:       c.chain,
		Parameters:  cand.Parameters,
		Score:       cand.Score,
		Accepted:    accepted,
		Temperature: st.Temperature,
	}
	if err := rec.Record(ctx, sample); err != nil {
		return &Failure{Kind: FailureRecord, Chain: c.chain, Iteration: st.Iteration, Err: err}
	}
	return nil
}

func (c *Controller) finishIteration(st *State) {
	if st.Iteration >= c.cfg.Repetitions {
		st.Phase = Terminated
	}
	if c.progress != nil {
		c.progress(*st)
	}
}

// AcceptProbability is the Metropolis rule on the minimisation axis, with a
// rejected score standing at +Inf. Moving from an infeasible current to any
// candidate is always allowed.
func AcceptProbability(current, candidate model.Score, temperature float64) float64 {
	if !current.Feasible {
		return 1
	}
	if !candidate.Feasible {
		return 0
	}
	delta := candidate.Value - current.Value
	if delta < 0 {
		return 1
	}
	return math.Exp(-delta / temperature)
}

// Accept decides with a uniform draw u in [0,1).
func Accept(current, candidate model.Score, temperature, u float64) bool {
	return u < AcceptProbability(current, candidate, temperature)
}
