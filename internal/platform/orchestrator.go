package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mdfcal/internal/anneal"
	"mdfcal/internal/evaluate"
	"mdfcal/internal/forward"
	"mdfcal/internal/model"
	"mdfcal/internal/params"
	"mdfcal/internal/site"
	"mdfcal/internal/stats"
	"mdfcal/internal/storage"
	"mdfcal/internal/trace"
)

type Config struct {
	Store  storage.Store
	OutDir string
	// SkipStoreSamples keeps samples out of the store; the CSV traces still
	// receive every sample.
	SkipStoreSamples bool
}

// ModelConfig selects the forward model of a run. Simulator, when set,
// replaces the registry lookup.
type ModelConfig struct {
	Version   int
	Options   forward.Options
	Simulator forward.Model
}

type RunConfig struct {
	RunID          string
	Site           site.Config
	Search         anneal.Config
	Chains         int
	Limits         evaluate.Limits
	BoundOverrides []params.Bound
	Model          ModelConfig
	// Progress is called from every chain goroutine after each iteration.
	Progress anneal.Progress
}

type RunResult struct {
	RunID   string
	RunDir  string
	Record  model.RunRecord
	Summary stats.Summary
	States  []*anneal.State
}

type CheckConfig struct {
	Site           site.Config
	Limits         evaluate.Limits
	BoundOverrides []params.Bound
	Model          ModelConfig
	// Parameters defaults to the midpoint of the parameter space.
	Parameters model.ParameterVector
}

type CheckResult struct {
	Names      []string
	Parameters model.ParameterVector
	Score      model.Score
	Stats      evaluate.Stats
}

// Orchestrator wires site data, parameter space, forward model, evaluator and
// search into calibration runs and persists what they produce.
type Orchestrator struct {
	store       storage.Store
	outDir      string
	skipSamples bool

	mu      sync.Mutex
	started bool
	now     func() time.Time
}

func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{
		store:       cfg.Store,
		outDir:      cfg.OutDir,
		skipSamples: cfg.SkipStoreSamples,
		now:         time.Now,
	}
}

func (o *Orchestrator) Init(ctx context.Context) error {
	if o.store == nil {
		return fmt.Errorf("store is required")
	}
	if o.outDir == "" {
		return fmt.Errorf("output directory is required")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return nil
	}
	if err := o.store.Init(ctx); err != nil {
		return err
	}
	o.started = true
	return nil
}

func (o *Orchestrator) Store() storage.Store { return o.store }

func (o *Orchestrator) OutDir() string { return o.outDir }

// pipeline is everything a run or a check needs before the search starts.
type pipeline struct {
	data      site.Data
	space     *params.Space
	model     forward.Model
	evaluator *evaluate.Evaluator
}

func buildPipeline(siteCfg site.Config, limits evaluate.Limits, overrides []params.Bound, mc ModelConfig) (pipeline, error) {
	data, err := site.Load(siteCfg)
	if err != nil {
		return pipeline{}, fmt.Errorf("load site: %w", err)
	}
	space, err := params.DALECGrass().WithOverrides(overrides)
	if err != nil {
		return pipeline{}, fmt.Errorf("parameter bounds: %w", err)
	}
	m := mc.Simulator
	if m == nil {
		if m, err = forward.New(mc.Version, mc.Options); err != nil {
			return pipeline{}, fmt.Errorf("forward model: %w", err)
		}
	}
	adapter, err := forward.NewAdapter(m, data.Drivers)
	if err != nil {
		return pipeline{}, fmt.Errorf("forward adapter: %w", err)
	}
	ev, err := evaluate.New(evaluate.Config{
		Simulator:    adapter,
		Drivers:      data.Drivers,
		Observations: data.Observations,
		Limits:       limits,
		ParamCount:   space.Len(),
	})
	if err != nil {
		return pipeline{}, fmt.Errorf("evaluator: %w", err)
	}
	return pipeline{data: data, space: space, model: m, evaluator: ev}, nil
}

// Check evaluates a single parameter vector against a site.
func (o *Orchestrator) Check(ctx context.Context, cfg CheckConfig) (CheckResult, error) {
	p, err := buildPipeline(cfg.Site, cfg.Limits, cfg.BoundOverrides, cfg.Model)
	if err != nil {
		return CheckResult{}, startupError(err)
	}
	vec := cfg.Parameters
	if vec == nil {
		vec = p.space.Midpoint()
	}
	if len(vec) != p.space.Len() {
		return CheckResult{}, startupError(fmt.Errorf("parameter vector has %d values, want %d", len(vec), p.space.Len()))
	}
	score, err := p.evaluator.Evaluate(ctx, vec)
	if err != nil {
		return CheckResult{}, &RunError{Class: AdapterFailure, Chain: -1, Iteration: 0, Err: err}
	}
	return CheckResult{
		Names:      p.space.Names(),
		Parameters: vec,
		Score:      score,
		Stats:      p.evaluator.Stats(),
	}, nil
}

// Run executes one calibration run to completion. A failed run still leaves
// its config, partial traces and a summary naming the failure behind.
func (o *Orchestrator) Run(ctx context.Context, cfg RunConfig) (RunResult, error) {
	if err := o.Init(ctx); err != nil {
		return RunResult{}, startupError(err)
	}
	if cfg.Chains <= 0 {
		cfg.Chains = 1
	}
	if err := cfg.Search.Validate(); err != nil {
		return RunResult{}, startupError(err)
	}
	p, err := buildPipeline(cfg.Site, cfg.Limits, cfg.BoundOverrides, cfg.Model)
	if err != nil {
		return RunResult{}, startupError(err)
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	started := o.now()
	createdAt := started.UTC().Format(time.RFC3339Nano)
	names := p.space.Names()

	if err := stats.WriteRunConfig(o.outDir, runID, runConfigArtifact(runID, cfg, p)); err != nil {
		return RunResult{}, persistenceError(err)
	}
	record := storage.Stamp(model.RunRecord{
		ID:             runID,
		Site:           cfg.Site.Name,
		CreatedAtUTC:   createdAt,
		Chains:         cfg.Chains,
		Repetitions:    cfg.Search.Repetitions,
		ParameterNames: names,
	})
	if err := o.store.SaveRun(ctx, record); err != nil {
		return RunResult{}, persistenceError(err)
	}

	writers := make([]*trace.Writer, 0, cfg.Chains)
	closeWriters := func() error {
		var errs []error
		for _, w := range writers {
			errs = append(errs, w.Close())
		}
		return errors.Join(errs...)
	}
	specs := make([]anneal.ChainSpec, cfg.Chains)
	curves := make([]*stats.CurveTracker, cfg.Chains)
	every := cfg.Search.Repetitions / curvePoints
	for k := range specs {
		w, err := trace.Create(stats.TracePath(o.outDir, runID, k), names)
		if err != nil {
			_ = closeWriters()
			return RunResult{}, persistenceError(err)
		}
		writers = append(writers, w)
		curves[k] = &stats.CurveTracker{Every: every}
		recorders := fanout{w}
		if !o.skipSamples {
			recorders = append(recorders, storage.SampleRecorder{Store: o.store, RunID: runID})
		}
		recorders = append(recorders, curveRecorder{curves[k]})
		specs[k] = anneal.ChainSpec{Recorder: recorders, Progress: cfg.Progress}
	}

	states, searchErr := anneal.RunChains(ctx, cfg.Search, p.space, p.evaluator, specs)
	runErr := classifyChainError(searchErr)
	if err := closeWriters(); err != nil && runErr == nil {
		runErr = persistenceError(err)
	}

	summary := summarize(runID, cfg.Site.Name, names, states, p.evaluator.Stats())
	summary.DurationSeconds = o.now().Sub(started).Seconds()
	summary.Completed = runErr == nil
	if runErr != nil {
		summary.Failure = runErr.Error()
		if class, ok := ClassOf(runErr); ok {
			summary.FailureClass = string(class)
		}
	}
	chainCurves := make([][]stats.PlotPoint, len(curves))
	for k, c := range curves {
		chainCurves[k] = c.Points()
	}
	for i := range summary.Chains {
		summary.Chains[i].BestCurve = chainCurves[summary.Chains[i].Chain]
	}
	summary.MeanBestCurve = stats.MeanCurve(chainCurves)

	record.Evaluations = summary.Evaluations
	record.Accepted = summary.Accepted
	record.Feasible = summary.Feasible
	record.BestScore = summary.BestScore
	record.BestChain = summary.BestChain
	if best, ok := anneal.Best(states); ok {
		record.BestParameters = best.Best.Parameters.Clone()
	}
	record.Completed = summary.Completed

	result := RunResult{
		RunID:   runID,
		RunDir:  stats.RunDir(o.outDir, runID),
		Record:  record,
		Summary: summary,
		States:  states,
	}

	if err := o.finish(ctx, record, summary, cfg); err != nil && runErr == nil {
		runErr = persistenceError(err)
	}
	return result, runErr
}

func (o *Orchestrator) finish(ctx context.Context, record model.RunRecord, summary stats.Summary, cfg RunConfig) error {
	if err := stats.WriteSummary(o.outDir, record.ID, summary); err != nil {
		return err
	}
	if err := o.store.SaveRun(ctx, record); err != nil {
		return err
	}
	return stats.AppendRunIndex(o.outDir, stats.RunIndexEntry{
		RunID:        record.ID,
		Site:         record.Site,
		Chains:       record.Chains,
		Repetitions:  record.Repetitions,
		Seed:         cfg.Search.Seed,
		BestScore:    record.BestScore,
		Completed:    record.Completed,
		CreatedAtUTC: record.CreatedAtUTC,
	})
}

func summarize(runID, siteName string, names []string, states []*anneal.State, es evaluate.Stats) stats.Summary {
	s := stats.Summary{
		RunID:              runID,
		Site:               siteName,
		Simulations:        es.Simulations,
		ShortCircuits:      es.ShortCircuits,
		RejectionsByReason: map[string]int{},
	}
	for _, st := range states {
		if st == nil {
			continue
		}
		s.Evaluations += st.Iteration
		s.Accepted += st.Accepted
		s.Feasible += st.Feasible
		for reason, n := range st.Rejections {
			s.RejectionsByReason[reason] += n
		}
		cs := stats.ChainSummary{
			Chain:       st.Chain,
			Evaluations: st.Iteration,
			Accepted:    st.Accepted,
			Feasible:    st.Feasible,
			Temperature: st.Temperature,
		}
		if st.HasBest {
			v := st.Best.Score.Value
			cs.BestScore = &v
		}
		s.Chains = append(s.Chains, cs)
	}
	sort.Slice(s.Chains, func(i, j int) bool { return s.Chains[i].Chain < s.Chains[j].Chain })
	if best, ok := anneal.Best(states); ok {
		v := best.Best.Score.Value
		s.BestScore = &v
		s.BestChain = best.Chain
		for i, name := range names {
			s.BestParameters = append(s.BestParameters, stats.NamedValue{Name: name, Value: best.Best.Parameters[i]})
		}
	}
	return s
}

func runConfigArtifact(runID string, cfg RunConfig, p pipeline) stats.RunConfig {
	return stats.RunConfig{
		RunID:                runID,
		Site:                 cfg.Site.Name,
		Workdir:              cfg.Site.Workdir,
		Chains:               cfg.Chains,
		Repetitions:          cfg.Search.Repetitions,
		InitialTemperature:   cfg.Search.InitialTemperature,
		TrialsPerTemperature: cfg.Search.TrialsPerTemperature,
		Alpha:                cfg.Search.Alpha,
		StepScale:            cfg.Search.StepScale,
		Seed:                 cfg.Search.Seed,
		ModelVersion:         p.model.Version(),
		ModelCommand:         cfg.Model.Options.Command,
		ModelArgs:            cfg.Model.Options.Args,
		Latitude:             p.data.Drivers.Latitude,
		SpinupSteps:          p.data.Drivers.SpinupSteps,
		StepDays:             p.data.Drivers.StepDays,
		Limits:               cfg.Limits,
		BoundOverrides:       cfg.BoundOverrides,
	}
}

// curvePoints bounds the number of checkpoints kept per chain curve.
const curvePoints = 200

type curveRecorder struct{ c *stats.CurveTracker }

func (r curveRecorder) Record(_ context.Context, s model.Sample) error {
	r.c.Observe(s)
	return nil
}

// fanout records a sample to every target in order and stops at the first
// failure.
type fanout []anneal.Recorder

func (f fanout) Record(ctx context.Context, s model.Sample) error {
	for _, r := range f {
		if err := r.Record(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
