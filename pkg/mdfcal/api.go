package mdfcal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mdfcal/internal/anneal"
	"mdfcal/internal/evaluate"
	"mdfcal/internal/forward"
	"mdfcal/internal/model"
	"mdfcal/internal/params"
	"mdfcal/internal/platform"
	"mdfcal/internal/site"
	"mdfcal/internal/stats"
	"mdfcal/internal/storage"
	"mdfcal/internal/trace"
)

const (
	defaultOutDir = "runs"
	defaultDBPath = "mdfcal.db"
)

type Options struct {
	StoreKind string
	DBPath    string
	OutDir    string
}

type Client struct {
	store storage.Store
	orch  *platform.Orchestrator

	outDir string
}

// SiteOptions select the input files and time axis of a site. Zero values
// and nil pointers fall back to the site defaults; SpinupSteps and Latitude
// are pointers because zero is a valid setting for both.
type SiteOptions struct {
	Workdir      string
	Site         string
	SpinupSteps  *int
	StepsPerYear int
	StepDays     float64
	Latitude     *float64
}

// ModelOptions select the forward model. Simulator, when set, is used
// instead of the versioned registry.
type ModelOptions struct {
	Version     int
	Command     string
	Args        []string
	Timeout     time.Duration
	ScratchDir  string
	KeepScratch bool
	Simulator   forward.Model
}

type RunRequest struct {
	RunID string
	SiteOptions
	Model                ModelOptions
	Chains               int
	Repetitions          int
	InitialTemperature   float64
	TrialsPerTemperature int
	Alpha                float64
	StepScale            float64
	Seed                 *int64
	Limits               *evaluate.Limits
	BoundOverrides       []params.Bound
	// Progress is called from every chain goroutine after each iteration.
	Progress func(ProgressUpdate)
}

type ProgressUpdate struct {
	Chain       int
	Iteration   int
	Stage       int
	Temperature float64
	Accepted    int
	Feasible    int
	BestScore   float64
	HasBest     bool
	Done        bool
}

type RunSummary struct {
	RunID              string
	RunDir             string
	Completed          bool
	Failure            string
	FailureClass       string
	Evaluations        int
	Simulations        int64
	ShortCircuits      int64
	Accepted           int
	Feasible           int
	RejectionsByReason map[string]int
	BestScore          *float64
	BestChain          int
	BestParameters     []stats.NamedValue
	Duration           time.Duration
}

type CheckRequest struct {
	SiteOptions
	Model          ModelOptions
	Limits         *evaluate.Limits
	BoundOverrides []params.Bound
	// Parameters defaults to the midpoint of the parameter space.
	Parameters []float64
}

type CheckSummary struct {
	Names         []string
	Parameters    []float64
	Feasible      bool
	Score         float64
	Reason        string
	Simulations   int64
	ShortCircuits int64
}

type ParamItem struct {
	Index       int
	Name        string
	Lower       float64
	Upper       float64
	Description string
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Site         string
	Chains       int
	Repetitions  int
	Seed         int64
	BestScore    *float64
	Completed    bool
}

type BestRequest struct {
	RunID  string
	Latest bool
}

type BestSummary struct {
	RunID      string
	Site       string
	Completed  bool
	Failure    string
	BestScore  *float64
	BestChain  int
	Parameters []stats.NamedValue
}

type TraceRequest struct {
	RunID  string
	Latest bool
	// Chain selects one chain; a negative chain returns every chain.
	Chain        int
	FeasibleOnly bool
	Limit        int
}

type TraceSummary struct {
	RunID   string
	Names   []string
	Samples []model.Sample
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	outDir := opts.OutDir
	if outDir == "" {
		outDir = defaultOutDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store: store,
		orch: platform.NewOrchestrator(platform.Config{
			Store:  store,
			OutDir: outDir,
			// A memory store would hold every sample of a long run; the CSV
			// traces already carry them.
			SkipStoreSamples: storeKind == "memory",
		}),
		outDir: outDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.orch.Init(ctx)
}

func (c *Client) OutDir() string { return c.outDir }

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	search := anneal.DefaultConfig()
	if req.Repetitions > 0 {
		search.Repetitions = req.Repetitions
	}
	if req.InitialTemperature > 0 {
		search.InitialTemperature = req.InitialTemperature
	}
	if req.TrialsPerTemperature > 0 {
		search.TrialsPerTemperature = req.TrialsPerTemperature
	}
	if req.Alpha != 0 {
		search.Alpha = req.Alpha
	}
	if req.StepScale > 0 {
		search.StepScale = req.StepScale
	}
	if req.Seed != nil {
		search.Seed = *req.Seed
	}
	if req.Chains <= 0 {
		req.Chains = 1
	}

	cfg := platform.RunConfig{
		RunID:          req.RunID,
		Site:           siteConfig(req.SiteOptions),
		Search:         search,
		Chains:         req.Chains,
		Limits:         limitsOrDefault(req.Limits),
		BoundOverrides: req.BoundOverrides,
		Model:          modelConfig(req.Model),
	}
	if req.Progress != nil {
		reps := search.Repetitions
		cfg.Progress = func(st anneal.State) {
			req.Progress(ProgressUpdate{
				Chain:       st.Chain,
				Iteration:   st.Iteration,
				Stage:       st.Stage,
				Temperature: st.Temperature,
				Accepted:    st.Accepted,
				Feasible:    st.Feasible,
				BestScore:   st.Best.Score.Value,
				HasBest:     st.HasBest,
				Done:        st.Iteration >= reps,
			})
		}
	}

	res, err := c.orch.Run(ctx, cfg)
	if res.RunID == "" {
		return RunSummary{}, err
	}
	s := res.Summary
	return RunSummary{
		RunID:              res.RunID,
		RunDir:             res.RunDir,
		Completed:          s.Completed,
		Failure:            s.Failure,
		FailureClass:       s.FailureClass,
		Evaluations:        s.Evaluations,
		Simulations:        s.Simulations,
		ShortCircuits:      s.ShortCircuits,
		Accepted:           s.Accepted,
		Feasible:           s.Feasible,
		RejectionsByReason: s.RejectionsByReason,
		BestScore:          s.BestScore,
		BestChain:          s.BestChain,
		BestParameters:     s.BestParameters,
		Duration:           time.Duration(s.DurationSeconds * float64(time.Second)),
	}, err
}

func (c *Client) Check(ctx context.Context, req CheckRequest) (CheckSummary, error) {
	var vec model.ParameterVector
	if req.Parameters != nil {
		vec = model.ParameterVector(req.Parameters).Clone()
	}
	res, err := c.orch.Check(ctx, platform.CheckConfig{
		Site:           siteConfig(req.SiteOptions),
		Limits:         limitsOrDefault(req.Limits),
		BoundOverrides: req.BoundOverrides,
		Model:          modelConfig(req.Model),
		Parameters:     vec,
	})
	if err != nil {
		return CheckSummary{}, err
	}
	return CheckSummary{
		Names:         res.Names,
		Parameters:    res.Parameters,
		Feasible:      res.Score.Feasible,
		Score:         res.Score.Value,
		Reason:        res.Score.Reason,
		Simulations:   res.Stats.Simulations,
		ShortCircuits: res.Stats.ShortCircuits,
	}, nil
}

// Params lists the parameter table with any overrides applied.
func (c *Client) Params(_ context.Context, overrides []params.Bound) ([]ParamItem, error) {
	space, err := params.DALECGrass().WithOverrides(overrides)
	if err != nil {
		return nil, err
	}
	bounds := space.Bounds()
	out := make([]ParamItem, 0, len(bounds))
	for i, b := range bounds {
		out = append(out, ParamItem{Index: i, Name: b.Name, Lower: b.Lower, Upper: b.Upper, Description: b.Description})
	}
	return out, nil
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.outDir)
	if err != nil {
		return nil, err
	}
	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Site:         e.Site,
			Chains:       e.Chains,
			Repetitions:  e.Repetitions,
			Seed:         e.Seed,
			BestScore:    e.BestScore,
			Completed:    e.Completed,
		})
	}
	if len(out) == 0 {
		// Runs recorded by a persistent store under another output directory.
		if err := c.orch.Init(ctx); err != nil {
			return nil, err
		}
		records, err := c.store.ListRuns(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			out = append(out, RunItem{
				RunID:        r.ID,
				CreatedAtUTC: r.CreatedAtUTC,
				Site:         r.Site,
				Chains:       r.Chains,
				Repetitions:  r.Repetitions,
				BestScore:    r.BestScore,
				Completed:    r.Completed,
			})
		}
	}
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (c *Client) Best(ctx context.Context, req BestRequest) (BestSummary, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return BestSummary{}, err
	}

	summary, ok, err := stats.ReadSummary(c.outDir, runID)
	if err != nil {
		return BestSummary{}, err
	}
	if ok {
		return BestSummary{
			RunID:      runID,
			Site:       summary.Site,
			Completed:  summary.Completed,
			Failure:    summary.Failure,
			BestScore:  summary.BestScore,
			BestChain:  summary.BestChain,
			Parameters: summary.BestParameters,
		}, nil
	}

	if err := c.orch.Init(ctx); err != nil {
		return BestSummary{}, err
	}
	record, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return BestSummary{}, err
	}
	if !ok {
		return BestSummary{}, fmt.Errorf("run not found: %s", runID)
	}
	best := BestSummary{
		RunID:     runID,
		Site:      record.Site,
		Completed: record.Completed,
		BestScore: record.BestScore,
		BestChain: record.BestChain,
	}
	for i, v := range record.BestParameters {
		if i >= len(record.ParameterNames) {
			break
		}
		best.Parameters = append(best.Parameters, stats.NamedValue{Name: record.ParameterNames[i], Value: v})
	}
	return best, nil
}

// Trace returns the recorded samples of a run, from the store when it holds
// them and from the CSV traces otherwise.
func (c *Client) Trace(ctx context.Context, req TraceRequest) (TraceSummary, error) {
	if req.Limit < 0 {
		return TraceSummary{}, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return TraceSummary{}, err
	}
	if err := c.orch.Init(ctx); err != nil {
		return TraceSummary{}, err
	}

	var names []string
	record, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return TraceSummary{}, err
	}
	if ok {
		names = record.ParameterNames
	}
	samples, err := c.store.Samples(ctx, runID, req.Chain)
	if err != nil {
		return TraceSummary{}, err
	}
	if len(samples) == 0 {
		names, samples, err = c.readTraceFiles(runID, req.Chain)
		if err != nil {
			return TraceSummary{}, err
		}
	}

	if req.FeasibleOnly {
		kept := samples[:0]
		for _, s := range samples {
			if s.Score.Feasible {
				kept = append(kept, s)
			}
		}
		samples = kept
	}
	if req.Limit > 0 && len(samples) > req.Limit {
		samples = samples[:req.Limit]
	}
	return TraceSummary{RunID: runID, Names: names, Samples: samples}, nil
}

func (c *Client) readTraceFiles(runID string, chain int) ([]string, []model.Sample, error) {
	chains := []int{chain}
	if chain < 0 {
		cfg, ok, err := stats.ReadRunConfig(c.outDir, runID)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, fmt.Errorf("run not found: %s", runID)
		}
		chains = chains[:0]
		for k := 0; k < cfg.Chains; k++ {
			chains = append(chains, k)
		}
	}
	var (
		names []string
		out   []model.Sample
	)
	for _, k := range chains {
		n, samples, err := trace.ReadFile(stats.TracePath(c.outDir, runID, k))
		if err != nil {
			return nil, nil, err
		}
		names = n
		out = append(out, samples...)
	}
	return names, out, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", errors.New("run id or latest is required")
	}
	runs, err := c.Runs(ctx, RunsRequest{Limit: 1})
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs available")
	}
	return runs[0].RunID, nil
}

func siteConfig(o SiteOptions) site.Config {
	cfg := site.DefaultConfig()
	if o.Workdir != "" {
		cfg.Workdir = o.Workdir
	}
	cfg.Name = o.Site
	if o.SpinupSteps != nil {
		cfg.SpinupSteps = *o.SpinupSteps
	}
	if o.StepsPerYear > 0 {
		cfg.StepsPerYear = o.StepsPerYear
	}
	if o.StepDays > 0 {
		cfg.StepDays = o.StepDays
	}
	if o.Latitude != nil {
		cfg.Latitude = *o.Latitude
	}
	return cfg
}

func modelConfig(o ModelOptions) platform.ModelConfig {
	version := o.Version
	if version == 0 {
		version = forward.DALECGrassVersion
	}
	return platform.ModelConfig{
		Version: version,
		Options: forward.Options{
			Command:     o.Command,
			Args:        o.Args,
			Timeout:     o.Timeout,
			ScratchDir:  o.ScratchDir,
			KeepScratch: o.KeepScratch,
		},
		Simulator: o.Simulator,
	}
}

func limitsOrDefault(l *evaluate.Limits) evaluate.Limits {
	if l == nil {
		return evaluate.DefaultLimits()
	}
	return *l
}
