package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uiprogress"

	"mdfcal/internal/model"
	"mdfcal/internal/trace"
	api "mdfcal/pkg/mdfcal"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:])
	case "check":
		return runCheck(ctx, args[1:])
	case "params":
		return runParams(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "best":
		return runBest(ctx, args[1:])
	case "trace":
		return runTrace(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func newClient(cfg cliConfig) (*api.Client, error) {
	return api.New(api.Options{
		StoreKind: cfg.Store,
		DBPath:    cfg.DBPath,
		OutDir:    cfg.OutDir,
	})
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	d := defaultCLIConfig()
	runID := fs.String("run-id", "", "explicit run id (optional)")
	chains := fs.Int("chains", d.Chains, "independent chains run in parallel")
	reps := fs.Int("reps", d.Search.Repetitions, "evaluations per chain")
	tini := fs.Float64("tini", d.Search.InitialTemperature, "initial temperature")
	ntemp := fs.Int("ntemp", d.Search.TrialsPerTemperature, "trials per temperature stage")
	alpha := fs.Float64("alpha", d.Search.Alpha, "cooling factor in (0,1)")
	stepScale := fs.Float64("step-scale", d.Search.StepScale, "neighbour step as a fraction of each bound width")
	seed := fs.Int64("seed", d.Search.Seed, "rng seed; chain k uses seed+k")
	showProgress := fs.Bool("progress", true, "show a progress bar per chain")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, set, err := common.resolve(true)
	if err != nil {
		return err
	}
	if set["chains"] {
		cfg.Chains = *chains
	}
	if set["reps"] {
		cfg.Search.Repetitions = *reps
	}
	if set["tini"] {
		cfg.Search.InitialTemperature = *tini
	}
	if set["ntemp"] {
		cfg.Search.TrialsPerTemperature = *ntemp
	}
	if set["alpha"] {
		cfg.Search.Alpha = *alpha
	}
	if set["step-scale"] {
		cfg.Search.StepScale = *stepScale
	}
	if set["seed"] {
		cfg.Search.Seed = *seed
	}
	if cfg.Chains <= 0 {
		return errors.New("chains must be > 0")
	}
	if err := cfg.Search.Validate(); err != nil {
		return err
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	limits, seedValue := cfg.Limits, cfg.Search.Seed
	req := api.RunRequest{
		RunID:                *runID,
		SiteOptions:          cfg.siteOptions(),
		Model:                cfg.modelOptions(),
		Chains:               cfg.Chains,
		Repetitions:          cfg.Search.Repetitions,
		InitialTemperature:   cfg.Search.InitialTemperature,
		TrialsPerTemperature: cfg.Search.TrialsPerTemperature,
		Alpha:                cfg.Search.Alpha,
		StepScale:            cfg.Search.StepScale,
		Seed:                 &seedValue,
		Limits:               &limits,
		BoundOverrides:       cfg.Bounds,
	}

	var progress *uiprogress.Progress
	if *showProgress {
		progress = uiprogress.New()
		bars := make([]*uiprogress.Bar, cfg.Chains)
		for k := range bars {
			chain := k
			bars[k] = progress.AddBar(cfg.Search.Repetitions).AppendCompleted().PrependElapsed()
			bars[k].PrependFunc(func(b *uiprogress.Bar) string {
				return fmt.Sprintf("chain %d %s/%s", chain, humanize.Comma(int64(b.Current())), humanize.Comma(int64(b.Total)))
			})
		}
		req.Progress = func(u api.ProgressUpdate) {
			_ = bars[u.Chain].Set(u.Iteration)
		}
		progress.Start()
	}

	summary, err := client.Run(ctx, req)
	if progress != nil {
		progress.Stop()
	}
	if summary.RunID == "" {
		return err
	}
	if err != nil {
		fmt.Printf("run failed run_id=%s class=%s evaluations=%s\n", summary.RunID, summary.FailureClass, humanize.Comma(int64(summary.Evaluations)))
		return err
	}

	fmt.Printf("run completed run_id=%s site=%s chains=%d evaluations=%s simulations=%s short_circuits=%s duration=%s\n",
		summary.RunID,
		cfg.Site,
		cfg.Chains,
		humanize.Comma(int64(summary.Evaluations)),
		humanize.Comma(summary.Simulations),
		humanize.Comma(summary.ShortCircuits),
		summary.Duration.Round(time.Millisecond),
	)
	fmt.Printf("accepted=%s feasible=%s\n", humanize.Comma(int64(summary.Accepted)), humanize.Comma(int64(summary.Feasible)))
	if summary.BestScore != nil {
		fmt.Printf("best_score=%.6f best_chain=%d\n", *summary.BestScore, summary.BestChain)
	} else {
		fmt.Println("best_score=n/a (no feasible candidate)")
	}
	reasons := make([]string, 0, len(summary.RejectionsByReason))
	for r := range summary.RejectionsByReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Printf("rejected reason=%s count=%s\n", r, humanize.Comma(int64(summary.RejectionsByReason[r])))
	}
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.RunDir))
	return nil
}

func runCheck(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	values := fs.String("values", "", "comma separated parameter vector (default: midpoint)")
	tracePath := fs.String("trace", "", "take the parameter vector from a chain trace CSV")
	iteration := fs.Int("iteration", -1, "trace iteration to check; -1 picks the best feasible row")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *values != "" && *tracePath != "" {
		return errors.New("use either -values or -trace")
	}
	cfg, _, err := common.resolve(true)
	if err != nil {
		return err
	}

	var vector []float64
	switch {
	case *values != "":
		if vector, err = parseValues(*values); err != nil {
			return err
		}
	case *tracePath != "":
		_, samples, err := trace.ReadFile(*tracePath)
		if err != nil {
			return err
		}
		s, ok := pickSample(samples, *iteration)
		if !ok {
			return fmt.Errorf("no matching row in %s", *tracePath)
		}
		vector = s.Parameters
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	limits := cfg.Limits
	res, err := client.Check(ctx, api.CheckRequest{
		SiteOptions:    cfg.siteOptions(),
		Model:          cfg.modelOptions(),
		Limits:         &limits,
		BoundOverrides: cfg.Bounds,
		Parameters:     vector,
	})
	if err != nil {
		return err
	}
	if res.Feasible {
		fmt.Printf("verdict=fit rmse=%.6f simulations=%d\n", res.Score, res.Simulations)
	} else {
		fmt.Printf("verdict=rejected reason=%s simulations=%d\n", res.Reason, res.Simulations)
	}
	for i, name := range res.Names {
		fmt.Printf("param index=%d name=%s value=%g\n", i, name, res.Parameters[i])
	}
	return nil
}

// pickSample returns the row with the given iteration, or the best feasible
// row when iteration is negative.
func pickSample(samples []model.Sample, iteration int) (model.Sample, bool) {
	if iteration >= 0 {
		for _, s := range samples {
			if s.Iteration == iteration {
				return s, true
			}
		}
		return model.Sample{}, false
	}
	var best model.Sample
	found := false
	for _, s := range samples {
		if !s.Score.Feasible {
			continue
		}
		if !found || s.Score.Better(best.Score) {
			best, found = s, true
		}
	}
	return best, found
}

func runParams(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("params", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	jsonOut := fs.Bool("json", false, "emit the parameter table as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, err := common.resolve(false)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Params(ctx, cfg.Bounds)
	if err != nil {
		return err
	}
	if *jsonOut {
		type paramItem struct {
			Index       int     `json:"index"`
			Name        string  `json:"name"`
			Lower       float64 `json:"lower"`
			Upper       float64 `json:"upper"`
			Description string  `json:"description"`
		}
		out := make([]paramItem, 0, len(items))
		for _, it := range items {
			out = append(out, paramItem(it))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	for _, it := range items {
		fmt.Printf("index=%d name=%s lower=%g upper=%g description=%q\n", it.Index, it.Name, it.Lower, it.Upper, it.Description)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}
	cfg, _, err := common.resolve(false)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, api.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		type runsItem struct {
			RunID        string   `json:"run_id"`
			CreatedAtUTC string   `json:"created_at_utc"`
			Site         string   `json:"site"`
			Chains       int      `json:"chains"`
			Repetitions  int      `json:"repetitions"`
			Seed         int64    `json:"seed"`
			BestScore    *float64 `json:"best_score,omitempty"`
			Completed    bool     `json:"completed"`
		}
		items := make([]runsItem, 0, len(runs))
		for _, r := range runs {
			items = append(items, runsItem(r))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("run_id=%s created=%s site=%s chains=%d reps=%s seed=%d completed=%t best_score=%s\n",
			r.RunID,
			createdDisplay(r.CreatedAtUTC),
			r.Site,
			r.Chains,
			humanize.Comma(int64(r.Repetitions)),
			r.Seed,
			r.Completed,
			scoreDisplay(r.BestScore),
		)
	}
	return nil
}

func runBest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("best", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	jsonOut := fs.Bool("json", false, "emit the best parameter set as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, err := common.resolve(false)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	best, err := client.Best(ctx, api.BestRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(best)
	}
	fmt.Printf("run_id=%s site=%s completed=%t best_score=%s best_chain=%d\n", best.RunID, best.Site, best.Completed, scoreDisplay(best.BestScore), best.BestChain)
	if best.Failure != "" {
		fmt.Printf("failure=%s\n", best.Failure)
	}
	for _, p := range best.Parameters {
		fmt.Printf("param name=%s value=%g\n", p.Name, p.Value)
	}
	return nil
}

func runTrace(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("trace", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	chain := fs.Int("chain", -1, "chain to show; -1 shows every chain")
	limit := fs.Int("limit", 50, "max samples to show (0 shows all)")
	feasible := fs.Bool("feasible", false, "show feasible samples only")
	showParams := fs.Bool("params", false, "include parameter values")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, err := common.resolve(false)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	tr, err := client.Trace(ctx, api.TraceRequest{
		RunID:        *runID,
		Latest:       *latest,
		Chain:        *chain,
		FeasibleOnly: *feasible,
		Limit:        *limit,
	})
	if err != nil {
		return err
	}
	if len(tr.Samples) == 0 {
		fmt.Println("no samples found")
		return nil
	}
	for _, s := range tr.Samples {
		score := "rejected:" + s.Score.Reason
		if s.Score.Feasible {
			score = fmt.Sprintf("%.6f", s.Score.Value)
		}
		line := fmt.Sprintf("chain=%d iteration=%d score=%s accepted=%t temperature=%.6g", s.Chain, s.Iteration, score, s.Accepted, s.Temperature)
		if *showParams {
			values := make([]string, len(s.Parameters))
			for i, v := range s.Parameters {
				values[i] = fmt.Sprintf("%g", v)
			}
			line += " params=" + strings.Join(values, ",")
		}
		fmt.Println(line)
	}
	return nil
}

func scoreDisplay(v *float64) string {
	if v == nil || math.IsNaN(*v) {
		return "n/a"
	}
	return fmt.Sprintf("%.6f", *v)
}

func createdDisplay(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: mdfcalctl <run|check|params|runs|best|trace> [flags]", msg)
}
