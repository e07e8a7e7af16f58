package mdfcal

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"mdfcal/internal/forward"
	"mdfcal/internal/model"
	"mdfcal/internal/npy"
	"mdfcal/internal/params"
	"mdfcal/internal/site"
)

func writeSite(t *testing.T, dir, name string) {
	t.Helper()
	const steps = 52
	rows := make([][]float64, 12)
	for v := range rows {
		rows[v] = make([]float64, steps)
		for j := range rows[v] {
			switch v {
			case 0:
				rows[v][j] = float64(j + 1)
			case 7:
				rows[v][j] = 0
			default:
				rows[v][j] = 10
			}
		}
	}
	obs := make([]float64, steps)
	for i := range obs {
		obs[i] = 1.5
	}
	if err := npy.WriteMatrixFile(filepath.Join(dir, name+"_M.npy"), rows); err != nil {
		t.Fatalf("write drivers: %v", err)
	}
	if err := npy.WriteVectorFile(filepath.Join(dir, name+"_O.npy"), obs); err != nil {
		t.Fatalf("write observations: %v", err)
	}
}

func constantModel() forward.Func {
	return forward.Func{ModelName: "constant", ModelVersion: 1, Fn: func(_ context.Context, call forward.Call) (model.Trajectory, error) {
		n := call.StepCount
		tr := model.Trajectory{
			LAI:      make([]float64, n),
			GPP:      make([]float64, n),
			NEE:      make([]float64, n),
			Pools:    make([][]float64, n),
			Fluxes:   make([][]float64, n),
			Removals: [][]float64{make([]float64, n), make([]float64, n)},
		}
		for i := 0; i < n; i++ {
			tr.LAI[i] = 1.5
			tr.GPP[i] = 4
			tr.Pools[i] = []float64{10, 10, 10, 10, 10, call.Parameters[params.InitSOM]}
			tr.Fluxes[i] = make([]float64, call.FluxCount)
			for f := range tr.Fluxes[i] {
				tr.Fluxes[i][f] = 1
			}
		}
		return tr, nil
	}}
}

func pinnedBounds() []params.Bound {
	var out []params.Bound
	for _, b := range params.DALECGrass().Bounds() {
		eps := b.Width() * 1e-6
		out = append(out, params.Bound{Name: b.Name, Lower: b.Mid() - eps, Upper: b.Mid() + eps})
	}
	return out
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(Options{StoreKind: "memory", OutDir: filepath.Join(t.TempDir(), "runs")})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestClientRunRunsBestTrace(t *testing.T) {
	ctx := context.Background()
	workdir := t.TempDir()
	writeSite(t, workdir, "grass")
	client := newTestClient(t)

	var updates atomic.Int64
	seed := int64(3)
	summary, err := client.Run(ctx, RunRequest{
		SiteOptions:          SiteOptions{Workdir: workdir, Site: "grass"},
		Model:                ModelOptions{Simulator: constantModel()},
		Chains:               2,
		Repetitions:          20,
		InitialTemperature:   1,
		TrialsPerTemperature: 5,
		Alpha:                0.5,
		Seed:                 &seed,
		BoundOverrides:       pinnedBounds(),
		Progress: func(ProgressUpdate) {
			updates.Add(1)
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID == "" || !summary.Completed {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Evaluations != 40 {
		t.Fatalf("expected 40 evaluations, got %d", summary.Evaluations)
	}
	if summary.BestScore == nil || *summary.BestScore != 0 {
		t.Fatalf("expected zero best score, got %v", summary.BestScore)
	}
	if updates.Load() == 0 {
		t.Fatal("expected progress updates")
	}

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID || runs[0].Chains != 2 || runs[0].Seed != 3 {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	best, err := client.Best(ctx, BestRequest{Latest: true})
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	if best.RunID != summary.RunID || len(best.Parameters) != params.DALECGrassCount || best.Parameters[0].Name != "decomp_rate" {
		t.Fatalf("unexpected best: %+v", best)
	}

	all, err := client.Trace(ctx, TraceRequest{RunID: summary.RunID, Chain: -1})
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if len(all.Samples) != 40 || len(all.Names) != params.DALECGrassCount {
		t.Fatalf("expected 40 samples with names, got samples=%d names=%d", len(all.Samples), len(all.Names))
	}
	one, err := client.Trace(ctx, TraceRequest{Latest: true, Chain: 1, Limit: 5})
	if err != nil {
		t.Fatalf("trace chain: %v", err)
	}
	if len(one.Samples) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(one.Samples))
	}
	for i, s := range one.Samples {
		if s.Chain != 1 || s.Iteration != i {
			t.Fatalf("unexpected sample %d: chain=%d iteration=%d", i, s.Chain, s.Iteration)
		}
	}
}

func TestRunKeepsExplicitZeroSeed(t *testing.T) {
	ctx := context.Background()
	workdir := t.TempDir()
	writeSite(t, workdir, "grass")
	client := newTestClient(t)

	zero := int64(0)
	if _, err := client.Run(ctx, RunRequest{
		SiteOptions:    SiteOptions{Workdir: workdir, Site: "grass"},
		Model:          ModelOptions{Simulator: constantModel()},
		Repetitions:    3,
		Seed:           &zero,
		BoundOverrides: pinnedBounds(),
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	runs, err := client.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Seed != 0 {
		t.Fatalf("expected seed 0 to be kept, got %+v", runs)
	}
}

func TestSiteConfigKeepsExplicitZero(t *testing.T) {
	defaults := siteConfig(SiteOptions{Site: "grass"})
	if defaults.SpinupSteps != site.DefaultSpinupSteps || defaults.Latitude != site.DefaultLatitude {
		t.Fatalf("expected defaults for unset options, got %+v", defaults)
	}
	spinup, lat := 0, 0.0
	cfg := siteConfig(SiteOptions{Site: "grass", SpinupSteps: &spinup, Latitude: &lat})
	if cfg.SpinupSteps != 0 || cfg.Latitude != 0 {
		t.Fatalf("explicit zero replaced by defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero spin-up must validate: %v", err)
	}
}

func TestClientCheckMidpoint(t *testing.T) {
	workdir := t.TempDir()
	writeSite(t, workdir, "grass")
	client := newTestClient(t)

	res, err := client.Check(context.Background(), CheckRequest{
		SiteOptions: SiteOptions{Workdir: workdir, Site: "grass"},
		Model:       ModelOptions{Simulator: constantModel()},
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Feasible || res.Score != 0 || res.Simulations != 1 {
		t.Fatalf("unexpected check summary: %+v", res)
	}

	p := append([]float64(nil), res.Parameters...)
	p[params.TORSOM], p[params.TORLitter] = 0.09, 0.01
	res, err = client.Check(context.Background(), CheckRequest{
		SiteOptions: SiteOptions{Workdir: workdir, Site: "grass"},
		Model:       ModelOptions{Simulator: constantModel()},
		Parameters:  p,
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Feasible || res.Reason != "turnover_order" || res.Simulations != 0 {
		t.Fatalf("expected turnover rejection without simulation, got %+v", res)
	}
}

func TestClientParams(t *testing.T) {
	client := newTestClient(t)
	items, err := client.Params(context.Background(), []params.Bound{{Name: "tor_som", Lower: 1e-6, Upper: 1e-5}})
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if len(items) != params.DALECGrassCount {
		t.Fatalf("expected %d params, got %d", params.DALECGrassCount, len(items))
	}
	it := items[params.TORSOM]
	if it.Name != "tor_som" || it.Lower != 1e-6 || it.Upper != 1e-5 || it.Description == "" {
		t.Fatalf("unexpected override: %+v", it)
	}
	if _, err := client.Params(context.Background(), []params.Bound{{Name: "nope", Lower: 0, Upper: 1}}); err == nil {
		t.Fatal("expected unknown parameter error")
	}
}

func TestClientRunLookupErrors(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	if _, err := client.Best(ctx, BestRequest{RunID: "a", Latest: true}); err == nil {
		t.Fatal("expected error for run id with latest")
	}
	if _, err := client.Best(ctx, BestRequest{}); err == nil {
		t.Fatal("expected error without run id")
	}
	if _, err := client.Best(ctx, BestRequest{Latest: true}); err == nil {
		t.Fatal("expected error with no runs")
	}
	if _, err := client.Best(ctx, BestRequest{RunID: "missing"}); err == nil {
		t.Fatal("expected error for unknown run")
	}
	if _, err := client.Trace(ctx, TraceRequest{RunID: "x", Limit: -1}); err == nil {
		t.Fatal("expected negative limit error")
	}
}

func TestNewRejectsUnknownStore(t *testing.T) {
	if _, err := New(Options{StoreKind: "redis"}); err == nil {
		t.Fatal("expected unsupported store error")
	}
}
