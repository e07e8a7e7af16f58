package anneal

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"mdfcal/internal/model"
	"mdfcal/internal/params"
)

type quadratic struct {
	mu    sync.Mutex
	calls int
}

// Evaluate scores distance from 3 on every axis and rejects the region a > 8.
func (q *quadratic) Evaluate(_ context.Context, p model.ParameterVector) (model.Score, error) {
	q.mu.Lock()
	q.calls++
	q.mu.Unlock()
	if p[0] > 8 {
		return model.Rejected("too_far"), nil
	}
	sum := 0.0
	for _, v := range p {
		sum += (v - 3) * (v - 3)
	}
	return model.Fit(math.Sqrt(sum)), nil
}

func testSpace() *params.Space {
	return params.MustSpace([]params.Bound{
		{Name: "a", Lower: 0, Upper: 10},
		{Name: "b", Lower: -5, Upper: 5},
	})
}

func testConfig(reps int) Config {
	cfg := DefaultConfig()
	cfg.Repetitions = reps
	cfg.InitialTemperature = 1
	cfg.TrialsPerTemperature = 10
	cfg.Alpha = 0.5
	return cfg
}

type memRecorder struct {
	samples []model.Sample
}

func (m *memRecorder) Record(_ context.Context, s model.Sample) error {
	m.samples = append(m.samples, s)
	return nil
}

func TestAcceptProbability(t *testing.T) {
	p := AcceptProbability(model.Fit(2), model.Fit(5), 1)
	if math.Abs(p-math.Exp(-3)) > 1e-12 {
		t.Fatalf("expected exp(-3), got %f", p)
	}
	if got := AcceptProbability(model.Fit(5), model.Fit(2), 1); got != 1 {
		t.Fatalf("better candidate must always be accepted, got %f", got)
	}
	if got := AcceptProbability(model.Fit(5), model.Rejected("x"), 1e9); got != 0 {
		t.Fatalf("rejected candidate accepted over feasible current: %f", got)
	}
	if got := AcceptProbability(model.Rejected("x"), model.Fit(100), 1); got != 1 {
		t.Fatalf("feasible candidate must replace infeasible current, got %f", got)
	}
	if got := AcceptProbability(model.Rejected("x"), model.Rejected("y"), 1); got != 1 {
		t.Fatalf("infeasible chain must keep moving, got %f", got)
	}
	if Accept(model.Fit(2), model.Fit(5), 1, 0.9) {
		t.Fatal("u=0.9 above exp(-3) must reject")
	}
	if !Accept(model.Fit(2), model.Fit(5), 1, 0.01) {
		t.Fatal("u=0.01 below exp(-3) must accept")
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Repetitions = 0 },
		func(c *Config) { c.InitialTemperature = 0 },
		func(c *Config) { c.TrialsPerTemperature = 0 },
		func(c *Config) { c.Alpha = 1 },
		func(c *Config) { c.Alpha = 0 },
		func(c *Config) { c.StepScale = 0 },
	}
	for i, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
}

func TestRunSpendsExactBudget(t *testing.T) {
	eval := &quadratic{}
	c, err := New(testConfig(57), testSpace(), eval)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	rec := &memRecorder{}
	st, err := c.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if eval.calls != 57 || len(rec.samples) != 57 || st.Iteration != 57 {
		t.Fatalf("expected 57 evaluations, got calls=%d samples=%d iteration=%d", eval.calls, len(rec.samples), st.Iteration)
	}
	if st.Phase != Terminated {
		t.Fatalf("expected terminated phase, got %s", st.Phase)
	}
	for i, s := range rec.samples {
		if s.Iteration != i {
			t.Fatalf("sample %d has iteration %d", i, s.Iteration)
		}
	}
	if !rec.samples[0].Accepted {
		t.Fatal("initial draw must be recorded as accepted")
	}
}

func TestCoolingAfterTrialsPerTemperature(t *testing.T) {
	cfg := testConfig(100)
	c, err := New(cfg, testSpace(), &quadratic{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	st, err := c.Init(ctx, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	for i := 0; i < cfg.TrialsPerTemperature; i++ {
		if st.Temperature != cfg.InitialTemperature {
			t.Fatalf("trial %d: temperature changed early to %f", i, st.Temperature)
		}
		if err := c.Step(ctx, st, nil); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if st.Phase != CoolingStep {
		t.Fatalf("expected cooling phase after %d trials, got %s", cfg.TrialsPerTemperature, st.Phase)
	}
	if err := c.Step(ctx, st, nil); err != nil {
		t.Fatalf("step: %v", err)
	}
	want := cfg.InitialTemperature * cfg.Alpha
	if st.Temperature != want || st.Stage != 1 || st.Trial != 1 {
		t.Fatalf("expected T=%f stage=1 trial=1, got T=%f stage=%d trial=%d", want, st.Temperature, st.Stage, st.Trial)
	}
}

func TestSamplesCarryTemperatureOfTheirStage(t *testing.T) {
	rec := &memRecorder{}
	c, err := New(testConfig(31), testSpace(), &quadratic{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Run(context.Background(), rec); err != nil {
		t.Fatalf("run: %v", err)
	}
	// iteration 0 is the initial draw; trials 1..10 run at T0, 11..20 at T0*alpha.
	if rec.samples[10].Temperature != 1 || rec.samples[11].Temperature != 0.5 || rec.samples[21].Temperature != 0.25 {
		t.Fatalf("unexpected temperatures: %f %f %f", rec.samples[10].Temperature, rec.samples[11].Temperature, rec.samples[21].Temperature)
	}
}

func TestNeighborsStayInBounds(t *testing.T) {
	space := testSpace()
	cfg := testConfig(500)
	cfg.StepScale = 5
	rec := &memRecorder{}
	c, err := New(cfg, space, &quadratic{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Run(context.Background(), rec); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, s := range rec.samples {
		if !space.Contains(s.Parameters) {
			t.Fatalf("sample %d out of bounds: %v", s.Iteration, s.Parameters)
		}
	}
}

func TestRejectedNeverReplacesFeasibleCurrent(t *testing.T) {
	rec := &memRecorder{}
	cfg := testConfig(400)
	cfg.StepScale = 1
	cfg.Alpha = 0.99
	c, err := New(cfg, testSpace(), &quadratic{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	st, err := c.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	current := rec.samples[0].Score
	sawRejected := false
	for _, s := range rec.samples[1:] {
		if !s.Score.Feasible {
			sawRejected = true
			if s.Accepted && current.Feasible {
				t.Fatalf("iteration %d: rejected candidate accepted over feasible current", s.Iteration)
			}
		}
		if s.Accepted {
			current = s.Score
		}
	}
	if !sawRejected {
		t.Fatal("expected the walk to hit the rejected region at least once")
	}
	if st.Rejections["too_far"] == 0 {
		t.Fatalf("expected rejection counts, got %v", st.Rejections)
	}
	if !st.HasBest {
		t.Fatal("expected a best feasible sample")
	}
	for _, s := range rec.samples {
		if s.Score.Feasible && s.Score.Value < st.Best.Score.Value {
			t.Fatalf("best %f is worse than sample %d (%f)", st.Best.Score.Value, s.Iteration, s.Score.Value)
		}
	}
}

func TestSameSeedSameWalk(t *testing.T) {
	run := func() []model.Sample {
		rec := &memRecorder{}
		c, err := New(testConfig(40), testSpace(), &quadratic{})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		if _, err := c.Run(context.Background(), rec); err != nil {
			t.Fatalf("run: %v", err)
		}
		return rec.samples
	}
	a, b := run(), run()
	for i := range a {
		if a[i].Score != b[i].Score || a[i].Accepted != b[i].Accepted {
			t.Fatalf("walks diverged at iteration %d", i)
		}
	}
}

func TestEvaluatorErrorAbortsWithIteration(t *testing.T) {
	boom := errors.New("model crashed")
	calls := 0
	eval := evalFunc(func(context.Context, model.ParameterVector) (model.Score, error) {
		calls++
		if calls == 5 {
			return model.Score{}, boom
		}
		return model.Fit(1), nil
	})
	c, err := New(testConfig(50), testSpace(), eval)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = c.Run(context.Background(), nil)
	f, ok := AsFailure(err)
	if !ok {
		t.Fatalf("expected chain failure, got %v", err)
	}
	if f.Kind != FailureEvaluate || f.Iteration != 4 || !errors.Is(err, boom) {
		t.Fatalf("unexpected failure: %+v", f)
	}
}

func TestRecorderErrorAborts(t *testing.T) {
	rec := RecorderFunc(func(_ context.Context, s model.Sample) error {
		if s.Iteration == 3 {
			return errors.New("disk full")
		}
		return nil
	})
	c, err := New(testConfig(50), testSpace(), &quadratic{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	st, err := c.Run(context.Background(), rec)
	f, ok := AsFailure(err)
	if !ok || f.Kind != FailureRecord || f.Iteration != 3 {
		t.Fatalf("expected record failure at iteration 3, got %v", err)
	}
	if st.Phase == Terminated {
		t.Fatal("aborted chain must not report termination")
	}
}

func TestProgressIsReported(t *testing.T) {
	var seen []int
	c, err := New(testConfig(12), testSpace(), &quadratic{}, WithProgress(func(st State) {
		seen = append(seen, st.Iteration)
	}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(seen) != 12 || seen[len(seen)-1] != 12 {
		t.Fatalf("unexpected progress reports: %v", seen)
	}
}

type evalFunc func(context.Context, model.ParameterVector) (model.Score, error)

func (f evalFunc) Evaluate(ctx context.Context, p model.ParameterVector) (model.Score, error) {
	return f(ctx, p)
}
