package stats

import (
	"os"
	"path/filepath"
	"testing"

	"mdfcal/internal/evaluate"
)

func TestWriteAndReadRunConfig(t *testing.T) {
	baseDir := t.TempDir()
	cfg := RunConfig{
		Site:        "example",
		Chains:      2,
		Repetitions: 1000,
		Seed:        7,
		Limits:      evaluate.DefaultLimits(),
	}
	if err := WriteRunConfig(baseDir, "run-1", cfg); err != nil {
		t.Fatalf("write config: %v", err)
	}
	loaded, ok, err := ReadRunConfig(baseDir, "run-1")
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted config")
	}
	if loaded.RunID != "run-1" || loaded.Chains != 2 || loaded.Limits.MaxDailyGPP != cfg.Limits.MaxDailyGPP {
		t.Fatalf("unexpected config: %+v", loaded)
	}

	cfg.RunID = "other"
	if err := WriteRunConfig(baseDir, "run-1", cfg); err == nil {
		t.Fatal("expected run id mismatch error")
	}
}

func TestSummaryKeepsRejectionCounts(t *testing.T) {
	baseDir := t.TempDir()
	best := 0.5
	summary := Summary{
		RunID:              "run-1",
		Completed:          true,
		Evaluations:        10,
		RejectionsByReason: map[string]int{"vpd_order": 3, "cut_count": 2},
		BestScore:          &best,
		BestParameters:     []NamedValue{{Name: "a", Value: 1}},
	}
	if err := WriteSummary(baseDir, "run-1", summary); err != nil {
		t.Fatalf("write summary: %v", err)
	}
	if _, err := os.Stat(filepath.Join(baseDir, "run-1", "summary.json")); err != nil {
		t.Fatalf("expected summary file: %v", err)
	}
	loaded, ok, err := ReadSummary(baseDir, "run-1")
	if err != nil || !ok {
		t.Fatalf("read summary: ok=%t err=%v", ok, err)
	}
	if loaded.RejectionsByReason["vpd_order"] != 3 || *loaded.BestScore != best || loaded.BestParameters[0].Name != "a" {
		t.Fatalf("unexpected summary: %+v", loaded)
	}

	if _, ok, err := ReadSummary(baseDir, "missing"); err != nil || ok {
		t.Fatalf("expected missing summary, got ok=%t err=%v", ok, err)
	}
}

func TestRunIndexOrderingAndReplace(t *testing.T) {
	baseDir := t.TempDir()
	entries := []RunIndexEntry{
		{RunID: "a", CreatedAtUTC: "2025-01-01T00:00:00Z"},
		{RunID: "b", CreatedAtUTC: "2025-01-02T00:00:00Z"},
		{RunID: "c", CreatedAtUTC: "2025-01-02T00:00:00Z"},
	}
	for _, e := range entries {
		if err := AppendRunIndex(baseDir, e); err != nil {
			t.Fatalf("append %s: %v", e.RunID, err)
		}
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "a", CreatedAtUTC: "2025-01-01T00:00:00Z", Completed: true}); err != nil {
		t.Fatalf("replace a: %v", err)
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(index) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(index))
	}
	if index[0].RunID != "c" || index[1].RunID != "b" || index[2].RunID != "a" || !index[2].Completed {
		t.Fatalf("unexpected index: %+v", index)
	}
}

func TestListRunIndexEmpty(t *testing.T) {
	index, err := ListRunIndex(t.TempDir())
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(index) != 0 {
		t.Fatalf("expected empty index, got %+v", index)
	}
}

func TestTracePath(t *testing.T) {
	if got := TracePath("out", "run-1", 2); got != filepath.Join("out", "run-1", "chain-2.csv") {
		t.Fatalf("unexpected trace path: %s", got)
	}
}
