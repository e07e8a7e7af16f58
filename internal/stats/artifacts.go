package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mdfcal/internal/evaluate"
	"mdfcal/internal/params"
)

const runIndexFile = "run_index.json"

type RunConfig struct {
	RunID                string          `json:"run_id"`
	Site                 string          `json:"site"`
	Workdir              string          `json:"workdir"`
	Chains               int             `json:"chains"`
	Repetitions          int             `json:"repetitions"`
	InitialTemperature   float64         `json:"initial_temperature"`
	TrialsPerTemperature int             `json:"trials_per_temperature"`
	Alpha                float64         `json:"alpha"`
	StepScale            float64         `json:"step_scale"`
	Seed                 int64           `json:"seed"`
	ModelVersion         int             `json:"model_version"`
	ModelCommand         string          `json:"model_command,omitempty"`
	ModelArgs            []string        `json:"model_args,omitempty"`
	Latitude             float64         `json:"latitude"`
	SpinupSteps          int             `json:"spinup_steps"`
	StepDays             float64         `json:"step_days"`
	Limits               evaluate.Limits `json:"limits"`
	BoundOverrides       []params.Bound  `json:"bound_overrides,omitempty"`
}

type NamedValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type ChainSummary struct {
	Chain       int         `json:"chain"`
	Evaluations int         `json:"evaluations"`
	Accepted    int         `json:"accepted"`
	Feasible    int         `json:"feasible"`
	BestScore   *float64    `json:"best_score,omitempty"`
	Temperature float64     `json:"final_temperature"`
	BestCurve   []PlotPoint `json:"best_curve,omitempty"`
}

type Summary struct {
	RunID              string         `json:"run_id"`
	Site               string         `json:"site"`
	Completed          bool           `json:"completed"`
	Failure            string         `json:"failure,omitempty"`
	FailureClass       string         `json:"failure_class,omitempty"`
	Evaluations        int            `json:"evaluations"`
	Simulations        int64          `json:"simulations"`
	ShortCircuits      int64          `json:"short_circuits"`
	Accepted           int            `json:"accepted"`
	Feasible           int            `json:"feasible"`
	RejectionsByReason map[string]int `json:"rejections_by_reason"`
	BestScore          *float64       `json:"best_score,omitempty"`
	BestChain          int            `json:"best_chain"`
	BestParameters     []NamedValue   `json:"best_parameters,omitempty"`
	Chains             []ChainSummary `json:"chains"`
	MeanBestCurve      []PlotPoint    `json:"mean_best_curve,omitempty"`
	DurationSeconds    float64        `json:"duration_seconds"`
}

type RunIndexEntry struct {
	RunID        string   `json:"run_id"`
	Site         string   `json:"site"`
	Chains       int      `json:"chains"`
	Repetitions  int      `json:"repetitions"`
	Seed         int64    `json:"seed"`
	BestScore    *float64 `json:"best_score,omitempty"`
	Completed    bool     `json:"completed"`
	CreatedAtUTC string   `json:"created_at_utc"`
}

func RunDir(baseDir, runID string) string {
	return filepath.Join(baseDir, runID)
}

// TracePath is the CSV sample trace of one chain.
func TracePath(baseDir, runID string, chain int) string {
	return filepath.Join(baseDir, runID, fmt.Sprintf("chain-%d.csv", chain))
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := RunDir(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	return cfg, ok, err
}

func WriteSummary(baseDir, runID string, summary Summary) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	runDir := RunDir(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	if summary.RejectionsByReason == nil {
		summary.RejectionsByReason = map[string]int{}
	}
	return writeJSON(filepath.Join(runDir, "summary.json"), summary)
}

func ReadSummary(baseDir, runID string) (Summary, bool, error) {
	var summary Summary
	ok, err := readJSON(filepath.Join(baseDir, runID, "summary.json"), &summary)
	return summary, ok, err
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	var entries []RunIndexEntry
	ok, err := readJSON(filepath.Join(baseDir, runIndexFile), &entries)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []RunIndexEntry{}, nil
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}
