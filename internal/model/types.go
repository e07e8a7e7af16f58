package model

import "math"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// ParameterVector is an ordered set of model parameters, indexed like the
// parameter space that produced it.
type ParameterVector []float64

func (p ParameterVector) Clone() ParameterVector {
	return append(ParameterVector(nil), p...)
}

// DriverSeries is the forcing matrix handed to the forward model. Rows are
// driver variables, columns are time steps. The first SpinupSteps columns are
// a copy of the first cycle of real data.
type DriverSeries struct {
	Rows        [][]float64
	StepDays    float64
	SpinupSteps int
	Years       int
	Latitude    float64
}

func (d DriverSeries) Steps() int {
	if len(d.Rows) == 0 {
		return 0
	}
	return len(d.Rows[0])
}

func (d DriverSeries) Vars() int { return len(d.Rows) }

// ScoredSteps is the number of steps after the spin-up block.
func (d DriverSeries) ScoredSteps() int {
	n := d.Steps() - d.SpinupSteps
	if n < 0 {
		return 0
	}
	return n
}

// ScoredRow returns the scored (post spin-up) part of driver variable v.
func (d DriverSeries) ScoredRow(v int) []float64 {
	if v < 0 || v >= len(d.Rows) {
		return nil
	}
	return d.Rows[v][d.SpinupSteps:]
}

// ObservationSeries holds LAI observations aligned to the scored steps of a
// DriverSeries: LAI[k] pairs with scored step Offset+k. Missing observations
// are NaN.
type ObservationSeries struct {
	LAI    []float64
	Offset int
}

func (o ObservationSeries) Present() int {
	n := 0
	for _, v := range o.LAI {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Trajectory is the output of one forward model call.
type Trajectory struct {
	LAI      []float64   `json:"lai"`
	GPP      []float64   `json:"gpp"`
	NEE      []float64   `json:"nee"`
	Pools    [][]float64 `json:"pools"`    // [step][pool]
	Fluxes   [][]float64 `json:"fluxes"`   // [step][flux]
	Removals [][]float64 `json:"removals"` // [2][step]: grazing, cutting
}

// Tail returns a trajectory view with the first skip steps of every array
// dropped. The underlying arrays are shared.
func (t Trajectory) Tail(skip int) Trajectory {
	out := Trajectory{
		LAI:    tail(t.LAI, skip),
		GPP:    tail(t.GPP, skip),
		NEE:    tail(t.NEE, skip),
		Pools:  tailRows(t.Pools, skip),
		Fluxes: tailRows(t.Fluxes, skip),
	}
	out.Removals = make([][]float64, len(t.Removals))
	for i, r := range t.Removals {
		out.Removals[i] = tail(r, skip)
	}
	return out
}

func tail(v []float64, skip int) []float64 {
	if skip >= len(v) {
		return v[len(v):]
	}
	return v[skip:]
}

func tailRows(v [][]float64, skip int) [][]float64 {
	if skip >= len(v) {
		return v[len(v):]
	}
	return v[skip:]
}

// Score is the outcome of evaluating one candidate. A rejected candidate has
// no value and carries the name of the check that rejected it.
type Score struct {
	Feasible bool    `json:"feasible"`
	Value    float64 `json:"value"`
	Reason   string  `json:"reason,omitempty"`
}

func Fit(value float64) Score { return Score{Feasible: true, Value: value} }

func Rejected(reason string) Score { return Score{Reason: reason} }

// Objective maps a score onto the minimisation axis; rejected candidates sit
// at +Inf.
func (s Score) Objective() float64 {
	if !s.Feasible {
		return math.Inf(1)
	}
	return s.Value
}

// Better reports whether s is strictly better than other.
func (s Score) Better(other Score) bool {
	if !s.Feasible {
		return false
	}
	return !other.Feasible || s.Value < other.Value
}

// Sample is one evaluated candidate in generation order.
type Sample struct {
	Iteration   int             `json:"iteration"`
	Chain       int             `json:"chain"`
	Parameters  ParameterVector `json:"parameters"`
	Score       Score           `json:"score"`
	Accepted    bool            `json:"accepted"`
	Temperature float64         `json:"temperature"`
}

// RunRecord summarises a calibration run for persistence and listing.
type RunRecord struct {
	VersionedRecord
	ID             string          `json:"id"`
	Site           string          `json:"site"`
	CreatedAtUTC   string          `json:"created_at_utc"`
	Chains         int             `json:"chains"`
	Repetitions    int             `json:"repetitions"`
	Evaluations    int             `json:"evaluations"`
	Accepted       int             `json:"accepted"`
	Feasible       int             `json:"feasible"`
	BestScore      *float64        `json:"best_score,omitempty"`
	BestChain      int             `json:"best_chain"`
	BestParameters ParameterVector `json:"best_parameters,omitempty"`
	ParameterNames []string        `json:"parameter_names"`
	Completed      bool            `json:"completed"`
}
