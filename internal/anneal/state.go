package anneal

import (
	"errors"
	"fmt"

	"mdfcal/internal/model"
)

type Phase int

const (
	Initializing Phase = iota
	AtTemperature
	CoolingStep
	Terminated
)

func (p Phase) String() string {
	switch p {
	case Initializing:
		return "initializing"
	case AtTemperature:
		return "at_temperature"
	case CoolingStep:
		return "cooling"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Candidate is a scored parameter vector.
type Candidate struct {
	Parameters model.ParameterVector
	Score      model.Score
}

// State is the mutable state of one annealing chain. A chain owns its state
// exclusively; parallel chains never share one.
type State struct {
	Chain       int
	Phase       Phase
	Temperature float64
	Stage       int
	Trial       int
	Iteration   int
	Current     Candidate
	Best        Candidate
	HasBest     bool
	Accepted    int
	Feasible    int
	Rejections  map[string]int
}

func newState(chain int, temperature float64) *State {
	return &State{
		Chain:       chain,
		Phase:       Initializing,
		Temperature: temperature,
		Rejections:  make(map[string]int),
	}
}

// FailureKind tells which side of an iteration failed.
type FailureKind string

const (
	FailureEvaluate FailureKind = "evaluate"
	FailureRecord   FailureKind = "record"
)

// Failure aborts a chain. Infeasible candidates never produce one.
type Failure struct {
	Kind      FailureKind
	Chain     int
	Iteration int
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("chain %d iteration %d: %s: %v", f.Chain, f.Iteration, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure extracts a chain failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
