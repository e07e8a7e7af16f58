package evaluate

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"mdfcal/internal/model"
	"mdfcal/internal/params"
)

// Window is the scored (post spin-up) view a trajectory check sees. Dated is
// the first scored step inside the observation calendar; the LAI fit and the
// cut counts start there.
type Window struct {
	Params     model.ParameterVector
	Trajectory model.Trajectory
	CutDriver  []float64
	Dated      int
	StepDays   float64
	Years      int
	Limits     Limits
}

// TrajectoryCheck rejects a simulated trajectory.
type TrajectoryCheck struct {
	Name   string
	Reject func(w Window) bool
}

const (
	ReasonFiniteNonNegative  = "finite_nonnegative"
	ReasonActiveFluxes       = "active_fluxes"
	ReasonGPPCeiling         = "gpp_ceiling"
	ReasonAnnualGPP          = "annual_gpp"
	ReasonRespirationCeiling = "respiration_ceiling"
	ReasonAnnualRespiration  = "annual_respiration"
	ReasonSoilSteadyState    = "soil_steady_state"
	ReasonStockingRate       = "stocking_rate"
	ReasonCutCount           = "cut_count"
	ReasonNoOverlap          = "no_overlap"
)

// FeasibilityChecks returns the post-simulation checks in evaluation order.
// Later checks may assume every earlier check passed.
func FeasibilityChecks() []TrajectoryCheck {
	return []TrajectoryCheck{
		{ReasonFiniteNonNegative, rejectNonFinite},
		{ReasonActiveFluxes, rejectInactiveFlux},
		{ReasonGPPCeiling, func(w Window) bool {
			return len(w.Trajectory.GPP) > 0 && floats.Max(w.Trajectory.GPP) > w.Limits.MaxDailyGPP
		}},
		{ReasonAnnualGPP, func(w Window) bool {
			total := floats.Sum(w.Trajectory.GPP) * w.StepDays
			return outside(total, w.Limits.AnnualGPPMin, w.Limits.AnnualGPPMax, w.Years)
		}},
		{ReasonRespirationCeiling, func(w Window) bool {
			resp := respiration(w)
			return len(resp) > 0 && floats.Max(resp) > w.Limits.MaxRespiration
		}},
		{ReasonAnnualRespiration, func(w Window) bool {
			total := floats.Sum(respiration(w)) * w.StepDays
			return outside(total, w.Limits.AnnualRespirationMin, w.Limits.AnnualRespirationMax, w.Years)
		}},
		{ReasonSoilSteadyState, rejectSoilDrift},
		{ReasonStockingRate, func(w Window) bool {
			if len(w.Trajectory.Removals) == 0 {
				return false
			}
			scale := w.Limits.GrazingConversion / (w.Limits.LivestockWeight * w.Limits.LivestockDemand)
			for _, r := range w.Trajectory.Removals[0] {
				if r*scale > w.Limits.MaxStockingRate {
					return true
				}
			}
			return false
		}},
		{ReasonCutCount, func(w Window) bool {
			return SimulatedCuts(w) != PrescribedCuts(after(w.CutDriver, w.Dated))
		}},
	}
}

func CheckFeasibility(checks []TrajectoryCheck, w Window) string {
	for _, c := range checks {
		if c.Reject(w) {
			return c.Name
		}
	}
	return ""
}

func rejectNonFinite(w Window) bool {
	t := w.Trajectory
	if bad(t.LAI) || bad(t.GPP) {
		return true
	}
	for _, row := range t.Pools {
		if bad(row) {
			return true
		}
	}
	for _, row := range t.Fluxes {
		if bad(row) {
			return true
		}
	}
	return false
}

func bad(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
			return true
		}
	}
	return false
}

// rejectInactiveFlux fails when any always-active flux channel stays at zero
// for the whole window.
func rejectInactiveFlux(w Window) bool {
	if len(w.Trajectory.Fluxes) == 0 {
		return false
	}
	for _, f := range w.Limits.ActiveFluxes {
		active := false
		for _, row := range w.Trajectory.Fluxes {
			if row[f] != 0 {
				active = true
				break
			}
		}
		if !active {
			return true
		}
	}
	return false
}

func rejectSoilDrift(w Window) bool {
	pools := w.Trajectory.Pools
	if len(pools) == 0 {
		return false
	}
	initial := w.Params[params.InitSOM]
	final := pools[len(pools)-1][w.Limits.SoilPool]
	return math.Abs(initial-final) > initial*w.Limits.SoilCarbonTolerance
}

func respiration(w Window) []float64 {
	out := make([]float64, len(w.Trajectory.Fluxes))
	for i, row := range w.Trajectory.Fluxes {
		for _, f := range w.Limits.RespirationFluxes {
			out[i] += row[f]
		}
	}
	return out
}

func outside(total, lo, hi float64, years int) bool {
	y := float64(years)
	return total < lo*y || total > hi*y
}

// SimulatedCuts counts dated steps whose cut removal, converted to carbon,
// exceeds the detection threshold.
func SimulatedCuts(w Window) int {
	if len(w.Trajectory.Removals) < 2 {
		return 0
	}
	n := 0
	for _, r := range after(w.Trajectory.Removals[1], w.Dated) {
		if r*w.Limits.CutCarbonFactor > w.Limits.CutThreshold {
			n++
		}
	}
	return n
}

// PrescribedCuts counts the cut events encoded in the disturbance driver,
// where each cut is a negative entry. The magnitude of the summed entries is
// truncated.
func PrescribedCuts(driver []float64) int {
	sum := 0.0
	for _, v := range driver {
		if v < 0 {
			sum += v
		}
	}
	return int(math.Abs(sum))
}

func after(v []float64, i int) []float64 {
	if i >= len(v) {
		return nil
	}
	return v[i:]
}
