package evaluate

import "errors"

// Limits holds the plausibility constants of the post-simulation checks. The
// defaults were tuned for a temperate grassland; other regions override them
// from configuration.
type Limits struct {
	MaxDailyGPP          float64 `json:"max_daily_gpp" yaml:"max_daily_gpp"`
	AnnualGPPMin         float64 `json:"annual_gpp_min" yaml:"annual_gpp_min"`
	AnnualGPPMax         float64 `json:"annual_gpp_max" yaml:"annual_gpp_max"`
	MaxRespiration       float64 `json:"max_respiration" yaml:"max_respiration"`
	AnnualRespirationMin float64 `json:"annual_respiration_min" yaml:"annual_respiration_min"`
	AnnualRespirationMax float64 `json:"annual_respiration_max" yaml:"annual_respiration_max"`
	SoilCarbonTolerance  float64 `json:"soil_carbon_tolerance" yaml:"soil_carbon_tolerance"`
	GrazingConversion    float64 `json:"grazing_conversion" yaml:"grazing_conversion"`
	LivestockWeight      float64 `json:"livestock_weight" yaml:"livestock_weight"`
	LivestockDemand      float64 `json:"livestock_demand" yaml:"livestock_demand"`
	MaxStockingRate      float64 `json:"max_stocking_rate" yaml:"max_stocking_rate"`
	CutCarbonFactor      float64 `json:"cut_carbon_factor" yaml:"cut_carbon_factor"`
	CutThreshold         float64 `json:"cut_threshold" yaml:"cut_threshold"`

	SoilPool          int   `json:"soil_pool" yaml:"soil_pool"`
	RespirationFluxes []int `json:"respiration_fluxes" yaml:"respiration_fluxes"`
	ActiveFluxes      []int `json:"active_fluxes" yaml:"active_fluxes"`
	CutDriverRow      int   `json:"cut_driver_row" yaml:"cut_driver_row"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxDailyGPP:          25,
		AnnualGPPMin:         500,
		AnnualGPPMax:         2800,
		MaxRespiration:       20,
		AnnualRespirationMin: 500,
		AnnualRespirationMax: 2600,
		SoilCarbonTolerance:  0.05,
		GrazingConversion:    21,
		LivestockWeight:      650,
		LivestockDemand:      0.035,
		MaxStockingRate:      70,
		CutCarbonFactor:      0.021,
		CutThreshold:         0,
		SoilPool:             5,
		RespirationFluxes:    []int{2, 12, 13},
		ActiveFluxes:         []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 11, 12, 13, 14, 15, 17, 18, 19, 20},
		CutDriverRow:         7,
	}
}

// Validate checks internal consistency against the trajectory layout.
func (l Limits) Validate(pools, fluxes int) error {
	if l.MaxDailyGPP <= 0 || l.MaxRespiration <= 0 || l.MaxStockingRate <= 0 {
		return errors.New("per-step ceilings must be > 0")
	}
	if l.AnnualGPPMin < 0 || l.AnnualGPPMax <= l.AnnualGPPMin {
		return errors.New("annual gpp range must satisfy 0 <= min < max")
	}
	if l.AnnualRespirationMin < 0 || l.AnnualRespirationMax <= l.AnnualRespirationMin {
		return errors.New("annual respiration range must satisfy 0 <= min < max")
	}
	if l.SoilCarbonTolerance <= 0 {
		return errors.New("soil carbon tolerance must be > 0")
	}
	if l.LivestockWeight <= 0 || l.LivestockDemand <= 0 {
		return errors.New("livestock weight and demand must be > 0")
	}
	if l.SoilPool < 0 || l.SoilPool >= pools {
		return errors.New("soil pool index out of range")
	}
	for _, f := range append(append([]int(nil), l.RespirationFluxes...), l.ActiveFluxes...) {
		if f < 0 || f >= fluxes {
			return errors.New("flux index out of range")
		}
	}
	if len(l.RespirationFluxes) == 0 {
		return errors.New("respiration fluxes are required")
	}
	if l.CutDriverRow < 0 {
		return errors.New("cut driver row must be >= 0")
	}
	return nil
}
