package evaluate

import (
	"mdfcal/internal/model"
	"mdfcal/internal/params"
)

// ParamCheck rejects a parameter vector before the forward model runs.
type ParamCheck struct {
	Name   string
	Reject func(p model.ParameterVector) bool
}

const (
	ReasonManagementTemperature = "management_temperature_order"
	ReasonVPDOrder              = "vpd_order"
	ReasonPhotoperiodOrder      = "photoperiod_order"
	ReasonSoilCarbonMass        = "soil_carbon_mass"
	ReasonRootPoolMass          = "root_pool_mass"
	ReasonTurnoverOrder         = "turnover_order"
)

// OrderingChecks returns the pre-simulation checks in evaluation order. The
// first check is a single conjunction: grazing above cutting threshold only
// rejects together with an inverted temperature window.
func OrderingChecks() []ParamCheck {
	return []ParamCheck{
		{ReasonManagementTemperature, func(p model.ParameterVector) bool {
			return p[params.GrazeDMMin] > p[params.CutDMMin] && p[params.GSIMaxTemp] <= p[params.GSIMinTemp]
		}},
		{ReasonVPDOrder, func(p model.ParameterVector) bool {
			return p[params.GSIMaxVPD] <= p[params.GSIMinVPD]
		}},
		{ReasonPhotoperiodOrder, func(p model.ParameterVector) bool {
			return p[params.GSIMaxPhotoperiod] <= p[params.GSIMinPhotoperiod]
		}},
		{ReasonSoilCarbonMass, func(p model.ParameterVector) bool {
			return p[params.InitSOM] < p[params.InitLabile]+p[params.InitFoliar]+p[params.InitRoot]+p[params.InitLitter]
		}},
		{ReasonRootPoolMass, func(p model.ParameterVector) bool {
			return p[params.InitRoot] > p[params.InitLabile]+p[params.InitFoliar]+p[params.InitLitter]
		}},
		{ReasonTurnoverOrder, func(p model.ParameterVector) bool {
			return p[params.TORSOM] > p[params.TORLitter]
		}},
	}
}

// CheckOrdering returns the name of the first failing check, or "".
func CheckOrdering(checks []ParamCheck, p model.ParameterVector) string {
	for _, c := range checks {
		if c.Reject(p) {
			return c.Name
		}
	}
	return ""
}
