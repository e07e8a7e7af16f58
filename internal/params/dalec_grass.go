package params

// Positions of the DALEC-GRASS parameters referenced by the feasibility checks.
const (
	TORLitter         = 6
	TORSOM            = 7
	GSIMinTemp        = 11
	GSIMaxTemp        = 12
	GSIMinPhotoperiod = 13
	InitLabile        = 15
	InitFoliar        = 16
	InitRoot          = 17
	InitLitter        = 18
	GSIMaxPhotoperiod = 19
	GSIMinVPD         = 20
	GSIMaxVPD         = 21
	GrazeDMMin        = 26
	CutDMMin          = 27
	InitSOM           = 29

	DALECGrassCount = 34
)

var dalecGrass = []Bound{
	{"decomp_rate", 1e-3, 0.1, "decomposition rate"},
	{"f_auto", 0.43, 0.48, "GPP to autotrophic respiration fraction"},
	{"gsi_sens_growth", 0.75, 1.5, "GSI sensitivity for leaf growth"},
	{"f_root_exp", 0.10, 1.0, "NPP belowground allocation exponent"},
	{"gsi_max_leaf_turnover", 1e-3, 2.0, "GSI max leaf turnover"},
	{"tor_root", 1e-3, 1e-1, "root turnover rate"},
	{"tor_litter", 1e-3, 1e-1, "litter turnover rate"},
	{"tor_som", 1e-7, 1e-4, "SOM turnover rate"},
	{"temp_factor", 0.01, 0.20, "temperature factor (Q10)"},
	{"pnue", 7, 25, "photosynthetic nitrogen use efficiency"},
	{"gsi_max_labile_turnover", 1e-3, 1.0, "GSI max labile turnover"},
	{"gsi_min_temp", 230, 290, "GSI min temperature (K)"},
	{"gsi_max_temp", 250, 300, "GSI max temperature (K)"},
	{"gsi_min_photoperiod", 3600, 20000, "GSI min photoperiod (s)"},
	{"lma", 35, 55, "leaf mass per area"},
	{"init_labile", 20, 100, "initial labile pool"},
	{"init_foliar", 20, 100, "initial foliar pool"},
	{"init_root", 40, 2000, "initial root pool"},
	{"init_litter", 40, 2000, "initial litter pool"},
	{"gsi_max_photoperiod", 10000, 40000, "GSI max photoperiod (s)"},
	{"gsi_min_vpd", 100, 3000, "GSI min VPD (Pa)"},
	{"gsi_max_vpd", 1000, 5000, "GSI max VPD (Pa)"},
	{"critical_gpp", 1e-3, 0.5, "critical GPP for LAI growth"},
	{"gsi_sens_senescence", 0.96, 1.00, "GSI sensitivity for leaf senescence"},
	{"gsi_growing_step", 0.5, 3.0, "GSI growing stage per step"},
	{"init_gsi", 1.0, 2.0, "initial GSI"},
	{"graze_dm_min", 500, 1500, "DM minimum for grazing (kg DM/ha)"},
	{"cut_dm_min", 1500, 3000, "DM minimum for cutting (kg DM/ha)"},
	{"leaf_stem_alloc", 0.25, 0.75, "leaf:stem allocation"},
	{"init_som", 19000, 21000, "initial SOM pool"},
	{"livestock_demand", 0.015, 0.035, "livestock DM demand (fraction of body weight)"},
	{"graze_labile_loss", 0.01, 0.10, "post-grazing labile loss fraction"},
	{"cut_labile_loss", 0.50, 0.90, "post-cutting labile loss fraction"},
	{"graze_min_removal", 0.1, 1.0, "min DM removal for a grazing instance (gC/m2/week)"},
}

// DALECGrass returns the default prior table for the grassland model.
func DALECGrass() *Space {
	return MustSpace(dalecGrass)
}
