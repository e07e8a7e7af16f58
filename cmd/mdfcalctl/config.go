package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mdfcal/internal/anneal"
	"mdfcal/internal/evaluate"
	"mdfcal/internal/forward"
	"mdfcal/internal/params"
	"mdfcal/internal/site"
	"mdfcal/internal/storage"
	api "mdfcal/pkg/mdfcal"
)

const (
	defaultOutDir = "runs"
	defaultDBPath = "mdfcal.db"
)

// cliConfig is the resolved configuration of one command. Sources apply in
// order defaults, environment, YAML file, explicitly set flags.
type cliConfig struct {
	Workdir      string
	Site         string
	OutDir       string
	Store        string
	DBPath       string
	SpinupSteps  int
	StepDays     float64
	Latitude     float64
	ModelVersion int
	ModelCommand string
	ModelArgs    []string
	ModelTimeout time.Duration
	KeepScratch  bool
	Chains       int
	Search       anneal.Config
	Limits       evaluate.Limits
	Bounds       []params.Bound
}

func defaultCLIConfig() cliConfig {
	s := site.DefaultConfig()
	return cliConfig{
		Workdir:      s.Workdir,
		OutDir:       defaultOutDir,
		Store:        storage.DefaultStoreKind(),
		DBPath:       defaultDBPath,
		SpinupSteps:  s.SpinupSteps,
		StepDays:     s.StepDays,
		Latitude:     s.Latitude,
		ModelVersion: forward.DALECGrassVersion,
		Chains:       1,
		Search:       anneal.DefaultConfig(),
		Limits:       evaluate.DefaultLimits(),
	}
}

// fileConfig is the YAML run configuration. Zero values leave the lower
// precedence sources in place, except for the pointer fields where zero is a
// valid setting.
type fileConfig struct {
	Workdir     string   `yaml:"workdir"`
	Site        string   `yaml:"site"`
	OutDir      string   `yaml:"out_dir"`
	Store       string   `yaml:"store"`
	DBPath      string   `yaml:"db_path"`
	SpinupSteps *int     `yaml:"spinup_steps"`
	StepDays    float64  `yaml:"step_days"`
	Latitude    *float64 `yaml:"latitude"`
	Chains      int      `yaml:"chains"`
	Model       struct {
		Version     int      `yaml:"version"`
		Command     string   `yaml:"command"`
		Args        []string `yaml:"args"`
		Timeout     string   `yaml:"timeout"`
		KeepScratch bool     `yaml:"keep_scratch"`
	} `yaml:"model"`
	Search struct {
		Repetitions          int     `yaml:"repetitions"`
		InitialTemperature   float64 `yaml:"initial_temperature"`
		TrialsPerTemperature int     `yaml:"trials_per_temperature"`
		Alpha                float64 `yaml:"alpha"`
		StepScale            float64 `yaml:"step_scale"`
		Seed                 *int64  `yaml:"seed"`
	} `yaml:"search"`
	Limits *yaml.Node     `yaml:"limits"`
	Bounds []params.Bound `yaml:"bounds"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return fc, nil
}

func (c *cliConfig) applyFile(fc fileConfig) error {
	setString(&c.Workdir, fc.Workdir)
	setString(&c.Site, fc.Site)
	setString(&c.OutDir, fc.OutDir)
	setString(&c.Store, fc.Store)
	setString(&c.DBPath, fc.DBPath)
	if fc.SpinupSteps != nil {
		c.SpinupSteps = *fc.SpinupSteps
	}
	setFloat(&c.StepDays, fc.StepDays)
	if fc.Latitude != nil {
		c.Latitude = *fc.Latitude
	}
	setInt(&c.Chains, fc.Chains)

	setInt(&c.ModelVersion, fc.Model.Version)
	setString(&c.ModelCommand, fc.Model.Command)
	if len(fc.Model.Args) > 0 {
		c.ModelArgs = append([]string(nil), fc.Model.Args...)
	}
	if fc.Model.Timeout != "" {
		d, err := time.ParseDuration(fc.Model.Timeout)
		if err != nil {
			return fmt.Errorf("model timeout: %w", err)
		}
		c.ModelTimeout = d
	}
	if fc.Model.KeepScratch {
		c.KeepScratch = true
	}

	setInt(&c.Search.Repetitions, fc.Search.Repetitions)
	setFloat(&c.Search.InitialTemperature, fc.Search.InitialTemperature)
	setInt(&c.Search.TrialsPerTemperature, fc.Search.TrialsPerTemperature)
	setFloat(&c.Search.Alpha, fc.Search.Alpha)
	setFloat(&c.Search.StepScale, fc.Search.StepScale)
	if fc.Search.Seed != nil {
		c.Search.Seed = *fc.Search.Seed
	}

	// Limits decode over the current values so a file can change one
	// constant and keep the rest.
	if fc.Limits != nil {
		if err := fc.Limits.Decode(&c.Limits); err != nil {
			return fmt.Errorf("limits: %w", err)
		}
	}
	c.Bounds = append(c.Bounds, fc.Bounds...)
	return nil
}

const (
	envWorkdir  = "MDFCAL_WORKDIR"
	envSite     = "MDFCAL_SITE"
	envModelCmd = "MDFCAL_MODEL_CMD"
	envStore    = "MDFCAL_STORE"
	envDBPath   = "MDFCAL_DB_PATH"
)

// loadDotEnv loads .env from the current directory when present. Variables
// already set in the environment win.
func loadDotEnv() {
	_ = godotenv.Load()
}

func (c *cliConfig) applyEnv(getenv func(string) string) {
	setString(&c.Workdir, getenv(envWorkdir))
	setString(&c.Site, getenv(envSite))
	setString(&c.ModelCommand, getenv(envModelCmd))
	setString(&c.Store, getenv(envStore))
	setString(&c.DBPath, getenv(envDBPath))
}

// commonFlags are the flags shared by the commands that load a site.
type commonFlags struct {
	fs *flag.FlagSet

	configPath   *string
	workdir      *string
	site         *string
	outDir       *string
	store        *string
	dbPath       *string
	spinup       *int
	stepDays     *float64
	latitude     *float64
	modelVersion *int
	modelCmd     *string
	modelArgs    *string
	modelTimeout *time.Duration
	keepScratch  *bool
	bounds       boundsFlag
}

func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	d := defaultCLIConfig()
	f := &commonFlags{fs: fs}
	f.configPath = fs.String("config", "", "optional YAML run config path")
	f.workdir = fs.String("workdir", d.Workdir, "directory holding <site>_M.npy and <site>_O.npy")
	f.site = fs.String("site", "", "site name")
	f.outDir = fs.String("out", d.OutDir, "run artifacts directory")
	f.store = fs.String("store", d.Store, "store backend: memory|sqlite")
	f.dbPath = fs.String("db-path", d.DBPath, "sqlite database path")
	f.spinup = fs.Int("spinup", d.SpinupSteps, "spin-up steps prepended to the drivers")
	f.stepDays = fs.Float64("step-days", d.StepDays, "days per model step")
	f.latitude = fs.Float64("lat", d.Latitude, "site latitude (degrees)")
	f.modelVersion = fs.Int("model-version", d.ModelVersion, "forward model version")
	f.modelCmd = fs.String("model-cmd", "", "forward model executable")
	f.modelArgs = fs.String("model-args", "", "extra forward model arguments, space separated")
	f.modelTimeout = fs.Duration("model-timeout", 0, "per-call forward model timeout (0 disables)")
	f.keepScratch = fs.Bool("keep-scratch", false, "keep forward model scratch directories")
	fs.Var(&f.bounds, "bound", "parameter bound override name=lower:upper (repeatable)")
	return f
}

// resolve builds the command configuration after fs.Parse.
func (f *commonFlags) resolve(requireSite bool) (cliConfig, map[string]bool, error) {
	cfg := defaultCLIConfig()
	loadDotEnv()
	cfg.applyEnv(os.Getenv)
	if *f.configPath != "" {
		fc, err := loadFileConfig(*f.configPath)
		if err != nil {
			return cliConfig{}, nil, err
		}
		if err := cfg.applyFile(fc); err != nil {
			return cliConfig{}, nil, err
		}
	}

	set := make(map[string]bool)
	f.fs.Visit(func(fl *flag.Flag) {
		set[fl.Name] = true
	})
	if set["workdir"] {
		cfg.Workdir = *f.workdir
	}
	if set["site"] {
		cfg.Site = *f.site
	}
	if set["out"] {
		cfg.OutDir = *f.outDir
	}
	if set["store"] {
		cfg.Store = *f.store
	}
	if set["db-path"] {
		cfg.DBPath = *f.dbPath
	}
	if set["spinup"] {
		cfg.SpinupSteps = *f.spinup
	}
	if set["step-days"] {
		cfg.StepDays = *f.stepDays
	}
	if set["lat"] {
		cfg.Latitude = *f.latitude
	}
	if set["model-version"] {
		cfg.ModelVersion = *f.modelVersion
	}
	if set["model-cmd"] {
		cfg.ModelCommand = *f.modelCmd
	}
	if set["model-args"] {
		cfg.ModelArgs = strings.Fields(*f.modelArgs)
	}
	if set["model-timeout"] {
		cfg.ModelTimeout = *f.modelTimeout
	}
	if set["keep-scratch"] {
		cfg.KeepScratch = *f.keepScratch
	}
	cfg.Bounds = append(cfg.Bounds, f.bounds...)

	if requireSite && strings.TrimSpace(cfg.Site) == "" {
		return cliConfig{}, nil, errors.New("site is required (-site, config or " + envSite + ")")
	}
	return cfg, set, nil
}

func (c cliConfig) siteOptions() api.SiteOptions {
	spinup, lat := c.SpinupSteps, c.Latitude
	return api.SiteOptions{
		Workdir:     c.Workdir,
		Site:        c.Site,
		SpinupSteps: &spinup,
		StepDays:    c.StepDays,
		Latitude:    &lat,
	}
}

func (c cliConfig) modelOptions() api.ModelOptions {
	return api.ModelOptions{
		Version:     c.ModelVersion,
		Command:     c.ModelCommand,
		Args:        c.ModelArgs,
		Timeout:     c.ModelTimeout,
		KeepScratch: c.KeepScratch,
	}
}

// boundsFlag collects -bound name=lower:upper overrides.
type boundsFlag []params.Bound

func (b *boundsFlag) String() string {
	parts := make([]string, 0, len(*b))
	for _, o := range *b {
		parts = append(parts, fmt.Sprintf("%s=%g:%g", o.Name, o.Lower, o.Upper))
	}
	return strings.Join(parts, ",")
}

func (b *boundsFlag) Set(value string) error {
	bound, err := parseBound(value)
	if err != nil {
		return err
	}
	*b = append(*b, bound)
	return nil
}

func parseBound(value string) (params.Bound, error) {
	name, rng, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return params.Bound{}, fmt.Errorf("bound %q: want name=lower:upper", value)
	}
	lo, hi, ok := strings.Cut(rng, ":")
	if !ok {
		return params.Bound{}, fmt.Errorf("bound %q: want name=lower:upper", value)
	}
	lower, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return params.Bound{}, fmt.Errorf("bound %q lower: %w", value, err)
	}
	upper, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return params.Bound{}, fmt.Errorf("bound %q upper: %w", value, err)
	}
	return params.Bound{Name: strings.TrimSpace(name), Lower: lower, Upper: upper}, nil
}

// parseValues reads a comma separated parameter vector.
func parseValues(s string) ([]float64, error) {
	fields := strings.Split(s, ",")
	out := make([]float64, 0, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}
