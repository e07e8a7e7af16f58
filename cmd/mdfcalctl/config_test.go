package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mdfcal/internal/anneal"
	"mdfcal/internal/evaluate"
	"mdfcal/internal/site"
)

func TestLoadFileConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	payload := `
workdir: /data/sites
site: uk_grass
chains: 4
model:
  command: /opt/dalec/run
  args: [--quiet]
  timeout: 30s
search:
  repetitions: 5000
  alpha: 0.95
limits:
  annual_gpp_max: 3000
bounds:
  - {name: tor_som, lower: 1.0e-6, upper: 1.0e-5}
`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	fc, err := loadFileConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg := defaultCLIConfig()
	if err := cfg.applyFile(fc); err != nil {
		t.Fatalf("apply config: %v", err)
	}

	if cfg.Workdir != "/data/sites" || cfg.Site != "uk_grass" || cfg.Chains != 4 {
		t.Fatalf("unexpected site fields: %+v", cfg)
	}
	if cfg.ModelCommand != "/opt/dalec/run" || len(cfg.ModelArgs) != 1 || cfg.ModelTimeout != 30*time.Second {
		t.Fatalf("unexpected model fields: cmd=%s args=%v timeout=%s", cfg.ModelCommand, cfg.ModelArgs, cfg.ModelTimeout)
	}
	if cfg.Search.Repetitions != 5000 || cfg.Search.Alpha != 0.95 {
		t.Fatalf("unexpected search fields: %+v", cfg.Search)
	}
	if cfg.Search.TrialsPerTemperature != 3000 || cfg.Search.InitialTemperature != 90 {
		t.Fatalf("unset search fields must keep defaults: %+v", cfg.Search)
	}
	defaults := evaluate.DefaultLimits()
	if cfg.Limits.AnnualGPPMax != 3000 {
		t.Fatalf("expected annual gpp max override, got %f", cfg.Limits.AnnualGPPMax)
	}
	if cfg.Limits.AnnualGPPMin != defaults.AnnualGPPMin || len(cfg.Limits.ActiveFluxes) != len(defaults.ActiveFluxes) {
		t.Fatalf("unset limits must keep defaults: %+v", cfg.Limits)
	}
	if len(cfg.Bounds) != 1 || cfg.Bounds[0].Name != "tor_som" || cfg.Bounds[0].Upper != 1e-5 {
		t.Fatalf("unexpected bounds: %+v", cfg.Bounds)
	}
}

func TestLoadFileConfigRejectsBadTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte("model:\n  timeout: soon\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	fc, err := loadFileConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg := defaultCLIConfig()
	if err := cfg.applyFile(fc); err == nil {
		t.Fatal("expected timeout parse error")
	}
}

func TestLoadFileConfigKeepsExplicitZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	payload := "spinup_steps: 0\nlatitude: 0\nsearch:\n  seed: 0\n"
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	fc, err := loadFileConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg := defaultCLIConfig()
	if err := cfg.applyFile(fc); err != nil {
		t.Fatalf("apply config: %v", err)
	}
	if cfg.SpinupSteps != 0 || cfg.Latitude != 0 || cfg.Search.Seed != 0 {
		t.Fatalf("explicit zero replaced: spinup=%d lat=%f seed=%d", cfg.SpinupSteps, cfg.Latitude, cfg.Search.Seed)
	}

	empty := defaultCLIConfig()
	if err := empty.applyFile(fileConfig{}); err != nil {
		t.Fatalf("apply empty config: %v", err)
	}
	if empty.SpinupSteps != site.DefaultSpinupSteps || empty.Search.Seed != anneal.DefaultConfig().Seed {
		t.Fatalf("absent keys must keep defaults: spinup=%d seed=%d", empty.SpinupSteps, empty.Search.Seed)
	}
}

func TestSpinupFlagZeroReachesSiteOptions(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	if err := fs.Parse([]string{"-site", "grass", "-spinup", "0", "-lat", "0"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, _, err := common.resolve(true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	opts := cfg.siteOptions()
	if opts.SpinupSteps == nil || *opts.SpinupSteps != 0 || opts.Latitude == nil || *opts.Latitude != 0 {
		t.Fatalf("expected zero spin-up and latitude, got %+v", opts)
	}
}

func TestResolvePrecedence(t *testing.T) {
	t.Setenv(envSite, "env_site")
	t.Setenv(envWorkdir, "/env/workdir")
	t.Setenv(envModelCmd, "/env/model")

	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte("site: file_site\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	if err := fs.Parse([]string{"-config", path, "-model-cmd", "/flag/model", "-bound", "lma=40:50"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, set, err := common.resolve(true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Site != "file_site" {
		t.Fatalf("config file must override env, got site=%s", cfg.Site)
	}
	if cfg.Workdir != "/env/workdir" {
		t.Fatalf("env must override defaults, got workdir=%s", cfg.Workdir)
	}
	if cfg.ModelCommand != "/flag/model" || !set["model-cmd"] {
		t.Fatalf("flag must override env, got model=%s", cfg.ModelCommand)
	}
	if len(cfg.Bounds) != 1 || cfg.Bounds[0].Name != "lma" {
		t.Fatalf("unexpected bounds: %+v", cfg.Bounds)
	}
}

func TestParseBound(t *testing.T) {
	b, err := parseBound("init_som = 18000:22000")
	if err != nil {
		t.Fatalf("parse bound: %v", err)
	}
	if b.Name != "init_som" || b.Lower != 18000 || b.Upper != 22000 {
		t.Fatalf("unexpected bound: %+v", b)
	}
	for _, bad := range []string{"init_som", "=1:2", "x=1", "x=a:2", "x=1:b"} {
		if _, err := parseBound(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseValues(t *testing.T) {
	v, err := parseValues("1, 2.5,3e-2")
	if err != nil {
		t.Fatalf("parse values: %v", err)
	}
	if len(v) != 3 || v[1] != 2.5 || v[2] != 0.03 {
		t.Fatalf("unexpected values: %v", v)
	}
	if _, err := parseValues("1,,2"); err == nil {
		t.Fatal("expected error for empty value")
	}
}
