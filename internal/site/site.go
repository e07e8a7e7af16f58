// Package site loads the weekly driver matrix and LAI observations for one
// calibration site and prepares them for the forward model.
package site

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"mdfcal/internal/model"
	"mdfcal/internal/npy"
)

var ErrMissingInput = errors.New("missing site input")

const (
	DefaultSpinupSteps  = 52
	DefaultStepsPerYear = 52
	DefaultStepDays     = 7
	DefaultLatitude     = 50.77

	// IndexRow is the driver variable holding the 1-based run index.
	IndexRow = 0

	// calendarYearDays is the length of the spin-up year. Run calendars
	// start on 1 January 2016.
	calendarYearDays = 366
)

type Config struct {
	Workdir      string  `json:"workdir" yaml:"workdir"`
	Name         string  `json:"site" yaml:"site"`
	SpinupSteps  int     `json:"spinup_steps" yaml:"spinup_steps"`
	StepsPerYear int     `json:"steps_per_year" yaml:"steps_per_year"`
	StepDays     float64 `json:"step_days" yaml:"step_days"`
	Latitude     float64 `json:"latitude" yaml:"latitude"`
}

func DefaultConfig() Config {
	return Config{
		Workdir:      ".",
		SpinupSteps:  DefaultSpinupSteps,
		StepsPerYear: DefaultStepsPerYear,
		StepDays:     DefaultStepDays,
		Latitude:     DefaultLatitude,
	}
}

func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("site name is required")
	}
	if c.SpinupSteps < 0 {
		return errors.New("spin-up steps must be >= 0")
	}
	if c.StepsPerYear <= 0 {
		return errors.New("steps per year must be > 0")
	}
	if !(c.StepDays > 0) {
		return errors.New("step days must be > 0")
	}
	return nil
}

func (c Config) DriverPath() string {
	return filepath.Join(c.Workdir, c.Name+"_M.npy")
}

func (c Config) ObservationPath() string {
	return filepath.Join(c.Workdir, c.Name+"_O.npy")
}

// Data is the prepared input of one site.
type Data struct {
	Drivers      model.DriverSeries
	Observations model.ObservationSeries
	// RealSteps is the number of weekly steps in the driver file.
	RealSteps int
}

// Load reads <site>_M.npy and <site>_O.npy from the working directory.
func Load(cfg Config) (Data, error) {
	if err := cfg.Validate(); err != nil {
		return Data{}, err
	}
	driverPath, obsPath := cfg.DriverPath(), cfg.ObservationPath()
	for _, p := range []string{driverPath, obsPath} {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Data{}, fmt.Errorf("%w: %s", ErrMissingInput, p)
			}
			return Data{}, err
		}
	}

	m, err := npy.ReadMatrixFile(driverPath)
	if err != nil {
		return Data{}, err
	}
	raw := npy.Rows(m)
	rows, err := PrependSpinup(raw, cfg.SpinupSteps)
	if err != nil {
		return Data{}, fmt.Errorf("%s: %w", driverPath, err)
	}
	realSteps := len(raw[0])

	obs, err := npy.ReadVectorFile(obsPath)
	if err != nil {
		return Data{}, err
	}
	lai, err := AlignObservations(obs, realSteps)
	if err != nil {
		return Data{}, fmt.Errorf("%s: %w", obsPath, err)
	}

	total := len(rows[0])
	return Data{
		Drivers: model.DriverSeries{
			Rows:        rows,
			StepDays:    cfg.StepDays,
			SpinupSteps: cfg.SpinupSteps,
			Years:       Years(total, cfg.StepsPerYear),
			Latitude:    cfg.Latitude,
		},
		Observations: model.ObservationSeries{
			LAI:    lai,
			Offset: ObservationOffset(cfg.SpinupSteps, cfg.StepDays),
		},
		RealSteps: realSteps,
	}, nil
}

// PrependSpinup repeats the first n steps of every driver variable in front
// of the series and renumbers the index row 1..N.
func PrependSpinup(rows [][]float64, n int) ([][]float64, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("driver matrix is empty")
	}
	steps := len(rows[0])
	if steps < n {
		return nil, fmt.Errorf("driver series has %d steps, spin-up needs %d", steps, n)
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != steps {
			return nil, fmt.Errorf("driver row %d has %d steps, expected %d", i, len(row), steps)
		}
		r := make([]float64, 0, steps+n)
		r = append(r, row[:n]...)
		r = append(r, row...)
		out[i] = r
	}
	for k := range out[IndexRow] {
		out[IndexRow][k] = float64(k + 1)
	}
	return out, nil
}

// AlignObservations trims the observation vector to the scored calendar. A
// vector as long as the real driver series carries one trailing value past
// the last scored step, which is dropped.
func AlignObservations(obs []float64, realSteps int) ([]float64, error) {
	if len(obs) == 0 {
		return nil, errors.New("observation series is empty")
	}
	if len(obs) > realSteps {
		return nil, fmt.Errorf("observation series has %d values for %d driver steps", len(obs), realSteps)
	}
	if len(obs) == realSteps {
		obs = obs[:len(obs)-1]
	}
	return append([]float64(nil), obs...), nil
}

// ObservationOffset is the number of scored steps that still fall in the
// spin-up calendar year. Observations and cut counts start after them: 52
// weekly spin-up steps end on 29 December, so the first scored week is
// skipped.
func ObservationOffset(spinupSteps int, stepDays float64) int {
	first := int(math.Ceil(calendarYearDays / stepDays))
	if off := first - spinupSteps; off > 0 {
		return off
	}
	return 0
}

// Years counts full years after the spin-up year.
func Years(totalSteps, stepsPerYear int) int {
	y := totalSteps/stepsPerYear - 1
	if y < 0 {
		return 0
	}
	return y
}
