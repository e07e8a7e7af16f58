package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mdfcal/internal/model"
	"mdfcal/internal/npy"
)

const DALECGrassVersion = 1

// Exec runs the simulator as an external program. Inputs are written as
// drivers.npy, params.npy and call.json into a scratch directory whose path
// is passed as the last argument; the program leaves lai.npy, gpp.npy,
// nee.npy, pools.npy (steps x pools), fluxes.npy (steps x fluxes) and
// removals.npy (2 x steps) in the same directory.
type Exec struct {
	name    string
	version int
	opts    Options
}

func NewExec(name string, version int, opts Options) (*Exec, error) {
	if strings.TrimSpace(opts.Command) == "" {
		return nil, errors.New("forward model command is required")
	}
	if opts.Timeout < 0 {
		return nil, errors.New("forward model timeout must be >= 0")
	}
	return &Exec{name: name, version: version, opts: opts}, nil
}

func newDALECGrassExec(opts Options) (Model, error) {
	return NewExec("dalec_grass", DALECGrassVersion, opts)
}

func (e *Exec) Version() int { return e.version }

func (e *Exec) Name() string { return e.name }

func (e *Exec) Simulate(ctx context.Context, call Call) (model.Trajectory, error) {
	dir, err := os.MkdirTemp(e.opts.ScratchDir, e.name+"-*")
	if err != nil {
		return model.Trajectory{}, err
	}
	if !e.opts.KeepScratch {
		defer os.RemoveAll(dir)
	}

	if err := writeCall(dir, call); err != nil {
		return model.Trajectory{}, err
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}
	args := append(append([]string(nil), e.opts.Args...), dir)
	cmd := exec.CommandContext(ctx, e.opts.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return model.Trajectory{}, fmt.Errorf("run %s: %w: %s", e.opts.Command, err, msg)
		}
		return model.Trajectory{}, fmt.Errorf("run %s: %w", e.opts.Command, err)
	}
	return readTrajectory(dir)
}

func writeCall(dir string, call Call) error {
	if err := npy.WriteMatrixFile(filepath.Join(dir, "drivers.npy"), call.Drivers); err != nil {
		return err
	}
	if err := npy.WriteVectorFile(filepath.Join(dir, "params.npy"), call.Parameters); err != nil {
		return err
	}
	data, err := json.MarshalIndent(call, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "call.json"), data, 0o644)
}

func readTrajectory(dir string) (model.Trajectory, error) {
	var (
		out model.Trajectory
		err error
	)
	vectors := []struct {
		file string
		dst  *[]float64
	}{
		{"lai.npy", &out.LAI},
		{"gpp.npy", &out.GPP},
		{"nee.npy", &out.NEE},
	}
	for _, v := range vectors {
		if *v.dst, err = npy.ReadVectorFile(filepath.Join(dir, v.file)); err != nil {
			return model.Trajectory{}, err
		}
	}
	matrices := []struct {
		file string
		dst  *[][]float64
	}{
		{"pools.npy", &out.Pools},
		{"fluxes.npy", &out.Fluxes},
		{"removals.npy", &out.Removals},
	}
	for _, m := range matrices {
		dense, err := npy.ReadMatrixFile(filepath.Join(dir, m.file))
		if err != nil {
			return model.Trajectory{}, err
		}
		*m.dst = npy.Rows(dense)
	}
	return out, nil
}
