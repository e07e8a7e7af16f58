// Package npy reads and writes the NumPy array files exchanged with the
// preprocessing pipeline and the forward model executable.
package npy

import (
	"fmt"
	"io"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// ReadMatrix decodes a 2-D array in either C or Fortran order.
func ReadMatrix(r io.Reader) (*mat.Dense, error) {
	rd, err := npyio.NewReader(r)
	if err != nil {
		return nil, err
	}
	shape := rd.Header.Descr.Shape
	if len(shape) != 2 {
		return nil, fmt.Errorf("expected 2-D array, got shape %v", shape)
	}
	rows, cols := shape[0], shape[1]
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("empty array with shape %v", shape)
	}
	var raw []float64
	if err := rd.Read(&raw); err != nil {
		return nil, err
	}
	if len(raw) != rows*cols {
		return nil, fmt.Errorf("array holds %d values, shape %v needs %d", len(raw), shape, rows*cols)
	}
	if !rd.Header.Descr.Fortran {
		return mat.NewDense(rows, cols, raw), nil
	}
	data := make([]float64, rows*cols)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			data[i*cols+j] = raw[j*rows+i]
		}
	}
	return mat.NewDense(rows, cols, data), nil
}

// ReadVector decodes a 1-D array. A 2-D array with a single row or column is
// accepted as well.
func ReadVector(r io.Reader) ([]float64, error) {
	rd, err := npyio.NewReader(r)
	if err != nil {
		return nil, err
	}
	shape := rd.Header.Descr.Shape
	switch {
	case len(shape) == 1:
	case len(shape) == 2 && (shape[0] == 1 || shape[1] == 1):
	default:
		return nil, fmt.Errorf("expected 1-D array, got shape %v", shape)
	}
	var raw []float64
	if err := rd.Read(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func ReadMatrixFile(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := ReadMatrix(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return m, nil
}

func ReadVectorFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	v, err := ReadVector(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return v, nil
}

// Rows converts a matrix into row slices.
func Rows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(make([]float64, c), i, m)
	}
	return out
}

// FromRows builds a dense matrix from equally sized rows.
func FromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("empty matrix")
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}

func WriteMatrixFile(path string, rows [][]float64) error {
	m, err := FromRows(rows)
	if err != nil {
		return err
	}
	return writeFile(path, m)
}

func WriteVectorFile(path string, v []float64) error {
	return writeFile(path, v)
}

func writeFile(path string, value any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := npyio.Write(f, value); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
