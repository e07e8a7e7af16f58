// Package trace streams evaluated samples to CSV, one row per candidate.
package trace

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"mdfcal/internal/model"
)

var fixedColumns = []string{"iteration", "chain", "score", "accepted", "temperature", "reason"}

// Header returns the CSV header for a parameter table.
func Header(names []string) []string {
	out := make([]string, 0, len(fixedColumns)+len(names))
	out = append(out, fixedColumns...)
	return append(out, names...)
}

// Writer appends samples to a CSV stream and flushes after every row, so a
// crashed run leaves a readable prefix.
type Writer struct {
	mu     sync.Mutex
	closer io.Closer
	w      *csv.Writer
	params int
	rows   int
}

// Create truncates path and writes the header.
func Create(path string, names []string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(file, names)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	w.closer = file
	return w, nil
}

func NewWriter(out io.Writer, names []string) (*Writer, error) {
	w := &Writer{w: csv.NewWriter(out), params: len(names)}
	if err := w.w.Write(Header(names)); err != nil {
		return nil, err
	}
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) Record(_ context.Context, s model.Sample) error {
	if len(s.Parameters) != w.params {
		return fmt.Errorf("sample has %d parameters, trace expects %d", len(s.Parameters), w.params)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Write(row(s)); err != nil {
		return err
	}
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return err
	}
	w.rows++
	return nil
}

func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.w.Flush()
	err := w.w.Error()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
		w.closer = nil
	}
	return err
}

func row(s model.Sample) []string {
	score := ""
	if s.Score.Feasible {
		score = formatFloat(s.Score.Value)
	}
	out := []string{
		strconv.Itoa(s.Iteration),
		strconv.Itoa(s.Chain),
		score,
		strconv.FormatBool(s.Accepted),
		formatFloat(s.Temperature),
		s.Score.Reason,
	}
	for _, v := range s.Parameters {
		out = append(out, formatFloat(v))
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Read parses a trace written by Writer and returns the parameter names and
// the samples in file order.
func Read(in io.Reader) ([]string, []model.Sample, error) {
	reader := csv.NewReader(in)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, fmt.Errorf("trace is empty")
		}
		return nil, nil, err
	}
	if len(header) < len(fixedColumns) {
		return nil, nil, fmt.Errorf("trace header must have at least %d columns", len(fixedColumns))
	}
	for i, name := range fixedColumns {
		if header[i] != name {
			return nil, nil, fmt.Errorf("trace column %d is %q, expected %q", i, header[i], name)
		}
	}
	names := append([]string(nil), header[len(fixedColumns):]...)

	var samples []model.Sample
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		s, err := parseRow(record, len(names))
		if err != nil {
			return nil, nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		samples = append(samples, s)
	}
	return names, samples, nil
}

func ReadFile(path string) ([]string, []model.Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()
	return Read(file)
}

func parseRow(record []string, params int) (model.Sample, error) {
	var s model.Sample
	var err error
	if s.Iteration, err = strconv.Atoi(record[0]); err != nil {
		return s, err
	}
	if s.Chain, err = strconv.Atoi(record[1]); err != nil {
		return s, err
	}
	if record[2] != "" {
		v, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return s, err
		}
		s.Score = model.Fit(v)
	} else {
		s.Score = model.Rejected(record[5])
	}
	if s.Accepted, err = strconv.ParseBool(record[3]); err != nil {
		return s, err
	}
	if s.Temperature, err = strconv.ParseFloat(record[4], 64); err != nil {
		return s, err
	}
	s.Parameters = make(model.ParameterVector, params)
	for i := range s.Parameters {
		if s.Parameters[i], err = strconv.ParseFloat(record[len(fixedColumns)+i], 64); err != nil {
			return s, err
		}
	}
	return s, nil
}
