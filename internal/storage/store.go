package storage

import (
	"context"
	"errors"

	"mdfcal/internal/model"
)

var ErrNotInitialized = errors.New("store is not initialized")

// Store persists calibration runs and their sample traces. Samples are keyed
// by (run, chain, iteration).
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	AppendSample(ctx context.Context, runID string, sample model.Sample) error
	// Samples returns one chain's samples in iteration order, or every chain
	// when chain is negative.
	Samples(ctx context.Context, runID string, chain int) ([]model.Sample, error)
}

// SampleRecorder appends every recorded sample of a run to a store.
type SampleRecorder struct {
	Store Store
	RunID string
}

func (r SampleRecorder) Record(ctx context.Context, sample model.Sample) error {
	return r.Store.AppendSample(ctx, r.RunID, sample)
}
