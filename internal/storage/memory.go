package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mdfcal/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	order       map[string]int
	samples     map[string][]model.Sample
	next        int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.order = make(map[string]int)
	s.samples = make(map[string][]model.Sample)
	s.next = 0
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if _, ok := s.order[run.ID]; !ok {
		s.order[run.ID] = s.next
		s.next++
	}
	run.BestParameters = run.BestParameters.Clone()
	run.ParameterNames = append([]string(nil), run.ParameterNames...)
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.RunRecord{}, false, ErrNotInitialized
	}
	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtUTC == out[j].CreatedAtUTC {
			// Prefer later saved runs for equal timestamps.
			return s.order[out[i].ID] > s.order[out[j].ID]
		}
		return out[i].CreatedAtUTC > out[j].CreatedAtUTC
	})
	return out, nil
}

func (s *MemoryStore) AppendSample(_ context.Context, runID string, sample model.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	sample.Parameters = sample.Parameters.Clone()
	s.samples[runID] = append(s.samples[runID], sample)
	return nil
}

func (s *MemoryStore) Samples(_ context.Context, runID string, chain int) ([]model.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	var out []model.Sample
	for _, sample := range s.samples[runID] {
		if chain >= 0 && sample.Chain != chain {
			continue
		}
		sample.Parameters = sample.Parameters.Clone()
		out = append(out, sample)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Chain != out[j].Chain {
			return out[i].Chain < out[j].Chain
		}
		return out[i].Iteration < out[j].Iteration
	})
	return out, nil
}
