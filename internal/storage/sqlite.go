//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"mdfcal/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run model.RunRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}

	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at_utc, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at_utc = excluded.created_at_utc,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, run.ID, run.CreatedAtUTC, run.SchemaVersion, run.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (model.RunRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.RunRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunRecord{}, false, nil
		}
		return model.RunRecord{}, false, err
	}

	run, err := DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM runs ORDER BY created_at_utc DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunRecord
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		run, err := DecodeRun(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", id, err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendSample(ctx context.Context, runID string, sample model.Sample) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	params, err := EncodeParameters(sample.Parameters)
	if err != nil {
		return err
	}
	var score sql.NullFloat64
	if sample.Score.Feasible {
		score = sql.NullFloat64{Float64: sample.Score.Value, Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO samples (run_id, chain, iteration, score, reason, accepted, temperature, parameters)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, sample.Chain, sample.Iteration, score, sample.Score.Reason, sample.Accepted, sample.Temperature, params)
	return err
}

func (s *SQLiteStore) Samples(ctx context.Context, runID string, chain int) ([]model.Sample, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT chain, iteration, score, reason, accepted, temperature, parameters
		FROM samples
		WHERE run_id = ? AND (? < 0 OR chain = ?)
		ORDER BY chain, iteration
	`, runID, chain, chain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Sample
	for rows.Next() {
		var (
			sample  model.Sample
			score   sql.NullFloat64
			reason  string
			payload []byte
		)
		if err := rows.Scan(&sample.Chain, &sample.Iteration, &score, &reason, &sample.Accepted, &sample.Temperature, &payload); err != nil {
			return nil, err
		}
		if score.Valid {
			sample.Score = model.Fit(score.Float64)
		} else {
			sample.Score = model.Rejected(reason)
		}
		if sample.Parameters, err = DecodeParameters(payload); err != nil {
			return nil, fmt.Errorf("decode sample %s/%d/%d: %w", runID, sample.Chain, sample.Iteration, err)
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at_utc TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS samples (
			run_id TEXT NOT NULL,
			chain INTEGER NOT NULL,
			iteration INTEGER NOT NULL,
			score REAL,
			reason TEXT NOT NULL,
			accepted INTEGER NOT NULL,
			temperature REAL NOT NULL,
			parameters BLOB NOT NULL,
			PRIMARY KEY (run_id, chain, iteration)
		);
	`)
	return err
}
