package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"depot/internal/job"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const jobDataColumns = `guid, name, media_type, encoding, use_code, size, create_timestamp`

type jobDataRow struct {
	job.Data
	Payload []byte `db:"payload"`
}

// JobDataStore persists job data payloads in job.job_data.
type JobDataStore struct {
	db *sqlx.DB
}

// NewJobDataStore creates a job data store over db.
func NewJobDataStore(db *sqlx.DB) *JobDataStore {
	return &JobDataStore{db: db}
}

// Put implements job.DataStore.
func (s *JobDataStore) Put(ctx context.Context, data job.Data, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job.job_data (`+jobDataColumns+`, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, data.GUID, data.Name, data.MediaType, data.Encoding, data.Use, data.Size, data.CreatedAt, payload)
	if err != nil {
		return fmt.Errorf("insert job data %s: %w", data.GUID, err)
	}
	return nil
}

// Stat implements job.DataStore.
func (s *JobDataStore) Stat(ctx context.Context, guid string) (job.Data, bool, error) {
	var data job.Data
	err := s.db.GetContext(ctx, &data, `SELECT `+jobDataColumns+` FROM job.job_data WHERE guid = $1`, guid)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Data{}, false, nil
	}
	if err != nil {
		return job.Data{}, false, fmt.Errorf("select job data %s: %w", guid, err)
	}
	return data, true, nil
}

// Get implements job.DataStore.
func (s *JobDataStore) Get(ctx context.Context, guid string) (job.Data, []byte, bool, error) {
	var row jobDataRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobDataColumns+`, payload FROM job.job_data WHERE guid = $1`, guid)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Data{}, nil, false, nil
	}
	if err != nil {
		return job.Data{}, nil, false, fmt.Errorf("select job data %s: %w", guid, err)
	}
	return row.Data, row.Payload, true, nil
}

// Delete implements job.DataStore.
func (s *JobDataStore) Delete(ctx context.Context, guids ...string) error {
	if len(guids) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM job.job_data WHERE guid = ANY($1)`, pq.Array(guids)); err != nil {
		return fmt.Errorf("delete job data: %w", err)
	}
	return nil
}

// List implements job.DataStore.
func (s *JobDataStore) List(ctx context.Context) ([]job.Data, error) {
	var result []job.Data
	if err := s.db.SelectContext(ctx, &result, `SELECT `+jobDataColumns+` FROM job.job_data ORDER BY create_timestamp`); err != nil {
		return nil, fmt.Errorf("list job data: %w", err)
	}
	return result, nil
}

// Ping implements job.DataStore.
func (s *JobDataStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ job.DataStore = (*JobDataStore)(nil)
