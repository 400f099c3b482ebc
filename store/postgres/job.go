package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/longhaul"
	"github.com/xraph/longhaul/id"
	"github.com/xraph/longhaul/job"
)

const jobColumns = `
	id, name, owner, status, status_messages, internal_data, data, resources,
	created_at, updated_at`

// Create inserts a new job in pending status with store-assigned timestamps.
func (s *Store) Create(ctx context.Context, name, owner string, data json.RawMessage) (*job.Job, error) {
	jobID := id.NewJobID()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO longhaul_jobs (id, name, owner, status, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING`+jobColumns,
		jobID.String(), name, owner, string(job.StatusPending), []byte(data),
	)

	j, err := scanJob(row)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, longhaul.ErrJobAlreadyExists
		}
		return nil, fmt.Errorf("longhaul/postgres: create job: %w", err)
	}
	return j, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+jobColumns+` FROM longhaul_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, longhaul.ErrJobNotFound
		}
		return nil, fmt.Errorf("longhaul/postgres: get job: %w", err)
	}
	return j, nil
}

// List returns jobs for the given owner matching any of the given statuses,
// ordered by creation time ascending.
func (s *Store) List(ctx context.Context, owner string, statuses ...job.Status) ([]*job.Job, error) {
	query := `SELECT` + jobColumns + ` FROM longhaul_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if owner != "" {
		query += fmt.Sprintf(" AND owner = $%d", argIdx)
		args = append(args, owner)
		argIdx++
	}
	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		query += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, strs)
	}

	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("longhaul/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// UpdateStatus persists next only if the stored status still equals
// expected. The conditional UPDATE resolves concurrent claims at the row:
// exactly one caller sees its expectation hold.
func (s *Store) UpdateStatus(ctx context.Context, jobID id.JobID, expected, next job.Status) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE longhaul_jobs
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING`+jobColumns,
		jobID.String(), string(expected), string(next),
	)

	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("longhaul/postgres: update status: %w", err)
	}

	// No row matched: either the record is gone or the status moved on.
	var exists bool
	if qErr := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM longhaul_jobs WHERE id = $1)`,
		jobID.String(),
	).Scan(&exists); qErr != nil {
		return nil, fmt.Errorf("longhaul/postgres: update status: %w", qErr)
	}
	if !exists {
		return nil, longhaul.ErrJobNotFound
	}
	return nil, longhaul.ErrConflict
}

// UpdateCheckpoint persists the runner's resume position inside the
// internal data document.
func (s *Store) UpdateCheckpoint(ctx context.Context, jobID id.JobID, checkpoint int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE longhaul_jobs
		SET internal_data = jsonb_set(COALESCE(internal_data, '{}'::jsonb), '{checkpoint}', to_jsonb($2::int)),
		    updated_at = NOW()
		WHERE id = $1`,
		jobID.String(), checkpoint,
	)
	if err != nil {
		return fmt.Errorf("longhaul/postgres: update checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return longhaul.ErrJobNotFound
	}
	return nil
}

// SaveResult persists the payload fields of a finished or checkpointed job.
// Nil fields leave the stored values untouched; the status is never touched.
func (s *Store) SaveResult(ctx context.Context, jobID id.JobID, upd job.ResultUpdate) error {
	query := `UPDATE longhaul_jobs SET updated_at = NOW()`
	args := []interface{}{jobID.String()}
	argIdx := 2

	if upd.Data != nil {
		query += fmt.Sprintf(", data = $%d", argIdx)
		args = append(args, []byte(upd.Data))
		argIdx++
	}
	if upd.Resources != nil {
		raw, err := json.Marshal(upd.Resources)
		if err != nil {
			return fmt.Errorf("longhaul/postgres: marshal resources: %w", err)
		}
		query += fmt.Sprintf(", resources = $%d", argIdx)
		args = append(args, raw)
		argIdx++
	}
	if upd.StatusMessages != nil {
		raw, err := json.Marshal(upd.StatusMessages)
		if err != nil {
			return fmt.Errorf("longhaul/postgres: marshal status messages: %w", err)
		}
		query += fmt.Sprintf(", status_messages = $%d", argIdx)
		args = append(args, raw)
	}

	query += " WHERE id = $1"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("longhaul/postgres: save result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return longhaul.ErrJobNotFound
	}
	return nil
}

// Delete removes a job by ID.
func (s *Store) Delete(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM longhaul_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("longhaul/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return longhaul.ErrJobNotFound
	}
	return nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j            job.Job
		idStr        string
		statusStr    string
		messagesRaw  []byte
		internalRaw  []byte
		dataRaw      []byte
		resourcesRaw []byte
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Owner, &statusStr,
		&messagesRaw, &internalRaw, &dataRaw, &resourcesRaw,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(statusStr)
	j.Data = json.RawMessage(dataRaw)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("longhaul/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if len(messagesRaw) > 0 {
		var msgs job.StatusMessages
		if err := json.Unmarshal(messagesRaw, &msgs); err != nil {
			return nil, fmt.Errorf("longhaul/postgres: decode status messages: %w", err)
		}
		j.StatusMessages = &msgs
	}
	if len(internalRaw) > 0 {
		if err := json.Unmarshal(internalRaw, &j.InternalData); err != nil {
			return nil, fmt.Errorf("longhaul/postgres: decode internal data: %w", err)
		}
	}
	if len(resourcesRaw) > 0 {
		if err := json.Unmarshal(resourcesRaw, &j.Resources); err != nil {
			return nil, fmt.Errorf("longhaul/postgres: decode resources: %w", err)
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("longhaul/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("longhaul/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
