package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/longhaul"
	"github.com/xraph/longhaul/id"
	"github.com/xraph/longhaul/job"
)

const jobColumns = `
	id, name, owner, status, status_messages, internal_data, data, resources,
	created_at, updated_at`

// Timestamps are stored as RFC 3339 strings so lexical and chronological
// order coincide for the created_at index.
const timeLayout = time.RFC3339Nano

// Create inserts a new job in pending status with store-assigned timestamps.
func (s *Store) Create(ctx context.Context, name, owner string, data json.RawMessage) (*job.Job, error) {
	jobID := id.NewJobID()
	now := time.Now().UTC()

	var dataStr sql.NullString
	if data != nil {
		dataStr = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO longhaul_jobs (id, name, owner, status, internal_data, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, '{}', ?, ?, ?)`,
		jobID.String(), name, owner, string(job.StatusPending),
		dataStr, now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, longhaul.ErrJobAlreadyExists
		}
		return nil, fmt.Errorf("longhaul/sqlite: create job: %w", err)
	}

	return s.Get(ctx, jobID)
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+jobColumns+` FROM longhaul_jobs WHERE id = ?`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, longhaul.ErrJobNotFound
		}
		return nil, fmt.Errorf("longhaul/sqlite: get job: %w", err)
	}
	return j, nil
}

// List returns jobs for the given owner matching any of the given statuses,
// ordered by creation time ascending.
func (s *Store) List(ctx context.Context, owner string, statuses ...job.Status) ([]*job.Job, error) {
	query := `SELECT` + jobColumns + ` FROM longhaul_jobs WHERE 1=1`
	args := []interface{}{}

	if owner != "" {
		query += " AND owner = ?"
		args = append(args, owner)
	}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("longhaul/sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("longhaul/sqlite: scan job row: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("longhaul/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

// UpdateStatus persists next only if the stored status still equals
// expected.
func (s *Store) UpdateStatus(ctx context.Context, jobID id.JobID, expected, next job.Status) (*job.Job, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE longhaul_jobs
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(next), time.Now().UTC().Format(timeLayout),
		jobID.String(), string(expected),
	)
	if err != nil {
		return nil, fmt.Errorf("longhaul/sqlite: update status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("longhaul/sqlite: update status: %w", err)
	}
	if affected > 0 {
		return s.Get(ctx, jobID)
	}

	// No row matched: either the record is gone or the status moved on.
	var exists bool
	if qErr := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM longhaul_jobs WHERE id = ?)`,
		jobID.String(),
	).Scan(&exists); qErr != nil {
		return nil, fmt.Errorf("longhaul/sqlite: update status: %w", qErr)
	}
	if !exists {
		return nil, longhaul.ErrJobNotFound
	}
	return nil, longhaul.ErrConflict
}

// UpdateCheckpoint persists the runner's resume position inside the
// internal data document.
func (s *Store) UpdateCheckpoint(ctx context.Context, jobID id.JobID, checkpoint int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE longhaul_jobs
		SET internal_data = json_set(COALESCE(internal_data, '{}'), '$.checkpoint', ?),
		    updated_at = ?
		WHERE id = ?`,
		checkpoint, time.Now().UTC().Format(timeLayout), jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("longhaul/sqlite: update checkpoint: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("longhaul/sqlite: update checkpoint: %w", err)
	}
	if affected == 0 {
		return longhaul.ErrJobNotFound
	}
	return nil
}

// SaveResult persists the payload fields of a finished or checkpointed job.
func (s *Store) SaveResult(ctx context.Context, jobID id.JobID, upd job.ResultUpdate) error {
	query := `UPDATE longhaul_jobs SET updated_at = ?`
	args := []interface{}{time.Now().UTC().Format(timeLayout)}

	if upd.Data != nil {
		query += ", data = ?"
		args = append(args, string(upd.Data))
	}
	if upd.Resources != nil {
		raw, err := json.Marshal(upd.Resources)
		if err != nil {
			return fmt.Errorf("longhaul/sqlite: marshal resources: %w", err)
		}
		query += ", resources = ?"
		args = append(args, string(raw))
	}
	if upd.StatusMessages != nil {
		raw, err := json.Marshal(upd.StatusMessages)
		if err != nil {
			return fmt.Errorf("longhaul/sqlite: marshal status messages: %w", err)
		}
		query += ", status_messages = ?"
		args = append(args, string(raw))
	}

	query += " WHERE id = ?"
	args = append(args, jobID.String())

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("longhaul/sqlite: save result: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("longhaul/sqlite: save result: %w", err)
	}
	if affected == 0 {
		return longhaul.ErrJobNotFound
	}
	return nil
}

// Delete removes a job by ID.
func (s *Store) Delete(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM longhaul_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("longhaul/sqlite: delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("longhaul/sqlite: delete job: %w", err)
	}
	if affected == 0 {
		return longhaul.ErrJobNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob scans a single job row.
func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j            job.Job
		idStr        string
		statusStr    string
		messagesRaw  sql.NullString
		internalRaw  string
		dataRaw      sql.NullString
		resourcesRaw sql.NullString
		createdStr   string
		updatedStr   string
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Owner, &statusStr,
		&messagesRaw, &internalRaw, &dataRaw, &resourcesRaw,
		&createdStr, &updatedStr,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(statusStr)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if j.CreatedAt, err = time.Parse(timeLayout, createdStr); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if j.UpdatedAt, err = time.Parse(timeLayout, updatedStr); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	if messagesRaw.Valid && messagesRaw.String != "" {
		var msgs job.StatusMessages
		if err := json.Unmarshal([]byte(messagesRaw.String), &msgs); err != nil {
			return nil, fmt.Errorf("decode status messages: %w", err)
		}
		j.StatusMessages = &msgs
	}
	if internalRaw != "" {
		if err := json.Unmarshal([]byte(internalRaw), &j.InternalData); err != nil {
			return nil, fmt.Errorf("decode internal data: %w", err)
		}
	}
	if dataRaw.Valid && dataRaw.String != "" {
		j.Data = json.RawMessage(dataRaw.String)
	}
	if resourcesRaw.Valid && resourcesRaw.String != "" {
		if err := json.Unmarshal([]byte(resourcesRaw.String), &j.Resources); err != nil {
			return nil, fmt.Errorf("decode resources: %w", err)
		}
	}

	return &j, nil
}
