package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/statisticsnorway/rawdata-converter-boss/internal/jobid"
)

// Status is the lifecycle state of a job. Transitions are forward-only:
// AVAILABLE → ACTIVE → DONE. A job never re-enters AVAILABLE once claimed.
type Status string

// Lifecycle states.
const (
	StatusAvailable Status = "AVAILABLE"
	StatusActive    Status = "ACTIVE"
	StatusDone      Status = "DONE"
)

// ParseStatus validates s as a job status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusAvailable, StatusActive, StatusDone:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Job is a unit of conversion work. Source and Document are set at creation
// and never mutated; only Status changes over a job's lifetime.
type Job struct {
	ID        string
	Status    Status
	Source    string
	Document  json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

const jobColumns = "id, status, source, document, created_at, updated_at"

// scanJob reads one job row in jobColumns order.
func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	if err := row.Scan(&j.ID, &j.Status, &j.Source, &j.Document,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

// Create inserts a new AVAILABLE job with the given id. Returns (nil, nil)
// when a job with that id already exists — the insert is a no-op then, never
// an overwrite, and losing the race to a concurrent caller is not an error.
func (s *Store) Create(ctx context.Context, id, source string, document json.RawMessage) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, source, document)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+jobColumns,
		id, source, document,
	)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // duplicate id
	}
	if err != nil {
		return nil, fmt.Errorf("create job %s: %w", id, err)
	}
	return j, nil
}

// CreateWithGeneratedID generates a fresh sortable id and inserts a new
// AVAILABLE job under it. A ULID collision is effectively impossible, but the
// insert is still checked and retried once rather than assumed to succeed.
func (s *Store) CreateWithGeneratedID(ctx context.Context, source string, document json.RawMessage) (*Job, error) {
	for range 2 {
		j, err := s.Create(ctx, jobid.New(), source, document)
		if err != nil {
			return nil, err
		}
		if j != nil {
			return j, nil
		}
	}
	return nil, fmt.Errorf("create job: generated id collided twice for source %s", source)
}

const claimAnySQL = `
	WITH next AS (
		SELECT id FROM jobs
		WHERE status = 'AVAILABLE'
		ORDER BY id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE jobs SET status = 'ACTIVE', updated_at = now()
	FROM next
	WHERE jobs.id = next.id
	RETURNING jobs.id, jobs.status, jobs.source, jobs.document, jobs.created_at, jobs.updated_at`

const claimSourceSQL = `
	WITH next AS (
		SELECT id FROM jobs
		WHERE status = 'AVAILABLE' AND source = $1
		ORDER BY id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE jobs SET status = 'ACTIVE', updated_at = now()
	FROM next
	WHERE jobs.id = next.id
	RETURNING jobs.id, jobs.status, jobs.source, jobs.document, jobs.created_at, jobs.updated_at`

// ClaimNext atomically claims the oldest AVAILABLE job (smallest id — ids are
// time-sortable, so this is FIFO by arrival) and returns it with status
// ACTIVE. An empty source claims across all sources. Returns (nil, nil) when
// nothing is available.
//
// Selection and transition happen in one statement: the subselect locks the
// winning row and SKIP LOCKED makes concurrent claimers pass over each
// other's candidates, so no two callers ever receive the same job.
func (s *Store) ClaimNext(ctx context.Context, source string) (*Job, error) {
	var row pgx.Row
	if source == "" {
		row = s.pool.QueryRow(ctx, claimAnySQL)
	} else {
		row = s.pool.QueryRow(ctx, claimSourceSQL, source)
	}
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // nothing available
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job (source=%q): %w", source, err)
	}
	return j, nil
}

// GetActiveBySourceAndID returns the job with the given (source, id) only
// while its status is ACTIVE; (nil, nil) before claim, after completion, or
// when no such job exists.
func (s *Store) GetActiveBySourceAndID(ctx context.Context, source, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE id = $1 AND source = $2 AND status = 'ACTIVE'`,
		id, source,
	)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active job %s: %w", id, err)
	}
	return j, nil
}

// ReadByID returns the job with the given id regardless of status, or
// (nil, nil) if it does not exist.
func (s *Store) ReadByID(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", id, err)
	}
	return j, nil
}

// ListParams are the optional filters for ListJobs.
type ListParams struct {
	Source *string
	Status *Status
}

// ListJobs returns jobs ordered by id ascending (creation order), optionally
// filtered by source and status.
func (s *Store) ListJobs(ctx context.Context, p ListParams) ([]Job, error) {
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	sb := psql.Select(jobColumns).From("jobs").OrderBy("id ASC")
	if p.Source != nil {
		sb = sb.Where(sq.Eq{"source": *p.Source})
	}
	if p.Status != nil {
		sb = sb.Where(sq.Eq{"status": string(*p.Status)})
	}

	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list jobs: build query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Status, &j.Source, &j.Document,
			&j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list jobs: scan: %w", err)
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

// ReadAll returns every job ordered by id ascending.
func (s *Store) ReadAll(ctx context.Context) ([]Job, error) {
	return s.ListJobs(ctx, ListParams{})
}

// MarkDone sets status = DONE for the job matching (id, source). Returns
// false when no row matches. The update is unconditional on the
// prior status: completing an already-DONE job is an idempotent no-op that
// still reports true as long as the row exists.
func (s *Store) MarkDone(ctx context.Context, source, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'DONE', updated_at = now()
		WHERE id = $1 AND source = $2`,
		id, source,
	)
	if err != nil {
		return false, fmt.Errorf("mark job %s done: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountByStatus returns the number of jobs per lifecycle state. States with
// no jobs are present with a zero count.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	counts := map[Status]int64{
		StatusAvailable: 0,
		StatusActive:    0,
		StatusDone:      0,
	}
	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st Status
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("count jobs by status: scan: %w", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// DeleteAll removes every job. Administrative reset for test isolation only —
// nothing in the serving path deletes rows.
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM jobs`); err != nil {
		return fmt.Errorf("delete all jobs: %w", err)
	}
	return nil
}
