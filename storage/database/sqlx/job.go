package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/kickoff/core/job"
)

const jobColumns = `id, kind, dedupe_key, payload, status, run_at, attempts, last_error, version, locked_until, created_at, updated_at`

type jobRow struct {
	ID          string      `db:"id"`
	Kind        string      `db:"kind"`
	DedupeKey   null.String `db:"dedupe_key"`
	Payload     string      `db:"payload"` // pq would encode []byte as bytea
	Status      string      `db:"status"`
	RunAt       time.Time   `db:"run_at"`
	Attempts    int         `db:"attempts"`
	LastError   string      `db:"last_error"`
	Version     int         `db:"version"`
	LockedUntil null.Time   `db:"locked_until"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

func toJobRow(j job.Job) jobRow {
	payload := string(j.Payload)
	if payload == "" {
		payload = "{}"
	}
	return jobRow{
		ID:          j.ID,
		Kind:        j.Kind,
		DedupeKey:   null.NewString(j.DedupeKey, j.DedupeKey != ""),
		Payload:     payload,
		Status:      j.Status,
		RunAt:       j.RunAt.UTC(),
		Attempts:    j.Attempts,
		LastError:   j.LastError,
		Version:     j.Version,
		LockedUntil: null.NewTime(j.LockedUntil.UTC(), !j.LockedUntil.IsZero()),
		CreatedAt:   j.CreatedAt.UTC(),
		UpdatedAt:   j.UpdatedAt.UTC(),
	}
}

func (r jobRow) job() job.Job {
	j := job.Job{
		ID:        r.ID,
		Kind:      r.Kind,
		DedupeKey: r.DedupeKey.String,
		Payload:   json.RawMessage(r.Payload),
		Status:    r.Status,
		RunAt:     r.RunAt.UTC(),
		Attempts:  r.Attempts,
		LastError: r.LastError,
		Version:   r.Version,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.LockedUntil.Valid {
		j.LockedUntil = r.LockedUntil.Time.UTC()
	}
	return j
}

type jobRepository struct {
	db sqlx.ExtContext
}

var _ job.Repository = (*jobRepository)(nil)

func NewJobRepository(db sqlx.ExtContext) job.Repository {
	return &jobRepository{db: db}
}

func (repo jobRepository) CreateJob(ctx context.Context, j job.Job) (job.Job, error) {
	j.ID = uuid.NewString()
	if j.Version == 0 {
		j.Version = 1
	}
	q := `INSERT INTO job (` + jobColumns + `)
		VALUES (:id, :kind, :dedupe_key, :payload, :status, :run_at, :attempts, :last_error, :version,
			:locked_until, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, toJobRow(j)); err != nil {
		if pqErrorCode(err) == uniqueViolation {
			return job.Job{}, job.ErrDuplicate
		}
		return job.Job{}, errors.Wrap(err, "inserting job")
	}
	return j, nil
}

func (repo jobRepository) DueJobs(ctx context.Context, now time.Time, limit int) ([]job.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM job
		WHERE (status = $1 AND run_at <= $3) OR (status = $2 AND locked_until <= $3)
		ORDER BY run_at ASC, created_at ASC
		LIMIT $4`
	var rows []jobRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, job.StatusPending, job.StatusRunning, now.UTC(), limit); err != nil {
		return nil, errors.Wrap(err, "querying due jobs")
	}
	return jobsFromRows(rows), nil
}

func (repo jobRepository) UpdateJob(ctx context.Context, j job.Job) (job.Job, error) {
	q := `UPDATE job SET status = :status, run_at = :run_at, attempts = :attempts, last_error = :last_error,
		locked_until = :locked_until, updated_at = :updated_at, version = version + 1
		WHERE id = :id AND version = :version`
	res, err := sqlx.NamedExecContext(ctx, repo.db, q, toJobRow(j))
	if err != nil {
		if pqErrorCode(err) == uniqueViolation {
			return job.Job{}, job.ErrDuplicate
		}
		return job.Job{}, errors.Wrap(err, "updating job")
	}
	n, err := rowsAffected(res)
	if err != nil {
		return job.Job{}, errors.Wrap(err, "updating job")
	}
	if n == 0 {
		var found bool
		if err = sqlx.GetContext(ctx, repo.db, &found, `SELECT EXISTS (SELECT 1 FROM job WHERE id = $1)`, j.ID); err != nil {
			return job.Job{}, errors.Wrap(err, "checking job")
		}
		if !found {
			return job.Job{}, job.ErrNotFound
		}
		return job.Job{}, job.ErrConflict
	}
	j.Version++
	return j, nil
}

func (repo jobRepository) QueryJobs(ctx context.Context, filter job.QueryFilter) ([]job.Job, error) {
	var w where
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	if filter.Kind != "" {
		w.add("kind = ?", filter.Kind)
	}
	q := `SELECT ` + jobColumns + ` FROM job` + w.String() + ` ORDER BY updated_at DESC`
	args := w.args
	if filter.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []jobRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying jobs")
	}
	return jobsFromRows(rows), nil
}

func (repo jobRepository) GetJob(ctx context.Context, id string) (job.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return job.Job{}, job.ErrNotFound
	}
	var r jobRow
	if err := sqlx.GetContext(ctx, repo.db, &r, `SELECT `+jobColumns+` FROM job WHERE id = $1`, id); err != nil {
		return job.Job{}, trapNoRowsErr(err, job.ErrNotFound, "getting job")
	}
	return r.job(), nil
}

func jobsFromRows(rows []jobRow) []job.Job {
	jobs := make([]job.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.job())
	}
	return jobs
}
