package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core"
)

const defaultQueryLimit = 100

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound = errors.New("job not found")
	// ErrConflict is returned when a job changed since it was read (version mismatch).
	ErrConflict = errors.New("job was modified concurrently")
	// ErrDuplicate is returned when a pending job already has the dedupe key.
	ErrDuplicate = errors.New("a pending job with this key already exists")
)

type (
	Repository interface {
		// CreateJob returns ErrDuplicate when a pending job has the same non-empty DedupeKey.
		CreateJob(ctx context.Context, j Job) (Job, error)
		// DueJobs returns up to limit jobs that are pending with RunAt <= now, or running
		// with an expired lock, oldest RunAt first.
		DueJobs(ctx context.Context, now time.Time, limit int) ([]Job, error)
		// UpdateJob saves j if its stored version still equals j.Version and increments the version.
		// ErrConflict is returned otherwise, ErrDuplicate if j becomes pending while another pending job has its DedupeKey.
		UpdateJob(ctx context.Context, j Job) (Job, error)
		// QueryJobs returns the most recently updated jobs first.
		QueryJobs(ctx context.Context, filter QueryFilter) ([]Job, error)
		GetJob(ctx context.Context, id string) (Job, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Enqueue stores a pending job. ErrDuplicate is returned when nj.DedupeKey is taken by a pending job.
func (svc *Service) Enqueue(ctx context.Context, nj NewJob) (Job, error) {
	payload := json.RawMessage("{}")
	if nj.Payload != nil {
		var err error
		if payload, err = json.Marshal(nj.Payload); err != nil {
			return Job{}, errors.Wrap(err, "encoding job payload")
		}
	}

	now := NowFunc().UTC()
	j := Job{
		Kind:      nj.Kind,
		DedupeKey: nj.DedupeKey,
		Payload:   payload,
		Status:    StatusPending,
		RunAt:     nj.RunAt.UTC(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if nj.RunAt.IsZero() {
		j.RunAt = now
	}
	return svc.repo.CreateJob(ctx, j)
}

// EnsureScheduled enqueues a recurring job under its kind as dedupe key unless one is already pending.
func (svc *Service) EnsureScheduled(ctx context.Context, kind string, runAt time.Time) error {
	_, err := svc.Enqueue(ctx, NewJob{Kind: kind, DedupeKey: kind, RunAt: runAt})
	if err != nil && errors.Cause(err) != ErrDuplicate {
		return err
	}
	return nil
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Job, error) {
	filter.Status = core.CleanString(filter.Status, true /* lower */)
	filter.Kind = core.CleanString(filter.Kind)
	if filter.Limit <= 0 || filter.Limit > defaultQueryLimit {
		filter.Limit = defaultQueryLimit
	}
	return svc.repo.QueryJobs(ctx, filter)
}

func (svc *Service) Get(ctx context.Context, id string) (Job, error) {
	return svc.repo.GetJob(ctx, id)
}

// Retry puts a dead job back in the queue with a fresh attempt budget.
func (svc *Service) Retry(ctx context.Context, id string) (Job, error) {
	j, err := svc.repo.GetJob(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if j.Status != StatusDead {
		return Job{}, core.NewFieldError("status", "only dead jobs can be retried")
	}
	now := NowFunc().UTC()
	j.Status = StatusPending
	j.Attempts = 0
	j.RunAt = now
	j.LockedUntil = time.Time{}
	j.UpdatedAt = now
	return svc.repo.UpdateJob(ctx, j)
}
